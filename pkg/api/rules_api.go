package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/auth"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/models"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/observability"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/rules"
)

// RulesAPI handles priority rule listing, creation and activation
type RulesAPI struct {
	registry *rules.Registry
	logger   observability.Logger
}

// NewRulesAPI creates the rules API handler group
func NewRulesAPI(registry *rules.Registry, logger observability.Logger) *RulesAPI {
	return &RulesAPI{
		registry: registry,
		logger:   logger.WithPrefix("rules-api"),
	}
}

// RegisterRoutes mounts the rule endpoints on the router group
func (a *RulesAPI) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/priority-rules")
	{
		group.GET("", a.listRules)
		group.POST("", a.createRule)
		group.PATCH("/:id/active", a.setRuleActive)
	}
}

func (a *RulesAPI) listRules(c *gin.Context) {
	list, err := a.registry.List(c.Request.Context())
	if err != nil {
		respondError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": list})
}

func (a *RulesAPI) createRule(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	// schema validation first so shape errors carry field paths
	if err := rules.ValidateRulePayload(body); err != nil {
		respondError(c, a.logger, err)
		return
	}

	var rule models.PriorityRule
	if err := json.Unmarshal(body, &rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	// the creator is the authenticated caller, never the payload
	rule.CreatedBy = auth.GetUserID(c.Request.Context())
	rule.IsActive = true

	created, err := a.registry.Create(c.Request.Context(), &rule)
	if err != nil {
		respondError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"rule": created})
}

type setActiveBody struct {
	IsActive *bool `json:"isActive" binding:"required"`
}

func (a *RulesAPI) setRuleActive(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id", "field": "id"})
		return
	}

	var body setActiveBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	rule, err := a.registry.SetActive(c.Request.Context(), id, *body.IsActive)
	if err != nil {
		respondError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule": rule})
}
