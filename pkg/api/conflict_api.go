package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/auth"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/models"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/observability"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/repository"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/services"
)

// MaxPageSize caps conflict listing pages
const MaxPageSize = 100

// ConflictAPI handles conflict listing, inspection and resolution
type ConflictAPI struct {
	service         services.ConflictService
	logger          observability.Logger
	metrics         observability.MetricsClient
	maxBatchResolve int
}

// NewConflictAPI creates the conflict API handler group
func NewConflictAPI(service services.ConflictService, logger observability.Logger, metrics observability.MetricsClient, maxBatchResolve int) *ConflictAPI {
	return &ConflictAPI{
		service:         service,
		logger:          logger.WithPrefix("conflict-api"),
		metrics:         metrics,
		maxBatchResolve: maxBatchResolve,
	}
}

// RegisterRoutes mounts the conflict endpoints on the router group
func (a *ConflictAPI) RegisterRoutes(router *gin.RouterGroup) {
	conflicts := router.Group("/conflicts")
	{
		conflicts.GET("", a.listConflicts)
		conflicts.GET("/:id", a.getConflict)
		conflicts.POST("/:id/resolve", a.resolveConflict)
		conflicts.POST("/resolve-batch", a.resolveBatch)
	}
	router.GET("/entities/:entityId/audit", a.entityAudit)
}

func (a *ConflictAPI) listConflicts(c *gin.Context) {
	filter := models.ConflictFilter{
		EntityTypes: splitQueryList(c.Query("entityType")),
	}
	for _, s := range splitQueryList(c.Query("severity")) {
		filter.Severities = append(filter.Severities, models.ConflictSeverity(s))
	}
	for _, s := range splitQueryList(c.Query("status")) {
		filter.Statuses = append(filter.Statuses, models.ConflictStatus(s))
	}

	page := repository.Page{
		Page:     intQuery(c, "page", 1),
		PageSize: intQuery(c, "pageSize", 20),
	}
	if page.Page < 1 {
		page.Page = 1
	}
	if page.PageSize < 1 || page.PageSize > MaxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pageSize must be between 1 and 100", "field": "pageSize"})
		return
	}

	conflicts, total, err := a.service.ListConflicts(c.Request.Context(), filter, page)
	if err != nil {
		respondError(c, a.logger, err)
		return
	}

	stats, err := a.service.GetStats(c.Request.Context(), filter)
	if err != nil {
		respondError(c, a.logger, err)
		return
	}

	totalPages := total / page.PageSize
	if total%page.PageSize != 0 {
		totalPages++
	}

	c.JSON(http.StatusOK, gin.H{
		"conflicts": conflicts,
		"pagination": gin.H{
			"page":       page.Page,
			"pageSize":   page.PageSize,
			"total":      total,
			"totalPages": totalPages,
		},
		"stats": gin.H{
			"totalPending":      stats.PendingConflicts,
			"criticalCount":     stats.CriticalConflicts,
			"avgResolutionTime": stats.AverageResolutionTime,
		},
	})
}

func (a *ConflictAPI) getConflict(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conflict id", "field": "id"})
		return
	}

	conflict, err := a.service.GetConflict(c.Request.Context(), id)
	if err != nil {
		respondError(c, a.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conflict": conflict,
		"versionComparison": gin.H{
			"localVersion":        conflict.LocalVersion,
			"serverVersion":       conflict.ServerVersion,
			"conflictFields":      conflict.ConflictFields,
			"suggestedResolution": a.service.SuggestResolution(conflict),
		},
	})
}

// resolveRequestBody is the wire shape of a resolution attempt. Coordinator
// identity comes from the authenticated caller; the body fields exist for
// wire compatibility and must agree with the token when present.
type resolveRequestBody struct {
	ResolutionStrategy models.ResolutionStrategy `json:"resolutionStrategy" binding:"required"`
	CoordinatorID      string                    `json:"coordinatorId"`
	CoordinatorRole    string                    `json:"coordinatorRole"`
	OverrideData       models.JSONMap            `json:"overrideData"`
	OverrideReason     string                    `json:"overrideReason"`
	EmergencyOverride  bool                      `json:"emergencyOverride"`
}

func (a *ConflictAPI) resolveConflict(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conflict id", "field": "id"})
		return
	}

	var body resolveRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	identity, ok := auth.GetIdentity(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}
	if body.CoordinatorID != "" && body.CoordinatorID != identity.UserID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coordinatorId does not match the authenticated caller", "field": "coordinatorId"})
		return
	}
	if body.CoordinatorRole != "" && body.CoordinatorRole != string(identity.Role) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coordinatorRole does not match the authenticated caller", "field": "coordinatorRole"})
		return
	}

	result, err := a.service.Resolve(c.Request.Context(), services.ResolveRequest{
		ConflictID:        id,
		Strategy:          body.ResolutionStrategy,
		OverrideData:      body.OverrideData,
		ActorID:           identity.UserID,
		ActorRole:         identity.Role,
		Justification:     body.OverrideReason,
		EmergencyOverride: body.EmergencyOverride,
	})
	if err != nil {
		respondError(c, a.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conflictId":       result.Conflict.ID,
		"resolvedEntityId": result.Conflict.EntityID,
		"finalVersion":     result.FinalVersion,
		"overrideApplied":  result.OverrideApplied,
		"auditEntryId":     result.AuditEntryID,
		"escalationLevel":  result.EscalationTier,
	})
}

// batchResolveBody carries up to the configured cap of resolution attempts
type batchResolveBody struct {
	Resolutions []struct {
		ConflictID         uuid.UUID                 `json:"conflictId" binding:"required"`
		ResolutionStrategy models.ResolutionStrategy `json:"resolutionStrategy" binding:"required"`
		OverrideData       models.JSONMap            `json:"overrideData"`
		OverrideReason     string                    `json:"overrideReason"`
	} `json:"resolutions" binding:"required"`
}

func (a *ConflictAPI) resolveBatch(c *gin.Context) {
	var body batchResolveBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if len(body.Resolutions) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resolutions must not be empty", "field": "resolutions"})
		return
	}
	if len(body.Resolutions) > a.maxBatchResolve {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "batch exceeds maximum size",
			"field": "resolutions",
			"limit": a.maxBatchResolve,
		})
		return
	}

	identity, ok := auth.GetIdentity(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	type batchOutcome struct {
		ConflictID uuid.UUID `json:"conflictId"`
		Resolved   bool      `json:"resolved"`
		Error      string    `json:"error,omitempty"`
	}

	outcomes := make([]batchOutcome, 0, len(body.Resolutions))
	succeeded := 0
	for _, r := range body.Resolutions {
		_, err := a.service.Resolve(c.Request.Context(), services.ResolveRequest{
			ConflictID:    r.ConflictID,
			Strategy:      r.ResolutionStrategy,
			OverrideData:  r.OverrideData,
			ActorID:       identity.UserID,
			ActorRole:     identity.Role,
			Justification: r.OverrideReason,
		})
		outcome := batchOutcome{ConflictID: r.ConflictID, Resolved: err == nil}
		if err != nil {
			outcome.Error = err.Error()
		} else {
			succeeded++
		}
		outcomes = append(outcomes, outcome)
	}

	a.metrics.IncrementCounterWithLabels("conflicts.batch_resolve", 1, map[string]string{
		"size": strconv.Itoa(len(body.Resolutions)),
	})

	c.JSON(http.StatusOK, gin.H{
		"results":   outcomes,
		"succeeded": succeeded,
		"failed":    len(outcomes) - succeeded,
	})
}

func (a *ConflictAPI) entityAudit(c *gin.Context) {
	report, err := a.service.EntityAudit(c.Request.Context(), c.Param("entityId"))
	if err != nil {
		respondError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func splitQueryList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
