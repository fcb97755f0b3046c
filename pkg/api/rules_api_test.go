package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/auth"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/models"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/observability"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/repository"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/rules"
)

func newRulesRouter(t *testing.T, quota int) (*gin.Engine, *repository.MemoryRuleStore) {
	t.Helper()

	logger := observability.NewNoopLogger()
	metrics := observability.NewNoopMetricsClient()
	store := repository.NewMemoryRuleStore()
	cfg := rules.DefaultRegistryConfig()
	cfg.MaxRulesPerCreator = quota
	registry := rules.NewRegistry(store, cfg, logger, metrics)

	router := gin.New()
	group := router.Group("/api/v1")
	group.Use(identityMiddleware(auth.Identity{UserID: "coord-1", Role: auth.RoleCoordinator}))
	NewRulesAPI(registry, logger).RegisterRoutes(group)
	return router, store
}

func validRulePayload(name string) gin.H {
	return gin.H{
		"name":             name,
		"entityType":       "ASSESSMENT",
		"priorityModifier": 25,
		"conditions": []gin.H{
			{"field": "data.assessmentType", "operator": "EQUALS", "value": "HEALTH", "modifier": 20},
		},
	}
}

func TestCreateRuleAssignsCreatorFromIdentity(t *testing.T) {
	router, _ := newRulesRouter(t, 10)

	w := doJSON(t, router, http.MethodPost, "/api/v1/priority-rules", validRulePayload("health first"))
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Rule models.PriorityRule `json:"rule"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "coord-1", resp.Rule.CreatedBy)
	assert.True(t, resp.Rule.IsActive)
	assert.NotEmpty(t, resp.Rule.ID)
}

func TestCreateRuleRejectsMalformedPayload(t *testing.T) {
	router, _ := newRulesRouter(t, 10)

	tests := []struct {
		name    string
		payload gin.H
	}{
		{"missing name", gin.H{
			"entityType": "ASSESSMENT", "priorityModifier": 10,
			"conditions": []gin.H{{"field": "data.x", "operator": "EQUALS", "value": "y"}},
		}},
		{"unknown entity type", gin.H{
			"name": "r", "entityType": "INCIDENT", "priorityModifier": 10,
			"conditions": []gin.H{{"field": "data.x", "operator": "EQUALS", "value": "y"}},
		}},
		{"unknown operator", gin.H{
			"name": "r", "entityType": "ASSESSMENT", "priorityModifier": 10,
			"conditions": []gin.H{{"field": "data.x", "operator": "MATCHES", "value": "y"}},
		}},
		{"modifier out of range", gin.H{
			"name": "r", "entityType": "ASSESSMENT", "priorityModifier": 150,
			"conditions": []gin.H{{"field": "data.x", "operator": "EQUALS", "value": "y"}},
		}},
		{"no conditions", gin.H{
			"name": "r", "entityType": "ASSESSMENT", "priorityModifier": 10,
			"conditions": []gin.H{},
		}},
		{"too many conditions", gin.H{
			"name": "r", "entityType": "ASSESSMENT", "priorityModifier": 10,
			"conditions": []gin.H{
				{"field": "a", "operator": "EQUALS", "value": 1},
				{"field": "b", "operator": "EQUALS", "value": 1},
				{"field": "c", "operator": "EQUALS", "value": 1},
				{"field": "d", "operator": "EQUALS", "value": 1},
				{"field": "e", "operator": "EQUALS", "value": 1},
				{"field": "f", "operator": "EQUALS", "value": 1},
			},
		}},
		{"unexpected property", gin.H{
			"name": "r", "entityType": "ASSESSMENT", "priorityModifier": 10, "bogus": true,
			"conditions": []gin.H{{"field": "data.x", "operator": "EQUALS", "value": "y"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, "/api/v1/priority-rules", tt.payload)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestCreateRuleQuotaReturns429(t *testing.T) {
	router, _ := newRulesRouter(t, 2)

	for i := 0; i < 2; i++ {
		w := doJSON(t, router, http.MethodPost, "/api/v1/priority-rules", validRulePayload("rule"))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doJSON(t, router, http.MethodPost, "/api/v1/priority-rules", validRulePayload("one too many"))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "limit")
}

func TestListRulesNewestFirst(t *testing.T) {
	router, _ := newRulesRouter(t, 10)

	for _, name := range []string{"oldest", "middle", "newest"} {
		w := doJSON(t, router, http.MethodPost, "/api/v1/priority-rules", validRulePayload(name))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doJSON(t, router, http.MethodGet, "/api/v1/priority-rules", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Rules []models.PriorityRule `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Rules, 3)
	assert.Equal(t, "newest", resp.Rules[0].Name)
	assert.Equal(t, "oldest", resp.Rules[2].Name)
}

func TestSetRuleActiveEndpoint(t *testing.T) {
	router, _ := newRulesRouter(t, 10)

	w := doJSON(t, router, http.MethodPost, "/api/v1/priority-rules", validRulePayload("toggle me"))
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		Rule models.PriorityRule `json:"rule"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doJSON(t, router, http.MethodPatch, "/api/v1/priority-rules/"+created.Rule.ID.String()+"/active",
		gin.H{"isActive": false})
	require.Equal(t, http.StatusOK, w.Code)

	var toggled struct {
		Rule models.PriorityRule `json:"rule"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &toggled))
	assert.False(t, toggled.Rule.IsActive)

	w = doJSON(t, router, http.MethodPatch, "/api/v1/priority-rules/6a9f2dbd-73d2-4f1a-9d58-55504e4c38a7/active",
		gin.H{"isActive": true})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
