package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/auth"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/models"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/observability"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/repository"
)

type capturedEvent struct {
	Event   string
	Payload map[string]interface{}
}

type captureNotifier struct {
	events []capturedEvent
}

func (n *captureNotifier) Notify(_ context.Context, event string, payload map[string]interface{}) {
	n.events = append(n.events, capturedEvent{Event: event, Payload: payload})
}

func newTestService(t *testing.T) (ConflictService, *repository.MemoryConflictStore, *captureNotifier) {
	t.Helper()

	store := repository.NewMemoryConflictStore()
	notifier := &captureNotifier{}
	config := ServiceConfig{
		Logger:  observability.NewNoopLogger(),
		Metrics: observability.NewNoopMetricsClient(),
	}
	audit := NewAuditLogger(store, config.Logger)
	svc := NewConflictService(config, store, NewEscalationAuthorizer(), audit, notifier)
	return svc, store, notifier
}

func seedConflict(t *testing.T, svc ConflictService, severity models.ConflictSeverity, conflictType models.ConflictType, local, server models.JSONMap) *models.Conflict {
	t.Helper()

	conflict := &models.Conflict{
		EntityID:       "entity-1",
		EntityType:     "ASSESSMENT",
		LocalVersion:   local,
		ServerVersion:  server,
		ConflictFields: models.StringArray(DiffFields(local, server)),
		ConflictType:   conflictType,
		Severity:       severity,
	}
	require.NoError(t, svc.RecordConflict(context.Background(), conflict))
	return conflict
}

func TestResolveLocalWins(t *testing.T) {
	svc, _, _ := newTestService(t)
	local := models.JSONMap{"status": "VERIFIED", "notes": "field team"}
	server := models.JSONMap{"status": "DRAFT", "notes": "hq"}
	conflict := seedConflict(t, svc, models.SeverityLow, models.ConflictTypeConcurrentEdit, local, server)

	result, err := svc.Resolve(context.Background(), ResolveRequest{
		ConflictID: conflict.ID,
		Strategy:   models.ResolutionLocalWins,
		ActorID:    "coord-1",
		ActorRole:  auth.RoleCoordinator,
	})
	require.NoError(t, err)

	assert.Equal(t, local, result.FinalVersion)
	assert.Equal(t, models.ConflictStatusResolved, result.Conflict.Status)
	require.NotNil(t, result.Conflict.ResolutionStrategy)
	assert.Equal(t, models.ResolutionLocalWins, *result.Conflict.ResolutionStrategy)
	require.NotNil(t, result.Conflict.ResolvedBy)
	assert.Equal(t, "coord-1", *result.Conflict.ResolvedBy)
	assert.False(t, result.OverrideApplied)
	assert.Equal(t, TierStandard, result.EscalationTier)
}

func TestResolveServerWins(t *testing.T) {
	svc, _, _ := newTestService(t)
	local := models.JSONMap{"status": "VERIFIED"}
	server := models.JSONMap{"status": "DRAFT"}
	conflict := seedConflict(t, svc, models.SeverityLow, models.ConflictTypeTimestamp, local, server)

	result, err := svc.Resolve(context.Background(), ResolveRequest{
		ConflictID: conflict.ID,
		Strategy:   models.ResolutionServerWins,
		ActorID:    "coord-1",
		ActorRole:  auth.RoleCoordinator,
	})
	require.NoError(t, err)
	assert.Equal(t, server, result.FinalVersion)
}

func TestResolveMergeLocalPrecedence(t *testing.T) {
	svc, _, _ := newTestService(t)
	local := models.JSONMap{"a": float64(1), "b": float64(2)}
	server := models.JSONMap{"a": float64(9), "c": float64(3)}
	conflict := seedConflict(t, svc, models.SeverityMedium, models.ConflictTypeConcurrentEdit, local, server)

	result, err := svc.Resolve(context.Background(), ResolveRequest{
		ConflictID: conflict.ID,
		Strategy:   models.ResolutionMerge,
		ActorID:    "coord-1",
		ActorRole:  auth.RoleCoordinator,
	})
	require.NoError(t, err)
	assert.Equal(t, models.JSONMap{"a": float64(1), "b": float64(2), "c": float64(3)}, result.FinalVersion)
}

func TestResolveManualUsesOverrideData(t *testing.T) {
	svc, _, _ := newTestService(t)
	conflict := seedConflict(t, svc, models.SeverityLow, models.ConflictTypeConcurrentEdit,
		models.JSONMap{"status": "A"}, models.JSONMap{"status": "B"})

	override := models.JSONMap{"status": "REVIEWED", "reviewer": "coord-1"}
	result, err := svc.Resolve(context.Background(), ResolveRequest{
		ConflictID:    conflict.ID,
		Strategy:      models.ResolutionManual,
		OverrideData:  override,
		ActorID:       "coord-1",
		ActorRole:     auth.RoleCoordinator,
		Justification: "field assessment verified on site by team lead",
	})
	require.NoError(t, err)
	assert.Equal(t, override, result.FinalVersion)
	assert.True(t, result.OverrideApplied)
}

func TestResolveManualWithoutOverrideFallsBackToServer(t *testing.T) {
	svc, _, _ := newTestService(t)
	server := models.JSONMap{"status": "B"}
	conflict := seedConflict(t, svc, models.SeverityLow, models.ConflictTypeConcurrentEdit,
		models.JSONMap{"status": "A"}, server)

	result, err := svc.Resolve(context.Background(), ResolveRequest{
		ConflictID: conflict.ID,
		Strategy:   models.ResolutionManual,
		ActorID:    "coord-1",
		ActorRole:  auth.RoleCoordinator,
	})
	require.NoError(t, err)
	assert.Equal(t, server, result.FinalVersion)
	assert.False(t, result.OverrideApplied)
}

func TestResolveTwiceReturnsAlreadyResolved(t *testing.T) {
	svc, _, _ := newTestService(t)
	conflict := seedConflict(t, svc, models.SeverityLow, models.ConflictTypeConcurrentEdit,
		models.JSONMap{"x": float64(1)}, models.JSONMap{"x": float64(2)})

	req := ResolveRequest{
		ConflictID: conflict.ID,
		Strategy:   models.ResolutionServerWins,
		ActorID:    "coord-1",
		ActorRole:  auth.RoleCoordinator,
	}
	_, err := svc.Resolve(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.Resolve(context.Background(), req)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestResolveUnknownConflict(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Resolve(context.Background(), ResolveRequest{
		ConflictID: uuid.New(),
		Strategy:   models.ResolutionServerWins,
		ActorID:    "coord-1",
		ActorRole:  auth.RoleCoordinator,
	})
	assert.ErrorIs(t, err, ErrConflictNotFound)
}

func TestResolveValidatesRequest(t *testing.T) {
	svc, _, _ := newTestService(t)
	conflict := seedConflict(t, svc, models.SeverityLow, models.ConflictTypeConcurrentEdit,
		models.JSONMap{"x": float64(1)}, models.JSONMap{"x": float64(2)})

	tests := []struct {
		name  string
		req   ResolveRequest
		field string
	}{
		{
			name:  "missing conflict id",
			req:   ResolveRequest{Strategy: models.ResolutionMerge, ActorID: "c", ActorRole: auth.RoleCoordinator},
			field: "conflictId",
		},
		{
			name:  "unknown strategy",
			req:   ResolveRequest{ConflictID: conflict.ID, Strategy: "SPLIT_BRAIN", ActorID: "c", ActorRole: auth.RoleCoordinator},
			field: "resolutionStrategy",
		},
		{
			name:  "missing actor",
			req:   ResolveRequest{ConflictID: conflict.ID, Strategy: models.ResolutionMerge, ActorRole: auth.RoleCoordinator},
			field: "coordinatorId",
		},
		{
			name:  "unknown role",
			req:   ResolveRequest{ConflictID: conflict.ID, Strategy: models.ResolutionMerge, ActorID: "c", ActorRole: "observer"},
			field: "coordinatorRole",
		},
		{
			name: "short override justification",
			req: ResolveRequest{
				ConflictID:    conflict.ID,
				Strategy:      models.ResolutionManual,
				OverrideData:  models.JSONMap{"x": float64(9)},
				ActorID:       "c",
				ActorRole:     auth.RoleCoordinator,
				Justification: "too short",
			},
			field: "overrideReason",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Resolve(context.Background(), tt.req)
			var verr ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	// none of the failed attempts touched the record
	got, err := svc.GetConflict(context.Background(), conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConflictStatusPending, got.Status)
}

func TestResolveHonorsConfiguredReasonLength(t *testing.T) {
	store := repository.NewMemoryConflictStore()
	config := ServiceConfig{
		Logger:                  observability.NewNoopLogger(),
		Metrics:                 observability.NewNoopMetricsClient(),
		MinOverrideReasonLength: 40,
	}
	svc := NewConflictService(config, store, NewEscalationAuthorizer(), NewAuditLogger(store, config.Logger), nil)

	conflict := seedConflict(t, svc, models.SeverityLow, models.ConflictTypeConcurrentEdit,
		models.JSONMap{"x": float64(1)}, models.JSONMap{"x": float64(2)})

	req := ResolveRequest{
		ConflictID:    conflict.ID,
		Strategy:      models.ResolutionManual,
		OverrideData:  models.JSONMap{"x": float64(9)},
		ActorID:       "coord-1",
		ActorRole:     auth.RoleCoordinator,
		Justification: "long enough for the default, not here", // 37 chars
	}
	_, err := svc.Resolve(context.Background(), req)
	var verr ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "overrideReason", verr.Field)
	assert.Contains(t, verr.Message, "40")

	req.Justification = "supervisor confirmed field totals against the paper records"
	_, err = svc.Resolve(context.Background(), req)
	assert.NoError(t, err)
}

func TestResolveCriticalRequiresSupervisor(t *testing.T) {
	svc, _, _ := newTestService(t)
	conflict := seedConflict(t, svc, models.SeverityCritical, models.ConflictTypeConcurrentEdit,
		models.JSONMap{"casualties": float64(4)}, models.JSONMap{"casualties": float64(2)})

	_, err := svc.Resolve(context.Background(), ResolveRequest{
		ConflictID: conflict.ID,
		Strategy:   models.ResolutionServerWins,
		ActorID:    "coord-1",
		ActorRole:  auth.RoleCoordinator,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrForbidden)

	var ferr ForbiddenError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, auth.RoleSupervisor, ferr.RequiredRole)

	// the denial left the conflict untouched
	got, err := svc.GetConflict(context.Background(), conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConflictStatusPending, got.Status)
	trail, err := svc.EntityAudit(context.Background(), conflict.EntityID)
	require.NoError(t, err)
	require.Len(t, trail.Conflicts, 1)
	assert.Len(t, trail.Conflicts[0].AuditTrail, 1) // detection entry only
}

func TestResolveCriticalAllowedForSupervisor(t *testing.T) {
	svc, _, _ := newTestService(t)
	conflict := seedConflict(t, svc, models.SeverityCritical, models.ConflictTypeConcurrentEdit,
		models.JSONMap{"severity": "SEVERE"}, models.JSONMap{"severity": "MODERATE"})

	result, err := svc.Resolve(context.Background(), ResolveRequest{
		ConflictID: conflict.ID,
		Strategy:   models.ResolutionLocalWins,
		ActorID:    "super-1",
		ActorRole:  auth.RoleSupervisor,
	})
	require.NoError(t, err)
	assert.Equal(t, TierElevated, result.EscalationTier)
}

func TestEmergencyOverrideIsAdminOnly(t *testing.T) {
	svc, _, _ := newTestService(t)

	for _, role := range []auth.Role{auth.RoleCoordinator, auth.RoleSupervisor} {
		conflict := seedConflict(t, svc, models.SeverityHigh, models.ConflictTypeConcurrentEdit,
			models.JSONMap{"x": float64(1)}, models.JSONMap{"x": float64(2)})

		_, err := svc.Resolve(context.Background(), ResolveRequest{
			ConflictID:        conflict.ID,
			Strategy:          models.ResolutionLocalWins,
			ActorID:           "user-1",
			ActorRole:         role,
			Justification:     "road access cut off, syncing before blackout window",
			EmergencyOverride: true,
		})
		require.Error(t, err, "role %s", role)

		var ferr ForbiddenError
		require.ErrorAs(t, err, &ferr)
		assert.Equal(t, auth.RoleAdmin, ferr.RequiredRole)
	}
}

func TestEmergencyOverrideByAdminRecordsOverrideEntry(t *testing.T) {
	svc, store, notifier := newTestService(t)
	conflict := seedConflict(t, svc, models.SeverityCritical, models.ConflictTypeConcurrentEdit,
		models.JSONMap{"verificationStatus": "VERIFIED"}, models.JSONMap{"verificationStatus": "PENDING"})

	result, err := svc.Resolve(context.Background(), ResolveRequest{
		ConflictID:        conflict.ID,
		Strategy:          models.ResolutionLocalWins,
		ActorID:           "admin-1",
		ActorRole:         auth.RoleAdmin,
		Justification:     "verified on site during emergency response deployment",
		EmergencyOverride: true,
	})
	require.NoError(t, err)
	assert.Equal(t, TierEmergency, result.EscalationTier)
	assert.True(t, result.OverrideApplied)

	trail, err := store.GetAuditTrail(context.Background(), conflict.ID)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, models.AuditActionConflictDetected, trail[0].Action)
	assert.Equal(t, models.AuditActionConflictResolved, trail[1].Action)
	assert.Equal(t, models.AuditActionCoordinatorOverride, trail[2].Action)
	assert.Equal(t, "admin-1", trail[2].PerformedBy)
	assert.Equal(t, string(TierEmergency), string(trail[2].Details["escalationTier"].(EscalationTier)))

	// critical detection plus resolution both notified
	require.Len(t, notifier.events, 2)
	assert.Equal(t, "conflict.critical.detected", notifier.events[0].Event)
	assert.Equal(t, "conflict.resolved", notifier.events[1].Event)
}

func TestSuggestResolution(t *testing.T) {
	svc, _, _ := newTestService(t)

	tests := []struct {
		name     string
		conflict models.Conflict
		want     models.ResolutionStrategy
	}{
		{
			name: "critical always manual",
			conflict: models.Conflict{
				Severity:       models.SeverityCritical,
				ConflictType:   models.ConflictTypeConcurrentEdit,
				ConflictFields: models.StringArray{"casualties"},
			},
			want: models.ResolutionManual,
		},
		{
			name: "more than five fields manual regardless of severity",
			conflict: models.Conflict{
				Severity:       models.SeverityLow,
				ConflictType:   models.ConflictTypeTimestamp,
				ConflictFields: models.StringArray{"a", "b", "c", "d", "e", "f"},
			},
			want: models.ResolutionManual,
		},
		{
			name: "high concurrent edit merges",
			conflict: models.Conflict{
				Severity:       models.SeverityHigh,
				ConflictType:   models.ConflictTypeConcurrentEdit,
				ConflictFields: models.StringArray{"a", "b", "c"},
			},
			want: models.ResolutionMerge,
		},
		{
			name: "high timestamp takes server",
			conflict: models.Conflict{
				Severity:       models.SeverityHigh,
				ConflictType:   models.ConflictTypeTimestamp,
				ConflictFields: models.StringArray{"a", "b", "c"},
			},
			want: models.ResolutionServerWins,
		},
		{
			name: "medium merges",
			conflict: models.Conflict{
				Severity:       models.SeverityMedium,
				ConflictType:   models.ConflictTypeTimestamp,
				ConflictFields: models.StringArray{"a", "b", "c"},
			},
			want: models.ResolutionMerge,
		},
		{
			name: "low takes server",
			conflict: models.Conflict{
				Severity:       models.SeverityLow,
				ConflictType:   models.ConflictTypeConcurrentEdit,
				ConflictFields: models.StringArray{"a"},
			},
			want: models.ResolutionServerWins,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.SuggestResolution(&tt.conflict))
		})
	}
}

func TestDetectAndRecordClassifiesSeverity(t *testing.T) {
	svc, store, _ := newTestService(t)

	conflict, err := svc.DetectAndRecord(context.Background(), "entity-9", "ASSESSMENT",
		models.JSONMap{"casualties": float64(4), "notes": "a"},
		models.JSONMap{"casualties": float64(2), "notes": "b"},
		models.ConflictTypeConcurrentEdit)
	require.NoError(t, err)

	assert.Equal(t, models.SeverityCritical, conflict.Severity)
	assert.Equal(t, models.StringArray{"casualties", "notes"}, conflict.ConflictFields)
	assert.Equal(t, models.ConflictStatusPending, conflict.Status)

	trail, err := store.GetAuditTrail(context.Background(), conflict.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, models.AuditActionConflictDetected, trail[0].Action)
	assert.Equal(t, "system", trail[0].PerformedBy)
}

func TestDetectAndRecordRequiresEntityID(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.DetectAndRecord(context.Background(), "", "ASSESSMENT",
		models.JSONMap{"x": float64(1)}, models.JSONMap{"x": float64(2)}, models.ConflictTypeTimestamp)
	var verr ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "entityId", verr.Field)
}

func TestEntityAuditSummary(t *testing.T) {
	svc, _, _ := newTestService(t)

	first, err := svc.DetectAndRecord(context.Background(), "entity-7", "RESPONSE",
		models.JSONMap{"qty": float64(10)}, models.JSONMap{"qty": float64(8)}, models.ConflictTypeConcurrentEdit)
	require.NoError(t, err)
	_, err = svc.DetectAndRecord(context.Background(), "entity-7", "RESPONSE",
		models.JSONMap{"status": "SENT"}, models.JSONMap{"status": "HELD"}, models.ConflictTypeTimestamp)
	require.NoError(t, err)

	_, err = svc.Resolve(context.Background(), ResolveRequest{
		ConflictID: first.ID,
		Strategy:   models.ResolutionServerWins,
		ActorID:    "coord-1",
		ActorRole:  auth.RoleCoordinator,
	})
	require.NoError(t, err)

	report, err := svc.EntityAudit(context.Background(), "entity-7")
	require.NoError(t, err)

	assert.Equal(t, "entity-7", report.EntityID)
	require.Len(t, report.Conflicts, 2)
	assert.Equal(t, 2, report.Summary.TotalConflicts)
	assert.Equal(t, 1, report.Summary.ResolvedConflicts)
	assert.Equal(t, 1, report.Summary.PendingConflicts)
	require.NotNil(t, report.Summary.AverageResolutionTime)
	require.NotNil(t, report.Summary.LastConflictDate)

	// resolved conflict carries its resolution entry in the trail
	assert.Len(t, report.Conflicts[0].AuditTrail, 2)
	assert.Len(t, report.Conflicts[1].AuditTrail, 1)
}

func TestConcurrentResolveHasOneWinner(t *testing.T) {
	svc, _, _ := newTestService(t)
	conflict := seedConflict(t, svc, models.SeverityLow, models.ConflictTypeConcurrentEdit,
		models.JSONMap{"x": float64(1)}, models.JSONMap{"x": float64(2)})

	const attempts = 8
	results := make(chan error, attempts)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		go func() {
			<-start
			_, err := svc.Resolve(context.Background(), ResolveRequest{
				ConflictID: conflict.ID,
				Strategy:   models.ResolutionServerWins,
				ActorID:    "coord-1",
				ActorRole:  auth.RoleCoordinator,
			})
			results <- err
		}()
	}
	close(start)

	winners := 0
	for i := 0; i < attempts; i++ {
		err := <-results
		if err == nil {
			winners++
			continue
		}
		require.True(t, errors.Is(err, ErrAlreadyResolved), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, winners)
}

func TestResolveStatsReflectResolution(t *testing.T) {
	svc, _, _ := newTestService(t)
	conflict := seedConflict(t, svc, models.SeverityCritical, models.ConflictTypeConcurrentEdit,
		models.JSONMap{"severity": "SEVERE"}, models.JSONMap{"severity": "MODERATE"})

	stats, err := svc.GetStats(context.Background(), models.ConflictFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PendingConflicts)
	assert.Equal(t, 1, stats.CriticalConflicts)

	_, err = svc.Resolve(context.Background(), ResolveRequest{
		ConflictID: conflict.ID,
		Strategy:   models.ResolutionManual,
		ActorID:    "super-1",
		ActorRole:  auth.RoleSupervisor,
	})
	require.NoError(t, err)

	stats, err = svc.GetStats(context.Background(), models.ConflictFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.PendingConflicts)
	assert.Equal(t, 1, stats.ResolvedConflicts)
}

func TestResolveDeadlineRespected(t *testing.T) {
	svc, _, _ := newTestService(t)
	conflict := seedConflict(t, svc, models.SeverityLow, models.ConflictTypeConcurrentEdit,
		models.JSONMap{"x": float64(1)}, models.JSONMap{"x": float64(2)})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := svc.Resolve(ctx, ResolveRequest{
		ConflictID: conflict.ID,
		Strategy:   models.ResolutionServerWins,
		ActorID:    "coord-1",
		ActorRole:  auth.RoleCoordinator,
	})
	require.NoError(t, err)
}
