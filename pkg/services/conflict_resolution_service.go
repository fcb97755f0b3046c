// Package services contains the business rules of the reconciliation engine:
// conflict resolution, escalation authorization and audit logging. Stores are
// consumed through the repository contracts; services own no persistence.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/auth"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/models"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/observability"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/repository"
)

// MinOverrideReasonLength is the default minimum justification length for
// overrides; deployments tune it through ServiceConfig
const MinOverrideReasonLength = 20

// ManualResolutionFieldLimit is the conflict-field count past which automatic
// resolution is considered too complex and MANUAL is suggested.
const ManualResolutionFieldLimit = 5

// ServiceConfig provides common configuration for services
type ServiceConfig struct {
	Logger  observability.Logger
	Metrics observability.MetricsClient

	// MinOverrideReasonLength overrides the default justification length
	// requirement when positive
	MinOverrideReasonLength int
}

// Notifier is the fire-and-forget notification collaborator. Delivery is
// someone else's problem; failures are not surfaced to the engine.
type Notifier interface {
	Notify(ctx context.Context, event string, payload map[string]interface{})
}

// NoopNotifier discards notifications
type NoopNotifier struct{}

// Notify implements Notifier
func (NoopNotifier) Notify(context.Context, string, map[string]interface{}) {}

// ResolveRequest carries one resolution attempt
type ResolveRequest struct {
	ConflictID        uuid.UUID
	Strategy          models.ResolutionStrategy
	OverrideData      models.JSONMap
	ActorID           string
	ActorRole         auth.Role
	Justification     string
	EmergencyOverride bool
}

// overrideRequested reports whether the attempt is an out-of-band override
func (r ResolveRequest) overrideRequested() bool {
	return r.EmergencyOverride || len(r.OverrideData) > 0
}

// ResolveResult is the outcome of a successful resolution
type ResolveResult struct {
	Conflict        *models.Conflict
	FinalVersion    models.JSONMap
	OverrideApplied bool
	AuditEntryID    uuid.UUID
	EscalationTier  EscalationTier
}

// EntityConflictAudit is one conflict's history in an entity audit report
type EntityConflictAudit struct {
	ConflictID         uuid.UUID                  `json:"conflictId"`
	Severity           models.ConflictSeverity   `json:"severity"`
	ConflictType       models.ConflictType       `json:"conflictType"`
	Status             models.ConflictStatus     `json:"status"`
	DetectedAt         time.Time                  `json:"detectedAt"`
	ResolvedAt         *time.Time                 `json:"resolvedAt,omitempty"`
	ResolutionStrategy *models.ResolutionStrategy `json:"resolutionStrategy,omitempty"`
	ResolvedBy         *string                    `json:"resolvedBy,omitempty"`
	AuditTrail         []models.AuditEntry        `json:"auditTrail"`
}

// EntityAuditReport is the full conflict history of one entity
type EntityAuditReport struct {
	EntityID   string                `json:"entityId"`
	EntityType string                `json:"entityType,omitempty"`
	Conflicts  []EntityConflictAudit `json:"conflicts"`
	Summary    models.ConflictStats  `json:"summary"`
}

// ConflictService orchestrates conflict detection and resolution
type ConflictService interface {
	RecordConflict(ctx context.Context, conflict *models.Conflict) error
	DetectAndRecord(ctx context.Context, entityID, entityType string, local, server models.JSONMap, cause models.ConflictType) (*models.Conflict, error)
	GetConflict(ctx context.Context, id uuid.UUID) (*models.Conflict, error)
	ListConflicts(ctx context.Context, filter models.ConflictFilter, page repository.Page) ([]*models.Conflict, int, error)
	GetStats(ctx context.Context, filter models.ConflictFilter) (*models.ConflictStats, error)
	SuggestResolution(conflict *models.Conflict) models.ResolutionStrategy
	Resolve(ctx context.Context, req ResolveRequest) (*ResolveResult, error)
	EntityAudit(ctx context.Context, entityID string) (*EntityAuditReport, error)
}

type conflictService struct {
	config     ServiceConfig
	store      repository.ConflictStore
	authorizer *EscalationAuthorizer
	audit      *AuditLogger
	notifier   Notifier
	minReason  int
	nowFn      func() time.Time
}

// NewConflictService creates the conflict resolution service
func NewConflictService(config ServiceConfig, store repository.ConflictStore, authorizer *EscalationAuthorizer, audit *AuditLogger, notifier Notifier) ConflictService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	minReason := config.MinOverrideReasonLength
	if minReason <= 0 {
		minReason = MinOverrideReasonLength
	}
	return &conflictService{
		config:     config,
		store:      store,
		authorizer: authorizer,
		audit:      audit,
		notifier:   notifier,
		minReason:  minReason,
		nowFn:      time.Now,
	}
}

func (s *conflictService) RecordConflict(ctx context.Context, conflict *models.Conflict) error {
	if conflict.ID == uuid.Nil {
		conflict.ID = uuid.New()
	}
	if conflict.DetectedAt.IsZero() {
		conflict.DetectedAt = s.nowFn()
	}
	conflict.Status = models.ConflictStatusPending

	detected := s.audit.NewEntry(conflict.ID, models.AuditActionConflictDetected, "system", models.JSONMap{
		"conflictType":   conflict.ConflictType,
		"severity":       conflict.Severity,
		"conflictFields": []string(conflict.ConflictFields),
	})
	conflict.AuditTrail = append(conflict.AuditTrail, detected)

	if err := s.store.CreateConflict(ctx, conflict); err != nil {
		return errors.Wrap(err, "failed to create conflict")
	}

	s.config.Logger.Info("Conflict recorded", map[string]interface{}{
		"conflict_id": conflict.ID,
		"entity_id":   conflict.EntityID,
		"entity_type": conflict.EntityType,
		"severity":    conflict.Severity,
		"fields":      len(conflict.ConflictFields),
	})
	s.config.Metrics.IncrementCounterWithLabels("conflicts.detected", 1, map[string]string{
		"severity": string(conflict.Severity),
		"type":     string(conflict.ConflictType),
	})

	if conflict.Severity == models.SeverityCritical {
		s.notifier.Notify(ctx, "conflict.critical.detected", map[string]interface{}{
			"conflictId": conflict.ID.String(),
			"entityId":   conflict.EntityID,
			"entityType": conflict.EntityType,
		})
	}

	return nil
}

func (s *conflictService) DetectAndRecord(ctx context.Context, entityID, entityType string, local, server models.JSONMap, cause models.ConflictType) (*models.Conflict, error) {
	if entityID == "" {
		return nil, ValidationError{Field: "entityId", Message: "entity id is required"}
	}

	conflict := NewConflict(entityID, entityType, local, server, cause, s.nowFn())
	if err := s.RecordConflict(ctx, conflict); err != nil {
		return nil, err
	}
	return conflict, nil
}

func (s *conflictService) GetConflict(ctx context.Context, id uuid.UUID) (*models.Conflict, error) {
	conflict, err := s.store.GetConflict(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrConflictNotFound
		}
		return nil, errors.Wrap(err, "failed to get conflict")
	}
	return conflict, nil
}

func (s *conflictService) ListConflicts(ctx context.Context, filter models.ConflictFilter, page repository.Page) ([]*models.Conflict, int, error) {
	return s.store.ListConflicts(ctx, filter, page)
}

func (s *conflictService) GetStats(ctx context.Context, filter models.ConflictFilter) (*models.ConflictStats, error) {
	return s.store.GetConflictStats(ctx, filter)
}

// SuggestResolution is advisory only; it never gates what a caller may do.
func (s *conflictService) SuggestResolution(conflict *models.Conflict) models.ResolutionStrategy {
	// Too many divergent fields for automatic resolution, regardless of severity
	if len(conflict.ConflictFields) > ManualResolutionFieldLimit {
		return models.ResolutionManual
	}

	switch conflict.Severity {
	case models.SeverityCritical:
		return models.ResolutionManual
	case models.SeverityHigh:
		if conflict.ConflictType == models.ConflictTypeConcurrentEdit {
			return models.ResolutionMerge
		}
		return models.ResolutionServerWins
	case models.SeverityMedium:
		return models.ResolutionMerge
	default:
		return models.ResolutionServerWins
	}
}

func (s *conflictService) Resolve(ctx context.Context, req ResolveRequest) (*ResolveResult, error) {
	if err := s.validateResolveRequest(req); err != nil {
		return nil, err
	}

	conflict, err := s.GetConflict(ctx, req.ConflictID)
	if err != nil {
		return nil, err
	}

	if conflict.Status != models.ConflictStatusPending {
		return nil, ErrAlreadyResolved
	}

	// Authorization is re-evaluated on every attempt; the authorizer keeps no
	// memory of prior decisions.
	decision := s.authorizer.Authorize(conflict.Severity, req.ActorRole, req.EmergencyOverride)
	if !decision.Allowed {
		s.config.Metrics.IncrementCounterWithLabels("conflicts.resolution.forbidden", 1, map[string]string{
			"severity": string(conflict.Severity),
			"role":     string(req.ActorRole),
		})
		return nil, ForbiddenError{
			Action:       "resolve conflict",
			RequiredRole: decision.RequiredRole,
			Reason:       fmt.Sprintf("%s severity requires escalation tier %s", conflict.Severity, decision.Tier),
		}
	}

	now := s.nowFn()
	finalVersion := computeFinalVersion(conflict, req)
	overrideApplied := req.overrideRequested()

	resolvedEntry := s.audit.NewEntry(conflict.ID, models.AuditActionConflictResolved, req.ActorID, models.JSONMap{
		"strategy":       req.Strategy,
		"severity":       conflict.Severity,
		"conflictFields": []string(conflict.ConflictFields),
	})
	auditEntries := []models.AuditEntry{resolvedEntry}

	if overrideApplied {
		auditEntries = append(auditEntries, s.audit.NewEntry(conflict.ID, models.AuditActionCoordinatorOverride, req.ActorID, models.JSONMap{
			"escalationTier": decision.Tier,
			"role":           req.ActorRole,
			"justification":  req.Justification,
			"emergency":      req.EmergencyOverride,
		}))
	}

	resolved, err := s.store.MarkResolved(ctx, conflict.ID, repository.Resolution{
		Strategy:     req.Strategy,
		ResolvedBy:   req.ActorID,
		ResolvedAt:   now,
		AuditEntries: auditEntries,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrConflictResolved):
			return nil, ErrAlreadyResolved
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrConflictNotFound
		}
		return nil, errors.Wrap(err, "failed to mark conflict resolved")
	}

	s.config.Logger.Info("Conflict resolved", map[string]interface{}{
		"conflict_id": conflict.ID,
		"entity_id":   conflict.EntityID,
		"strategy":    req.Strategy,
		"resolved_by": req.ActorID,
		"override":    overrideApplied,
		"tier":        decision.Tier,
	})
	s.config.Metrics.IncrementCounterWithLabels("conflicts.resolved", 1, map[string]string{
		"strategy": string(req.Strategy),
		"severity": string(conflict.Severity),
	})

	s.notifier.Notify(ctx, "conflict.resolved", map[string]interface{}{
		"conflictId": conflict.ID.String(),
		"entityId":   conflict.EntityID,
		"strategy":   string(req.Strategy),
	})

	return &ResolveResult{
		Conflict:        resolved,
		FinalVersion:    finalVersion,
		OverrideApplied: overrideApplied,
		AuditEntryID:    resolvedEntry.ID,
		EscalationTier:  decision.Tier,
	}, nil
}

func (s *conflictService) EntityAudit(ctx context.Context, entityID string) (*EntityAuditReport, error) {
	if entityID == "" {
		return nil, ValidationError{Field: "entityId", Message: "entity id is required"}
	}

	conflicts, err := s.store.GetConflictsByEntity(ctx, entityID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load entity conflicts")
	}

	report := &EntityAuditReport{
		EntityID:  entityID,
		Conflicts: make([]EntityConflictAudit, 0, len(conflicts)),
	}

	var resolutionMinutes float64
	var resolvedCount int

	for _, c := range conflicts {
		trail, err := s.store.GetAuditTrail(ctx, c.ID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load audit trail")
		}

		report.EntityType = c.EntityType
		report.Conflicts = append(report.Conflicts, EntityConflictAudit{
			ConflictID:         c.ID,
			Severity:           c.Severity,
			ConflictType:       c.ConflictType,
			Status:             c.Status,
			DetectedAt:         c.DetectedAt,
			ResolvedAt:         c.ResolvedAt,
			ResolutionStrategy: c.ResolutionStrategy,
			ResolvedBy:         c.ResolvedBy,
			AuditTrail:         trail,
		})

		report.Summary.TotalConflicts++
		if c.Severity == models.SeverityCritical {
			report.Summary.CriticalConflicts++
		}
		if c.IsResolved() {
			report.Summary.ResolvedConflicts++
			if c.ResolvedAt != nil {
				resolutionMinutes += c.ResolvedAt.Sub(c.DetectedAt).Minutes()
				resolvedCount++
			}
		} else {
			report.Summary.PendingConflicts++
		}
		if report.Summary.LastConflictDate == nil || c.DetectedAt.After(*report.Summary.LastConflictDate) {
			detected := c.DetectedAt
			report.Summary.LastConflictDate = &detected
		}
	}

	if resolvedCount > 0 {
		avg := resolutionMinutes / float64(resolvedCount)
		report.Summary.AverageResolutionTime = &avg
	}

	return report, nil
}

// computeFinalVersion applies the resolution strategy to the two snapshots
func computeFinalVersion(conflict *models.Conflict, req ResolveRequest) models.JSONMap {
	switch req.Strategy {
	case models.ResolutionLocalWins:
		return conflict.LocalVersion.Clone()
	case models.ResolutionServerWins:
		return conflict.ServerVersion.Clone()
	case models.ResolutionMerge:
		// Shallow merge, local fields take precedence; server fields are
		// retained where local does not specify them.
		merged := conflict.ServerVersion.Clone()
		if merged == nil {
			merged = models.JSONMap{}
		}
		for k, v := range conflict.LocalVersion {
			merged[k] = v
		}
		return merged
	case models.ResolutionManual:
		if len(req.OverrideData) > 0 {
			return req.OverrideData.Clone()
		}
		return conflict.ServerVersion.Clone()
	default:
		return nil
	}
}

func (s *conflictService) validateResolveRequest(req ResolveRequest) error {
	if req.ConflictID == uuid.Nil {
		return ValidationError{Field: "conflictId", Message: "conflict id is required"}
	}
	if !req.Strategy.Valid() {
		return ValidationError{Field: "resolutionStrategy", Message: fmt.Sprintf("unknown strategy %q", req.Strategy)}
	}
	if req.ActorID == "" {
		return ValidationError{Field: "coordinatorId", Message: "actor id is required"}
	}
	if !req.ActorRole.Valid() {
		return ValidationError{Field: "coordinatorRole", Message: fmt.Sprintf("unknown role %q", req.ActorRole)}
	}
	if req.overrideRequested() && len(req.Justification) < s.minReason {
		return ValidationError{
			Field:   "overrideReason",
			Message: fmt.Sprintf("override justification must be at least %d characters", s.minReason),
		}
	}
	return nil
}
