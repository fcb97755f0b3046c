package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/models"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/observability"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/repository"
)

// AuditLogger appends immutable, time-ordered entries to a conflict's audit
// trail. Entries are never edited or removed.
type AuditLogger struct {
	store  repository.ConflictStore
	logger observability.Logger
	nowFn  func() time.Time
}

// NewAuditLogger creates an audit logger over the conflict store
func NewAuditLogger(store repository.ConflictStore, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		store:  store,
		logger: logger,
		nowFn:  time.Now,
	}
}

// NewEntry builds an audit entry without persisting it. Used when the entry
// must commit together with another state change.
func (a *AuditLogger) NewEntry(conflictID uuid.UUID, action, performedBy string, details models.JSONMap) models.AuditEntry {
	return models.AuditEntry{
		ID:          uuid.New(),
		ConflictID:  conflictID,
		Timestamp:   a.nowFn(),
		Action:      action,
		PerformedBy: performedBy,
		Details:     details,
	}
}

// Append persists one entry onto a conflict's trail
func (a *AuditLogger) Append(ctx context.Context, conflictID uuid.UUID, action, performedBy string, details models.JSONMap) (*models.AuditEntry, error) {
	entry := a.NewEntry(conflictID, action, performedBy, details)

	if err := a.store.AppendAuditEntry(ctx, &entry); err != nil {
		return nil, errors.Wrap(err, "failed to append audit entry")
	}

	a.logger.Debug("Audit entry appended", map[string]interface{}{
		"conflict_id":  conflictID,
		"action":       action,
		"performed_by": performedBy,
	})

	return &entry, nil
}

// Trail returns a conflict's audit entries in time order
func (a *AuditLogger) Trail(ctx context.Context, conflictID uuid.UUID) ([]models.AuditEntry, error) {
	return a.store.GetAuditTrail(ctx, conflictID)
}
