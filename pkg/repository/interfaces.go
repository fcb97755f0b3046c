// Package repository defines the store contracts the reconciliation engine
// depends on, with in-memory, Postgres and Redis implementations. Conflict and
// QueueItem records are exclusively owned by their store; no other component
// mutates them directly.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/models"
)

// Common errors
var (
	ErrNotFound         = errors.New("record not found")
	ErrConflictResolved = errors.New("conflict is not pending")
	ErrDuplicateID      = errors.New("record with this id already exists")
)

// Page is offset pagination for listings
type Page struct {
	Page     int
	PageSize int
}

// Offset returns the row offset for the page
func (p Page) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// ConflictStore holds conflict records keyed by id and by affected-entity id.
// Pure data access, no business rules.
type ConflictStore interface {
	CreateConflict(ctx context.Context, conflict *models.Conflict) error
	GetConflict(ctx context.Context, id uuid.UUID) (*models.Conflict, error)

	// ListConflicts returns one page plus the true pre-pagination count.
	ListConflicts(ctx context.Context, filter models.ConflictFilter, page Page) ([]*models.Conflict, int, error)
	GetConflictsByEntity(ctx context.Context, entityID string) ([]*models.Conflict, error)
	GetPendingConflicts(ctx context.Context, filter models.ConflictFilter) ([]*models.Conflict, error)

	// MarkResolved performs the PENDING -> RESOLVED transition as one logical
	// unit. It returns ErrConflictResolved when the record is no longer
	// PENDING, so concurrent resolution attempts have at most one winner.
	MarkResolved(ctx context.Context, id uuid.UUID, resolution Resolution) (*models.Conflict, error)

	// AppendAuditEntry is the only mutator on an existing conflict's trail.
	AppendAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	GetAuditTrail(ctx context.Context, conflictID uuid.UUID) ([]models.AuditEntry, error)

	// Stats are derived on read, never stored redundantly.
	GetConflictStats(ctx context.Context, filter models.ConflictFilter) (*models.ConflictStats, error)
}

// Resolution is the terminal-state payload applied by MarkResolved. The
// transition and its audit entries commit as one unit so no failure path
// leaves partial state behind.
type Resolution struct {
	Strategy     models.ResolutionStrategy
	ResolvedBy   string
	ResolvedAt   time.Time
	AuditEntries []models.AuditEntry
}

// RuleStore owns PriorityRule records. Rules are append-then-toggle: no
// in-place mutation besides the activity flag.
type RuleStore interface {
	CreateRule(ctx context.Context, rule *models.PriorityRule) error

	// ListRules returns all rules sorted newest-first.
	ListRules(ctx context.Context) ([]*models.PriorityRule, error)

	// ListActiveRulesByType returns active rules scoped to an item type in
	// stable creation order, oldest first.
	ListActiveRulesByType(ctx context.Context, entityType models.QueueItemType) ([]*models.PriorityRule, error)

	SetRuleActive(ctx context.Context, id uuid.UUID, active bool) (*models.PriorityRule, error)

	// CountRulesByCreatorSince supports the per-creator rolling-window quota.
	CountRulesByCreatorSince(ctx context.Context, createdBy string, since time.Time) (int, error)
}

// QueueStore owns pending QueueItem records
type QueueStore interface {
	EnqueueItem(ctx context.Context, item *models.QueueItem) error
	GetQueueItem(ctx context.Context, id string) (*models.QueueItem, error)
	ListQueueItems(ctx context.Context) ([]*models.QueueItem, error)
	UpdateQueueItem(ctx context.Context, item *models.QueueItem) error
	RemoveQueueItem(ctx context.Context, id string) error
}
