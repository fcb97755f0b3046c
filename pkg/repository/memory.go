package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/models"
)

// MemoryConflictStore is a mutex-guarded in-memory ConflictStore. Used by
// tests and by single-node deployments that do not need durability.
type MemoryConflictStore struct {
	mu        sync.RWMutex
	conflicts map[uuid.UUID]*models.Conflict
	trails    map[uuid.UUID][]models.AuditEntry
	order     []uuid.UUID
}

// NewMemoryConflictStore creates an empty in-memory conflict store
func NewMemoryConflictStore() *MemoryConflictStore {
	return &MemoryConflictStore{
		conflicts: make(map[uuid.UUID]*models.Conflict),
		trails:    make(map[uuid.UUID][]models.AuditEntry),
	}
}

// CreateConflict stores a new conflict. Any entries already on the record's
// AuditTrail are persisted with it.
func (s *MemoryConflictStore) CreateConflict(_ context.Context, conflict *models.Conflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conflicts[conflict.ID]; ok {
		return ErrDuplicateID
	}

	stored := cloneConflict(conflict)
	s.conflicts[conflict.ID] = stored
	s.order = append(s.order, conflict.ID)
	s.trails[conflict.ID] = append(s.trails[conflict.ID], conflict.AuditTrail...)
	return nil
}

// GetConflict returns the conflict with its audit trail attached
func (s *MemoryConflictStore) GetConflict(_ context.Context, id uuid.UUID) (*models.Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.conflicts[id]
	if !ok {
		return nil, ErrNotFound
	}

	out := cloneConflict(stored)
	out.AuditTrail = append([]models.AuditEntry(nil), s.trails[id]...)
	return out, nil
}

// ListConflicts filters, counts, then paginates. Results are newest-first by
// detection time.
func (s *MemoryConflictStore) ListConflicts(_ context.Context, filter models.ConflictFilter, page Page) ([]*models.Conflict, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.filterLocked(filter)
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].DetectedAt.After(matched[j].DetectedAt)
	})

	total := len(matched)
	if page.PageSize <= 0 {
		return matched, total, nil
	}

	start := page.Offset()
	if start >= total {
		return []*models.Conflict{}, total, nil
	}
	end := start + page.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// GetConflictsByEntity returns every conflict for one entity, oldest first
func (s *MemoryConflictStore) GetConflictsByEntity(_ context.Context, entityID string) ([]*models.Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.filterLocked(models.ConflictFilter{EntityID: entityID})
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].DetectedAt.Before(matched[j].DetectedAt)
	})
	return matched, nil
}

// GetPendingConflicts returns PENDING conflicts matching the filter
func (s *MemoryConflictStore) GetPendingConflicts(_ context.Context, filter models.ConflictFilter) ([]*models.Conflict, error) {
	filter.Statuses = []models.ConflictStatus{models.ConflictStatusPending}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterLocked(filter), nil
}

// MarkResolved transitions PENDING to RESOLVED and appends the resolution's
// audit entries under one lock, so concurrent attempts see exactly one winner
// and failures leave nothing behind.
func (s *MemoryConflictStore) MarkResolved(_ context.Context, id uuid.UUID, resolution Resolution) (*models.Conflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.conflicts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if stored.Status != models.ConflictStatusPending {
		return nil, ErrConflictResolved
	}

	strategy := resolution.Strategy
	resolvedBy := resolution.ResolvedBy
	resolvedAt := resolution.ResolvedAt

	stored.Status = models.ConflictStatusResolved
	stored.ResolutionStrategy = &strategy
	stored.ResolvedBy = &resolvedBy
	stored.ResolvedAt = &resolvedAt
	s.trails[id] = append(s.trails[id], resolution.AuditEntries...)

	out := cloneConflict(stored)
	out.AuditTrail = append([]models.AuditEntry(nil), s.trails[id]...)
	return out, nil
}

// AppendAuditEntry adds one entry to an existing conflict's trail
func (s *MemoryConflictStore) AppendAuditEntry(_ context.Context, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conflicts[entry.ConflictID]; !ok {
		return ErrNotFound
	}
	s.trails[entry.ConflictID] = append(s.trails[entry.ConflictID], *entry)
	return nil
}

// GetAuditTrail returns a conflict's entries in append order
func (s *MemoryConflictStore) GetAuditTrail(_ context.Context, conflictID uuid.UUID) ([]models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.conflicts[conflictID]; !ok {
		return nil, ErrNotFound
	}
	return append([]models.AuditEntry(nil), s.trails[conflictID]...), nil
}

// GetConflictStats derives the aggregate view from matching records
func (s *MemoryConflictStore) GetConflictStats(_ context.Context, filter models.ConflictFilter) (*models.ConflictStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.ConflictStats{}
	var resolutionMinutes float64
	var resolvedTimed int

	for _, c := range s.filterLocked(filter) {
		stats.TotalConflicts++
		if c.Severity == models.SeverityCritical {
			stats.CriticalConflicts++
		}
		if c.IsResolved() {
			stats.ResolvedConflicts++
			if c.ResolvedAt != nil {
				resolutionMinutes += c.ResolvedAt.Sub(c.DetectedAt).Minutes()
				resolvedTimed++
			}
		} else {
			stats.PendingConflicts++
		}
		if stats.LastConflictDate == nil || c.DetectedAt.After(*stats.LastConflictDate) {
			detected := c.DetectedAt
			stats.LastConflictDate = &detected
		}
	}

	if resolvedTimed > 0 {
		avg := resolutionMinutes / float64(resolvedTimed)
		stats.AverageResolutionTime = &avg
	}
	return stats, nil
}

// filterLocked returns clones of conflicts matching the filter, in insertion
// order. Caller must hold at least the read lock.
func (s *MemoryConflictStore) filterLocked(filter models.ConflictFilter) []*models.Conflict {
	var matched []*models.Conflict
	for _, id := range s.order {
		c := s.conflicts[id]
		if conflictMatches(c, filter) {
			matched = append(matched, cloneConflict(c))
		}
	}
	return matched
}

func conflictMatches(c *models.Conflict, filter models.ConflictFilter) bool {
	if filter.EntityID != "" && c.EntityID != filter.EntityID {
		return false
	}
	if len(filter.EntityTypes) > 0 && !containsString(filter.EntityTypes, c.EntityType) {
		return false
	}
	if len(filter.Severities) > 0 {
		ok := false
		for _, sev := range filter.Severities {
			if c.Severity == sev {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(filter.Statuses) > 0 {
		ok := false
		for _, st := range filter.Statuses {
			if c.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func cloneConflict(c *models.Conflict) *models.Conflict {
	out := *c
	out.LocalVersion = c.LocalVersion.Clone()
	out.ServerVersion = c.ServerVersion.Clone()
	out.ConflictFields = append(models.StringArray(nil), c.ConflictFields...)
	out.AuditTrail = nil
	return &out
}

// MemoryRuleStore is a mutex-guarded in-memory RuleStore
type MemoryRuleStore struct {
	mu    sync.RWMutex
	rules []*models.PriorityRule
}

// NewMemoryRuleStore creates an empty in-memory rule store
func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{}
}

// CreateRule appends a new rule
func (s *MemoryRuleStore) CreateRule(_ context.Context, rule *models.PriorityRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rules {
		if r.ID == rule.ID {
			return ErrDuplicateID
		}
	}
	stored := *rule
	s.rules = append(s.rules, &stored)
	return nil
}

// ListRules returns all rules, newest first
func (s *MemoryRuleStore) ListRules(_ context.Context) ([]*models.PriorityRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.PriorityRule, 0, len(s.rules))
	for i := len(s.rules) - 1; i >= 0; i-- {
		r := *s.rules[i]
		out = append(out, &r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ListActiveRulesByType returns active rules for the type in creation order
func (s *MemoryRuleStore) ListActiveRulesByType(_ context.Context, entityType models.QueueItemType) ([]*models.PriorityRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.PriorityRule
	for _, r := range s.rules {
		if r.IsActive && r.EntityType == entityType {
			rule := *r
			out = append(out, &rule)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SetRuleActive toggles a rule's activity flag
func (s *MemoryRuleStore) SetRuleActive(_ context.Context, id uuid.UUID, active bool) (*models.PriorityRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rules {
		if r.ID == id {
			r.IsActive = active
			rule := *r
			return &rule, nil
		}
	}
	return nil, ErrNotFound
}

// CountRulesByCreatorSince counts rules a creator added at or after the cutoff
func (s *MemoryRuleStore) CountRulesByCreatorSince(_ context.Context, createdBy string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, r := range s.rules {
		if r.CreatedBy == createdBy && !r.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// MemoryQueueStore is a mutex-guarded in-memory QueueStore
type MemoryQueueStore struct {
	mu    sync.RWMutex
	items map[string]*models.QueueItem
	order []string
}

// NewMemoryQueueStore creates an empty in-memory queue store
func NewMemoryQueueStore() *MemoryQueueStore {
	return &MemoryQueueStore{items: make(map[string]*models.QueueItem)}
}

// EnqueueItem adds a pending item
func (s *MemoryQueueStore) EnqueueItem(_ context.Context, item *models.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[item.ID]; ok {
		return ErrDuplicateID
	}
	stored := cloneQueueItem(item)
	s.items[item.ID] = stored
	s.order = append(s.order, item.ID)
	return nil
}

// GetQueueItem returns one pending item
func (s *MemoryQueueStore) GetQueueItem(_ context.Context, id string) (*models.QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneQueueItem(stored), nil
}

// ListQueueItems returns all pending items in insertion order
func (s *MemoryQueueStore) ListQueueItems(_ context.Context) ([]*models.QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.QueueItem, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneQueueItem(s.items[id]))
	}
	return out, nil
}

// UpdateQueueItem replaces an existing item
func (s *MemoryQueueStore) UpdateQueueItem(_ context.Context, item *models.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[item.ID]; !ok {
		return ErrNotFound
	}
	s.items[item.ID] = cloneQueueItem(item)
	return nil
}

// RemoveQueueItem deletes an item, typically after a successful sync
func (s *MemoryQueueStore) RemoveQueueItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func cloneQueueItem(item *models.QueueItem) *models.QueueItem {
	out := *item
	out.Data = item.Data.Clone()
	out.Errors = append(models.StringArray(nil), item.Errors...)
	return &out
}
