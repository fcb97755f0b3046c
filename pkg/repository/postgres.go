package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/models"
)

// PostgresConflictStore is the durable ConflictStore backed by Postgres
type PostgresConflictStore struct {
	db *sqlx.DB
}

// NewPostgresConflictStore creates a conflict store over an open connection
func NewPostgresConflictStore(db *sqlx.DB) *PostgresConflictStore {
	return &PostgresConflictStore{db: db}
}

// CreateConflict inserts the record and any audit entries already on its
// trail inside one transaction.
func (s *PostgresConflictStore) CreateConflict(ctx context.Context, conflict *models.Conflict) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO conflicts (
			id, entity_id, entity_type, local_version, server_version,
			conflict_fields, conflict_type, severity, status, detected_at
		) VALUES (
			:id, :entity_id, :entity_type, :local_version, :server_version,
			:conflict_fields, :conflict_type, :severity, :status, :detected_at
		)`, conflict)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateID
		}
		return errors.Wrap(err, "failed to insert conflict")
	}

	for i := range conflict.AuditTrail {
		if err := insertAuditEntry(ctx, tx, &conflict.AuditTrail[i]); err != nil {
			return err
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit conflict")
}

// GetConflict loads one conflict with its audit trail
func (s *PostgresConflictStore) GetConflict(ctx context.Context, id uuid.UUID) (*models.Conflict, error) {
	var conflict models.Conflict
	err := s.db.GetContext(ctx, &conflict, `
		SELECT id, entity_id, entity_type, local_version, server_version,
		       conflict_fields, conflict_type, severity, status, detected_at,
		       resolved_at, resolution_strategy, resolved_by
		FROM conflicts WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get conflict")
	}

	trail, err := s.GetAuditTrail(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	conflict.AuditTrail = trail
	return &conflict, nil
}

// ListConflicts counts matches before applying LIMIT/OFFSET so the reported
// total reflects the full filtered set, not the page.
func (s *PostgresConflictStore) ListConflicts(ctx context.Context, filter models.ConflictFilter, page Page) ([]*models.Conflict, int, error) {
	where, args := buildConflictWhere(filter)

	var total int
	countQuery := s.db.Rebind("SELECT COUNT(*) FROM conflicts" + where)
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count conflicts")
	}

	query := `
		SELECT id, entity_id, entity_type, local_version, server_version,
		       conflict_fields, conflict_type, severity, status, detected_at,
		       resolved_at, resolution_strategy, resolved_by
		FROM conflicts` + where + " ORDER BY detected_at DESC"
	if page.PageSize > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", page.PageSize, page.Offset())
	}

	conflicts := []*models.Conflict{}
	if err := s.db.SelectContext(ctx, &conflicts, s.db.Rebind(query), args...); err != nil {
		return nil, 0, errors.Wrap(err, "failed to list conflicts")
	}
	return conflicts, total, nil
}

// GetConflictsByEntity returns an entity's conflicts oldest first
func (s *PostgresConflictStore) GetConflictsByEntity(ctx context.Context, entityID string) ([]*models.Conflict, error) {
	conflicts := []*models.Conflict{}
	err := s.db.SelectContext(ctx, &conflicts, `
		SELECT id, entity_id, entity_type, local_version, server_version,
		       conflict_fields, conflict_type, severity, status, detected_at,
		       resolved_at, resolution_strategy, resolved_by
		FROM conflicts WHERE entity_id = $1 ORDER BY detected_at ASC`, entityID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list entity conflicts")
	}
	return conflicts, nil
}

// GetPendingConflicts returns PENDING conflicts matching the filter
func (s *PostgresConflictStore) GetPendingConflicts(ctx context.Context, filter models.ConflictFilter) ([]*models.Conflict, error) {
	filter.Statuses = []models.ConflictStatus{models.ConflictStatusPending}
	conflicts, _, err := s.ListConflicts(ctx, filter, Page{})
	return conflicts, err
}

// MarkResolved runs the conditional UPDATE and the audit inserts in one
// transaction. The WHERE status clause is what guarantees a single winner
// under concurrent attempts.
func (s *PostgresConflictStore) MarkResolved(ctx context.Context, id uuid.UUID, resolution Resolution) (*models.Conflict, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE conflicts
		SET status = $1, resolution_strategy = $2, resolved_by = $3, resolved_at = $4
		WHERE id = $5 AND status = $6`,
		models.ConflictStatusResolved, resolution.Strategy, resolution.ResolvedBy,
		resolution.ResolvedAt, id, models.ConflictStatusPending)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update conflict")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read rows affected")
	}
	if rows == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM conflicts WHERE id = $1)`, id); err != nil {
			return nil, errors.Wrap(err, "failed to check conflict existence")
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrConflictResolved
	}

	for i := range resolution.AuditEntries {
		if err := insertAuditEntry(ctx, tx, &resolution.AuditEntries[i]); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit resolution")
	}

	return s.GetConflict(ctx, id)
}

// AppendAuditEntry inserts one trail entry
func (s *PostgresConflictStore) AppendAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	return insertAuditEntry(ctx, s.db, entry)
}

// GetAuditTrail loads a conflict's entries in time order
func (s *PostgresConflictStore) GetAuditTrail(ctx context.Context, conflictID uuid.UUID) ([]models.AuditEntry, error) {
	entries := []models.AuditEntry{}
	err := s.db.SelectContext(ctx, &entries, `
		SELECT id, conflict_id, timestamp, action, performed_by, details
		FROM conflict_audit_entries
		WHERE conflict_id = $1 ORDER BY timestamp ASC, id ASC`, conflictID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load audit trail")
	}
	return entries, nil
}

// GetConflictStats aggregates matching conflicts in one query
func (s *PostgresConflictStore) GetConflictStats(ctx context.Context, filter models.ConflictFilter) (*models.ConflictStats, error) {
	where, args := buildConflictWhere(filter)

	row := struct {
		Total      int            `db:"total"`
		Resolved   int            `db:"resolved"`
		Pending    int            `db:"pending"`
		Critical   int            `db:"critical"`
		AvgMinutes sql.NullFloat64 `db:"avg_minutes"`
		Last       sql.NullTime   `db:"last_detected"`
	}{}

	query := `
		SELECT COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE status = 'RESOLVED') AS resolved,
		       COUNT(*) FILTER (WHERE status = 'PENDING') AS pending,
		       COUNT(*) FILTER (WHERE severity = 'CRITICAL') AS critical,
		       AVG(EXTRACT(EPOCH FROM (resolved_at - detected_at)) / 60)
		           FILTER (WHERE resolved_at IS NOT NULL) AS avg_minutes,
		       MAX(detected_at) AS last_detected
		FROM conflicts` + where
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "failed to aggregate conflict stats")
	}

	stats := &models.ConflictStats{
		TotalConflicts:    row.Total,
		ResolvedConflicts: row.Resolved,
		PendingConflicts:  row.Pending,
		CriticalConflicts: row.Critical,
	}
	if row.AvgMinutes.Valid {
		avg := row.AvgMinutes.Float64
		stats.AverageResolutionTime = &avg
	}
	if row.Last.Valid {
		last := row.Last.Time
		stats.LastConflictDate = &last
	}
	return stats, nil
}

type execer interface {
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

func insertAuditEntry(ctx context.Context, db execer, entry *models.AuditEntry) error {
	_, err := db.NamedExecContext(ctx, `
		INSERT INTO conflict_audit_entries (id, conflict_id, timestamp, action, performed_by, details)
		VALUES (:id, :conflict_id, :timestamp, :action, :performed_by, :details)`, entry)
	return errors.Wrap(err, "failed to insert audit entry")
}

func buildConflictWhere(filter models.ConflictFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if filter.EntityID != "" {
		clauses = append(clauses, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if len(filter.EntityTypes) > 0 {
		ph := make([]string, len(filter.EntityTypes))
		for i, v := range filter.EntityTypes {
			ph[i] = "?"
			args = append(args, v)
		}
		clauses = append(clauses, "entity_type IN ("+strings.Join(ph, ", ")+")")
	}
	if len(filter.Severities) > 0 {
		ph := make([]string, len(filter.Severities))
		for i, v := range filter.Severities {
			ph[i] = "?"
			args = append(args, v)
		}
		clauses = append(clauses, "severity IN ("+strings.Join(ph, ", ")+")")
	}
	if len(filter.Statuses) > 0 {
		ph := make([]string, len(filter.Statuses))
		for i, v := range filter.Statuses {
			ph[i] = "?"
			args = append(args, v)
		}
		clauses = append(clauses, "status IN ("+strings.Join(ph, ", ")+")")
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// PostgresRuleStore is the durable RuleStore backed by Postgres
type PostgresRuleStore struct {
	db *sqlx.DB
}

// NewPostgresRuleStore creates a rule store over an open connection
func NewPostgresRuleStore(db *sqlx.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

// CreateRule inserts a new priority rule
func (s *PostgresRuleStore) CreateRule(ctx context.Context, rule *models.PriorityRule) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO priority_rules (
			id, name, entity_type, conditions, priority_modifier, is_active, created_by, created_at
		) VALUES (
			:id, :name, :entity_type, :conditions, :priority_modifier, :is_active, :created_by, :created_at
		)`, rule)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateID
		}
		return errors.Wrap(err, "failed to insert rule")
	}
	return nil
}

// ListRules returns all rules newest first
func (s *PostgresRuleStore) ListRules(ctx context.Context) ([]*models.PriorityRule, error) {
	rules := []*models.PriorityRule{}
	err := s.db.SelectContext(ctx, &rules, `
		SELECT id, name, entity_type, conditions, priority_modifier, is_active, created_by, created_at
		FROM priority_rules ORDER BY created_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list rules")
	}
	return rules, nil
}

// ListActiveRulesByType returns active rules for the type in creation order
func (s *PostgresRuleStore) ListActiveRulesByType(ctx context.Context, entityType models.QueueItemType) ([]*models.PriorityRule, error) {
	rules := []*models.PriorityRule{}
	err := s.db.SelectContext(ctx, &rules, `
		SELECT id, name, entity_type, conditions, priority_modifier, is_active, created_by, created_at
		FROM priority_rules
		WHERE is_active = TRUE AND entity_type = $1
		ORDER BY created_at ASC`, entityType)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active rules")
	}
	return rules, nil
}

// SetRuleActive toggles the activity flag and returns the updated rule
func (s *PostgresRuleStore) SetRuleActive(ctx context.Context, id uuid.UUID, active bool) (*models.PriorityRule, error) {
	var rule models.PriorityRule
	err := s.db.GetContext(ctx, &rule, `
		UPDATE priority_rules SET is_active = $1 WHERE id = $2
		RETURNING id, name, entity_type, conditions, priority_modifier, is_active, created_by, created_at`,
		active, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to toggle rule")
	}
	return &rule, nil
}

// CountRulesByCreatorSince counts a creator's rules at or after the cutoff
func (s *PostgresRuleStore) CountRulesByCreatorSince(ctx context.Context, createdBy string, since time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM priority_rules
		WHERE created_by = $1 AND created_at >= $2`, createdBy, since)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count rules")
	}
	return count, nil
}
