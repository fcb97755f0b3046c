package models

import (
	"time"

	"github.com/google/uuid"
)

// ConflictSeverity classifies how dangerous an unresolved divergence is.
// Severity is assigned at detection time and never changes afterward.
type ConflictSeverity string

// Conflict severities, lowest to highest
const (
	SeverityLow      ConflictSeverity = "LOW"
	SeverityMedium   ConflictSeverity = "MEDIUM"
	SeverityHigh     ConflictSeverity = "HIGH"
	SeverityCritical ConflictSeverity = "CRITICAL"
)

// Rank returns the ordering position of a severity, higher is more severe
func (s ConflictSeverity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether the severity is a known value
func (s ConflictSeverity) Valid() bool {
	return s.Rank() > 0
}

// ConflictStatus is the lifecycle state of a conflict record
type ConflictStatus string

// Conflict statuses; RESOLVED is terminal
const (
	ConflictStatusPending  ConflictStatus = "PENDING"
	ConflictStatusResolved ConflictStatus = "RESOLVED"
)

// ConflictType tags the detected cause of the divergence
type ConflictType string

// Detected conflict causes. The column is a free-form tag, these are the
// values the detector emits.
const (
	ConflictTypeConcurrentEdit ConflictType = "CONCURRENT_EDIT"
	ConflictTypeTimestamp      ConflictType = "TIMESTAMP"
)

// ResolutionStrategy is the rule used to pick the winning value
type ResolutionStrategy string

// Resolution strategies
const (
	ResolutionLocalWins  ResolutionStrategy = "LOCAL_WINS"
	ResolutionServerWins ResolutionStrategy = "SERVER_WINS"
	ResolutionMerge      ResolutionStrategy = "MERGE"
	ResolutionManual     ResolutionStrategy = "MANUAL"
)

// Valid reports whether the strategy is a known value
func (r ResolutionStrategy) Valid() bool {
	switch r {
	case ResolutionLocalWins, ResolutionServerWins, ResolutionMerge, ResolutionManual:
		return true
	}
	return false
}

// AuditEntry is one immutable row in a conflict's audit trail
type AuditEntry struct {
	ID          uuid.UUID `json:"id" db:"id"`
	ConflictID  uuid.UUID `json:"conflictId" db:"conflict_id"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
	Action      string    `json:"action" db:"action"`
	PerformedBy string    `json:"performedBy" db:"performed_by"`
	Details     JSONMap   `json:"details,omitempty" db:"details"`
}

// Audit actions emitted by the resolver
const (
	AuditActionConflictDetected    = "CONFLICT_DETECTED"
	AuditActionConflictResolved    = "CONFLICT_RESOLVED"
	AuditActionCoordinatorOverride = "COORDINATOR_OVERRIDE"
)

// Conflict is a detected divergence between a client's locally-queued entity
// version and the server's current version of the same entity.
//
// Invariants: AuditTrail timestamps are non-decreasing; ResolvedAt,
// ResolutionStrategy and ResolvedBy are all unset or all set together; a
// conflict transitions PENDING to RESOLVED exactly once.
type Conflict struct {
	ID                 uuid.UUID           `json:"id" db:"id"`
	EntityID           string              `json:"entityId" db:"entity_id"`
	EntityType         string              `json:"entityType" db:"entity_type"`
	LocalVersion       JSONMap             `json:"localVersion" db:"local_version"`
	ServerVersion      JSONMap             `json:"serverVersion" db:"server_version"`
	ConflictFields     StringArray         `json:"conflictFields" db:"conflict_fields"`
	ConflictType       ConflictType        `json:"conflictType" db:"conflict_type"`
	Severity           ConflictSeverity    `json:"severity" db:"severity"`
	Status             ConflictStatus      `json:"status" db:"status"`
	DetectedAt         time.Time           `json:"detectedAt" db:"detected_at"`
	ResolvedAt         *time.Time          `json:"resolvedAt,omitempty" db:"resolved_at"`
	ResolutionStrategy *ResolutionStrategy `json:"resolutionStrategy,omitempty" db:"resolution_strategy"`
	ResolvedBy         *string             `json:"resolvedBy,omitempty" db:"resolved_by"`
	AuditTrail         []AuditEntry        `json:"auditTrail" db:"-"`
}

// IsResolved reports whether the conflict reached its terminal state
func (c *Conflict) IsResolved() bool {
	return c.Status == ConflictStatusResolved
}

// ConflictFilter narrows conflict listings
type ConflictFilter struct {
	EntityID    string
	EntityTypes []string
	Severities  []ConflictSeverity
	Statuses    []ConflictStatus
}

// ConflictStats is derived on read from the conflict records, never stored
type ConflictStats struct {
	TotalConflicts        int      `json:"totalConflicts"`
	ResolvedConflicts     int      `json:"resolvedConflicts"`
	PendingConflicts      int      `json:"pendingConflicts"`
	CriticalConflicts     int      `json:"criticalConflicts"`
	AverageResolutionTime *float64 `json:"averageResolutionTime,omitempty"` // minutes
	LastConflictDate      *time.Time `json:"lastConflictDate,omitempty"`
}
