package models

import (
	"time"
)

// QueueItemType identifies which kind of client mutation is queued
type QueueItemType string

// Queue item types
const (
	QueueItemAssessment QueueItemType = "ASSESSMENT"
	QueueItemResponse   QueueItemType = "RESPONSE"
	QueueItemMedia      QueueItemType = "MEDIA"
)

// Valid reports whether the item type is a known value
func (t QueueItemType) Valid() bool {
	switch t {
	case QueueItemAssessment, QueueItemResponse, QueueItemMedia:
		return true
	}
	return false
}

// QueueAction is the mutation kind carried by a queue item
type QueueAction string

// Queue actions
const (
	QueueActionCreate QueueAction = "CREATE"
	QueueActionUpdate QueueAction = "UPDATE"
)

// Valid reports whether the action is a known value
func (a QueueAction) Valid() bool {
	switch a {
	case QueueActionCreate, QueueActionUpdate:
		return true
	}
	return false
}

// PriorityLevel buckets a priority score for human consumption
type PriorityLevel string

// Priority levels
const (
	PriorityHigh   PriorityLevel = "HIGH"
	PriorityNormal PriorityLevel = "NORMAL"
	PriorityLow    PriorityLevel = "LOW"
)

// Fixed score thresholds mapping scores to priority levels
const (
	HighPriorityThreshold   = 70
	NormalPriorityThreshold = 20
)

// PriorityFromScore maps a clamped score to its bucket. The mapping is a pure
// function of the score: >=70 HIGH, 20-69 NORMAL, <20 LOW.
func PriorityFromScore(score int) PriorityLevel {
	switch {
	case score >= HighPriorityThreshold:
		return PriorityHigh
	case score >= NormalPriorityThreshold:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// QueueItem is a single pending client mutation awaiting synchronization.
// Priority, PriorityScore, PriorityReason and EstimatedSyncTime are derived
// by the scorer and scheduler; everything else comes from the client.
type QueueItem struct {
	ID                string        `json:"id" db:"id"`
	Type              QueueItemType `json:"type" db:"type"`
	Action            QueueAction   `json:"action" db:"action"`
	Data              JSONMap       `json:"data" db:"data"`
	RetryCount        int           `json:"retryCount" db:"retry_count"`
	Priority          PriorityLevel `json:"priority" db:"priority"`
	PriorityScore     int           `json:"priorityScore" db:"priority_score"`
	PriorityReason    string        `json:"priorityReason" db:"priority_reason"`
	CreatedAt         time.Time     `json:"createdAt" db:"created_at"`
	EstimatedSyncTime *time.Time    `json:"estimatedSyncTime,omitempty" db:"estimated_sync_time"`
	Errors            StringArray   `json:"errors,omitempty" db:"errors"`
	LastAttempt       *time.Time    `json:"lastAttempt,omitempty" db:"last_attempt"`
}

// SyncThroughput is measured by the surrounding sync runtime, not computed
// from the queue itself.
type SyncThroughput struct {
	ItemsPerMinute float64 `json:"itemsPerMinute"`
	SuccessRate    float64 `json:"successRate"`
}

// LongestWaitingItem carries the id, wait and score of the oldest queued item
type LongestWaitingItem struct {
	ItemID          string  `json:"itemId"`
	WaitTimeMinutes float64 `json:"waitTimeMinutes"`
	PriorityScore   int     `json:"priorityScore"`
}

// QueueStats is the aggregate view over all pending queue items
type QueueStats struct {
	TotalItems          int                 `json:"totalItems"`
	HighPriorityItems   int                 `json:"highPriorityItems"`
	NormalPriorityItems int                 `json:"normalPriorityItems"`
	LowPriorityItems    int                 `json:"lowPriorityItems"`
	AverageWaitTime     float64             `json:"averageWaitTime"` // minutes
	LongestWaitingItem  *LongestWaitingItem `json:"longestWaitingItem,omitempty"`
	SyncThroughput      SyncThroughput      `json:"syncThroughput"`
}
