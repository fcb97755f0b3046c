// Package queue implements the priority scheduling subsystem: ordering of
// pending sync items, per-item completion estimates and aggregate queue
// statistics. It deliberately has no broker dependency; the ordering contract
// is reproduced with an in-process binary heap.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/models"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/observability"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/rules"
)

// Base processing durations per item type. Retried items cost more due to
// error-handling overhead.
const (
	mediaDuration      = 5 * time.Minute
	assessmentDuration = 3 * time.Minute
	responseDuration   = 2 * time.Minute
	defaultDuration    = 2 * time.Minute
)

// Scheduler maintains the ordered view of pending sync items. All methods
// operate on the snapshot the caller passes in; stale orderings are expected
// to self-correct on the next call.
type Scheduler struct {
	scorer  *rules.Scorer
	logger  observability.Logger
	metrics observability.MetricsClient
	nowFn   func() time.Time

	mu         sync.RWMutex
	throughput models.SyncThroughput
}

// NewScheduler creates a scheduler using the given scorer
func NewScheduler(scorer *rules.Scorer, logger observability.Logger, metrics observability.MetricsClient) *Scheduler {
	return &Scheduler{
		scorer:  scorer,
		logger:  logger,
		metrics: metrics,
		nowFn:   time.Now,
	}
}

// SetThroughput records the throughput measured by the surrounding sync
// runtime. The scheduler reports it, it never computes it.
func (s *Scheduler) SetThroughput(t models.SyncThroughput) {
	s.mu.Lock()
	s.throughput = t
	s.mu.Unlock()
}

// Throughput returns the last reported sync throughput
func (s *Scheduler) Throughput() models.SyncThroughput {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.throughput
}

// Reorder recomputes every item's priority and returns the items sorted by
// score descending, oldest-first among equal scores.
func (s *Scheduler) Reorder(ctx context.Context, items []*models.QueueItem) ([]*models.QueueItem, error) {
	start := s.nowFn()

	pq := make(itemHeap, 0, len(items))
	for i, item := range items {
		if err := s.scorer.Apply(ctx, item); err != nil {
			return nil, err
		}
		pq = append(pq, heapEntry{item: item, seq: i})
	}
	heap.Init(&pq)

	ordered := make([]*models.QueueItem, 0, len(items))
	for pq.Len() > 0 {
		ordered = append(ordered, heap.Pop(&pq).(heapEntry).item)
	}

	s.metrics.RecordDuration("sync.queue.reorder.duration", time.Since(start))
	s.metrics.RecordGauge("sync.queue.size", float64(len(ordered)), nil)

	return ordered, nil
}

// EstimateCompletion walks the ordered list accumulating a running clock from
// now. Each item's estimate is the clock value after its own slot.
func (s *Scheduler) EstimateCompletion(ordered []*models.QueueItem) map[string]time.Time {
	estimates := make(map[string]time.Time, len(ordered))

	clock := s.nowFn()
	for _, item := range ordered {
		clock = clock.Add(processingDuration(item))
		eta := clock
		item.EstimatedSyncTime = &eta
		estimates[item.ID] = eta
	}

	return estimates
}

// Stats derives the aggregate queue view from the given items
func (s *Scheduler) Stats(items []*models.QueueItem) models.QueueStats {
	now := s.nowFn()

	stats := models.QueueStats{
		TotalItems:     len(items),
		SyncThroughput: s.Throughput(),
	}

	var totalWait float64
	var longest *models.LongestWaitingItem

	for _, item := range items {
		switch models.PriorityFromScore(item.PriorityScore) {
		case models.PriorityHigh:
			stats.HighPriorityItems++
		case models.PriorityNormal:
			stats.NormalPriorityItems++
		case models.PriorityLow:
			stats.LowPriorityItems++
		}

		wait := now.Sub(item.CreatedAt).Minutes()
		totalWait += wait

		if longest == nil || wait > longest.WaitTimeMinutes {
			longest = &models.LongestWaitingItem{
				ItemID:          item.ID,
				WaitTimeMinutes: wait,
				PriorityScore:   item.PriorityScore,
			}
		}
	}

	if len(items) > 0 {
		stats.AverageWaitTime = totalWait / float64(len(items))
	}
	stats.LongestWaitingItem = longest

	return stats
}

// processingDuration returns the queue slot one item reserves
func processingDuration(item *models.QueueItem) time.Duration {
	var base time.Duration
	switch item.Type {
	case models.QueueItemMedia:
		base = mediaDuration
	case models.QueueItemAssessment:
		base = assessmentDuration
	case models.QueueItemResponse:
		base = responseDuration
	default:
		base = defaultDuration
	}

	if item.RetryCount > 0 {
		base = base * 3 / 2
	}
	return base
}

// heapEntry keys the heap by score descending with createdAt ascending and
// insertion order as stable tiebreaks.
type heapEntry struct {
	item *models.QueueItem
	seq  int
}

type itemHeap []heapEntry

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	a, b := h[i].item, h[j].item
	if a.PriorityScore != b.PriorityScore {
		return a.PriorityScore > b.PriorityScore
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x interface{}) {
	*h = append(*h, x.(heapEntry))
}

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}
