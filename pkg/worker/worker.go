// Package worker is the sync runtime that drains the priority queue against
// the upstream server. The engine itself never retries; all retry, backoff and
// breaker behavior lives here.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/common/config"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/models"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/observability"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/queue"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/repository"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/services"
)

// VersionMismatchError is returned by a SyncTarget when the server holds a
// newer version of the entity than the one the queued mutation was based on.
type VersionMismatchError struct {
	EntityID      string
	EntityType    string
	ServerVersion models.JSONMap
	Cause         models.ConflictType
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("version mismatch for entity %s (%s)", e.EntityID, e.Cause)
}

// SyncTarget pushes one queued mutation to the upstream server
type SyncTarget interface {
	Push(ctx context.Context, item *models.QueueItem) error
}

// Worker drains the queue in priority order on a fixed poll interval
type Worker struct {
	config    config.WorkerConfig
	store     repository.QueueStore
	scheduler *queue.Scheduler
	conflicts services.ConflictService
	target    SyncTarget
	breaker   *gobreaker.CircuitBreaker
	logger    observability.Logger
	metrics   observability.MetricsClient
	nowFn     func() time.Time
}

// NewWorker creates the sync worker
func NewWorker(cfg config.WorkerConfig, store repository.QueueStore, scheduler *queue.Scheduler, conflicts services.ConflictService, target SyncTarget, logger observability.Logger, metrics observability.MetricsClient) *Worker {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "sync-target",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})

	return &Worker{
		config:    cfg,
		store:     store,
		scheduler: scheduler,
		conflicts: conflicts,
		target:    target,
		breaker:   breaker,
		logger:    logger.WithPrefix("sync-worker"),
		metrics:   metrics,
		nowFn:     time.Now,
	}
}

// Run polls until the context is cancelled
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.logger.Info("Sync worker started", map[string]interface{}{
		"poll_interval": w.config.PollInterval.String(),
		"batch_size":    w.config.BatchSize,
	})

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Sync worker stopping", nil)
			return ctx.Err()
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("Sync cycle failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

// RunOnce drains up to one batch in priority order and feeds the measured
// throughput back into the scheduler.
func (w *Worker) RunOnce(ctx context.Context) error {
	items, err := w.store.ListQueueItems(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list queue items")
	}
	if len(items) == 0 {
		return nil
	}

	ordered, err := w.scheduler.Reorder(ctx, items)
	if err != nil {
		return errors.Wrap(err, "failed to reorder queue")
	}
	if len(ordered) > w.config.BatchSize {
		ordered = ordered[:w.config.BatchSize]
	}

	start := w.nowFn()
	attempted, succeeded := 0, 0

	for _, item := range ordered {
		if ctx.Err() != nil {
			break
		}
		attempted++
		if w.syncItem(ctx, item) {
			succeeded++
		}
	}

	if attempted > 0 {
		w.reportThroughput(start, attempted, succeeded)
	}
	return nil
}

// syncItem pushes one item with retries; returns true when the item left the
// queue (synced or converted into a conflict).
func (w *Worker) syncItem(ctx context.Context, item *models.QueueItem) bool {
	err := w.pushWithRetry(ctx, item)
	if err == nil {
		if err := w.store.RemoveQueueItem(ctx, item.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			w.logger.Error("Failed to remove synced item", map[string]interface{}{
				"item_id": item.ID,
				"error":   err.Error(),
			})
		}
		w.metrics.IncrementCounterWithLabels("sync.items", 1, map[string]string{
			"outcome": "synced",
			"type":    string(item.Type),
		})
		return true
	}

	var mismatch *VersionMismatchError
	if errors.As(err, &mismatch) {
		return w.fileConflict(ctx, item, mismatch)
	}

	w.recordFailure(ctx, item, err)
	return false
}

// pushWithRetry wraps the target push in the circuit breaker and exponential
// backoff. Version mismatches and an open breaker are permanent for this
// cycle; the next poll picks the item up again.
func (w *Worker) pushWithRetry(ctx context.Context, item *models.QueueItem) error {
	operation := func() error {
		_, err := w.breaker.Execute(func() (interface{}, error) {
			return nil, w.target.Push(ctx, item)
		})
		if err == nil {
			return nil
		}

		var mismatch *VersionMismatchError
		if errors.As(err, &mismatch) {
			return backoff.Permanent(err)
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.config.InitialBackoff
	bo.MaxInterval = w.config.MaxBackoff
	bo.MaxElapsedTime = 0

	return backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(w.config.MaxRetries)), ctx))
}

// fileConflict converts a version mismatch into a PENDING conflict for
// coordinators and removes the item from the sync queue.
func (w *Worker) fileConflict(ctx context.Context, item *models.QueueItem, mismatch *VersionMismatchError) bool {
	entityID := mismatch.EntityID
	if entityID == "" {
		entityID = item.ID
	}
	entityType := mismatch.EntityType
	if entityType == "" {
		entityType = string(item.Type)
	}
	cause := mismatch.Cause
	if cause == "" {
		cause = models.ConflictTypeConcurrentEdit
	}

	conflict, err := w.conflicts.DetectAndRecord(ctx, entityID, entityType, item.Data, mismatch.ServerVersion, cause)
	if err != nil {
		w.logger.Error("Failed to file conflict", map[string]interface{}{
			"item_id":   item.ID,
			"entity_id": entityID,
			"error":     err.Error(),
		})
		w.recordFailure(ctx, item, err)
		return false
	}

	if err := w.store.RemoveQueueItem(ctx, item.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		w.logger.Error("Failed to remove conflicted item", map[string]interface{}{
			"item_id": item.ID,
			"error":   err.Error(),
		})
	}

	w.logger.Info("Conflict filed for queued item", map[string]interface{}{
		"item_id":     item.ID,
		"conflict_id": conflict.ID,
		"severity":    conflict.Severity,
	})
	w.metrics.IncrementCounterWithLabels("sync.items", 1, map[string]string{
		"outcome": "conflict",
		"type":    string(item.Type),
	})
	return true
}

// recordFailure bumps the retry bookkeeping so the scheduler's next ETA walk
// sees the retry multiplier.
func (w *Worker) recordFailure(ctx context.Context, item *models.QueueItem, cause error) {
	now := w.nowFn()
	item.RetryCount++
	item.LastAttempt = &now
	item.Errors = append(item.Errors, cause.Error())

	if err := w.store.UpdateQueueItem(ctx, item); err != nil {
		w.logger.Error("Failed to record sync failure", map[string]interface{}{
			"item_id": item.ID,
			"error":   err.Error(),
		})
	}

	w.metrics.IncrementCounterWithLabels("sync.items", 1, map[string]string{
		"outcome": "failed",
		"type":    string(item.Type),
	})
}

func (w *Worker) reportThroughput(start time.Time, attempted, succeeded int) {
	elapsed := w.nowFn().Sub(start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}

	throughput := models.SyncThroughput{
		ItemsPerMinute: float64(succeeded) / elapsed.Minutes(),
		SuccessRate:    float64(succeeded) / float64(attempted),
	}
	w.scheduler.SetThroughput(throughput)

	w.metrics.RecordGauge("sync.throughput.items_per_minute", throughput.ItemsPerMinute, nil)
	w.metrics.RecordGauge("sync.throughput.success_rate", throughput.SuccessRate, nil)
	w.logger.Debug("Sync cycle finished", map[string]interface{}{
		"attempted": attempted,
		"succeeded": succeeded,
		"elapsed":   elapsed.String(),
	})
}
