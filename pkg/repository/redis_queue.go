package repository

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/models"
)

// Redis keys for the queue store. Items live in one hash, insertion order in
// one list so listings stay stable across restarts.
const (
	queueItemsKey = "sync:queue:items"
	queueOrderKey = "sync:queue:order"
)

// RedisQueueStore is a QueueStore backed by Redis, shared between the API
// process and the sync worker.
type RedisQueueStore struct {
	client *redis.Client
}

// NewRedisQueueStore creates a queue store over an existing client
func NewRedisQueueStore(client *redis.Client) *RedisQueueStore {
	return &RedisQueueStore{client: client}
}

// EnqueueItem adds a pending item
func (s *RedisQueueStore) EnqueueItem(ctx context.Context, item *models.QueueItem) error {
	exists, err := s.client.HExists(ctx, queueItemsKey, item.ID).Result()
	if err != nil {
		return errors.Wrap(err, "failed to check queue item")
	}
	if exists {
		return ErrDuplicateID
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "failed to encode queue item")
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, queueItemsKey, item.ID, payload)
	pipe.RPush(ctx, queueOrderKey, item.ID)
	_, err = pipe.Exec(ctx)
	return errors.Wrap(err, "failed to enqueue item")
}

// GetQueueItem returns one pending item
func (s *RedisQueueStore) GetQueueItem(ctx context.Context, id string) (*models.QueueItem, error) {
	payload, err := s.client.HGet(ctx, queueItemsKey, id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get queue item")
	}

	var item models.QueueItem
	if err := json.Unmarshal(payload, &item); err != nil {
		return nil, errors.Wrap(err, "failed to decode queue item")
	}
	return &item, nil
}

// ListQueueItems returns all pending items in insertion order
func (s *RedisQueueStore) ListQueueItems(ctx context.Context) ([]*models.QueueItem, error) {
	ids, err := s.client.LRange(ctx, queueOrderKey, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read queue order")
	}
	if len(ids) == 0 {
		return []*models.QueueItem{}, nil
	}

	payloads, err := s.client.HMGet(ctx, queueItemsKey, ids...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read queue items")
	}

	items := make([]*models.QueueItem, 0, len(payloads))
	for _, raw := range payloads {
		str, ok := raw.(string)
		if !ok {
			// id lingering in the order list after a removal race
			continue
		}
		var item models.QueueItem
		if err := json.Unmarshal([]byte(str), &item); err != nil {
			return nil, errors.Wrap(err, "failed to decode queue item")
		}
		items = append(items, &item)
	}
	return items, nil
}

// UpdateQueueItem replaces an existing item
func (s *RedisQueueStore) UpdateQueueItem(ctx context.Context, item *models.QueueItem) error {
	exists, err := s.client.HExists(ctx, queueItemsKey, item.ID).Result()
	if err != nil {
		return errors.Wrap(err, "failed to check queue item")
	}
	if !exists {
		return ErrNotFound
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "failed to encode queue item")
	}
	return errors.Wrap(s.client.HSet(ctx, queueItemsKey, item.ID, payload).Err(), "failed to update queue item")
}

// RemoveQueueItem deletes an item after a successful sync or a manual purge
func (s *RedisQueueStore) RemoveQueueItem(ctx context.Context, id string) error {
	removed, err := s.client.HDel(ctx, queueItemsKey, id).Result()
	if err != nil {
		return errors.Wrap(err, "failed to remove queue item")
	}
	if removed == 0 {
		return ErrNotFound
	}
	return errors.Wrap(s.client.LRem(ctx, queueOrderKey, 1, id).Err(), "failed to trim queue order")
}
