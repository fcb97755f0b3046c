package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/models"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/observability"
)

// HTTPTarget delivers queued mutations to an upstream HTTP endpoint. A 409
// response is decoded into a VersionMismatchError so the worker can file a
// conflict instead of retrying.
type HTTPTarget struct {
	baseURL string
	client  *http.Client
	logger  observability.Logger
}

// NewHTTPTarget creates a sync target for the upstream endpoint
func NewHTTPTarget(baseURL string, timeout time.Duration, logger observability.Logger) *HTTPTarget {
	return &HTTPTarget{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.WithPrefix("sync-target"),
	}
}

// mismatchResponse is the upstream's 409 body
type mismatchResponse struct {
	EntityID      string         `json:"entityId"`
	EntityType    string         `json:"entityType"`
	ServerVersion models.JSONMap `json:"serverVersion"`
	ConflictType  string         `json:"conflictType"`
}

// Push implements SyncTarget
func (t *HTTPTarget) Push(ctx context.Context, item *models.QueueItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "failed to encode item")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/sync/items", bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to push item")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		var body mismatchResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return errors.Wrap(err, "failed to decode mismatch response")
		}
		return &VersionMismatchError{
			EntityID:      body.EntityID,
			EntityType:    body.EntityType,
			ServerVersion: body.ServerVersion,
			Cause:         models.ConflictType(body.ConflictType),
		}
	default:
		return fmt.Errorf("upstream returned status %d for item %s", resp.StatusCode, item.ID)
	}
}
