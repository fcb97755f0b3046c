package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/models"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/observability"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/queue"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/repository"
)

// QueueAPI exposes the prioritized sync queue
type QueueAPI struct {
	store     repository.QueueStore
	scheduler *queue.Scheduler
	logger    observability.Logger
}

// NewQueueAPI creates the queue API handler group
func NewQueueAPI(store repository.QueueStore, scheduler *queue.Scheduler, logger observability.Logger) *QueueAPI {
	return &QueueAPI{
		store:     store,
		scheduler: scheduler,
		logger:    logger.WithPrefix("queue-api"),
	}
}

// RegisterRoutes mounts the queue endpoints on the router group
func (a *QueueAPI) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/queue")
	{
		group.GET("", a.getQueue)
		group.POST("/items", a.enqueueItem)
	}
}

// getQueue returns the queue in sync order with stats and per-item ETAs
func (a *QueueAPI) getQueue(c *gin.Context) {
	items, err := a.store.ListQueueItems(c.Request.Context())
	if err != nil {
		respondError(c, a.logger, err)
		return
	}

	ordered, err := a.scheduler.Reorder(c.Request.Context(), items)
	if err != nil {
		respondError(c, a.logger, err)
		return
	}

	estimates := a.scheduler.EstimateCompletion(ordered)
	stats := a.scheduler.Stats(ordered)

	c.JSON(http.StatusOK, gin.H{
		"queue":              ordered,
		"stats":              stats,
		"estimatedSyncTimes": estimates,
	})
}

// enqueueBody is the client intake shape for a pending mutation
type enqueueBody struct {
	ID     string               `json:"id"`
	Type   models.QueueItemType `json:"type" binding:"required"`
	Action models.QueueAction   `json:"action" binding:"required"`
	Data   models.JSONMap       `json:"data" binding:"required"`
}

func (a *QueueAPI) enqueueItem(c *gin.Context) {
	var body enqueueBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if !body.Type.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown item type", "field": "type"})
		return
	}
	if !body.Action.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action", "field": "action"})
		return
	}

	item := &models.QueueItem{
		ID:        body.ID,
		Type:      body.Type,
		Action:    body.Action,
		Data:      body.Data,
		CreatedAt: time.Now().UTC(),
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	if err := a.store.EnqueueItem(c.Request.Context(), item); err != nil {
		respondError(c, a.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"item": item})
}
