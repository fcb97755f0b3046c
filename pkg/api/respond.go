// Package api exposes the reconciliation engine over HTTP with gin. Handlers
// translate between the wire shapes and the service layer; no business rules
// live here.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/observability"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/repository"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/services"
)

// respondError maps service errors onto HTTP statuses. Unexpected failures
// are logged with context and returned opaque.
func respondError(c *gin.Context, logger observability.Logger, err error) {
	var verr services.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message, "field": verr.Field})
		return
	}

	var ferr services.ForbiddenError
	if errors.As(err, &ferr) {
		c.JSON(http.StatusForbidden, gin.H{"error": ferr.Reason, "requiredRole": ferr.RequiredRole})
		return
	}

	var rerr services.RateLimitError
	if errors.As(err, &rerr) {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":  "rate limit exceeded",
			"limit":  rerr.Limit,
			"window": rerr.Window.String(),
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrConflictNotFound),
		errors.Is(err, services.ErrRuleNotFound),
		errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, services.ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict already resolved"})
	case errors.Is(err, repository.ErrDuplicateID):
		c.JSON(http.StatusConflict, gin.H{"error": "record already exists"})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
	case errors.Is(err, services.ErrRateLimitExceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
	default:
		logger.Error("Unhandled request failure", map[string]interface{}{
			"path":  c.FullPath(),
			"error": err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
