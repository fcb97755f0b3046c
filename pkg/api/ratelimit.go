package api

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/auth"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/observability"
)

// limiterCacheSize bounds the number of per-client limiters held at once.
// Evicted clients simply start from a fresh bucket on their next request.
const limiterCacheSize = 4096

// RateLimiter enforces a per-client token-bucket limit. Clients are keyed by
// authenticated user id, falling back to remote address for unauthenticated
// routes.
type RateLimiter struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	rps      rate.Limit
	burst    int
	metrics  observability.MetricsClient
}

// NewRateLimiter creates a per-client rate limiting middleware
func NewRateLimiter(rps float64, burst int, metrics observability.MetricsClient) (*RateLimiter, error) {
	cache, err := lru.New[string, *rate.Limiter](limiterCacheSize)
	if err != nil {
		return nil, err
	}
	return &RateLimiter{
		limiters: cache,
		rps:      rate.Limit(rps),
		burst:    burst,
		metrics:  metrics,
	}, nil
}

// Handler returns the gin handler enforcing the limit
func (r *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := auth.GetUserID(c.Request.Context())
		if key == "" {
			key = c.ClientIP()
		}

		if !r.limiterFor(key).Allow() {
			r.metrics.IncrementCounter("api.rate_limited", 1)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// limiterFor returns the client's limiter, creating it at most once even
// under concurrent first requests. The bucket itself is lock-free; only
// creation is serialized.
func (r *RateLimiter) limiterFor(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	limiter, ok := r.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(r.rps, r.burst)
		r.limiters.Add(key, limiter)
	}
	return limiter
}
