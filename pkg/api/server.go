package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/auth"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/common/config"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/observability"
)

// Server hosts the engine's HTTP surface
type Server struct {
	config  config.APIConfig
	engine  *gin.Engine
	httpSrv *http.Server
	logger  observability.Logger
	metrics observability.MetricsClient
}

// Handlers are the route groups mounted under /api/v1
type Handlers struct {
	Conflicts *ConflictAPI
	Rules     *RulesAPI
	Queue     *QueueAPI
}

// NewServer builds the gin engine with auth, rate limiting and the API routes
func NewServer(cfg config.APIConfig, handlers Handlers, logger observability.Logger, metrics observability.MetricsClient) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger, metrics))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})

	limiter, err := NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst, metrics)
	if err != nil {
		return nil, err
	}

	authMW := auth.NewMiddleware(cfg.JWTSecret, logger)

	v1 := engine.Group("/api/v1")
	v1.Use(authMW.Handler(), limiter.Handler())
	handlers.Conflicts.RegisterRoutes(v1)
	handlers.Rules.RegisterRoutes(v1)
	handlers.Queue.RegisterRoutes(v1)

	return &Server{
		config:  cfg,
		engine:  engine,
		logger:  logger.WithPrefix("http"),
		metrics: metrics,
		httpSrv: &http.Server{
			Addr:         cfg.ListenAddress,
			Handler:      engine,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}, nil
}

// Engine exposes the router, used by handler tests
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", map[string]interface{}{
		"address": s.config.ListenAddress,
	})
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func requestLogger(logger observability.Logger, metrics observability.MetricsClient) gin.HandlerFunc {
	log := logger.WithPrefix("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)
		metrics.RecordDuration("api.request", duration)
		log.Debug("Request handled", map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": duration.String(),
		})
	}
}
