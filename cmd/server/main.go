package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/api"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/common/config"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/database"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/observability"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/queue"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/repository"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/rules"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/services"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewStandardLogger("server")
	metrics := observability.NewMetricsClient()
	defer metrics.Close()

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db, cfg.Database, logger); err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}

	conflictStore := repository.NewPostgresConflictStore(db)
	ruleStore := repository.NewPostgresRuleStore(db)
	queueStore := repository.NewRedisQueueStore(redisClient)

	serviceConfig := services.ServiceConfig{
		Logger:                  logger,
		Metrics:                 metrics,
		MinOverrideReasonLength: cfg.Engine.MinOverrideReasonLength,
	}
	conflictService := services.NewConflictService(
		serviceConfig,
		conflictStore,
		services.NewEscalationAuthorizer(),
		services.NewAuditLogger(conflictStore, logger),
		nil,
	)

	registry := rules.NewRegistry(ruleStore, rules.RegistryConfig{
		MaxRulesPerCreator: cfg.Engine.MaxRulesPerCreator,
		QuotaWindow:        cfg.Engine.RuleQuotaWindow,
	}, logger, metrics)

	scorer := rules.NewScorer(ruleStore, logger, metrics)
	scheduler := queue.NewScheduler(scorer, logger, metrics)

	server, err := api.NewServer(cfg.API, api.Handlers{
		Conflicts: api.NewConflictAPI(conflictService, logger, metrics, cfg.Engine.MaxBatchResolve),
		Rules:     api.NewRulesAPI(registry, logger),
		Queue:     api.NewQueueAPI(queueStore, scheduler, logger),
	}, logger, metrics)
	if err != nil {
		log.Fatalf("Failed to build server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
		return
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
}
