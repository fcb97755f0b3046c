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
	"github.com/pkg/errors"

	"github.com/bilzee/dms-v2-bmad-sub013/pkg/common/config"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/database"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/observability"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/queue"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/repository"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/rules"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/services"
	"github.com/bilzee/dms-v2-bmad-sub013/pkg/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	targetURL := flag.String("target", "", "upstream sync endpoint")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewStandardLogger("worker")
	metrics := observability.NewMetricsClient()
	defer metrics.Close()

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

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

	conflictService := services.NewConflictService(
		services.ServiceConfig{
			Logger:                  logger,
			Metrics:                 metrics,
			MinOverrideReasonLength: cfg.Engine.MinOverrideReasonLength,
		},
		conflictStore,
		services.NewEscalationAuthorizer(),
		services.NewAuditLogger(conflictStore, logger),
		nil,
	)

	scorer := rules.NewScorer(ruleStore, logger, metrics)
	scheduler := queue.NewScheduler(scorer, logger, metrics)

	if *targetURL == "" {
		log.Fatal("Missing required -target flag")
	}
	target := worker.NewHTTPTarget(*targetURL, 30*time.Second, logger)

	w := worker.NewWorker(cfg.Worker, queueStore, scheduler, conflictService, target, logger, metrics)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
		cancel()
	}()

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Worker failed: %v", err)
	}
}
