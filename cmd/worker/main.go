// Worker: executes queued CRM synchronization jobs.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"chathub_backend/internal/crm"
	"chathub_backend/internal/leads/repository"
	"chathub_backend/internal/leads/scoring"
	"chathub_backend/internal/scheduler"
	"chathub_backend/platform/config"
	"chathub_backend/platform/db"
	"chathub_backend/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("production").Error("configuration error", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	repo := repository.New(pool)
	client := crm.NewClient(cfg, log)

	var locker crm.Locker
	if cfg.GetRedisURL() != "" {
		opts, err := redis.ParseURL(cfg.GetRedisURL())
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		locker = crm.NewRedisLease(rdb, cfg.GetSyncLeaseTTL(), log)
	}

	synchronizer := crm.NewSynchronizer(client, crm.PolicyFromConfig(cfg), locker, scoring.Version, log)

	worker, err := scheduler.NewWorker(cfg, repo, synchronizer, log)
	if err != nil {
		return err
	}

	log.Info("worker starting", "queue", cfg.GetAsynqQueueName(), "concurrency", cfg.GetAsynqConcurrency())
	return worker.Run(ctx)
}
