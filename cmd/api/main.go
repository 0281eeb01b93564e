// API server: ingests conversations, qualifies leads, and queues CRM sync.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chathub_backend/internal/geo"
	"chathub_backend/internal/http/router"
	"chathub_backend/internal/leads"
	"chathub_backend/internal/leads/repository"
	"chathub_backend/internal/leads/scoring"
	"chathub_backend/internal/scheduler"
	"chathub_backend/platform/config"
	"chathub_backend/platform/db"
	"chathub_backend/platform/logger"
	"chathub_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

const migrationsDir = "migrations"

func main() {
	cfg, err := config.Load()
	if err != nil {
		stderr := logger.New("production")
		stderr.Error("configuration error", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if err := withRetry(ctx, log, "run migrations", func() error {
		return db.RunMigrations(ctx, cfg, migrationsDir)
	}); err != nil {
		return err
	}

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "connect database", func() error {
		var err error
		pool, err = db.NewPool(ctx, cfg)
		return err
	}); err != nil {
		return err
	}
	defer pool.Close()

	catalog, err := geo.LoadCatalog(cfg.GetGeoCatalogPath())
	if err != nil {
		return err
	}
	log.Info("area catalog loaded", "path", cfg.GetGeoCatalogPath(), "areas", catalog.Len())
	weights, err := scoring.LoadWeights(cfg.GetScoringWeightsPath())
	if err != nil {
		return err
	}

	repo := repository.New(pool)
	enricher := geo.NewEnricher(catalog, geo.NewIPInfoClient(cfg, log), log)
	scorer := scoring.New(weights, log)

	queue, err := scheduler.NewClient(cfg, log)
	if err != nil {
		return err
	}
	defer queue.Close()

	leadsModule, err := leads.NewModule(leads.ModuleDeps{
		Enricher:   enricher,
		Scorer:     scorer,
		Repository: repo,
		Queue:      queue,
		Validator:  validator.New(),
		Logger:     log,
	})
	if err != nil {
		return err
	}

	engine := router.New(cfg, cfg.Env, db.NewPoolAdapter(pool), log, leadsModule)

	server := &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", "addr", cfg.GetHTTPAddr(), "env", cfg.Env)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// withRetry retries startup steps that race container orchestration, e.g.
// the database accepting connections after the app starts.
func withRetry(ctx context.Context, log *logger.Logger, name string, fn func() error) error {
	const attempts = 5
	delay := time.Second

	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		log.Warn("startup step failed, retrying", "step", name, "attempt", i, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
