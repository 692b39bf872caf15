package main

import (
	"context"

	"github.com/elmerpm/elmer/internal/config"
	"github.com/elmerpm/elmer/internal/githubsync"
	"github.com/elmerpm/elmer/internal/metrics"
	"github.com/elmerpm/elmer/internal/notify"
	"github.com/elmerpm/elmer/internal/pipeline"
	"github.com/elmerpm/elmer/internal/worker"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// newService builds the pipeline service with the notifiers and document
// sync enabled in cfg.
func newService(ctx context.Context, cfg *config.Config, gormDB *gorm.DB, m *metrics.Metrics, log *zap.Logger) (*pipeline.Service, error) {
	svc := pipeline.New(gormDB, m, log)

	n, err := notify.FromConfig(cfg.Notify)
	if err != nil {
		return nil, err
	}
	svc.Notifier = n

	if cfg.GitHub.Enabled() {
		exp, err := githubsync.New(ctx, cfg.GitHub)
		if err != nil {
			return nil, err
		}
		svc.Syncer = exp
		log.Info("document sync enabled", zap.String("repo", cfg.GitHub.Owner+"/"+cfg.GitHub.Repo))
	}
	return svc, nil
}

// newPool builds a job pool from the worker config. Jobs go to the webhook
// executor when one is configured.
func newPool(cfg *config.Config, gormDB *gorm.DB, m *metrics.Metrics, log *zap.Logger) *worker.Pool {
	reg := worker.NewRegistry()
	if cfg.Worker.WebhookURL != "" {
		reg.SetFallback(worker.NewWebhookHandler(cfg.Worker.WebhookURL))
	}
	return worker.NewPool(gormDB, worker.PoolOpts{
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		Handlers:     reg,
		Metrics:      m,
		Log:          log,
	})
}

// startSweeper schedules stale-job sweeps for pool.
func startSweeper(ctx context.Context, cfg *config.Config, gormDB *gorm.DB, pool *worker.Pool, log *zap.Logger) error {
	s := &worker.Sweeper{
		DB:          gormDB,
		Pool:        pool,
		StaleAfter:  cfg.Worker.StaleAfter,
		MaxAttempts: cfg.Worker.MaxAttempts,
		Log:         log,
	}
	if err := s.Start(ctx, cfg.Worker.SweepCron); err != nil {
		return err
	}
	log.Info("stale job sweep scheduled",
		zap.String("cron", cfg.Worker.SweepCron),
		zap.Duration("next", worker.NextSweep(cfg.Worker.SweepCron)))
	return nil
}
