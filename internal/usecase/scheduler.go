package usecase

import (
	"context"
	"log/slog"
	"time"

	"ArticlesPipeline/internal/ports"
)

// Scheduler wires the cron driver with ingestion and the digest.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	digest   *Digest
	logger   *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring jobs.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, digest *Digest, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{driver: driver, pipeline: pipeline, digest: digest, logger: logger}
}

// Start registers the daily job with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}
	return s.driver.Start(ctx, func(trigger time.Time) {
		s.RunOnce(ctx, trigger)
	})
}

// RunOnce ingests the trigger day and then sends the digest.
func (s *Scheduler) RunOnce(ctx context.Context, trigger time.Time) {
	if s.pipeline != nil {
		if _, err := s.pipeline.ProcessDay(ctx, trigger); err != nil {
			s.logger.Error("scheduled ingestion failed", "trigger", trigger, "error", err)
		}
	}
	if s.digest != nil {
		if err := s.digest.Send(ctx); err != nil {
			s.logger.Error("scheduled digest failed", "error", err)
		}
	}
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Stop(ctx)
}
