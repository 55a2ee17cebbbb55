// Package retention runs the scheduled purge mandated by the data retention
// policy: verification results older than the configured window are deleted,
// and stale abuse windows are swept with them. Certificate lifecycle records
// are never touched.
package retention

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"skern/internal/audit"
	"skern/internal/platform/config"
	"skern/internal/verification/metrics"
)

// ResultPurger deletes verification results older than the cutoff.
type ResultPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// AbusePurger sweeps expired abuse windows.
type AbusePurger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

type Worker struct {
	results ResultPurger
	abuse   AbusePurger
	cfg     config.RetentionConfig
	logger  *slog.Logger
	auditor audit.Publisher
	metrics *metrics.Metrics
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithAuditPublisher(p audit.Publisher) Option {
	return func(w *Worker) {
		w.auditor = p
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

func New(results ResultPurger, abuse AbusePurger, cfg config.RetentionConfig, opts ...Option) (*Worker, error) {
	if results == nil {
		return nil, errors.New("result purger is required")
	}
	if cfg.ResultTTL <= 0 || cfg.PurgeInterval <= 0 {
		return nil, errors.New("retention ttl and interval must be positive")
	}

	w := &Worker{results: results, abuse: abuse, cfg: cfg, auditor: audit.NopPublisher{}}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run executes purge cycles until the context is canceled. One cycle runs
// immediately on start so a long-stopped instance catches up.
func (w *Worker) Run(ctx context.Context) {
	w.purgeOnce(ctx)

	ticker := time.NewTicker(w.cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.purgeOnce(ctx)
		}
	}
}

func (w *Worker) purgeOnce(ctx context.Context) {
	now := time.Now()
	cutoff := now.Add(-w.cfg.ResultTTL)

	purged, err := w.results.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		if w.logger != nil {
			w.logger.ErrorContext(ctx, "retention purge failed", "error", err)
		}
		return
	}
	if w.metrics != nil {
		w.metrics.AddResultsPurged(purged)
	}

	swept := 0
	if w.abuse != nil {
		if swept, err = w.abuse.PurgeExpired(ctx); err != nil && w.logger != nil {
			w.logger.ErrorContext(ctx, "abuse window sweep failed", "error", err)
		}
	}

	if purged > 0 || swept > 0 {
		w.auditor.Publish(ctx, audit.Event{
			Type:       audit.EventRetentionPurge,
			OccurredAt: now,
			Detail:     "results and windows purged",
		})
	}
	if w.logger != nil {
		w.logger.InfoContext(ctx, "retention purge completed",
			"results_purged", purged,
			"windows_swept", swept,
			"cutoff", cutoff,
		)
	}
}
