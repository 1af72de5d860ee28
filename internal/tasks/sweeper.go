package tasks

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/franzego/dispatchd/internal/config"
	"github.com/franzego/dispatchd/internal/dispatch"
	"github.com/franzego/dispatchd/internal/models"
	"github.com/franzego/dispatchd/internal/store"
	apperrors "github.com/franzego/dispatchd/pkg/errors"
	"github.com/franzego/dispatchd/pkg/logger"
	"github.com/franzego/dispatchd/pkg/metrics"
)

const (
	defaultScheduledSpec = "@every 1m"
	defaultRetrySpec     = "@every 5m"
	defaultCleanupSpec   = "@daily"
	defaultRetentionDays = 30
	defaultStaleAfter    = 2 * time.Hour
	defaultBatchSize     = 500
)

// Sweeper finds work the queue lost: due scheduled notifications, attempts
// whose worker died and failures whose retry was never enqueued. It also
// purges old delivered notifications.
type Sweeper struct {
	store   *store.Store
	svc     *dispatch.Service
	enq     *Enqueuer
	backoff Backoff
	cron    *cron.Cron
	now     func() time.Time
	log     *zap.Logger

	scheduledSpec string
	retrySpec     string
	cleanupSpec   string
	retentionDays int
	staleAfter    time.Duration
	batchSize     int
}

type SweepOption func(*Sweeper)

// WithCron injects a custom cron scheduler.
func WithCron(c *cron.Cron) SweepOption {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithBackoff must match the send handler's backoff so retries that are
// merely waiting out their delay are not mistaken for lost ones.
func WithBackoff(b Backoff) SweepOption {
	return func(s *Sweeper) {
		s.backoff = b
	}
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) SweepOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSweeper(st *store.Store, svc *dispatch.Service, enq *Enqueuer, cfg config.SweepConfig, opts ...SweepOption) *Sweeper {
	s := &Sweeper{
		store:         st,
		svc:           svc,
		enq:           enq,
		now:           time.Now,
		log:           logger.WithModule("tasks.sweep"),
		scheduledSpec: orDefault(cfg.ScheduledSpec, defaultScheduledSpec),
		retrySpec:     orDefault(cfg.RetrySpec, defaultRetrySpec),
		cleanupSpec:   orDefault(cfg.CleanupSpec, defaultCleanupSpec),
		retentionDays: cfg.RetentionDays,
		staleAfter:    cfg.StaleAfter,
		batchSize:     cfg.BatchSize,
	}
	if s.retentionDays <= 0 {
		s.retentionDays = defaultRetentionDays
	}
	if s.staleAfter <= 0 {
		s.staleAfter = defaultStaleAfter
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return s
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Start registers the sweeps and launches the scheduler.
func (s *Sweeper) Start() error {
	jobs := []struct {
		spec string
		name string
		run  func(context.Context) error
	}{
		{s.scheduledSpec, "scheduled", func(ctx context.Context) error { _, err := s.SweepScheduled(ctx); return err }},
		{s.retrySpec, "retries", func(ctx context.Context) error { _, err := s.SweepRetries(ctx); return err }},
		{s.cleanupSpec, "cleanup", func(ctx context.Context) error { _, err := s.Cleanup(ctx); return err }},
	}
	for _, job := range jobs {
		job := job
		if _, err := s.cron.AddFunc(job.spec, func() {
			if err := job.run(context.Background()); err != nil {
				s.log.Warn("sweep failed", zap.String("sweep", job.name), zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler. The returned context is done once running
// sweeps have finished.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce runs every sweep in sequence.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	var errs error
	if _, err := s.SweepScheduled(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := s.SweepRetries(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := s.Cleanup(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// SweepScheduled enqueues pending notifications whose time has come.
func (s *Sweeper) SweepScheduled(ctx context.Context) (int, error) {
	due, err := s.store.DueScheduled(ctx, s.now().UTC(), s.batchSize)
	if err != nil {
		return 0, err
	}

	var errs error
	count := 0
	for i := range due {
		if err := s.enq.EnqueueSend(ctx, &due[i], 0); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		count++
	}
	metrics.SweepItems.WithLabelValues("scheduled").Add(float64(count))
	if count > 0 {
		s.log.Info("scheduled notifications enqueued", zap.Int("count", count))
	}
	return count, errs
}

// RetrySweepResult counts what SweepRetries did.
type RetrySweepResult struct {
	// Reaped queued notifications whose attempt never reported back.
	Reaped int `json:"reaped"`
	// Requeued retrying notifications whose task was lost.
	Requeued int `json:"requeued"`
	// Retried failed notifications with budget left.
	Retried int `json:"retried"`
}

func (s *Sweeper) SweepRetries(ctx context.Context) (RetrySweepResult, error) {
	var (
		res  RetrySweepResult
		errs error
	)
	cutoff := s.now().UTC().Add(-s.staleAfter)

	queued, err := s.store.Stale(ctx, models.StatusQueued, cutoff, s.batchSize)
	errs = multierr.Append(errs, err)
	for _, n := range queued {
		err := s.svc.FailStale(ctx, n.ID, cutoff)
		switch {
		case apperrors.IsLifecycle(err):
			continue
		case err != nil:
			errs = multierr.Append(errs, err)
			continue
		}
		res.Reaped++
		retried, err := s.retryNow(ctx, n.ID)
		errs = multierr.Append(errs, err)
		if retried {
			res.Retried++
		}
	}

	retrying, err := s.store.Stale(ctx, models.StatusRetrying, cutoff, s.batchSize)
	errs = multierr.Append(errs, err)
	for i := range retrying {
		n := &retrying[i]
		if n.UpdatedAt.Add(s.backoff.Delay(n.RetryCount)).After(cutoff) {
			continue // still waiting out its backoff
		}
		if err := s.enq.EnqueueSend(ctx, n, 0); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		res.Requeued++
	}

	// Only failures older than the cutoff; fresher ones are still being
	// rescheduled by the worker that recorded them.
	failed, err := s.store.RetryableFailed(ctx, cutoff, s.batchSize)
	errs = multierr.Append(errs, err)
	for _, n := range failed {
		retried, err := s.retryNow(ctx, n.ID)
		errs = multierr.Append(errs, err)
		if retried {
			res.Retried++
		}
	}

	metrics.SweepItems.WithLabelValues("reaped").Add(float64(res.Reaped))
	metrics.SweepItems.WithLabelValues("requeued").Add(float64(res.Requeued))
	metrics.SweepItems.WithLabelValues("retried").Add(float64(res.Retried))
	if res != (RetrySweepResult{}) {
		s.log.Info("retry sweep finished",
			zap.Int("reaped", res.Reaped),
			zap.Int("requeued", res.Requeued),
			zap.Int("retried", res.Retried))
	}
	return res, errs
}

func (s *Sweeper) retryNow(ctx context.Context, id string) (bool, error) {
	n, ok, err := s.svc.PrepareRetry(ctx, id)
	switch {
	case apperrors.IsLifecycle(err):
		return false, nil
	case err != nil || !ok:
		return false, err
	}
	if err := s.enq.EnqueueSend(ctx, n, 0); err != nil {
		return false, err
	}
	return true, nil
}

// Cleanup deletes delivered notifications older than the retention window
// together with their logs.
func (s *Sweeper) Cleanup(ctx context.Context) (store.PurgeResult, error) {
	before := s.now().UTC().AddDate(0, 0, -s.retentionDays)
	res, err := s.store.PurgeDelivered(ctx, before)
	if err != nil {
		return res, err
	}
	metrics.SweepItems.WithLabelValues("cleanup").Add(float64(res.Notifications))
	s.log.Info("delivered notifications purged",
		zap.Int64("notifications", res.Notifications),
		zap.Int64("logs", res.Logs))
	return res, nil
}
