// Package dispatch turns "send template X to recipient R" into persisted,
// retried and breaker-guarded deliveries.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/franzego/dispatchd/internal/channels"
	"github.com/franzego/dispatchd/internal/models"
	"github.com/franzego/dispatchd/internal/render"
	"github.com/franzego/dispatchd/internal/store"
	"github.com/franzego/dispatchd/pkg/circuitbreaker"
	apperrors "github.com/franzego/dispatchd/pkg/errors"
	"github.com/franzego/dispatchd/pkg/logger"
	"github.com/franzego/dispatchd/pkg/metrics"
)

// Outcome is the result of one Send call. The task layer decides what to do
// next from it; Send never asks to be rescheduled by returning an error.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeDelivered Outcome = "delivered"
	// OutcomeRetryable means the attempt failed and the notification is failed
	// with retry budget possibly left.
	OutcomeRetryable Outcome = "retryable"
	// OutcomeTerminal means the notification was failed permanently.
	OutcomeTerminal Outcome = "terminal"
	// OutcomeSkipped means another worker owns the notification or it is no
	// longer sendable. Nothing was written.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDeferred means scheduled_at is still in the future.
	OutcomeDeferred Outcome = "deferred"
)

// Enqueuer hands a notification to the async task layer.
type Enqueuer interface {
	EnqueueSend(ctx context.Context, n *models.Notification, delay time.Duration) error
}

type Service struct {
	store      *store.Store
	registry   *channels.Registry
	breakers   *circuitbreaker.Group
	renderer   *render.Renderer
	validate   *validator.Validate
	enqueuer   Enqueuer
	maxRetries int
	now        func() time.Time
	log        *zap.Logger
}

type Option func(*Service)

func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithEnqueuer makes Create hand due notifications straight to the queue.
// Without it notifications wait for the scheduled sweep.
func WithEnqueuer(e Enqueuer) Option {
	return func(s *Service) {
		s.enqueuer = e
	}
}

func NewService(st *store.Store, registry *channels.Registry, breakers *circuitbreaker.Group, renderer *render.Renderer, opts ...Option) *Service {
	s := &Service{
		store:      st,
		registry:   registry,
		breakers:   breakers,
		renderer:   renderer,
		validate:   validator.New(),
		maxRetries: models.DefaultMaxRetries,
		now:        func() time.Time { return time.Now().UTC() },
		log:        logger.WithModule("dispatch"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.renderer == nil {
		s.renderer = render.New(s.log)
	}
	return s
}

// SetEnqueuer wires the task layer after both sides are constructed.
func (s *Service) SetEnqueuer(e Enqueuer) {
	s.enqueuer = e
}

func (s *Service) Get(ctx context.Context, id string) (*models.Notification, error) {
	return s.store.GetNotification(ctx, id)
}

func (s *Service) Logs(ctx context.Context, id string) ([]models.NotificationLog, error) {
	if _, err := s.store.GetNotification(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListLogs(ctx, id)
}

func (s *Service) BreakerStates(ctx context.Context) map[string]circuitbreaker.State {
	return s.breakers.States(ctx)
}

func (s *Service) Stats(ctx context.Context, since time.Time) (*store.DeliveryStats, error) {
	return s.store.DeliveryStats(ctx, since)
}

func (s *Service) CustomerHistory(ctx context.Context, customerID string, limit int) ([]models.Notification, error) {
	return s.store.CustomerHistory(ctx, customerID, limit)
}

// BreakerSettings builds per-channel breaker settings. Misconfiguration and
// caller cancellation are not the remote side's fault and do not trip it.
func BreakerSettings(threshold uint32, recovery time.Duration) circuitbreaker.Settings {
	return circuitbreaker.Settings{
		FailureThreshold: threshold,
		RecoveryTimeout:  recovery,
		IsFailure: func(err error) bool {
			return err != nil &&
				!errors.Is(err, context.Canceled) &&
				!errors.Is(err, apperrors.ErrChannelMisconfigured)
		},
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(breakerGauge(to))
			logger.WithModule("dispatch").Warn("circuit breaker state changed",
				zap.String("channel", name),
				zap.String("from", string(from)),
				zap.String("to", string(to)))
		},
	}
}

func breakerGauge(s circuitbreaker.State) float64 {
	switch s {
	case circuitbreaker.StateOpen:
		return 2
	case circuitbreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}
