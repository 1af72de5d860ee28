package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrOpen is returned when a call is rejected without being attempted.
var ErrOpen = errors.New("circuit breaker is open")

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker guards calls to a single dependency.
type Breaker interface {
	Name() string
	// Execute runs fn unless the breaker is open. Rejections return ErrOpen
	// and do not count as failures.
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
	State(ctx context.Context) State
}

type Settings struct {
	Name             string
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
	// IsFailure decides whether an error returned by fn counts toward tripping.
	// Errors it rejects are neutral: they neither trip nor close the breaker.
	// Defaults to every error except caller cancellation.
	IsFailure     func(err error) bool
	OnStateChange func(name string, from, to State)
}

const (
	defaultFailureThreshold = 3
	defaultRecoveryTimeout  = 300 * time.Second
)

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = defaultFailureThreshold
	}
	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = defaultRecoveryTimeout
	}
	if s.IsFailure == nil {
		s.IsFailure = countsAsFailure
	}
	return s
}

func countsAsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

type localBreaker struct {
	cb *gobreaker.CircuitBreaker[struct{}]
}

// NewLocal returns an in-process breaker. State resets on restart and is not
// shared between processes.
func NewLocal(s Settings) Breaker {
	s = s.withDefaults()
	threshold := s.FailureThreshold
	settings := gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
		IsExcluded: func(err error) bool {
			return err != nil && !s.IsFailure(err)
		},
	}
	if s.OnStateChange != nil {
		notify := s.OnStateChange
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			notify(name, fromGobreaker(from), fromGobreaker(to))
		}
	}
	return &localBreaker{cb: gobreaker.NewCircuitBreaker[struct{}](settings)}
}

func (b *localBreaker) Name() string {
	return b.cb.Name()
}

func (b *localBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

func (b *localBreaker) State(context.Context) State {
	return fromGobreaker(b.cb.State())
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
