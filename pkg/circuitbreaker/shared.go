package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	fieldState    = "state"
	fieldFailures = "failures"
	fieldOpenedAt = "opened_at"

	defaultTrialTTL = time.Minute
)

// sharedBreaker keeps its state in Redis so every worker process observes the
// same breaker for a channel. The half-open trial is claimed with SET NX so only
// one process at a time may probe a recovering dependency.
type sharedBreaker struct {
	rdb      redis.UniversalClient
	settings Settings
	key      string
	trialKey string
	trialTTL time.Duration
	now      func() time.Time
	log      *zap.Logger
}

type SharedOption func(*sharedBreaker)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) SharedOption {
	return func(b *sharedBreaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithTrialTTL bounds how long a half-open trial may hold the probe slot. It
// should exceed the channel timeout.
func WithTrialTTL(ttl time.Duration) SharedOption {
	return func(b *sharedBreaker) {
		if ttl > 0 {
			b.trialTTL = ttl
		}
	}
}

func WithLogger(l *zap.Logger) SharedOption {
	return func(b *sharedBreaker) {
		if l != nil {
			b.log = l
		}
	}
}

func NewShared(rdb redis.UniversalClient, s Settings, opts ...SharedOption) Breaker {
	s = s.withDefaults()
	b := &sharedBreaker{
		rdb:      rdb,
		settings: s,
		key:      "breaker:" + s.Name,
		trialKey: "breaker:" + s.Name + ":trial",
		trialTTL: defaultTrialTTL,
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *sharedBreaker) Name() string {
	return b.settings.Name
}

type snapshot struct {
	state    State
	failures uint32
	openedAt time.Time
}

func (b *sharedBreaker) load(ctx context.Context, get func(ctx context.Context, key string) *redis.MapStringStringCmd) (snapshot, error) {
	vals, err := get(ctx, b.key).Result()
	if err != nil {
		return snapshot{}, err
	}
	snap := snapshot{state: StateClosed}
	if st, ok := vals[fieldState]; ok && st != "" {
		snap.state = State(st)
	}
	if f, ok := vals[fieldFailures]; ok {
		n, _ := strconv.ParseUint(f, 10, 32)
		snap.failures = uint32(n)
	}
	if ts, ok := vals[fieldOpenedAt]; ok {
		ms, _ := strconv.ParseInt(ts, 10, 64)
		snap.openedAt = time.UnixMilli(ms)
	}
	return snap, nil
}

func (b *sharedBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	allowed, trial, err := b.acquire(ctx)
	if err != nil {
		// Redis being unavailable must not take every channel down with it.
		b.log.Warn("shared breaker state unavailable, allowing call",
			zap.String("breaker", b.settings.Name), zap.Error(err))
		return fn(ctx)
	}
	if !allowed {
		return ErrOpen
	}

	callErr := fn(ctx)

	// Record the outcome even if the caller's context has expired.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	switch {
	case callErr == nil:
		err = b.onSuccess(recordCtx)
	case b.settings.IsFailure(callErr):
		err = b.onFailure(recordCtx)
	case trial:
		// Neutral outcome: hand the probe slot to the next caller.
		err = b.rdb.Del(recordCtx, b.trialKey).Err()
	}
	if err != nil {
		b.log.Warn("failed to record breaker outcome",
			zap.String("breaker", b.settings.Name), zap.Error(err))
	}
	return callErr
}

// acquire reports whether the call may proceed and whether it is the
// half-open trial.
func (b *sharedBreaker) acquire(ctx context.Context) (allowed, trial bool, err error) {
	snap, err := b.load(ctx, b.rdb.HGetAll)
	if err != nil {
		return false, false, err
	}

	switch snap.state {
	case StateOpen:
		if b.now().Sub(snap.openedAt) < b.settings.RecoveryTimeout {
			return false, false, nil
		}
	case StateHalfOpen:
	default:
		return true, false, nil
	}
	ok, err := b.claimTrial(ctx, snap.state)
	return ok, ok, err
}

func (b *sharedBreaker) claimTrial(ctx context.Context, from State) (bool, error) {
	ok, err := b.rdb.SetNX(ctx, b.trialKey, strconv.FormatInt(b.now().UnixMilli(), 10), b.trialTTL).Result()
	if err != nil || !ok {
		return false, err
	}
	if from != StateHalfOpen {
		if err := b.rdb.HSet(ctx, b.key, fieldState, string(StateHalfOpen)).Err(); err != nil {
			return false, err
		}
		b.changed(from, StateHalfOpen)
	}
	return true, nil
}

func (b *sharedBreaker) onSuccess(ctx context.Context) error {
	var from State
	err := b.watch(ctx, func(tx *redis.Tx) error {
		snap, err := b.load(ctx, tx.HGetAll)
		if err != nil {
			return err
		}
		from = snap.state
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, b.key, fieldState, string(StateClosed), fieldFailures, 0)
			pipe.Del(ctx, b.trialKey)
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	if from != StateClosed {
		b.changed(from, StateClosed)
	}
	return nil
}

func (b *sharedBreaker) onFailure(ctx context.Context) error {
	var from, to State
	err := b.watch(ctx, func(tx *redis.Tx) error {
		snap, err := b.load(ctx, tx.HGetAll)
		if err != nil {
			return err
		}
		from = snap.state
		failures := snap.failures + 1
		to = snap.state
		if to == "" {
			to = StateClosed
		}
		if snap.state == StateHalfOpen || failures >= b.settings.FailureThreshold {
			to = StateOpen
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, b.key, fieldFailures, failures)
			if to == StateOpen {
				pipe.HSet(ctx, b.key, fieldState, string(StateOpen), fieldOpenedAt, b.now().UnixMilli())
				pipe.Del(ctx, b.trialKey)
			}
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	if from != to {
		b.changed(from, to)
	}
	return nil
}

// watch runs fn under WATCH on the state key, retrying when another process
// modified the state between read and write.
func (b *sharedBreaker) watch(ctx context.Context, fn func(tx *redis.Tx) error) error {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		err = b.rdb.Watch(ctx, fn, b.key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (b *sharedBreaker) State(ctx context.Context) State {
	snap, err := b.load(ctx, b.rdb.HGetAll)
	if err != nil {
		return StateClosed
	}
	return snap.state
}

func (b *sharedBreaker) changed(from, to State) {
	b.log.Info("circuit breaker state changed",
		zap.String("breaker", b.settings.Name),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.settings.Name, from, to)
	}
}
