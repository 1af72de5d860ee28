package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failing(calls *int32) func(context.Context) error {
	return func(context.Context) error {
		atomic.AddInt32(calls, 1)
		return errBoom
	}
}

func TestLocalBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewLocal(Settings{Name: "telegram", FailureThreshold: 3, RecoveryTimeout: time.Hour})
	ctx := context.Background()

	var calls int32
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(ctx, failing(&calls)), errBoom)
	}
	assert.Equal(t, StateOpen, b.State(ctx))

	err := b.Execute(ctx, failing(&calls))
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "rejected call must not reach the channel")
}

func TestLocalBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewLocal(Settings{Name: "email", FailureThreshold: 2, RecoveryTimeout: time.Hour})
	ctx := context.Background()
	var calls int32

	require.Error(t, b.Execute(ctx, failing(&calls)))
	require.NoError(t, b.Execute(ctx, func(context.Context) error { return nil }))
	require.Error(t, b.Execute(ctx, failing(&calls)))

	assert.Equal(t, StateClosed, b.State(ctx))
}

func TestLocalBreakerHalfOpenAllowsSingleTrial(t *testing.T) {
	b := NewLocal(Settings{Name: "email", FailureThreshold: 1, RecoveryTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	var calls int32

	require.ErrorIs(t, b.Execute(ctx, failing(&calls)), errBoom)
	time.Sleep(40 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.Equal(t, StateHalfOpen, b.State(ctx))
	assert.ErrorIs(t, b.Execute(ctx, failing(&calls)), ErrOpen, "second trial must be rejected")

	close(release)
	wg.Wait()
	assert.Equal(t, StateClosed, b.State(ctx))
}

func TestLocalBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewLocal(Settings{Name: "email", FailureThreshold: 2, RecoveryTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	var calls int32

	require.Error(t, b.Execute(ctx, failing(&calls)))
	require.Error(t, b.Execute(ctx, failing(&calls)))
	time.Sleep(40 * time.Millisecond)

	require.ErrorIs(t, b.Execute(ctx, failing(&calls)), errBoom)
	assert.Equal(t, StateOpen, b.State(ctx))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCancellationDoesNotTrip(t *testing.T) {
	b := NewLocal(Settings{Name: "email", FailureThreshold: 1, RecoveryTimeout: time.Hour})
	ctx := context.Background()

	err := b.Execute(ctx, func(context.Context) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State(ctx))
}

func TestLocalBreakerIgnoresExcludedErrors(t *testing.T) {
	b := NewLocal(Settings{Name: "email", FailureThreshold: 2, RecoveryTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	var calls int32
	cancelled := func(context.Context) error { return context.Canceled }

	require.Error(t, b.Execute(ctx, failing(&calls)))
	require.ErrorIs(t, b.Execute(ctx, cancelled), context.Canceled)
	require.Error(t, b.Execute(ctx, failing(&calls)))
	require.Equal(t, StateOpen, b.State(ctx), "cancellation must not reset the failure streak")

	time.Sleep(40 * time.Millisecond)
	require.ErrorIs(t, b.Execute(ctx, cancelled), context.Canceled)
	assert.Equal(t, StateHalfOpen, b.State(ctx), "a cancelled trial must not close the breaker")

	require.NoError(t, b.Execute(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, StateClosed, b.State(ctx))
}

func TestGroupIsolatesBreakers(t *testing.T) {
	var transitions []string
	var mu sync.Mutex
	g := NewGroup(LocalFactory(Settings{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			transitions = append(transitions, name+":"+string(to))
			mu.Unlock()
		},
	}))
	ctx := context.Background()
	var calls int32

	require.Error(t, g.Get("telegram").Execute(ctx, failing(&calls)))
	require.NoError(t, g.Get("email").Execute(ctx, func(context.Context) error { return nil }))

	assert.Same(t, g.Get("telegram"), g.Get("telegram"))
	assert.Equal(t, map[string]State{"email": StateClosed, "telegram": StateOpen}, g.States(ctx))
	assert.Equal(t, []string{"telegram:open"}, transitions)
}
