package tasks

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// channelLimiter keeps one token bucket per channel so a slow or
// rate-capped provider does not starve the others.
type channelLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newChannelLimiter(perSecond float64, burst int) *channelLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &channelLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

// Wait blocks until channel may send. A nil limiter never blocks.
func (l *channelLimiter) Wait(ctx context.Context, channel string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	limiter, ok := l.limiters[channel]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[channel] = limiter
	}
	l.mu.Unlock()
	return limiter.Wait(ctx)
}
