package tasks

import "time"

const (
	defaultRetryBase = 60 * time.Second
	defaultRetryMax  = 6 * time.Hour
)

// Backoff is base * 2^retryCount, capped at Max. retryCount is the value
// after the increment, so the first retry waits 2*Base.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b Backoff) Delay(retryCount int) time.Duration {
	base, max := b.Base, b.Max
	if base <= 0 {
		base = defaultRetryBase
	}
	if max <= 0 {
		max = defaultRetryMax
	}
	if retryCount < 0 {
		retryCount = 0
	}

	d := base
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
