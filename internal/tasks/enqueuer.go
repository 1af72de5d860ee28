// Package tasks runs the asynchronous side of dispatch: it moves
// notifications onto the queue, drains the queue with a worker pool and
// periodically sweeps the store for work the queue lost.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/franzego/dispatchd/internal/models"
	"github.com/franzego/dispatchd/internal/queue"
	"github.com/franzego/dispatchd/pkg/logger"
)

const defaultDedupeTTL = 10 * time.Minute

// Deduper suppresses repeated enqueues of the same attempt. It is an
// optimisation only; the status compare-and-set in Send is what prevents a
// second delivery.
type Deduper interface {
	// Claim records key and reports whether it was unseen within ttl.
	Claim(ctx context.Context, key string, ttl time.Duration) bool
	Release(ctx context.Context, key string)
}

// RedisDeduper shares claims across processes with SET NX EX. Redis errors
// fail open.
type RedisDeduper struct {
	rdb redis.UniversalClient
	log *zap.Logger
}

func NewRedisDeduper(rdb redis.UniversalClient) *RedisDeduper {
	return &RedisDeduper{rdb: rdb, log: logger.WithModule("tasks.dedupe")}
}

func (d *RedisDeduper) Claim(ctx context.Context, key string, ttl time.Duration) bool {
	ok, err := d.rdb.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		d.log.Warn("dedupe check failed, enqueueing anyway", zap.String("key", key), zap.Error(err))
		return true
	}
	return ok
}

func (d *RedisDeduper) Release(ctx context.Context, key string) {
	if err := d.rdb.Del(ctx, key).Err(); err != nil {
		d.log.Warn("dedupe release failed", zap.String("key", key), zap.Error(err))
	}
}

// MemoryDeduper is the single-process fallback when Redis is not configured.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]time.Time), now: time.Now}
}

func (d *MemoryDeduper) Claim(_ context.Context, key string, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, exp := range d.seen {
		if !exp.After(now) {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = now.Add(ttl)
	return true
}

func (d *MemoryDeduper) Release(_ context.Context, key string) {
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}

// Enqueuer puts send tasks on the queue. It satisfies dispatch.Enqueuer.
type Enqueuer struct {
	queue  queue.Queue
	dedupe Deduper
	ttl    time.Duration
	log    *zap.Logger
}

type EnqueuerOption func(*Enqueuer)

func WithDeduper(d Deduper, ttl time.Duration) EnqueuerOption {
	return func(e *Enqueuer) {
		e.dedupe = d
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

func NewEnqueuer(q queue.Queue, opts ...EnqueuerOption) *Enqueuer {
	e := &Enqueuer{
		queue: q,
		ttl:   defaultDedupeTTL,
		log:   logger.WithModule("tasks.enqueue"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func dedupeKey(n *models.Notification) string {
	return fmt.Sprintf("notification:enqueued:%s:%d", n.ID, n.RetryCount)
}

// EnqueueSend schedules one delivery attempt for n after delay. A repeat
// for the same attempt within the dedupe window is dropped silently.
func (e *Enqueuer) EnqueueSend(ctx context.Context, n *models.Notification, delay time.Duration) error {
	key := dedupeKey(n)
	if e.dedupe != nil && !e.dedupe.Claim(ctx, key, e.ttl) {
		e.log.Debug("send already enqueued", zap.String("notification_id", n.ID), zap.Int("retry_count", n.RetryCount))
		return nil
	}

	task := queue.NewSendTask(n.ID, n.Channel, n.AttemptNumber())
	if err := e.queue.Enqueue(ctx, task, delay); err != nil {
		if e.dedupe != nil {
			e.dedupe.Release(ctx, key)
		}
		return fmt.Errorf("enqueue notification %s: %w", n.ID, err)
	}
	e.log.Debug("send enqueued",
		zap.String("notification_id", n.ID),
		zap.String("channel", n.Channel),
		zap.Duration("delay", delay))
	return nil
}

// Requeue puts an already delivered task back without dedupe.
func (e *Enqueuer) Requeue(ctx context.Context, task queue.Task, delay time.Duration) error {
	task.EnqueuedAt = time.Now().UTC()
	return e.queue.Enqueue(ctx, task, delay)
}
