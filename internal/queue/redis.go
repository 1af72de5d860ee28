package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/franzego/dispatchd/pkg/logger"
)

const defaultRedisKey = "dispatchd:tasks"

// RedisQueue keeps tasks in a sorted set scored by due time in unix millis.
// A worker claims a due task by removing it with ZREM; only the caller that
// removed the member gets the delivery.
type RedisQueue struct {
	rdb          redis.UniversalClient
	key          string
	pollInterval time.Duration
	batch        int64
	now          func() time.Time
	log          *zap.Logger
}

type RedisOption func(*RedisQueue)

func WithRedisKey(key string) RedisOption {
	return func(q *RedisQueue) {
		if key != "" {
			q.key = key
		}
	}
}

func WithPollInterval(d time.Duration) RedisOption {
	return func(q *RedisQueue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

func WithRedisClock(now func() time.Time) RedisOption {
	return func(q *RedisQueue) {
		if now != nil {
			q.now = now
		}
	}
}

func NewRedisQueue(rdb redis.UniversalClient, opts ...RedisOption) *RedisQueue {
	q := &RedisQueue{
		rdb:          rdb,
		key:          defaultRedisKey,
		pollInterval: time.Second,
		batch:        50,
		now:          time.Now,
		log:          logger.WithModule("queue.redis"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *RedisQueue) Enqueue(ctx context.Context, task Task, delay time.Duration) error {
	payload, err := task.Marshal()
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	due := q.now().Add(delay).UnixMilli()
	if err := q.rdb.ZAdd(ctx, q.key, redis.Z{Score: float64(due), Member: payload}).Err(); err != nil {
		return fmt.Errorf("redis enqueue: %w", err)
	}
	return nil
}

// claimDue pops up to batch due tasks.
func (q *RedisQueue) claimDue(ctx context.Context) ([]Task, error) {
	members, err := q.rdb.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.now().UnixMilli(), 10),
		Count: q.batch,
	}).Result()
	if err != nil {
		return nil, err
	}

	tasks := make([]Task, 0, len(members))
	for _, m := range members {
		removed, err := q.rdb.ZRem(ctx, q.key, m).Result()
		if err != nil {
			return tasks, err
		}
		if removed == 0 {
			continue // another worker got it
		}
		task, err := Unmarshal([]byte(m))
		if err != nil {
			q.log.Error("dropping malformed task", zap.Error(err))
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (q *RedisQueue) Deliveries(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		ticker := time.NewTicker(q.pollInterval)
		defer ticker.Stop()
		for {
			tasks, err := q.claimDue(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				q.log.Warn("redis queue poll failed", zap.Error(err))
			}
			for _, task := range tasks {
				task := task
				d := Delivery{
					Task: task,
					nack: func(requeue bool) error {
						if !requeue {
							return nil
						}
						return q.Enqueue(context.Background(), task, 0)
					},
				}
				select {
				case out <- d:
				case <-ctx.Done():
					// hand the claimed task back so it is not lost
					_ = q.Enqueue(context.Background(), task, 0)
					return
				}
			}
			if len(tasks) > 0 {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out, nil
}

// Len reports all tasks in the set, due or not.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, q.key).Result()
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Close is a no-op; the Redis client is owned by the caller.
func (q *RedisQueue) Close() error {
	return nil
}
