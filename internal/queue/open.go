package queue

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/franzego/dispatchd/internal/config"
)

// Open builds the driver selected by cfg.Queue.Driver. rdb is required for
// the redis driver only.
func Open(cfg *config.Config, rdb redis.UniversalClient) (Queue, error) {
	switch cfg.Queue.Driver {
	case "", "memory":
		return NewMemoryQueue(0), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("queue driver redis requires redis.addr")
		}
		return NewRedisQueue(rdb, WithPollInterval(cfg.Queue.PollInterval)), nil
	case "rabbitmq", "amqp":
		return NewRabbitQueue(cfg.RabbitMQ)
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", cfg.Queue.Driver)
	}
}
