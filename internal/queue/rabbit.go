package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/franzego/dispatchd/internal/config"
	"github.com/franzego/dispatchd/pkg/logger"
)

// amqpChannel is the subset of *amqp.Channel the driver uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// RabbitQueue publishes tasks to a direct exchange. Delayed tasks go to a
// delay queue whose messages expire and dead-letter back to the send queue.
// Tasks nacked without requeue dead-letter to the failed queue.
type RabbitQueue struct {
	conn    *amqp.Connection
	channel amqpChannel
	cfg     config.RabbitMQConfig
	log     *zap.Logger

	mu        sync.RWMutex
	connected bool
}

func NewRabbitQueue(cfg config.RabbitMQConfig) (*RabbitQueue, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	q := newRabbitQueue(ch, cfg)
	q.conn = conn
	if err := q.SetUpExchangeAndQueues(); err != nil {
		q.Close()
		return nil, err
	}
	return q, nil
}

func newRabbitQueue(ch amqpChannel, cfg config.RabbitMQConfig) *RabbitQueue {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	return &RabbitQueue{
		channel:   ch,
		cfg:       cfg,
		log:       logger.WithModule("queue.rabbitmq"),
		connected: true,
	}
}

func (r *RabbitQueue) SetUpExchangeAndQueues() error {
	if err := r.channel.ExchangeDeclare(
		r.cfg.Exchange,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", r.cfg.Exchange, err)
	}

	queues := []struct {
		name string
		args amqp.Table
		bind bool
	}{
		{name: r.cfg.FailedQueue, bind: true},
		{name: r.cfg.SendQueue, bind: true, args: amqp.Table{
			"x-dead-letter-exchange":    r.cfg.Exchange,
			"x-dead-letter-routing-key": r.cfg.FailedQueue,
		}},
		// published to through the default exchange, never bound
		{name: r.cfg.DelayQueue, args: amqp.Table{
			"x-dead-letter-exchange":    r.cfg.Exchange,
			"x-dead-letter-routing-key": r.cfg.SendQueue,
		}},
	}
	for _, q := range queues {
		if _, err := r.channel.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
		if !q.bind {
			continue
		}
		if err := r.channel.QueueBind(q.name, q.name, r.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", q.name, err)
		}
	}
	return nil
}

func (r *RabbitQueue) Enqueue(ctx context.Context, task Task, delay time.Duration) error {
	body, err := task.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    task.ID,
		Type:         task.Name,
		Timestamp:    time.Now(),
	}

	exchange, key := r.cfg.Exchange, r.cfg.SendQueue
	if delay > 0 {
		exchange, key = "", r.cfg.DelayQueue
		msg.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
	}
	if err := r.channel.PublishWithContext(ctx, exchange, key, false, false, msg); err != nil {
		r.setConnected(false)
		return fmt.Errorf("failed to publish task: %w", err)
	}
	r.setConnected(true)
	return nil
}

func (r *RabbitQueue) Deliveries(ctx context.Context) (<-chan Delivery, error) {
	if err := r.channel.Qos(r.cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set prefetch: %w", err)
	}
	msgs, err := r.channel.Consume(r.cfg.SendQueue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", r.cfg.SendQueue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					r.setConnected(false)
					return
				}
				task, err := Unmarshal(m.Body)
				if err != nil {
					r.log.Error("dead-lettering malformed task", zap.Error(err))
					_ = m.Nack(false, false)
					continue
				}
				d := Delivery{
					Task: task,
					ack:  func() error { return m.Ack(false) },
					nack: func(requeue bool) error { return m.Nack(false, requeue) },
				}
				select {
				case out <- d:
				case <-ctx.Done():
					_ = m.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *RabbitQueue) setConnected(v bool) {
	r.mu.Lock()
	r.connected = v
	r.mu.Unlock()
}

func (r *RabbitQueue) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.conn != nil && r.conn.IsClosed() {
		return false
	}
	return r.connected
}

func (r *RabbitQueue) Ping(context.Context) error {
	if !r.IsConnected() {
		return fmt.Errorf("rabbitmq connection is closed")
	}
	return nil
}

func (r *RabbitQueue) Close() error {
	r.setConnected(false)
	err := r.channel.Close()
	if r.conn != nil {
		if cerr := r.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
