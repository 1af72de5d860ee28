// Package queue is the durable boundary between the dispatch service and the
// workers. Drivers: in-process memory, Redis sorted set and RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

const TaskSendNotification = "notification.send"

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("queue: closed")

// Task is the JSON payload carried by every driver.
type Task struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	NotificationID string    `json:"notification_id"`
	Channel        string    `json:"channel"`
	Attempt        int       `json:"attempt"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

func NewSendTask(notificationID, channel string, attempt int) Task {
	return Task{
		ID:             uuid.NewString(),
		Name:           TaskSendNotification,
		NotificationID: notificationID,
		Channel:        channel,
		Attempt:        attempt,
		EnqueuedAt:     time.Now().UTC(),
	}
}

func (t Task) Marshal() ([]byte, error) {
	return json.Marshal(t)
}

func Unmarshal(b []byte) (Task, error) {
	var t Task
	err := json.Unmarshal(b, &t)
	return t, err
}

// Delivery is a task handed to a worker. Exactly one of Ack or Nack must be
// called. Nack without requeue drops the task, or dead-letters it where the
// driver supports that.
type Delivery struct {
	Task Task
	ack  func() error
	nack func(requeue bool) error
}

func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

func (d Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}

type Queue interface {
	// Enqueue makes the task visible to workers after delay.
	Enqueue(ctx context.Context, task Task, delay time.Duration) error
	// Deliveries streams tasks until ctx is done or the queue is closed.
	Deliveries(ctx context.Context) (<-chan Delivery, error)
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}
