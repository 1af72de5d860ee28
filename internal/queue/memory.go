package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is a timer-driven in-process queue. Tasks do not survive a
// restart; the periodic sweeps re-enqueue whatever was lost.
type MemoryQueue struct {
	mu     sync.Mutex
	ready  chan Task
	timers map[*time.Timer]struct{}
	closed bool
	done   chan struct{}
}

func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 1024
	}
	return &MemoryQueue{
		ready:  make(chan Task, buffer),
		timers: make(map[*time.Timer]struct{}),
		done:   make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task Task, delay time.Duration) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if delay > 0 {
		var t *time.Timer
		t = time.AfterFunc(delay, func() {
			q.mu.Lock()
			delete(q.timers, t)
			q.mu.Unlock()
			_ = q.push(context.Background(), task)
		})
		q.timers[t] = struct{}{}
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()
	return q.push(ctx, task)
}

func (q *MemoryQueue) push(ctx context.Context, task Task) error {
	select {
	case q.ready <- task:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Deliveries(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.done:
				return
			case task := <-q.ready:
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
					return
				case <-q.done:
					return
				}
			}
		}
	}()
	return out, nil
}

// Len reports tasks ready for delivery, excluding delayed ones.
func (q *MemoryQueue) Len() int {
	return len(q.ready)
}

// Pending reports delayed tasks whose timers have not fired.
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

func (q *MemoryQueue) Ping(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	return nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	q.timers = nil
	close(q.done)
	return nil
}
