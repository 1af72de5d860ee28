package tasks

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/franzego/dispatchd/internal/queue"
	"github.com/franzego/dispatchd/pkg/logger"
)

// Handler processes one task. A returned error nacks the delivery without
// requeue; the sweeps pick the notification up again from the store.
type Handler interface {
	Handle(ctx context.Context, task queue.Task) error
}

type HandlerFunc func(ctx context.Context, task queue.Task) error

func (f HandlerFunc) Handle(ctx context.Context, task queue.Task) error {
	return f(ctx, task)
}

// Worker drains a queue with a fixed pool of goroutines.
type Worker struct {
	queue       queue.Queue
	concurrency int
	limiter     *channelLimiter
	log         *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

type WorkerOption func(*Worker)

func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithRateLimit caps sends per channel. perSecond <= 0 disables limiting.
func WithRateLimit(perSecond float64, burst int) WorkerOption {
	return func(w *Worker) {
		w.limiter = newChannelLimiter(perSecond, burst)
	}
}

func WithWorkerLogger(l *zap.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.log = l
		}
	}
}

func NewWorker(q queue.Queue, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:       q,
		concurrency: 1,
		handlers:    make(map[string]Handler),
		log:         logger.WithModule("tasks.worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) RegisterHandler(name string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[name] = h
}

func (w *Worker) handler(name string) (Handler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[name]
	return h, ok
}

// Run returns a function suitable for errgroup. It blocks until ctx is done
// and in-flight tasks have finished.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		deliveries, err := w.queue.Deliveries(ctx)
		if err != nil {
			return err
		}
		w.log.Info("worker started", zap.Int("concurrency", w.concurrency))

		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < w.concurrency; i++ {
			g.Go(func() error {
				for d := range deliveries {
					w.process(gctx, d)
				}
				return nil
			})
		}
		err = g.Wait()
		w.log.Info("worker stopped")
		return err
	}
}

func (w *Worker) process(ctx context.Context, d queue.Delivery) {
	task := d.Task
	log := w.log.With(
		zap.String("task_id", task.ID),
		zap.String("notification_id", task.NotificationID),
		zap.String("channel", task.Channel))

	h, ok := w.handler(task.Name)
	if !ok {
		log.Error("no handler for task", zap.String("task", task.Name))
		w.nack(log, d, false)
		return
	}

	if err := w.limiter.Wait(ctx, task.Channel); err != nil {
		// shutting down; give the task back
		w.nack(log, d, true)
		return
	}

	// An attempt that has started runs to completion; channel timeouts bound it.
	if err := h.Handle(context.WithoutCancel(ctx), task); err != nil {
		log.Error("task failed", zap.Int("attempt", task.Attempt), zap.Error(err))
		w.nack(log, d, false)
		return
	}
	if err := d.Ack(); err != nil {
		log.Warn("ack failed", zap.Error(err))
	}
}

func (w *Worker) nack(log *zap.Logger, d queue.Delivery, requeue bool) {
	if err := d.Nack(requeue); err != nil {
		log.Warn("nack failed", zap.Bool("requeue", requeue), zap.Error(err))
	}
}
