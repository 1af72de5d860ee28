package tasks

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/franzego/dispatchd/internal/dispatch"
	"github.com/franzego/dispatchd/internal/queue"
	apperrors "github.com/franzego/dispatchd/pkg/errors"
	"github.com/franzego/dispatchd/pkg/logger"
)

const minDeferDelay = time.Second

// SendHandler performs one attempt per task and schedules the next one
// when the attempt failed with budget left.
type SendHandler struct {
	svc     *dispatch.Service
	enq     *Enqueuer
	backoff Backoff
	now     func() time.Time
	log     *zap.Logger
}

func NewSendHandler(svc *dispatch.Service, enq *Enqueuer, backoff Backoff) *SendHandler {
	return &SendHandler{
		svc:     svc,
		enq:     enq,
		backoff: backoff,
		now:     time.Now,
		log:     logger.WithModule("tasks.send"),
	}
}

func (h *SendHandler) Handle(ctx context.Context, task queue.Task) error {
	outcome, err := h.svc.Send(ctx, task.NotificationID)
	if err != nil {
		return err
	}

	switch outcome {
	case dispatch.OutcomeRetryable:
		return h.scheduleRetry(ctx, task.NotificationID)
	case dispatch.OutcomeDeferred:
		return h.deferUntilDue(ctx, task)
	default:
		return nil
	}
}

func (h *SendHandler) scheduleRetry(ctx context.Context, id string) error {
	n, ok, err := h.svc.PrepareRetry(ctx, id)
	switch {
	case apperrors.IsLifecycle(err):
		// a sweep or cancel got there first
		h.log.Debug("retry already handled", zap.String("notification_id", id), zap.Error(err))
		return nil
	case err != nil:
		return err
	case !ok:
		h.log.Warn("retry budget exhausted, notification stays failed", zap.String("notification_id", id))
		return nil
	}

	delay := h.backoff.Delay(n.RetryCount)
	h.log.Info("retry scheduled",
		zap.String("notification_id", id),
		zap.Int("retry_count", n.RetryCount),
		zap.Duration("delay", delay))
	return h.enq.EnqueueSend(ctx, n, delay)
}

func (h *SendHandler) deferUntilDue(ctx context.Context, task queue.Task) error {
	n, err := h.svc.Get(ctx, task.NotificationID)
	if err != nil {
		return err
	}
	delay := n.ScheduledAt.Sub(h.now())
	if delay < minDeferDelay {
		delay = minDeferDelay
	}
	return h.enq.Requeue(ctx, task, delay)
}
