package dispatch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/franzego/dispatchd/internal/channels"
	"github.com/franzego/dispatchd/internal/models"
	"github.com/franzego/dispatchd/pkg/circuitbreaker"
	apperrors "github.com/franzego/dispatchd/pkg/errors"
	"github.com/franzego/dispatchd/pkg/metrics"
)

var errNotDue = errors.New("notification is not due yet")

// Send performs one delivery attempt. It first claims the notification with
// a status compare-and-set (pending or retrying to queued), so concurrent
// calls for the same id produce one attempt and one log row.
func (s *Service) Send(ctx context.Context, id string) (Outcome, error) {
	now := s.now()
	n, err := s.store.Transition(ctx, id, func(n *models.Notification) error {
		if n.Status == models.StatusPending && n.ScheduledAt.After(now) {
			return errNotDue
		}
		return n.Enqueue()
	}, nil)
	switch {
	case errors.Is(err, errNotDue):
		return OutcomeDeferred, nil
	case apperrors.IsLifecycle(err):
		s.log.Debug("send skipped, notification not claimable", zap.String("notification_id", id), zap.Error(err))
		return OutcomeSkipped, nil
	case err != nil:
		return "", err
	}

	ch, err := s.registry.Resolve(n.Channel)
	if err != nil {
		return s.abandon(ctx, n, err)
	}
	if !ch.ValidateRecipient(n.Recipient) {
		return s.abandon(ctx, n, apperrors.ErrInvalidRecipient)
	}

	msg := channels.Message{
		Recipient: n.Recipient,
		Subject:   n.Subject,
		Body:      n.Body,
		Options:   s.registry.Options(n.Channel, n),
	}

	var resp *channels.Response
	start := time.Now()
	err = s.breakers.Get(n.Channel).Execute(ctx, func(ctx context.Context) error {
		r, err := ch.Send(ctx, msg)
		resp = r
		return err
	})
	metrics.SendLatency.WithLabelValues(n.Channel).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		return s.recordSuccess(ctx, n, resp)
	case errors.Is(err, apperrors.ErrChannelMisconfigured):
		return s.abandon(ctx, n, err)
	case errors.Is(err, circuitbreaker.ErrOpen):
		metrics.SendAttempts.WithLabelValues(n.Channel, "circuit_open").Inc()
		return s.recordFailure(ctx, n, apperrors.ErrCircuitOpen.WithInternal(err))
	default:
		metrics.SendAttempts.WithLabelValues(n.Channel, "failed").Inc()
		return s.recordFailure(ctx, n, err)
	}
}

func (s *Service) recordSuccess(ctx context.Context, n *models.Notification, resp *channels.Response) (Outcome, error) {
	if resp == nil {
		resp = &channels.Response{}
	}
	now := s.now()
	entry := &models.NotificationLog{Status: models.StatusSent, ResponseData: resp.Data}
	if resp.Delivered {
		entry.Status = models.StatusDelivered
	}

	updated, err := s.store.Transition(ctx, n.ID, func(n *models.Notification) error {
		if err := n.MarkSent(now); err != nil {
			return err
		}
		if resp.Delivered {
			return n.MarkDelivered(now)
		}
		return nil
	}, entry)
	if err != nil {
		// The message left the process but the record moved underneath us,
		// e.g. it was cancelled mid-send.
		s.log.Error("could not record successful send",
			zap.String("notification_id", n.ID), zap.String("channel", n.Channel), zap.Error(err))
		return OutcomeSkipped, err
	}

	metrics.SendAttempts.WithLabelValues(n.Channel, string(updated.Status)).Inc()
	s.log.Info("notification sent",
		zap.String("notification_id", n.ID),
		zap.String("channel", n.Channel),
		zap.String("status", string(updated.Status)),
		zap.Int("attempt", entry.AttemptNumber))
	if updated.Status == models.StatusDelivered {
		return OutcomeDelivered, nil
	}
	return OutcomeSent, nil
}

func (s *Service) recordFailure(ctx context.Context, n *models.Notification, cause error) (Outcome, error) {
	reason := cause.Error()
	entry := &models.NotificationLog{
		Status:       models.StatusFailed,
		ErrorMessage: reason,
		ResponseData: map[string]interface{}{"error_code": apperrors.FromError(cause).Code},
	}
	updated, err := s.store.Transition(ctx, n.ID, func(n *models.Notification) error {
		return n.MarkFailed(reason)
	}, entry)
	if err != nil {
		s.log.Error("could not record failed send", zap.String("notification_id", n.ID), zap.Error(err))
		return OutcomeSkipped, err
	}

	s.log.Warn("notification send failed",
		zap.String("notification_id", n.ID),
		zap.String("channel", n.Channel),
		zap.Int("retry_count", updated.RetryCount),
		zap.Int("max_retries", updated.MaxRetries),
		zap.Error(cause))
	return OutcomeRetryable, nil
}

// abandon fails the notification permanently. Used when the configuration,
// not the remote side, is broken.
func (s *Service) abandon(ctx context.Context, n *models.Notification, cause error) (Outcome, error) {
	reason := cause.Error()
	entry := &models.NotificationLog{
		Status:       models.StatusFailed,
		ErrorMessage: reason,
		ResponseData: map[string]interface{}{"error_code": apperrors.FromError(cause).Code, "terminal": true},
	}
	if _, err := s.store.Transition(ctx, n.ID, func(n *models.Notification) error {
		return n.Abandon(reason)
	}, entry); err != nil {
		s.log.Error("could not abandon notification", zap.String("notification_id", n.ID), zap.Error(err))
		return OutcomeSkipped, err
	}

	metrics.SendAttempts.WithLabelValues(n.Channel, "terminal").Inc()
	s.log.Error("notification failed permanently",
		zap.String("notification_id", n.ID),
		zap.String("channel", n.Channel),
		zap.Error(cause))
	return OutcomeTerminal, nil
}

// PrepareRetry moves a failed notification with budget left to retrying.
// It returns false without error when the budget is spent.
func (s *Service) PrepareRetry(ctx context.Context, id string) (*models.Notification, bool, error) {
	n, err := s.store.Transition(ctx, id, func(n *models.Notification) error {
		if n.Status == models.StatusFailed && !n.CanRetry() {
			return errExhausted
		}
		return n.IncrementRetry()
	}, nil)
	switch {
	case errors.Is(err, errExhausted):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	metrics.TaskRetries.WithLabelValues(n.Channel).Inc()
	return n, true, nil
}

var errExhausted = errors.New("retry budget exhausted")

// ConfirmDelivery records an out-of-band delivery confirmation, for example
// a provider webhook. It appends no attempt log.
func (s *Service) ConfirmDelivery(ctx context.Context, id string) (*models.Notification, error) {
	now := s.now()
	n, err := s.store.Transition(ctx, id, func(n *models.Notification) error {
		return n.MarkDelivered(now)
	}, nil)
	if err != nil {
		if apperrors.IsLifecycle(err) {
			s.log.Error("delivery confirmation rejected", zap.String("notification_id", id), zap.Error(err))
		}
		return nil, err
	}
	return n, nil
}

// Cancel prevents any future attempt. A send already in flight completes.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*models.Notification, error) {
	if reason == "" {
		reason = "cancelled"
	}
	n, err := s.store.Transition(ctx, id, func(n *models.Notification) error {
		return n.Abandon(reason)
	}, nil)
	if err != nil {
		if apperrors.IsLifecycle(err) {
			s.log.Error("cancel rejected", zap.String("notification_id", id), zap.Error(err))
		}
		return nil, err
	}
	s.log.Info("notification cancelled", zap.String("notification_id", id), zap.String("reason", reason))
	return n, nil
}

// FailStale fails a notification that has sat in queued past the stale
// window, meaning a worker claimed it and never recorded an outcome. The
// attempt is logged as failed with unknown outcome.
func (s *Service) FailStale(ctx context.Context, id string, staleSince time.Time) error {
	reason := "attempt outcome unknown: worker did not report back"
	_, err := s.store.Transition(ctx, id, func(n *models.Notification) error {
		if n.Status != models.StatusQueued || !n.UpdatedAt.Before(staleSince) {
			return apperrors.ErrConflict.WithMessage("Notification is no longer stale")
		}
		return n.MarkFailed(reason)
	}, &models.NotificationLog{
		Status:       models.StatusFailed,
		ErrorMessage: reason,
		ResponseData: map[string]interface{}{"stale": true},
	})
	if err != nil {
		return err
	}
	s.log.Warn("stale queued notification failed", zap.String("notification_id", id))
	return nil
}
