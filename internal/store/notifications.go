package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/franzego/dispatchd/internal/models"
	apperrors "github.com/franzego/dispatchd/pkg/errors"
)

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	if err := s.conn(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (s *Store) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	var n models.Notification
	err := s.conn(ctx).Where("id = ?", id).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound.WithMessage("Notification not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load notification %s: %w", id, err)
	}
	return &n, nil
}

// Transition loads the notification, lets apply mutate it and writes the
// result back only if status and retry_count are still what was loaded.
// A non-nil attempt is appended in the same transaction, numbered from the
// retry_count seen before apply ran. Errors returned by apply are passed
// through unchanged and nothing is written.
func (s *Store) Transition(ctx context.Context, id string, apply func(*models.Notification) error, attempt *models.NotificationLog) (*models.Notification, error) {
	var out models.Notification
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var n models.Notification
		if err := tx.Where("id = ?", id).First(&n).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrNotFound.WithMessage("Notification not found")
			}
			return err
		}

		prevStatus, prevRetry := n.Status, n.RetryCount
		if err := apply(&n); err != nil {
			return err
		}

		n.UpdatedAt = time.Now().UTC()
		res := tx.Model(&models.Notification{}).
			Where("id = ? AND status = ? AND retry_count = ?", id, prevStatus, prevRetry).
			Updates(map[string]interface{}{
				"status":        n.Status,
				"retry_count":   n.RetryCount,
				"error_message": n.ErrorMessage,
				"sent_at":       n.SentAt,
				"delivered_at":  n.DeliveredAt,
				"updated_at":    n.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrConflict.WithInternal(
				fmt.Errorf("notification %s left status %q", id, prevStatus))
		}

		if attempt != nil {
			attempt.NotificationID = id
			if attempt.AttemptNumber == 0 {
				attempt.AttemptNumber = prevRetry + 1
			}
			if err := tx.Create(attempt).Error; err != nil {
				return fmt.Errorf("append attempt log: %w", err)
			}
		}

		out = n
		return nil
	})
	if err != nil {
		if apperrors.IsLifecycle(err) {
			s.log.Debug("transition rejected", zap.String("notification_id", id), zap.Error(err))
		}
		return nil, err
	}
	return &out, nil
}

// ListLogs returns the attempt history in attempt order.
func (s *Store) ListLogs(ctx context.Context, notificationID string) ([]models.NotificationLog, error) {
	var logs []models.NotificationLog
	err := s.conn(ctx).
		Where("notification_id = ?", notificationID).
		Order("attempt_number, created_at").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	return logs, nil
}

// CustomerHistory returns the most recent notifications for a customer.
func (s *Store) CustomerHistory(ctx context.Context, customerID string, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.Notification
	err := s.conn(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("customer history: %w", err)
	}
	return out, nil
}
