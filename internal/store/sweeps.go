package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/franzego/dispatchd/internal/models"
)

// DueScheduled lists pending notifications whose scheduled_at has passed,
// most urgent first.
func (s *Store) DueScheduled(ctx context.Context, now time.Time, limit int) ([]models.Notification, error) {
	var out []models.Notification
	err := s.conn(ctx).
		Where("status = ? AND scheduled_at <= ?", models.StatusPending, now).
		Order("priority_rank, scheduled_at").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("due scheduled: %w", err)
	}
	return out, nil
}

// RetryableFailed lists failed notifications that still have retry budget
// and have not changed since before the cutoff.
func (s *Store) RetryableFailed(ctx context.Context, before time.Time, limit int) ([]models.Notification, error) {
	var out []models.Notification
	err := s.conn(ctx).
		Where("status = ? AND retry_count < max_retries AND updated_at < ?", models.StatusFailed, before).
		Order("priority_rank, updated_at").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("retryable failed: %w", err)
	}
	return out, nil
}

// Stale lists notifications stuck in status since before the cutoff.
func (s *Store) Stale(ctx context.Context, status models.Status, before time.Time, limit int) ([]models.Notification, error) {
	var out []models.Notification
	err := s.conn(ctx).
		Where("status = ? AND updated_at < ?", status, before).
		Order("updated_at").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("stale %s: %w", status, err)
	}
	return out, nil
}

// PurgeResult counts rows removed by PurgeDelivered.
type PurgeResult struct {
	Notifications int64 `json:"notifications"`
	Logs          int64 `json:"logs"`
}

// PurgeDelivered deletes delivered notifications older than the cutoff
// together with their logs.
func (s *Store) PurgeDelivered(ctx context.Context, before time.Time) (PurgeResult, error) {
	var res PurgeResult
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&models.Notification{}).
			Where("status = ? AND delivered_at < ?", models.StatusDelivered, before).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		logs := tx.Where("notification_id IN ?", ids).Delete(&models.NotificationLog{})
		if logs.Error != nil {
			return logs.Error
		}
		notes := tx.Where("id IN ?", ids).Delete(&models.Notification{})
		if notes.Error != nil {
			return notes.Error
		}
		res.Logs = logs.RowsAffected
		res.Notifications = notes.RowsAffected
		return nil
	})
	if err != nil {
		return PurgeResult{}, fmt.Errorf("purge delivered: %w", err)
	}
	return res, nil
}
