package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NotificationLog is an append-only record of one delivery attempt.
type NotificationLog struct {
	ID             string            `gorm:"primaryKey;type:varchar(36)" json:"id"`
	NotificationID string            `gorm:"type:varchar(36);not null;index:idx_logs_attempt,priority:1" json:"notification_id"`
	AttemptNumber  int               `gorm:"not null;index:idx_logs_attempt,priority:2" json:"attempt_number"`
	Status         Status            `gorm:"type:varchar(20);not null" json:"status"`
	ResponseData   datatypes.JSONMap `json:"response_data,omitempty"`
	ErrorMessage   string            `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt      time.Time         `gorm:"index" json:"created_at"`
}

func (l *NotificationLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}
