package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	apperrors "github.com/franzego/dispatchd/pkg/errors"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusRetrying  Status = "retrying"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities for sweeps: urgent first, unknown values last.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

func (p Priority) Valid() bool {
	return p.Rank() < 4
}

const DefaultMaxRetries = 3

// Notification is one attempt-tracked unit of delivery.
type Notification struct {
	BaseModel

	TemplateID   string            `gorm:"type:varchar(36);index" json:"template_id"`
	Channel      string            `gorm:"type:varchar(32);not null;index" json:"channel"`
	Recipient    string            `gorm:"type:varchar(255)" json:"recipient"`
	Subject      string            `gorm:"type:varchar(255)" json:"subject"`
	Body         string            `gorm:"type:text" json:"body"`
	Status       Status            `gorm:"type:varchar(20);not null;default:'pending';index:idx_notifications_status_schedule,priority:1" json:"status"`
	Priority     Priority          `gorm:"type:varchar(10);not null;default:'normal'" json:"priority"`
	PriorityRank int               `gorm:"not null;index:idx_notifications_status_schedule,priority:2" json:"-"`
	ContextData  datatypes.JSONMap `json:"context_data"`
	ErrorMessage string            `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount   int               `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries   int               `gorm:"not null" json:"max_retries"`
	ScheduledAt  time.Time         `gorm:"index:idx_notifications_status_schedule,priority:3" json:"scheduled_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	DeliveredAt  *time.Time        `json:"delivered_at,omitempty"`
	CustomerID   *string           `gorm:"type:varchar(64);index" json:"customer_id,omitempty"`
	OrderID      *string           `gorm:"type:varchar(64);index" json:"order_id,omitempty"`

	Logs []NotificationLog `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// BeforeSave keeps the ordering column in step with Priority.
func (n *Notification) BeforeSave(tx *gorm.DB) error {
	if n.Priority == "" {
		n.Priority = PriorityNormal
	}
	n.PriorityRank = n.Priority.Rank()
	return nil
}

func (n *Notification) invalid(op string) error {
	return apperrors.ErrInvalidTransition.WithInternal(
		fmt.Errorf("%s not allowed from status %q (retry %d/%d)", op, n.Status, n.RetryCount, n.MaxRetries))
}

// Enqueue moves a pending or retrying notification to queued.
func (n *Notification) Enqueue() error {
	if n.Status != StatusPending && n.Status != StatusRetrying {
		return n.invalid("enqueue")
	}
	n.Status = StatusQueued
	return nil
}

func (n *Notification) MarkSent(now time.Time) error {
	if n.Status != StatusQueued {
		return n.invalid("mark sent")
	}
	n.Status = StatusSent
	n.SentAt = &now
	n.ErrorMessage = ""
	return nil
}

// MarkDelivered is only reachable for channels that confirm delivery.
func (n *Notification) MarkDelivered(now time.Time) error {
	if n.Status != StatusSent {
		return n.invalid("mark delivered")
	}
	n.Status = StatusDelivered
	n.DeliveredAt = &now
	return nil
}

// MarkFailed records a delivery failure. A sent notification that fails
// loses its sent_at milestone.
func (n *Notification) MarkFailed(reason string) error {
	switch n.Status {
	case StatusPending, StatusQueued, StatusSent, StatusRetrying:
	default:
		return n.invalid("mark failed")
	}
	n.Status = StatusFailed
	n.ErrorMessage = reason
	n.SentAt = nil
	return nil
}

// Abandon fails the notification permanently so no sweep picks it up again.
func (n *Notification) Abandon(reason string) error {
	if n.IsTerminal() {
		return n.invalid("abandon")
	}
	n.Status = StatusFailed
	n.ErrorMessage = reason
	n.SentAt = nil
	if n.RetryCount < n.MaxRetries {
		n.RetryCount = n.MaxRetries
	}
	return nil
}

func (n *Notification) CanRetry() bool {
	return n.Status == StatusFailed && n.RetryCount < n.MaxRetries
}

func (n *Notification) IncrementRetry() error {
	if !n.CanRetry() {
		return n.invalid("increment retry")
	}
	n.Status = StatusRetrying
	n.RetryCount++
	return nil
}

// IsTerminal reports delivered or failed with the retry budget spent.
func (n *Notification) IsTerminal() bool {
	switch n.Status {
	case StatusDelivered:
		return true
	case StatusFailed:
		return n.RetryCount >= n.MaxRetries
	default:
		return false
	}
}

// AttemptNumber is the number the next log row for this notification carries.
func (n *Notification) AttemptNumber() int {
	return n.RetryCount + 1
}
