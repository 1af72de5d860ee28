package models

import "time"

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message"`
}

type CreateNotificationRequest struct {
	TemplateName string                 `json:"template_name" binding:"required"`
	Recipient    string                 `json:"recipient"`
	Context      map[string]interface{} `json:"context"`
	Priority     string                 `json:"priority"`
	ScheduledAt  *time.Time             `json:"scheduled_at,omitempty"`
	CustomerID   *string                `json:"customer_id,omitempty"`
	OrderID      *string                `json:"order_id,omitempty"`
	MaxRetries   *int                   `json:"max_retries,omitempty"`
}

type BulkRecipientRequest struct {
	Recipient string                 `json:"recipient"`
	Context   map[string]interface{} `json:"context"`
}

type BulkNotificationRequest struct {
	TemplateName string                 `json:"template_name" binding:"required"`
	Recipients   []BulkRecipientRequest `json:"recipients" binding:"required,min=1"`
	Context      map[string]interface{} `json:"context"`
	Priority     string                 `json:"priority"`
}

type NotificationResponse struct {
	NotificationID string    `json:"notification_id"`
	Channel        string    `json:"channel"`
	Status         string    `json:"status"`
	ScheduledAt    time.Time `json:"scheduled_at"`
}

type BulkNotificationResponse struct {
	Created  []string        `json:"created"`
	Rejected int             `json:"rejected"`
	Errors   []BulkRejection `json:"errors,omitempty"`
}

type BulkRejection struct {
	Index     int    `json:"index"`
	Recipient string `json:"recipient"`
	Reason    string `json:"reason"`
}

type NotificationStatus struct {
	ID           string     `json:"id"`
	Channel      string     `json:"channel"`
	Status       string     `json:"status"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	ErrorMessage string     `json:"error_message,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type TemplateRequest struct {
	Name            string `json:"name"`
	Channel         string `json:"channel"`
	SubjectTemplate string `json:"subject_template"`
	BodyTemplate    string `json:"body_template"`
}

type TemplatePatchRequest struct {
	SubjectTemplate *string `json:"subject_template"`
	BodyTemplate    *string `json:"body_template"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}
