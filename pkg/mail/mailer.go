package mail

import (
	"context"
	"errors"
	"time"
)

// ErrNotConfigured signals that a backend is missing required settings.
var ErrNotConfigured = errors.New("mail: backend not configured")

// Message represents an outbound email.
type Message struct {
	From     string
	To       []string
	Subject  string
	Body     string
	HTMLBody string
}

// Receipt describes what the backend accepted.
type Receipt struct {
	Provider    string
	MessageID   string
	SubmittedAt time.Time
}

// Mailer defines behaviour for sending email messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) (*Receipt, error)
}
