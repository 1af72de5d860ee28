package mail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mrz1836/postmark"
)

// PostmarkSettings configure the Postmark transactional API backend.
type PostmarkSettings struct {
	ServerToken  string
	AccountToken string
	From         string
	BaseURL      string // overrides the API endpoint, used by tests
}

type postmarkMailer struct {
	client *postmark.Client
	from   string
}

func NewPostmarkMailer(cfg PostmarkSettings) (Mailer, error) {
	if strings.TrimSpace(cfg.ServerToken) == "" {
		return nil, fmt.Errorf("%w: postmark server token is required", ErrNotConfigured)
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("%w: postmark sender address is required", ErrNotConfigured)
	}

	client := postmark.NewClient(cfg.ServerToken, cfg.AccountToken)
	if cfg.BaseURL != "" {
		client.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &postmarkMailer{client: client, from: cfg.From}, nil
}

func (m *postmarkMailer) Send(ctx context.Context, msg Message) (*Receipt, error) {
	from := strings.TrimSpace(msg.From)
	if from == "" {
		from = m.from
	}

	email := postmark.Email{
		From:     from,
		To:       strings.Join(uniqueAddresses(msg.To), ","),
		Subject:  msg.Subject,
		TextBody: msg.Body,
		HTMLBody: msg.HTMLBody,
	}
	if email.HTMLBody != "" {
		email.TrackOpens = true
		email.TrackLinks = "HtmlOnly"
	}

	resp, err := m.client.SendEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("postmark: send: %w", err)
	}
	if resp.ErrorCode > 0 {
		return nil, fmt.Errorf("postmark: error %d: %s", resp.ErrorCode, resp.Message)
	}

	return &Receipt{Provider: "postmark", MessageID: resp.MessageID, SubmittedAt: time.Now().UTC()}, nil
}
