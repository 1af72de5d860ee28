package channels

import (
	"context"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/franzego/dispatchd/internal/models"
	apperrors "github.com/franzego/dispatchd/pkg/errors"
	"github.com/franzego/dispatchd/pkg/mail"
)

const EmailChannelName = "email"

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// EmailChannel sends through a mail.Mailer. SMTP and Postmark only confirm
// acceptance, so email notifications stop at sent.
type EmailChannel struct {
	mailer  mail.Mailer
	from    string
	timeout time.Duration
	log     *zap.Logger
}

func NewEmailChannel(mailer mail.Mailer, from string, timeout time.Duration, log *zap.Logger) (*EmailChannel, error) {
	if mailer == nil {
		return nil, mail.ErrNotConfigured
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &EmailChannel{mailer: mailer, from: from, timeout: timeout, log: log}, nil
}

func (c *EmailChannel) Name() string { return EmailChannelName }

func (c *EmailChannel) ValidateRecipient(recipient string) bool {
	return emailPattern.MatchString(recipient)
}

func (c *EmailChannel) Send(ctx context.Context, msg Message) (*Response, error) {
	if !c.ValidateRecipient(msg.Recipient) {
		return nil, apperrors.ErrChannelFailure.WithMessage("No valid email recipient provided")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	receipt, err := c.mailer.Send(ctx, mail.Message{
		From:     msg.Options.String("from_email", c.from),
		To:       []string{msg.Recipient},
		Subject:  msg.Options.String("subject", fallback(msg.Subject, "Notification")),
		Body:     msg.Body,
		HTMLBody: msg.Options.String("html_message", ""),
	})
	if err != nil {
		c.log.Warn("email send failed", zap.String("to", describe(c, msg.Recipient)), zap.Error(err))
		return nil, apperrors.ErrChannelFailure.WithInternal(err)
	}

	c.log.Info("email sent", zap.String("to", describe(c, msg.Recipient)), zap.String("message_id", receipt.MessageID))
	return &Response{
		Delivered: false,
		Data: map[string]interface{}{
			"provider":   receipt.Provider,
			"message_id": receipt.MessageID,
		},
	}, nil
}

// EmailOptions maps stored context onto email send options.
func EmailOptions(n *models.Notification) Options {
	opts := Options{"subject": n.Subject}
	for _, key := range []string{"html_message", "from_email"} {
		if v, ok := n.ContextData[key].(string); ok && v != "" {
			opts[key] = v
		}
	}
	return opts
}

func fallback(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
