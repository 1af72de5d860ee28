package channels

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/franzego/dispatchd/internal/config"
	"github.com/franzego/dispatchd/pkg/logger"
	"github.com/franzego/dispatchd/pkg/mail"
)

// NewDefaultRegistry registers the built-in email and telegram channels.
// Missing credentials only surface when the channel is first resolved.
func NewDefaultRegistry(cfg config.ChannelsConfig) (*Registry, error) {
	log := logger.WithModule("channels")
	r := NewRegistry(log)

	email := cfg.Email
	if err := r.Register(Registration{
		Name: EmailChannelName,
		New: func() (Channel, error) {
			mailer, err := newMailer(email)
			if err != nil {
				return nil, err
			}
			return NewEmailChannel(mailer, email.From, email.Timeout, log.With(zap.String("channel", EmailChannelName)))
		},
		Options: EmailOptions,
	}); err != nil {
		return nil, err
	}

	tg := cfg.Telegram
	if err := r.Register(Registration{
		Name: TelegramChannelName,
		New: func() (Channel, error) {
			return NewTelegramChannel(TelegramSettings{
				BotToken:      tg.BotToken,
				DefaultChatID: tg.DefaultChatID,
				APIBase:       tg.APIBase,
				Timeout:       tg.Timeout,
			}, log.With(zap.String("channel", TelegramChannelName)))
		},
		Options: TelegramOptions,
	}); err != nil {
		return nil, err
	}

	return r, nil
}

func newMailer(cfg config.EmailConfig) (mail.Mailer, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "smtp":
		return mail.NewSMTPMailer(mail.SMTPSettings{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Username: cfg.Username,
			Password: cfg.Password,
			From:     cfg.From,
			UseTLS:   cfg.UseTLS,
			Timeout:  cfg.Timeout,
		})
	case "postmark":
		return mail.NewPostmarkMailer(mail.PostmarkSettings{
			ServerToken:  cfg.PostmarkServerToken,
			AccountToken: cfg.PostmarkAccountToken,
			From:         cfg.From,
		})
	default:
		return nil, fmt.Errorf("unknown email backend %q", cfg.Backend)
	}
}
