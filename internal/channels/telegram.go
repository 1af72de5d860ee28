package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/franzego/dispatchd/internal/models"
	apperrors "github.com/franzego/dispatchd/pkg/errors"
)

const TelegramChannelName = "telegram"

type TelegramSettings struct {
	BotToken      string
	DefaultChatID string
	APIBase       string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// TelegramChannel posts to the Bot API sendMessage method. An ok reply means
// the message is in the chat, so Telegram sends are reported as delivered.
type TelegramChannel struct {
	cfg    TelegramSettings
	client *http.Client
	log    *zap.Logger
}

func NewTelegramChannel(cfg TelegramSettings, log *zap.Logger) (*TelegramChannel, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, errors.New("telegram bot token not configured")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.telegram.org"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TelegramChannel{cfg: cfg, client: client, log: log}, nil
}

func (c *TelegramChannel) Name() string { return TelegramChannelName }

// ValidateRecipient accepts numeric chat ids, negative group ids and @handles.
// An empty recipient is valid only when a default chat is configured.
func (c *TelegramChannel) ValidateRecipient(recipient string) bool {
	switch {
	case recipient == "":
		return c.cfg.DefaultChatID != ""
	case strings.HasPrefix(recipient, "@"):
		return len(recipient) > 1
	case strings.HasPrefix(recipient, "-"):
		return isDigits(recipient[1:])
	default:
		return isDigits(recipient)
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

type telegramReply struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func (c *TelegramChannel) Send(ctx context.Context, msg Message) (*Response, error) {
	chatID := msg.Recipient
	if chatID == "" {
		chatID = c.cfg.DefaultChatID
	}
	if chatID == "" {
		return nil, apperrors.ErrChannelMisconfigured.WithMessage("No Telegram chat ID provided")
	}

	payload := map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     msg.Body,
		"parse_mode":               msg.Options.String("parse_mode", "HTML"),
		"disable_web_page_preview": msg.Options.Bool("disable_preview", true),
	}
	if markup, ok := msg.Options["reply_markup"]; ok && markup != nil {
		payload["reply_markup"] = markup
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.ErrChannelFailure.WithInternal(err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(c.cfg.APIBase, "/"), c.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.ErrChannelFailure.WithInternal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// the url carries the bot token, keep it out of the error
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, apperrors.ErrChannelFailure.WithInternal(fmt.Errorf("telegram request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperrors.ErrChannelFailure.WithInternal(fmt.Errorf("telegram read: %w", err))
	}

	var reply telegramReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, apperrors.ErrChannelFailure.WithInternal(
			fmt.Errorf("telegram: malformed response (HTTP %d)", resp.StatusCode))
	}
	if !reply.OK || resp.StatusCode >= http.StatusBadRequest {
		c.log.Warn("telegram api error",
			zap.String("chat_id", chatID),
			zap.Int("status", resp.StatusCode),
			zap.String("description", reply.Description))
		return nil, apperrors.ErrChannelFailure.WithInternal(
			fmt.Errorf("telegram api error %d: %s", reply.ErrorCode, reply.Description))
	}

	c.log.Info("telegram message sent", zap.String("chat_id", chatID), zap.Int64("message_id", reply.Result.MessageID))
	return &Response{
		Delivered: true,
		Data: map[string]interface{}{
			"chat_id":    chatID,
			"message_id": reply.Result.MessageID,
		},
	}, nil
}

// TelegramOptions maps stored context onto Bot API parameters.
func TelegramOptions(n *models.Notification) Options {
	opts := Options{"parse_mode": "HTML", "disable_preview": true}
	if v, ok := n.ContextData["parse_mode"].(string); ok && v != "" {
		opts["parse_mode"] = v
	}
	if v, ok := n.ContextData["disable_preview"].(bool); ok {
		opts["disable_preview"] = v
	}
	if v, ok := n.ContextData["reply_markup"]; ok && v != nil {
		opts["reply_markup"] = v
	}
	return opts
}
