package channels

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/franzego/dispatchd/internal/config"
	"github.com/franzego/dispatchd/internal/models"
	apperrors "github.com/franzego/dispatchd/pkg/errors"
	"github.com/franzego/dispatchd/pkg/mail"
)

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) Send(ctx context.Context, msg mail.Message) (*mail.Receipt, error) {
	args := m.Called(ctx, msg)
	if r, ok := args.Get(0).(*mail.Receipt); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	var built int32
	require.NoError(t, r.Register(Registration{
		Name: "email",
		New: func() (Channel, error) {
			atomic.AddInt32(&built, 1)
			return NewEmailChannel(&mockMailer{}, "no-reply@example.com", time.Second, nil)
		},
		Options: EmailOptions,
	}))
	require.NoError(t, r.Register(Registration{
		Name: "telegram",
		New:  func() (Channel, error) { return NewTelegramChannel(TelegramSettings{}, nil) },
	}))
	assert.Error(t, r.Register(Registration{Name: "email", New: func() (Channel, error) { return nil, nil }}))

	ch, err := r.Resolve("email")
	require.NoError(t, err)
	assert.Equal(t, "email", ch.Name())
	_, err = r.Resolve("email")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&built))

	_, err = r.Resolve("sms")
	assert.ErrorIs(t, err, apperrors.ErrUnknownChannel)
	assert.True(t, apperrors.IsChannel(err))

	_, err = r.Resolve("telegram")
	assert.ErrorIs(t, err, apperrors.ErrChannelMisconfigured)

	assert.Equal(t, []string{"email", "telegram"}, r.Names())
	assert.Equal(t, Options{}, r.Options("telegram", &models.Notification{}))
	assert.Equal(t, Options{}, r.Options("sms", &models.Notification{}))
}

func TestEmailValidateRecipient(t *testing.T) {
	ch, err := NewEmailChannel(&mockMailer{}, "", 0, nil)
	require.NoError(t, err)

	assert.True(t, ch.ValidateRecipient("alice@example.com"))
	assert.True(t, ch.ValidateRecipient("first.last+tag@sub.example.co"))
	assert.False(t, ch.ValidateRecipient("alice@"))
	assert.False(t, ch.ValidateRecipient("not-an-email"))
	assert.False(t, ch.ValidateRecipient("a@b.c"))
	assert.False(t, ch.ValidateRecipient(""))
}

func TestEmailSendUsesOptions(t *testing.T) {
	mailer := &mockMailer{}
	mailer.On("Send", mock.Anything, mail.Message{
		From:     "orders@example.com",
		To:       []string{"alice@example.com"},
		Subject:  "Your order",
		Body:     "plain body",
		HTMLBody: "<p>html</p>",
	}).Return(&mail.Receipt{Provider: "smtp", MessageID: "<id@x>"}, nil).Once()

	ch, err := NewEmailChannel(mailer, "no-reply@example.com", time.Second, nil)
	require.NoError(t, err)

	resp, err := ch.Send(context.Background(), Message{
		Recipient: "alice@example.com",
		Subject:   "ignored when option set",
		Body:      "plain body",
		Options:   Options{"subject": "Your order", "html_message": "<p>html</p>", "from_email": "orders@example.com"},
	})
	require.NoError(t, err)
	assert.False(t, resp.Delivered)
	assert.Equal(t, "<id@x>", resp.Data["message_id"])
	mailer.AssertExpectations(t)
}

func TestEmailSendWrapsMailerErrors(t *testing.T) {
	mailer := &mockMailer{}
	mailer.On("Send", mock.Anything, mock.Anything).Return(nil, errors.New("smtp: auth: 535")).Once()

	ch, err := NewEmailChannel(mailer, "no-reply@example.com", time.Second, nil)
	require.NoError(t, err)

	_, err = ch.Send(context.Background(), Message{Recipient: "alice@example.com", Body: "x"})
	require.ErrorIs(t, err, apperrors.ErrChannelFailure)
	assert.ErrorContains(t, err, "535")
}

func TestEmailOptionsBuilder(t *testing.T) {
	n := &models.Notification{
		Subject:     "Subject line",
		ContextData: datatypes.JSONMap{"html_message": "<b>x</b>", "from_email": 42},
	}
	opts := EmailOptions(n)
	assert.Equal(t, "Subject line", opts["subject"])
	assert.Equal(t, "<b>x</b>", opts["html_message"])
	_, hasFrom := opts["from_email"]
	assert.False(t, hasFrom)
}

func TestTelegramValidateRecipient(t *testing.T) {
	ch, err := NewTelegramChannel(TelegramSettings{BotToken: "token"}, nil)
	require.NoError(t, err)

	assert.True(t, ch.ValidateRecipient("123456"))
	assert.True(t, ch.ValidateRecipient("-100123456"))
	assert.True(t, ch.ValidateRecipient("@orders_bot"))
	assert.False(t, ch.ValidateRecipient("@"))
	assert.False(t, ch.ValidateRecipient("-"))
	assert.False(t, ch.ValidateRecipient("12ab"))
	assert.False(t, ch.ValidateRecipient(""))

	withDefault, err := NewTelegramChannel(TelegramSettings{BotToken: "token", DefaultChatID: "-1001"}, nil)
	require.NoError(t, err)
	assert.True(t, withDefault.ValidateRecipient(""))
}

func TestTelegramSend(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botsecret/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":77}}`))
	}))
	defer srv.Close()

	ch, err := NewTelegramChannel(TelegramSettings{BotToken: "secret", DefaultChatID: "-1001", APIBase: srv.URL}, nil)
	require.NoError(t, err)

	markup := map[string]interface{}{"inline_keyboard": []interface{}{}}
	resp, err := ch.Send(context.Background(), Message{
		Body:    "<b>Order</b> shipped",
		Options: Options{"parse_mode": "MarkdownV2", "disable_preview": false, "reply_markup": markup},
	})
	require.NoError(t, err)

	assert.True(t, resp.Delivered)
	assert.Equal(t, int64(77), resp.Data["message_id"])
	assert.Equal(t, "-1001", got["chat_id"])
	assert.Equal(t, "MarkdownV2", got["parse_mode"])
	assert.Equal(t, false, got["disable_web_page_preview"])
	assert.NotNil(t, got["reply_markup"])
}

func TestTelegramSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	ch, err := NewTelegramChannel(TelegramSettings{BotToken: "secret", APIBase: srv.URL}, nil)
	require.NoError(t, err)

	_, err = ch.Send(context.Background(), Message{Recipient: "123", Body: "hi"})
	require.ErrorIs(t, err, apperrors.ErrChannelFailure)
	assert.ErrorContains(t, err, "chat not found")
}

func TestTelegramSendTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ch, err := NewTelegramChannel(TelegramSettings{BotToken: "secret", APIBase: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = ch.Send(context.Background(), Message{Recipient: "123", Body: "hi"})
	require.ErrorIs(t, err, apperrors.ErrChannelFailure)
	assert.NotContains(t, err.Error(), "secret")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTelegramSendWithoutChatIsMisconfigured(t *testing.T) {
	ch, err := NewTelegramChannel(TelegramSettings{BotToken: "secret"}, nil)
	require.NoError(t, err)

	_, err = ch.Send(context.Background(), Message{Body: "hi"})
	assert.ErrorIs(t, err, apperrors.ErrChannelMisconfigured)
}

func TestTelegramOptionsBuilder(t *testing.T) {
	opts := TelegramOptions(&models.Notification{ContextData: datatypes.JSONMap{"disable_preview": false}})
	assert.Equal(t, "HTML", opts["parse_mode"])
	assert.Equal(t, false, opts["disable_preview"])
}

func TestNewDefaultRegistry(t *testing.T) {
	r, err := NewDefaultRegistry(config.ChannelsConfig{
		Email:    config.EmailConfig{Backend: "smtp", Host: "smtp.example.com", Port: 587, From: "no-reply@example.com"},
		Telegram: config.TelegramConfig{},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"email", "telegram"}, r.Names())
	_, err = r.Resolve("email")
	assert.NoError(t, err)
	_, err = r.Resolve("telegram")
	assert.ErrorIs(t, err, apperrors.ErrChannelMisconfigured)
}
