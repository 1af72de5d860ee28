package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/franzego/dispatchd/internal/channels"
	"github.com/franzego/dispatchd/internal/database/testutil"
	"github.com/franzego/dispatchd/internal/models"
	"github.com/franzego/dispatchd/internal/render"
	"github.com/franzego/dispatchd/internal/store"
	"github.com/franzego/dispatchd/pkg/circuitbreaker"
	apperrors "github.com/franzego/dispatchd/pkg/errors"
)

type fakeChannel struct {
	name      string
	delivered bool
	validate  func(string) bool

	mu    sync.Mutex
	err   error
	calls int
	delay time.Duration
	last  channels.Message
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) ValidateRecipient(r string) bool { return f.validate(r) }

func (f *fakeChannel) Send(ctx context.Context, msg channels.Message) (*channels.Response, error) {
	f.mu.Lock()
	f.calls++
	f.last = msg
	err, delay := f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return &channels.Response{Delivered: f.delivered, Data: map[string]interface{}{"message_id": "m-1"}}, nil
}

func (f *fakeChannel) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeChannel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func validEmail(r string) bool {
	at := strings.Index(r, "@")
	return at > 0 && strings.Contains(r[at:], ".")
}

type fakeEnqueuer struct {
	mu  sync.Mutex
	ids []string
}

func (e *fakeEnqueuer) EnqueueSend(_ context.Context, n *models.Notification, _ time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, n.ID)
	return nil
}

type harness struct {
	svc      *Service
	store    *store.Store
	email    *fakeChannel
	telegram *fakeChannel
	registry *channels.Registry
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	st, err := store.New(testutil.MustOpenTestDB(t, testutil.WithSeedData()))
	require.NoError(t, err)

	h := &harness{
		store:    st,
		email:    &fakeChannel{name: "email", validate: validEmail},
		telegram: &fakeChannel{name: "telegram", delivered: true, validate: func(r string) bool { return r != "" }},
		registry: channels.NewRegistry(zap.NewNop()),
	}
	require.NoError(t, h.registry.Register(channels.Registration{
		Name:    "email",
		New:     func() (channels.Channel, error) { return h.email, nil },
		Options: channels.EmailOptions,
	}))
	require.NoError(t, h.registry.Register(channels.Registration{
		Name:    "telegram",
		New:     func() (channels.Channel, error) { return h.telegram, nil },
		Options: channels.TelegramOptions,
	}))
	require.NoError(t, h.registry.Register(channels.Registration{
		Name: "push",
		New:  func() (channels.Channel, error) { return nil, errors.New("push api key not configured") },
	}))

	breakers := circuitbreaker.NewGroup(circuitbreaker.LocalFactory(BreakerSettings(3, time.Minute)))
	opts = append([]Option{WithLogger(zap.NewNop())}, opts...)
	h.svc = NewService(st, h.registry, breakers, render.New(zap.NewNop()), opts...)
	return h
}

func (h *harness) create(t *testing.T, in CreateInput) *models.Notification {
	t.Helper()
	n, err := h.svc.Create(context.Background(), in)
	require.NoError(t, err)
	return n
}

func (h *harness) welcome(t *testing.T, recipient string) *models.Notification {
	return h.create(t, CreateInput{TemplateName: "welcome_email", Recipient: recipient, Context: map[string]interface{}{"name": "Alice"}})
}

func TestCreateWelcomeEmailScenario(t *testing.T) {
	h := newHarness(t)

	n := h.welcome(t, "alice@example.com")

	assert.Contains(t, n.Subject, "Alice")
	assert.Contains(t, n.Body, "Alice")
	for _, s := range []string{n.Subject, n.Body} {
		assert.NotContains(t, s, "{{")
		assert.NotContains(t, s, "}}")
	}
	assert.Equal(t, models.StatusPending, n.Status)
	assert.Equal(t, "email", n.Channel)
	assert.Equal(t, models.PriorityNormal, n.Priority)
	assert.Equal(t, 0, n.RetryCount)
	assert.Equal(t, models.DefaultMaxRetries, n.MaxRetries)
	assert.WithinDuration(t, time.Now(), n.ScheduledAt, 5*time.Second)
	assert.Nil(t, n.SentAt)
}

func TestCreateValidationErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Create(ctx, CreateInput{TemplateName: "nope", Recipient: "alice@example.com"})
	assert.ErrorIs(t, err, apperrors.ErrTemplateNotFound)

	_, err = h.svc.Create(ctx, CreateInput{TemplateName: "welcome_email", Recipient: "not-an-email"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidRecipient)
	assert.True(t, apperrors.IsValidation(err))

	_, err = h.svc.Create(ctx, CreateInput{Recipient: "alice@example.com"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = h.svc.Create(ctx, CreateInput{TemplateName: "welcome_email", Recipient: "alice@example.com", Priority: "critical"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	require.NoError(t, h.store.DeactivateTemplate(ctx, "welcome_email"))
	_, err = h.svc.Create(ctx, CreateInput{TemplateName: "welcome_email", Recipient: "alice@example.com"})
	assert.ErrorIs(t, err, apperrors.ErrTemplateNotFound)
}

func TestCreateHonoursOverridesAndEnqueues(t *testing.T) {
	enq := &fakeEnqueuer{}
	h := newHarness(t, WithEnqueuer(enq), WithMaxRetries(5))
	customer, order := "cust-1", "order-9"
	later := time.Now().UTC().Add(time.Hour)
	zero := 0

	due := h.create(t, CreateInput{
		TemplateName: "order_update_email",
		Recipient:    "bob@example.com",
		Context:      map[string]interface{}{"customer_name": "Bob", "order_id": "9"},
		Priority:     models.PriorityUrgent,
		CustomerID:   &customer,
		OrderID:      &order,
	})
	assert.Equal(t, 5, due.MaxRetries)
	assert.Equal(t, models.PriorityUrgent, due.Priority)
	assert.Equal(t, "Order Update: #9", due.Subject)

	scheduled := h.create(t, CreateInput{
		TemplateName: "welcome_email",
		Recipient:    "bob@example.com",
		ScheduledAt:  &later,
		MaxRetries:   &zero,
	})
	assert.Equal(t, 0, scheduled.MaxRetries)

	assert.Equal(t, []string{due.ID}, enq.ids)

	history, err := h.svc.CustomerHistory(context.Background(), customer, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, due.ID, history[0].ID)
}

func TestSendEmailStopsAtSent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	n := h.create(t, CreateInput{
		TemplateName: "welcome_email",
		Recipient:    "alice@example.com",
		Context:      map[string]interface{}{"name": "Alice", "html_message": "<p>Hi Alice</p>"},
	})

	outcome, err := h.svc.Send(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)
	assert.Equal(t, "<p>Hi Alice</p>", h.email.last.Options["html_message"])

	got, err := h.svc.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, got.Status)
	assert.NotNil(t, got.SentAt)
	assert.Nil(t, got.DeliveredAt)

	logs, err := h.svc.Logs(ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 1, logs[0].AttemptNumber)
	assert.Equal(t, models.StatusSent, logs[0].Status)
	assert.Equal(t, "m-1", logs[0].ResponseData["message_id"])

	confirmed, err := h.svc.ConfirmDelivery(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, confirmed.Status)
	assert.NotNil(t, confirmed.DeliveredAt)
}

func TestDeliveredNotificationGetsNoFurtherLogs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	n := h.create(t, CreateInput{
		TemplateName: "order_update_telegram",
		Recipient:    "123456",
		Context:      map[string]interface{}{"customer_name": "Dan", "order_id": "7"},
	})

	outcome, err := h.svc.Send(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, outcome)
	assert.Equal(t, "HTML", h.telegram.last.Options["parse_mode"])

	again, err := h.svc.Send(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, again)

	_, err = h.svc.ConfirmDelivery(ctx, n.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	_, err = h.svc.Cancel(ctx, n.ID, "too late")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	_, ok, err := h.svc.PrepareRetry(ctx, n.ID)
	assert.Error(t, err)
	assert.False(t, ok)

	logs, err := h.svc.Logs(ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.StatusDelivered, logs[0].Status)
	assert.Equal(t, 1, h.telegram.callCount())
}

func TestSendDeferredUntilScheduled(t *testing.T) {
	h := newHarness(t)
	later := time.Now().UTC().Add(time.Hour)
	n := h.create(t, CreateInput{TemplateName: "welcome_email", Recipient: "alice@example.com", ScheduledAt: &later})

	outcome, err := h.svc.Send(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, outcome)

	got, err := h.svc.Get(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 0, h.email.callCount())
}

func TestMaxRetriesScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.email.setErr(apperrors.ErrChannelFailure.WithInternal(errors.New("smtp: dial: connection refused")))
	n := h.welcome(t, "alice@example.com")

	outcome, err := h.svc.Send(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeRetryable, outcome)

	for retry := 1; retry <= 3; retry++ {
		prepared, ok, err := h.svc.PrepareRetry(ctx, n.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, retry, prepared.RetryCount)
		assert.Equal(t, models.StatusRetrying, prepared.Status)

		outcome, err := h.svc.Send(ctx, n.ID)
		require.NoError(t, err)
		require.Equal(t, OutcomeRetryable, outcome)
	}

	got, err := h.svc.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.False(t, got.CanRetry())
	assert.NotEmpty(t, got.ErrorMessage)

	_, ok, err := h.svc.PrepareRetry(ctx, n.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	logs, err := h.svc.Logs(ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, logs, 4)
	for i, l := range logs {
		assert.Equal(t, i+1, l.AttemptNumber)
		assert.Equal(t, models.StatusFailed, l.Status)
	}
}

func TestCircuitOpensAfterThreeChannelFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.email.setErr(apperrors.ErrChannelFailure.WithInternal(errors.New("503 from relay")))

	for i := 0; i < 3; i++ {
		n := h.welcome(t, "alice@example.com")
		outcome, err := h.svc.Send(ctx, n.ID)
		require.NoError(t, err)
		require.Equal(t, OutcomeRetryable, outcome)
	}
	require.Equal(t, 3, h.email.callCount())
	assert.Equal(t, circuitbreaker.StateOpen, h.svc.BreakerStates(ctx)["email"])

	fourth := h.welcome(t, "alice@example.com")
	outcome, err := h.svc.Send(ctx, fourth.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetryable, outcome)
	assert.Equal(t, 3, h.email.callCount(), "open circuit must not reach the channel")

	logs, err := h.svc.Logs(ctx, fourth.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, apperrors.ErrCircuitOpen.Code, logs[0].ResponseData["error_code"])

	// other channels are unaffected
	tg := h.create(t, CreateInput{TemplateName: "order_update_telegram", Recipient: "42"})
	outcome, err = h.svc.Send(ctx, tg.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, outcome)
}

func TestConcurrentSendIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.email.delay = 50 * time.Millisecond
	n := h.welcome(t, "alice@example.com")

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 2)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := h.svc.Send(context.Background(), n.ID)
			assert.NoError(t, err)
			outcomes[i] = out
		}(i)
	}
	wg.Wait()

	assert.ElementsMatch(t, []Outcome{OutcomeSent, OutcomeSkipped}, outcomes)
	assert.Equal(t, 1, h.email.callCount())

	logs, err := h.svc.Logs(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestSendUnknownChannelIsTerminal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	n := &models.Notification{Channel: "sms", Recipient: "+15550100", Body: "hi", Status: models.StatusPending, MaxRetries: 3, ScheduledAt: time.Now().UTC()}
	require.NoError(t, h.store.CreateNotification(ctx, n))

	outcome, err := h.svc.Send(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTerminal, outcome)

	got, err := h.svc.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, got.MaxRetries, got.RetryCount)
	assert.True(t, got.IsTerminal())

	logs, err := h.svc.Logs(ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.StatusFailed, logs[0].Status)
	assert.Equal(t, apperrors.ErrUnknownChannel.Code, logs[0].ResponseData["error_code"])
}

func TestSendMisconfiguredChannelIsTerminalAndDoesNotTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	n := &models.Notification{Channel: "push", Recipient: "device", Body: "hi", Status: models.StatusPending, MaxRetries: 3, ScheduledAt: time.Now().UTC()}
	require.NoError(t, h.store.CreateNotification(ctx, n))

	outcome, err := h.svc.Send(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTerminal, outcome)

	h.telegram.setErr(apperrors.ErrChannelMisconfigured.WithMessage("No Telegram chat ID provided"))
	for i := 0; i < 4; i++ {
		tg := h.create(t, CreateInput{TemplateName: "order_update_telegram", Recipient: "42"})
		outcome, err := h.svc.Send(ctx, tg.ID)
		require.NoError(t, err)
		assert.Equal(t, OutcomeTerminal, outcome)
	}
	assert.Equal(t, circuitbreaker.StateClosed, h.svc.BreakerStates(ctx)["telegram"])
}

func TestSendBulkScenario(t *testing.T) {
	h := newHarness(t)
	recipients := []BulkRecipient{
		{Recipient: "a@example.com"},
		{Recipient: "b@example.com"},
		{Recipient: "broken-address"},
		{Recipient: "d@example.com"},
		{Recipient: "e@example.com", Context: map[string]interface{}{"name": "Eve"}},
	}

	res := h.svc.SendBulk(context.Background(), "welcome_email", recipients, map[string]interface{}{"name": "Customer"}, models.PriorityHigh)

	require.Len(t, res.Created, 4)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 2, res.Rejected[0].Index)
	assert.ErrorIs(t, res.Rejected[0].Err, apperrors.ErrInvalidRecipient)
	assert.Len(t, res.CreatedIDs(), 4)

	assert.Contains(t, res.Created[0].Body, "Customer")
	assert.Contains(t, res.Created[3].Body, "Eve")
	assert.NotContains(t, res.Created[3].Body, "Customer")
	for _, n := range res.Created {
		assert.Equal(t, models.PriorityHigh, n.Priority)
	}
}

func TestCancelStopsFutureAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	n := h.welcome(t, "alice@example.com")

	cancelled, err := h.svc.Cancel(ctx, n.ID, "customer unsubscribed")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, cancelled.Status)
	assert.Equal(t, "customer unsubscribed", cancelled.ErrorMessage)

	outcome, err := h.svc.Send(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)

	_, ok, err := h.svc.PrepareRetry(ctx, n.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, h.email.callCount())
}

func TestRetryCountNeverExceedsMaxRetries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 10; i++ {
		maxRetries := rng.Intn(4)
		n := h.create(t, CreateInput{TemplateName: "welcome_email", Recipient: "alice@example.com", MaxRetries: &maxRetries})

		for step := 0; step < 12; step++ {
			if rng.Intn(3) == 0 {
				h.email.setErr(nil)
			} else {
				h.email.setErr(apperrors.ErrChannelFailure)
			}
			switch rng.Intn(4) {
			case 0:
				_, _ = h.svc.Send(ctx, n.ID)
			case 1:
				_, _, _ = h.svc.PrepareRetry(ctx, n.ID)
			case 2:
				_, _ = h.svc.ConfirmDelivery(ctx, n.ID)
			default:
				if out, _ := h.svc.Send(ctx, n.ID); out == OutcomeRetryable {
					_, _, _ = h.svc.PrepareRetry(ctx, n.ID)
				}
			}

			got, err := h.svc.Get(ctx, n.ID)
			require.NoError(t, err)
			require.LessOrEqual(t, got.RetryCount, got.MaxRetries)
			if got.Status == models.StatusSent || got.Status == models.StatusDelivered {
				require.NotNil(t, got.SentAt)
			} else {
				require.Nil(t, got.SentAt)
			}
		}
	}
}

func TestTemplateService(t *testing.T) {
	h := newHarness(t)
	ts := NewTemplateService(h.store, h.registry)
	ctx := context.Background()

	_, err := ts.Create(ctx, TemplateInput{Name: "sms_promo", Channel: "sms", BodyTemplate: "x"})
	assert.ErrorIs(t, err, apperrors.ErrUnknownChannel)
	_, err = ts.Create(ctx, TemplateInput{Name: "", Channel: "email", BodyTemplate: "x"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	tpl, err := ts.Create(ctx, TemplateInput{Name: "shipping_email", Channel: "email", SubjectTemplate: "Shipped {{ order_id }}", BodyTemplate: "Hi {{ name }}"})
	require.NoError(t, err)
	assert.True(t, tpl.IsActive)
	_, err = ts.Create(ctx, TemplateInput{Name: "shipping_email", Channel: "email", BodyTemplate: "dup"})
	assert.ErrorIs(t, err, apperrors.ErrTemplateExists)

	empty := " "
	_, err = ts.Update(ctx, "shipping_email", store.TemplatePatch{BodyTemplate: &empty})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	body := "Hello {{ name }}, your parcel is on its way"
	updated, err := ts.Update(ctx, "shipping_email", store.TemplatePatch{BodyTemplate: &body})
	require.NoError(t, err)
	assert.Equal(t, body, updated.BodyTemplate)

	n := h.create(t, CreateInput{TemplateName: "shipping_email", Recipient: "zoe@example.com", Context: map[string]interface{}{"name": "Zoe", "order_id": 12}})
	assert.Equal(t, "Shipped 12", n.Subject)
	assert.Equal(t, "Hello Zoe, your parcel is on its way", n.Body)

	require.NoError(t, ts.Deactivate(ctx, "shipping_email"))
	_, err = ts.Get(ctx, "shipping_email")
	assert.ErrorIs(t, err, apperrors.ErrTemplateNotFound)

	all, err := ts.List(ctx, true)
	require.NoError(t, err)
	active, err := ts.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, len(active)+1)
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sent := h.welcome(t, "alice@example.com")
	_, err := h.svc.Send(ctx, sent.ID)
	require.NoError(t, err)
	h.welcome(t, "bob@example.com")

	stats, err := h.svc.Stats(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.ByChannel["email"].Sent)
	assert.Equal(t, int64(1), stats.ByChannel["email"].Pending)
}
