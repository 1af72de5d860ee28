package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/franzego/dispatchd/internal/models"
	apperrors "github.com/franzego/dispatchd/pkg/errors"
	"github.com/franzego/dispatchd/pkg/metrics"
)

// CreateInput is what an upstream caller supplies for one notification.
// Customer and order ids are opaque correlation keys.
type CreateInput struct {
	TemplateName string                 `validate:"required,max=100"`
	Recipient    string                 `validate:"max=255"`
	Context      map[string]interface{} `validate:"-"`
	Priority     models.Priority        `validate:"omitempty,oneof=low normal high urgent"`
	ScheduledAt  *time.Time
	CustomerID   *string `validate:"omitempty,max=64"`
	OrderID      *string `validate:"omitempty,max=64"`
	MaxRetries   *int    `validate:"omitempty,min=0,max=20"`
}

// Create validates the request, renders the template and persists a pending
// notification. Errors are validation or channel errors and are returned
// synchronously; nothing is sent here.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Notification, error) {
	if err := s.validate.Struct(in); err != nil {
		metrics.ValidationRejections.WithLabelValues("invalid_input").Inc()
		return nil, apperrors.ErrValidation.WithInternal(err)
	}

	tpl, err := s.store.ActiveTemplate(ctx, in.TemplateName)
	if err != nil {
		if apperrors.IsValidation(err) {
			metrics.ValidationRejections.WithLabelValues("template_not_found").Inc()
		}
		return nil, err
	}

	ch, err := s.registry.Resolve(tpl.Channel)
	if err != nil {
		metrics.ValidationRejections.WithLabelValues("channel_unavailable").Inc()
		return nil, err
	}
	if !ch.ValidateRecipient(in.Recipient) {
		metrics.ValidationRejections.WithLabelValues("invalid_recipient").Inc()
		return nil, apperrors.ErrInvalidRecipient.WithInternal(
			fmt.Errorf("%q is not a valid %s recipient", in.Recipient, tpl.Channel))
	}

	now := s.now()
	n := &models.Notification{
		TemplateID:  tpl.ID,
		Channel:     tpl.Channel,
		Recipient:   in.Recipient,
		Subject:     s.renderer.Render(tpl.SubjectTemplate, in.Context),
		Body:        s.renderer.Render(tpl.BodyTemplate, in.Context),
		Status:      models.StatusPending,
		Priority:    in.Priority,
		ContextData: datatypes.JSONMap(in.Context),
		MaxRetries:  s.maxRetries,
		ScheduledAt: now,
		CustomerID:  in.CustomerID,
		OrderID:     in.OrderID,
	}
	if n.Priority == "" {
		n.Priority = models.PriorityNormal
	}
	if in.MaxRetries != nil {
		n.MaxRetries = *in.MaxRetries
	}
	if in.ScheduledAt != nil && !in.ScheduledAt.IsZero() {
		n.ScheduledAt = in.ScheduledAt.UTC()
	}

	if err := s.store.CreateNotification(ctx, n); err != nil {
		return nil, err
	}
	metrics.NotificationsCreated.WithLabelValues(n.Channel, string(n.Priority)).Inc()
	s.log.Info("notification created",
		zap.String("notification_id", n.ID),
		zap.String("template", tpl.Name),
		zap.String("channel", n.Channel),
		zap.String("priority", string(n.Priority)))

	s.enqueue(ctx, n)
	return n, nil
}

// enqueue is best effort: the scheduled sweep picks up anything missed.
func (s *Service) enqueue(ctx context.Context, n *models.Notification) {
	if s.enqueuer == nil || n.ScheduledAt.After(s.now()) {
		return
	}
	if err := s.enqueuer.EnqueueSend(ctx, n, 0); err != nil {
		s.log.Warn("enqueue after create failed, leaving it to the scheduled sweep",
			zap.String("notification_id", n.ID), zap.Error(err))
	}
}
