package dispatch

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/franzego/dispatchd/internal/channels"
	"github.com/franzego/dispatchd/internal/models"
	"github.com/franzego/dispatchd/internal/store"
	apperrors "github.com/franzego/dispatchd/pkg/errors"
	"github.com/franzego/dispatchd/pkg/logger"
)

// TemplateService is the controlled way to change templates after seeding.
type TemplateService struct {
	store    *store.Store
	registry *channels.Registry
	log      *zap.Logger
}

func NewTemplateService(st *store.Store, registry *channels.Registry) *TemplateService {
	return &TemplateService{store: st, registry: registry, log: logger.WithModule("templates")}
}

type TemplateInput struct {
	Name            string
	Channel         string
	SubjectTemplate string
	BodyTemplate    string
}

func (t *TemplateService) Create(ctx context.Context, in TemplateInput) (*models.NotificationTemplate, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || strings.TrimSpace(in.BodyTemplate) == "" {
		return nil, apperrors.ErrValidation.WithMessage("Template name and body are required")
	}
	if !t.knownChannel(in.Channel) {
		return nil, apperrors.ErrUnknownChannel.WithInternal(fmt.Errorf("channel %q is not registered", in.Channel))
	}

	tpl := &models.NotificationTemplate{
		Name:            name,
		Channel:         in.Channel,
		SubjectTemplate: in.SubjectTemplate,
		BodyTemplate:    in.BodyTemplate,
	}
	if err := t.store.CreateTemplate(ctx, tpl); err != nil {
		return nil, err
	}
	t.log.Info("template created", zap.String("template", tpl.Name), zap.String("channel", tpl.Channel))
	return tpl, nil
}

// Get returns the template only while it is active.
func (t *TemplateService) Get(ctx context.Context, name string) (*models.NotificationTemplate, error) {
	return t.store.ActiveTemplate(ctx, name)
}

func (t *TemplateService) Update(ctx context.Context, name string, patch store.TemplatePatch) (*models.NotificationTemplate, error) {
	if patch.BodyTemplate != nil && strings.TrimSpace(*patch.BodyTemplate) == "" {
		return nil, apperrors.ErrValidation.WithMessage("Template body must not be empty")
	}
	tpl, err := t.store.UpdateTemplate(ctx, name, patch)
	if err != nil {
		return nil, err
	}
	t.log.Info("template updated", zap.String("template", name))
	return tpl, nil
}

func (t *TemplateService) Deactivate(ctx context.Context, name string) error {
	if err := t.store.DeactivateTemplate(ctx, name); err != nil {
		return err
	}
	t.log.Info("template deactivated", zap.String("template", name))
	return nil
}

func (t *TemplateService) List(ctx context.Context, includeInactive bool) ([]models.NotificationTemplate, error) {
	return t.store.ListTemplates(ctx, includeInactive)
}

func (t *TemplateService) knownChannel(name string) bool {
	for _, n := range t.registry.Names() {
		if n == name {
			return true
		}
	}
	return false
}
