package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/franzego/dispatchd/internal/models"
	apperrors "github.com/franzego/dispatchd/pkg/errors"
)

// TemplatePatch carries the editable template fields; nil leaves a field unchanged.
type TemplatePatch struct {
	SubjectTemplate *string
	BodyTemplate    *string
}

func (s *Store) CreateTemplate(ctx context.Context, tpl *models.NotificationTemplate) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.NotificationTemplate{}).Where("name = ?", tpl.Name).Count(&count).Error; err != nil {
			return fmt.Errorf("check template name: %w", err)
		}
		if count > 0 {
			return apperrors.ErrTemplateExists.WithInternal(fmt.Errorf("template %q", tpl.Name))
		}
		tpl.IsActive = true
		if err := tx.Create(tpl).Error; err != nil {
			return fmt.Errorf("create template: %w", err)
		}
		return nil
	})
}

// ActiveTemplate returns the active template called name.
func (s *Store) ActiveTemplate(ctx context.Context, name string) (*models.NotificationTemplate, error) {
	var tpl models.NotificationTemplate
	err := s.conn(ctx).Where("name = ? AND is_active = ?", name, true).First(&tpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrTemplateNotFound.WithInternal(fmt.Errorf("template %q", name))
	}
	if err != nil {
		return nil, fmt.Errorf("load template %q: %w", name, err)
	}
	return &tpl, nil
}

func (s *Store) UpdateTemplate(ctx context.Context, name string, patch TemplatePatch) (*models.NotificationTemplate, error) {
	updates := map[string]interface{}{}
	if patch.SubjectTemplate != nil {
		updates["subject_template"] = *patch.SubjectTemplate
	}
	if patch.BodyTemplate != nil {
		updates["body_template"] = *patch.BodyTemplate
	}

	var tpl models.NotificationTemplate
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("name = ? AND is_active = ?", name, true).First(&tpl).Error; err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&tpl).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", tpl.ID).First(&tpl).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrTemplateNotFound.WithInternal(fmt.Errorf("template %q", name))
	}
	if err != nil {
		return nil, fmt.Errorf("update template %q: %w", name, err)
	}
	return &tpl, nil
}

// DeactivateTemplate hides a template from new notifications.
func (s *Store) DeactivateTemplate(ctx context.Context, name string) error {
	res := s.conn(ctx).Model(&models.NotificationTemplate{}).
		Where("name = ? AND is_active = ?", name, true).
		Update("is_active", false)
	if res.Error != nil {
		return fmt.Errorf("deactivate template %q: %w", name, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrTemplateNotFound.WithInternal(fmt.Errorf("template %q", name))
	}
	return nil
}

func (s *Store) ListTemplates(ctx context.Context, includeInactive bool) ([]models.NotificationTemplate, error) {
	q := s.conn(ctx).Order("name")
	if !includeInactive {
		q = q.Where("is_active = ?", true)
	}
	var out []models.NotificationTemplate
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return out, nil
}
