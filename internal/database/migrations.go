package database

import (
	"gorm.io/gorm"

	"github.com/franzego/dispatchd/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.NotificationTemplate{},
		&models.Notification{},
		&models.NotificationLog{},
	)
}

// DefaultTemplates are inserted on first start. Existing rows with the same
// name are left untouched so operator edits survive restarts.
func DefaultTemplates() []models.NotificationTemplate {
	return []models.NotificationTemplate{
		{
			Name:            "welcome_email",
			Channel:         "email",
			SubjectTemplate: "Welcome to Notification System, {{ name }}!",
			BodyTemplate: `Dear {{ name }},

Welcome to our notification system! We're excited to have you on board.

You'll receive timely updates about your orders and important account information.

Best regards,
Notification System Team`,
			IsActive: true,
		},
		{
			Name:            "order_update_email",
			Channel:         "email",
			SubjectTemplate: "Order Update: #{{ order_id }}",
			BodyTemplate: `Dear {{ customer_name }},

Your order #{{ order_id }} has been updated.

Order Details:
- Order Number: {{ order_id }}
- Status: {{ new_status }}
- Total Amount: ${{ order_total }}
- Order Date: {{ order_date }}

Status Change: {{ old_status }} to {{ new_status }}

Best regards,
Notification System Team`,
			IsActive: true,
		},
		{
			Name:            "order_update_telegram",
			Channel:         "telegram",
			SubjectTemplate: "Order Update",
			BodyTemplate: `<b>Order Update Notification</b>

Customer: {{ customer_name }}
Order: #{{ order_id }}
Total: ${{ order_total }}
Date: {{ order_date }}

Status: {{ old_status }} to <b>{{ new_status }}</b>`,
			IsActive: true,
		},
		{
			Name:            "order_confirmation_email",
			Channel:         "email",
			SubjectTemplate: "Order Confirmation: {{ order_id }}",
			BodyTemplate: `Dear {{ customer_name }},

Thank you for your order! We've received it and it's being processed.

Order Details:
- Order Number: {{ order_id }}
- Total Amount: {{ order_total }}
- Order Date: {{ order_date }}

We'll send you updates as your order progresses.

Best regards,
Notification System Team`,
			IsActive: true,
		},
	}
}

// SeedTemplates inserts DefaultTemplates that do not exist yet.
func SeedTemplates(db *gorm.DB) error {
	for _, tpl := range DefaultTemplates() {
		if err := db.Where(models.NotificationTemplate{Name: tpl.Name}).Attrs(tpl).FirstOrCreate(&models.NotificationTemplate{}).Error; err != nil {
			return err
		}
	}
	return nil
}
