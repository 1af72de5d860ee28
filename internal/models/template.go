package models

// NotificationTemplate is a named subject/body pair bound to one channel.
// Templates are deactivated, never deleted, so historical notifications keep
// a valid reference.
type NotificationTemplate struct {
	BaseModel

	Name            string `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	Channel         string `gorm:"type:varchar(32);not null;index" json:"channel"`
	SubjectTemplate string `gorm:"type:varchar(255)" json:"subject_template"`
	BodyTemplate    string `gorm:"type:text;not null" json:"body_template"`
	IsActive        bool   `gorm:"not null;index" json:"is_active"`
}
