package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditLog records sensitive admin actions (refunds, forced registrations,
// blueprint deletions) for operator review.
type AuditLog struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	AdminUID   string    `gorm:"type:varchar(64);not null;index" json:"admin_uid"`
	Action     string    `gorm:"type:varchar(64);not null;index" json:"action"`
	TargetType string    `gorm:"type:varchar(32)" json:"target_type"`
	TargetID   string    `gorm:"type:varchar(64);index" json:"target_id"`
	Detail     JSONRaw   `gorm:"type:jsonb" json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
