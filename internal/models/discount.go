package models

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
	"github.com/koinonia/backend/pkg/money"
	"gorm.io/gorm"
)

// UsageMap tracks how many times each user has redeemed a code.
type UsageMap map[string]int

func (m UsageMap) Value() (driver.Value, error) { return jsonbValue(map[string]int(m)) }
func (m *UsageMap) Scan(src interface{}) error { return jsonbScan(m, src) }
func (UsageMap) GormDataType() string { return "jsonb" }

// DiscountCode lowers the per-registrant price for events that list it.
type DiscountCode struct {
	ID           uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	Code         string    `gorm:"uniqueIndex;not null" json:"code"`
	Active       bool      `gorm:"default:true" json:"active"`
	IsPercent    bool      `gorm:"default:false" json:"is_percent"`
	Discount     float64   `gorm:"not null" json:"discount"`
	MaxUses      *int      `json:"max_uses,omitempty"`
	UsageHistory UsageMap  `gorm:"type:jsonb" json:"usage_history"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (DiscountCode) TableName() string { return "discount_codes" }

func (d *DiscountCode) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// UsesLeft returns how many redemptions the user has remaining; -1 means unlimited.
func (d *DiscountCode) UsesLeft(uid string) int {
	if d.MaxUses == nil {
		return -1
	}
	left := *d.MaxUses - d.UsageHistory[uid]
	if left < 0 {
		return 0
	}
	return left
}

// DiscountedPrice applies the code to a base price, clamped at zero.
func (d *DiscountCode) DiscountedPrice(base float64) float64 {
	var p float64
	if d.IsPercent {
		p = base * (1 - d.Discount/100)
	} else {
		p = base - d.Discount
	}
	if p < 0 {
		return 0
	}
	return money.Round2(p)
}
