package models

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FamilyMember is a dependant a user can register alongside themselves.
type FamilyMember struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Gender   string     `json:"gender,omitempty"` // "M" or "F"
	Birthday *time.Time `json:"birthday,omitempty"`
}

// FamilyList is the jsonb-encoded family member list.
type FamilyList []FamilyMember

func (l FamilyList) Value() (driver.Value, error) { return jsonbValue([]FamilyMember(l)) }
func (l *FamilyList) Scan(src interface{}) error { return jsonbScan(l, src) }
func (FamilyList) GormDataType() string { return "jsonb" }

// Find returns the family member with the given id, or nil.
func (l FamilyList) Find(id string) *FamilyMember {
	for i := range l {
		if l[i].ID == id {
			return &l[i]
		}
	}
	return nil
}

type User struct {
	ID       uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	Email    string    `gorm:"uniqueIndex;not null" json:"email"`
	Password string    `gorm:"not null" json:"-"`
	Name     string    `gorm:"not null" json:"name"`

	// Membership drives member pricing and members-only events.
	Membership bool       `gorm:"default:false" json:"membership"`
	Gender     string     `gorm:"type:varchar(1)" json:"gender,omitempty"` // "M" or "F"
	Birthday   *time.Time `json:"birthday,omitempty"`

	FamilyMembers FamilyList `gorm:"type:jsonb" json:"family_members"`

	IsAdmin   bool      `gorm:"default:false" json:"is_admin"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

type RefreshToken struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserID    uuid.UUID `gorm:"type:uuid;not null"`
	Token     string    `gorm:"uniqueIndex;not null"`
	ExpiresAt time.Time `gorm:"not null"`
	CreatedAt time.Time

	// Relations
	User User `gorm:"foreignKey:UserID"`
}

func (r *RefreshToken) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
