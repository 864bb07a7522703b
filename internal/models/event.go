package models

import (
	"database/sql/driver"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Recurrence describes how a blueprint repeats.
type Recurrence string

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
	RecurrenceYearly  Recurrence = "yearly"
)

// Valid reports whether the recurrence is a known value.
func (r Recurrence) Valid() bool {
	switch r {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly, RecurrenceYearly:
		return true
	}
	return false
}

// GenderRestriction limits who may register for an event.
type GenderRestriction string

const (
	GenderAll    GenderRestriction = "all"
	GenderMale   GenderRestriction = "male"
	GenderFemale GenderRestriction = "female"
)

func (g GenderRestriction) Valid() bool {
	switch g {
	case GenderAll, GenderMale, GenderFemale:
		return true
	}
	return false
}

// Payment options an event may accept.
const (
	PaymentOptionPayPal = "paypal"
	PaymentOptionDoor   = "door"
)

// Localization holds the language-specific display fields of an event.
type Localization struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

// LocalizationMap maps a language tag ("en", "es", ...) to its localization.
type LocalizationMap map[string]Localization

func (m LocalizationMap) Value() (driver.Value, error) {
	return jsonbValue(map[string]Localization(m))
}
func (m *LocalizationMap) Scan(src interface{}) error { return jsonbScan(m, src) }
func (LocalizationMap) GormDataType() string { return "jsonb" }

// EventBlueprint is the admin-authored template from which concrete
// occurrences (EventInstances) are projected.
type EventBlueprint struct {
	ID            uuid.UUID       `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	Localizations LocalizationMap `gorm:"type:jsonb;not null" json:"localizations"`

	// Date is the origin date D0 of the recurrence series.
	Date      time.Time  `gorm:"not null" json:"date"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Recurring Recurrence `gorm:"type:varchar(16);not null;default:'none'" json:"recurring"`

	Hidden              bool `gorm:"default:false" json:"hidden"`
	RegistrationAllowed bool `gorm:"default:true" json:"registration_allowed"`

	RegistrationOpens       *time.Time `json:"registration_opens,omitempty"`
	RegistrationDeadline    *time.Time `json:"registration_deadline,omitempty"`
	AutomaticRefundDeadline *time.Time `json:"automatic_refund_deadline,omitempty"`

	MinistryIDs  StringList `gorm:"type:jsonb" json:"ministry_ids"`
	MembersOnly  bool       `gorm:"default:false" json:"members_only"`
	RSVPRequired bool       `gorm:"default:false" json:"rsvp_required"`

	MaxSpots    *int              `json:"max_spots,omitempty"`
	Price       float64           `gorm:"not null;default:0" json:"price"`
	MemberPrice *float64          `json:"member_price,omitempty"`
	MinAge      *int              `json:"min_age,omitempty"`
	MaxAge      *int              `json:"max_age,omitempty"`
	Gender      GenderRestriction `gorm:"type:varchar(8);not null;default:'all'" json:"gender"`

	LocationAddress string     `gorm:"not null" json:"location_address"`
	ImageID         string     `gorm:"not null" json:"image_id"`
	PaymentOptions  StringList `gorm:"type:jsonb" json:"payment_options"`
	DiscountCodeIDs StringList `gorm:"type:jsonb" json:"discount_code_ids"`

	// Projection controls. AnchorIndex is the series_index used as the
	// zero-point of recurrence date arithmetic; it moves forward when the
	// origin date or recurrence changes so past instances stay untouched.
	MaxPublished        int  `gorm:"not null;default:1" json:"max_published"`
	CurrentlyPublishing bool `gorm:"default:true" json:"currently_publishing"`
	AnchorIndex         int  `gorm:"not null;default:1" json:"anchor_index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_on"`
}

func (EventBlueprint) TableName() string { return "events" }

func (b *EventBlueprint) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// HasPaymentOption reports whether the event accepts the given payment option.
func (b *EventBlueprint) HasPaymentOption(opt string) bool {
	return b.PaymentOptions.Contains(opt)
}

// PriceFor returns the price a registrant pays, honouring the member price.
func (b *EventBlueprint) PriceFor(isMember bool) float64 {
	if isMember && b.MemberPrice != nil {
		return *b.MemberPrice
	}
	return b.Price
}

// Validate checks the blueprint-level invariants. The same rules apply to the
// effective (override-merged) view of an instance; requireFuture is false when
// validating an instance edit that does not change the date.
func (b *EventBlueprint) Validate(now time.Time, requireFuture bool) error {
	if len(b.Localizations) == 0 {
		return errors.New("at least one localization is required")
	}
	for tag, loc := range b.Localizations {
		if tag == "" || loc.Title == "" {
			return errors.New("every localization needs a language tag and a title")
		}
	}
	if b.Date.IsZero() {
		return errors.New("event date is required")
	}
	if requireFuture && !b.Date.After(now) {
		return errors.New("event date must be in the future")
	}
	if b.EndDate != nil && b.EndDate.Before(b.Date) {
		return errors.New("end date must not be before the event date")
	}
	if !b.Recurring.Valid() {
		return errors.New("invalid recurrence; must be none, daily, weekly, monthly or yearly")
	}
	if !b.Gender.Valid() {
		return errors.New("invalid gender restriction; must be all, male or female")
	}
	if b.LocationAddress == "" {
		return errors.New("location address is required")
	}
	if b.ImageID == "" {
		return errors.New("image is required")
	}
	if b.Price < 0 {
		return errors.New("price cannot be negative")
	}
	if b.MemberPrice != nil {
		if *b.MemberPrice < 0 {
			return errors.New("member price cannot be negative")
		}
		if *b.MemberPrice > b.Price {
			return errors.New("member price cannot exceed the regular price")
		}
	}
	if b.MaxSpots != nil && *b.MaxSpots <= 0 {
		return errors.New("max spots must be greater than 0")
	}
	if b.MinAge != nil && *b.MinAge < 0 {
		return errors.New("min age cannot be negative")
	}
	if b.MinAge != nil && b.MaxAge != nil && *b.MinAge > *b.MaxAge {
		return errors.New("min age cannot exceed max age")
	}
	for _, opt := range b.PaymentOptions {
		if opt != PaymentOptionPayPal && opt != PaymentOptionDoor {
			return errors.New("invalid payment option; must be paypal or door")
		}
	}
	if b.Price > 0 && len(b.PaymentOptions) == 0 {
		return errors.New("a paid event needs at least one payment option")
	}
	if b.Hidden && b.RegistrationAllowed {
		return errors.New("a hidden event cannot allow registration")
	}
	if b.RegistrationOpens != nil && b.RegistrationOpens.After(b.Date) {
		return errors.New("registration opens must not be after the event date")
	}
	if b.RegistrationDeadline != nil && b.RegistrationDeadline.After(b.Date) {
		return errors.New("registration deadline must not be after the event date")
	}
	if b.RegistrationOpens != nil && b.RegistrationDeadline != nil &&
		!b.RegistrationOpens.Before(*b.RegistrationDeadline) {
		return errors.New("registration opens must be before the registration deadline")
	}
	if b.AutomaticRefundDeadline != nil {
		if !b.AutomaticRefundDeadline.Before(b.Date) {
			return errors.New("automatic refund deadline must be strictly before the event date")
		}
		if b.RegistrationDeadline != nil && b.AutomaticRefundDeadline.Before(*b.RegistrationDeadline) {
			return errors.New("automatic refund deadline must not be before the registration deadline")
		}
		if !b.HasPaymentOption(PaymentOptionPayPal) || b.HasPaymentOption(PaymentOptionDoor) {
			return errors.New("automatic refund deadline requires paypal-only payment")
		}
	}
	if b.MaxPublished < 1 {
		return errors.New("max published must be at least 1")
	}
	return nil
}
