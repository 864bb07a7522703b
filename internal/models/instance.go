package models

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SelfPersonID is the registrant id used for the account holder themselves;
// family members are addressed by their family-member id.
const SelfPersonID = "SELF"

// PaymentType is how a single registrant's seat was (or will be) paid.
type PaymentType string

const (
	PaymentFree   PaymentType = "free"
	PaymentPayPal PaymentType = "paypal"
	PaymentDoor   PaymentType = "door"
)

func (p PaymentType) Valid() bool {
	switch p {
	case PaymentFree, PaymentPayPal, PaymentDoor:
		return true
	}
	return false
}

// PaymentDetails is the per-registrant payment record stamped onto a
// registration. For paypal registrants OrderID/LineID reference the funding
// ledger line; the reference is a lookup key, not ownership.
type PaymentDetails struct {
	Type             PaymentType `json:"type"`
	Price            float64     `json:"price"`
	RefundableAmount *float64    `json:"refundable_amount,omitempty"`
	AmountRefunded   float64     `json:"amount_refunded"`
	PaymentComplete  bool        `json:"payment_complete"`
	DiscountCodeID   string      `json:"discount_code_id,omitempty"`

	// AutomaticRefundEligibility lets an admin exempt a single line from the
	// automatic-refund-deadline cutoff.
	AutomaticRefundEligibility bool `json:"automatic_refund_eligibility"`

	OrderID  string `json:"order_id,omitempty"`
	LineID   string `json:"line_id,omitempty"`
	IsForced bool   `json:"is_forced"`
}

// RegistrationDetails is one user's registration state on an instance: their
// own seat plus any family-member seats they registered.
type RegistrationDetails struct {
	SelfRegistered       bool                       `json:"self_registered"`
	FamilyRegistered     []string                   `json:"family_registered"`
	SelfPaymentDetails   *PaymentDetails            `json:"self_payment_details,omitempty"`
	FamilyPaymentDetails map[string]*PaymentDetails `json:"family_payment_details,omitempty"`
}

// IsEmpty reports whether the entry holds no seats and should be removed.
func (r *RegistrationDetails) IsEmpty() bool {
	return r == nil || (!r.SelfRegistered && len(r.FamilyRegistered) == 0)
}

// SeatCount returns the number of seats this entry occupies.
func (r *RegistrationDetails) SeatCount() int {
	if r == nil {
		return 0
	}
	n := len(r.FamilyRegistered)
	if r.SelfRegistered {
		n++
	}
	return n
}

// HasPerson reports whether the given registrant (SELF or family id) holds a seat.
func (r *RegistrationDetails) HasPerson(personID string) bool {
	if r == nil {
		return false
	}
	if personID == SelfPersonID {
		return r.SelfRegistered
	}
	for _, id := range r.FamilyRegistered {
		if id == personID {
			return true
		}
	}
	return false
}

// PaymentFor returns the payment record for a registrant, or nil.
func (r *RegistrationDetails) PaymentFor(personID string) *PaymentDetails {
	if r == nil {
		return nil
	}
	if personID == SelfPersonID {
		return r.SelfPaymentDetails
	}
	return r.FamilyPaymentDetails[personID]
}

// SetPayment stores the payment record for a registrant.
func (r *RegistrationDetails) SetPayment(personID string, pd *PaymentDetails) {
	if personID == SelfPersonID {
		r.SelfPaymentDetails = pd
		return
	}
	if r.FamilyPaymentDetails == nil {
		r.FamilyPaymentDetails = make(map[string]*PaymentDetails)
	}
	r.FamilyPaymentDetails[personID] = pd
}

// Clone returns a deep copy so orchestration can keep the old state for
// compensating writes.
func (r *RegistrationDetails) Clone() *RegistrationDetails {
	if r == nil {
		return nil
	}
	c := &RegistrationDetails{SelfRegistered: r.SelfRegistered}
	c.FamilyRegistered = append([]string(nil), r.FamilyRegistered...)
	if r.SelfPaymentDetails != nil {
		pd := *r.SelfPaymentDetails
		c.SelfPaymentDetails = &pd
	}
	if len(r.FamilyPaymentDetails) > 0 {
		c.FamilyPaymentDetails = make(map[string]*PaymentDetails, len(r.FamilyPaymentDetails))
		for id, p := range r.FamilyPaymentDetails {
			if p != nil {
				pd := *p
				c.FamilyPaymentDetails[id] = &pd
			}
		}
	}
	return c
}

// RegistrationMap maps a user id to their registration on an instance.
type RegistrationMap map[string]*RegistrationDetails

func (m RegistrationMap) Value() (driver.Value, error) {
	return jsonbValue(map[string]*RegistrationDetails(m))
}
func (m *RegistrationMap) Scan(src interface{}) error { return jsonbScan(m, src) }
func (RegistrationMap) GormDataType() string { return "jsonb" }

// InstanceOverrides carries the per-instance deviations from the blueprint.
// Fields are pointers; whether a nil pointer means "use blueprint" or
// "explicitly none" is decided by the group tracker plus the allowed-none set
// in the override packager.
type InstanceOverrides struct {
	Localizations LocalizationMap `json:"localizations,omitempty"`

	LocationAddress *string `json:"location_address,omitempty"`

	ImageID *string `json:"image_id,omitempty"`

	Date    *time.Time `json:"date,omitempty"`
	EndDate *time.Time `json:"end_date,omitempty"`

	RSVPRequired            *bool      `json:"rsvp_required,omitempty"`
	RegistrationOpens       *time.Time `json:"registration_opens,omitempty"`
	RegistrationDeadline    *time.Time `json:"registration_deadline,omitempty"`
	AutomaticRefundDeadline *time.Time `json:"automatic_refund_deadline,omitempty"`
	MaxSpots                *int       `json:"max_spots,omitempty"`
	Price                   *float64   `json:"price,omitempty"`
	MemberPrice             *float64   `json:"member_price,omitempty"`
	PaymentOptions          StringList `json:"payment_options,omitempty"`

	MembersOnly *bool              `json:"members_only,omitempty"`
	Gender      *GenderRestriction `json:"gender,omitempty"`
	MinAge      *int               `json:"min_age,omitempty"`
	MaxAge      *int               `json:"max_age,omitempty"`

	RegistrationAllowed *bool `json:"registration_allowed,omitempty"`
	Hidden              *bool `json:"hidden,omitempty"`
}

func (o InstanceOverrides) Value() (driver.Value, error) { return jsonbValue(o) }
func (o *InstanceOverrides) Scan(src interface{}) error { return jsonbScan(o, src) }
func (InstanceOverrides) GormDataType() string { return "jsonb" }

// OverrideGroupCount is the number of all-or-nothing override groups.
const OverrideGroupCount = 7

// GroupTracker records which override groups are active on an instance.
type GroupTracker []bool

func (t GroupTracker) Value() (driver.Value, error) { return jsonbValue([]bool(t)) }
func (t *GroupTracker) Scan(src interface{}) error { return jsonbScan(t, src) }
func (GroupTracker) GormDataType() string { return "jsonb" }

// Active reports whether group g is overridden.
func (t GroupTracker) Active(g int) bool {
	return g >= 0 && g < len(t) && t[g]
}

// NewGroupTracker returns an all-clear tracker.
func NewGroupTracker() GroupTracker { return make(GroupTracker, OverrideGroupCount) }

// EventInstance is one projected occurrence of a blueprint. It exclusively
// owns its registration map and seats counter.
type EventInstance struct {
	ID      uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	EventID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_instance_series,priority:1" json:"event_id"`

	SeriesIndex int `gorm:"not null;uniqueIndex:idx_instance_series,priority:2" json:"series_index"`

	Overrides        InstanceOverrides `gorm:"type:jsonb" json:"overrides"`
	OverridesTracker GroupTracker      `gorm:"type:jsonb" json:"overrides_tracker"`

	SeatsFilled         int             `gorm:"not null;default:0" json:"seats_filled"`
	RegistrationDetails RegistrationMap `gorm:"type:jsonb" json:"registration_details"`

	// TargetDate is what the date would be without overrides; ScheduledDate is
	// the effective date after a date-group override, if any.
	TargetDate    time.Time `gorm:"not null" json:"target_date"`
	ScheduledDate time.Time `gorm:"not null;index" json:"scheduled_date"`

	// OverridesDateUpdatedOn records the wall-clock moment the date intent was
	// captured; the front-end uses it to disambiguate DST.
	OverridesDateUpdatedOn time.Time `json:"overrides_date_updated_on"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (EventInstance) TableName() string { return "event_instances" }

func (i *EventInstance) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// RegistrationFor returns the registration entry of a user, or nil.
func (i *EventInstance) RegistrationFor(uid string) *RegistrationDetails {
	if i.RegistrationDetails == nil {
		return nil
	}
	return i.RegistrationDetails[uid]
}
