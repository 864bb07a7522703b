package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/koinonia/backend/internal/models"
)

// Override groups. Fields in the same group are overridden together: touching
// any field of a group activates the whole group, and its untouched fields are
// filled in from the blueprint at packaging time.
const (
	GroupLocalizations = iota
	GroupLocation
	GroupImage
	GroupDate
	GroupRegistration
	GroupEligibility
	GroupVisibility
)

var overrideGroups = map[string]int{
	"localizations": GroupLocalizations,

	"location_address": GroupLocation,

	"image_id": GroupImage,

	"date":     GroupDate,
	"end_date": GroupDate,

	"rsvp_required":             GroupRegistration,
	"registration_opens":        GroupRegistration,
	"registration_deadline":     GroupRegistration,
	"automatic_refund_deadline": GroupRegistration,
	"max_spots":                 GroupRegistration,
	"price":                     GroupRegistration,
	"member_price":              GroupRegistration,
	"payment_options":           GroupRegistration,

	"members_only": GroupEligibility,
	"gender":       GroupEligibility,
	"min_age":      GroupEligibility,
	"max_age":      GroupEligibility,

	"registration_allowed": GroupVisibility,
	"hidden":               GroupVisibility,
}

// Fields where an explicit JSON null means "no value" rather than "use the
// blueprint". Null on any other field is rejected.
var allowedNone = map[string]bool{
	"end_date":                  true,
	"registration_opens":        true,
	"registration_deadline":     true,
	"automatic_refund_deadline": true,
	"max_spots":                 true,
	"member_price":              true,
	"min_age":                   true,
	"max_age":                   true,
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// PackageOverrides turns a sparse patch into a complete override set plus the
// group tracker. targetDate is the instance's unoverridden date; it anchors
// the fill-in values for the date group and the shifted registration windows.
// Each call packages from scratch, so a patch fully replaces prior overrides.
func PackageOverrides(patch map[string]json.RawMessage, bp *models.EventBlueprint, targetDate time.Time) (models.InstanceOverrides, models.GroupTracker, error) {
	tracker := models.NewGroupTracker()
	var o models.InstanceOverrides

	for field := range patch {
		g, ok := overrideGroups[field]
		if !ok {
			return o, tracker, fmt.Errorf("unknown override field %q", field)
		}
		tracker[g] = true
	}

	delta := targetDate.Sub(bp.Date)

	for field, g := range overrideGroups {
		if !tracker.Active(g) {
			continue
		}
		raw, present := patch[field]
		if present {
			if isJSONNull(raw) {
				if !allowedNone[field] {
					return o, tracker, fmt.Errorf("override field %q cannot be null", field)
				}
				// Explicitly none: the pointer stays nil inside an active group.
				continue
			}
			if err := setOverrideField(&o, field, raw); err != nil {
				return o, tracker, err
			}
			continue
		}
		fillFromBlueprint(&o, field, bp, targetDate, delta)
	}

	return o, tracker, nil
}

func setOverrideField(o *models.InstanceOverrides, field string, raw json.RawMessage) error {
	var err error
	switch field {
	case "localizations":
		err = json.Unmarshal(raw, &o.Localizations)
	case "location_address":
		err = json.Unmarshal(raw, &o.LocationAddress)
	case "image_id":
		err = json.Unmarshal(raw, &o.ImageID)
	case "date":
		err = json.Unmarshal(raw, &o.Date)
	case "end_date":
		err = json.Unmarshal(raw, &o.EndDate)
	case "rsvp_required":
		err = json.Unmarshal(raw, &o.RSVPRequired)
	case "registration_opens":
		err = json.Unmarshal(raw, &o.RegistrationOpens)
	case "registration_deadline":
		err = json.Unmarshal(raw, &o.RegistrationDeadline)
	case "automatic_refund_deadline":
		err = json.Unmarshal(raw, &o.AutomaticRefundDeadline)
	case "max_spots":
		err = json.Unmarshal(raw, &o.MaxSpots)
	case "price":
		err = json.Unmarshal(raw, &o.Price)
	case "member_price":
		err = json.Unmarshal(raw, &o.MemberPrice)
	case "payment_options":
		err = json.Unmarshal(raw, &o.PaymentOptions)
	case "members_only":
		err = json.Unmarshal(raw, &o.MembersOnly)
	case "gender":
		err = json.Unmarshal(raw, &o.Gender)
	case "min_age":
		err = json.Unmarshal(raw, &o.MinAge)
	case "max_age":
		err = json.Unmarshal(raw, &o.MaxAge)
	case "registration_allowed":
		err = json.Unmarshal(raw, &o.RegistrationAllowed)
	case "hidden":
		err = json.Unmarshal(raw, &o.Hidden)
	}
	if err != nil {
		return fmt.Errorf("invalid value for override field %q: %w", field, err)
	}
	return nil
}

func fillFromBlueprint(o *models.InstanceOverrides, field string, bp *models.EventBlueprint, targetDate time.Time, delta time.Duration) {
	switch field {
	case "localizations":
		o.Localizations = bp.Localizations
	case "location_address":
		addr := bp.LocationAddress
		o.LocationAddress = &addr
	case "image_id":
		img := bp.ImageID
		o.ImageID = &img
	case "date":
		d := targetDate
		o.Date = &d
	case "end_date":
		o.EndDate = shiftTime(bp.EndDate, delta)
	case "rsvp_required":
		v := bp.RSVPRequired
		o.RSVPRequired = &v
	case "registration_opens":
		o.RegistrationOpens = shiftTime(bp.RegistrationOpens, delta)
	case "registration_deadline":
		o.RegistrationDeadline = shiftTime(bp.RegistrationDeadline, delta)
	case "automatic_refund_deadline":
		o.AutomaticRefundDeadline = shiftTime(bp.AutomaticRefundDeadline, delta)
	case "max_spots":
		o.MaxSpots = copyIntPtr(bp.MaxSpots)
	case "price":
		p := bp.Price
		o.Price = &p
	case "member_price":
		o.MemberPrice = copyFloatPtr(bp.MemberPrice)
	case "payment_options":
		o.PaymentOptions = append(models.StringList(nil), bp.PaymentOptions...)
	case "members_only":
		v := bp.MembersOnly
		o.MembersOnly = &v
	case "gender":
		g := bp.Gender
		o.Gender = &g
	case "min_age":
		o.MinAge = copyIntPtr(bp.MinAge)
	case "max_age":
		o.MaxAge = copyIntPtr(bp.MaxAge)
	case "registration_allowed":
		v := bp.RegistrationAllowed
		o.RegistrationAllowed = &v
	case "hidden":
		v := bp.Hidden
		o.Hidden = &v
	}
}

func shiftTime(t *time.Time, delta time.Duration) *time.Time {
	if t == nil {
		return nil
	}
	s := t.Add(delta)
	return &s
}

func copyIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyFloatPtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// EffectiveEvent merges an instance's overrides onto its blueprint and returns
// the view registration decisions are made against. The date is always the
// instance's scheduled date; windows of an untouched registration group shift
// with the instance so a weekly event's deadline tracks each occurrence.
func EffectiveEvent(bp *models.EventBlueprint, inst *models.EventInstance) models.EventBlueprint {
	eff := *bp
	o := inst.Overrides
	t := inst.OverridesTracker
	delta := inst.ScheduledDate.Sub(bp.Date)

	eff.Date = inst.ScheduledDate

	if t.Active(GroupDate) {
		eff.EndDate = o.EndDate
	} else {
		eff.EndDate = shiftTime(bp.EndDate, delta)
	}

	if t.Active(GroupLocalizations) && o.Localizations != nil {
		eff.Localizations = o.Localizations
	}
	if t.Active(GroupLocation) && o.LocationAddress != nil {
		eff.LocationAddress = *o.LocationAddress
	}
	if t.Active(GroupImage) && o.ImageID != nil {
		eff.ImageID = *o.ImageID
	}

	if t.Active(GroupRegistration) {
		if o.RSVPRequired != nil {
			eff.RSVPRequired = *o.RSVPRequired
		}
		eff.RegistrationOpens = o.RegistrationOpens
		eff.RegistrationDeadline = o.RegistrationDeadline
		eff.AutomaticRefundDeadline = o.AutomaticRefundDeadline
		eff.MaxSpots = o.MaxSpots
		if o.Price != nil {
			eff.Price = *o.Price
		}
		eff.MemberPrice = o.MemberPrice
		eff.PaymentOptions = o.PaymentOptions
	} else {
		eff.RegistrationOpens = shiftTime(bp.RegistrationOpens, delta)
		eff.RegistrationDeadline = shiftTime(bp.RegistrationDeadline, delta)
		eff.AutomaticRefundDeadline = shiftTime(bp.AutomaticRefundDeadline, delta)
	}

	if t.Active(GroupEligibility) {
		if o.MembersOnly != nil {
			eff.MembersOnly = *o.MembersOnly
		}
		if o.Gender != nil {
			eff.Gender = *o.Gender
		}
		eff.MinAge = o.MinAge
		eff.MaxAge = o.MaxAge
	}

	if t.Active(GroupVisibility) {
		if o.RegistrationAllowed != nil {
			eff.RegistrationAllowed = *o.RegistrationAllowed
		}
		if o.Hidden != nil {
			eff.Hidden = *o.Hidden
		}
	}

	return eff
}

// ValidateEffective checks the merged view against the blueprint invariants.
// requireFuture is false for edits that leave the date untouched. The seat
// cap may not drop below the seats the instance already holds.
func ValidateEffective(bp *models.EventBlueprint, inst *models.EventInstance, now time.Time, requireFuture bool) error {
	eff := EffectiveEvent(bp, inst)
	if eff.MaxSpots != nil && *eff.MaxSpots < inst.SeatsFilled {
		return fmt.Errorf("max_spots %d is below the %d seats already filled", *eff.MaxSpots, inst.SeatsFilled)
	}
	return eff.Validate(now, requireFuture)
}
