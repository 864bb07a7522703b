package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/koinonia/backend/internal/models"
	"gorm.io/gorm"
)

// RegistrationService is the state machine for per-user registrations on an
// instance. Seat counts and registration entries change only through the
// single conditional update in UpdateRegistration.
type RegistrationService struct {
	db        *gorm.DB
	discounts *DiscountService
	refunds   *RefundService
}

func NewRegistrationService(db *gorm.DB, discounts *DiscountService, refunds *RefundService) *RegistrationService {
	return &RegistrationService{db: db, discounts: discounts, refunds: refunds}
}

// ChangeRequest is the caller's desired registration change.
type ChangeRequest struct {
	AddSelf      bool     `json:"add_self"`
	RemoveSelf   bool     `json:"remove_self"`
	AddFamily    []string `json:"add_family"`
	RemoveFamily []string `json:"remove_family"`

	PaymentType  models.PaymentType `json:"payment_type,omitempty"`
	DiscountCode string             `json:"discount_code,omitempty"`
}

// Additions returns the deduplicated registrant ids being added.
func (r *ChangeRequest) Additions() []string {
	return dedupePersons(r.AddSelf, r.AddFamily)
}

// Removals returns the deduplicated registrant ids being removed.
func (r *ChangeRequest) Removals() []string {
	return dedupePersons(r.RemoveSelf, r.RemoveFamily)
}

// IsNoop reports whether the request changes nothing.
func (r *ChangeRequest) IsNoop() bool {
	return len(r.Additions()) == 0 && len(r.Removals()) == 0
}

func dedupePersons(self bool, family []string) []string {
	var out []string
	if self {
		out = append(out, models.SelfPersonID)
	}
	seen := map[string]bool{}
	for _, id := range family {
		if id == "" || id == models.SelfPersonID || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// changePlan is the validated shape of a registration change.
type changePlan struct {
	additions       []string
	removals        []string
	paymentType     models.PaymentType
	unitPrice       float64
	discount        *models.DiscountCode
	discountedCount int
}

func (p *changePlan) seatDelta() int { return len(p.additions) - len(p.removals) }

// lineRef ties a registrant to the ledger line that funded their seat.
type lineRef struct {
	OrderID string
	LineID  string
}

// validateChange runs the pre-write validation against the effective event.
// forced is the admin override path: windows, membership, gender and age
// checks are skipped, but structural checks and capacity still apply.
func validateChange(eff *models.EventBlueprint, inst *models.EventInstance, user *models.User, req *ChangeRequest, dc *models.DiscountCode, now time.Time, forced bool) (*changePlan, error) {
	additions := req.Additions()
	removals := req.Removals()

	if len(additions) == 0 && len(removals) == 0 {
		return nil, errors.New("nothing to change")
	}
	for _, id := range additions {
		for _, rid := range removals {
			if id == rid {
				return nil, fmt.Errorf("registrant %s cannot be both added and removed", id)
			}
		}
	}

	existing := inst.RegistrationFor(user.ID.String())
	for _, id := range additions {
		if existing.HasPerson(id) {
			return nil, ErrAlreadyRegistered
		}
	}
	for _, id := range removals {
		if !existing.HasPerson(id) {
			return nil, ErrNotRegistered
		}
	}

	if !forced && !now.Before(inst.ScheduledDate) {
		return nil, ErrEventPassed
	}

	if len(additions) > 0 && !forced {
		if !eff.RegistrationAllowed {
			return nil, ErrRegistrationClosed
		}
		if eff.RegistrationOpens != nil && now.Before(*eff.RegistrationOpens) {
			return nil, ErrRegistrationClosed
		}
		if eff.RegistrationDeadline != nil && !now.Before(*eff.RegistrationDeadline) {
			return nil, ErrRegistrationClosed
		}
	}

	plan := &changePlan{
		additions:   additions,
		removals:    removals,
		paymentType: req.PaymentType,
		discount:    dc,
	}

	if len(additions) > 0 {
		if !plan.paymentType.Valid() {
			return nil, errors.New("a payment type is required when adding registrants")
		}
		base := eff.PriceFor(user.Membership)
		if base > 0 && plan.paymentType == models.PaymentFree {
			return nil, errors.New("this event is not free")
		}
		if plan.paymentType == models.PaymentPayPal && !eff.HasPaymentOption(models.PaymentOptionPayPal) {
			return nil, errors.New("paypal is not accepted for this event")
		}
		if plan.paymentType == models.PaymentDoor && base > 0 && !eff.HasPaymentOption(models.PaymentOptionDoor) {
			return nil, errors.New("payment at the door is not accepted for this event")
		}
		if eff.MembersOnly && !user.Membership && !forced {
			return nil, errors.New("this event is open to members only")
		}

		plan.unitPrice, plan.discountedCount = DiscountUnitPrice(dc, base, len(additions), user.ID.String())
		if plan.unitPrice > 0 && plan.paymentType == models.PaymentFree {
			return nil, errors.New("this event is not free")
		}

		for _, id := range additions {
			name, gender, birthday, err := registrantIdentity(user, id)
			if err != nil {
				return nil, err
			}
			if forced {
				continue
			}
			if err := checkEligibility(eff, name, gender, birthday); err != nil {
				return nil, err
			}
		}
	}

	if eff.MaxSpots != nil && plan.seatDelta() > 0 &&
		inst.SeatsFilled+plan.seatDelta() > *eff.MaxSpots {
		return nil, ErrCapacityExceeded
	}

	return plan, nil
}

// registrantIdentity resolves a registrant id to the user or one of their
// family members.
func registrantIdentity(user *models.User, personID string) (name, gender string, birthday *time.Time, err error) {
	if personID == models.SelfPersonID {
		return user.Name, user.Gender, user.Birthday, nil
	}
	fm := user.FamilyMembers.Find(personID)
	if fm == nil {
		return "", "", nil, fmt.Errorf("family member %s not found", personID)
	}
	return fm.Name, fm.Gender, fm.Birthday, nil
}

func checkEligibility(eff *models.EventBlueprint, name, gender string, birthday *time.Time) error {
	switch eff.Gender {
	case models.GenderMale:
		if gender != "M" {
			return fmt.Errorf("%s does not meet the gender requirement", name)
		}
	case models.GenderFemale:
		if gender != "F" {
			return fmt.Errorf("%s does not meet the gender requirement", name)
		}
	}
	if eff.MinAge == nil && eff.MaxAge == nil {
		return nil
	}
	if birthday == nil {
		return fmt.Errorf("%s needs a birthday on file for this event", name)
	}
	age := ageAt(*birthday, eff.Date)
	if eff.MinAge != nil && age < *eff.MinAge {
		return fmt.Errorf("%s is below the minimum age for this event", name)
	}
	if eff.MaxAge != nil && age > *eff.MaxAge {
		return fmt.Errorf("%s is above the maximum age for this event", name)
	}
	return nil
}

// ageAt returns full years between birthday and the reference date.
func ageAt(birthday, at time.Time) int {
	age := at.Year() - birthday.Year()
	if at.Month() < birthday.Month() ||
		(at.Month() == birthday.Month() && at.Day() < birthday.Day()) {
		age--
	}
	return age
}

// buildDetails derives the new registration entry from the old one plus the
// plan. lineage and refundable come from the capture flow; for free and door
// seats both are nil. complete marks additions as paid.
func buildDetails(old *models.RegistrationDetails, plan *changePlan, lineage map[string]lineRef, refundable map[string]float64, complete, forced bool) *models.RegistrationDetails {
	details := old.Clone()
	if details == nil {
		details = &models.RegistrationDetails{}
	}

	for _, id := range plan.removals {
		if id == models.SelfPersonID {
			details.SelfRegistered = false
			details.SelfPaymentDetails = nil
			continue
		}
		kept := details.FamilyRegistered[:0]
		for _, fid := range details.FamilyRegistered {
			if fid != id {
				kept = append(kept, fid)
			}
		}
		details.FamilyRegistered = kept
		delete(details.FamilyPaymentDetails, id)
	}

	for _, id := range plan.additions {
		pd := &models.PaymentDetails{
			Type:            plan.paymentType,
			Price:           plan.unitPrice,
			PaymentComplete: plan.paymentType == models.PaymentFree || complete,
			IsForced:        forced,
		}
		if plan.discount != nil {
			pd.DiscountCodeID = plan.discount.ID.String()
		}
		if ref, ok := lineage[id]; ok {
			pd.OrderID = ref.OrderID
			pd.LineID = ref.LineID
		}
		if amt, ok := refundable[id]; ok {
			a := amt
			pd.RefundableAmount = &a
		}
		if id == models.SelfPersonID {
			details.SelfRegistered = true
		} else {
			details.FamilyRegistered = append(details.FamilyRegistered, id)
		}
		details.SetPayment(id, pd)
	}

	return details
}

// priorEntryPredicate builds the WHERE fragment pinning the caller's current
// registration entry. Two writers working from the same snapshot cannot both
// apply: the second one misses the row and is classified predicate_unmet.
func priorEntryPredicate(uid string, prior *models.RegistrationDetails) (string, []interface{}, error) {
	if prior.IsEmpty() {
		return "NOT jsonb_exists(coalesce(registration_details, '{}'::jsonb), ?)", []interface{}{uid}, nil
	}
	encoded, err := json.Marshal(prior)
	if err != nil {
		return "", nil, err
	}
	return "registration_details -> ? = ?::jsonb", []interface{}{uid, string(encoded)}, nil
}

// UpdateRegistration is the single atomic write for seats and registration
// entries. The capacity and underflow preconditions live inside the store
// update, so two requests racing for the last seat cannot both succeed, and
// the prior entry is part of the predicate, so a duplicate of an already
// applied change cannot move seats_filled twice. A failed update is
// classified by re-reading the row.
func (s *RegistrationService) UpdateRegistration(instanceID uuid.UUID, uid string, details *models.RegistrationDetails, prior *models.RegistrationDetails, seatDelta int, capacity *int) *RegistrationResult {
	priorCond, priorArgs, err := priorEntryPredicate(uid, prior)
	if err != nil {
		return &RegistrationResult{Success: false, Msg: "failed to encode registration"}
	}

	query := s.db.Model(&models.EventInstance{}).
		Where("id = ?", instanceID).
		Where("seats_filled + ? >= 0", seatDelta).
		Where(priorCond, priorArgs...)
	if seatDelta > 0 && capacity != nil {
		query = query.Where("seats_filled + ? <= ?", seatDelta, *capacity)
	}

	updates := map[string]interface{}{
		"seats_filled": gorm.Expr("seats_filled + ?", seatDelta),
	}
	if details.IsEmpty() {
		updates["registration_details"] = gorm.Expr(
			"coalesce(registration_details, '{}'::jsonb) - ?::text", uid)
	} else {
		encoded, err := json.Marshal(details)
		if err != nil {
			return &RegistrationResult{Success: false, Msg: "failed to encode registration"}
		}
		updates["registration_details"] = gorm.Expr(
			"jsonb_set(coalesce(registration_details, '{}'::jsonb), array[?]::text[], ?::jsonb, true)",
			uid, string(encoded))
	}

	result := query.Updates(updates)
	if result.Error != nil {
		return &RegistrationResult{Success: false, Msg: "failed to update registration"}
	}
	if result.RowsAffected > 0 {
		var inst models.EventInstance
		if err := s.db.First(&inst, "id = ?", instanceID).Error; err == nil {
			return &RegistrationResult{
				Success:     true,
				SeatsFilled: inst.SeatsFilled,
				Details:     inst.RegistrationFor(uid),
			}
		}
		return &RegistrationResult{Success: true}
	}

	// No row matched: classify against current state.
	var inst models.EventInstance
	if err := s.db.First(&inst, "id = ?", instanceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &RegistrationResult{Success: false, Reason: ReasonNotFound, Msg: "event instance not found"}
		}
		return &RegistrationResult{Success: false, Msg: "failed to load instance"}
	}
	switch {
	case seatDelta > 0 && capacity != nil && inst.SeatsFilled+seatDelta > *capacity:
		return &RegistrationResult{Success: false, Reason: ReasonCapacityExceeded, Msg: "event is fully booked", SeatsFilled: inst.SeatsFilled}
	case inst.SeatsFilled+seatDelta < 0:
		return &RegistrationResult{Success: false, Reason: ReasonUnderflow, Msg: "seat count cannot drop below zero", SeatsFilled: inst.SeatsFilled}
	default:
		return &RegistrationResult{Success: false, Reason: ReasonPredicateUnmet, Msg: "registration state changed, please retry", SeatsFilled: inst.SeatsFilled}
	}
}

// ProcessChangeRegistration applies a validated plan: build the new entry,
// write it atomically, then run refunds for any removals. A refund failure
// triggers a compensating write restoring the old entry; if that also fails
// the result carries rollback_failed and the ledger stands as truth.
func (s *RegistrationService) ProcessChangeRegistration(eff *models.EventBlueprint, inst *models.EventInstance, user *models.User, plan *changePlan, lineage map[string]lineRef, refundable map[string]float64, complete bool, forced bool) *RegistrationResult {
	uid := user.ID.String()
	old := inst.RegistrationFor(uid)
	oldCopy := old.Clone()

	removedPayments := map[string]*models.PaymentDetails{}
	for _, id := range plan.removals {
		if pd := old.PaymentFor(id); pd != nil {
			removedPayments[id] = pd
		}
	}

	details := buildDetails(old, plan, lineage, refundable, complete, forced)
	delta := plan.seatDelta()

	res := s.UpdateRegistration(inst.ID, uid, details, oldCopy, delta, eff.MaxSpots)
	if !res.Success {
		return res
	}

	if len(removedPayments) > 0 {
		if err := s.refunds.ProcessRefundsForRemovals(eff, inst, uid, removedPayments); err != nil {
			restore := oldCopy
			if restore == nil {
				restore = &models.RegistrationDetails{}
			}
			comp := s.UpdateRegistration(inst.ID, uid, restore, details, -delta, nil)
			out := &RegistrationResult{Success: false, Msg: err.Error(), SeatsFilled: comp.SeatsFilled}
			if !comp.Success {
				out.RollbackFailed = true
				out.Msg = fmt.Sprintf("%s (rollback failed, operator attention required)", err.Error())
			}
			return out
		}
	}

	if plan.discount != nil && plan.discountedCount > 0 && len(plan.additions) > 0 {
		if err := s.discounts.CommitUsage(plan.discount.ID, uid, plan.discountedCount); err != nil {
			// The registration is committed; usage under-counting favours the
			// user and is logged upstream.
			res.Msg = "registered, but discount usage could not be recorded"
		}
	}

	return res
}

// ValidateRegistrationChange resolves the discount code and runs validation.
func (s *RegistrationService) ValidateRegistrationChange(eff *models.EventBlueprint, inst *models.EventInstance, user *models.User, req *ChangeRequest, forced bool) (*changePlan, error) {
	var dc *models.DiscountCode
	if req.DiscountCode != "" && (req.AddSelf || len(req.AddFamily) > 0) {
		var err error
		dc, err = s.discounts.ValidateForEvent(req.DiscountCode, eff, user.ID.String())
		if err != nil {
			return nil, err
		}
	}
	return validateChange(eff, inst, user, req, dc, time.Now().UTC(), forced)
}

// ApplyDirectChange handles the non-checkout flows: free and door additions,
// and removals regardless of payment type.
func (s *RegistrationService) ApplyDirectChange(eff *models.EventBlueprint, inst *models.EventInstance, user *models.User, req *ChangeRequest, forced bool) (*RegistrationResult, error) {
	plan, err := s.ValidateRegistrationChange(eff, inst, user, req, forced)
	if err != nil {
		return nil, err
	}
	return s.ProcessChangeRegistration(eff, inst, user, plan, nil, nil, false, forced), nil
}

// ListUserInstances returns the instances the user holds a registration on.
func (s *RegistrationService) ListUserInstances(uid string) ([]models.EventInstance, error) {
	var instances []models.EventInstance
	if err := s.db.Where("jsonb_exists(coalesce(registration_details, '{}'::jsonb), ?)", uid).
		Order("scheduled_date ASC").Find(&instances).Error; err != nil {
		return nil, err
	}
	return instances, nil
}
