package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/koinonia/backend/internal/models"
)

var testNow = date(2025, time.June, 10, 12, 0)

func testUser() *models.User {
	bd := date(1995, time.March, 2, 0, 0)
	kid := date(2015, time.August, 20, 0, 0)
	return &models.User{
		ID:         uuid.New(),
		Name:       "Ann Walker",
		Gender:     "F",
		Birthday:   &bd,
		Membership: false,
		FamilyMembers: models.FamilyList{
			{ID: "fm-1", Name: "Ben Walker", Gender: "M", Birthday: &kid},
			{ID: "fm-2", Name: "Cleo Walker", Gender: "F"},
		},
	}
}

func testInstance(bp *models.EventBlueprint) *models.EventInstance {
	return &models.EventInstance{
		ID:                  uuid.New(),
		EventID:             bp.ID,
		SeriesIndex:         bp.AnchorIndex,
		OverridesTracker:    models.NewGroupTracker(),
		RegistrationDetails: models.RegistrationMap{},
		TargetDate:          bp.Date,
		ScheduledDate:       bp.Date,
	}
}

func TestValidateChangeStructural(t *testing.T) {
	bp := testBlueprint()
	inst := testInstance(bp)
	user := testUser()

	t.Run("empty request", func(t *testing.T) {
		_, err := validateChange(bp, inst, user, &ChangeRequest{}, nil, testNow, false)
		require.Error(t, err)
	})

	t.Run("add and remove the same registrant", func(t *testing.T) {
		req := &ChangeRequest{AddSelf: true, RemoveSelf: true, PaymentType: models.PaymentDoor}
		_, err := validateChange(bp, inst, user, req, nil, testNow, false)
		require.Error(t, err)
	})

	t.Run("duplicate family ids collapse", func(t *testing.T) {
		req := &ChangeRequest{AddFamily: []string{"fm-1", "fm-1"}, PaymentType: models.PaymentDoor}
		plan, err := validateChange(bp, inst, user, req, nil, testNow, false)
		require.NoError(t, err)
		assert.Equal(t, []string{"fm-1"}, plan.additions)
	})

	t.Run("already registered", func(t *testing.T) {
		withSelf := testInstance(bp)
		withSelf.RegistrationDetails[user.ID.String()] = &models.RegistrationDetails{SelfRegistered: true}
		withSelf.SeatsFilled = 1

		req := &ChangeRequest{AddSelf: true, PaymentType: models.PaymentDoor}
		_, err := validateChange(bp, withSelf, user, req, nil, testNow, false)
		assert.ErrorIs(t, err, ErrAlreadyRegistered)
	})

	t.Run("not registered", func(t *testing.T) {
		req := &ChangeRequest{RemoveSelf: true}
		_, err := validateChange(bp, inst, user, req, nil, testNow, false)
		assert.ErrorIs(t, err, ErrNotRegistered)
	})
}

func TestValidateChangeWindows(t *testing.T) {
	user := testUser()

	t.Run("event passed", func(t *testing.T) {
		bp := testBlueprint()
		inst := testInstance(bp)
		req := &ChangeRequest{AddSelf: true, PaymentType: models.PaymentDoor}
		_, err := validateChange(bp, inst, user, req, nil, bp.Date, false)
		assert.ErrorIs(t, err, ErrEventPassed)
	})

	t.Run("registration not allowed", func(t *testing.T) {
		bp := testBlueprint()
		bp.RegistrationAllowed = false
		inst := testInstance(bp)
		req := &ChangeRequest{AddSelf: true, PaymentType: models.PaymentDoor}
		_, err := validateChange(bp, inst, user, req, nil, testNow, false)
		assert.ErrorIs(t, err, ErrRegistrationClosed)
	})

	t.Run("before opens", func(t *testing.T) {
		bp := testBlueprint()
		inst := testInstance(bp)
		req := &ChangeRequest{AddSelf: true, PaymentType: models.PaymentDoor}
		_, err := validateChange(bp, inst, user, req, nil, date(2025, time.May, 20, 0, 0), false)
		assert.ErrorIs(t, err, ErrRegistrationClosed)
	})

	t.Run("at the deadline", func(t *testing.T) {
		bp := testBlueprint()
		inst := testInstance(bp)
		req := &ChangeRequest{AddSelf: true, PaymentType: models.PaymentDoor}
		_, err := validateChange(bp, inst, user, req, nil, *bp.RegistrationDeadline, false)
		assert.ErrorIs(t, err, ErrRegistrationClosed)
	})

	t.Run("removal ignores the registration window", func(t *testing.T) {
		bp := testBlueprint()
		bp.RegistrationAllowed = false
		inst := testInstance(bp)
		inst.RegistrationDetails[user.ID.String()] = &models.RegistrationDetails{SelfRegistered: true}
		inst.SeatsFilled = 1

		req := &ChangeRequest{RemoveSelf: true}
		plan, err := validateChange(bp, inst, user, req, nil, testNow, false)
		require.NoError(t, err)
		assert.Equal(t, -1, plan.seatDelta())
	})
}

func TestValidateChangePayment(t *testing.T) {
	user := testUser()

	t.Run("payment type required for additions", func(t *testing.T) {
		bp := testBlueprint()
		inst := testInstance(bp)
		req := &ChangeRequest{AddSelf: true}
		_, err := validateChange(bp, inst, user, req, nil, testNow, false)
		require.Error(t, err)
	})

	t.Run("free rejected on a priced event", func(t *testing.T) {
		bp := testBlueprint()
		inst := testInstance(bp)
		req := &ChangeRequest{AddSelf: true, PaymentType: models.PaymentFree}
		_, err := validateChange(bp, inst, user, req, nil, testNow, false)
		require.Error(t, err)
	})

	t.Run("paypal requires the option", func(t *testing.T) {
		bp := testBlueprint()
		bp.PaymentOptions = models.StringList{models.PaymentOptionDoor}
		inst := testInstance(bp)
		req := &ChangeRequest{AddSelf: true, PaymentType: models.PaymentPayPal}
		_, err := validateChange(bp, inst, user, req, nil, testNow, false)
		require.Error(t, err)
	})

	t.Run("free event registers free", func(t *testing.T) {
		bp := testBlueprint()
		bp.Price = 0
		inst := testInstance(bp)
		req := &ChangeRequest{AddSelf: true, PaymentType: models.PaymentFree}
		plan, err := validateChange(bp, inst, user, req, nil, testNow, false)
		require.NoError(t, err)
		assert.Equal(t, 0.0, plan.unitPrice)
	})

	t.Run("member price is selected", func(t *testing.T) {
		bp := testBlueprint()
		memberPrice := 15.00
		bp.MemberPrice = &memberPrice
		inst := testInstance(bp)
		member := testUser()
		member.Membership = true

		req := &ChangeRequest{AddSelf: true, PaymentType: models.PaymentDoor}
		plan, err := validateChange(bp, inst, member, req, nil, testNow, false)
		require.NoError(t, err)
		assert.Equal(t, 15.00, plan.unitPrice)
	})

	t.Run("members only", func(t *testing.T) {
		bp := testBlueprint()
		bp.MembersOnly = true
		inst := testInstance(bp)
		req := &ChangeRequest{AddSelf: true, PaymentType: models.PaymentDoor}
		_, err := validateChange(bp, inst, user, req, nil, testNow, false)
		require.Error(t, err)
	})
}

func TestValidateChangeDiscountMeanPrice(t *testing.T) {
	bp := testBlueprint()
	bp.Price = 20.00
	inst := testInstance(bp)
	user := testUser()

	maxUses := 1
	dc := &models.DiscountCode{
		ID:        uuid.New(),
		Code:      "HALF",
		Active:    true,
		IsPercent: true,
		Discount:  50,
		MaxUses:   &maxUses,
	}

	req := &ChangeRequest{AddSelf: true, AddFamily: []string{"fm-1", "fm-2"}, PaymentType: models.PaymentPayPal}
	plan, err := validateChange(bp, inst, user, req, dc, testNow, false)
	require.NoError(t, err)

	// One seat at 10.00 and two at 20.00, spread evenly: 50/3 truncated.
	assert.Equal(t, 16.66, plan.unitPrice)
	assert.Equal(t, 1, plan.discountedCount)
}

func TestValidateChangeCapacity(t *testing.T) {
	user := testUser()

	t.Run("over capacity", func(t *testing.T) {
		bp := testBlueprint()
		two := 2
		bp.MaxSpots = &two
		inst := testInstance(bp)
		inst.SeatsFilled = 2

		req := &ChangeRequest{AddSelf: true, PaymentType: models.PaymentDoor}
		_, err := validateChange(bp, inst, user, req, nil, testNow, false)
		assert.ErrorIs(t, err, ErrCapacityExceeded)
	})

	t.Run("swap at capacity passes the precheck", func(t *testing.T) {
		bp := testBlueprint()
		two := 2
		bp.MaxSpots = &two
		inst := testInstance(bp)
		inst.SeatsFilled = 2
		inst.RegistrationDetails[user.ID.String()] = &models.RegistrationDetails{
			FamilyRegistered: []string{"fm-1"},
		}

		req := &ChangeRequest{AddSelf: true, RemoveFamily: []string{"fm-1"}, PaymentType: models.PaymentDoor}
		plan, err := validateChange(bp, inst, user, req, nil, testNow, false)
		require.NoError(t, err)
		assert.Equal(t, 0, plan.seatDelta())
	})
}

func TestValidateChangeEligibility(t *testing.T) {
	user := testUser()

	t.Run("gender restriction", func(t *testing.T) {
		bp := testBlueprint()
		bp.Gender = models.GenderMale
		inst := testInstance(bp)

		req := &ChangeRequest{AddSelf: true, PaymentType: models.PaymentDoor}
		_, err := validateChange(bp, inst, user, req, nil, testNow, false)
		require.Error(t, err)

		req = &ChangeRequest{AddFamily: []string{"fm-1"}, PaymentType: models.PaymentDoor}
		_, err = validateChange(bp, inst, user, req, nil, testNow, false)
		require.NoError(t, err)
	})

	t.Run("age bounds at the event date", func(t *testing.T) {
		bp := testBlueprint()
		minAge := 18
		bp.MinAge = &minAge
		inst := testInstance(bp)

		// fm-1 was born in 2015, well under 18 at the 2025 event.
		req := &ChangeRequest{AddFamily: []string{"fm-1"}, PaymentType: models.PaymentDoor}
		_, err := validateChange(bp, inst, user, req, nil, testNow, false)
		require.Error(t, err)

		req = &ChangeRequest{AddSelf: true, PaymentType: models.PaymentDoor}
		_, err = validateChange(bp, inst, user, req, nil, testNow, false)
		require.NoError(t, err)
	})

	t.Run("missing birthday with an age bound", func(t *testing.T) {
		bp := testBlueprint()
		maxAge := 40
		bp.MaxAge = &maxAge
		inst := testInstance(bp)

		// fm-2 has no birthday on file.
		req := &ChangeRequest{AddFamily: []string{"fm-2"}, PaymentType: models.PaymentDoor}
		_, err := validateChange(bp, inst, user, req, nil, testNow, false)
		require.Error(t, err)
	})

	t.Run("unknown family member", func(t *testing.T) {
		bp := testBlueprint()
		inst := testInstance(bp)
		req := &ChangeRequest{AddFamily: []string{"fm-9"}, PaymentType: models.PaymentDoor}
		_, err := validateChange(bp, inst, user, req, nil, testNow, false)
		require.Error(t, err)
	})
}

func TestValidateChangeForced(t *testing.T) {
	user := testUser()

	t.Run("forced skips windows and eligibility", func(t *testing.T) {
		bp := testBlueprint()
		bp.MembersOnly = true
		bp.Gender = models.GenderMale
		bp.RegistrationAllowed = false
		inst := testInstance(bp)

		req := &ChangeRequest{AddSelf: true, PaymentType: models.PaymentDoor}
		plan, err := validateChange(bp, inst, user, req, nil, bp.Date.Add(time.Hour), true)
		require.NoError(t, err)
		assert.Equal(t, 1, plan.seatDelta())
	})

	t.Run("forced still honours capacity", func(t *testing.T) {
		bp := testBlueprint()
		one := 1
		bp.MaxSpots = &one
		inst := testInstance(bp)
		inst.SeatsFilled = 1

		req := &ChangeRequest{AddSelf: true, PaymentType: models.PaymentDoor}
		_, err := validateChange(bp, inst, user, req, nil, testNow, true)
		assert.ErrorIs(t, err, ErrCapacityExceeded)
	})
}

func TestAgeAt(t *testing.T) {
	bd := date(2000, time.June, 15, 0, 0)
	tests := []struct {
		name string
		at   time.Time
		want int
	}{
		{"day before the birthday", date(2025, time.June, 14, 0, 0), 24},
		{"on the birthday", date(2025, time.June, 15, 0, 0), 25},
		{"day after the birthday", date(2025, time.June, 16, 0, 0), 25},
		{"earlier month", date(2025, time.February, 1, 0, 0), 24},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ageAt(bd, tt.at); got != tt.want {
				t.Errorf("ageAt = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBuildDetails(t *testing.T) {
	t.Run("additions stamp payment and lineage", func(t *testing.T) {
		plan := &changePlan{
			additions:   []string{models.SelfPersonID, "fm-1"},
			paymentType: models.PaymentPayPal,
			unitPrice:   16.66,
		}
		lineage := map[string]lineRef{
			models.SelfPersonID: {OrderID: "ORD-1", LineID: "l-self"},
			"fm-1":              {OrderID: "ORD-1", LineID: "l-fm1"},
		}
		refundable := map[string]float64{
			models.SelfPersonID: 16.16,
			"fm-1":              16.16,
		}

		details := buildDetails(nil, plan, lineage, refundable, true, false)

		assert.True(t, details.SelfRegistered)
		assert.Equal(t, []string{"fm-1"}, details.FamilyRegistered)

		pd := details.PaymentFor(models.SelfPersonID)
		require.NotNil(t, pd)
		assert.Equal(t, models.PaymentPayPal, pd.Type)
		assert.Equal(t, 16.66, pd.Price)
		assert.True(t, pd.PaymentComplete)
		assert.Equal(t, "ORD-1", pd.OrderID)
		assert.Equal(t, "l-self", pd.LineID)
		require.NotNil(t, pd.RefundableAmount)
		assert.Equal(t, 16.16, *pd.RefundableAmount)
	})

	t.Run("door additions stay unpaid", func(t *testing.T) {
		plan := &changePlan{
			additions:   []string{models.SelfPersonID},
			paymentType: models.PaymentDoor,
			unitPrice:   25.00,
		}
		details := buildDetails(nil, plan, nil, nil, false, false)
		pd := details.PaymentFor(models.SelfPersonID)
		require.NotNil(t, pd)
		assert.False(t, pd.PaymentComplete)
		assert.Empty(t, pd.OrderID)
	})

	t.Run("removal drops the seat and its payment record", func(t *testing.T) {
		old := &models.RegistrationDetails{
			SelfRegistered:   true,
			FamilyRegistered: []string{"fm-1", "fm-2"},
			FamilyPaymentDetails: map[string]*models.PaymentDetails{
				"fm-1": {Type: models.PaymentPayPal, Price: 25.00},
				"fm-2": {Type: models.PaymentDoor, Price: 25.00},
			},
		}
		plan := &changePlan{removals: []string{"fm-1"}}

		details := buildDetails(old, plan, nil, nil, false, false)

		assert.True(t, details.SelfRegistered)
		assert.Equal(t, []string{"fm-2"}, details.FamilyRegistered)
		assert.Nil(t, details.PaymentFor("fm-1"))
		assert.NotNil(t, details.PaymentFor("fm-2"))

		// The old snapshot is untouched, it backs the compensating write.
		assert.Equal(t, []string{"fm-1", "fm-2"}, old.FamilyRegistered)
	})

	t.Run("removing the last seat leaves an empty entry", func(t *testing.T) {
		old := &models.RegistrationDetails{SelfRegistered: true}
		plan := &changePlan{removals: []string{models.SelfPersonID}}
		details := buildDetails(old, plan, nil, nil, false, false)
		assert.True(t, details.IsEmpty())
	})
}

func TestPriorEntryPredicate(t *testing.T) {
	t.Run("absent entry requires the key to be missing", func(t *testing.T) {
		cond, args, err := priorEntryPredicate("u-1", nil)
		require.NoError(t, err)
		assert.Equal(t, "NOT jsonb_exists(coalesce(registration_details, '{}'::jsonb), ?)", cond)
		assert.Equal(t, []interface{}{"u-1"}, args)
	})

	t.Run("empty entry counts as absent", func(t *testing.T) {
		cond, _, err := priorEntryPredicate("u-1", &models.RegistrationDetails{})
		require.NoError(t, err)
		assert.Contains(t, cond, "NOT jsonb_exists")
	})

	t.Run("existing entry is pinned by value", func(t *testing.T) {
		prior := &models.RegistrationDetails{
			SelfRegistered:     true,
			SelfPaymentDetails: &models.PaymentDetails{Type: models.PaymentDoor, Price: 25.00},
		}
		cond, args, err := priorEntryPredicate("u-1", prior)
		require.NoError(t, err)
		assert.Equal(t, "registration_details -> ? = ?::jsonb", cond)
		require.Len(t, args, 2)
		assert.Equal(t, "u-1", args[0])
		assert.Contains(t, args[1], `"self_registered":true`)
	})
}
