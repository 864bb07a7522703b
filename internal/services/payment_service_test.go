package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/koinonia/backend/internal/models"
	"github.com/koinonia/backend/pkg/money"
)

func ledgerLines(prices ...float64) models.TransactionItems {
	items := make(models.TransactionItems, 0, len(prices))
	for i, p := range prices {
		items = append(items, models.TransactionItem{
			LineID:    string(rune('a' + i)),
			UnitPrice: p,
		})
	}
	return items
}

func TestDistributeFee(t *testing.T) {
	t.Run("even split", func(t *testing.T) {
		items := ledgerLines(16.66, 16.66, 16.66)
		shares := distributeFee(items, 1.50)
		assert.Equal(t, 0.50, shares["a"])
		assert.Equal(t, 0.50, shares["b"])
		assert.Equal(t, 0.50, shares["c"])
	})

	t.Run("last line absorbs the remainder", func(t *testing.T) {
		items := ledgerLines(10.00, 10.00, 10.00)
		shares := distributeFee(items, 1.00)
		assert.Equal(t, 0.33, shares["a"])
		assert.Equal(t, 0.33, shares["b"])
		assert.Equal(t, 0.34, shares["c"])

		var sum float64
		for _, s := range shares {
			sum += s
		}
		assert.True(t, money.Equal(sum, 1.00))
	})

	t.Run("proportional to unit price", func(t *testing.T) {
		items := ledgerLines(30.00, 10.00)
		shares := distributeFee(items, 2.00)
		assert.Equal(t, 1.50, shares["a"])
		assert.Equal(t, 0.50, shares["b"])
	})

	t.Run("zero fee", func(t *testing.T) {
		shares := distributeFee(ledgerLines(10.00, 20.00), 0)
		assert.Equal(t, 0.0, shares["a"])
		assert.Equal(t, 0.0, shares["b"])
	})

	t.Run("no lines", func(t *testing.T) {
		assert.Empty(t, distributeFee(nil, 1.50))
	})
}

func TestRefundableAmounts(t *testing.T) {
	t.Run("fee reduces the refundable amount", func(t *testing.T) {
		items := ledgerLines(16.66, 16.66, 16.66)
		fee := 1.50
		out := refundableAmounts(items, &fee)
		assert.Equal(t, 16.16, out["a"])
		assert.Equal(t, 16.16, out["b"])
		assert.Equal(t, 16.16, out["c"])
	})

	t.Run("no fee means fully refundable", func(t *testing.T) {
		items := ledgerLines(25.00)
		out := refundableAmounts(items, nil)
		assert.Equal(t, 25.00, out["a"])
	})

	t.Run("clamped at zero", func(t *testing.T) {
		items := ledgerLines(0.50)
		fee := 1.00
		out := refundableAmounts(items, &fee)
		assert.Equal(t, 0.0, out["a"])
	})
}

func TestReduceRequest(t *testing.T) {
	current := &models.RegistrationDetails{
		SelfRegistered:   true,
		FamilyRegistered: []string{"fm-1"},
	}

	t.Run("applied additions drop out", func(t *testing.T) {
		req := &ChangeRequest{
			AddSelf:     true,
			AddFamily:   []string{"fm-1", "fm-2"},
			PaymentType: models.PaymentPayPal,
		}
		out := reduceRequest(req, current)
		assert.False(t, out.AddSelf)
		assert.Equal(t, []string{"fm-2"}, out.AddFamily)
		assert.Equal(t, models.PaymentPayPal, out.PaymentType)
	})

	t.Run("fully applied request is a noop", func(t *testing.T) {
		req := &ChangeRequest{AddSelf: true, AddFamily: []string{"fm-1"}, PaymentType: models.PaymentPayPal}
		out := reduceRequest(req, current)
		assert.True(t, out.IsNoop())
	})

	t.Run("stale removals drop out", func(t *testing.T) {
		req := &ChangeRequest{RemoveFamily: []string{"fm-1", "fm-9"}}
		out := reduceRequest(req, current)
		assert.Equal(t, []string{"fm-1"}, out.RemoveFamily)
	})

	t.Run("empty current state keeps all additions", func(t *testing.T) {
		req := &ChangeRequest{AddSelf: true, AddFamily: []string{"fm-1"}, PaymentType: models.PaymentPayPal}
		out := reduceRequest(req, nil)
		assert.True(t, out.AddSelf)
		assert.Equal(t, []string{"fm-1"}, out.AddFamily)
	})

	t.Run("discount code is not carried over", func(t *testing.T) {
		req := &ChangeRequest{AddSelf: true, DiscountCode: "HALF", PaymentType: models.PaymentPayPal}
		out := reduceRequest(req, nil)
		assert.Empty(t, out.DiscountCode)
	})
}

func TestEventTitle(t *testing.T) {
	t.Run("prefers english", func(t *testing.T) {
		eff := &models.EventBlueprint{Localizations: models.LocalizationMap{
			"es": {Title: "Retiro"},
			"en": {Title: "Retreat"},
		}}
		assert.Equal(t, "Retreat", eventTitle(eff))
	})

	t.Run("falls back to any localization", func(t *testing.T) {
		eff := &models.EventBlueprint{Localizations: models.LocalizationMap{
			"es": {Title: "Retiro"},
		}}
		assert.Equal(t, "Retiro", eventTitle(eff))
	})

	t.Run("default when titles are empty", func(t *testing.T) {
		eff := &models.EventBlueprint{Localizations: models.LocalizationMap{}}
		assert.Equal(t, "Event registration", eventTitle(eff))
	})
}

func TestSettleCapturedOrderRepeatedCapture(t *testing.T) {
	user := testUser()
	uid := user.ID.String()
	bp := testBlueprint()
	inst := testInstance(bp)

	// State left by a completed first capture: both seats applied.
	inst.SeatsFilled = 2
	inst.RegistrationDetails[uid] = &models.RegistrationDetails{
		SelfRegistered:   true,
		FamilyRegistered: []string{"fm-1"},
		SelfPaymentDetails: &models.PaymentDetails{
			Type: models.PaymentPayPal, Price: 25.00, PaymentComplete: true,
			OrderID: "ORD-1", LineID: "l-1",
		},
		FamilyPaymentDetails: map[string]*models.PaymentDetails{
			"fm-1": {
				Type: models.PaymentPayPal, Price: 25.00, PaymentComplete: true,
				OrderID: "ORD-1", LineID: "l-2",
			},
		},
	}

	fee := 1.50
	txn := &models.EventTransaction{
		OrderID:    "ORD-1",
		PayerUID:   uid,
		InstanceID: inst.ID,
		Status:     models.TransactionCaptured,
		FeeAmount:  &fee,
		Items: models.TransactionItems{
			{LineID: "l-1", PersonID: models.SelfPersonID, UnitPrice: 25.00, Status: models.ItemCaptured, CaptureID: "CAP-1"},
			{LineID: "l-2", PersonID: "fm-1", UnitPrice: 25.00, Status: models.ItemCaptured, CaptureID: "CAP-1"},
		},
	}

	// Nil provider and ledger: a repeated capture must settle as a no-op
	// without reaching either.
	svc := &PaymentService{}
	req := &ChangeRequest{AddSelf: true, AddFamily: []string{"fm-1"}, PaymentType: models.PaymentPayPal}

	res, err := svc.settleCapturedOrder(txn, bp, inst, user, req)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.SeatsFilled)
	require.NotNil(t, res.Details)
	assert.True(t, res.Details.HasPerson(models.SelfPersonID))
	assert.True(t, res.Details.HasPerson("fm-1"))
}
