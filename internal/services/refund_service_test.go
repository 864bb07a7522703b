package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/koinonia/backend/internal/models"
)

func TestRefundRequestID(t *testing.T) {
	got := refundRequestID("ORD-1", "l-1", 0)
	assert.Equal(t, "refund:ORD-1:l-1:0", got)
}

func TestRefundRequestIDStableAcrossRetries(t *testing.T) {
	item := &models.TransactionItem{LineID: "l-1", UnitPrice: 25.00}

	// A retry of the same logical refund sees the same ledger state and must
	// reuse the provider idempotency key.
	first := refundRequestID("ORD-1", item.LineID, len(item.Refunds))
	retry := refundRequestID("ORD-1", item.LineID, len(item.Refunds))
	assert.Equal(t, first, retry)

	// Once the refund is recorded, the next independent refund on the same
	// line gets a fresh key.
	item.Refunds = append(item.Refunds, models.TransactionRefund{RefundID: "ref-1", Amount: 10.00})
	next := refundRequestID("ORD-1", item.LineID, len(item.Refunds))
	assert.NotEqual(t, first, next)
	assert.Equal(t, "refund:ORD-1:l-1:1", next)
}

func TestPaymentDetailsPatch(t *testing.T) {
	pd := &models.PaymentDetails{
		Type:           models.PaymentPayPal,
		Price:          25.00,
		AmountRefunded: 10.00,
	}

	t.Run("self entry", func(t *testing.T) {
		expr, err := paymentDetailsPatch("u-1", models.SelfPersonID, pd)
		require.NoError(t, err)
		assert.Contains(t, expr.SQL, "jsonb_set")
		assert.Contains(t, expr.SQL, "'self_payment_details'")
		require.Len(t, expr.Vars, 2)
		assert.Equal(t, "u-1", expr.Vars[0])
		assert.Contains(t, expr.Vars[1], `"amount_refunded":10`)
	})

	t.Run("family entry targets only the member's record", func(t *testing.T) {
		expr, err := paymentDetailsPatch("u-1", "fm-1", pd)
		require.NoError(t, err)
		assert.Contains(t, expr.SQL, "'family_payment_details'")
		require.Len(t, expr.Vars, 3)
		assert.Equal(t, "u-1", expr.Vars[0])
		assert.Equal(t, "fm-1", expr.Vars[1])
	})
}

func TestProcessRefundsForRemovalsFiltering(t *testing.T) {
	svc := &RefundService{}
	bp := testBlueprint()
	inst := testInstance(bp)

	t.Run("nothing eligible", func(t *testing.T) {
		removed := map[string]*models.PaymentDetails{
			"fm-1":              {Type: models.PaymentDoor, Price: 25.00},
			models.SelfPersonID: {Type: models.PaymentPayPal, Price: 25.00, PaymentComplete: false},
			"fm-2":              {Type: models.PaymentFree},
		}
		require.NoError(t, svc.ProcessRefundsForRemovals(bp, inst, "u-1", removed))
	})

	t.Run("empty removal set", func(t *testing.T) {
		require.NoError(t, svc.ProcessRefundsForRemovals(bp, inst, "u-1", nil))
	})
}

func TestProcessRefundsForRemovalsDeadline(t *testing.T) {
	svc := &RefundService{}

	bp := testBlueprint()
	past := time.Now().UTC().Add(-time.Hour)
	bp.AutomaticRefundDeadline = &past
	inst := testInstance(bp)

	paid := func(exempt bool) *models.PaymentDetails {
		return &models.PaymentDetails{
			Type:                       models.PaymentPayPal,
			Price:                      25.00,
			PaymentComplete:            true,
			AutomaticRefundEligibility: exempt,
			OrderID:                    "ORD-1",
			LineID:                     "l-1",
		}
	}

	t.Run("batch fails when any line is not exempt", func(t *testing.T) {
		removed := map[string]*models.PaymentDetails{
			models.SelfPersonID: paid(true),
			"fm-1":              paid(false),
		}
		err := svc.ProcessRefundsForRemovals(bp, inst, "u-1", removed)
		assert.ErrorIs(t, err, ErrRefundDeadlinePassed)
	})

	t.Run("door lines past the deadline do not block", func(t *testing.T) {
		removed := map[string]*models.PaymentDetails{
			"fm-1": {Type: models.PaymentDoor, Price: 25.00},
		}
		require.NoError(t, svc.ProcessRefundsForRemovals(bp, inst, "u-1", removed))
	})
}
