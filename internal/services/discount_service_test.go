package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/koinonia/backend/internal/models"
)

func percentCode(discount float64, maxUses *int) *models.DiscountCode {
	return &models.DiscountCode{
		ID:        uuid.New(),
		Code:      "TEST",
		Active:    true,
		IsPercent: true,
		Discount:  discount,
		MaxUses:   maxUses,
	}
}

func TestDiscountUnitPrice(t *testing.T) {
	uid := uuid.New().String()

	t.Run("no code", func(t *testing.T) {
		unit, k := DiscountUnitPrice(nil, 20.00, 3, uid)
		assert.Equal(t, 20.00, unit)
		assert.Equal(t, 0, k)
	})

	t.Run("limited uses spread across seats", func(t *testing.T) {
		one := 1
		dc := percentCode(50, &one)
		// One seat at 10.00 and two at 20.00, averaged and truncated.
		unit, k := DiscountUnitPrice(dc, 20.00, 3, uid)
		assert.Equal(t, 16.66, unit)
		assert.Equal(t, 1, k)
	})

	t.Run("unlimited uses discount every seat", func(t *testing.T) {
		dc := percentCode(50, nil)
		unit, k := DiscountUnitPrice(dc, 20.00, 3, uid)
		assert.Equal(t, 10.00, unit)
		assert.Equal(t, 3, k)
	})

	t.Run("exhausted code leaves the base price", func(t *testing.T) {
		one := 1
		dc := percentCode(50, &one)
		dc.UsageHistory = models.UsageMap{uid: 1}
		unit, k := DiscountUnitPrice(dc, 20.00, 2, uid)
		assert.Equal(t, 20.00, unit)
		assert.Equal(t, 0, k)
	})

	t.Run("absolute discount clamps at zero", func(t *testing.T) {
		dc := &models.DiscountCode{ID: uuid.New(), Code: "BIG", Active: true, Discount: 30.00}
		unit, k := DiscountUnitPrice(dc, 20.00, 1, uid)
		assert.Equal(t, 0.0, unit)
		assert.Equal(t, 1, k)
	})

	t.Run("uses bounded by seat count", func(t *testing.T) {
		five := 5
		dc := percentCode(50, &five)
		unit, k := DiscountUnitPrice(dc, 20.00, 2, uid)
		assert.Equal(t, 10.00, unit)
		assert.Equal(t, 2, k)
	})
}

func TestDiscountedPrice(t *testing.T) {
	t.Run("percent", func(t *testing.T) {
		dc := percentCode(25, nil)
		assert.Equal(t, 15.00, dc.DiscountedPrice(20.00))
	})

	t.Run("absolute", func(t *testing.T) {
		dc := &models.DiscountCode{Discount: 5.00}
		assert.Equal(t, 15.00, dc.DiscountedPrice(20.00))
	})
}

func TestUsesLeft(t *testing.T) {
	uid := "u-1"

	t.Run("unlimited", func(t *testing.T) {
		dc := percentCode(50, nil)
		assert.Equal(t, -1, dc.UsesLeft(uid))
	})

	t.Run("counts down per user", func(t *testing.T) {
		three := 3
		dc := percentCode(50, &three)
		dc.UsageHistory = models.UsageMap{uid: 2, "u-2": 3}
		assert.Equal(t, 1, dc.UsesLeft(uid))
		assert.Equal(t, 0, dc.UsesLeft("u-2"))
		assert.Equal(t, 3, dc.UsesLeft("u-3"))
	})
}
