package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/koinonia/backend/internal/models"
	"github.com/koinonia/backend/pkg/money"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrDiscountNotFound  = errors.New("discount code not found")
	ErrDiscountInactive  = errors.New("discount code is not active")
	ErrDiscountNotListed = errors.New("discount code is not valid for this event")
	ErrDiscountExhausted = errors.New("discount code has no uses left")
)

// DiscountService resolves and redeems discount codes.
type DiscountService struct {
	db *gorm.DB
}

func NewDiscountService(db *gorm.DB) *DiscountService {
	return &DiscountService{db: db}
}

// ValidateForEvent resolves a code and checks it against the effective event.
func (s *DiscountService) ValidateForEvent(code string, eff *models.EventBlueprint, uid string) (*models.DiscountCode, error) {
	var dc models.DiscountCode
	if err := s.db.First(&dc, "code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDiscountNotFound
		}
		return nil, err
	}
	if !dc.Active {
		return nil, ErrDiscountInactive
	}
	if !eff.DiscountCodeIDs.Contains(dc.ID.String()) {
		return nil, ErrDiscountNotListed
	}
	if dc.UsesLeft(uid) == 0 {
		return nil, ErrDiscountExhausted
	}
	return &dc, nil
}

// DiscountUnitPrice spreads the discount across n seats as one uniform
// per-seat price. With k discounted seats (bounded by the user's remaining
// uses) the mean of k discounted and n-k full prices is truncated to cents,
// never exceeding the base price. Returns the unit price and k.
func DiscountUnitPrice(dc *models.DiscountCode, base float64, n int, uid string) (float64, int) {
	if dc == nil || n <= 0 {
		return base, 0
	}
	k := n
	if left := dc.UsesLeft(uid); left >= 0 && left < k {
		k = left
	}
	if k == 0 {
		return base, 0
	}
	discounted := dc.DiscountedPrice(base)
	unit := money.Trunc2((discounted*float64(k) + base*float64(n-k)) / float64(n))
	if unit > base {
		unit = base
	}
	return unit, k
}

// CommitUsage burns k redemptions for the user. Runs row-locked so concurrent
// checkouts cannot overspend a limited code.
func (s *DiscountService) CommitUsage(codeID uuid.UUID, uid string, k int) error {
	if k <= 0 {
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		var dc models.DiscountCode
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&dc, "id = ?", codeID).Error; err != nil {
			return fmt.Errorf("failed to load discount code: %w", err)
		}
		if dc.UsageHistory == nil {
			dc.UsageHistory = models.UsageMap{}
		}
		dc.UsageHistory[uid] += k
		return tx.Model(&dc).Update("usage_history", dc.UsageHistory).Error
	})
}

// GetByID loads a code.
func (s *DiscountService) GetByID(id uuid.UUID) (*models.DiscountCode, error) {
	var dc models.DiscountCode
	if err := s.db.First(&dc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDiscountNotFound
		}
		return nil, err
	}
	return &dc, nil
}

// Admin CRUD.

func (s *DiscountService) List() ([]models.DiscountCode, error) {
	var codes []models.DiscountCode
	if err := s.db.Order("created_at DESC").Find(&codes).Error; err != nil {
		return nil, err
	}
	return codes, nil
}

func (s *DiscountService) Create(dc *models.DiscountCode) error {
	if dc.Code == "" {
		return errors.New("code is required")
	}
	if dc.Discount <= 0 {
		return errors.New("discount must be greater than 0")
	}
	if dc.IsPercent && dc.Discount > 100 {
		return errors.New("percent discount cannot exceed 100")
	}
	if dc.MaxUses != nil && *dc.MaxUses <= 0 {
		return errors.New("max uses must be greater than 0")
	}
	if dc.UsageHistory == nil {
		dc.UsageHistory = models.UsageMap{}
	}
	return s.db.Create(dc).Error
}

func (s *DiscountService) SetActive(id uuid.UUID, active bool) error {
	result := s.db.Model(&models.DiscountCode{}).Where("id = ?", id).Update("active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDiscountNotFound
	}
	return nil
}

func (s *DiscountService) Delete(id uuid.UUID) error {
	result := s.db.Delete(&models.DiscountCode{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDiscountNotFound
	}
	return nil
}
