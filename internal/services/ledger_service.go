package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/koinonia/backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerService owns the event_transactions table. All mutations run a
// row-locked load-mutate-save transaction over the pure mutation methods on
// the model, so duplicate suppression and status derivation happen against
// current state.
type LedgerService struct {
	db *gorm.DB
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{db: db}
}

// CreatePreliminary records a new order before the payer approves it.
func (s *LedgerService) CreatePreliminary(txn *models.EventTransaction) error {
	txn.Status = models.TransactionPreliminary
	for i := range txn.Items {
		txn.Items[i].Status = models.ItemPending
	}
	if err := s.db.Create(txn).Error; err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// GetByOrderID loads the ledger row for a provider order.
func (s *LedgerService) GetByOrderID(orderID string) (*models.EventTransaction, error) {
	var txn models.EventTransaction
	if err := s.db.First(&txn, "order_id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("transaction for order %s not found", orderID)
		}
		return nil, err
	}
	return &txn, nil
}

// ListByInstance returns all transactions funding registrations on an instance.
func (s *LedgerService) ListByInstance(instanceID uuid.UUID) ([]models.EventTransaction, error) {
	var txns []models.EventTransaction
	if err := s.db.Where("instance_id = ?", instanceID).
		Order("created_at DESC").Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

// ListByPayer returns a user's transactions, newest first.
func (s *LedgerService) ListByPayer(uid string) ([]models.EventTransaction, error) {
	var txns []models.EventTransaction
	if err := s.db.Where("payer_uid = ?", uid).
		Order("created_at DESC").Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

// mutate runs fn against the row-locked transaction and saves the result.
func (s *LedgerService) mutate(orderID string, fn func(*models.EventTransaction) error) (*models.EventTransaction, error) {
	var txn models.EventTransaction
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&txn, "order_id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("transaction for order %s not found", orderID)
			}
			return err
		}
		if err := fn(&txn); err != nil {
			return err
		}
		return tx.Save(&txn).Error
	})
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// MarkCaptured applies a capture to the order. Returns the updated row and
// whether this call did the transition; false means a concurrent or earlier
// capture already landed.
func (s *LedgerService) MarkCaptured(orderID, captureID string, fee *float64, raw []byte) (*models.EventTransaction, bool, error) {
	applied := false
	txn, err := s.mutate(orderID, func(t *models.EventTransaction) error {
		applied = t.ApplyCapture(captureID, fee, raw)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return txn, applied, nil
}

// MarkFailed records a terminal capture failure.
func (s *LedgerService) MarkFailed(orderID string, raw []byte) error {
	_, err := s.mutate(orderID, func(t *models.EventTransaction) error {
		t.MarkFailed(raw)
		return nil
	})
	return err
}

// AppendRefund appends a refund to one line. A duplicate refund id leaves the
// row unchanged and returns the current state without error.
func (s *LedgerService) AppendRefund(orderID, lineID string, ref models.TransactionRefund) (*models.EventTransaction, error) {
	return s.mutate(orderID, func(t *models.EventTransaction) error {
		err := t.AppendRefund(ref, lineID)
		if errors.Is(err, models.ErrDuplicateRefund) {
			return nil
		}
		return err
	})
}
