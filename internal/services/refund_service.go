package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/koinonia/backend/internal/config"
	"github.com/koinonia/backend/internal/models"
	"github.com/koinonia/backend/pkg/money"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RefundService drives refunds against captured ledger lines. The ledger is
// the source of truth; amount_refunded on registration entries is maintained
// best-effort.
type RefundService struct {
	db     *gorm.DB
	cfg    *config.Config
	paypal *PayPalClient
	ledger *LedgerService
}

func NewRefundService(db *gorm.DB, cfg *config.Config, paypal *PayPalClient, ledger *LedgerService) *RefundService {
	return &RefundService{db: db, cfg: cfg, paypal: paypal, ledger: ledger}
}

// refundRequestID builds the provider idempotency key for one logical refund.
// The ordinal is the line's refund count at send time, so a retry after a
// transport failure reuses the id while the next independent refund on the
// same line gets a fresh one.
func refundRequestID(orderID, lineID string, ordinal int) string {
	return fmt.Sprintf("refund:%s:%s:%d", orderID, lineID, ordinal)
}

// refundLine sends one refund and records it on the ledger.
func (s *RefundService) refundLine(txn *models.EventTransaction, item *models.TransactionItem, amount float64, reason, byUID, source string) error {
	if item.CaptureID == "" {
		return ErrLedgerInconsistent
	}
	resp, err := s.paypal.RefundCapture(item.CaptureID, amount, txn.Currency, reason,
		refundRequestID(txn.OrderID, item.LineID, len(item.Refunds)))
	if err != nil {
		return err
	}

	ref := models.TransactionRefund{
		RefundID:  resp.ID,
		Amount:    amount,
		Currency:  txn.Currency,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
		ByUID:     byUID,
		Source:    source,
		Raw:       models.JSONRaw(resp.Raw),
	}
	if _, err := s.ledger.AppendRefund(txn.OrderID, item.LineID, ref); err != nil {
		return fmt.Errorf("refund %s sent but ledger append failed: %w", resp.ID, err)
	}
	return nil
}

// ProcessRefundsForRemovals refunds the paypal-completed lines of registrants
// a user just removed. Past the automatic refund deadline the whole batch
// fails unless every line was individually exempted; the caller rolls the
// registration change back.
func (s *RefundService) ProcessRefundsForRemovals(eff *models.EventBlueprint, inst *models.EventInstance, uid string, removed map[string]*models.PaymentDetails) error {
	type pending struct {
		pd *models.PaymentDetails
	}
	var eligible []pending
	for _, pd := range removed {
		if pd.Type != models.PaymentPayPal || !pd.PaymentComplete {
			continue
		}
		eligible = append(eligible, pending{pd: pd})
	}
	if len(eligible) == 0 {
		return nil
	}

	now := time.Now().UTC()
	if eff.AutomaticRefundDeadline != nil && now.After(*eff.AutomaticRefundDeadline) {
		for _, p := range eligible {
			if !p.pd.AutomaticRefundEligibility {
				return ErrRefundDeadlinePassed
			}
		}
	}

	for _, p := range eligible {
		pd := p.pd
		if pd.OrderID == "" || pd.LineID == "" {
			return ErrLedgerInconsistent
		}
		txn, err := s.ledger.GetByOrderID(pd.OrderID)
		if err != nil {
			return ErrLedgerInconsistent
		}
		item := txn.Item(pd.LineID)
		if item == nil {
			return ErrLedgerInconsistent
		}

		refundable := pd.Price
		if pd.RefundableAmount != nil {
			refundable = *pd.RefundableAmount
		}
		remaining := money.Round2(refundable - pd.AmountRefunded)
		if r := item.Remaining(); r < remaining {
			remaining = r
		}
		if remaining <= 0 {
			continue
		}
		if err := s.refundLine(txn, item, remaining, "unregistered from event", uid, "user"); err != nil {
			return err
		}
	}
	return nil
}

// AdminRefundRequest selects what to refund on one order. With RefundAll, a
// nil Amount refunds every captured line's full remaining; otherwise Amount
// applies uniformly. Without RefundAll, Lines maps line ids to amounts where
// nil means full remaining.
type AdminRefundRequest struct {
	OrderID   string              `json:"order_id"`
	RefundAll bool                `json:"refund_all"`
	Amount    *float64            `json:"amount,omitempty"`
	Lines     map[string]*float64 `json:"lines,omitempty"`
	Reason    string              `json:"reason,omitempty"`
}

// AdminRefundTransaction refunds selected lines of an order. The per-line
// bound is unit_price minus refunded_total: an admin may refund beyond the
// fee-adjusted refundable amount, up to what the payer was charged.
func (s *RefundService) AdminRefundTransaction(adminUID string, req *AdminRefundRequest) (*models.EventTransaction, error) {
	txn, err := s.ledger.GetByOrderID(req.OrderID)
	if err != nil {
		return nil, err
	}
	switch txn.Status {
	case models.TransactionCaptured, models.TransactionPartiallyRefunded:
	default:
		return nil, fmt.Errorf("order %s is %s and cannot be refunded", req.OrderID, txn.Status)
	}

	type job struct {
		lineID string
		amount float64
	}
	var jobs []job

	if req.RefundAll {
		for i := range txn.Items {
			item := &txn.Items[i]
			if item.Status != models.ItemCaptured && item.Status != models.ItemRefundedPartly {
				continue
			}
			amount := item.Remaining()
			if req.Amount != nil {
				amount = *req.Amount
			}
			if amount <= 0 {
				continue
			}
			if money.Cents(amount) > money.Cents(item.Remaining()) {
				return nil, fmt.Errorf("refund of %s exceeds the remaining %s on line %s",
					money.Format(amount), money.Format(item.Remaining()), item.LineID)
			}
			jobs = append(jobs, job{lineID: item.LineID, amount: amount})
		}
	} else {
		if len(req.Lines) == 0 {
			return nil, errors.New("no lines selected for refund")
		}
		for lineID, amt := range req.Lines {
			item := txn.Item(lineID)
			if item == nil {
				return nil, models.ErrLineNotFound
			}
			if item.Status != models.ItemCaptured && item.Status != models.ItemRefundedPartly {
				return nil, fmt.Errorf("line %s is not refundable", lineID)
			}
			amount := item.Remaining()
			if amt != nil {
				amount = *amt
			}
			if amount <= 0 || money.Cents(amount) > money.Cents(item.Remaining()) {
				return nil, fmt.Errorf("refund of %s exceeds the remaining %s on line %s",
					money.Format(amount), money.Format(item.Remaining()), lineID)
			}
			jobs = append(jobs, job{lineID: lineID, amount: amount})
		}
	}

	reason := req.Reason
	if reason == "" {
		reason = "refunded by administrator"
	}
	for _, j := range jobs {
		item := txn.Item(j.lineID)
		if err := s.refundLine(txn, item, j.amount, reason, adminUID, "admin"); err != nil {
			return nil, err
		}
		s.bumpAmountRefunded(txn, item, j.amount)
	}

	return s.ledger.GetByOrderID(req.OrderID)
}

// paymentDetailsPatch builds a jsonb_set targeting one registrant's payment
// record inside the registration map. Writing only that path leaves entries
// committed by concurrent registrations untouched, and create_missing=false
// makes the patch a no-op when the entry was removed in the meantime.
func paymentDetailsPatch(uid, personID string, pd *models.PaymentDetails) (clause.Expr, error) {
	encoded, err := json.Marshal(pd)
	if err != nil {
		return clause.Expr{}, err
	}
	if personID == models.SelfPersonID {
		return gorm.Expr(
			"jsonb_set(coalesce(registration_details, '{}'::jsonb), array[?, 'self_payment_details']::text[], ?::jsonb, false)",
			uid, string(encoded)), nil
	}
	return gorm.Expr(
		"jsonb_set(coalesce(registration_details, '{}'::jsonb), array[?, 'family_payment_details', ?]::text[], ?::jsonb, false)",
		uid, personID, string(encoded)), nil
}

// bumpAmountRefunded raises amount_refunded on the registration entry still
// referencing the line. Best-effort: the entry may have been removed.
func (s *RefundService) bumpAmountRefunded(txn *models.EventTransaction, item *models.TransactionItem, amount float64) {
	var inst models.EventInstance
	if err := s.db.First(&inst, "id = ?", txn.InstanceID).Error; err != nil {
		return
	}
	entry := inst.RegistrationFor(txn.PayerUID)
	if entry == nil {
		return
	}
	pd := entry.PaymentFor(item.PersonID)
	if pd == nil || pd.LineID != item.LineID {
		return
	}
	pd.AmountRefunded = money.Round2(pd.AmountRefunded + amount)

	patch, err := paymentDetailsPatch(txn.PayerUID, item.PersonID, pd)
	if err != nil {
		return
	}
	if err := s.db.Model(&models.EventInstance{}).
		Where("id = ?", inst.ID).
		Update("registration_details", patch).Error; err != nil {
		log.Printf("refund: failed to update amount_refunded on instance %s: %v", inst.ID, err)
	}
}

// RefundUpcomingEventLines refunds every paypal-completed line on the future
// instances of a blueprint, with no deadline enforcement. Per-line failures
// are logged and skipped so one dead line cannot block an event deletion.
func (s *RefundService) RefundUpcomingEventLines(bp *models.EventBlueprint, adminUID string) {
	now := time.Now().UTC()
	var instances []models.EventInstance
	if err := s.db.Where("event_id = ? AND scheduled_date > ?", bp.ID, now).
		Find(&instances).Error; err != nil {
		log.Printf("event deletion: failed to load instances of %s: %v", bp.ID, err)
		return
	}

	for i := range instances {
		inst := &instances[i]
		for uid, entry := range inst.RegistrationDetails {
			persons := append([]string(nil), entry.FamilyRegistered...)
			if entry.SelfRegistered {
				persons = append(persons, models.SelfPersonID)
			}
			for _, pid := range persons {
				pd := entry.PaymentFor(pid)
				if pd == nil || pd.Type != models.PaymentPayPal || !pd.PaymentComplete {
					continue
				}
				if err := s.refundDeletedLine(pd, adminUID); err != nil {
					log.Printf("event deletion: refund for user %s line %s: %v", uid, pd.LineID, err)
				}
			}
		}
	}
}

func (s *RefundService) refundDeletedLine(pd *models.PaymentDetails, adminUID string) error {
	if pd.OrderID == "" || pd.LineID == "" {
		return ErrLedgerInconsistent
	}
	txn, err := s.ledger.GetByOrderID(pd.OrderID)
	if err != nil {
		return err
	}
	item := txn.Item(pd.LineID)
	if item == nil {
		return models.ErrLineNotFound
	}
	remaining := item.Remaining()
	if remaining <= 0 {
		return nil
	}
	return s.refundLine(txn, item, remaining, "event cancelled", adminUID, "event_deletion")
}
