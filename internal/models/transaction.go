package models

import (
	"database/sql/driver"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/koinonia/backend/pkg/money"
	"gorm.io/gorm"
)

// Transaction and line statuses.
type TransactionStatus string

const (
	TransactionPreliminary       TransactionStatus = "preliminary"
	TransactionCaptured          TransactionStatus = "captured"
	TransactionPartiallyRefunded TransactionStatus = "partially_refunded"
	TransactionFullyRefunded     TransactionStatus = "fully_refunded"
	TransactionFailed            TransactionStatus = "failed"
)

type ItemStatus string

const (
	ItemPending        ItemStatus = "pending"
	ItemCaptured       ItemStatus = "captured"
	ItemRefundedPartly ItemStatus = "refunded_partial"
	ItemRefundedFully  ItemStatus = "refunded_full"
)

// Ledger mutation errors.
var (
	ErrLineNotFound     = errors.New("transaction line not found")
	ErrLineNotCaptured  = errors.New("transaction line is not captured")
	ErrDuplicateRefund  = errors.New("refund id already recorded")
	ErrRefundExceedsLine = errors.New("refund amount exceeds the remaining line amount")
)

// TransactionRefund is one refund appended to a ledger line.
type TransactionRefund struct {
	RefundID  string    `json:"refund_id"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ByUID     string    `json:"by_uid"`
	Source    string    `json:"source,omitempty"`
	Raw       JSONRaw   `json:"raw,omitempty"`
}

// TransactionItem is one registrant-level line inside a provider order.
type TransactionItem struct {
	LineID        string              `json:"line_id"`
	PersonID      string              `json:"person_id"`
	Name          string              `json:"name"`
	UnitPrice     float64             `json:"unit_price"`
	Status        ItemStatus          `json:"status"`
	PaymentType   PaymentType         `json:"payment_type"`
	CaptureID     string              `json:"capture_id,omitempty"`
	RefundedTotal float64             `json:"refunded_total"`
	Refunds       []TransactionRefund `json:"refunds,omitempty"`
}

// Remaining returns how much of the line can still be refunded against the ledger.
func (it *TransactionItem) Remaining() float64 {
	r := it.UnitPrice - it.RefundedTotal
	if r < 0 {
		return 0
	}
	return money.Round2(r)
}

// TransactionItems is the jsonb-encoded item list.
type TransactionItems []TransactionItem

func (l TransactionItems) Value() (driver.Value, error) { return jsonbValue([]TransactionItem(l)) }
func (l *TransactionItems) Scan(src interface{}) error { return jsonbScan(l, src) }
func (TransactionItems) GormDataType() string { return "jsonb" }

// TransactionMeta is free-form context recorded at order creation.
type TransactionMeta struct {
	DiscountCodeID    string `json:"discount_code_id,omitempty"`
	DiscountedCount   int    `json:"discounted_count,omitempty"`
	Flow              string `json:"flow,omitempty"`
	RegistrationCount int    `json:"registration_count"`
}

func (m TransactionMeta) Value() (driver.Value, error) { return jsonbValue(m) }
func (m *TransactionMeta) Scan(src interface{}) error { return jsonbScan(m, src) }
func (TransactionMeta) GormDataType() string { return "jsonb" }

// EventTransaction is the ledger row for one provider order. It exclusively
// owns its items and refunds; registrations reference lines by
// (order_id, line_id) as a lookup key.
type EventTransaction struct {
	ID         uuid.UUID         `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	OrderID    string            `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_id"`
	PayerUID   string            `gorm:"type:varchar(64);not null;index" json:"payer_uid"`
	InstanceID uuid.UUID         `gorm:"type:uuid;not null;index" json:"instance_id"`
	EventID    uuid.UUID         `gorm:"type:uuid;not null;index" json:"event_id"`
	Currency   string            `gorm:"type:varchar(8);not null" json:"currency"`
	Status     TransactionStatus `gorm:"type:varchar(24);not null;default:'preliminary'" json:"status"`
	Items      TransactionItems  `gorm:"type:jsonb;not null" json:"items"`
	FeeAmount  *float64          `json:"fee_amount,omitempty"`
	RawCreate  JSONRaw           `gorm:"type:jsonb" json:"-"`
	RawCapture JSONRaw           `gorm:"type:jsonb" json:"-"`
	Meta       TransactionMeta   `gorm:"type:jsonb" json:"meta"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func (EventTransaction) TableName() string { return "event_transactions" }

func (t *EventTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Item returns the line with the given id, or nil.
func (t *EventTransaction) Item(lineID string) *TransactionItem {
	for i := range t.Items {
		if t.Items[i].LineID == lineID {
			return &t.Items[i]
		}
	}
	return nil
}

// ItemForPerson returns the line funding the given registrant, or nil.
func (t *EventTransaction) ItemForPerson(personID string) *TransactionItem {
	for i := range t.Items {
		if t.Items[i].PersonID == personID {
			return &t.Items[i]
		}
	}
	return nil
}

// ApplyCapture stamps the capture id onto every line and moves the
// transaction to captured. Lines are captured together in this model.
// Repeated calls carrying the same capture id are no-ops; the bool reports
// whether the call changed anything.
func (t *EventTransaction) ApplyCapture(captureID string, fee *float64, raw []byte) bool {
	if t.Status != TransactionPreliminary {
		return false
	}
	for i := range t.Items {
		t.Items[i].CaptureID = captureID
		if t.Items[i].Status == ItemPending {
			t.Items[i].Status = ItemCaptured
		}
	}
	t.Status = TransactionCaptured
	if fee != nil {
		t.FeeAmount = fee
	}
	if len(raw) > 0 {
		t.RawCapture = JSONRaw(raw)
	}
	return true
}

// MarkFailed records a terminal capture failure.
func (t *EventTransaction) MarkFailed(raw []byte) {
	t.Status = TransactionFailed
	if len(raw) > 0 {
		t.RawCapture = JSONRaw(raw)
	}
}

// AppendRefund records a refund against a line. The refund id provides
// duplicate suppression; refunded_total is monotonic and bounded by the unit
// price. Transaction status is re-derived from the lines afterwards.
func (t *EventTransaction) AppendRefund(ref TransactionRefund, lineID string) error {
	item := t.Item(lineID)
	if item == nil {
		return ErrLineNotFound
	}
	switch item.Status {
	case ItemCaptured, ItemRefundedPartly:
	default:
		return ErrLineNotCaptured
	}
	for _, r := range item.Refunds {
		if r.RefundID == ref.RefundID {
			return ErrDuplicateRefund
		}
	}
	newTotal := money.Round2(item.RefundedTotal + ref.Amount)
	if money.Cents(newTotal) > money.Cents(item.UnitPrice) {
		return ErrRefundExceedsLine
	}
	item.Refunds = append(item.Refunds, ref)
	item.RefundedTotal = newTotal
	if money.Equal(item.RefundedTotal, item.UnitPrice) {
		item.Status = ItemRefundedFully
	} else {
		item.Status = ItemRefundedPartly
	}
	t.rederiveStatus()
	return nil
}

// rederiveStatus recomputes the transaction status from its lines:
// fully_refunded iff every captured line is fully refunded, partially_refunded
// iff any refund exists otherwise, else captured.
func (t *EventTransaction) rederiveStatus() {
	if t.Status == TransactionPreliminary || t.Status == TransactionFailed {
		return
	}
	allFull := true
	anyRefund := false
	for i := range t.Items {
		if len(t.Items[i].Refunds) > 0 {
			anyRefund = true
		}
		if t.Items[i].Status != ItemRefundedFully {
			allFull = false
		}
	}
	switch {
	case allFull && len(t.Items) > 0:
		t.Status = TransactionFullyRefunded
	case anyRefund:
		t.Status = TransactionPartiallyRefunded
	default:
		t.Status = TransactionCaptured
	}
}

// TotalAmount is the order total across all lines.
func (t *EventTransaction) TotalAmount() float64 {
	var sum float64
	for i := range t.Items {
		sum += t.Items[i].UnitPrice
	}
	return money.Round2(sum)
}
