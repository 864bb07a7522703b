package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/koinonia/backend/internal/config"
	"github.com/koinonia/backend/internal/models"
	"github.com/koinonia/backend/pkg/money"
	"gorm.io/gorm"
)

// PaymentService orchestrates the paid registration flow: order creation
// against the provider, idempotent capture, fee distribution and lineage
// stamping onto registrations.
type PaymentService struct {
	db           *gorm.DB
	cfg          *config.Config
	paypal       *PayPalClient
	ledger       *LedgerService
	registration *RegistrationService
	discounts    *DiscountService
}

func NewPaymentService(db *gorm.DB, cfg *config.Config, paypal *PayPalClient, ledger *LedgerService, registration *RegistrationService, discounts *DiscountService) *PaymentService {
	return &PaymentService{
		db:           db,
		cfg:          cfg,
		paypal:       paypal,
		ledger:       ledger,
		registration: registration,
		discounts:    discounts,
	}
}

func newLineID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func lineSKU(instanceID uuid.UUID, lineID, personID string) string {
	return fmt.Sprintf("evt:%s:line:%s:person:%s", instanceID, lineID, personID)
}

// CreateOrder validates the requested additions, creates a provider order and
// persists the preliminary ledger row. Nothing is persisted when the provider
// rejects the order; each attempt carries a fresh request id so a retry is a
// new order.
func (s *PaymentService) CreateOrder(eff *models.EventBlueprint, inst *models.EventInstance, user *models.User, req *ChangeRequest) (*CheckoutResult, error) {
	if req.PaymentType != models.PaymentPayPal {
		return nil, errors.New("checkout requires paypal payment")
	}
	plan, err := s.registration.ValidateRegistrationChange(eff, inst, user, req, false)
	if err != nil {
		return nil, err
	}
	if len(plan.additions) == 0 {
		return nil, errors.New("checkout requires at least one new registrant")
	}
	if plan.unitPrice <= 0 {
		return nil, errors.New("this registration has nothing to pay")
	}

	uid := user.ID.String()
	total := money.Round2(plan.unitPrice * float64(len(plan.additions)))
	unitStr := money.Format(plan.unitPrice)

	var orderItems []OrderItem
	var ledgerItems models.TransactionItems
	title := eventTitle(eff)
	for _, pid := range plan.additions {
		name, _, _, err := registrantIdentity(user, pid)
		if err != nil {
			return nil, err
		}
		lineID := newLineID()
		orderItems = append(orderItems, OrderItem{
			Name:     fmt.Sprintf("%s: %s", title, name),
			SKU:      lineSKU(inst.ID, lineID, pid),
			Quantity: "1",
			UnitAmount: OrderMoney{
				CurrencyCode: s.cfg.Currency,
				Value:        unitStr,
			},
		})
		ledgerItems = append(ledgerItems, models.TransactionItem{
			LineID:      lineID,
			PersonID:    pid,
			Name:        name,
			UnitPrice:   plan.unitPrice,
			PaymentType: models.PaymentPayPal,
		})
	}

	orderReq := OrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []PurchaseUnitRequest{{
			ReferenceID: inst.ID.String(),
			CustomID:    uid,
			Description: title,
			Amount: OrderAmount{
				CurrencyCode: s.cfg.Currency,
				Value:        money.Format(total),
				Breakdown: &OrderAmountBreakdown{
					ItemTotal: &OrderMoney{CurrencyCode: s.cfg.Currency, Value: money.Format(total)},
				},
			},
			Items: orderItems,
		}},
		ApplicationContext: &ApplicationContext{
			BrandName:          s.cfg.PayPalBrand,
			LandingPage:        "LOGIN",
			ShippingPreference: "NO_SHIPPING",
			UserAction:         "PAY_NOW",
			ReturnURL:          fmt.Sprintf("%s/events/%s?payment=success", s.cfg.FrontendURL, inst.ID),
			CancelURL:          fmt.Sprintf("%s/events/%s?payment=cancelled", s.cfg.FrontendURL, inst.ID),
		},
	}

	resp, err := s.paypal.CreateOrder(orderReq, uuid.New().String())
	if err != nil {
		return nil, err
	}
	approveURL := resp.ApproveURL()
	if approveURL == "" {
		return nil, errors.New("no approval link in provider response")
	}

	txn := &models.EventTransaction{
		OrderID:    resp.ID,
		PayerUID:   uid,
		InstanceID: inst.ID,
		EventID:    eff.ID,
		Currency:   s.cfg.Currency,
		Items:      ledgerItems,
		RawCreate:  models.JSONRaw(resp.Raw),
		Meta: models.TransactionMeta{
			Flow:              "registration",
			RegistrationCount: len(plan.additions),
			DiscountedCount:   plan.discountedCount,
		},
	}
	if plan.discount != nil {
		txn.Meta.DiscountCodeID = plan.discount.ID.String()
	}
	if err := s.ledger.CreatePreliminary(txn); err != nil {
		return nil, err
	}

	return &CheckoutResult{OrderID: resp.ID, ApproveURL: approveURL}, nil
}

func eventTitle(eff *models.EventBlueprint) string {
	if loc, ok := eff.Localizations["en"]; ok && loc.Title != "" {
		return loc.Title
	}
	for _, loc := range eff.Localizations {
		if loc.Title != "" {
			return loc.Title
		}
	}
	return "Event registration"
}

// distributeFee splits the provider fee across lines proportionally to their
// unit price; the last line absorbs the rounding remainder so shares sum to
// the fee exactly.
func distributeFee(items models.TransactionItems, fee float64) map[string]float64 {
	shares := make(map[string]float64, len(items))
	if len(items) == 0 {
		return shares
	}
	total := 0.0
	for i := range items {
		total += items[i].UnitPrice
	}
	if total <= 0 || fee <= 0 {
		for i := range items {
			shares[items[i].LineID] = 0
		}
		return shares
	}
	allocated := 0.0
	for i := range items {
		if i == len(items)-1 {
			shares[items[i].LineID] = money.Round2(fee - allocated)
			break
		}
		share := money.Round2(fee * items[i].UnitPrice / total)
		shares[items[i].LineID] = share
		allocated = money.Round2(allocated + share)
	}
	return shares
}

// refundableAmounts derives each line's refundable amount: unit price minus
// the line's fee share, clamped to zero. Without a fee the full unit price is
// refundable.
func refundableAmounts(items models.TransactionItems, fee *float64) map[string]float64 {
	out := make(map[string]float64, len(items))
	var shares map[string]float64
	if fee != nil {
		shares = distributeFee(items, *fee)
	}
	for i := range items {
		r := items[i].UnitPrice
		if shares != nil {
			r = money.Round2(r - shares[items[i].LineID])
		}
		if r < 0 {
			r = 0
		}
		out[items[i].LineID] = r
	}
	return out
}

func parseFee(resp *CaptureResponse) *float64 {
	cap := resp.Capture()
	if cap == nil || cap.SellerReceivableBreakdown == nil || cap.SellerReceivableBreakdown.PayPalFee == nil {
		return nil
	}
	v, err := strconv.ParseFloat(cap.SellerReceivableBreakdown.PayPalFee.Value, 64)
	if err != nil {
		return nil
	}
	return &v
}

// CaptureOrder captures an approved order and stamps payment lineage onto the
// registration. Safe to call repeatedly: the provider capture is skipped once
// the ledger is captured, the request id is derived from the order id, and an
// already-applied registration delta returns success.
func (s *PaymentService) CaptureOrder(eff *models.EventBlueprint, inst *models.EventInstance, user *models.User, orderID string, req *ChangeRequest) (*RegistrationResult, error) {
	uid := user.ID.String()
	txn, err := s.ledger.GetByOrderID(orderID)
	if err != nil {
		return nil, err
	}
	if txn.PayerUID != uid {
		return nil, errors.New("order does not belong to this user")
	}
	if txn.InstanceID != inst.ID {
		return nil, errors.New("order does not belong to this event")
	}
	if txn.Status == models.TransactionFailed {
		return nil, fmt.Errorf("order %s already failed", orderID)
	}

	if txn.Status == models.TransactionPreliminary {
		resp, err := s.paypal.CaptureOrder(orderID, "capture:"+orderID)
		if err != nil {
			var provErr *ProviderError
			if errors.As(err, &provErr) {
				_ = s.ledger.MarkFailed(orderID, []byte(provErr.Body))
			}
			// Transport errors leave the row preliminary; a retry reuses the
			// same request id.
			return nil, err
		}
		cap := resp.Capture()
		if cap == nil {
			_ = s.ledger.MarkFailed(orderID, resp.Raw)
			return nil, errors.New("no capture in provider response")
		}
		txn, _, err = s.ledger.MarkCaptured(orderID, cap.ID, parseFee(resp), resp.Raw)
		if err != nil {
			return nil, err
		}
	}

	return s.settleCapturedOrder(txn, eff, inst, user, req)
}

// settleCapturedOrder applies a captured order's still-pending delta to the
// registration. A repeated capture finds nothing left and succeeds as a no-op
// without touching the provider or the ledger again.
func (s *PaymentService) settleCapturedOrder(txn *models.EventTransaction, eff *models.EventBlueprint, inst *models.EventInstance, user *models.User, req *ChangeRequest) (*RegistrationResult, error) {
	uid := user.ID.String()
	refundableByLine := refundableAmounts(txn.Items, txn.FeeAmount)

	// Reduce the client-supplied final state to the still-pending delta.
	reduced := reduceRequest(req, inst.RegistrationFor(uid))
	if reduced.IsNoop() {
		return &RegistrationResult{
			Success:     true,
			SeatsFilled: inst.SeatsFilled,
			Details:     inst.RegistrationFor(uid),
		}, nil
	}

	plan, err := s.registration.ValidateRegistrationChange(eff, inst, user, reduced, false)
	if err != nil {
		return nil, err
	}

	lineage := make(map[string]lineRef, len(plan.additions))
	refundable := make(map[string]float64, len(plan.additions))
	for _, pid := range plan.additions {
		item := txn.ItemForPerson(pid)
		if item == nil || item.CaptureID == "" {
			return nil, ErrCaptureMismatch
		}
		lineage[pid] = lineRef{OrderID: txn.OrderID, LineID: item.LineID}
		refundable[pid] = refundableByLine[item.LineID]
		// The price stamped on the registration is what the payer was charged.
		plan.unitPrice = item.UnitPrice
	}
	plan.discountedCount = txn.Meta.DiscountedCount
	if plan.discount == nil && txn.Meta.DiscountCodeID != "" {
		if codeID, err := uuid.Parse(txn.Meta.DiscountCodeID); err == nil {
			plan.discount, _ = s.discounts.GetByID(codeID)
		}
	}

	res := s.registration.ProcessChangeRegistration(eff, inst, user, plan, lineage, refundable, true, false)
	return res, nil
}

// reduceRequest drops additions already registered and removals no longer
// registered, leaving only the outstanding delta.
func reduceRequest(req *ChangeRequest, current *models.RegistrationDetails) *ChangeRequest {
	// The discount code is not carried over: the charged price comes from the
	// ledger, so code exhaustion between create and capture cannot strand a
	// captured payment.
	out := &ChangeRequest{PaymentType: req.PaymentType}
	if req.AddSelf && !current.HasPerson(models.SelfPersonID) {
		out.AddSelf = true
	}
	if req.RemoveSelf && current.HasPerson(models.SelfPersonID) {
		out.RemoveSelf = true
	}
	for _, id := range req.AddFamily {
		if !current.HasPerson(id) {
			out.AddFamily = append(out.AddFamily, id)
		}
	}
	for _, id := range req.RemoveFamily {
		if current.HasPerson(id) {
			out.RemoveFamily = append(out.RemoveFamily, id)
		}
	}
	return out
}
