package services

import (
	"errors"
	"fmt"

	"github.com/koinonia/backend/internal/models"
)

// Domain failures surfaced by the registration and refund orchestrators.
var (
	ErrInstanceNotFound     = errors.New("event instance not found")
	ErrEventNotFound        = errors.New("event not found")
	ErrCapacityExceeded     = errors.New("event is fully booked")
	ErrRegistrationClosed   = errors.New("registration is closed")
	ErrEventPassed          = errors.New("event has already taken place")
	ErrAlreadyRegistered    = errors.New("already registered")
	ErrNotRegistered        = errors.New("not registered")
	ErrRefundDeadlinePassed = errors.New("automatic refund deadline has passed")
	ErrCaptureMismatch      = errors.New("captured line missing for a new registrant")
	ErrLedgerInconsistent   = errors.New("ledger does not match registration state")
	ErrProviderUnavailable  = errors.New("payment provider unavailable")
	ErrProviderAuth         = errors.New("payment provider rejected credentials")
)

// Typed reasons returned on the result envelope.
const (
	ReasonCapacityExceeded = "capacity_exceeded"
	ReasonUnderflow        = "underflow"
	ReasonNotFound         = "not_found"
	ReasonPredicateUnmet   = "predicate_unmet"
)

// ProviderError is a non-2xx response from the payment provider. The raw body
// is preserved for the caller; these are not auto-retried.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider returned status %d: %s", e.Status, e.Body)
}

// RegistrationResult is the structured outcome of a registration change.
type RegistrationResult struct {
	Success     bool                        `json:"success"`
	Msg         string                      `json:"msg,omitempty"`
	Reason      string                      `json:"reason,omitempty"`
	SeatsFilled int                         `json:"seats_filled"`
	Details     *models.RegistrationDetails `json:"registration_details,omitempty"`

	// RollbackFailed is set when a compensating write after a refund failure
	// also failed; the ledger reflects true state but seat counts need
	// operator attention.
	RollbackFailed bool `json:"rollback_failed,omitempty"`
}

// CheckoutResult is returned when a paid registration needs provider approval.
type CheckoutResult struct {
	OrderID    string `json:"order_id"`
	ApproveURL string `json:"approve_url"`
}
