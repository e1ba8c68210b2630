/*
errors.go - Centralized error types for the ledger engine

ERROR CATEGORIES:
  1. Validation errors - Bad input, caught at the HTTP boundary
  2. Consistency errors - An allocation points at a charge that is gone,
     or a write would break 0 <= paid <= amount
  3. Not-found errors - Missing tenant, property, charge, or payment

Storage failures are not wrapped in a sentinel: the store returns them with
context and the allocator surfaces them unchanged after aborting the unit.

USAGE:
  if errors.Is(err, rent.ErrPaymentNotFound) {
      // 404
  }
  var ce *rent.ConsistencyError
  if errors.As(err, &ce) {
      // ce.ChargeID is the dangling reference
  }
*/
package rent

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrChargeNotFound   = errors.New("charge not found")
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrTenantNotFound   = errors.New("tenant not found")
	ErrPropertyNotFound = errors.New("property not found")

	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidChargeType = errors.New("invalid charge type")
	ErrInvalidCharge     = errors.New("invalid charge")
	ErrInvalidPayment    = errors.New("invalid payment")
	ErrInvalidFilter     = errors.New("invalid filter")

	// ErrInconsistentAllocation is returned when an allocation references a
	// charge that no longer exists. The whole unit of work is aborted.
	ErrInconsistentAllocation = errors.New("allocation references missing charge")

	// ErrOverAllocation is returned when a write would move a charge's paid
	// amount outside [0, amount].
	ErrOverAllocation = errors.New("paid amount out of range")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConsistencyError reports a dangling charge reference found during apply or reverse.
type ConsistencyError struct {
	PaymentID PaymentID
	ChargeID  ChargeID
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("payment %s: charge %s no longer exists", e.PaymentID, e.ChargeID)
}

func (e *ConsistencyError) Unwrap() error {
	return ErrInconsistentAllocation
}

// PaidRangeError reports a charge write that would break 0 <= paid <= amount.
type PaidRangeError struct {
	ChargeID ChargeID
	Amount   decimal.Decimal
	Paid     decimal.Decimal
}

func (e *PaidRangeError) Error() string {
	return fmt.Sprintf("charge %s: paid amount %s outside [0, %s]",
		e.ChargeID, FormatAmount(e.Paid), FormatAmount(e.Amount))
}

func (e *PaidRangeError) Unwrap() error {
	return ErrOverAllocation
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrChargeNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrTenantNotFound) ||
		errors.Is(err, ErrPropertyNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidChargeType) ||
		errors.Is(err, ErrInvalidCharge) ||
		errors.Is(err, ErrInvalidPayment) ||
		errors.Is(err, ErrInvalidFilter)
}

// IsConflict returns true if the error means stored state disagrees with the request.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInconsistentAllocation) ||
		errors.Is(err, ErrOverAllocation)
}
