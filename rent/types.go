/*
Package rent provides the tenant ledger engine.

PURPOSE:
  This package owns the parts of the rent ledger that carry real invariants:
  applying payments to outstanding charges oldest-first, keeping every
  charge's paid amount and status consistent, reversing a payment exactly,
  and rebuilding a running-balance ledger per tenant from history.

KEY CONCEPTS IN THIS FILE (types.go):
  - Charge:     An obligation owed by one tenant for a billing period
  - Payment:    Money received from one tenant on a date
  - Allocation: The part of one payment applied to one charge
  - Tenant / Property: Directory records used to scope ledgers

DESIGN PRINCIPLES:
  1. Precision: All money is decimal.Decimal rounded to cents at every boundary
  2. Derived status: ChargeStatus is computed from paid/amount, never stored independently
  3. Type Safety: Distinct ID types prevent mixing tenant/charge/payment IDs
  4. Atomicity: Apply and reverse run as one unit of work (see allocator.go)

USAGE:
  charge := rent.Charge{
      ID:       "c-1",
      TenantID: "t-1",
      Type:     rent.ChargeRent,
      Amount:   rent.MustAmount("15000"),
      DueDate:  rent.MustDate("2025-01-05"),
  }
  charge.Status() // PENDING

SEE ALSO:
  - money.go: Rounding and balance helpers
  - allocator.go: FIFO apply and reversal
  - ledger.go: Running-balance reconstruction
  - store.go: Repository interfaces
*/
package rent

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type PropertyID string
type ChargeID string
type PaymentID string
type AllocationID string

// =============================================================================
// CHARGE TYPE & STATUS
// =============================================================================

type ChargeType string

const (
	ChargeRent        ChargeType = "RENT"
	ChargeWater       ChargeType = "WATER"
	ChargeElectricity ChargeType = "ELECTRICITY"
	ChargeOther       ChargeType = "OTHER"
)

// ChargeTypes lists every accepted charge type in display order.
var ChargeTypes = []ChargeType{ChargeRent, ChargeWater, ChargeElectricity, ChargeOther}

func (t ChargeType) Valid() bool {
	for _, ct := range ChargeTypes {
		if ct == t {
			return true
		}
	}
	return false
}

// ParseChargeType validates a charge type label.
func ParseChargeType(s string) (ChargeType, error) {
	t := ChargeType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidChargeType, s)
	}
	return t, nil
}

type ChargeStatus string

const (
	StatusPending ChargeStatus = "PENDING"
	StatusPartial ChargeStatus = "PARTIAL"
	StatusPaid    ChargeStatus = "PAID"
)

func (s ChargeStatus) Valid() bool {
	return s == StatusPending || s == StatusPartial || s == StatusPaid
}

// StatusFromPaid derives a charge status from its paid and total amounts.
// Nothing paid is PENDING, fully paid is PAID, anything between is PARTIAL.
func StatusFromPaid(paid, amount decimal.Decimal) ChargeStatus {
	if !paid.IsPositive() {
		return StatusPending
	}
	if Round2(paid).GreaterThanOrEqual(Round2(amount)) {
		return StatusPaid
	}
	return StatusPartial
}

// =============================================================================
// CHARGE - Obligation owed by a tenant
// =============================================================================

// Charge is an obligation owed by one tenant.
//
// INVARIANT: 0 <= PaidAmount <= Amount. PaidAmount is only changed by the
// Allocator; Status is always derived from it.
type Charge struct {
	ID         ChargeID
	TenantID   TenantID
	Type       ChargeType
	Amount     decimal.Decimal
	PaidAmount decimal.Decimal
	PeriodFrom string // YYYY-MM
	PeriodTo   string // YYYY-MM
	DueDate    time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Status is derived from the paid amount on every call.
func (c Charge) Status() ChargeStatus {
	return StatusFromPaid(c.PaidAmount, c.Amount)
}

// Balance is the outstanding amount, never negative.
func (c Charge) Balance() decimal.Decimal {
	return Balance(c.Amount, c.PaidAmount)
}

// Description is the ledger label for a charge, e.g. "RENT 2025-01–2025-01".
func (c Charge) Description() string {
	return fmt.Sprintf("%s %s–%s", c.Type, c.PeriodFrom, c.PeriodTo)
}

// Validate checks the fields a new charge must carry.
func (c Charge) Validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("%w: tenant is required", ErrInvalidCharge)
	}
	if !c.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidChargeType, c.Type)
	}
	if !Round2(c.Amount).IsPositive() {
		return fmt.Errorf("%w: charge amount must be positive", ErrInvalidAmount)
	}
	if c.PaidAmount.IsNegative() || c.PaidAmount.GreaterThan(c.Amount) {
		return fmt.Errorf("%w: paid amount %s outside [0, %s]", ErrInvalidCharge, c.PaidAmount, c.Amount)
	}
	if !ValidPeriod(c.PeriodFrom) || !ValidPeriod(c.PeriodTo) {
		return fmt.Errorf("%w: period must be YYYY-MM", ErrInvalidCharge)
	}
	if c.PeriodTo < c.PeriodFrom {
		return fmt.Errorf("%w: period ends before it starts", ErrInvalidCharge)
	}
	if c.DueDate.IsZero() {
		return fmt.Errorf("%w: due date is required", ErrInvalidCharge)
	}
	return nil
}

// =============================================================================
// PAYMENT & ALLOCATION
// =============================================================================

// Payment is money received from one tenant on a date.
type Payment struct {
	ID        PaymentID
	TenantID  TenantID
	Amount    decimal.Decimal
	Date      time.Time
	CreatedAt time.Time
}

// Validate checks the fields a new payment must carry.
func (p Payment) Validate() error {
	if p.TenantID == "" {
		return fmt.Errorf("%w: tenant is required", ErrInvalidPayment)
	}
	if !Round2(p.Amount).IsPositive() {
		return fmt.Errorf("%w: payment amount must be at least 0.01", ErrInvalidAmount)
	}
	if p.Date.IsZero() {
		return fmt.Errorf("%w: payment date is required", ErrInvalidPayment)
	}
	return nil
}

// Allocation is the amount of one payment applied to one charge.
// Allocations are created and deleted in batches, never edited.
type Allocation struct {
	ID        AllocationID
	PaymentID PaymentID
	ChargeID  ChargeID
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// =============================================================================
// DIRECTORY - Tenants and properties
// =============================================================================

// Tenant is a resident who owes charges. A tenant is assigned to at most
// one property at a time.
type Tenant struct {
	ID         TenantID
	Name       string
	PropertyID *PropertyID
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Property struct {
	ID        PropertyID
	Name      string
	Address   string
	CreatedAt time.Time
}
