/*
store.go - Repository interfaces consumed by the engine

PURPOSE:
  Defines the boundary between ledger logic and persistence. The engine
  never holds a global database handle: apply and reverse receive a
  transaction-scoped Repos from TxStore.WithTx and do all of their reads
  and writes through it.

KEY INTERFACES:
  ChargeStore:     Charges by tenant (FIFO order), by id, save
  AllocationStore: Batch create, by payment, by charge set, delete by payment
  PaymentStore:    Payment rows (the engine reads them, callers create them)
  Directory:       Tenants and properties, used to scope ledgers
  TxStore:         All of the above plus WithTx / View

ORDERING CONTRACT:
  ChargesByTenant returns charges ascending by due date, ties broken by
  creation order. This is the FIFO contract the allocator relies on.
  PaymentsByTenant returns payments ascending by date, then creation order.
  AllocationsByPayment returns allocations in creation order.

IMPLEMENTATIONS:
  - rent/store/memory.go: In-memory, snapshot rollback
  - store/sqlite/sqlite.go: SQLite on database/sql
*/
package rent

import "context"

// ChargeStore persists charges and their paid state.
type ChargeStore interface {
	// ChargesByTenant returns the tenant's charges in FIFO order.
	ChargesByTenant(ctx context.Context, tenantID TenantID) ([]Charge, error)

	// GetCharge returns ErrChargeNotFound when the id is unknown.
	GetCharge(ctx context.Context, id ChargeID) (*Charge, error)

	// SaveCharge inserts a charge or updates an existing one in place.
	// Creation order is preserved on update.
	SaveCharge(ctx context.Context, c Charge) error

	// ListCharges returns charges matching the filter, by due date.
	ListCharges(ctx context.Context, f ChargeFilter) ([]Charge, error)
}

// AllocationStore persists payment-to-charge allocations.
type AllocationStore interface {
	CreateAllocations(ctx context.Context, allocs []Allocation) error
	AllocationsByPayment(ctx context.Context, paymentID PaymentID) ([]Allocation, error)
	AllocationsByCharges(ctx context.Context, chargeIDs []ChargeID) ([]Allocation, error)

	// DeleteAllocationsByPayment removes every allocation of a payment and
	// returns how many were removed. Zero is not an error.
	DeleteAllocationsByPayment(ctx context.Context, paymentID PaymentID) (int, error)
}

// PaymentStore persists payment rows.
type PaymentStore interface {
	SavePayment(ctx context.Context, p Payment) error

	// GetPayment returns ErrPaymentNotFound when the id is unknown.
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)

	PaymentsByTenant(ctx context.Context, tenantID TenantID) ([]Payment, error)

	// DeletePayment returns ErrPaymentNotFound when the id is unknown.
	DeletePayment(ctx context.Context, id PaymentID) error

	// ListPayments returns payments matching the filter, newest first.
	ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, error)
}

// Directory resolves tenants and properties.
// Cardinality: one property per tenant, nullable.
type Directory interface {
	SaveTenant(ctx context.Context, t Tenant) error
	GetTenant(ctx context.Context, id TenantID) (*Tenant, error)
	ListTenants(ctx context.Context) ([]Tenant, error)
	TenantsByProperty(ctx context.Context, propertyID PropertyID) ([]Tenant, error)

	SaveProperty(ctx context.Context, p Property) error
	GetProperty(ctx context.Context, id PropertyID) (*Property, error)
	ListProperties(ctx context.Context) ([]Property, error)
}

// Repos is the transaction-scoped handle passed to apply and reverse.
type Repos interface {
	ChargeStore
	AllocationStore
	PaymentStore
}

// TxStore adds transactions on top of the repositories.
type TxStore interface {
	Repos
	Directory

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Repos) error) error

	// View executes fn against a consistent read-only snapshot.
	View(ctx context.Context, fn func(Repos) error) error
}

// =============================================================================
// FILTERS
// =============================================================================

// ChargeFilter narrows ListCharges. Zero values mean "any".
type ChargeFilter struct {
	TenantID TenantID
	Status   ChargeStatus
}

func (f ChargeFilter) Match(c Charge) bool {
	if f.TenantID != "" && c.TenantID != f.TenantID {
		return false
	}
	if f.Status != "" && c.Status() != f.Status {
		return false
	}
	return true
}

// PaymentFilter narrows ListPayments. Zero values mean "any".
type PaymentFilter struct {
	TenantID TenantID
}

func (f PaymentFilter) Match(p Payment) bool {
	return f.TenantID == "" || p.TenantID == f.TenantID
}
