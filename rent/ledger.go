/*
ledger.go - Running-balance ledger reconstruction

PURPOSE:
  Rebuilds a statement-style ledger from charges and payments. The ledger
  is never stored: every call derives it from history, so it always agrees
  with the allocator's writes.

PER TENANT:
  1. One CHARGE row per charge: debit = amount, dated by due date
  2. One PAYMENT row per payment: credit = amount, dated by payment date
  3. Stable sort by YYYY-MM-DD date, CHARGE rows before PAYMENT rows on
     the same date
  4. Walk in order: balance += debit - credit
  5. Apply the inclusive from/to window LAST, so the first visible row
     carries the true historical balance

MULTIPLE TENANTS (property or all):
  Each tenant's ledger is built independently (bounded fan-out), then the
  rows are merged by a stable date sort. Rows with equal dates keep tenant
  order (name, then id). Balances are per tenant and are not summed across
  tenants.

ADVANCE:
  A payment larger than what was owed shows as its full credit here, so a
  tenant in credit has a negative running balance.
*/
package rent

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type EntryType string

const (
	EntryCharge  EntryType = "CHARGE"
	EntryPayment EntryType = "PAYMENT"
)

// LedgerEntry is one dated row with its running balance.
type LedgerEntry struct {
	Date        string // YYYY-MM-DD
	Type        EntryType
	PeriodFrom  string
	PeriodTo    string
	Description string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Balance     decimal.Decimal
	ChargeID    ChargeID
	PaymentID   PaymentID
	TenantID    TenantID
}

// LedgerFilter scopes a ledger. TenantID wins over PropertyID; with neither
// set every tenant is included. From and To are inclusive YYYY-MM-DD bounds.
type LedgerFilter struct {
	TenantID   TenantID
	PropertyID PropertyID
	From       string
	To         string
}

// Validate checks the date bounds.
func (f LedgerFilter) Validate() error {
	for _, d := range []string{f.From, f.To} {
		if d == "" {
			continue
		}
		if _, err := ParseDate(d); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
	}
	if f.From != "" && f.To != "" && f.To < f.From {
		return fmt.Errorf("%w: to %s is before from %s", ErrInvalidFilter, f.To, f.From)
	}
	return nil
}

func (f LedgerFilter) inWindow(date string) bool {
	if f.From != "" && date < f.From {
		return false
	}
	if f.To != "" && date > f.To {
		return false
	}
	return true
}

// LedgerSource is what the reconstructor reads from. TxStore satisfies it.
type LedgerSource interface {
	View(ctx context.Context, fn func(Repos) error) error
	ListTenants(ctx context.Context) ([]Tenant, error)
	TenantsByProperty(ctx context.Context, propertyID PropertyID) ([]Tenant, error)
}

// DefaultLedgerConcurrency bounds the per-tenant fan-out.
const DefaultLedgerConcurrency = 4

// Reconstructor builds ledgers. It never writes.
type Reconstructor struct {
	src   LedgerSource
	limit int
}

type ReconstructorOption func(*Reconstructor)

// WithMaxConcurrency bounds how many tenant ledgers are built at once.
// Values below 1 are ignored.
func WithMaxConcurrency(n int) ReconstructorOption {
	return func(r *Reconstructor) {
		if n > 0 {
			r.limit = n
		}
	}
}

func NewReconstructor(src LedgerSource, opts ...ReconstructorOption) *Reconstructor {
	r := &Reconstructor{src: src, limit: DefaultLedgerConcurrency}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BuildLedger returns the ledger rows for the filter, ordered by date.
func (r *Reconstructor) BuildLedger(ctx context.Context, f LedgerFilter) ([]LedgerEntry, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	tenants, err := r.resolveTenants(ctx, f)
	if err != nil {
		return nil, err
	}

	perTenant := make([][]LedgerEntry, len(tenants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)
	for i, id := range tenants {
		g.Go(func() error {
			rows, err := r.tenantRows(gctx, id)
			if err != nil {
				return err
			}
			perTenant[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []LedgerEntry
	for _, rows := range perTenant {
		for _, e := range rows {
			if f.inWindow(e.Date) {
				out = append(out, e)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// TenantLedger returns the full, unfiltered ledger of one tenant.
func (r *Reconstructor) TenantLedger(ctx context.Context, tenantID TenantID) ([]LedgerEntry, error) {
	return r.tenantRows(ctx, tenantID)
}

func (r *Reconstructor) resolveTenants(ctx context.Context, f LedgerFilter) ([]TenantID, error) {
	if f.TenantID != "" {
		return []TenantID{f.TenantID}, nil
	}

	var (
		tenants []Tenant
		err     error
	)
	if f.PropertyID != "" {
		tenants, err = r.src.TenantsByProperty(ctx, f.PropertyID)
	} else {
		tenants, err = r.src.ListTenants(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve tenants: %w", err)
	}

	SortTenants(tenants)
	ids := make([]TenantID, len(tenants))
	for i, t := range tenants {
		ids[i] = t.ID
	}
	return ids, nil
}

// SortTenants orders tenants by name, then id.
func SortTenants(tenants []Tenant) {
	sort.SliceStable(tenants, func(i, j int) bool {
		if tenants[i].Name != tenants[j].Name {
			return tenants[i].Name < tenants[j].Name
		}
		return tenants[i].ID < tenants[j].ID
	})
}

func (r *Reconstructor) tenantRows(ctx context.Context, tenantID TenantID) ([]LedgerEntry, error) {
	var (
		charges  []Charge
		payments []Payment
	)
	err := r.src.View(ctx, func(tx Repos) error {
		var err error
		if charges, err = tx.ChargesByTenant(ctx, tenantID); err != nil {
			return fmt.Errorf("load charges for tenant %s: %w", tenantID, err)
		}
		if payments, err = tx.PaymentsByTenant(ctx, tenantID); err != nil {
			return fmt.Errorf("load payments for tenant %s: %w", tenantID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return BuildTenantLedger(tenantID, charges, payments), nil
}

// BuildTenantLedger turns one tenant's history into running-balance rows.
// Charges are expected in FIFO order and payments in date order; both are
// re-sorted stably by date so the result does not depend on it.
func BuildTenantLedger(tenantID TenantID, charges []Charge, payments []Payment) []LedgerEntry {
	rows := make([]LedgerEntry, 0, len(charges)+len(payments))
	for _, c := range charges {
		rows = append(rows, LedgerEntry{
			Date:        DateKey(c.DueDate),
			Type:        EntryCharge,
			PeriodFrom:  c.PeriodFrom,
			PeriodTo:    c.PeriodTo,
			Description: c.Description(),
			Debit:       Round2(c.Amount),
			Credit:      decimal.Zero,
			ChargeID:    c.ID,
			TenantID:    tenantID,
		})
	}
	for _, p := range payments {
		rows = append(rows, LedgerEntry{
			Date:        DateKey(p.Date),
			Type:        EntryPayment,
			Description: "Payment",
			Debit:       decimal.Zero,
			Credit:      Round2(p.Amount),
			PaymentID:   p.ID,
			TenantID:    tenantID,
		})
	}

	// Charges were appended first, so a stable sort on date keeps them ahead
	// of same-day payments.
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })

	balance := decimal.Zero
	for i := range rows {
		balance = Round2(balance.Add(rows[i].Debit).Sub(rows[i].Credit))
		rows[i].Balance = balance
	}
	return rows
}
