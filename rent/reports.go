package rent

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Unassigned is the property key for income from tenants without a property.
const Unassigned = "unassigned"

type MonthlyCollection struct {
	Month string // YYYY-MM
	Total decimal.Decimal
}

type OutstandingDue struct {
	TenantID TenantID
	Amount   decimal.Decimal
}

type PropertyIncome struct {
	PropertyID string
	Total      decimal.Decimal
}

// ReportSummary is the dashboard roll-up of payments and open balances.
type ReportSummary struct {
	MonthlyCollection  []MonthlyCollection
	OutstandingDues    []OutstandingDue
	PropertyWiseIncome []PropertyIncome
}

// ReportSource is what BuildSummary reads from. TxStore satisfies it.
type ReportSource interface {
	View(ctx context.Context, fn func(Repos) error) error
	ListTenants(ctx context.Context) ([]Tenant, error)
}

// BuildSummary aggregates every charge and payment:
//   - collections per payment month, ascending
//   - outstanding balance per tenant with anything owed, by tenant id
//   - payments per tenant property, by property id with Unassigned last
func BuildSummary(ctx context.Context, src ReportSource) (ReportSummary, error) {
	tenants, err := src.ListTenants(ctx)
	if err != nil {
		return ReportSummary{}, fmt.Errorf("list tenants: %w", err)
	}

	var (
		charges  []Charge
		payments []Payment
	)
	err = src.View(ctx, func(tx Repos) error {
		var err error
		if charges, err = tx.ListCharges(ctx, ChargeFilter{}); err != nil {
			return fmt.Errorf("list charges: %w", err)
		}
		if payments, err = tx.ListPayments(ctx, PaymentFilter{}); err != nil {
			return fmt.Errorf("list payments: %w", err)
		}
		return nil
	})
	if err != nil {
		return ReportSummary{}, err
	}

	return summarize(tenants, charges, payments), nil
}

func summarize(tenants []Tenant, charges []Charge, payments []Payment) ReportSummary {
	propertyOf := make(map[TenantID]string, len(tenants))
	for _, t := range tenants {
		if t.PropertyID != nil {
			propertyOf[t.ID] = string(*t.PropertyID)
		}
	}

	byMonth := map[string]decimal.Decimal{}
	byProperty := map[string]decimal.Decimal{}
	for _, p := range payments {
		month := p.Date.UTC().Format(PeriodLayout)
		byMonth[month] = byMonth[month].Add(p.Amount)

		pid, ok := propertyOf[p.TenantID]
		if !ok {
			pid = Unassigned
		}
		byProperty[pid] = byProperty[pid].Add(p.Amount)
	}

	owed := map[TenantID]decimal.Decimal{}
	for _, c := range charges {
		if b := c.Balance(); b.IsPositive() {
			owed[c.TenantID] = owed[c.TenantID].Add(b)
		}
	}

	var s ReportSummary
	for month, total := range byMonth {
		s.MonthlyCollection = append(s.MonthlyCollection, MonthlyCollection{Month: month, Total: Round2(total)})
	}
	sort.Slice(s.MonthlyCollection, func(i, j int) bool {
		return s.MonthlyCollection[i].Month < s.MonthlyCollection[j].Month
	})

	for id, amount := range owed {
		s.OutstandingDues = append(s.OutstandingDues, OutstandingDue{TenantID: id, Amount: Round2(amount)})
	}
	sort.Slice(s.OutstandingDues, func(i, j int) bool {
		return s.OutstandingDues[i].TenantID < s.OutstandingDues[j].TenantID
	})

	for pid, total := range byProperty {
		s.PropertyWiseIncome = append(s.PropertyWiseIncome, PropertyIncome{PropertyID: pid, Total: Round2(total)})
	}
	sort.Slice(s.PropertyWiseIncome, func(i, j int) bool {
		a, b := s.PropertyWiseIncome[i].PropertyID, s.PropertyWiseIncome[j].PropertyID
		if (a == Unassigned) != (b == Unassigned) {
			return b == Unassigned
		}
		return a < b
	})

	return s
}
