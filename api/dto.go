/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the rent domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are Money in both directions. Requests accept a JSON number or
  a quoted string; responses always carry a JSON number with exactly two
  decimals, e.g. 15000.00.

VALIDATION:
  Validation is done in handlers and in the rent package, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
  - rent/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/rent-ledger/rent"
)

// Money renders an amount as a JSON number rounded to cents and accepts
// either a number or a numeric string on input.
type Money decimal.Decimal

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(rent.FormatAmount(decimal.Decimal(m))), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	*m = Money(d)
	return nil
}

func (m Money) Decimal() decimal.Decimal {
	return decimal.Decimal(m)
}

// =============================================================================
// PROPERTIES & TENANTS
// =============================================================================

type PropertyDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Address   string `json:"address,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type CreatePropertyRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// TenantDTO represents a tenant, with its property expanded when assigned.
type TenantDTO struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	PropertyID *string      `json:"property_id"`
	Property   *PropertyDTO `json:"property,omitempty"`
	CreatedAt  string       `json:"created_at,omitempty"`
	UpdatedAt  string       `json:"updated_at,omitempty"`
}

type CreateTenantRequest struct {
	Name       string  `json:"name"`
	PropertyID *string `json:"property_id"`
}

// UpdateTenantRequest reassigns a tenant. A missing or null property_id
// unassigns the tenant.
type UpdateTenantRequest struct {
	PropertyID *string `json:"property_id"`
}

// =============================================================================
// CHARGES
// =============================================================================

type ChargeDTO struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	Type       string `json:"type"`
	Amount     Money  `json:"amount"`
	PaidAmount Money  `json:"paid_amount"`
	Balance    Money  `json:"balance"`
	Status     string `json:"status"`
	PeriodFrom string `json:"period_from"`
	PeriodTo   string `json:"period_to"`
	DueDate    string `json:"due_date"`
	CreatedAt  string `json:"created_at"`
}

type CreateChargeRequest struct {
	TenantID   string `json:"tenant_id"`
	Type       string `json:"type"`
	Amount     Money  `json:"amount"`
	PeriodFrom string `json:"period_from"`
	PeriodTo   string `json:"period_to"`
	DueDate    string `json:"due_date"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentDTO struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	Amount    Money  `json:"amount"`
	Date      string `json:"date"`
	CreatedAt string `json:"created_at"`
}

// CreatePaymentRequest records a payment. Date defaults to today (UTC).
type CreatePaymentRequest struct {
	TenantID string `json:"tenant_id"`
	Amount   Money  `json:"amount"`
	Date     string `json:"date"`
}

type AllocationDTO struct {
	ID       string `json:"id"`
	ChargeID string `json:"charge_id"`
	Amount   Money  `json:"amount"`
}

// RecordPaymentResponse is the created payment plus how it was applied.
type RecordPaymentResponse struct {
	Payment         PaymentDTO      `json:"payment"`
	ChargesAffected int             `json:"charges_affected"`
	AdvanceAmount   Money           `json:"advance_amount"`
	Allocations     []AllocationDTO `json:"allocations"`
}

// =============================================================================
// LEDGER & REPORTS
// =============================================================================

type LedgerEntryDTO struct {
	Date        string `json:"date"`
	Type        string `json:"type"`
	PeriodFrom  string `json:"period_from,omitempty"`
	PeriodTo    string `json:"period_to,omitempty"`
	Description string `json:"description"`
	Debit       Money  `json:"debit"`
	Credit      Money  `json:"credit"`
	Balance     Money  `json:"balance"`
	TenantID    string `json:"tenant_id"`
	ChargeID    string `json:"charge_id,omitempty"`
	PaymentID   string `json:"payment_id,omitempty"`
}

type MonthlyCollectionDTO struct {
	Month string `json:"month"`
	Total Money  `json:"total"`
}

type OutstandingDueDTO struct {
	TenantID string `json:"tenant_id"`
	Amount   Money  `json:"amount"`
}

type PropertyIncomeDTO struct {
	PropertyID string `json:"property_id"`
	Total      Money  `json:"total"`
}

type ReportSummaryDTO struct {
	MonthlyCollection  []MonthlyCollectionDTO `json:"monthly_collection"`
	OutstandingDues    []OutstandingDueDTO    `json:"outstanding_dues"`
	PropertyWiseIncome []PropertyIncomeDTO    `json:"property_wise_income"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO describes a demo dataset.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toPropertyDTO(p rent.Property) PropertyDTO {
	return PropertyDTO{
		ID:        string(p.ID),
		Name:      p.Name,
		Address:   p.Address,
		CreatedAt: formatTime(p.CreatedAt),
	}
}

// toTenantDTO expands the property from props when it is known.
func toTenantDTO(t rent.Tenant, props map[rent.PropertyID]rent.Property) TenantDTO {
	dto := TenantDTO{
		ID:        string(t.ID),
		Name:      t.Name,
		CreatedAt: formatTime(t.CreatedAt),
		UpdatedAt: formatTime(t.UpdatedAt),
	}
	if t.PropertyID != nil {
		pid := string(*t.PropertyID)
		dto.PropertyID = &pid
		if p, ok := props[*t.PropertyID]; ok {
			pd := toPropertyDTO(p)
			dto.Property = &pd
		}
	}
	return dto
}

func toChargeDTO(c rent.Charge) ChargeDTO {
	return ChargeDTO{
		ID:         string(c.ID),
		TenantID:   string(c.TenantID),
		Type:       string(c.Type),
		Amount:     Money(c.Amount),
		PaidAmount: Money(c.PaidAmount),
		Balance:    Money(c.Balance()),
		Status:     string(c.Status()),
		PeriodFrom: c.PeriodFrom,
		PeriodTo:   c.PeriodTo,
		DueDate:    rent.DateKey(c.DueDate),
		CreatedAt:  formatTime(c.CreatedAt),
	}
}

func toPaymentDTO(p rent.Payment) PaymentDTO {
	return PaymentDTO{
		ID:        string(p.ID),
		TenantID:  string(p.TenantID),
		Amount:    Money(p.Amount),
		Date:      rent.DateKey(p.Date),
		CreatedAt: formatTime(p.CreatedAt),
	}
}

func toRecordPaymentResponse(p rent.Payment, res rent.ApplyResult) RecordPaymentResponse {
	allocs := make([]AllocationDTO, len(res.Allocations))
	for i, a := range res.Allocations {
		allocs[i] = AllocationDTO{ID: string(a.ID), ChargeID: string(a.ChargeID), Amount: Money(a.Amount)}
	}
	return RecordPaymentResponse{
		Payment:         toPaymentDTO(p),
		ChargesAffected: res.ChargesAffected,
		AdvanceAmount:   Money(res.AdvanceAmount),
		Allocations:     allocs,
	}
}

func toLedgerDTOs(rows []rent.LedgerEntry) []LedgerEntryDTO {
	dtos := make([]LedgerEntryDTO, len(rows))
	for i, e := range rows {
		dtos[i] = LedgerEntryDTO{
			Date:        e.Date,
			Type:        string(e.Type),
			PeriodFrom:  e.PeriodFrom,
			PeriodTo:    e.PeriodTo,
			Description: e.Description,
			Debit:       Money(e.Debit),
			Credit:      Money(e.Credit),
			Balance:     Money(e.Balance),
			TenantID:    string(e.TenantID),
			ChargeID:    string(e.ChargeID),
			PaymentID:   string(e.PaymentID),
		}
	}
	return dtos
}

func toReportSummaryDTO(s rent.ReportSummary) ReportSummaryDTO {
	dto := ReportSummaryDTO{
		MonthlyCollection:  make([]MonthlyCollectionDTO, len(s.MonthlyCollection)),
		OutstandingDues:    make([]OutstandingDueDTO, len(s.OutstandingDues)),
		PropertyWiseIncome: make([]PropertyIncomeDTO, len(s.PropertyWiseIncome)),
	}
	for i, m := range s.MonthlyCollection {
		dto.MonthlyCollection[i] = MonthlyCollectionDTO{Month: m.Month, Total: Money(m.Total)}
	}
	for i, d := range s.OutstandingDues {
		dto.OutstandingDues[i] = OutstandingDueDTO{TenantID: string(d.TenantID), Amount: Money(d.Amount)}
	}
	for i, p := range s.PropertyWiseIncome {
		dto.PropertyWiseIncome[i] = PropertyIncomeDTO{PropertyID: p.PropertyID, Total: Money(p.Total)}
	}
	return dto
}
