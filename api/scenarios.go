/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built datasets that populate the store with realistic
	properties, tenants, charges and payments. Payments are recorded through
	the Allocator, so every seeded charge carries the paid amount and status
	that FIFO allocation would give it.

AVAILABLE SCENARIOS:

	demo:             Three flats, four tenants, January/February billing
	advance-payment:  A tenant who overpays; the advance is reported, not carried
	reversal:         Partial payments, one of them deleted afterwards

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Create properties and tenants
 3. Create charges
 4. Record payments in date order through the Allocator
 5. Optionally remove payments through the Allocator

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "demo"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase handler
  - rent/allocator.go: RecordPayment, RemovePayment
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/rent-ledger/rent"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "demo",
		Name:        "Demo Building",
		Description: "Three flats, four tenants (one unassigned), two months of rent and utilities",
		Category:    "ledger",
	},
	{
		ID:          "advance-payment",
		Name:        "Advance Payment",
		Description: "Tenant pays more than owed; the advance shows as a negative balance",
		Category:    "allocation",
	},
	{
		ID:          "reversal",
		Name:        "Payment Reversal",
		Description: "Partial payments spread FIFO, then one payment is deleted and reversed",
		Category:    "allocation",
	},
}

type seedTenant struct {
	id, name, property string
}

type seedCharge struct {
	id, tenant     string
	typ            rent.ChargeType
	amount, period string
	due, createdAt string
}

type seedPayment struct {
	id, tenant, amount, date, createdAt string
}

// scenarioSeed is a dataset loaded in order: properties, tenants, charges,
// payments, then removals.
type scenarioSeed struct {
	properties []rent.Property
	tenants    []seedTenant
	charges    []seedCharge
	payments   []seedPayment
	removed    []rent.PaymentID
}

func demoSeed() scenarioSeed {
	return scenarioSeed{
		properties: []rent.Property{
			{ID: "p1", Name: "Block A - 101", Address: "123 Main St"},
			{ID: "p2", Name: "Block A - 102", Address: "123 Main St"},
			{ID: "p3", Name: "Block B - 201", Address: "456 Oak Ave"},
		},
		tenants: []seedTenant{
			{"t1", "Alice Kumar", "p1"},
			{"t2", "Bob Singh", "p2"},
			{"t3", "Carol Verma", "p3"},
			{"t4", "Unassigned Tenant", ""},
		},
		charges: []seedCharge{
			{"c1", "t1", rent.ChargeRent, "15000", "2025-01", "2025-01-05", "2025-01-01T00:00:00Z"},
			{"c2", "t1", rent.ChargeWater, "200", "2025-01", "2025-01-10", "2025-01-01T00:00:01Z"},
			{"c3", "t1", rent.ChargeElectricity, "800", "2025-01", "2025-01-15", "2025-01-01T00:00:02Z"},
			{"c4", "t1", rent.ChargeRent, "15000", "2025-02", "2025-02-05", "2025-02-01T00:00:00Z"},
			{"c5", "t2", rent.ChargeRent, "18000", "2025-01", "2025-01-05", "2025-01-01T00:00:03Z"},
			{"c6", "t2", rent.ChargeRent, "18000", "2025-02", "2025-02-05", "2025-02-01T00:00:01Z"},
			{"c7", "t3", rent.ChargeRent, "12000", "2025-01", "2025-01-05", "2025-01-01T00:00:04Z"},
		},
		payments: []seedPayment{
			{"pm3", "t2", "18000", "2025-01-04", "2025-01-04T10:00:00Z"},
			{"pm1", "t1", "16000", "2025-01-06", "2025-01-06T10:00:00Z"},
			{"pm2", "t1", "5000", "2025-01-20", "2025-01-20T10:00:00Z"},
			{"pm4", "t2", "18000", "2025-02-03", "2025-02-03T10:00:00Z"},
		},
	}
}

func advancePaymentSeed() scenarioSeed {
	return scenarioSeed{
		properties: []rent.Property{{ID: "p1", Name: "Garden View - 3B", Address: "9 Lake Rd"}},
		tenants:    []seedTenant{{"t1", "Dev Mehta", "p1"}},
		charges: []seedCharge{
			{"c1", "t1", rent.ChargeRent, "12000", "2025-01", "2025-01-05", "2025-01-01T00:00:00Z"},
			{"c2", "t1", rent.ChargeWater, "300", "2025-01", "2025-01-10", "2025-01-01T00:00:01Z"},
		},
		payments: []seedPayment{
			{"pm1", "t1", "15000", "2025-01-08", "2025-01-08T09:30:00Z"},
		},
	}
}

func reversalSeed() scenarioSeed {
	return scenarioSeed{
		properties: []rent.Property{{ID: "p1", Name: "Riverside - 12", Address: "44 Bank St"}},
		tenants:    []seedTenant{{"t1", "Esha Rao", "p1"}},
		charges: []seedCharge{
			{"c1", "t1", rent.ChargeRent, "10000", "2025-01", "2025-01-05", "2025-01-01T00:00:00Z"},
			{"c2", "t1", rent.ChargeElectricity, "650.50", "2025-01", "2025-01-15", "2025-01-01T00:00:01Z"},
			{"c3", "t1", rent.ChargeRent, "10000", "2025-02", "2025-02-05", "2025-02-01T00:00:00Z"},
		},
		payments: []seedPayment{
			{"pm1", "t1", "6000", "2025-01-07", "2025-01-07T11:00:00Z"},
			{"pm2", "t1", "4500", "2025-01-21", "2025-01-21T11:00:00Z"},
			{"pm3", "t1", "3000", "2025-02-06", "2025-02-06T11:00:00Z"},
		},
		removed: []rent.PaymentID{"pm2"},
	}
}

func seedFor(id string) (scenarioSeed, bool) {
	switch id {
	case "demo":
		return demoSeed(), true
	case "advance-payment":
		return advancePaymentSeed(), true
	case "reversal":
		return reversalSeed(), true
	}
	return scenarioSeed{}, false
}

// =============================================================================
// SCENARIO HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.scenario()
	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	seed, ok := seedFor(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.setScenario("")

	if err := h.loadSeed(ctx, seed); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.setScenario(req.ScenarioID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

func (h *Handler) scenario() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentScenario
}

func (h *Handler) setScenario(id string) {
	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
}

// =============================================================================
// SCENARIO LOADER
// =============================================================================

func (h *Handler) loadSeed(ctx context.Context, s scenarioSeed) error {
	now := h.now()

	for _, p := range s.properties {
		p.CreatedAt = now
		if err := h.Store.SaveProperty(ctx, p); err != nil {
			return fmt.Errorf("property %s: %w", p.ID, err)
		}
	}

	for _, t := range s.tenants {
		tenant := rent.Tenant{ID: rent.TenantID(t.id), Name: t.name, CreatedAt: now, UpdatedAt: now}
		if t.property != "" {
			pid := rent.PropertyID(t.property)
			tenant.PropertyID = &pid
		}
		if err := h.Store.SaveTenant(ctx, tenant); err != nil {
			return fmt.Errorf("tenant %s: %w", t.id, err)
		}
	}

	for _, c := range s.charges {
		created, err := time.Parse(time.RFC3339, c.createdAt)
		if err != nil {
			return fmt.Errorf("charge %s: %w", c.id, err)
		}
		charge := rent.Charge{
			ID:         rent.ChargeID(c.id),
			TenantID:   rent.TenantID(c.tenant),
			Type:       c.typ,
			Amount:     rent.MustAmount(c.amount),
			PeriodFrom: c.period,
			PeriodTo:   c.period,
			DueDate:    rent.MustDate(c.due),
			CreatedAt:  created,
			UpdatedAt:  created,
		}
		if err := charge.Validate(); err != nil {
			return fmt.Errorf("charge %s: %w", c.id, err)
		}
		if err := h.Store.SaveCharge(ctx, charge); err != nil {
			return fmt.Errorf("charge %s: %w", c.id, err)
		}
	}

	for _, p := range s.payments {
		created, err := time.Parse(time.RFC3339, p.createdAt)
		if err != nil {
			return fmt.Errorf("payment %s: %w", p.id, err)
		}
		_, _, err = h.Allocator.RecordPayment(ctx, rent.Payment{
			ID:        rent.PaymentID(p.id),
			TenantID:  rent.TenantID(p.tenant),
			Amount:    rent.MustAmount(p.amount),
			Date:      rent.MustDate(p.date),
			CreatedAt: created,
		})
		if err != nil {
			return fmt.Errorf("payment %s: %w", p.id, err)
		}
	}

	for _, id := range s.removed {
		if err := h.Allocator.RemovePayment(ctx, id); err != nil {
			return fmt.Errorf("remove payment %s: %w", id, err)
		}
	}

	return nil
}
