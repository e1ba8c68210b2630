/*
handlers.go - HTTP API handlers for the rent ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the rent package. Handlers never
  touch charge paid amounts directly: every payment write goes through the
  Allocator.

ENDPOINTS:
  Properties:
    GET    /api/properties             List properties (by name)
    POST   /api/properties             Create property

  Tenants:
    GET    /api/tenants                List tenants (by name)
    POST   /api/tenants                Create tenant
    GET    /api/tenants/{id}           Get tenant
    PATCH  /api/tenants/{id}           Assign or unassign property

  Charges:
    GET    /api/charges                ?tenant_id=&status=
    POST   /api/charges                Create charge

  Payments:
    GET    /api/payments               ?tenant_id= (newest first)
    POST   /api/payments               Record payment and apply FIFO
    DELETE /api/payments/{id}          Reverse and delete payment

  Ledger & reports:
    GET    /api/ledger                 ?tenant_id=&property_id=&from=&to=
    GET    /api/reports/summary        Collections, dues, income

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, unknown referenced tenant/property
  - 404: Resource not found
  - 409: Conflict (stored state disagrees with the write)
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/rent-ledger/rent"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence the API needs: the ledger repositories plus a
// full reset for demo scenarios. Both rent/store.Memory and sqlite.Store
// satisfy it.
type Store interface {
	rent.TxStore
	Reset(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     Store
	Allocator *rent.Allocator
	Ledger    *rent.Reconstructor

	log   *zap.Logger
	now   func() time.Time
	newID func() string

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires handlers to a store and the engine built on it.
func NewHandler(store Store, alloc *rent.Allocator, ledger *rent.Reconstructor, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Store:     store,
		Allocator: alloc,
		Ledger:    ledger,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// Health reports whether the store is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// PROPERTY HANDLERS
// =============================================================================

// ListProperties returns all properties.
func (h *Handler) ListProperties(w http.ResponseWriter, r *http.Request) {
	props, err := h.Store.ListProperties(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list properties", err)
		return
	}

	dtos := make([]PropertyDTO, len(props))
	for i, p := range props {
		dtos[i] = toPropertyDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProperty creates a new property.
func (h *Handler) CreateProperty(w http.ResponseWriter, r *http.Request) {
	var req CreatePropertyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	p := rent.Property{
		ID:        rent.PropertyID(h.newID()),
		Name:      name,
		Address:   strings.TrimSpace(req.Address),
		CreatedAt: h.now(),
	}
	if err := h.Store.SaveProperty(r.Context(), p); err != nil {
		h.writeDomainError(w, "Failed to create property", err)
		return
	}

	writeJSON(w, http.StatusCreated, toPropertyDTO(p))
}

// =============================================================================
// TENANT HANDLERS
// =============================================================================

// ListTenants returns all tenants with their property expanded.
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.Store.ListTenants(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list tenants", err)
		return
	}
	props, err := h.propertyIndex(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list tenants", err)
		return
	}

	dtos := make([]TenantDTO, len(tenants))
	for i, t := range tenants {
		dtos[i] = toTenantDTO(t, props)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTenant returns a single tenant.
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	id := rent.TenantID(chi.URLParam(r, "id"))

	t, err := h.Store.GetTenant(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Tenant not found", err)
		return
	}
	h.writeTenant(w, r, http.StatusOK, *t)
}

// CreateTenant creates a tenant, optionally assigned to a property.
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	now := h.now()
	t := rent.Tenant{
		ID:         rent.TenantID(h.newID()),
		Name:       name,
		PropertyID: propertyRef(req.PropertyID),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.Store.SaveTenant(r.Context(), t); err != nil {
		h.writeReferenceError(w, "Failed to create tenant", err)
		return
	}

	h.writeTenant(w, r, http.StatusCreated, t)
}

// UpdateTenant moves a tenant to another property or unassigns it.
func (h *Handler) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	id := rent.TenantID(chi.URLParam(r, "id"))

	var req UpdateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	t, err := h.Store.GetTenant(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Tenant not found", err)
		return
	}

	t.PropertyID = propertyRef(req.PropertyID)
	t.UpdatedAt = h.now()
	if err := h.Store.SaveTenant(r.Context(), *t); err != nil {
		h.writeReferenceError(w, "Failed to update tenant", err)
		return
	}

	h.writeTenant(w, r, http.StatusOK, *t)
}

func (h *Handler) writeTenant(w http.ResponseWriter, r *http.Request, status int, t rent.Tenant) {
	props, err := h.propertyIndex(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to load property", err)
		return
	}
	writeJSON(w, status, toTenantDTO(t, props))
}

func (h *Handler) propertyIndex(ctx context.Context) (map[rent.PropertyID]rent.Property, error) {
	props, err := h.Store.ListProperties(ctx)
	if err != nil {
		return nil, err
	}
	idx := make(map[rent.PropertyID]rent.Property, len(props))
	for _, p := range props {
		idx[p.ID] = p
	}
	return idx, nil
}

// =============================================================================
// CHARGE HANDLERS
// =============================================================================

// ListCharges returns charges by due date, filtered by tenant and status.
func (h *Handler) ListCharges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := rent.ChargeFilter{TenantID: rent.TenantID(q.Get("tenant_id"))}
	if s := q.Get("status"); s != "" {
		f.Status = rent.ChargeStatus(s)
		if !f.Status.Valid() {
			writeError(w, http.StatusBadRequest, "status must be one of PENDING, PARTIAL, PAID", nil)
			return
		}
	}

	charges, err := h.Store.ListCharges(r.Context(), f)
	if err != nil {
		h.writeDomainError(w, "Failed to list charges", err)
		return
	}

	dtos := make([]ChargeDTO, len(charges))
	for i, c := range charges {
		dtos[i] = toChargeDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCharge creates a new unpaid charge for a tenant.
func (h *Handler) CreateCharge(w http.ResponseWriter, r *http.Request) {
	var req CreateChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctype, err := rent.ParseChargeType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, "type must be one of RENT, WATER, ELECTRICITY, OTHER", err)
		return
	}
	due, err := rent.ParseDate(req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "due_date is required (YYYY-MM-DD)", err)
		return
	}
	if !h.tenantExists(w, r, rent.TenantID(req.TenantID)) {
		return
	}

	now := h.now()
	c := rent.Charge{
		ID:         rent.ChargeID(h.newID()),
		TenantID:   rent.TenantID(req.TenantID),
		Type:       ctype,
		Amount:     rent.Round2(req.Amount.Decimal()),
		PeriodFrom: req.PeriodFrom,
		PeriodTo:   req.PeriodTo,
		DueDate:    due,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := c.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid charge", err)
		return
	}
	if err := h.Store.SaveCharge(r.Context(), c); err != nil {
		h.writeReferenceError(w, "Failed to create charge", err)
		return
	}

	writeJSON(w, http.StatusCreated, toChargeDTO(c))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ListPayments returns payments newest first.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	f := rent.PaymentFilter{TenantID: rent.TenantID(r.URL.Query().Get("tenant_id"))}

	payments, err := h.Store.ListPayments(r.Context(), f)
	if err != nil {
		h.writeDomainError(w, "Failed to list payments", err)
		return
	}

	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePayment records a payment and applies it to the tenant's charges.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, _ := rent.ParseDate(rent.DateKey(h.now()))
	if req.Date != "" {
		d, err := parseDay(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		date = d
	}
	if !h.tenantExists(w, r, rent.TenantID(req.TenantID)) {
		return
	}

	p, res, err := h.Allocator.RecordPayment(r.Context(), rent.Payment{
		TenantID: rent.TenantID(req.TenantID),
		Amount:   req.Amount.Decimal(),
		Date:     date,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to record payment", err)
		return
	}

	writeJSON(w, http.StatusCreated, toRecordPaymentResponse(p, res))
}

// DeletePayment reverses a payment's allocations and deletes it.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	id := rent.PaymentID(chi.URLParam(r, "id"))

	if err := h.Allocator.RemovePayment(r.Context(), id); err != nil {
		h.writeDomainError(w, "Failed to delete payment", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// LEDGER & REPORT HANDLERS
// =============================================================================

// GetLedger returns running-balance rows for a tenant, a property or everyone.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := rent.LedgerFilter{
		TenantID:   rent.TenantID(q.Get("tenant_id")),
		PropertyID: rent.PropertyID(q.Get("property_id")),
		From:       q.Get("from"),
		To:         q.Get("to"),
	}

	rows, err := h.Ledger.BuildLedger(r.Context(), f)
	if err != nil {
		h.writeDomainError(w, "Failed to build ledger", err)
		return
	}

	writeJSON(w, http.StatusOK, toLedgerDTOs(rows))
}

// GetReportSummary returns the dashboard roll-up.
func (h *Handler) GetReportSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := rent.BuildSummary(r.Context(), h.Store)
	if err != nil {
		h.writeDomainError(w, "Failed to build report", err)
		return
	}

	writeJSON(w, http.StatusOK, toReportSummaryDTO(summary))
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	h.setScenario("")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps rent errors to HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case rent.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case rent.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case rent.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		h.log.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

// writeReferenceError treats a missing tenant or property named in a
// request body as bad input rather than a missing resource.
func (h *Handler) writeReferenceError(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, rent.ErrTenantNotFound) || errors.Is(err, rent.ErrPropertyNotFound) {
		writeError(w, http.StatusBadRequest, message, err)
		return
	}
	h.writeDomainError(w, message, err)
}

// tenantExists writes a 400 and returns false when the body names an
// unknown tenant.
func (h *Handler) tenantExists(w http.ResponseWriter, r *http.Request, id rent.TenantID) bool {
	if id == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required", nil)
		return false
	}
	if _, err := h.Store.GetTenant(r.Context(), id); err != nil {
		h.writeReferenceError(w, "Tenant not found", err)
		return false
	}
	return true
}

func propertyRef(id *string) *rent.PropertyID {
	if id == nil || strings.TrimSpace(*id) == "" {
		return nil
	}
	pid := rent.PropertyID(strings.TrimSpace(*id))
	return &pid
}

// parseDay accepts YYYY-MM-DD or an RFC3339 timestamp, keeping only the
// UTC calendar day.
func parseDay(s string) (time.Time, error) {
	if d, err := rent.ParseDate(s); err == nil {
		return d, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return rent.ParseDate(rent.DateKey(t))
}
