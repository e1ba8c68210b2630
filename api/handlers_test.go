package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/rent-ledger/rent"
	"github.com/warp/rent-ledger/store/sqlite"
)

func setupTestServer(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store, rent.NewAllocator(store), rent.NewReconstructor(store), zap.NewNop())
	return h, NewRouter(h, RouterOptions{})
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func assertMoney(t *testing.T, want string, got Money, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, want, rent.FormatAmount(got.Decimal()), msgAndArgs...)
}

// createTenant creates one tenant through the API and returns its id.
func createTenant(t *testing.T, router http.Handler, name string) string {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/tenants", CreateTenantRequest{Name: name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[TenantDTO](t, rec).ID
}

func seedRentCharge(t *testing.T, router http.Handler, tenantID, amount, period, due string) ChargeDTO {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/charges", map[string]any{
		"tenant_id":   tenantID,
		"type":        "RENT",
		"amount":      json.Number(amount),
		"period_from": period,
		"period_to":   period,
		"due_date":    due,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[ChargeDTO](t, rec)
}

// =============================================================================
// HEALTH & ROUTING
// =============================================================================

func TestHealth(t *testing.T) {
	_, router := setupTestServer(t)

	rec := do(t, router, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRouter_MetricsMountedWhenGiven(t *testing.T) {
	h, _ := setupTestServer(t)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	})

	with := NewRouter(h, RouterOptions{MetricsHandler: metrics})
	without := NewRouter(h, RouterOptions{})

	assert.Equal(t, "# metrics", do(t, with, http.MethodGet, "/metrics", nil).Body.String())
	assert.NotEqual(t, "# metrics", do(t, without, http.MethodGet, "/metrics", nil).Body.String())
}

// =============================================================================
// DIRECTORY
// =============================================================================

func TestTenants_CreateAssignAndUnassign(t *testing.T) {
	// GIVEN: A property
	_, router := setupTestServer(t)
	rec := do(t, router, http.MethodPost, "/api/properties", CreatePropertyRequest{Name: "  Block C - 7 ", Address: "1 Hill Rd"})
	require.Equal(t, http.StatusCreated, rec.Code)
	prop := decode[PropertyDTO](t, rec)
	assert.Equal(t, "Block C - 7", prop.Name)

	// WHEN: A tenant is created on it
	rec = do(t, router, http.MethodPost, "/api/tenants", CreateTenantRequest{Name: "Farah", PropertyID: &prop.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tenant := decode[TenantDTO](t, rec)

	// THEN: The property is expanded on read
	rec = do(t, router, http.MethodGet, "/api/tenants/"+tenant.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[TenantDTO](t, rec)
	require.NotNil(t, got.PropertyID)
	assert.Equal(t, prop.ID, *got.PropertyID)
	require.NotNil(t, got.Property)
	assert.Equal(t, "Block C - 7", got.Property.Name)

	// WHEN: The tenant is unassigned with a null property_id
	rec = do(t, router, http.MethodPatch, "/api/tenants/"+tenant.ID, map[string]any{"property_id": nil})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[TenantDTO](t, rec).PropertyID)
}

func TestTenants_Errors(t *testing.T) {
	_, router := setupTestServer(t)
	ghost := "no-such-property"

	rec := do(t, router, http.MethodPost, "/api/tenants", CreateTenantRequest{Name: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/tenants", CreateTenantRequest{Name: "Gia", PropertyID: &ghost})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/tenants/nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Tenant not found", decode[ErrorResponse](t, rec).Error)

	rec = do(t, router, http.MethodPatch, "/api/tenants/nobody", UpdateTenantRequest{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProperties_ListByName(t *testing.T) {
	_, router := setupTestServer(t)
	for _, name := range []string{"Zeta", "Alpha"} {
		require.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/api/properties", CreatePropertyRequest{Name: name}).Code)
	}

	props := decode[[]PropertyDTO](t, do(t, router, http.MethodGet, "/api/properties", nil))

	require.Len(t, props, 2)
	assert.Equal(t, "Alpha", props[0].Name)
}

// =============================================================================
// CHARGES
// =============================================================================

func TestCreateCharge_Validation(t *testing.T) {
	_, router := setupTestServer(t)
	tenantID := createTenant(t, router, "Hari")

	cases := []struct {
		name string
		body map[string]any
	}{
		{"bad type", map[string]any{"tenant_id": tenantID, "type": "PARKING", "amount": 100, "period_from": "2025-01", "period_to": "2025-01", "due_date": "2025-01-05"}},
		{"zero amount", map[string]any{"tenant_id": tenantID, "type": "RENT", "amount": 0, "period_from": "2025-01", "period_to": "2025-01", "due_date": "2025-01-05"}},
		{"bad period", map[string]any{"tenant_id": tenantID, "type": "RENT", "amount": 100, "period_from": "Jan", "period_to": "2025-01", "due_date": "2025-01-05"}},
		{"missing due date", map[string]any{"tenant_id": tenantID, "type": "RENT", "amount": 100, "period_from": "2025-01", "period_to": "2025-01"}},
		{"unknown tenant", map[string]any{"tenant_id": "ghost", "type": "RENT", "amount": 100, "period_from": "2025-01", "period_to": "2025-01", "due_date": "2025-01-05"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/charges", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestCreateCharge_AmountAsStringOrNumber(t *testing.T) {
	_, router := setupTestServer(t)
	tenantID := createTenant(t, router, "Ishaan")

	c := seedRentCharge(t, router, tenantID, "1200.255", "2025-01", "2025-01-05")
	assertMoney(t, "1200.26", c.Amount)
	assertMoney(t, "1200.26", c.Balance)
	assert.Equal(t, "PENDING", c.Status)

	rec := do(t, router, http.MethodPost, "/api/charges", map[string]any{
		"tenant_id": tenantID, "type": "WATER", "amount": "99.5",
		"period_from": "2025-01", "period_to": "2025-01", "due_date": "2025-01-10",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assertMoney(t, "99.50", decode[ChargeDTO](t, rec).Amount)
}

func TestListCharges_InvalidStatus(t *testing.T) {
	_, router := setupTestServer(t)

	rec := do(t, router, http.MethodGet, "/api/charges?status=OVERDUE", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestCreatePayment_AppliesFIFOAndReportsAdvance(t *testing.T) {
	// GIVEN: Two rent charges of 10000 each
	_, router := setupTestServer(t)
	tenantID := createTenant(t, router, "Jaya")
	jan := seedRentCharge(t, router, tenantID, "10000", "2025-01", "2025-01-05")
	feb := seedRentCharge(t, router, tenantID, "10000", "2025-02", "2025-02-05")

	// WHEN: 25000 is paid
	rec := do(t, router, http.MethodPost, "/api/payments", map[string]any{
		"tenant_id": tenantID, "amount": 25000, "date": "2025-02-01",
	})

	// THEN: Both are settled, oldest first, and 5000 is reported as advance
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[RecordPaymentResponse](t, rec)
	assert.Equal(t, 2, resp.ChargesAffected)
	assertMoney(t, "5000.00", resp.AdvanceAmount)
	require.Len(t, resp.Allocations, 2)
	assert.Equal(t, jan.ID, resp.Allocations[0].ChargeID)
	assert.Equal(t, feb.ID, resp.Allocations[1].ChargeID)
	assert.Equal(t, "2025-02-01", resp.Payment.Date)

	charges := decode[[]ChargeDTO](t, do(t, router, http.MethodGet, "/api/charges?tenant_id="+tenantID+"&status=PAID", nil))
	assert.Len(t, charges, 2)
}

func TestCreatePayment_AmountAsString(t *testing.T) {
	_, router := setupTestServer(t)
	tenantID := createTenant(t, router, "Kiran")
	seedRentCharge(t, router, tenantID, "5000", "2025-01", "2025-01-05")

	rec := do(t, router, http.MethodPost, "/api/payments", map[string]any{
		"tenant_id": tenantID, "amount": "4500.505", "date": "2025-01-06",
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[RecordPaymentResponse](t, rec)
	assertMoney(t, "4500.51", resp.Payment.Amount)
	require.Len(t, resp.Allocations, 1)
	assertMoney(t, "4500.51", resp.Allocations[0].Amount)
}

func TestCreatePayment_Validation(t *testing.T) {
	_, router := setupTestServer(t)
	tenantID := createTenant(t, router, "Kabir")

	rec := do(t, router, http.MethodPost, "/api/payments", map[string]any{"tenant_id": "ghost", "amount": 100})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/payments", map[string]any{"tenant_id": tenantID, "amount": 0.004})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/payments", map[string]any{"tenant_id": tenantID, "amount": 10, "date": "01/02/2025"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/payments", map[string]any{"tenant_id": tenantID, "amount": "lots"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	payments := decode[[]PaymentDTO](t, do(t, router, http.MethodGet, "/api/payments", nil))
	assert.Empty(t, payments)
}

func TestDeletePayment_ReversesAllocations(t *testing.T) {
	// GIVEN: A partial payment on a charge
	_, router := setupTestServer(t)
	tenantID := createTenant(t, router, "Lata")
	seedRentCharge(t, router, tenantID, "8000", "2025-03", "2025-03-05")
	rec := do(t, router, http.MethodPost, "/api/payments", map[string]any{
		"tenant_id": tenantID, "amount": 3000, "date": "2025-03-06",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	paymentID := decode[RecordPaymentResponse](t, rec).Payment.ID

	partial := decode[[]ChargeDTO](t, do(t, router, http.MethodGet, "/api/charges?tenant_id="+tenantID, nil))
	require.Len(t, partial, 1)
	assert.Equal(t, "PARTIAL", partial[0].Status)

	// WHEN: The payment is deleted
	rec = do(t, router, http.MethodDelete, "/api/payments/"+paymentID, nil)

	// THEN: The charge is back to PENDING and the payment is gone
	require.Equal(t, http.StatusNoContent, rec.Code)
	charges := decode[[]ChargeDTO](t, do(t, router, http.MethodGet, "/api/charges?tenant_id="+tenantID, nil))
	assert.Equal(t, "PENDING", charges[0].Status)
	assertMoney(t, "0.00", charges[0].PaidAmount)

	rec = do(t, router, http.MethodDelete, "/api/payments/"+paymentID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// LEDGER & REPORTS
// =============================================================================

func TestGetLedger_InvalidWindow(t *testing.T) {
	_, router := setupTestServer(t)

	rec := do(t, router, http.MethodGet, "/api/ledger?from=2025-02-30", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetLedger_EmptyIsArray(t *testing.T) {
	_, router := setupTestServer(t)

	rec := do(t, router, http.MethodGet, "/api/ledger", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestGetReportSummary_Empty(t *testing.T) {
	_, router := setupTestServer(t)

	rec := do(t, router, http.MethodGet, "/api/reports/summary", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"monthly_collection":[],"outstanding_dues":[],"property_wise_income":[]}`, rec.Body.String())
}
