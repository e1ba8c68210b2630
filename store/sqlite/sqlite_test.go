package sqlite_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rent-ledger/rent"
	"github.com/warp/rent-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveProperty(ctx, rent.Property{ID: "p-1", Name: "Green Residency", Address: "12 MG Road"}))
	pid := rent.PropertyID("p-1")
	require.NoError(t, store.SaveTenant(ctx, rent.Tenant{ID: "t-1", Name: "Alice Kumar", PropertyID: &pid}))
	require.NoError(t, store.SaveTenant(ctx, rent.Tenant{ID: "t-2", Name: "Carol Verma"}))
	return store
}

var created = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newCharge(id, tenant, due, amount string) rent.Charge {
	created = created.Add(time.Millisecond)
	return rent.Charge{
		ID:         rent.ChargeID(id),
		TenantID:   rent.TenantID(tenant),
		Type:       rent.ChargeRent,
		Amount:     rent.MustAmount(amount),
		PeriodFrom: due[:7],
		PeriodTo:   due[:7],
		DueDate:    rent.MustDate(due),
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

// =============================================================================
// CHARGES
// =============================================================================

func TestStore_ChargesByTenant_FIFOOrderSurvivesUpdates(t *testing.T) {
	// GIVEN: Three charges stored out of due order
	store := newTestStore(t)
	ctx := context.Background()
	for _, c := range []rent.Charge{
		newCharge("c-water", "t-1", "2025-01-10", "200"),
		newCharge("c-rent", "t-1", "2025-01-05", "15000"),
		newCharge("c-elec", "t-1", "2025-01-10", "800"),
	} {
		require.NoError(t, store.SaveCharge(ctx, c))
	}

	// WHEN: The first one is updated
	water, err := store.GetCharge(ctx, "c-water")
	require.NoError(t, err)
	water.PaidAmount = rent.MustAmount("50.10")
	require.NoError(t, store.SaveCharge(ctx, *water))

	// THEN: Order is due date, then creation order
	charges, err := store.ChargesByTenant(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, charges, 3)
	assert.Equal(t, rent.ChargeID("c-rent"), charges[0].ID)
	assert.Equal(t, rent.ChargeID("c-water"), charges[1].ID)
	assert.Equal(t, rent.ChargeID("c-elec"), charges[2].ID)
	assert.Equal(t, "50.10", rent.FormatAmount(charges[1].PaidAmount))
	assert.Equal(t, rent.StatusPartial, charges[1].Status())
	assert.Equal(t, "2025-01-10", rent.DateKey(charges[1].DueDate))
}

func TestStore_ListCharges_FilterByStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	paid := newCharge("c-paid", "t-1", "2025-01-05", "100")
	paid.PaidAmount = rent.MustAmount("100")
	require.NoError(t, store.SaveCharge(ctx, paid))
	require.NoError(t, store.SaveCharge(ctx, newCharge("c-open", "t-1", "2025-02-05", "100")))
	require.NoError(t, store.SaveCharge(ctx, newCharge("c-other", "t-2", "2025-02-05", "100")))

	open, err := store.ListCharges(ctx, rent.ChargeFilter{TenantID: "t-1", Status: rent.StatusPending})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, rent.ChargeID("c-open"), open[0].ID)

	all, err := store.ListCharges(ctx, rent.ChargeFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_SaveCharge_UnknownTenant(t *testing.T) {
	store := newTestStore(t)

	err := store.SaveCharge(context.Background(), newCharge("c-1", "t-ghost", "2025-01-05", "100"))

	assert.ErrorIs(t, err, rent.ErrTenantNotFound)
}

func TestStore_GetCharge_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetCharge(context.Background(), "nope")

	assert.ErrorIs(t, err, rent.ErrChargeNotFound)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_WithTx_RollbackOnForeignKeyFailure(t *testing.T) {
	// GIVEN: One charge
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveCharge(ctx, newCharge("c-1", "t-1", "2025-01-05", "100")))

	// WHEN: A transaction writes a valid allocation, then one for a missing charge
	err := store.WithTx(ctx, func(tx rent.Repos) error {
		if err := tx.CreateAllocations(ctx, []rent.Allocation{
			{ID: "a-1", PaymentID: "p-1", ChargeID: "c-1", Amount: rent.MustAmount("10")},
		}); err != nil {
			return err
		}
		return tx.CreateAllocations(ctx, []rent.Allocation{
			{ID: "a-2", PaymentID: "p-1", ChargeID: "c-ghost", Amount: rent.MustAmount("10")},
		})
	})

	// THEN: The error maps to not-found and the first insert is gone too
	require.ErrorIs(t, err, rent.ErrChargeNotFound)
	allocs, err := store.AllocationsByPayment(ctx, "p-1")
	require.NoError(t, err)
	assert.Empty(t, allocs)
}

func TestStore_AllocatorRoundTrip(t *testing.T) {
	// GIVEN: The canonical three charges
	store := newTestStore(t)
	ctx := context.Background()
	for _, c := range []rent.Charge{
		newCharge("c-rent", "t-1", "2025-01-05", "15000"),
		newCharge("c-water", "t-1", "2025-01-10", "200"),
		newCharge("c-elec", "t-1", "2025-01-15", "800"),
	} {
		require.NoError(t, store.SaveCharge(ctx, c))
	}
	alloc := rent.NewAllocator(store)

	// WHEN: A payment of 20000 is recorded
	p, res, err := alloc.RecordPayment(ctx, rent.Payment{
		TenantID: "t-1",
		Amount:   rent.MustAmount("20000"),
		Date:     rent.MustDate("2025-01-20"),
	})

	// THEN: Everything is paid and 4000 is advance
	require.NoError(t, err)
	assert.Equal(t, 3, res.ChargesAffected)
	assert.Equal(t, "4000.00", rent.FormatAmount(res.AdvanceAmount))

	byCharge, err := store.AllocationsByCharges(ctx, []rent.ChargeID{"c-rent", "c-elec"})
	require.NoError(t, err)
	assert.Len(t, byCharge, 2)

	// AND: Removing the payment restores every charge and deletes the row
	require.NoError(t, alloc.RemovePayment(ctx, p.ID))
	charges, err := store.ChargesByTenant(ctx, "t-1")
	require.NoError(t, err)
	for _, c := range charges {
		assert.Equal(t, rent.StatusPending, c.Status(), c.ID)
		assert.True(t, c.PaidAmount.IsZero(), c.ID)
	}
	_, err = store.GetPayment(ctx, p.ID)
	assert.ErrorIs(t, err, rent.ErrPaymentNotFound)
	allocs, err := store.AllocationsByPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, allocs)
}

func TestStore_ApplyRollsBackOnFailedWrite(t *testing.T) {
	// GIVEN: A mocked database whose charge update fails mid-apply
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS properties").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := sqlite.NewFromDB(db)
	require.NoError(t, err)

	columns := []string{"id", "tenant_id", "type", "amount", "paid_amount",
		"period_from", "period_to", "due_date", "created_at", "updated_at"}
	row := []driver.Value{"c-1", "t-1", "RENT", "200.00", "0.00",
		"2025-01", "2025-01", "2025-01-05", "2025-01-01T00:00:00.000000000Z", "2025-01-01T00:00:00.000000000Z"}

	boom := errors.New("disk I/O error")
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM charges WHERE tenant_id = \\?").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(row...))
	mock.ExpectQuery("SELECT .+ FROM charges WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(row...))
	mock.ExpectExec("INSERT INTO allocations").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO charges").WillReturnError(boom)
	mock.ExpectRollback()

	// WHEN: A payment is applied
	_, err = rent.NewAllocator(store).ApplyPayment(context.Background(), "p-1", "t-1", rent.MustAmount("150"))

	// THEN: The error surfaces and the transaction is rolled back, not committed
	require.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MalformedTimestampIsAnError(t *testing.T) {
	// GIVEN: A charge row whose created_at is not a stored timestamp
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS properties").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := sqlite.NewFromDB(db)
	require.NoError(t, err)

	columns := []string{"id", "tenant_id", "type", "amount", "paid_amount",
		"period_from", "period_to", "due_date", "created_at", "updated_at"}
	mock.ExpectQuery("SELECT .+ FROM charges WHERE tenant_id = \\?").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"c-1", "t-1", "RENT", "200.00", "0.00",
			"2025-01", "2025-01", "2025-01-05", "last tuesday", "2025-01-01T00:00:00.000000000Z",
		))

	// WHEN: Loading the tenant's charges
	charges, err := store.ChargesByTenant(context.Background(), "t-1")

	// THEN: The row is rejected instead of sorting with a zero creation time
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed timestamp")
	assert.Nil(t, charges)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =============================================================================
// PAYMENTS & DIRECTORY
// =============================================================================

func TestStore_Payments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, p := range []rent.Payment{
		{ID: "pm-2", TenantID: "t-1", Amount: rent.MustAmount("0.1"), Date: rent.MustDate("2025-02-01"), CreatedAt: created},
		{ID: "pm-1", TenantID: "t-1", Amount: rent.MustAmount("500"), Date: rent.MustDate("2025-01-01"), CreatedAt: created},
		{ID: "pm-3", TenantID: "t-2", Amount: rent.MustAmount("70"), Date: rent.MustDate("2025-03-01"), CreatedAt: created},
	} {
		require.NoError(t, store.SavePayment(ctx, p))
	}

	byTenant, err := store.PaymentsByTenant(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, byTenant, 2)
	assert.Equal(t, rent.PaymentID("pm-1"), byTenant[0].ID)
	assert.Equal(t, "0.10", rent.FormatAmount(byTenant[1].Amount))

	newest, err := store.ListPayments(ctx, rent.PaymentFilter{})
	require.NoError(t, err)
	require.Len(t, newest, 3)
	assert.Equal(t, rent.PaymentID("pm-3"), newest[0].ID)

	err = store.SavePayment(ctx, rent.Payment{ID: "pm-1", TenantID: "t-1", Amount: rent.MustAmount("1"), Date: rent.MustDate("2025-01-01")})
	assert.ErrorIs(t, err, rent.ErrInvalidPayment)

	err = store.SavePayment(ctx, rent.Payment{ID: "pm-9", TenantID: "t-ghost", Amount: rent.MustAmount("1"), Date: rent.MustDate("2025-01-01")})
	assert.ErrorIs(t, err, rent.ErrTenantNotFound)

	require.NoError(t, store.DeletePayment(ctx, "pm-1"))
	assert.ErrorIs(t, store.DeletePayment(ctx, "pm-1"), rent.ErrPaymentNotFound)
}

func TestStore_Directory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	onProperty, err := store.TenantsByProperty(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, onProperty, 1)
	assert.Equal(t, "Alice Kumar", onProperty[0].Name)

	carol, err := store.GetTenant(ctx, "t-2")
	require.NoError(t, err)
	assert.Nil(t, carol.PropertyID)

	ghost := rent.PropertyID("p-ghost")
	err = store.SaveTenant(ctx, rent.Tenant{ID: "t-3", Name: "Bob", PropertyID: &ghost})
	assert.ErrorIs(t, err, rent.ErrPropertyNotFound)

	prop, err := store.GetProperty(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "12 MG Road", prop.Address)

	_, err = store.GetProperty(ctx, "p-ghost")
	assert.ErrorIs(t, err, rent.ErrPropertyNotFound)
}

func TestStore_Reset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveCharge(ctx, newCharge("c-1", "t-1", "2025-01-05", "100")))

	require.NoError(t, store.Reset(ctx))

	tenants, err := store.ListTenants(ctx)
	require.NoError(t, err)
	assert.Empty(t, tenants)
	props, err := store.ListProperties(ctx)
	require.NoError(t, err)
	assert.Empty(t, props)
}
