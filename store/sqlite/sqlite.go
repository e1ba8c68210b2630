/*
Package sqlite provides a SQLite-backed rent.TxStore.

PURPOSE:
  Persists properties, tenants, charges, payments and allocations. Apply
  and reverse run inside a *sql.Tx; the transaction-scoped repositories
  passed to the allocator issue every statement on that tx.

KEY TABLES:
  properties:  Buildings or units tenants are assigned to
  tenants:     Residents, at most one property each (nullable FK)
  charges:     Obligations; paid_amount is the only column the allocator updates
  payments:    Money received
  allocations: Payment -> charge amounts (FK to charges only, so the engine
               can apply a payment whose row is owned by the caller)

MONEY:
  Amounts are stored as TEXT with exactly two decimals and scanned back
  into decimal.Decimal. Never REAL.

DATES:
  due_date and paid_on are YYYY-MM-DD. created_at / updated_at are
  fixed-width UTC timestamps, so text ordering is time ordering.

ORDERING:
  charges:     due_date, created_at, rowid  (FIFO)
  payments:    paid_on, created_at, rowid
  allocations: rowid (creation order)

CONCURRENCY:
  The pool is limited to one connection. SQLite allows a single writer and
  ":memory:" databases are per connection, so every statement and every
  transaction is serialized by database/sql itself.

USAGE:
  store, err := sqlite.New("./data/rent.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  alloc := rent.NewAllocator(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool with versioned migrations.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/rent-ledger/rent"
)

// timestampLayout is fixed width so that TEXT comparison orders by time.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Store implements rent.TxStore using SQLite.
type Store struct {
	repos
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store, err := NewFromDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewFromDB wraps an open handle and migrates the schema.
func NewFromDB(db *sql.DB) (*Store, error) {
	s := &Store{repos: repos{q: db}, db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS properties (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		property_id TEXT REFERENCES properties(id),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tenants_property ON tenants(property_id);

	CREATE TABLE IF NOT EXISTS charges (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES tenants(id),
		type TEXT NOT NULL CHECK (type IN ('RENT', 'WATER', 'ELECTRICITY', 'OTHER')),
		amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL DEFAULT '0.00',
		status TEXT NOT NULL CHECK (status IN ('PENDING', 'PARTIAL', 'PAID')),
		period_from TEXT NOT NULL,
		period_to TEXT NOT NULL,
		due_date TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	-- FIFO hot path
	CREATE INDEX IF NOT EXISTS idx_charges_tenant_due
		ON charges(tenant_id, due_date, created_at);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES tenants(id),
		amount TEXT NOT NULL,
		paid_on TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_payments_tenant_date ON payments(tenant_id, paid_on);

	CREATE TABLE IF NOT EXISTS allocations (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL,
		charge_id TEXT NOT NULL REFERENCES charges(id),
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_allocations_payment ON allocations(payment_id);
	CREATE INDEX IF NOT EXISTS idx_allocations_charge ON allocations(charge_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// TRANSACTIONS (rent.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction.
// If fn returns error, the transaction is rolled back.
func (s *Store) WithTx(ctx context.Context, fn func(rent.Repos) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&repos{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// View runs fn in a transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(rent.Repos) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	return fn(&repos{q: sqlTx})
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	// Children first, so foreign keys never dangle mid-reset.
	tables := []string{"allocations", "payments", "charges", "tenants", "properties"}
	for _, table := range tables {
		if _, err := sqlTx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return sqlTx.Commit()
}

// =============================================================================
// REPOSITORIES (rent.Repos) - Bound to either the pool or a tx
// =============================================================================

type repos struct {
	q querier
}

const chargeColumns = `id, tenant_id, type, amount, paid_amount, period_from, period_to, due_date, created_at, updated_at`

func (r *repos) ChargesByTenant(ctx context.Context, tenantID rent.TenantID) ([]rent.Charge, error) {
	return r.queryCharges(ctx,
		`SELECT `+chargeColumns+` FROM charges WHERE tenant_id = ? ORDER BY due_date, created_at, rowid`,
		tenantID,
	)
}

func (r *repos) GetCharge(ctx context.Context, id rent.ChargeID) (*rent.Charge, error) {
	rows, err := r.queryCharges(ctx, `SELECT `+chargeColumns+` FROM charges WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, rent.ErrChargeNotFound
	}
	return &rows[0], nil
}

// SaveCharge upserts. created_at and rowid survive updates, so FIFO order
// is stable across payments.
func (r *repos) SaveCharge(ctx context.Context, c rent.Charge) error {
	query := `
		INSERT INTO charges (` + chargeColumns + `, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			amount = excluded.amount,
			paid_amount = excluded.paid_amount,
			status = excluded.status,
			period_from = excluded.period_from,
			period_to = excluded.period_to,
			due_date = excluded.due_date,
			updated_at = excluded.updated_at
	`
	_, err := r.q.ExecContext(ctx, query,
		c.ID, c.TenantID, c.Type,
		rent.FormatAmount(c.Amount),
		rent.FormatAmount(c.PaidAmount),
		c.PeriodFrom, c.PeriodTo,
		rent.DateKey(c.DueDate),
		formatTimestamp(c.CreatedAt),
		formatTimestamp(c.UpdatedAt),
		c.Status(),
	)
	if isForeignKeyError(err) {
		return fmt.Errorf("charge %s: %w", c.ID, rent.ErrTenantNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to save charge %s: %w", c.ID, err)
	}
	return nil
}

func (r *repos) ListCharges(ctx context.Context, f rent.ChargeFilter) ([]rent.Charge, error) {
	var (
		where []string
		args  []any
	)
	if f.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + chargeColumns + ` FROM charges`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY due_date, created_at, rowid`
	return r.queryCharges(ctx, query, args...)
}

func (r *repos) queryCharges(ctx context.Context, query string, args ...any) ([]rent.Charge, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query charges: %w", err)
	}
	defer rows.Close()

	var charges []rent.Charge
	for rows.Next() {
		// Amounts scan straight into decimal.Decimal (sql.Scanner).
		var (
			c                             rent.Charge
			dueDate, createdAt, updatedAt string
		)
		if err := rows.Scan(
			&c.ID, &c.TenantID, &c.Type, &c.Amount, &c.PaidAmount,
			&c.PeriodFrom, &c.PeriodTo, &dueDate, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan charge: %w", err)
		}
		if c.DueDate, err = rent.ParseDate(dueDate); err != nil {
			return nil, fmt.Errorf("charge %s: %w", c.ID, err)
		}
		if c.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, fmt.Errorf("charge %s: %w", c.ID, err)
		}
		if c.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
			return nil, fmt.Errorf("charge %s: %w", c.ID, err)
		}
		charges = append(charges, c)
	}
	return charges, rows.Err()
}

// CreateAllocations inserts the batch. An unknown charge id fails the
// whole batch when called inside WithTx.
func (r *repos) CreateAllocations(ctx context.Context, allocs []rent.Allocation) error {
	for _, a := range allocs {
		_, err := r.q.ExecContext(ctx,
			`INSERT INTO allocations (id, payment_id, charge_id, amount, created_at) VALUES (?, ?, ?, ?, ?)`,
			a.ID, a.PaymentID, a.ChargeID, rent.FormatAmount(a.Amount), formatTimestamp(a.CreatedAt),
		)
		if isForeignKeyError(err) {
			return fmt.Errorf("allocation %s: %w", a.ID, rent.ErrChargeNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to create allocation %s: %w", a.ID, err)
		}
	}
	return nil
}

const allocationColumns = `id, payment_id, charge_id, amount, created_at`

func (r *repos) AllocationsByPayment(ctx context.Context, paymentID rent.PaymentID) ([]rent.Allocation, error) {
	return r.queryAllocations(ctx,
		`SELECT `+allocationColumns+` FROM allocations WHERE payment_id = ? ORDER BY rowid`,
		paymentID,
	)
}

func (r *repos) AllocationsByCharges(ctx context.Context, chargeIDs []rent.ChargeID) ([]rent.Allocation, error) {
	if len(chargeIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chargeIDs)), ", ")
	args := make([]any, len(chargeIDs))
	for i, id := range chargeIDs {
		args[i] = id
	}
	return r.queryAllocations(ctx,
		`SELECT `+allocationColumns+` FROM allocations WHERE charge_id IN (`+placeholders+`) ORDER BY rowid`,
		args...,
	)
}

func (r *repos) DeleteAllocationsByPayment(ctx context.Context, paymentID rent.PaymentID) (int, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM allocations WHERE payment_id = ?`, paymentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete allocations for payment %s: %w", paymentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *repos) queryAllocations(ctx context.Context, query string, args ...any) ([]rent.Allocation, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var allocs []rent.Allocation
	for rows.Next() {
		var (
			a         rent.Allocation
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.PaymentID, &a.ChargeID, &a.Amount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		if a.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, fmt.Errorf("allocation %s: %w", a.ID, err)
		}
		allocs = append(allocs, a)
	}
	return allocs, rows.Err()
}

func (r *repos) SavePayment(ctx context.Context, p rent.Payment) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO payments (id, tenant_id, amount, paid_on, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.TenantID, rent.FormatAmount(p.Amount), rent.DateKey(p.Date), formatTimestamp(p.CreatedAt),
	)
	switch {
	case isForeignKeyError(err):
		return fmt.Errorf("payment %s: %w", p.ID, rent.ErrTenantNotFound)
	case isUniqueConstraintError(err):
		return fmt.Errorf("%w: payment %s already exists", rent.ErrInvalidPayment, p.ID)
	case err != nil:
		return fmt.Errorf("failed to save payment %s: %w", p.ID, err)
	}
	return nil
}

const paymentColumns = `id, tenant_id, amount, paid_on, created_at`

func (r *repos) GetPayment(ctx context.Context, id rent.PaymentID) (*rent.Payment, error) {
	rows, err := r.queryPayments(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, rent.ErrPaymentNotFound
	}
	return &rows[0], nil
}

func (r *repos) PaymentsByTenant(ctx context.Context, tenantID rent.TenantID) ([]rent.Payment, error) {
	return r.queryPayments(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE tenant_id = ? ORDER BY paid_on, created_at, rowid`,
		tenantID,
	)
}

func (r *repos) DeletePayment(ctx context.Context, id rent.PaymentID) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM payments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete payment %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return rent.ErrPaymentNotFound
	}
	return nil
}

// ListPayments returns newest first.
func (r *repos) ListPayments(ctx context.Context, f rent.PaymentFilter) ([]rent.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments`
	var args []any
	if f.TenantID != "" {
		query += ` WHERE tenant_id = ?`
		args = append(args, f.TenantID)
	}
	query += ` ORDER BY paid_on DESC, created_at DESC, rowid DESC`
	return r.queryPayments(ctx, query, args...)
}

func (r *repos) queryPayments(ctx context.Context, query string, args ...any) ([]rent.Payment, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []rent.Payment
	for rows.Next() {
		var (
			p                 rent.Payment
			paidOn, createdAt string
		)
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Amount, &paidOn, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		if p.Date, err = rent.ParseDate(paidOn); err != nil {
			return nil, fmt.Errorf("payment %s: %w", p.ID, err)
		}
		if p.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, fmt.Errorf("payment %s: %w", p.ID, err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// =============================================================================
// DIRECTORY (rent.Directory)
// =============================================================================

func (s *Store) SaveProperty(ctx context.Context, p rent.Property) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO properties (id, name, address, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			address = excluded.address
	`, p.ID, p.Name, p.Address, formatTimestamp(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save property %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) GetProperty(ctx context.Context, id rent.PropertyID) (*rent.Property, error) {
	props, err := s.queryProperties(ctx, `SELECT id, name, address, created_at FROM properties WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(props) == 0 {
		return nil, rent.ErrPropertyNotFound
	}
	return &props[0], nil
}

func (s *Store) ListProperties(ctx context.Context) ([]rent.Property, error) {
	return s.queryProperties(ctx, `SELECT id, name, address, created_at FROM properties ORDER BY name, id`)
}

func (s *Store) queryProperties(ctx context.Context, query string, args ...any) ([]rent.Property, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query properties: %w", err)
	}
	defer rows.Close()

	var props []rent.Property
	for rows.Next() {
		var (
			p         rent.Property
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Address, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan property: %w", err)
		}
		if p.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, fmt.Errorf("property %s: %w", p.ID, err)
		}
		props = append(props, p)
	}
	return props, rows.Err()
}

func (s *Store) SaveTenant(ctx context.Context, t rent.Tenant) error {
	var propertyID sql.NullString
	if t.PropertyID != nil {
		propertyID = nullString(string(*t.PropertyID))
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, property_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			property_id = excluded.property_id,
			updated_at = excluded.updated_at
	`, t.ID, t.Name, propertyID, formatTimestamp(t.CreatedAt), formatTimestamp(t.UpdatedAt))
	if isForeignKeyError(err) {
		return fmt.Errorf("tenant %s: %w", t.ID, rent.ErrPropertyNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to save tenant %s: %w", t.ID, err)
	}
	return nil
}

const tenantColumns = `id, name, property_id, created_at, updated_at`

func (s *Store) GetTenant(ctx context.Context, id rent.TenantID) (*rent.Tenant, error) {
	tenants, err := s.queryTenants(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(tenants) == 0 {
		return nil, rent.ErrTenantNotFound
	}
	return &tenants[0], nil
}

func (s *Store) ListTenants(ctx context.Context) ([]rent.Tenant, error) {
	return s.queryTenants(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY name, id`)
}

func (s *Store) TenantsByProperty(ctx context.Context, propertyID rent.PropertyID) ([]rent.Tenant, error) {
	return s.queryTenants(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE property_id = ? ORDER BY name, id`,
		propertyID,
	)
}

func (s *Store) queryTenants(ctx context.Context, query string, args ...any) ([]rent.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []rent.Tenant
	for rows.Next() {
		var (
			t                    rent.Tenant
			propertyID           sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&t.ID, &t.Name, &propertyID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		if propertyID.Valid {
			pid := rent.PropertyID(propertyID.String)
			t.PropertyID = &pid
		}
		if t.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, fmt.Errorf("tenant %s: %w", t.ID, err)
		}
		if t.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
			return nil, fmt.Errorf("tenant %s: %w", t.ID, err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed timestamp %q: %w", s, err)
	}
	return t, nil
}

func isForeignKeyError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}
