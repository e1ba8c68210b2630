// Package store provides an in-memory rent.TxStore.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/rent-ledger/rent"
)

// ErrReadOnly is returned by write methods called inside View.
var ErrReadOnly = errors.New("store: write in read-only view")

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type chargeRow struct {
	charge rent.Charge
	seq    int64
}

type paymentRow struct {
	payment rent.Payment
	seq     int64
}

// state holds every table. Its methods assume the caller holds the lock.
type state struct {
	charges     map[rent.ChargeID]chargeRow
	payments    map[rent.PaymentID]paymentRow
	allocations []rent.Allocation
	tenants     map[rent.TenantID]rent.Tenant
	properties  map[rent.PropertyID]rent.Property
	seq         int64
}

func newState() state {
	return state{
		charges:    make(map[rent.ChargeID]chargeRow),
		payments:   make(map[rent.PaymentID]paymentRow),
		tenants:    make(map[rent.TenantID]rent.Tenant),
		properties: make(map[rent.PropertyID]rent.Property),
	}
}

func (s *state) clone() state {
	c := state{
		charges:     make(map[rent.ChargeID]chargeRow, len(s.charges)),
		payments:    make(map[rent.PaymentID]paymentRow, len(s.payments)),
		allocations: append([]rent.Allocation(nil), s.allocations...),
		tenants:     make(map[rent.TenantID]rent.Tenant, len(s.tenants)),
		properties:  make(map[rent.PropertyID]rent.Property, len(s.properties)),
		seq:         s.seq,
	}
	for k, v := range s.charges {
		c.charges[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.tenants {
		c.tenants[k] = v
	}
	for k, v := range s.properties {
		c.properties[k] = v
	}
	return c
}

func (s *state) next() int64 {
	s.seq++
	return s.seq
}

// Memory is a rent.TxStore backed by maps.
type Memory struct {
	mu sync.RWMutex
	st state

	faults *faults
}

func NewMemory() *Memory {
	return &Memory{st: newState(), faults: newFaults()}
}

// Reset drops every row.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

// FailOn makes the nth call (1-based, counted from now) of the named
// repository method return err. Used to exercise rollback paths.
func (m *Memory) FailOn(op string, nth int, err error) {
	m.faults.set(op, nth, err)
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(rent.Repos) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := m.st.clone()
	if err := fn(&txView{st: &m.st, faults: m.faults}); err != nil {
		m.st = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// View executes fn under the read lock. Writes through the view fail.
func (m *Memory) View(ctx context.Context, fn func(rent.Repos) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(readView{&txView{st: &m.st, faults: m.faults}})
}

// =============================================================================
// NON-TRANSACTIONAL ACCESS - Each call is its own unit
// =============================================================================

func (m *Memory) write(fn func(*txView) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&txView{st: &m.st, faults: m.faults})
}

func (m *Memory) read(fn func(*txView) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&txView{st: &m.st, faults: m.faults})
}

func (m *Memory) ChargesByTenant(ctx context.Context, id rent.TenantID) (out []rent.Charge, err error) {
	err = m.read(func(v *txView) error { out, err = v.ChargesByTenant(ctx, id); return err })
	return out, err
}

func (m *Memory) GetCharge(ctx context.Context, id rent.ChargeID) (out *rent.Charge, err error) {
	err = m.read(func(v *txView) error { out, err = v.GetCharge(ctx, id); return err })
	return out, err
}

func (m *Memory) SaveCharge(ctx context.Context, c rent.Charge) error {
	return m.write(func(v *txView) error { return v.SaveCharge(ctx, c) })
}

func (m *Memory) ListCharges(ctx context.Context, f rent.ChargeFilter) (out []rent.Charge, err error) {
	err = m.read(func(v *txView) error { out, err = v.ListCharges(ctx, f); return err })
	return out, err
}

func (m *Memory) CreateAllocations(ctx context.Context, allocs []rent.Allocation) error {
	return m.write(func(v *txView) error { return v.CreateAllocations(ctx, allocs) })
}

func (m *Memory) AllocationsByPayment(ctx context.Context, id rent.PaymentID) (out []rent.Allocation, err error) {
	err = m.read(func(v *txView) error { out, err = v.AllocationsByPayment(ctx, id); return err })
	return out, err
}

func (m *Memory) AllocationsByCharges(ctx context.Context, ids []rent.ChargeID) (out []rent.Allocation, err error) {
	err = m.read(func(v *txView) error { out, err = v.AllocationsByCharges(ctx, ids); return err })
	return out, err
}

func (m *Memory) DeleteAllocationsByPayment(ctx context.Context, id rent.PaymentID) (n int, err error) {
	err = m.write(func(v *txView) error { n, err = v.DeleteAllocationsByPayment(ctx, id); return err })
	return n, err
}

func (m *Memory) SavePayment(ctx context.Context, p rent.Payment) error {
	return m.write(func(v *txView) error { return v.SavePayment(ctx, p) })
}

func (m *Memory) GetPayment(ctx context.Context, id rent.PaymentID) (out *rent.Payment, err error) {
	err = m.read(func(v *txView) error { out, err = v.GetPayment(ctx, id); return err })
	return out, err
}

func (m *Memory) PaymentsByTenant(ctx context.Context, id rent.TenantID) (out []rent.Payment, err error) {
	err = m.read(func(v *txView) error { out, err = v.PaymentsByTenant(ctx, id); return err })
	return out, err
}

func (m *Memory) DeletePayment(ctx context.Context, id rent.PaymentID) error {
	return m.write(func(v *txView) error { return v.DeletePayment(ctx, id) })
}

func (m *Memory) ListPayments(ctx context.Context, f rent.PaymentFilter) (out []rent.Payment, err error) {
	err = m.read(func(v *txView) error { out, err = v.ListPayments(ctx, f); return err })
	return out, err
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (m *Memory) SaveTenant(_ context.Context, t rent.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.PropertyID != nil {
		if _, ok := m.st.properties[*t.PropertyID]; !ok {
			return fmt.Errorf("tenant %s: %w", t.ID, rent.ErrPropertyNotFound)
		}
	}
	m.st.tenants[t.ID] = t
	return nil
}

func (m *Memory) GetTenant(_ context.Context, id rent.TenantID) (*rent.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.st.tenants[id]
	if !ok {
		return nil, rent.ErrTenantNotFound
	}
	return &t, nil
}

func (m *Memory) ListTenants(_ context.Context) ([]rent.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tenantsWhere(func(rent.Tenant) bool { return true }), nil
}

func (m *Memory) TenantsByProperty(_ context.Context, id rent.PropertyID) ([]rent.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tenantsWhere(func(t rent.Tenant) bool {
		return t.PropertyID != nil && *t.PropertyID == id
	}), nil
}

func (m *Memory) tenantsWhere(keep func(rent.Tenant) bool) []rent.Tenant {
	var out []rent.Tenant
	for _, t := range m.st.tenants {
		if keep(t) {
			out = append(out, t)
		}
	}
	rent.SortTenants(out)
	return out
}

func (m *Memory) SaveProperty(_ context.Context, p rent.Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.properties[p.ID] = p
	return nil
}

func (m *Memory) GetProperty(_ context.Context, id rent.PropertyID) (*rent.Property, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.st.properties[id]
	if !ok {
		return nil, rent.ErrPropertyNotFound
	}
	return &p, nil
}

func (m *Memory) ListProperties(_ context.Context) ([]rent.Property, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]rent.Property, 0, len(m.st.properties))
	for _, p := range m.st.properties {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// TRANSACTION VIEW - Unlocked access to the state
// =============================================================================

type txView struct {
	st     *state
	faults *faults
}

func (v *txView) ChargesByTenant(_ context.Context, id rent.TenantID) ([]rent.Charge, error) {
	if err := v.faults.check("ChargesByTenant"); err != nil {
		return nil, err
	}
	return v.chargesWhere(func(c rent.Charge) bool { return c.TenantID == id }), nil
}

func (v *txView) GetCharge(_ context.Context, id rent.ChargeID) (*rent.Charge, error) {
	if err := v.faults.check("GetCharge"); err != nil {
		return nil, err
	}
	row, ok := v.st.charges[id]
	if !ok {
		return nil, rent.ErrChargeNotFound
	}
	c := row.charge
	return &c, nil
}

func (v *txView) SaveCharge(_ context.Context, c rent.Charge) error {
	if err := v.faults.check("SaveCharge"); err != nil {
		return err
	}
	if _, ok := v.st.tenants[c.TenantID]; !ok {
		return fmt.Errorf("charge %s: %w", c.ID, rent.ErrTenantNotFound)
	}
	row, ok := v.st.charges[c.ID]
	if !ok {
		row.seq = v.st.next()
	}
	row.charge = c
	v.st.charges[c.ID] = row
	return nil
}

func (v *txView) ListCharges(_ context.Context, f rent.ChargeFilter) ([]rent.Charge, error) {
	if err := v.faults.check("ListCharges"); err != nil {
		return nil, err
	}
	return v.chargesWhere(f.Match), nil
}

// chargesWhere returns matching charges in FIFO order.
func (v *txView) chargesWhere(keep func(rent.Charge) bool) []rent.Charge {
	var rows []chargeRow
	for _, r := range v.st.charges {
		if keep(r.charge) {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		di, dj := rent.DateKey(rows[i].charge.DueDate), rent.DateKey(rows[j].charge.DueDate)
		if di != dj {
			return di < dj
		}
		if !rows[i].charge.CreatedAt.Equal(rows[j].charge.CreatedAt) {
			return rows[i].charge.CreatedAt.Before(rows[j].charge.CreatedAt)
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]rent.Charge, len(rows))
	for i, r := range rows {
		out[i] = r.charge
	}
	return out
}

func (v *txView) CreateAllocations(_ context.Context, allocs []rent.Allocation) error {
	if err := v.faults.check("CreateAllocations"); err != nil {
		return err
	}
	for _, a := range allocs {
		if _, ok := v.st.charges[a.ChargeID]; !ok {
			return fmt.Errorf("allocation %s: %w", a.ID, rent.ErrChargeNotFound)
		}
	}
	v.st.allocations = append(v.st.allocations, allocs...)
	return nil
}

func (v *txView) AllocationsByPayment(_ context.Context, id rent.PaymentID) ([]rent.Allocation, error) {
	if err := v.faults.check("AllocationsByPayment"); err != nil {
		return nil, err
	}
	var out []rent.Allocation
	for _, a := range v.st.allocations {
		if a.PaymentID == id {
			out = append(out, a)
		}
	}
	return out, nil
}

func (v *txView) AllocationsByCharges(_ context.Context, ids []rent.ChargeID) ([]rent.Allocation, error) {
	if err := v.faults.check("AllocationsByCharges"); err != nil {
		return nil, err
	}
	want := make(map[rent.ChargeID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []rent.Allocation
	for _, a := range v.st.allocations {
		if want[a.ChargeID] {
			out = append(out, a)
		}
	}
	return out, nil
}

func (v *txView) DeleteAllocationsByPayment(_ context.Context, id rent.PaymentID) (int, error) {
	if err := v.faults.check("DeleteAllocationsByPayment"); err != nil {
		return 0, err
	}
	kept := v.st.allocations[:0:0]
	for _, a := range v.st.allocations {
		if a.PaymentID != id {
			kept = append(kept, a)
		}
	}
	n := len(v.st.allocations) - len(kept)
	v.st.allocations = kept
	return n, nil
}

func (v *txView) SavePayment(_ context.Context, p rent.Payment) error {
	if err := v.faults.check("SavePayment"); err != nil {
		return err
	}
	if _, ok := v.st.tenants[p.TenantID]; !ok {
		return fmt.Errorf("payment %s: %w", p.ID, rent.ErrTenantNotFound)
	}
	row, ok := v.st.payments[p.ID]
	if !ok {
		row.seq = v.st.next()
	}
	row.payment = p
	v.st.payments[p.ID] = row
	return nil
}

func (v *txView) GetPayment(_ context.Context, id rent.PaymentID) (*rent.Payment, error) {
	if err := v.faults.check("GetPayment"); err != nil {
		return nil, err
	}
	row, ok := v.st.payments[id]
	if !ok {
		return nil, rent.ErrPaymentNotFound
	}
	p := row.payment
	return &p, nil
}

func (v *txView) PaymentsByTenant(_ context.Context, id rent.TenantID) ([]rent.Payment, error) {
	if err := v.faults.check("PaymentsByTenant"); err != nil {
		return nil, err
	}
	rows := v.paymentsWhere(rent.PaymentFilter{TenantID: id})
	out := make([]rent.Payment, len(rows))
	for i, r := range rows {
		out[i] = r.payment
	}
	return out, nil
}

func (v *txView) DeletePayment(_ context.Context, id rent.PaymentID) error {
	if err := v.faults.check("DeletePayment"); err != nil {
		return err
	}
	if _, ok := v.st.payments[id]; !ok {
		return rent.ErrPaymentNotFound
	}
	delete(v.st.payments, id)
	return nil
}

// ListPayments returns newest first.
func (v *txView) ListPayments(_ context.Context, f rent.PaymentFilter) ([]rent.Payment, error) {
	if err := v.faults.check("ListPayments"); err != nil {
		return nil, err
	}
	rows := v.paymentsWhere(f)
	out := make([]rent.Payment, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.payment
	}
	return out, nil
}

// paymentsWhere returns matching rows by date, then insertion order.
func (v *txView) paymentsWhere(f rent.PaymentFilter) []paymentRow {
	var rows []paymentRow
	for _, r := range v.st.payments {
		if f.Match(r.payment) {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		di, dj := rent.DateKey(rows[i].payment.Date), rent.DateKey(rows[j].payment.Date)
		if di != dj {
			return di < dj
		}
		return rows[i].seq < rows[j].seq
	})
	return rows
}

// readView rejects writes. Used by View, which only holds the read lock.
type readView struct {
	*txView
}

func (readView) SaveCharge(context.Context, rent.Charge) error              { return ErrReadOnly }
func (readView) CreateAllocations(context.Context, []rent.Allocation) error { return ErrReadOnly }
func (readView) SavePayment(context.Context, rent.Payment) error            { return ErrReadOnly }
func (readView) DeletePayment(context.Context, rent.PaymentID) error        { return ErrReadOnly }
func (readView) DeleteAllocationsByPayment(context.Context, rent.PaymentID) (int, error) {
	return 0, ErrReadOnly
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

type fault struct {
	countdown int
	err       error
}

type faults struct {
	mu sync.Mutex
	by map[string]*fault
}

func newFaults() *faults {
	return &faults{by: make(map[string]*fault)}
}

func (f *faults) set(op string, nth int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if nth < 1 {
		nth = 1
	}
	f.by[op] = &fault{countdown: nth, err: err}
}

func (f *faults) check(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ft, ok := f.by[op]
	if !ok {
		return nil
	}
	ft.countdown--
	if ft.countdown > 0 {
		return nil
	}
	delete(f.by, op)
	return ft.err
}
