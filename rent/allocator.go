/*
allocator.go - FIFO payment allocation and exact reversal

PURPOSE:
  Applies an incoming payment to a tenant's outstanding charges, oldest
  obligation first, and undoes exactly that work when the payment is
  removed. This is the only code that changes a charge's paid amount.

APPLY (ApplyPayment):
  1. Load the tenant's charges in FIFO order (due date, then creation order)
  2. Walk them with remaining = round2(amount); each charge with a positive
     balance absorbs round2(min(remaining, balance))
  3. Whatever is left after the walk is the advance amount
  4. For each planned allocation, in plan order: create the Allocation,
     add to the charge's paid amount, save the charge
  Steps 1-4 run inside one TxStore.WithTx. Either everything commits or
  nothing does.

REVERSE (ReversePayment):
  Load the payment's allocations in creation order, subtract each from its
  charge, save, then delete the allocations. One transaction. A payment
  with no allocations reverses as a no-op.

ADVANCE AMOUNT:
  Money left after every charge is satisfied is reported in ApplyResult and
  in the payment_applied audit event. It is not rolled forward to charges
  created later; the ledger shows the full credit instead.

CONCURRENCY:
  Each apply/reverse holds a per-tenant lock around read-plan-write, in
  addition to the store transaction. Two payments for the same tenant can
  never both read the same balance and over-allocate. A cancelled context
  aborts the transaction before the next write.

AUDIT:
  Charge adjustment events are buffered during the transaction and only
  emitted after commit, so a rolled-back unit never logs a success. Every
  failure path logs one failure event before returning the error.

SEE ALSO:
  - store.go: Repos / TxStore contract
  - audit.go: Event payloads
  - ledger.go: Read-only reconstruction
*/
package rent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// RESULT TYPES
// =============================================================================

// ApplyResult reports what one payment application did.
type ApplyResult struct {
	ChargesAffected int
	AdvanceAmount   decimal.Decimal
	Allocations     []Allocation
}

// PlannedAllocation is one step of a FIFO plan, before anything is written.
type PlannedAllocation struct {
	ChargeID ChargeID
	Amount   decimal.Decimal
}

// =============================================================================
// FIFO PLANNING - Pure function, no I/O
// =============================================================================

// SortFIFO orders charges by due date, ties by creation time. The sort is
// stable, so charges with identical keys keep the order they were loaded in.
func SortFIFO(charges []Charge) {
	sort.SliceStable(charges, func(i, j int) bool {
		di, dj := DateKey(charges[i].DueDate), DateKey(charges[j].DueDate)
		if di != dj {
			return di < dj
		}
		return charges[i].CreatedAt.Before(charges[j].CreatedAt)
	})
}

// PlanAllocations walks charges oldest-first and returns the planned
// allocations and the advance amount left over.
func PlanAllocations(charges []Charge, amount decimal.Decimal) ([]PlannedAllocation, decimal.Decimal) {
	ordered := make([]Charge, len(charges))
	copy(ordered, charges)
	SortFIFO(ordered)

	remaining := Round2(amount)
	var plan []PlannedAllocation
	for _, c := range ordered {
		if !remaining.IsPositive() {
			break
		}
		balance := c.Balance()
		if !balance.IsPositive() {
			continue
		}
		apply := Round2(decimal.Min(remaining, balance))
		if apply.IsPositive() {
			plan = append(plan, PlannedAllocation{ChargeID: c.ID, Amount: apply})
			remaining = Round2(remaining.Sub(apply))
		}
	}

	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return plan, remaining
}

// =============================================================================
// ALLOCATOR
// =============================================================================

// Recorder receives allocator metrics. observability.Metrics implements it.
type Recorder interface {
	ObserveOperation(operation string, success bool, d time.Duration)
	ObserveApplied(allocations int, advance decimal.Decimal)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, bool, time.Duration) {}
func (nopRecorder) ObserveApplied(int, decimal.Decimal) {}

const (
	OpApply   = "apply"
	OpReverse = "reverse"
	OpRecord  = "record"
	OpRemove  = "remove"
)

// Allocator applies and reverses payments against a TxStore.
type Allocator struct {
	store   TxStore
	locks   *tenantLocks
	audit   auditor
	metrics Recorder
	now     func() time.Time
	newID   func() string
}

type AllocatorOption func(*Allocator)

// WithLogger sets the audit sink. Events go to a child logger named "audit".
func WithLogger(log *zap.Logger) AllocatorOption {
	return func(a *Allocator) { a.audit = auditor{log: log.Named("audit")} }
}

func WithMetrics(r Recorder) AllocatorOption {
	return func(a *Allocator) { a.metrics = r }
}

func WithClock(now func() time.Time) AllocatorOption {
	return func(a *Allocator) { a.now = now }
}

func WithIDGenerator(gen func() string) AllocatorOption {
	return func(a *Allocator) { a.newID = gen }
}

func NewAllocator(store TxStore, opts ...AllocatorOption) *Allocator {
	a := &Allocator{
		store:   store,
		locks:   newTenantLocks(),
		audit:   auditor{log: zap.NewNop()},
		metrics: nopRecorder{},
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ApplyPayment allocates amount to the tenant's outstanding charges, FIFO.
// On error nothing was written and the payment must not be treated as applied.
func (a *Allocator) ApplyPayment(ctx context.Context, paymentID PaymentID, tenantID TenantID, amount decimal.Decimal) (ApplyResult, error) {
	started := time.Now()
	unlock := a.locks.lock(tenantID)
	defer unlock()

	var (
		res    ApplyResult
		events []AuditEvent
	)
	err := a.store.WithTx(ctx, func(tx Repos) error {
		var err error
		res, events, err = a.apply(ctx, tx, paymentID, tenantID, amount)
		return err
	})
	return a.finishApply(OpApply, paymentID, tenantID, amount, res, events, err, started)
}

// RecordPayment saves a new payment row and applies it in the same
// transaction. An empty ID is filled in.
func (a *Allocator) RecordPayment(ctx context.Context, p Payment) (Payment, ApplyResult, error) {
	started := time.Now()
	if p.ID == "" {
		p.ID = PaymentID(a.newID())
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = a.now()
	}
	p.Amount = Round2(p.Amount)
	if err := p.Validate(); err != nil {
		_, err = a.finishApply(OpRecord, p.ID, p.TenantID, p.Amount, ApplyResult{}, nil, err, started)
		return p, ApplyResult{}, err
	}

	unlock := a.locks.lock(p.TenantID)
	defer unlock()

	var (
		res    ApplyResult
		events []AuditEvent
	)
	err := a.store.WithTx(ctx, func(tx Repos) error {
		if err := tx.SavePayment(ctx, p); err != nil {
			return fmt.Errorf("save payment %s: %w", p.ID, err)
		}
		var err error
		res, events, err = a.apply(ctx, tx, p.ID, p.TenantID, p.Amount)
		return err
	})
	res, err = a.finishApply(OpRecord, p.ID, p.TenantID, p.Amount, res, events, err, started)
	return p, res, err
}

func (a *Allocator) apply(ctx context.Context, tx Repos, paymentID PaymentID, tenantID TenantID, amount decimal.Decimal) (ApplyResult, []AuditEvent, error) {
	charges, err := tx.ChargesByTenant(ctx, tenantID)
	if err != nil {
		return ApplyResult{}, nil, fmt.Errorf("load charges for tenant %s: %w", tenantID, err)
	}

	plan, advance := PlanAllocations(charges, amount)
	res := ApplyResult{AdvanceAmount: advance}
	events := make([]AuditEvent, 0, len(plan))
	now := a.now()

	for _, step := range plan {
		if err := ctx.Err(); err != nil {
			return ApplyResult{}, nil, err
		}

		charge, err := tx.GetCharge(ctx, step.ChargeID)
		if errors.Is(err, ErrChargeNotFound) {
			return ApplyResult{}, nil, &ConsistencyError{PaymentID: paymentID, ChargeID: step.ChargeID}
		}
		if err != nil {
			return ApplyResult{}, nil, fmt.Errorf("load charge %s: %w", step.ChargeID, err)
		}

		before := Round2(charge.PaidAmount)
		beforeStatus := charge.Status()
		after := Round2(before.Add(step.Amount))
		if after.GreaterThan(Round2(charge.Amount)) {
			return ApplyResult{}, nil, &PaidRangeError{ChargeID: charge.ID, Amount: charge.Amount, Paid: after}
		}

		alloc := Allocation{
			ID:        AllocationID(a.newID()),
			PaymentID: paymentID,
			ChargeID:  charge.ID,
			Amount:    step.Amount,
			CreatedAt: now,
		}
		if err := tx.CreateAllocations(ctx, []Allocation{alloc}); err != nil {
			return ApplyResult{}, nil, fmt.Errorf("create allocation for charge %s: %w", charge.ID, err)
		}

		charge.PaidAmount = after
		charge.UpdatedAt = now
		if err := tx.SaveCharge(ctx, *charge); err != nil {
			return ApplyResult{}, nil, fmt.Errorf("save charge %s: %w", charge.ID, err)
		}

		res.Allocations = append(res.Allocations, alloc)
		events = append(events, AuditEvent{
			Event:        EventChargeAdjustment,
			PaymentID:    paymentID,
			ChargeID:     charge.ID,
			TenantID:     tenantID,
			BeforePaid:   amountPtr(before),
			AfterPaid:    amountPtr(after),
			Applied:      amountPtr(step.Amount),
			StatusChange: fmt.Sprintf("%s -> %s", beforeStatus, charge.Status()),
			Success:      true,
		})
	}

	res.ChargesAffected = len(res.Allocations)
	return res, events, nil
}

func (a *Allocator) finishApply(op string, paymentID PaymentID, tenantID TenantID, amount decimal.Decimal,
	res ApplyResult, events []AuditEvent, err error, started time.Time) (ApplyResult, error) {
	a.metrics.ObserveOperation(op, err == nil, time.Since(started))
	if err != nil {
		a.audit.emit(AuditEvent{
			Event:     EventPaymentApplyFailure,
			PaymentID: paymentID,
			TenantID:  tenantID,
			Amount:    amountPtr(amount),
			Success:   false,
			Err:       err,
		})
		return ApplyResult{}, err
	}

	total := decimal.Zero
	for _, alloc := range res.Allocations {
		total = total.Add(alloc.Amount)
	}

	a.audit.emitAll(events)
	applied := AuditEvent{
		Event:           EventPaymentApplied,
		PaymentID:       paymentID,
		TenantID:        tenantID,
		Amount:          amountPtr(amount),
		Applied:         amountPtr(total),
		ChargesAffected: res.ChargesAffected,
		Success:         true,
	}
	if res.AdvanceAmount.IsPositive() {
		applied.Advance = amountPtr(res.AdvanceAmount)
	}
	a.audit.emit(applied)
	a.metrics.ObserveApplied(res.ChargesAffected, res.AdvanceAmount)
	return res, nil
}

// ReversePayment undoes every allocation of a payment and deletes them.
// Applying then reversing a payment restores each touched charge exactly.
func (a *Allocator) ReversePayment(ctx context.Context, paymentID PaymentID) error {
	started := time.Now()
	tenantID, err := a.tenantOf(ctx, paymentID)
	if err != nil {
		return a.finishReverse(OpReverse, paymentID, tenantID, 0, nil, err, started)
	}
	if tenantID != "" {
		unlock := a.locks.lock(tenantID)
		defer unlock()
	}

	var (
		count  int
		events []AuditEvent
	)
	err = a.store.WithTx(ctx, func(tx Repos) error {
		var err error
		count, events, err = a.reverse(ctx, tx, paymentID)
		return err
	})
	return a.finishReverse(OpReverse, paymentID, tenantID, count, events, err, started)
}

// RemovePayment reverses a payment and deletes its row in one transaction.
func (a *Allocator) RemovePayment(ctx context.Context, paymentID PaymentID) error {
	started := time.Now()
	p, err := a.store.GetPayment(ctx, paymentID)
	if err != nil {
		return a.finishReverse(OpRemove, paymentID, "", 0, nil, err, started)
	}

	unlock := a.locks.lock(p.TenantID)
	defer unlock()

	var (
		count  int
		events []AuditEvent
	)
	err = a.store.WithTx(ctx, func(tx Repos) error {
		var err error
		count, events, err = a.reverse(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if err := tx.DeletePayment(ctx, paymentID); err != nil {
			return fmt.Errorf("delete payment %s: %w", paymentID, err)
		}
		return nil
	})
	return a.finishReverse(OpRemove, paymentID, p.TenantID, count, events, err, started)
}

func (a *Allocator) reverse(ctx context.Context, tx Repos, paymentID PaymentID) (int, []AuditEvent, error) {
	allocs, err := tx.AllocationsByPayment(ctx, paymentID)
	if err != nil {
		return 0, nil, fmt.Errorf("load allocations for payment %s: %w", paymentID, err)
	}

	events := make([]AuditEvent, 0, len(allocs))
	now := a.now()
	for _, alloc := range allocs {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}

		charge, err := tx.GetCharge(ctx, alloc.ChargeID)
		if errors.Is(err, ErrChargeNotFound) {
			return 0, nil, &ConsistencyError{PaymentID: paymentID, ChargeID: alloc.ChargeID}
		}
		if err != nil {
			return 0, nil, fmt.Errorf("load charge %s: %w", alloc.ChargeID, err)
		}

		before := Round2(charge.PaidAmount)
		beforeStatus := charge.Status()
		after := Round2(before.Sub(alloc.Amount))
		if after.IsNegative() {
			return 0, nil, &PaidRangeError{ChargeID: charge.ID, Amount: charge.Amount, Paid: after}
		}

		charge.PaidAmount = after
		charge.UpdatedAt = now
		if err := tx.SaveCharge(ctx, *charge); err != nil {
			return 0, nil, fmt.Errorf("save charge %s: %w", charge.ID, err)
		}

		events = append(events, AuditEvent{
			Event:        EventChargeAdjustmentReversal,
			PaymentID:    paymentID,
			ChargeID:     charge.ID,
			TenantID:     charge.TenantID,
			BeforePaid:   amountPtr(before),
			AfterPaid:    amountPtr(after),
			Reversed:     amountPtr(alloc.Amount),
			StatusChange: fmt.Sprintf("%s -> %s", beforeStatus, charge.Status()),
			Success:      true,
		})
	}

	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	if _, err := tx.DeleteAllocationsByPayment(ctx, paymentID); err != nil {
		return 0, nil, fmt.Errorf("delete allocations for payment %s: %w", paymentID, err)
	}
	return len(allocs), events, nil
}

func (a *Allocator) finishReverse(op string, paymentID PaymentID, tenantID TenantID, count int,
	events []AuditEvent, err error, started time.Time) error {
	a.metrics.ObserveOperation(op, err == nil, time.Since(started))
	if err != nil {
		a.audit.emit(AuditEvent{
			Event:     EventPaymentReversalFailure,
			PaymentID: paymentID,
			TenantID:  tenantID,
			Success:   false,
			Err:       err,
		})
		return err
	}

	total := decimal.Zero
	for _, e := range events {
		if e.Reversed != nil {
			total = total.Add(*e.Reversed)
		}
	}

	a.audit.emitAll(events)
	a.audit.emit(AuditEvent{
		Event:           EventPaymentReversed,
		PaymentID:       paymentID,
		TenantID:        tenantID,
		Reversed:        amountPtr(total),
		ChargesAffected: count,
		Success:         true,
	})
	return nil
}

// tenantOf resolves which tenant a payment belongs to, for locking. It
// prefers the payment row and falls back to the first allocated charge.
// An empty result means there is nothing to lock.
func (a *Allocator) tenantOf(ctx context.Context, paymentID PaymentID) (TenantID, error) {
	p, err := a.store.GetPayment(ctx, paymentID)
	if err == nil {
		return p.TenantID, nil
	}
	if !errors.Is(err, ErrPaymentNotFound) {
		return "", fmt.Errorf("load payment %s: %w", paymentID, err)
	}

	allocs, err := a.store.AllocationsByPayment(ctx, paymentID)
	if err != nil {
		return "", fmt.Errorf("load allocations for payment %s: %w", paymentID, err)
	}
	if len(allocs) == 0 {
		return "", nil
	}
	charge, err := a.store.GetCharge(ctx, allocs[0].ChargeID)
	if errors.Is(err, ErrChargeNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load charge %s: %w", allocs[0].ChargeID, err)
	}
	return charge.TenantID, nil
}
