package rent

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// AUDIT EVENTS
// =============================================================================

// AuditEventType names one kind of audit record.
type AuditEventType string

const (
	EventChargeAdjustment         AuditEventType = "charge_adjustment"
	EventChargeAdjustmentReversal AuditEventType = "charge_adjustment_reversal"
	EventPaymentApplied           AuditEventType = "payment_applied"
	EventPaymentReversed          AuditEventType = "payment_reversed"
	EventPaymentApplyFailure      AuditEventType = "payment_apply_failure"
	EventPaymentReversalFailure   AuditEventType = "payment_reversal_failure"
)

// AuditEvent is one structured audit record. Optional amounts are nil when
// they do not apply to the event.
type AuditEvent struct {
	Event           AuditEventType
	PaymentID       PaymentID
	ChargeID        ChargeID
	TenantID        TenantID
	BeforePaid      *decimal.Decimal
	AfterPaid       *decimal.Decimal
	Applied         *decimal.Decimal
	Reversed        *decimal.Decimal
	Amount          *decimal.Decimal
	Advance         *decimal.Decimal
	StatusChange    string
	ChargesAffected int
	Success         bool
	Err             error
}

func (e AuditEvent) fields() []zap.Field {
	fields := []zap.Field{
		zap.String("event", string(e.Event)),
		zap.String("payment_id", string(e.PaymentID)),
	}
	if e.ChargeID != "" {
		fields = append(fields, zap.String("charge_id", string(e.ChargeID)))
	}
	if e.TenantID != "" {
		fields = append(fields, zap.String("tenant_id", string(e.TenantID)))
	}
	fields = appendAmount(fields, "before_paid_amount", e.BeforePaid)
	fields = appendAmount(fields, "after_paid_amount", e.AfterPaid)
	fields = appendAmount(fields, "applied_amount", e.Applied)
	fields = appendAmount(fields, "reversed_amount", e.Reversed)
	fields = appendAmount(fields, "amount", e.Amount)
	fields = appendAmount(fields, "advance_amount", e.Advance)
	if e.StatusChange != "" {
		fields = append(fields, zap.String("status_change", e.StatusChange))
	}
	switch e.Event {
	case EventPaymentApplied, EventPaymentReversed:
		fields = append(fields, zap.Int("charges_affected", e.ChargesAffected))
	}
	fields = append(fields, zap.Bool("success", e.Success))
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}
	return fields
}

func appendAmount(fields []zap.Field, key string, d *decimal.Decimal) []zap.Field {
	if d == nil {
		return fields
	}
	return append(fields, zap.String(key, FormatAmount(*d)))
}

func amountPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// auditor writes audit events to a zap logger.
type auditor struct {
	log *zap.Logger
}

func (a auditor) emit(e AuditEvent) {
	msg := auditMessages[e.Event]
	if e.Success {
		a.log.Info(msg, e.fields()...)
		return
	}
	a.log.Error(msg, e.fields()...)
}

func (a auditor) emitAll(events []AuditEvent) {
	for _, e := range events {
		a.emit(e)
	}
}

var auditMessages = map[AuditEventType]string{
	EventChargeAdjustment:         "charge adjustment",
	EventChargeAdjustmentReversal: "charge adjustment (reversal)",
	EventPaymentApplied:           "payment applied",
	EventPaymentReversed:          "payment reversed",
	EventPaymentApplyFailure:      "payment application failed",
	EventPaymentReversalFailure:   "payment reversal failed",
}
