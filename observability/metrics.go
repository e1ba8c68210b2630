package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics holds the ledger's Prometheus metrics and implements
// rent.Recorder.
type Metrics struct {
	// Registry owns every collector below. It is not the global default, so
	// tests can build several Metrics without duplicate-registration panics.
	Registry *prometheus.Registry

	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	allocations prometheus.Counter
	advance     prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rent_payment_operations_total",
				Help: "Payment apply/reverse operations by outcome.",
			},
			[]string{"operation", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rent_payment_operation_duration_seconds",
				Help:    "Duration of payment operations, lock wait included.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		allocations: factory.NewCounter(prometheus.CounterOpts{
			Name: "rent_allocations_total",
			Help: "Allocations created by applied payments.",
		}),
		advance: factory.NewCounter(prometheus.CounterOpts{
			Name: "rent_advance_amount_total",
			Help: "Payment money left unallocated after all charges were paid.",
		}),
	}
}

func (m *Metrics) ObserveOperation(operation string, success bool, d time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) ObserveApplied(allocations int, advance decimal.Decimal) {
	m.allocations.Add(float64(allocations))
	if advance.IsPositive() {
		m.advance.Add(advance.InexactFloat64())
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
