package observability_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/rent-ledger/observability"
	"github.com/warp/rent-ledger/rent"
)

var _ rent.Recorder = (*observability.Metrics)(nil)

func TestNewLogger(t *testing.T) {
	log, err := observability.NewLogger("info", "json")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))

	log, err = observability.NewLogger("debug", "json")
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))

	_, err = observability.NewLogger("loud", "json")
	assert.Error(t, err)
}

func TestRequestLogger_LevelByStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := chi.NewRouter()
	r.Use(observability.RequestLogger(zap.New(core)))
	r.Get("/ok", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) })
	r.Get("/broken", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusInternalServerError) })

	for _, path := range []string{"/ok", "/missing", "/broken"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "/missing", entries[1].ContextMap()["path"])
	assert.Equal(t, int64(404), entries[1].ContextMap()["status"])
}

func TestMetrics_RecordsOperations(t *testing.T) {
	m := observability.NewMetrics()

	m.ObserveOperation(rent.OpApply, true, 10*time.Millisecond)
	m.ObserveOperation(rent.OpApply, false, time.Millisecond)
	m.ObserveApplied(3, rent.MustAmount("4000"))

	expected := `
# HELP rent_advance_amount_total Payment money left unallocated after all charges were paid.
# TYPE rent_advance_amount_total counter
rent_advance_amount_total 4000
# HELP rent_allocations_total Allocations created by applied payments.
# TYPE rent_allocations_total counter
rent_allocations_total 3
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry, strings.NewReader(expected),
		"rent_allocations_total", "rent_advance_amount_total"))

	series, err := testutil.GatherAndCount(m.Registry, "rent_payment_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, series)
}

func TestMetrics_Handler(t *testing.T) {
	m := observability.NewMetrics()
	m.ObserveOperation(rent.OpReverse, true, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `rent_payment_operations_total{operation="reverse",outcome="success"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
