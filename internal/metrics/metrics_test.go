package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveCycle("sales", "ok", time.Second)
	m.PersistFailed()
	m.SetSectionTotal("reports", 3)
	m.StreamClientAdded(1)
	assert.Nil(t, m.Registry())
}

func TestCountersAndGauges(t *testing.T) {
	m := New()
	m.ObserveCycle("sales", "ok", 20*time.Millisecond)
	m.ObserveCycle("sales", "ok", 30*time.Millisecond)
	m.ObserveCycle("sales", "error", 30*time.Millisecond)
	m.PersistFailed()
	m.SetSectionTotal("reports", 7)
	m.BusDropped("notify.changed", 2)
	m.BusDropped("notify.changed", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.pollCycles.WithLabelValues("sales", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.persistFailures))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.sectionTotal.WithLabelValues("reports")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.busDropped.WithLabelValues("notify.changed")))
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New()
	m.DigestSent()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "stockpulse_digest_sent_total 1"))
}
