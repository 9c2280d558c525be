package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("GET", "/", 200, time.Millisecond)
		m.JournalAppended("create")
		m.IndexOutcome("acked")
		m.IndexRetried()
		m.StoreSynced("a", "ok")
		m.SetSchemaTypes(3)
	})
}

func TestCounters(t *testing.T) {
	m := New("data")

	m.JournalAppended("create")
	m.JournalAppended("create")
	m.JournalAppended("delete")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.journalEntries.WithLabelValues("create")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.journalEntries.WithLabelValues("delete")))

	m.IndexRetried()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.indexRetries))

	m.SetSchemaTypes(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.schemaTypes))
}

func TestHandlerExposesSeries(t *testing.T) {
	m := New("inventory")
	m.ObserveRequest("GET", "/schema", 200, 5*time.Millisecond)
	m.StoreSynced("vm-store", "ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `unitao_http_requests_total{code="200",method="GET",route="/schema",service="inventory"} 1`)
	assert.Contains(t, body, `unitao_federation_store_syncs_total{outcome="ok",service="inventory",store="vm-store"} 1`)
}
