package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	m := New("test")
	require.NotNil(t, m.Registry())

	m.ObserveSync(true, 3, 20*time.Millisecond)
	m.ObserveSync(false, 0, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncsTotal.WithLabelValues("failure")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ElementsSynced))

	m.SetDevices(4, 2)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.DevicesDiscovered))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DevicesConnected))

	m.AddConflicts(2)
	m.AddConflicts(-1)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConflictsTotal))

	m.ObserveUnlock(false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnlockAttempts.WithLabelValues("failure")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveSync(true, 1, time.Second)
	m.ObserveUnlock(true)
	m.SetDevices(1, 1)
	m.SetPending(1)
	m.AddConflicts(1)
	m.EventDropped()

	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	rec := httptest.NewRecorder()
	Middleware(nil)(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := New("test")
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/entries/abc-123", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/api/entries/{entry_id}", "404")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "alohomora_http_requests_total"))
	assert.True(t, strings.Contains(body, "alohomora_info"))
}

func TestSanitizePath(t *testing.T) {
	cases := map[string]string{
		"/api/entries/abc":             "/api/entries/{entry_id}",
		"/api/devices/d1/trust":        "/api/devices/{device_id}/trust",
		"/api/entries":                 "/api/entries",
		"/api/sync/status":             "/api/sync/status",
		"/api/devices/entries/unknown": "/api/devices/{device_id}/unknown",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizePath(in), in)
	}
}

func TestHashID(t *testing.T) {
	assert.Equal(t, HashID("a"), HashID("a"))
	assert.NotEqual(t, HashID("a"), HashID("b"))
	assert.Len(t, HashID("a"), 16)
	assert.Equal(t, "unknown", HashID(""))
}
