// Package metrics provides Prometheus instrumentation for the daemon. Labels
// never carry entry ids or device names; device ids are hashed.
package metrics

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alohomora"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge
	UnlockAttempts  *prometheus.CounterVec

	DevicesDiscovered prometheus.Gauge
	DevicesConnected  prometheus.Gauge
	SyncsTotal        *prometheus.CounterVec
	SyncDuration      prometheus.Histogram
	ElementsSynced    prometheus.Counter
	ChangesPending    prometheus.Gauge
	ConflictsTotal    prometheus.Counter
	EventsDropped     prometheus.Counter

	Info *prometheus.GaugeVec
}

// New creates the collectors on a fresh registry that also carries the Go
// and process collectors.
func New(version string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http",
			Name: "requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http",
			Name:    "request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http",
			Name: "active_requests",
			Help: "Number of in-flight HTTP requests",
		}),

		UnlockAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "vault",
			Name: "unlock_attempts_total",
			Help: "Vault unlock attempts by result",
		}, []string{"result"}),

		DevicesDiscovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sync",
			Name: "devices_discovered",
			Help: "Devices currently in the discovered set",
		}),

		DevicesConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sync",
			Name: "devices_connected",
			Help: "Devices with an open peer connection",
		}),

		SyncsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync",
			Name: "runs_total",
			Help: "Sync runs by result",
		}, []string{"result"}),

		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sync",
			Name:    "run_duration_seconds",
			Help:    "Duration of sync runs",
			Buckets: prometheus.DefBuckets,
		}),

		ElementsSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync",
			Name: "elements_synced_total",
			Help: "Changes delivered to peers",
		}),

		ChangesPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sync",
			Name: "changes_pending",
			Help: "Changes waiting to be synced",
		}),

		ConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync",
			Name: "conflicts_detected_total",
			Help: "Conflicts detected between local and remote changes",
		}),

		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync",
			Name: "events_dropped_total",
			Help: "Sync events dropped because no event loop was running",
		}),

		Info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Build information",
		}, []string{"version", "go_version"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.UnlockAttempts,
		m.DevicesDiscovered,
		m.DevicesConnected,
		m.SyncsTotal,
		m.SyncDuration,
		m.ElementsSynced,
		m.ChangesPending,
		m.ConflictsTotal,
		m.EventsDropped,
		m.Info,
	)
	m.Info.WithLabelValues(version, runtime.Version()).Set(1)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) ObserveSync(success bool, elements int, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.SyncsTotal.WithLabelValues(result).Inc()
	m.SyncDuration.Observe(d.Seconds())
	m.ElementsSynced.Add(float64(elements))
}

func (m *Metrics) ObserveUnlock(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.UnlockAttempts.WithLabelValues("success").Inc()
		return
	}
	m.UnlockAttempts.WithLabelValues("failure").Inc()
}

func (m *Metrics) SetDevices(discovered, connected int) {
	if m == nil {
		return
	}
	m.DevicesDiscovered.Set(float64(discovered))
	m.DevicesConnected.Set(float64(connected))
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.ChangesPending.Set(float64(n))
}

func (m *Metrics) AddConflicts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ConflictsTotal.Add(float64(n))
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

// HashID shortens an identifier into a stable label value.
func HashID(id string) string {
	if id == "" {
		return "unknown"
	}
	h := sha256.Sum256([]byte(id))
	return hex.EncodeToString(h[:8])
}

var idSegments = map[string]string{
	"entries": "{entry_id}",
	"devices": "{device_id}",
}

// SanitizePath replaces the segment after a known collection with a
// placeholder so ids never become label values.
func SanitizePath(path string) string {
	segs := strings.Split(path, "/")
	for i := 0; i+1 < len(segs); i++ {
		if repl, ok := idSegments[segs[i]]; ok && segs[i+1] != "" {
			segs[i+1] = repl
			i++
		}
	}
	return strings.Join(segs, "/")
}
