package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the scan pipeline collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cycles         *prometheus.CounterVec
	candidates     *prometheus.CounterVec
	lookups        *prometheus.CounterVec
	lookupDuration prometheus.Histogram
	activeSessions prometheus.Gauge
}

// Cycle results.
const (
	CycleNoFrame    = "no_frame"
	CycleRejected   = "rejected"
	CycleOCRError   = "ocr_error"
	CycleCandidate  = "candidate"
	CycleSuperseded = "superseded"
)

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkin_scan_cycles_total",
			Help: "Scan cycles by result",
		}, []string{"result"}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkin_plate_candidates_total",
			Help: "Recognizer outputs by acceptance decision",
		}, []string{"decision"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkin_reservation_lookups_total",
			Help: "Reservation lookups by outcome",
		}, []string{"outcome"}),
		lookupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "checkin_reservation_lookup_seconds",
			Help:    "Reservation lookup latency",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "checkin_scan_sessions_active",
			Help: "Scan sessions currently scanning",
		}),
	}
	m.registry.MustRegister(
		m.cycles,
		m.candidates,
		m.lookups,
		m.lookupDuration,
		m.activeSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveCycle(result string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveCandidate(accepted bool) {
	if m == nil {
		return
	}
	decision := "rejected"
	if accepted {
		decision = "accepted"
	}
	m.candidates.WithLabelValues(decision).Inc()
}

func (m *Metrics) ObserveLookup(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(outcome).Inc()
	m.lookupDuration.Observe(d.Seconds())
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionStopped() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
