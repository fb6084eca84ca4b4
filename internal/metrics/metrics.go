// Package metrics provides the Prometheus metrics of the check-in pipeline.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "face_attendance"

// Write outcomes.
const (
	OutcomeRecorded = "recorded"
	OutcomeExisting = "already_logged"
	OutcomeError    = "error"
)

// Metrics holds all collectors. All methods are safe on a nil receiver,
// which disables collection.
type Metrics struct {
	registry *prometheus.Registry

	Ticks           prometheus.Counter
	DroppedTicks    prometheus.Counter
	TickErrors      *prometheus.CounterVec
	Rejections      *prometheus.CounterVec
	Identifications prometheus.Counter
	Unknowns        prometheus.Counter
	Confirmations   prometheus.Counter
	Writes          *prometheus.CounterVec
	StoreErrors     prometheus.Counter
	GallerySize     prometheus.Gauge
	SessionRunning  prometheus.Gauge
	Degraded        prometheus.Gauge
	TickDuration    prometheus.Histogram
	WriteDuration   prometheus.Histogram
}

// New creates the collectors and registers them, with the Go and process
// collectors, on a fresh registry.
func New() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.initMetrics()

	cs := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Ticks, m.DroppedTicks, m.TickErrors, m.Rejections,
		m.Identifications, m.Unknowns, m.Confirmations,
		m.Writes, m.StoreErrors, m.GallerySize, m.SessionRunning, m.Degraded,
		m.TickDuration, m.WriteDuration,
	}
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.Ticks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticks_total",
		Help:      "Detection loop ticks processed",
	})
	m.DroppedTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticks_dropped_total",
		Help:      "Ticks dropped because a commit was in flight",
	})
	m.TickErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tick_errors_total",
		Help:      "Ticks skipped because of a capture or engine error",
	}, []string{"stage"})
	m.Rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quality_rejections_total",
		Help:      "Detections rejected by the quality gate",
	}, []string{"reason"})
	m.Identifications = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "identifications_total",
		Help:      "Frames matched above the recognition threshold",
	})
	m.Unknowns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "unknown_faces_total",
		Help:      "Frames with a face below the recognition threshold",
	})
	m.Confirmations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "confirmations_total",
		Help:      "Identities confirmed by the temporal smoother",
	})
	m.Writes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "attendance_writes_total",
		Help:      "Attendance write attempts by outcome",
	}, []string{"outcome"})
	m.StoreErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_errors_total",
		Help:      "Attendance store failures",
	})
	m.GallerySize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "gallery_identities",
		Help:      "Identities in the gallery of the current session",
	})
	m.SessionRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "session_running",
		Help:      "1 while a detection session is running",
	})
	m.Degraded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "session_degraded",
		Help:      "1 while the attendance store is failing",
	})
	m.TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tick_duration_seconds",
		Help:      "Time to capture, detect and match one frame",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	})
	m.WriteDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "attendance_write_duration_seconds",
		Help:      "Latency of attendance writes",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveTick(seconds float64) {
	if m == nil {
		return
	}
	m.Ticks.Inc()
	m.TickDuration.Observe(seconds)
}

func (m *Metrics) DropTick() {
	if m != nil {
		m.DroppedTicks.Inc()
	}
}

func (m *Metrics) TickError(stage string) {
	if m != nil {
		m.TickErrors.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) Reject(reason string) {
	if m != nil {
		m.Rejections.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Identified() {
	if m != nil {
		m.Identifications.Inc()
	}
}

func (m *Metrics) Unknown() {
	if m != nil {
		m.Unknowns.Inc()
	}
}

func (m *Metrics) Confirmed() {
	if m != nil {
		m.Confirmations.Inc()
	}
}

// ObserveWrite records one attendance write.
func (m *Metrics) ObserveWrite(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Writes.WithLabelValues(outcome).Inc()
	m.WriteDuration.Observe(seconds)
	if outcome == OutcomeError {
		m.StoreErrors.Inc()
	}
}

func (m *Metrics) SetGallerySize(n int) {
	if m != nil {
		m.GallerySize.Set(float64(n))
	}
}

func (m *Metrics) SetRunning(running bool) {
	if m != nil {
		m.SessionRunning.Set(boolFloat(running))
	}
}

func (m *Metrics) SetDegraded(degraded bool) {
	if m != nil {
		m.Degraded.Set(boolFloat(degraded))
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
