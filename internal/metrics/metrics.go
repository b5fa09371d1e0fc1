package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dj-oyu/lamp-monitor/pkg/types"
)

// Metrics holds all application metrics
type Metrics struct {
	// Cycle counters
	Cycles          atomic.Uint64
	FramesCaptured  atomic.Uint64
	FrameErrors     atomic.Uint64 // camera read failures
	RegionErrors    atomic.Uint64 // invalid rectangles
	EmptyRegions    atomic.Uint64 // classification on empty sub-images
	LogErrors       atomic.Uint64
	VerdictsOrange  atomic.Uint64
	VerdictsGreen   atomic.Uint64
	VerdictsUnknown atomic.Uint64

	// Notifications
	NotificationsSent    atomic.Uint64
	NotificationsFailed  atomic.Uint64
	NotificationsDropped atomic.Uint64

	// Fan-out
	PublishErrors  atomic.Uint64
	ArchivedFrames atomic.Uint64
	ArchiveDropped atomic.Uint64

	// Detection state
	AlertActive    atomic.Uint64 // 0 = idle, 1 = active
	AlertElapsedMs atomic.Uint64
	Episodes       atomic.Uint64

	// Latency tracking
	CycleLatencyMs atomic.Uint64
	FrameAgeMs     atomic.Uint64

	// Dashboard clients
	ActiveClients atomic.Int64
	TotalClients  atomic.Uint64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) gauge(name, help string, load func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		load,
	))
}

func u(v *atomic.Uint64) func() float64 {
	return func() float64 { return float64(v.Load()) }
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.gauge("lamp_cycles_total", "Detection cycles run", u(&m.Cycles))
	m.gauge("lamp_frames_captured_total", "Frames acquired from the source", u(&m.FramesCaptured))
	m.gauge("lamp_frame_errors_total", "Frame acquisition failures", u(&m.FrameErrors))
	m.gauge("lamp_region_errors_total", "Cycles skipped for invalid regions", u(&m.RegionErrors))
	m.gauge("lamp_empty_regions_total", "Regions classified as empty", u(&m.EmptyRegions))
	m.gauge("lamp_log_errors_total", "Episode log write failures", u(&m.LogErrors))

	m.gauge("lamp_verdicts_orange_total", "Cycles judged orange", u(&m.VerdictsOrange))
	m.gauge("lamp_verdicts_green_total", "Cycles judged green", u(&m.VerdictsGreen))
	m.gauge("lamp_verdicts_unknown_total", "Cycles judged unknown", u(&m.VerdictsUnknown))

	m.gauge("lamp_notifications_sent_total", "Notifications delivered", u(&m.NotificationsSent))
	m.gauge("lamp_notifications_failed_total", "Notifications that failed", u(&m.NotificationsFailed))
	m.gauge("lamp_notifications_dropped_total", "Notifications dropped on a full queue", u(&m.NotificationsDropped))

	m.gauge("lamp_publish_errors_total", "Episode event publish failures", u(&m.PublishErrors))
	m.gauge("lamp_archived_frames_total", "Evidence frames archived", u(&m.ArchivedFrames))
	m.gauge("lamp_archive_dropped_total", "Evidence frames dropped on a full queue", u(&m.ArchiveDropped))

	m.gauge("lamp_alert_active", "Alert episode active (0=idle, 1=active)", u(&m.AlertActive))
	m.gauge("lamp_alert_elapsed_ms", "Elapsed time of the current alert episode", u(&m.AlertElapsedMs))
	m.gauge("lamp_episodes_total", "Alert episodes started", u(&m.Episodes))

	m.gauge("lamp_cycle_latency_ms", "Duration of the last detection cycle", u(&m.CycleLatencyMs))
	m.gauge("lamp_frame_age_ms", "Age of the frame used by the last cycle", u(&m.FrameAgeMs))

	m.gauge("lamp_dashboard_active_clients", "Connected stream clients", func() float64 { return float64(m.ActiveClients.Load()) })
	m.gauge("lamp_dashboard_total_clients", "Stream clients since start", u(&m.TotalClients))
}

// RecordVerdict counts one judged cycle.
func (m *Metrics) RecordVerdict(v types.Verdict) {
	switch v {
	case types.VerdictOrange:
		m.VerdictsOrange.Add(1)
	case types.VerdictGreen:
		m.VerdictsGreen.Add(1)
	default:
		m.VerdictsUnknown.Add(1)
	}
}

// UpdateAlert stores the current episode state.
func (m *Metrics) UpdateAlert(active bool, elapsed time.Duration) {
	if active {
		m.AlertActive.Store(1)
		m.AlertElapsedMs.Store(uint64(elapsed.Milliseconds()))
		return
	}
	m.AlertActive.Store(0)
	m.AlertElapsedMs.Store(0)
}

// UpdateFrameAge updates the age of the frame used by the last cycle
func (m *Metrics) UpdateFrameAge(captureTime, now time.Time) {
	age := now.Sub(captureTime).Milliseconds()
	if age < 0 {
		age = 0
	}
	m.FrameAgeMs.Store(uint64(age))
}

// UpdateCycleLatency updates the last cycle duration
func (m *Metrics) UpdateCycleLatency(duration time.Duration) {
	m.CycleLatencyMs.Store(uint64(duration.Milliseconds()))
}

// ClientConnected tracks a new stream client.
func (m *Metrics) ClientConnected() {
	m.ActiveClients.Add(1)
	m.TotalClients.Add(1)
}

// ClientDisconnected tracks a departed stream client.
func (m *Metrics) ClientDisconnected() {
	m.ActiveClients.Add(-1)
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gather exposes the registry for tests and embedding.
func (m *Metrics) Gather() (map[string]float64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(families))
	for _, f := range families {
		if ms := f.GetMetric(); len(ms) > 0 && ms[0].GetGauge() != nil {
			out[f.GetName()] = ms[0].GetGauge().GetValue()
		}
	}
	return out, nil
}
