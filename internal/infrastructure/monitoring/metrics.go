package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Script metrics
	ScriptsActive          prometheus.Gauge
	ScriptsStarted         *prometheus.CounterVec
	ScriptsStopped         *prometheus.CounterVec
	ScriptEvents           *prometheus.CounterVec
	ScriptCleanupFailures  prometheus.Counter
	ScriptSetupFailures    *prometheus.CounterVec
	PageEvaluations        *prometheus.CounterVec
	PageEvaluationDuration prometheus.Histogram

	// Browser metrics
	BrowserLaunches *prometheus.CounterVec
	PageLosses      prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time
	snapshot  Snapshot
	mu        sync.RWMutex
}

// Snapshot holds current values for the JSON health endpoint
type Snapshot struct {
	TotalRequests  int64   `json:"total_requests"`
	TotalErrors    int64   `json:"total_errors"`
	ActiveScripts  int64   `json:"active_scripts"`
	StartedScripts int64   `json:"started_scripts"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// NewMetrics registers collectors with reg. Pass prometheus.DefaultRegisterer
// in production and prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{startTime: time.Now()}

	m.RequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.RequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kiosk_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
	m.ResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kiosk_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		},
		[]string{"method", "path"},
	)

	m.ScriptsActive = factory.NewGauge(prometheus.GaugeOpts{
		Name: "kiosk_scripts_active",
		Help: "Number of continuous scripts currently registered",
	})
	m.ScriptsStarted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_scripts_started_total",
			Help: "Total number of scripts started",
		},
		[]string{"mode"},
	)
	m.ScriptsStopped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_scripts_stopped_total",
			Help: "Total number of continuous scripts torn down, by termination path",
		},
		[]string{"reason"},
	)
	m.ScriptEvents = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_script_events_total",
			Help: "Total number of events received from page scripts",
		},
		[]string{"kind"},
	)
	m.ScriptCleanupFailures = factory.NewCounter(prometheus.CounterOpts{
		Name: "kiosk_script_cleanup_failures_total",
		Help: "Page-side cleanups that failed and were swallowed",
	})
	m.ScriptSetupFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_script_setup_failures_total",
			Help: "Continuous script setups that failed before registration",
		},
		[]string{"stage"},
	)
	m.PageEvaluations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_page_evaluations_total",
			Help: "Total number of page evaluations",
		},
		[]string{"status"},
	)
	m.PageEvaluationDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "kiosk_page_evaluation_duration_seconds",
		Help:    "Page evaluation duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	m.BrowserLaunches = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_browser_launches_total",
			Help: "Browser launch and reconnect attempts",
		},
		[]string{"status"},
	)
	m.PageLosses = factory.NewCounter(prometheus.CounterOpts{
		Name: "kiosk_page_losses_total",
		Help: "Times the controlled page navigated away, closed, or disconnected",
	})

	m.WSConnections = factory.NewGauge(prometheus.GaugeOpts{
		Name: "kiosk_ws_connections",
		Help: "Number of active WebSocket connections",
	})
	m.WSMessages = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiosk_ws_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction", "type"},
	)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "kiosk_uptime_seconds",
		Help: "Server uptime in seconds",
	}, func() float64 {
		return time.Since(m.startTime).Seconds()
	})

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordScriptStarted records a new script execution
func (m *Metrics) RecordScriptStarted(mode string) {
	m.ScriptsStarted.WithLabelValues(mode).Inc()
	m.mu.Lock()
	m.snapshot.StartedScripts++
	m.mu.Unlock()
}

// RecordScriptStopped records a completed teardown
func (m *Metrics) RecordScriptStopped(reason string) {
	m.ScriptsStopped.WithLabelValues(reason).Inc()
}

// SetScriptsActive sets the number of registered scripts
func (m *Metrics) SetScriptsActive(count int) {
	m.ScriptsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveScripts = int64(count)
	m.mu.Unlock()
}

// RecordScriptEvent records an event received from the page
func (m *Metrics) RecordScriptEvent(kind string) {
	m.ScriptEvents.WithLabelValues(kind).Inc()
}

// RecordCleanupFailure records a swallowed page-side cleanup failure
func (m *Metrics) RecordCleanupFailure() {
	m.ScriptCleanupFailures.Inc()
}

// RecordSetupFailure records a failed continuous setup
func (m *Metrics) RecordSetupFailure(stage string) {
	m.ScriptSetupFailures.WithLabelValues(stage).Inc()
}

// RecordEvaluation records one page evaluation
func (m *Metrics) RecordEvaluation(status string, duration time.Duration) {
	m.PageEvaluations.WithLabelValues(status).Inc()
	m.PageEvaluationDuration.Observe(duration.Seconds())
}

// RecordBrowserLaunch records a browser launch attempt
func (m *Metrics) RecordBrowserLaunch(status string) {
	m.BrowserLaunches.WithLabelValues(status).Inc()
}

// IncPageLosses records a lost page
func (m *Metrics) IncPageLosses() {
	m.PageLosses.Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}

// Snapshot returns the current values for JSON reporting
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
