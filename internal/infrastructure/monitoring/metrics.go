package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of one shell instance.
// Every method is safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter

	// IPC request metrics
	IPCRequests        *prometheus.CounterVec
	IPCRequestDuration *prometheus.HistogramVec

	// Broker metrics
	BrokersActive prometheus.Gauge
	BrokersTotal  prometheus.Counter

	// Module metrics
	ModuleOpens    *prometheus.CounterVec
	ModulesRunning prometheus.Gauge

	// Stream metrics
	Frames     *prometheus.CounterVec
	FrameBytes *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests  int64   `json:"total_requests"`
	TotalErrors    int64   `json:"total_errors"`
	ActiveSessions int64   `json:"active_sessions"`
	ActiveBrokers  int64   `json:"active_brokers"`
	RunningModules int64   `json:"running_modules"`
	WSConnections  int64   `json:"ws_connections"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	UptimeSeconds  float64 `json:"uptime_seconds"`

	totalDuration float64
	requestCount  int64
}

// NewMetrics creates a metrics collector on its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dweb_http_requests_total",
				Help: "Total number of gateway HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dweb_http_request_duration_seconds",
				Help:    "Gateway HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dweb_http_response_size_bytes",
				Help:    "Gateway HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dweb_ipc_sessions_active",
			Help: "Number of open IPC sessions",
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dweb_ipc_sessions_total",
			Help: "Total number of IPC sessions created",
		}),

		IPCRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dweb_ipc_requests_total",
				Help: "Total number of routed IPC requests",
			},
			[]string{"module", "status"},
		),
		IPCRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dweb_ipc_request_duration_seconds",
				Help:    "Routed IPC request duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"module"},
		),

		BrokersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dweb_brokers_active",
			Help: "Number of live brokered module pairs",
		}),
		BrokersTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dweb_brokers_total",
			Help: "Total number of transport pairs created by the broker",
		}),

		ModuleOpens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dweb_module_opens_total",
				Help: "Total number of module bootstraps",
			},
			[]string{"module", "status"},
		),
		ModulesRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dweb_modules_running",
			Help: "Number of running module instances",
		}),

		Frames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dweb_stream_frames_total",
				Help: "Total number of stream frames",
			},
			[]string{"direction"},
		),
		FrameBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dweb_stream_frame_bytes_total",
				Help: "Total stream frame payload bytes",
			},
			[]string{"direction"},
		),

		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dweb_ws_connections",
			Help: "Number of attached WebSocket ports",
		}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dweb_uptime_seconds",
		Help: "Shell uptime in seconds",
	}, func() float64 {
		return time.Since(m.startTime).Seconds()
	})

	return m
}

// Registry returns the Prometheus registry backing these metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the exposition handler for this instance.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records a gateway HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.totalDuration += duration.Seconds()
	m.snapshot.requestCount++
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordIPCRequest records one routed request and its response status
func (m *Metrics) RecordIPCRequest(module, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.IPCRequests.WithLabelValues(module, status).Inc()
	m.IPCRequestDuration.WithLabelValues(module).Observe(duration.Seconds())
}

// SessionOpened counts a new live session
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
	m.SessionsTotal.Inc()
	m.mu.Lock()
	m.snapshot.ActiveSessions++
	m.mu.Unlock()
}

// SessionClosed counts a closed session
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.mu.Lock()
	m.snapshot.ActiveSessions--
	m.mu.Unlock()
}

// BrokerCreated counts a transport pair created for first contact
func (m *Metrics) BrokerCreated() {
	if m == nil {
		return
	}
	m.BrokersActive.Inc()
	m.BrokersTotal.Inc()
	m.mu.Lock()
	m.snapshot.ActiveBrokers++
	m.mu.Unlock()
}

// BrokerRemoved counts a brokered pair that went away
func (m *Metrics) BrokerRemoved() {
	if m == nil {
		return
	}
	m.BrokersActive.Dec()
	m.mu.Lock()
	m.snapshot.ActiveBrokers--
	m.mu.Unlock()
}

// RecordModuleOpen records a bootstrap attempt
func (m *Metrics) RecordModuleOpen(module, status string) {
	if m == nil {
		return
	}
	m.ModuleOpens.WithLabelValues(module, status).Inc()
}

// SetModulesRunning sets the number of running instances
func (m *Metrics) SetModulesRunning(count int) {
	if m == nil {
		return
	}
	m.ModulesRunning.Set(float64(count))
	m.mu.Lock()
	m.snapshot.RunningModules = int64(count)
	m.mu.Unlock()
}

// RecordFrame records one stream frame in the given direction ("in" or "out")
func (m *Metrics) RecordFrame(direction string, size int) {
	if m == nil {
		return
	}
	m.Frames.WithLabelValues(direction).Inc()
	m.FrameBytes.WithLabelValues(direction).Add(float64(size))
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.WSConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.WSConnections--
	m.mu.Unlock()
}

// Snapshot returns current values for the JSON API
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	snap := m.snapshot
	m.mu.RUnlock()

	if snap.requestCount > 0 {
		snap.AvgLatencyMs = snap.totalDuration / float64(snap.requestCount) * 1000
	}
	snap.UptimeSeconds = time.Since(m.startTime).Seconds()
	return snap
}
