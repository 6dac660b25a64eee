package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Loop metrics
	LoopsActive   prometheus.Gauge
	TasksTotal    *prometheus.CounterVec
	StepsTotal    *prometheus.CounterVec
	StepDuration  *prometheus.HistogramVec
	DecodeRetries prometheus.Counter

	// Model metrics
	ModelCalls    *prometheus.CounterVec
	ModelDuration prometheus.Histogram

	// Device backend metrics
	BackendCommands *prometheus.CounterVec
	BackendDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phonepilot_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "phonepilot_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		LoopsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "phonepilot_loops_active",
				Help: "Number of control loops currently running",
			},
		),
		TasksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phonepilot_tasks_total",
				Help: "Total number of tasks by terminal status",
			},
			[]string{"status"},
		),
		StepsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phonepilot_steps_total",
				Help: "Total number of executed steps",
			},
			[]string{"device", "action"},
		),
		StepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "phonepilot_step_duration_seconds",
				Help:    "Full step duration (capture through execute)",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"device"},
		),
		DecodeRetries: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "phonepilot_decode_retries_total",
				Help: "Total number of decode failures that triggered a re-prompt",
			},
		),

		ModelCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phonepilot_model_calls_total",
				Help: "Total number of model calls by status",
			},
			[]string{"status"},
		),
		ModelDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "phonepilot_model_call_duration_seconds",
				Help:    "Model call duration in seconds",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
			},
		),

		BackendCommands: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phonepilot_backend_commands_total",
				Help: "Total number of device bridge commands",
			},
			[]string{"backend", "op", "status"},
		),
		BackendDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "phonepilot_backend_command_duration_seconds",
				Help:    "Device bridge command duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
			},
			[]string{"backend", "op"},
		),

		WSConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "phonepilot_ws_connections",
				Help: "Number of active WebSocket step-log subscribers",
			},
		),

		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "phonepilot_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
	}

	// Start uptime updater
	go m.updateUptime()

	return m
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordStep records one executed control-loop step
func (m *Metrics) RecordStep(device, action string, duration time.Duration) {
	m.StepsTotal.WithLabelValues(device, action).Inc()
	m.StepDuration.WithLabelValues(device).Observe(duration.Seconds())
}

// RecordTask records a task reaching a terminal status
func (m *Metrics) RecordTask(status string) {
	m.TasksTotal.WithLabelValues(status).Inc()
}

// RecordModelCall records a model call
func (m *Metrics) RecordModelCall(status string, duration time.Duration) {
	m.ModelCalls.WithLabelValues(status).Inc()
	m.ModelDuration.Observe(duration.Seconds())
}

// RecordBackendCommand records a device bridge command
func (m *Metrics) RecordBackendCommand(backend, op, status string, duration time.Duration) {
	m.BackendCommands.WithLabelValues(backend, op, status).Inc()
	m.BackendDuration.WithLabelValues(backend, op).Observe(duration.Seconds())
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}
