package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hwiorn/mcp-sdk-go/pkg/pool"
	"github.com/hwiorn/mcp-sdk-go/pkg/resilience"
)

// MetricsConfig configures the metrics provider
type MetricsConfig struct {
	// Service identification
	ServiceName    string `json:"serviceName"`
	ServiceVersion string `json:"serviceVersion"`
	Environment    string `json:"environment"`

	// Prometheus configuration
	MetricsPath string `json:"metricsPath"` // HTTP path for metrics endpoint (default: /metrics)
	ListenAddr  string `json:"listenAddr"`  // Address for Serve (default: :9090)

	// Metric options
	Namespace        string    `json:"namespace"` // Prometheus namespace (default: mcp)
	Subsystem        string    `json:"subsystem"`
	HistogramBuckets []float64 `json:"histogramBuckets"` // Latency buckets in milliseconds

	// Labels to add to all metrics
	ConstLabels prometheus.Labels `json:"constLabels,omitempty"`

	// Registry receives the collectors; defaults to a fresh registry
	Registry *prometheus.Registry `json:"-"`
}

// Metrics records session, pool and resilience metrics in Prometheus
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry

	mu     sync.Mutex
	server *http.Server

	// Call metrics
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	attemptTotal    *prometheus.CounterVec
	retryTotal      *prometheus.CounterVec
	notifyTotal     *prometheus.CounterVec
	pendingRequests prometheus.Gauge

	// Incoming metrics
	incomingRequestDuration *prometheus.HistogramVec
	incomingRequestTotal    *prometheus.CounterVec

	// Pool and resilience metrics
	connectionHealth   *prometheus.GaugeVec
	healthTransitions  *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
	cascadeTrips       prometheus.Counter
}

// NewMetrics creates and registers the collectors
func NewMetrics(config MetricsConfig) (*Metrics, error) {
	// Set defaults
	if config.Namespace == "" {
		config.Namespace = "mcp"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.ListenAddr == "" {
		config.ListenAddr = ":9090"
	}
	if config.HistogramBuckets == nil {
		config.HistogramBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	}

	labels := prometheus.Labels{}
	for k, v := range config.ConstLabels {
		labels[k] = v
	}
	if config.ServiceName != "" {
		labels["service"] = config.ServiceName
	}
	if config.ServiceVersion != "" {
		labels["version"] = config.ServiceVersion
	}
	if config.Environment != "" {
		labels["environment"] = config.Environment
	}
	config.ConstLabels = labels

	registry := config.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{config: config, registry: registry}
	m.initializeMetrics()
	if err := m.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) histogram(name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.config.Namespace,
		Subsystem:   m.config.Subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.config.HistogramBuckets,
		ConstLabels: m.config.ConstLabels,
	}, labels)
}

func (m *Metrics) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.config.Namespace,
		Subsystem:   m.config.Subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.config.ConstLabels,
	}, labels)
}

func (m *Metrics) gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.config.Namespace,
		Subsystem:   m.config.Subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.config.ConstLabels,
	}, labels)
}

// initializeMetrics creates all metric collectors
func (m *Metrics) initializeMetrics() {
	m.requestDuration = m.histogram("request_duration_milliseconds", "Duration of logical MCP requests in milliseconds, retries included", "method", "status")
	m.requestTotal = m.counter("request_total", "Total number of logical MCP requests", "method", "status")
	m.attemptDuration = m.histogram("attempt_duration_milliseconds", "Duration of single request attempts in milliseconds", "method", "outcome")
	m.attemptTotal = m.counter("attempt_total", "Total number of request attempts", "method", "conn", "outcome")
	m.retryTotal = m.counter("retry_total", "Total number of scheduled retries", "method")
	m.notifyTotal = m.counter("notification_total", "Total number of outgoing notifications", "method", "status")

	m.pendingRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.config.Namespace,
		Subsystem:   m.config.Subsystem,
		Name:        "pending_requests",
		Help:        "Requests registered in the correlation table",
		ConstLabels: m.config.ConstLabels,
	})

	m.incomingRequestDuration = m.histogram("incoming_request_duration_milliseconds", "Duration of incoming MCP requests in milliseconds", "method", "status")
	m.incomingRequestTotal = m.counter("incoming_request_total", "Total number of incoming MCP requests", "method", "status")

	m.connectionHealth = m.gauge("connection_health", "Connection health (0=healthy, 1=degraded, 2=unhealthy)", "conn")
	m.healthTransitions = m.counter("connection_health_transitions_total", "Connection health transitions", "conn", "to")
	m.breakerState = m.gauge("breaker_state", "Circuit breaker state (0=closed, 1=open, 2=half_open)", "conn")
	m.breakerTransitions = m.counter("breaker_transitions_total", "Circuit breaker transitions", "conn", "to")

	m.cascadeTrips = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   m.config.Namespace,
		Subsystem:   m.config.Subsystem,
		Name:        "cascade_trips_total",
		Help:        "Times the cascade detector tripped",
		ConstLabels: m.config.ConstLabels,
	})
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() error {
	collectors := []prometheus.Collector{
		m.requestDuration,
		m.requestTotal,
		m.attemptDuration,
		m.attemptTotal,
		m.retryTotal,
		m.notifyTotal,
		m.pendingRequests,
		m.incomingRequestDuration,
		m.incomingRequestTotal,
		m.connectionHealth,
		m.healthTransitions,
		m.breakerState,
		m.breakerTransitions,
		m.cascadeTrips,
	}

	for _, collector := range collectors {
		if err := m.registry.Register(collector); err != nil {
			// Check if already registered
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// RecordRequest records a completed logical request
func (m *Metrics) RecordRequest(method, status string, duration time.Duration) {
	m.requestDuration.WithLabelValues(method, status).Observe(ms(duration))
	m.requestTotal.WithLabelValues(method, status).Inc()
}

// RecordNotification records an outgoing notification
func (m *Metrics) RecordNotification(method, status string) {
	m.notifyTotal.WithLabelValues(method, status).Inc()
}

// RecordIncomingRequest records a request handled for the peer
func (m *Metrics) RecordIncomingRequest(method, status string, duration time.Duration) {
	m.incomingRequestDuration.WithLabelValues(method, status).Observe(ms(duration))
	m.incomingRequestTotal.WithLabelValues(method, status).Inc()
}

// ObserveAttempt records one attempt; it makes Metrics a middleware
// Recorder
func (m *Metrics) ObserveAttempt(method, connID, outcome string, latency time.Duration) {
	m.attemptDuration.WithLabelValues(method, outcome).Observe(ms(latency))
	m.attemptTotal.WithLabelValues(method, connID, outcome).Inc()
}

// RecordRetry matches the retry engine's OnRetry hook
func (m *Metrics) RecordRetry(method string, attempt int, delay time.Duration, err error) {
	m.retryTotal.WithLabelValues(method).Inc()
}

// SetPending records the correlation table size
func (m *Metrics) SetPending(n int) {
	m.pendingRequests.Set(float64(n))
}

// BreakerStateChanged matches resilience.OnStateChange
func (m *Metrics) BreakerStateChanged(name string, from, to resilience.State) {
	m.breakerState.WithLabelValues(name).Set(float64(to))
	m.breakerTransitions.WithLabelValues(name, to.String()).Inc()
}

// HealthChanged matches pool.OnHealthChange
func (m *Metrics) HealthChanged(id string, from, to pool.Health) {
	m.connectionHealth.WithLabelValues(id).Set(float64(to))
	m.healthTransitions.WithLabelValues(id, to.String()).Inc()
}

// ConnectionAdded initializes the per-connection series
func (m *Metrics) ConnectionAdded(id string) {
	m.connectionHealth.WithLabelValues(id).Set(float64(pool.Healthy))
	m.breakerState.WithLabelValues(id).Set(float64(resilience.StateClosed))
}

// ConnectionRemoved drops the per-connection gauges
func (m *Metrics) ConnectionRemoved(id string) {
	m.connectionHealth.DeleteLabelValues(id)
	m.breakerState.DeleteLabelValues(id)
}

// CascadeTripped matches resilience.OnTrip
func (m *Metrics) CascadeTripped(failures int) {
	m.cascadeTrips.Inc()
}

// Registry returns the registry holding the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler exposing the metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve starts the metrics HTTP server on config.ListenAddr
func (m *Metrics) Serve() error {
	ln, err := net.Listen("tcp", m.config.ListenAddr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.MetricsPath, m.Handler())

	m.mu.Lock()
	m.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	server := m.server
	m.mu.Unlock()

	go func() {
		_ = server.Serve(ln)
	}()
	return nil
}

// Shutdown gracefully shuts down the metrics server
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	server := m.server
	m.server = nil
	m.mu.Unlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}
