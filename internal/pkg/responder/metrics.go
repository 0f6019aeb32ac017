package responder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/endorses/paper/internal/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the responder's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	bytesSent   *prometheus.CounterVec
	connections prometheus.Counter
	active      prometheus.Gauge
	sendErrors  *prometheus.CounterVec
	transfer    *prometheus.HistogramVec
}

// NewMetrics registers the responder collectors on a fresh registry, along
// with the Go runtime and process collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paper_http_requests_total",
				Help: "Requests answered, by route and status code",
			},
			[]string{"route", "status"},
		),
		bytesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paper_http_bytes_sent_total",
				Help: "Response body bytes written, by route",
			},
			[]string{"route"},
		),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paper_http_connections_total",
			Help: "Connections accepted",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paper_http_active_connections",
			Help: "Connections currently being served",
		}),
		sendErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paper_http_send_errors_total",
				Help: "Connections abandoned because a write failed",
			},
			[]string{"route"},
		),
		transfer: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "paper_http_request_duration_seconds",
				Help:    "Time from accept to connection close",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"route"},
		),
	}
	registry.MustRegister(m.requests, m.bytesSent, m.connections, m.active, m.sendErrors, m.transfer)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
	m.active.Inc()
}

func (m *Metrics) connClosed() {
	if m == nil {
		return
	}
	m.active.Dec()
}

func (m *Metrics) observe(route string, status int, sent int64, elapsed time.Duration, sendErr error) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	m.bytesSent.WithLabelValues(route).Add(float64(sent))
	m.transfer.WithLabelValues(route).Observe(elapsed.Seconds())
	if sendErr != nil {
		m.sendErrors.WithLabelValues(route).Inc()
	}
}

// Exporter serves /metrics and /health for a Metrics registry.
type Exporter struct {
	enabled atomic.Bool
	metrics *Metrics
	port    int

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewExporter returns a disabled exporter for port.
func NewExporter(port int, metrics *Metrics) *Exporter {
	return &Exporter{port: port, metrics: metrics}
}

// Enable starts the metrics HTTP server.
func (e *Exporter) Enable() error {
	if e.enabled.Load() {
		return nil
	}
	if e.metrics == nil {
		return errors.New("metrics exporter has no registry")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.metrics.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok\n"))
	})

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", e.port))
	if err != nil {
		return fmt.Errorf("failed to listen for metrics on port %d: %w", e.port, err)
	}
	e.listener = ln
	e.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	server := e.server
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", "error", err)
		}
	}()

	e.enabled.Store(true)
	logger.Info("Prometheus metrics enabled", "endpoint", fmt.Sprintf("http://%s/metrics", ln.Addr()))
	return nil
}

// Addr returns the bound address once enabled.
func (e *Exporter) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener == nil {
		return nil
	}
	return e.listener.Addr()
}

// Disable stops the metrics server.
func (e *Exporter) Disable() error {
	if !e.enabled.Load() {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.server.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down metrics server", "error", err)
		}
		e.server = nil
		e.listener = nil
	}

	e.enabled.Store(false)
	logger.Debug("Prometheus metrics disabled")
	return nil
}

// IsEnabled reports whether the exporter is serving.
func (e *Exporter) IsEnabled() bool {
	return e.enabled.Load()
}
