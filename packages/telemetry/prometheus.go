// Package telemetry exposes capture counters to Prometheus.
package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "snare"

// Metrics mirrors capture outcomes as Prometheus collectors. Each instance
// owns its registry so several sessions (or tests) never collide.
type Metrics struct {
	registry *prometheus.Registry

	responses     *prometheus.CounterVec
	captured      *prometheus.CounterVec
	bytes         prometheus.Counter
	failures      *prometheus.CounterVec
	fetchDuration prometheus.Histogram
}

// NewMetrics creates and registers the capture collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Responses observed, by outcome of the filter stage.",
		}, []string{"stage"}),
		captured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_total",
			Help:      "Artifacts handed to the writers, by extension.",
		}, []string{"extension"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_bytes_total",
			Help:      "Total body bytes captured.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Capture failures, by kind.",
		}, []string{"kind"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "body_fetch_seconds",
			Help:      "Time spent retrieving response bodies from the browser.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}

	m.registry.MustRegister(m.responses, m.captured, m.bytes, m.failures, m.fetchDuration)
	return m
}

// Registry returns the registry holding the capture collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Received() { m.responses.WithLabelValues("received").Inc() }

func (m *Metrics) Rejected() { m.responses.WithLabelValues("rejected").Inc() }

func (m *Metrics) Excluded() { m.responses.WithLabelValues("excluded").Inc() }

func (m *Metrics) Fetched(d time.Duration) { m.fetchDuration.Observe(d.Seconds()) }

func (m *Metrics) Captured(extension string, size int) {
	m.captured.WithLabelValues(extension).Inc()
	m.bytes.Add(float64(size))
}

func (m *Metrics) Failed() { m.failures.WithLabelValues("pipeline").Inc() }

func (m *Metrics) WriteFailed() { m.failures.WithLabelValues("write").Inc() }

func (m *Metrics) RecordFailed() { m.failures.WithLabelValues("record").Inc() }

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", zap.String("addr", ln.Addr().String()))
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
