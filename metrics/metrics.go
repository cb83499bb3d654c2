// Package metrics exposes Prometheus metrics for the drive gateway and its
// storage drivers.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruteri/drive-storage-backend/interfaces"
)

// MetricsServer serves the registry on /metrics.
type MetricsServer struct {
	namespace string
	registry  *prometheus.Registry
	srv       *http.Server
	drivers   *DriverMetrics
}

// New creates a metrics server for namespace listening on addr. An empty addr
// yields a server whose collectors work but which is never started.
func New(namespace, addr string) (*MetricsServer, error) {
	if namespace == "" {
		return nil, errors.New("metrics namespace must not be empty")
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}

	drivers, err := NewDriverMetrics(namespace, registry)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return &MetricsServer{
		namespace: namespace,
		registry:  registry,
		drivers:   drivers,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Registry returns the registry backing the server.
func (m *MetricsServer) Registry() *prometheus.Registry {
	return m.registry
}

// Drivers returns the storage driver collectors registered on this server.
func (m *MetricsServer) Drivers() *DriverMetrics {
	return m.drivers
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

// DriverMetrics counts storage driver operations by driver and outcome.
type DriverMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	bytes      *prometheus.CounterVec
}

// NewDriverMetrics creates the driver collectors and registers them with reg.
func NewDriverMetrics(namespace string, reg prometheus.Registerer) (*DriverMetrics, error) {
	m := &DriverMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "driver",
			Name:      "operations_total",
			Help:      "Total number of storage driver operations",
		}, []string{"driver", "operation", "result"}), // result: ok or an error kind

		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "driver",
			Name:      "operation_duration_seconds",
			Help:      "Storage driver operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		}, []string{"driver", "operation"}),

		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "driver",
			Name:      "bytes_total",
			Help:      "Stream bytes transferred through storage drivers",
		}, []string{"driver", "direction"}), // direction: in, out
	}

	for _, c := range []prometheus.Collector{m.operations, m.latency, m.bytes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe records one operation that started at start and finished with err.
func (m *DriverMetrics) Observe(driver, operation string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = interfaces.KindOf(err).String()
	}
	m.operations.WithLabelValues(driver, operation, result).Inc()
	m.latency.WithLabelValues(driver, operation).Observe(time.Since(start).Seconds())
}

// AddBytes records n stream bytes moving in the given direction.
func (m *DriverMetrics) AddBytes(driver, direction string, n int64) {
	if n > 0 {
		m.bytes.WithLabelValues(driver, direction).Add(float64(n))
	}
}

// OperationsCounter exposes the operation counter for tests and dashboards.
func (m *DriverMetrics) OperationsCounter() *prometheus.CounterVec {
	return m.operations
}

// BytesCounter exposes the transferred-bytes counter.
func (m *DriverMetrics) BytesCounter() *prometheus.CounterVec {
	return m.bytes
}
