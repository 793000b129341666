// Package metric manages Prometheus metrics for the analysis server. A
// nil *MetricsRegistry disables metrics collection everywhere; callers
// must treat the registry as optional.
package metric

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/naylor-b/aserver/errors"
)

// Metrics holds the core server metrics.
type Metrics struct {
	ClientsConnected prometheus.Gauge
	InstancesActive  prometheus.Gauge
	RequestsTotal    *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ConfigErrors     prometheus.Counter
}

// NewMetrics creates the core server metrics, unregistered.
func NewMetrics() *Metrics {
	return &Metrics{
		ClientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aserver_clients_connected",
			Help: "Number of connected clients",
		}),
		InstancesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aserver_instances_active",
			Help: "Number of started component instances across all sessions",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aserver_requests_total",
			Help: "Requests processed, by command verb",
		}, []string{"command"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aserver_errors_total",
			Help: "Error replies sent, by error kind",
		}, []string{"kind"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aserver_request_duration_seconds",
			Help:    "Time spent handling requests, by command verb",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
		}, []string{"command"}),
		ConfigErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aserver_config_errors_total",
			Help: "Component configuration errors detected at load time",
		}),
	}
}

// MetricsRegistry manages the registration and lifecycle of metrics on a
// private Prometheus registry.
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewMetricsRegistry creates a new metrics registry with the core server
// metrics and Go runtime collectors pre-registered.
func NewMetricsRegistry() *MetricsRegistry {
	registry := &MetricsRegistry{
		prometheusRegistry: prometheus.NewRegistry(),
		registeredMetrics:  make(map[string]prometheus.Collector),
	}

	registry.Metrics = NewMetrics()
	registry.prometheusRegistry.MustRegister(
		registry.Metrics.ClientsConnected,
		registry.Metrics.InstancesActive,
		registry.Metrics.RequestsTotal,
		registry.Metrics.ErrorsTotal,
		registry.Metrics.RequestDuration,
		registry.Metrics.ConfigErrors,
	)

	registry.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the core server metrics. Returns nil on a nil
// registry so call sites can chain without guards.
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	if r == nil {
		return nil
	}
	return r.Metrics
}

// Handler returns an HTTP handler serving the registry in the Prometheus
// exposition format.
func (r *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prometheusRegistry, promhttp.HandlerOpts{})
}

// register adds a collector under a service-scoped key, translating
// duplicate registrations into wrapped errors.
func (r *MetricsRegistry) register(method, serviceName, metricName string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", serviceName, metricName)
	if _, exists := r.registeredMetrics[key]; exists {
		return errors.Wrap(
			fmt.Errorf("metric %s already registered for service %s", metricName, serviceName),
			"MetricsRegistry", method, "register")
	}

	if err := r.prometheusRegistry.Register(c); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.Wrap(err, "MetricsRegistry", method,
				fmt.Sprintf("resolve prometheus conflict for metric %s", metricName))
		}
		return errors.Wrap(err, "MetricsRegistry", method, "register with prometheus")
	}

	r.registeredMetrics[key] = c
	return nil
}

// RegisterCounter registers a counter metric for a service.
func (r *MetricsRegistry) RegisterCounter(serviceName, metricName string, counter prometheus.Counter) error {
	return r.register("RegisterCounter", serviceName, metricName, counter)
}

// RegisterGauge registers a gauge metric for a service.
func (r *MetricsRegistry) RegisterGauge(serviceName, metricName string, gauge prometheus.Gauge) error {
	return r.register("RegisterGauge", serviceName, metricName, gauge)
}

// RegisterCounterVec registers a counter vector metric for a service.
func (r *MetricsRegistry) RegisterCounterVec(serviceName, metricName string, counterVec *prometheus.CounterVec) error {
	return r.register("RegisterCounterVec", serviceName, metricName, counterVec)
}

// RegisterHistogramVec registers a histogram vector metric for a service.
func (r *MetricsRegistry) RegisterHistogramVec(
	serviceName, metricName string, histogramVec *prometheus.HistogramVec) error {
	return r.register("RegisterHistogramVec", serviceName, metricName, histogramVec)
}

// Unregister removes a metric from the registry.
func (r *MetricsRegistry) Unregister(serviceName, metricName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", serviceName, metricName)
	collector, exists := r.registeredMetrics[key]
	if !exists {
		return false
	}

	success := r.prometheusRegistry.Unregister(collector)
	if success {
		delete(r.registeredMetrics, key)
	}
	return success
}
