package tracekit

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultMetricsNamespace prefixes every metric registered by PrometheusExporter.
const DefaultMetricsNamespace = "tracekit"

// PrometheusExporter records finished traces as Prometheus metrics:
// trace and span duration histograms, a trace counter by status,
// a database query counter and the last sampled heap size.
type PrometheusExporter struct {
	traceDuration *prometheus.HistogramVec
	spanDuration  *prometheus.HistogramVec
	traces        *prometheus.CounterVec
	queries       *prometheus.CounterVec
	heapAlloc     *prometheus.GaugeVec
	service       string
}

// NewPrometheusExporter registers the exporter's collectors with reg.
// Collectors already registered under the same names are reused, so
// several tracers may share one registry.
func NewPrometheusExporter(reg prometheus.Registerer, namespace, service string) (*PrometheusExporter, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultMetricsNamespace
	}

	e := &PrometheusExporter{service: service}
	var err error

	if e.traceDuration, err = registerOrReuse(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "trace_duration_seconds",
		Help:      "Duration of finished traces.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service", "trace", "status"})); err != nil {
		return nil, err
	}
	if e.spanDuration, err = registerOrReuse(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "span_duration_seconds",
		Help:      "Duration of ended spans in finished traces.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service", "trace", "span", "status"})); err != nil {
		return nil, err
	}
	if e.traces, err = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "traces_total",
		Help:      "Finished traces by status.",
	}, []string{"service", "trace", "status"})); err != nil {
		return nil, err
	}
	if e.queries, err = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "database_queries_total",
		Help:      "Database spans seen in analyzed traces.",
	}, []string{"service", "trace"})); err != nil {
		return nil, err
	}
	if e.heapAlloc, err = registerOrReuse(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "heap_alloc_bytes",
		Help:      "Heap allocation sampled at the last trace analysis.",
	}, []string{"service"})); err != nil {
		return nil, err
	}
	return e, nil
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metrics: %w", err)
	}
	return c, nil
}

// Export observes the trace, its ended spans and, when present, its metrics.
func (e *PrometheusExporter) Export(_ context.Context, trace *Trace, metrics *PerformanceMetrics) error {
	name := trace.Name()
	status := trace.Status().String()

	e.traces.WithLabelValues(e.service, name, status).Inc()
	e.traceDuration.WithLabelValues(e.service, name, status).Observe(trace.Duration().Seconds())

	for _, span := range trace.Spans() {
		if span.IsRoot() || !span.Ended() {
			continue
		}
		e.spanDuration.WithLabelValues(e.service, name, span.Name, span.Status.String()).
			Observe(span.Duration.Seconds())
	}

	if metrics == nil {
		return nil
	}
	e.queries.WithLabelValues(e.service, name).Add(float64(len(metrics.DatabaseQueries)))
	e.heapAlloc.WithLabelValues(e.service).Set(float64(metrics.Memory.HeapAlloc))
	return nil
}

// Shutdown is a no-op; collectors stay registered for a final scrape.
func (*PrometheusExporter) Shutdown(context.Context) error {
	return nil
}
