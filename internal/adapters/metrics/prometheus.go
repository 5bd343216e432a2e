// Package metrics exports engine measurements to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/upshift/internal/domain"
	"github.com/bft-labs/upshift/internal/ports"
)

const namespace = "upshift"

// Prometheus implements ports.Metrics.
type Prometheus struct {
	executions    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	active        prometheus.Gauge
	transitions   *prometheus.CounterVec
	catalogSize   prometheus.Gauge
	loadErrors    prometheus.Gauge
	tickDuration  prometheus.Histogram
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Prometheus, error) {
	m := &Prometheus{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Finished upgrade executions by kind and final state.",
		}, []string{"kind", "final_state"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Upgrade execution duration by strategy.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"strategy"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_executions",
			Help:      "Executions currently in flight.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Execution state transitions by target state.",
		}, []string{"state"}),
		catalogSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_definitions",
			Help:      "Definitions in the catalog after the last refresh.",
		}),
		loadErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "definition_load_errors",
			Help:      "Malformed definition records skipped by the last refresh.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "tick_duration_seconds",
			Help:      "Duration of discovery passes.",
			Buckets:   prometheus.DefBuckets,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}

	for _, c := range []prometheus.Collector{
		m.executions, m.duration, m.active, m.transitions,
		m.catalogSize, m.loadErrors, m.tickDuration,
		m.httpRequests, m.httpDurations,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ExecutionFinished implements ports.Metrics.
func (m *Prometheus) ExecutionFinished(rec domain.HistoryRecord) {
	m.executions.WithLabelValues(string(rec.Kind), string(rec.FinalState)).Inc()
	m.duration.WithLabelValues(string(rec.Strategy)).Observe(rec.Duration.Seconds())
}

// ActiveExecutions implements ports.Metrics.
func (m *Prometheus) ActiveExecutions(n int) { m.active.Set(float64(n)) }

// StateTransition implements ports.Metrics.
func (m *Prometheus) StateTransition(to domain.State) {
	m.transitions.WithLabelValues(string(to)).Inc()
}

// CatalogSize implements ports.Metrics.
func (m *Prometheus) CatalogSize(n int) { m.catalogSize.Set(float64(n)) }

// DefinitionLoadErrors implements ports.Metrics.
func (m *Prometheus) DefinitionLoadErrors(n int) { m.loadErrors.Set(float64(n)) }

// TickDuration implements ports.Metrics.
func (m *Prometheus) TickDuration(d time.Duration) { m.tickDuration.Observe(d.Seconds()) }

// HTTPRequest records one API request.
func (m *Prometheus) HTTPRequest(method, path string, status int, d time.Duration) {
	label := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, path, label).Inc()
	m.httpDurations.WithLabelValues(method, path, label).Observe(d.Seconds())
}

var _ ports.Metrics = (*Prometheus)(nil)
