package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "certdesk"

// Metrics holds the process collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry   *prometheus.Registry
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Signals    *prometheus.CounterVec
	Conflicts  *prometheus.CounterVec
	Reloads    *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Workflow operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Workflow operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Change signals delivered by origin.",
		}, []string{"signal", "origin"}),
		Conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_conflicts_total",
			Help:      "Optimistic version conflicts per collection.",
		}, []string{"collection"}),
		Reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_reloads_total",
			Help:      "Collections re-read from durable storage.",
		}, []string{"collection"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Operations, m.Duration, m.Signals, m.Conflicts, m.Reloads,
	)
	return m
}

// Outcome classifies an operation error for the outcome label.
type Outcome func(error) string

func (m *Metrics) ObserveOperation(op string, start time.Time, err error, classify Outcome) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if classify != nil {
			outcome = classify(err)
		}
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
	m.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) Signal(signal, origin string) {
	if m == nil {
		return
	}
	m.Signals.WithLabelValues(signal, origin).Inc()
}

func (m *Metrics) Conflict(collection string) {
	if m == nil {
		return
	}
	m.Conflicts.WithLabelValues(collection).Inc()
}

func (m *Metrics) Reload(collection string) {
	if m == nil {
		return
	}
	m.Reloads.WithLabelValues(collection).Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, errors.New("metrics disabled").Error(), http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
