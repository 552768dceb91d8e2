package analysis

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes pipeline counters on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	stageTotal    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	runTotal      *prometheus.CounterVec
	runDuration   prometheus.Histogram
	runInFlight   prometheus.Gauge
}

func NewMetrics(service string) *Metrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	stageTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "intellimed",
			Subsystem:   "analysis",
			Name:        "stage_total",
			Help:        "Total analysis stage executions by stage and status.",
			ConstLabels: constLabels,
		},
		[]string{"stage", "status"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "intellimed",
			Subsystem:   "analysis",
			Name:        "stage_duration_seconds",
			Help:        "Analysis stage duration in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
		[]string{"stage"},
	)
	runTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "intellimed",
			Subsystem:   "analysis",
			Name:        "pipeline_total",
			Help:        "Total pipeline runs by status.",
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)
	runDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   "intellimed",
			Subsystem:   "analysis",
			Name:        "pipeline_duration_seconds",
			Help:        "End-to-end pipeline duration in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
	)
	runInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "intellimed",
			Subsystem:   "analysis",
			Name:        "pipeline_in_flight",
			Help:        "Number of in-flight pipeline runs.",
			ConstLabels: constLabels,
		},
	)

	registry.MustRegister(stageTotal, stageDuration, runTotal, runDuration, runInFlight)

	return &Metrics{
		registry:      registry,
		stageTotal:    stageTotal,
		stageDuration: stageDuration,
		runTotal:      runTotal,
		runDuration:   runDuration,
		runInFlight:   runInFlight,
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) startRun() {
	if m == nil {
		return
	}
	m.runInFlight.Inc()
}

func (m *Metrics) finishRun(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.runInFlight.Dec()
	m.runTotal.WithLabelValues(status(err)).Inc()
	m.runDuration.Observe(duration.Seconds())
}

func (m *Metrics) observeStage(stage string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.stageTotal.WithLabelValues(stage, status(err)).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
