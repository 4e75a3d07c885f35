package cascade

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess            = "success"
	outcomeFailure            = "failure"
	outcomePropagationTimeout = "propagation_timeout"
)

// Metrics holds the cascade's Prometheus collectors
type Metrics struct {
	levelUpdates  *prometheus.CounterVec
	levelDuration *prometheus.HistogramVec
	background    *prometheus.CounterVec
}

// NewMetrics registers cascade metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		levelUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "learning_stats",
			Subsystem: "cascade",
			Name:      "level_updates_total",
			Help:      "Stats level updates by level, action and outcome.",
		}, []string{"level", "action", "outcome"}),
		levelDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "learning_stats",
			Subsystem: "cascade",
			Name:      "level_update_duration_seconds",
			Help:      "Time spent updating one stats level, including propagation polling.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"level"}),
		background: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "learning_stats",
			Subsystem: "cascade",
			Name:      "background_dispatch_total",
			Help:      "Backgrounded team/org cascades by dispatch path.",
		}, []string{"path"}),
	}
}

func (m *Metrics) observeLevel(level, action, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.levelUpdates.WithLabelValues(level, action, outcome).Inc()
	m.levelDuration.WithLabelValues(level).Observe(seconds)
}

func (m *Metrics) observeBackground(path string) {
	if m == nil {
		return
	}
	m.background.WithLabelValues(path).Inc()
}
