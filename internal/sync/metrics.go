package sync

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/synaxhq/synax/internal/store"
)

// Metrics are the prometheus collectors the engine updates
type Metrics struct {
	cycles        *prometheus.CounterVec
	items         *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	queueDepth    *prometheus.GaugeVec
}

// NewMetrics creates the engine collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synax",
			Subsystem: "sync",
			Name:      "cycles_total",
			Help:      "Sync cycles by outcome.",
		}, []string{"outcome"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synax",
			Subsystem: "sync",
			Name:      "items_total",
			Help:      "Replayed outbox records by kind, result and error type.",
		}, []string{"kind", "result", "error_type"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "synax",
			Subsystem: "sync",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of completed and failed sync cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "synax",
			Subsystem: "outbox",
			Name:      "records",
			Help:      "Outbox records by kind and status.",
		}, []string{"kind", "status"}),
	}

	if reg != nil {
		reg.MustRegister(m.cycles, m.items, m.cycleDuration, m.queueDepth)
	}
	return m
}

func (m *Metrics) cycle(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.cycleDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) item(kind store.Kind, errorType ErrorType) {
	if m == nil {
		return
	}
	result := "synced"
	if errorType != "" {
		result = "failed"
	}
	m.items.WithLabelValues(string(kind), result, string(errorType)).Inc()
}

// SetQueueDepth records outbox counts
func (m *Metrics) SetQueueDepth(c store.Counts) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(string(store.KindMutation), string(store.StatusPending)).Set(float64(c.PendingMutations))
	m.queueDepth.WithLabelValues(string(store.KindMutation), string(store.StatusFailed)).Set(float64(c.FailedMutations))
	m.queueDepth.WithLabelValues(string(store.KindImage), string(store.StatusPending)).Set(float64(c.PendingImages))
	m.queueDepth.WithLabelValues(string(store.KindImage), string(store.StatusFailed)).Set(float64(c.FailedImages))
}
