package weaver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Unit outcomes recorded by Metrics.
const (
	ResultWoven     = "woven"
	ResultUnchanged = "unchanged"
	ResultFailed    = "failed"
)

// Metrics records transformation outcomes on a caller-supplied registry.
type Metrics struct {
	units    *prometheus.CounterVec
	methods  prometheus.Counter
	duration prometheus.Histogram
}

// NewMetrics registers the weaving metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// units counts transformed units by outcome
		units: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "glowroot_weaving_units_total",
			Help: "Total compiled units passed through the weaver by result",
		}, []string{"result"}),

		// methods counts methods that received advice
		methods: factory.NewCounter(prometheus.CounterOpts{
			Name: "glowroot_weaving_methods_woven_total",
			Help: "Total methods woven with advice",
		}),

		// duration tracks per-unit transformation latency
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "glowroot_weaving_duration_seconds",
			Help:    "Unit transformation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
		}),
	}
}

func (m *Metrics) observe(result string, woven int, start time.Time) {
	if m == nil {
		return
	}
	m.units.WithLabelValues(result).Inc()
	if woven > 0 {
		m.methods.Add(float64(woven))
	}
	m.duration.Observe(time.Since(start).Seconds())
}
