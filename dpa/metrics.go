package dpa

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the prometheus collectors updated by an Attacker.
type Metrics struct {
	GuessesScored    prometheus.Counter
	GuessesUnscored  prometheus.Counter
	TracesGrouped    *prometheus.CounterVec
	KeybytesResolved *prometheus.CounterVec
	KeybyteDuration  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GuessesScored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dpa",
			Name:      "guesses_scored_total",
			Help:      "Key guesses for which a differential trace was computed.",
		}),
		GuessesUnscored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dpa",
			Name:      "guesses_unscored_total",
			Help:      "Key guesses skipped because the low or high group was empty.",
		}),
		TracesGrouped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dpa",
			Name:      "traces_grouped_total",
			Help:      "Traces assigned to a group, summed over all guesses.",
		}, []string{"bucket"}),
		KeybytesResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dpa",
			Name:      "keybytes_total",
			Help:      "Attacked keybytes by outcome.",
		}, []string{"outcome"}),
		KeybyteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dpa",
			Name:      "keybyte_sweep_seconds",
			Help:      "Wall time of one keybyte guess sweep.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.GuessesScored, m.GuessesUnscored, m.TracesGrouped, m.KeybytesResolved, m.KeybyteDuration)
	}
	return m
}
