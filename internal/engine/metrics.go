package engine

import "github.com/prometheus/client_golang/prometheus"

var RecomputeCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "scoreboard",
	Subsystem: "engine",
	Name:      "recomputations",
}, []string{"engine"})

var RecomputeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "scoreboard",
	Subsystem: "engine",
	Name:      "recompute_duration_seconds",
	Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
}, []string{"engine"})

var DeliveryFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "scoreboard",
	Subsystem: "engine",
	Name:      "observer_failures",
}, []string{"engine", "kind"})

var SubscriptionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "scoreboard",
	Subsystem: "engine",
	Name:      "subscription_errors",
}, []string{"engine"})

var Observers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "scoreboard",
	Subsystem: "engine",
	Name:      "observers",
}, []string{"engine"})

var ProjectionSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "scoreboard",
	Subsystem: "engine",
	Name:      "projection_players",
}, []string{"engine"})

var EngineState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "scoreboard",
	Subsystem: "engine",
	Name:      "state",
}, []string{"engine"})

// Collectors returns every engine metric for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		RecomputeCount,
		RecomputeDuration,
		DeliveryFailures,
		SubscriptionErrors,
		Observers,
		ProjectionSize,
		EngineState,
	}
}
