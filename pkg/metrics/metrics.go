package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the daemon.
type Metrics struct {
	Evaluations     prometheus.Counter
	GatedSamples    prometheus.Counter
	DroppedSamples  prometheus.Counter
	Searches        *prometheus.CounterVec
	SearchErrors    *prometheus.CounterVec
	SearchDuration  prometheus.Histogram
	Recommendations *prometheus.CounterVec
	Throttled       *prometheus.CounterVec
	ModeTransitions *prometheus.CounterVec
	GeofenceEvents  *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which tests use to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Evaluations: f.NewCounter(prometheus.CounterOpts{
			Name: "shopsense_evaluations_total",
			Help: "Location samples that passed the movement gate and were evaluated",
		}),
		GatedSamples: f.NewCounter(prometheus.CounterOpts{
			Name: "shopsense_gated_samples_total",
			Help: "Location samples skipped because the user had not moved far enough",
		}),
		DroppedSamples: f.NewCounter(prometheus.CounterOpts{
			Name: "shopsense_dropped_samples_total",
			Help: "Location samples replaced by a newer one before evaluation started",
		}),
		Searches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shopsense_place_searches_total",
			Help: "Nearby place searches by provider",
		}, []string{"provider"}),
		SearchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shopsense_place_search_errors_total",
			Help: "Failed nearby place searches by provider",
		}, []string{"provider"}),
		SearchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "shopsense_place_search_duration_seconds",
			Help:    "Latency of nearby place searches",
			Buckets: prometheus.DefBuckets,
		}),
		Recommendations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shopsense_recommendations_total",
			Help: "Recommendations delivered to the notification sink by category",
		}, []string{"category"}),
		Throttled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shopsense_recommendations_throttled_total",
			Help: "Recommendations suppressed by the cooldown by category",
		}, []string{"category"}),
		ModeTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shopsense_mode_transitions_total",
			Help: "Shopping mode transitions by target state",
		}, []string{"to"}),
		GeofenceEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shopsense_geofence_transitions_total",
			Help: "Home geofence transitions by kind",
		}, []string{"kind"}),
	}
}

// Discard returns collectors that are not registered anywhere.
func Discard() *Metrics {
	return New(nil)
}
