package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks ingestion, ranking, export and profile mutations.
type Metrics struct {
	IngestRuns       *prometheus.CounterVec
	RegisteredProfiles prometheus.Gauge
	ClippedValues    *prometheus.CounterVec
	RankDuration     prometheus.Histogram
	RankFailures     prometheus.Counter
	Exports          prometheus.Counter
	ProfileUpdates   *prometheus.CounterVec
	ModelSelections  *prometheus.CounterVec
}

// New registers the collectors with reg, or the default registry when reg is
// nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		IngestRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pm_ingest_runs_total",
			Help: "Dataset ingestion runs by outcome",
		}, []string{"outcome"}),
		RegisteredProfiles: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pm_registered_profiles",
			Help: "Machine profiles currently registered",
		}),
		ClippedValues: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pm_ingest_clipped_values_total",
			Help: "Feature values clipped into the outlier fence",
		}, []string{"feature"}),
		RankDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pm_rank_duration_seconds",
			Help:    "Duration of full population rankings",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		RankFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "pm_rank_failures_total",
			Help: "Rankings that failed because a machine could not be scored",
		}),
		Exports: factory.NewCounter(prometheus.CounterOpts{
			Name: "pm_exports_total",
			Help: "Risk reports written",
		}),
		ProfileUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pm_profile_mutations_total",
			Help: "Single profile mutations by operation",
		}, []string{"op"}),
		ModelSelections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pm_model_selections_total",
			Help: "Scorer selections by model name",
		}, []string{"model"}),
	}
}

// ObserveRank records the duration of a ranking started at start.
func (m *Metrics) ObserveRank(start time.Time) {
	m.RankDuration.Observe(time.Since(start).Seconds())
}
