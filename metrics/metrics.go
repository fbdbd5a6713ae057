// Package metrics provides Prometheus metrics for ingestion runs. A run is a
// batch job, so the metrics are written to a node-exporter textfile instead
// of being scraped.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ytingest/quota"
)

const namespace = "ytingest"

// Run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// Metrics holds the collectors of one process, on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	// RunsTotal counts runs by outcome.
	RunsTotal *prometheus.CounterVec
	// RunDuration is the wall time of the last run.
	RunDuration prometheus.Gauge
	// LastRun is the unix time the last run finished.
	LastRun prometheus.Gauge
	// QuotaUsed and QuotaLimit are the budget totals of the last run.
	QuotaUsed  *prometheus.GaugeVec
	QuotaLimit *prometheus.GaugeVec
	// Playlists, Videos and Transcripts count pipeline results by state.
	Playlists   *prometheus.GaugeVec
	Videos      *prometheus.GaugeVec
	Transcripts *prometheus.GaugeVec
	// RelatedUpdated counts videos given related ids in the last run.
	RelatedUpdated prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of ingestion runs",
			},
			[]string{"outcome"},
		),
		RunDuration: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of the last ingestion run in seconds",
		}),
		LastRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last ingestion run finished",
		}),
		QuotaUsed: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "quota_used",
				Help:      "Budget consumed by the last run",
			},
			[]string{"kind"},
		),
		QuotaLimit: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "quota_limit",
				Help:      "Budget ceiling of the last run (0 = unbounded)",
			},
			[]string{"kind"},
		),
		Playlists: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "playlists",
				Help:      "Playlists handled by the last run",
			},
			[]string{"state"},
		),
		Videos: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "videos",
				Help:      "Videos handled by the last run",
			},
			[]string{"state"},
		),
		Transcripts: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "transcripts",
				Help:      "Transcript attempts of the last run by resulting status",
			},
			[]string{"status"},
		),
		RelatedUpdated: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "related_updated",
			Help:      "Videos whose related ids were extended by the last run",
		}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordRun records a finished run.
func (m *Metrics) RecordRun(outcome string, duration time.Duration, finished time.Time) {
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.Set(duration.Seconds())
	m.LastRun.Set(float64(finished.Unix()))
}

// RecordQuota records the budget totals and ceilings of a run.
func (m *Metrics) RecordQuota(used quota.Snapshot, limits quota.Limits) {
	m.QuotaUsed.WithLabelValues(string(quota.Read)).Set(float64(used.Reads))
	m.QuotaUsed.WithLabelValues(string(quota.Write)).Set(float64(used.Writes))
	m.QuotaUsed.WithLabelValues(string(quota.API)).Set(float64(used.API))
	m.QuotaLimit.WithLabelValues(string(quota.Read)).Set(float64(limits.Reads))
	m.QuotaLimit.WithLabelValues(string(quota.Write)).Set(float64(limits.Writes))
	m.QuotaLimit.WithLabelValues(string(quota.API)).Set(float64(limits.API))
}

// WriteToTextfile writes every metric to path atomically.
func (m *Metrics) WriteToTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
