package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ytingest/metrics"
	"ytingest/quota"
	"ytingest/storage"
)

// Options selects what one run does.
type Options struct {
	// CheckNew runs the pipeline and records the run in run metadata.
	CheckNew bool
	// Related runs related-video enrichment over every known video.
	Related bool
	// Debug limits discovery to channel-section playlists.
	Debug bool
}

// RunnerConfig is the static part of every run.
type RunnerConfig struct {
	Pipeline Config
	Limits   quota.Limits
	// MetricsFile receives a Prometheus textfile after each run; empty
	// disables it.
	MetricsFile string
}

// MetadataFactory builds the metadata source of a run, charging API units to
// counters.
type MetadataFactory func(counters *quota.Counters) Metadata

// Report summarizes a run.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	// Pipeline is nil when the run did not check for new videos.
	Pipeline *Result
	// Related is nil when related enrichment did not run.
	Related *RelatedStats
	// NewVideos is the number of ids added to run metadata.
	NewVideos int
	// KnownVideos is the size of the known set after the run.
	KnownVideos int
	Quota       quota.Snapshot
}

// Partial reports whether quota exhaustion cut any part of the run short.
func (r *Report) Partial() bool {
	return (r.Pipeline != nil && r.Pipeline.Partial()) || (r.Related != nil && r.Related.Truncated)
}

// Runner drives ingestion runs end to end.
type Runner struct {
	cfg         RunnerConfig
	store       storage.DocumentStore
	metadata    MetadataFactory
	transcripts Transcripts
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewRunner wires a runner. m may be nil.
func NewRunner(cfg RunnerConfig, store storage.DocumentStore, metadata MetadataFactory, transcripts Transcripts, m *metrics.Metrics, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:         cfg,
		store:       store,
		metadata:    metadata,
		transcripts: transcripts,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// Run performs one run with fresh budgets. Quota exhaustion yields a partial
// Report and no error; any other failure aborts the run.
func (r *Runner) Run(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Started: r.now()}
	logger := r.logger.With("run_id", report.RunID)
	counters := quota.New(r.cfg.Limits)
	client := storage.NewClient(r.store, counters)
	meta := r.metadata(counters)

	logger.Info("run started", "check_new", opts.CheckNew, "related", opts.Related, "debug", opts.Debug)

	err := r.run(ctx, opts, report, client, meta, logger)
	report.Finished = r.now()
	report.Quota = counters.Snapshot()
	r.record(report, err, logger)
	if err != nil {
		logger.Error("run failed", "error", err)
		return nil, err
	}

	logger.Info("run finished",
		"partial", report.Partial(),
		"new_videos", report.NewVideos,
		"reads", report.Quota.Reads,
		"writes", report.Quota.Writes,
		"api_units", report.Quota.API,
		"duration", report.Finished.Sub(report.Started))
	return report, nil
}

func (r *Runner) run(ctx context.Context, opts Options, report *Report, client *storage.Client, meta Metadata, logger *slog.Logger) error {
	if opts.CheckNew {
		cfg := r.cfg.Pipeline
		cfg.Debug = opts.Debug
		res, err := NewPipeline(cfg, meta, client, r.transcripts, logger).Run(ctx)
		if err != nil {
			return err
		}
		report.Pipeline = res

		// Partial runs are recorded too.
		err = client.EditRunMeta(ctx, func(m *storage.RunMeta) error {
			report.NewVideos = m.AddVideoIDs(res.VideoIDs...)
			report.KnownVideos = len(m.VideoIDs)
			m.LastUpdated = r.now().UTC()
			m.LastRunID = report.RunID
			return nil
		})
		if err != nil {
			return err
		}
	}

	if opts.Related {
		m, err := client.GetRunMeta(ctx)
		if err != nil {
			return err
		}
		report.KnownVideos = len(m.VideoIDs)
		st, err := NewRelatedEnricher(r.cfg.Pipeline.ChannelID, meta, client, logger).Enrich(ctx, m.VideoIDs)
		if err != nil {
			return err
		}
		report.Related = &st
	}
	return nil
}

func (r *Runner) record(report *Report, runErr error, logger *slog.Logger) {
	if r.metrics == nil {
		return
	}

	outcome := metrics.OutcomeSuccess
	switch {
	case runErr != nil:
		outcome = metrics.OutcomeFailed
	case report.Partial():
		outcome = metrics.OutcomePartial
	}
	r.metrics.RecordRun(outcome, report.Finished.Sub(report.Started), report.Finished)
	r.metrics.RecordQuota(report.Quota, r.cfg.Limits)

	if p := report.Pipeline; p != nil {
		r.metrics.Playlists.WithLabelValues("seen").Set(float64(p.Stats.PlaylistsSeen))
		r.metrics.Playlists.WithLabelValues("written").Set(float64(p.Stats.PlaylistsWritten))
		r.metrics.Playlists.WithLabelValues("skipped").Set(float64(p.Stats.PlaylistsSkipped))
		r.metrics.Playlists.WithLabelValues("unchanged").Set(float64(p.Stats.PlaylistsUnchanged))
		r.metrics.Videos.WithLabelValues("enriched").Set(float64(p.Stats.VideosEnriched))
		r.metrics.Videos.WithLabelValues("excluded").Set(float64(p.Stats.VideosExcluded))
		r.metrics.Transcripts.WithLabelValues(string(storage.TranscriptDownloaded)).Set(float64(p.Stats.TranscriptsDownloaded))
		r.metrics.Transcripts.WithLabelValues(string(storage.TranscriptPending)).Set(float64(p.Stats.TranscriptsPending))
		r.metrics.Transcripts.WithLabelValues(string(storage.TranscriptUnavailable)).Set(float64(p.Stats.TranscriptsUnavailable))
	}
	if report.Related != nil {
		r.metrics.RelatedUpdated.Set(float64(report.Related.Updated))
	}

	if r.cfg.MetricsFile == "" {
		return
	}
	if err := r.metrics.WriteToTextfile(r.cfg.MetricsFile); err != nil {
		logger.Warn("write metrics textfile failed", "path", r.cfg.MetricsFile, "error", err)
	}
}
