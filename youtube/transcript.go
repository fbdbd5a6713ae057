package youtube

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"ytingest/storage"
)

// Fetcher retrieves a transcript. Implementations may block; the Resolver
// keeps them on its own goroutines.
type Fetcher interface {
	Fetch(ctx context.Context, videoID string) (string, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, videoID string) (string, error)

func (f FetcherFunc) Fetch(ctx context.Context, videoID string) (string, error) {
	return f(ctx, videoID)
}

// Outcome is the classified result of one transcript attempt.
type Outcome struct {
	Status storage.TranscriptStatus
	Text   string
}

type transcriptJob struct {
	ctx     context.Context
	videoID string
	reply   chan transcriptReply
}

type transcriptReply struct {
	text string
	err  error
}

// Resolver runs transcript fetches on a fixed pool of workers.
type Resolver struct {
	fetcher Fetcher
	jobs    chan transcriptJob
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	workers int
	logger  *slog.Logger
}

// NewResolver starts workers goroutines (at least one) serving fetcher.
func NewResolver(fetcher Fetcher, workers int, logger *slog.Logger) *Resolver {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		fetcher: fetcher,
		jobs:    make(chan transcriptJob),
		done:    make(chan struct{}),
		workers: workers,
		logger:  logger,
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// Workers returns the number of workers in the pool.
func (r *Resolver) Workers() int {
	return r.workers
}

func (r *Resolver) worker() {
	defer r.wg.Done()
	for {
		select {
		case job := <-r.jobs:
			text, err := r.fetcher.Fetch(job.ctx, job.videoID)
			job.reply <- transcriptReply{text: text, err: err}
		case <-r.done:
			return
		}
	}
}

// Resolve fetches videoID's transcript and classifies the result. Only
// cancellation of ctx and a closed resolver are returned as errors.
func (r *Resolver) Resolve(ctx context.Context, videoID string) (Outcome, error) {
	reply := make(chan transcriptReply, 1)
	select {
	case r.jobs <- transcriptJob{ctx: ctx, videoID: videoID, reply: reply}:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case <-r.done:
		return Outcome{}, ErrResolverClosed
	}

	select {
	case rep := <-reply:
		if rep.err != nil && ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		out := Classify(rep.text, rep.err)
		if rep.err != nil {
			r.logger.Debug("transcript not downloaded", "video_id", videoID, "status", out.Status, "error", rep.err)
		}
		return out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Close stops the workers after in-flight fetches return.
func (r *Resolver) Close() error {
	r.once.Do(func() { close(r.done) })
	r.wg.Wait()
	return nil
}

// Classify maps a fetch result to a transcript status. Throttling and
// upstream failures leave the transcript pending; anything else marks it
// unavailable.
func Classify(text string, err error) Outcome {
	switch {
	case err == nil && text != "":
		return Outcome{Status: storage.TranscriptDownloaded, Text: text}
	case errors.Is(err, ErrTranscriptRateLimited), transientCaptionError(err):
		return Outcome{Status: storage.TranscriptPending}
	default:
		return Outcome{Status: storage.TranscriptUnavailable}
	}
}
