// Package ingest runs the ingestion pipeline: playlist discovery, playlist
// resolution and per-video resolution, plus related-video enrichment and the
// run driver that ties them together.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gosimple/slug"
	yt "google.golang.org/api/youtube/v3"

	"ytingest/storage"
	"ytingest/youtube"
)

// Metadata is the metadata source consumed by the pipeline.
// *youtube.Metadata implements it.
type Metadata interface {
	Channel(ctx context.Context, channelID string) (*yt.Channel, error)
	ChannelSectionPlaylists(ctx context.Context, channelID string) iter.Seq2[string, error]
	ChannelPlaylists(ctx context.Context, channelID string) iter.Seq2[string, error]
	Playlist(ctx context.Context, playlistID string) (*yt.Playlist, error)
	PlaylistItems(ctx context.Context, playlistID string) (iter.Seq2[*yt.PlaylistItem, error], bool, error)
	Video(ctx context.Context, videoID string) (*yt.Video, error)
	RelatedVideos(ctx context.Context, videoID string) iter.Seq2[*yt.SearchResult, error]
}

// Transcripts resolves a video's transcript. *youtube.Resolver implements it.
type Transcripts interface {
	Resolve(ctx context.Context, videoID string) (youtube.Outcome, error)
}

// Config selects the channel and the pipeline's mode.
type Config struct {
	ChannelID   string
	ChannelName string
	// DescriptionMarker cuts the trimmed description; empty keeps it whole.
	DescriptionMarker string
	// Debug discovers channel-section playlists only.
	Debug bool
	// PlaylistLimit caps distinct playlists resolved in debug mode (0 = all).
	PlaylistLimit int
}

// Stats counts what a pipeline run did.
type Stats struct {
	PlaylistsSeen          int64
	PlaylistsWritten       int64
	PlaylistsSkipped       int64
	PlaylistsUnchanged     int64
	VideosEnriched         int64
	VideosExcluded         int64
	MembershipWrites       int64
	TranscriptsDownloaded  int64
	TranscriptsPending     int64
	TranscriptsUnavailable int64
}

type stats struct {
	playlistsSeen, playlistsWritten, playlistsSkipped, playlistsUnchanged atomic.Int64
	videosEnriched, videosExcluded, membershipWrites                      atomic.Int64
	transcriptsDownloaded, transcriptsPending, transcriptsUnavailable     atomic.Int64
}

func (s *stats) snapshot() Stats {
	return Stats{
		PlaylistsSeen:          s.playlistsSeen.Load(),
		PlaylistsWritten:       s.playlistsWritten.Load(),
		PlaylistsSkipped:       s.playlistsSkipped.Load(),
		PlaylistsUnchanged:     s.playlistsUnchanged.Load(),
		VideosEnriched:         s.videosEnriched.Load(),
		VideosExcluded:         s.videosExcluded.Load(),
		MembershipWrites:       s.membershipWrites.Load(),
		TranscriptsDownloaded:  s.transcriptsDownloaded.Load(),
		TranscriptsPending:     s.transcriptsPending.Load(),
		TranscriptsUnavailable: s.transcriptsUnavailable.Load(),
	}
}

// Result is the outcome of a pipeline run that was not aborted.
type Result struct {
	Stats Stats
	// VideoIDs lists the videos whose record was created or refreshed.
	VideoIDs []string
	// QuotaErrors holds the budget exhaustions that stopped tasks early.
	QuotaErrors []error
}

// Partial reports whether quota exhaustion cut the run short.
func (r *Result) Partial() bool { return len(r.QuotaErrors) > 0 }

// pair routes one playlist membership to stage 3.
type pair struct {
	videoID    string
	playlistID string
}

// Pipeline is one run's three-stage graph. Create a new one per run.
type Pipeline struct {
	cfg         Config
	meta        Metadata
	store       *storage.Client
	transcripts Transcripts
	logger      *slog.Logger
	now         func() time.Time

	stats    stats
	out      outcomes
	mu       sync.Mutex
	enriched map[string]struct{}
}

// NewPipeline wires a pipeline.
func NewPipeline(cfg Config, meta Metadata, store *storage.Client, transcripts Transcripts, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:         cfg,
		meta:        meta,
		store:       store,
		transcripts: transcripts,
		logger:      logger,
		now:         time.Now,
		enriched:    make(map[string]struct{}),
	}
}

// Run executes the three stages. Quota exhaustion anywhere ends the affected
// tasks early and yields a partial Result; any other error aborts the run.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	g := newGroup(ctx, &p.out, p.logger)

	playlistIDs := make(chan string)
	pairs := make(chan pair)

	g.Go("discover playlists", func(ctx context.Context) error {
		defer close(playlistIDs)
		return p.discover(ctx, playlistIDs)
	})
	g.Go("resolve playlists", func(ctx context.Context) error {
		defer close(pairs)
		return p.resolvePlaylists(ctx, playlistIDs, pairs)
	})
	g.Go("resolve videos", func(ctx context.Context) error {
		return p.routeVideos(ctx, pairs)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{
		Stats:       p.stats.snapshot(),
		VideoIDs:    p.enrichedIDs(),
		QuotaErrors: p.out.quotaErrors(),
	}
	p.logger.Info("pipeline finished",
		"playlists", res.Stats.PlaylistsSeen,
		"videos", res.Stats.VideosEnriched,
		"excluded", res.Stats.VideosExcluded,
		"partial", res.Partial())
	return res, nil
}

func (p *Pipeline) enrichedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.enriched))
	for id := range p.enriched {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// discover emits playlist ids as each source yields them. Ids may repeat.
func (p *Pipeline) discover(ctx context.Context, out chan<- string) error {
	channel, err := p.meta.Channel(ctx, p.cfg.ChannelID)
	if err != nil {
		return err
	}

	g := newGroup(ctx, &p.out, p.logger)
	g.Go("channel sections", func(ctx context.Context) error {
		return emitAll(ctx, p.meta.ChannelSectionPlaylists(ctx, p.cfg.ChannelID), out)
	})
	if !p.cfg.Debug {
		g.Go("uploads playlist", func(ctx context.Context) error {
			if id := youtube.UploadsPlaylistID(channel); id != "" {
				return send(ctx, out, id)
			}
			return nil
		})
		g.Go("channel playlists", func(ctx context.Context) error {
			return emitAll(ctx, p.meta.ChannelPlaylists(ctx, p.cfg.ChannelID), out)
		})
	}
	return g.Wait()
}

func emitAll(ctx context.Context, ids iter.Seq2[string, error], out chan<- string) error {
	for id, err := range ids {
		if err != nil {
			return err
		}
		if err := send(ctx, out, id); err != nil {
			return err
		}
	}
	return nil
}

func send[T any](ctx context.Context, out chan<- T, v T) error {
	select {
	case out <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolvePlaylists is the single coordinator of stage 2: it alone owns the
// seen set and starts one task per distinct playlist.
func (p *Pipeline) resolvePlaylists(ctx context.Context, in <-chan string, out chan<- pair) error {
	g := newGroup(ctx, &p.out, p.logger)
	seen := make(map[string]struct{})

loop:
	for {
		select {
		case id, ok := <-in:
			if !ok {
				break loop
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if p.cfg.Debug && p.cfg.PlaylistLimit > 0 && len(seen) > p.cfg.PlaylistLimit {
				continue
			}
			p.stats.playlistsSeen.Add(1)
			g.Go("playlist "+id, func(ctx context.Context) error {
				return p.resolvePlaylist(ctx, id, out)
			})
		case <-g.Context().Done():
			break loop
		}
	}
	return g.Wait()
}

// resolvePlaylist emits a pair per retained item, then writes the playlist
// record unless it is the uploads playlist, or unchanged since the last run
// and already stored.
func (p *Pipeline) resolvePlaylist(ctx context.Context, playlistID string, out chan<- pair) error {
	pl, err := p.meta.Playlist(ctx, playlistID)
	if errors.Is(err, youtube.ErrPlaylistNotFound) {
		p.logger.Info("playlist not found", "playlist_id", playlistID)
		p.stats.playlistsSkipped.Add(1)
		return nil
	}
	if err != nil {
		return err
	}
	if pl.Snippet == nil || pl.Snippet.ChannelTitle != p.cfg.ChannelName {
		p.logger.Debug("playlist belongs to another channel", "playlist_id", playlistID)
		p.stats.playlistsSkipped.Add(1)
		return nil
	}
	uploads := pl.Snippet.Title == youtube.UploadsTitle(pl.Snippet.ChannelTitle)

	items, notModified, err := p.meta.PlaylistItems(ctx, playlistID)
	if err != nil {
		return err
	}

	count := 0
	var last time.Time
	for item, err := range items {
		if err != nil {
			return err
		}
		videoID := youtube.ItemVideoID(item)
		if videoID == "" || youtube.ItemChannelID(item) != p.cfg.ChannelID {
			continue
		}
		count++
		if t, ok := youtube.ItemPublishedAt(item); ok && t.After(last) {
			last = t
		}
		if err := send(ctx, out, pair{videoID: videoID, playlistID: playlistID}); err != nil {
			return err
		}
	}

	if uploads {
		p.logger.Debug("uploads playlist resolved", "playlist_id", playlistID, "videos", count)
		return nil
	}
	if notModified {
		stored, err := p.store.PlaylistExists(ctx, playlistID)
		if err != nil {
			return err
		}
		if stored {
			p.logger.Debug("playlist unchanged", "playlist_id", playlistID)
			p.stats.playlistsUnchanged.Add(1)
			return nil
		}
	}

	record := &storage.Playlist{
		ID:           playlistID,
		Title:        pl.Snippet.Title,
		Description:  pl.Snippet.Description,
		ChannelID:    pl.Snippet.ChannelId,
		ChannelTitle: pl.Snippet.ChannelTitle,
		Slug:         slug.Make(pl.Snippet.Title),
		VideoCount:   count,
		UpdatedAt:    p.now().UTC(),
	}
	if !last.IsZero() {
		record.LastUpdated = &last
	}
	if raw, err := json.Marshal(pl); err == nil {
		record.Raw = raw
	}
	if err := p.store.SetPlaylist(ctx, record); err != nil {
		return err
	}
	p.stats.playlistsWritten.Add(1)
	p.logger.Info("playlist stored", "playlist_id", playlistID, "videos", count)
	return nil
}
