package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/sosodev/duration"
	yt "google.golang.org/api/youtube/v3"

	"ytingest/storage"
	"ytingest/youtube"
)

// ensureVideo creates or refreshes one video record. It returns nil without
// error when the video is gone or belongs to another channel.
func (p *Pipeline) ensureVideo(ctx context.Context, videoID string) (*storage.Video, error) {
	v, err := p.meta.Video(ctx, videoID)
	if errors.Is(err, youtube.ErrVideoNotFound) {
		p.logger.Info("video unavailable", "video_id", videoID)
		p.stats.videosExcluded.Add(1)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if v.Snippet == nil || v.Snippet.ChannelId != p.cfg.ChannelID {
		p.logger.Info("video excluded, other channel", "video_id", videoID)
		p.stats.videosExcluded.Add(1)
		return nil, nil
	}

	existing, err := p.store.GetVideo(ctx, videoID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	record := videoRecord(v, p.cfg.DescriptionMarker, p.now())
	if existing.NeedsTranscript() {
		out, err := p.transcripts.Resolve(ctx, videoID)
		if err != nil {
			return nil, err
		}
		record.TranscriptStatus = out.Status
		record.Transcript = out.Text
		p.countTranscript(out.Status)
	}

	if err := p.store.MergeVideo(ctx, record); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.enriched[videoID] = struct{}{}
	p.mu.Unlock()
	p.stats.videosEnriched.Add(1)
	p.logger.Debug("video stored", "video_id", videoID, "transcript_status", record.TranscriptStatus)
	return record, nil
}

func (p *Pipeline) countTranscript(status storage.TranscriptStatus) {
	switch status {
	case storage.TranscriptDownloaded:
		p.stats.transcriptsDownloaded.Add(1)
	case storage.TranscriptPending:
		p.stats.transcriptsPending.Add(1)
	case storage.TranscriptUnavailable:
		p.stats.transcriptsUnavailable.Add(1)
	}
}

// videoRecord maps a Data API video onto the stored record. Transcript
// fields are left empty for the caller.
func videoRecord(v *yt.Video, marker string, now time.Time) *storage.Video {
	s := v.Snippet
	record := &storage.Video{
		ID:                 v.Id,
		Title:              s.Title,
		Description:        s.Description,
		TrimmedDescription: trimDescription(s.Description, marker),
		Slug:               slug.Make(s.Title),
		ChannelID:          s.ChannelId,
		ChannelTitle:       s.ChannelTitle,
		Tags:               s.Tags,
		ThumbnailURL:       bestThumbnail(s.Thumbnails),
		UpdatedAt:          now.UTC(),
	}
	if record.Slug == "" {
		record.Slug = slug.Make(v.Id)
	}
	if t, err := time.Parse(time.RFC3339, s.PublishedAt); err == nil {
		record.PublishedAt = t.UTC()
	}
	if v.ContentDetails != nil {
		record.DurationSeconds = durationSeconds(v.ContentDetails.Duration)
	}
	if st := v.Statistics; st != nil {
		record.ViewCount = int64(st.ViewCount)
		record.LikeCount = int64(st.LikeCount)
		record.CommentCount = int64(st.CommentCount)
		record.FavoriteCount = int64(st.FavoriteCount)
	}
	return record
}

// trimDescription returns the text before marker, or all of it when the
// marker is empty or absent.
func trimDescription(description, marker string) string {
	if marker == "" {
		return strings.TrimSpace(description)
	}
	before, _, _ := strings.Cut(description, marker)
	return strings.TrimSpace(before)
}

// durationSeconds parses an ISO-8601 duration such as PT1H2M3S. Live and
// upcoming videos report P0D or nothing, which yields 0.
func durationSeconds(iso string) int64 {
	if iso == "" {
		return 0
	}
	d, err := duration.Parse(iso)
	if err != nil {
		return 0
	}
	return int64(d.ToTimeDuration() / time.Second)
}

func bestThumbnail(t *yt.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*yt.Thumbnail{t.Maxres, t.Standard, t.High, t.Medium, t.Default} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}
