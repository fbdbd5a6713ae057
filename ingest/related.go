package ingest

import (
	"context"
	"log/slog"
	"math/rand/v2"

	"ytingest/quota"
	"ytingest/storage"
)

// RelatedStats counts what related-video enrichment did.
type RelatedStats struct {
	Checked int
	Updated int
	// Truncated is set when the budget ran out before the list was done.
	Truncated bool
}

// RelatedEnricher unions same-channel related video ids into each known
// video's "related" field.
type RelatedEnricher struct {
	channelID string
	meta      Metadata
	store     *storage.Client
	logger    *slog.Logger
	shuffle   func([]string)
}

// NewRelatedEnricher creates an enricher for channelID.
func NewRelatedEnricher(channelID string, meta Metadata, store *storage.Client, logger *slog.Logger) *RelatedEnricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RelatedEnricher{
		channelID: channelID,
		meta:      meta,
		store:     store,
		logger:    logger,
		shuffle: func(ids []string) {
			rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		},
	}
}

// Enrich visits ids in random order so repeated exhaustion does not starve
// the same tail. Running out of quota stops the walk without an error.
func (e *RelatedEnricher) Enrich(ctx context.Context, ids []string) (RelatedStats, error) {
	var st RelatedStats
	order := append([]string(nil), ids...)
	e.shuffle(order)

	for _, id := range order {
		related, err := e.sameChannelRelated(ctx, id)
		if err == nil && len(related) > 0 {
			err = e.store.AddRelatedVideos(ctx, id, related...)
			if err == nil {
				st.Updated++
			}
		}
		if quota.IsExceeded(err) {
			e.logger.Warn("quota exhausted, related enrichment stopped",
				"checked", st.Checked, "remaining", len(order)-st.Checked, "error", err)
			st.Truncated = true
			return st, nil
		}
		if err != nil {
			return st, err
		}
		st.Checked++
	}

	e.logger.Info("related enrichment finished", "checked", st.Checked, "updated", st.Updated)
	return st, nil
}

func (e *RelatedEnricher) sameChannelRelated(ctx context.Context, videoID string) ([]string, error) {
	var ids []string
	for r, err := range e.meta.RelatedVideos(ctx, videoID) {
		if err != nil {
			return nil, err
		}
		if r.Id == nil || r.Id.VideoId == "" || r.Id.VideoId == videoID {
			continue
		}
		if r.Snippet == nil || r.Snippet.ChannelId != e.channelID {
			continue
		}
		ids = append(ids, r.Id.VideoId)
	}
	return ids, nil
}
