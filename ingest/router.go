package ingest

import (
	"context"
	"errors"
)

// routeVideos is the fan-in coordinator of stage 3. It owns the routing
// table from video id to that video's mailbox; every pair for a video goes
// to the one worker started on its first sighting.
func (p *Pipeline) routeVideos(ctx context.Context, in <-chan pair) error {
	g := newGroup(ctx, &p.out, p.logger)
	routes := make(map[string]*mailbox)

loop:
	for {
		select {
		case pr, ok := <-in:
			if !ok {
				break loop
			}
			mb, found := routes[pr.videoID]
			if !found {
				mb = newMailbox()
				routes[pr.videoID] = mb
				videoID := pr.videoID
				g.Go("video "+videoID, func(ctx context.Context) error {
					return p.videoWorker(ctx, videoID, mb)
				})
			}
			mb.put(pr.playlistID)
		case <-g.Context().Done():
			break loop
		}
	}

	for id, mb := range routes {
		mb.close()
		delete(routes, id)
	}
	return g.Wait()
}

// videoWorker handles every pair of one video in arrival order. The first
// pair creates or refreshes the record; the playlist ids gathered until the
// mailbox closes are then written in a single union.
func (p *Pipeline) videoWorker(ctx context.Context, videoID string, mb *mailbox) (err error) {
	first, ok, err := mb.next(ctx)
	if !ok {
		return err
	}

	video, err := p.ensureVideo(ctx, videoID)
	if err != nil {
		return err
	}
	if video == nil {
		for {
			if _, ok, err := mb.next(ctx); !ok {
				return err
			}
		}
	}

	playlists := []string{first}
	seen := map[string]struct{}{first: {}}
	defer func() {
		if ferr := p.flushMembership(ctx, videoID, playlists); ferr != nil {
			err = errors.Join(err, ferr)
		}
	}()

	for {
		id, ok, err := mb.next(ctx)
		if !ok {
			return err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		playlists = append(playlists, id)
	}
}

// flushMembership appends the gathered playlist ids to the video. It runs
// after the record exists, even when the worker is stopped early.
func (p *Pipeline) flushMembership(ctx context.Context, videoID string, playlists []string) error {
	if err := p.store.AddVideoPlaylists(context.WithoutCancel(ctx), videoID, playlists...); err != nil {
		return err
	}
	p.stats.membershipWrites.Add(1)
	return nil
}
