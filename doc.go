// Package ytingest ingests a YouTube channel into a document store.
//
// A run discovers the channel's playlists through the YouTube Data API v3,
// records every playlist and every video of the channel, attaches playlist
// membership and transcripts to each video, and optionally extends videos
// with same-channel related videos. Every run works within budgets for store
// reads, store writes and API units; running out ends the affected work early
// and the run completes with partial data.
//
// # Pipeline
//
// A run is three concurrent stages connected by channels:
//
//   - discovery emits playlist ids from the channel's sections, its uploads
//     playlist and its owned playlists
//   - playlist resolution lists each distinct playlist once, emits one
//     (video, playlist) pair per item of the channel and writes the playlist
//     record
//   - video resolution routes all pairs of a video to one worker, which
//     creates or refreshes the record, resolves the transcript and then
//     writes the gathered membership in one union
//
// A video's membership is never written before its record exists, and each
// video's metadata is fetched once per run however many playlists list it.
//
// # Command
//
// The ytingest command (package cli) drives runs:
//
//	ytingest run --check-new             # discover and store new videos
//	ytingest run --check-new --related   # then extend related videos
//	ytingest run --check-new --debug     # channel-section playlists only
//	ytingest validate                    # check records against the schema
//
// # Configuration
//
// Settings load from several sources, later ones winning:
//
//  1. Defaults
//  2. Config file (ytingest.json or ~/.config/ytingest/ytingest.json)
//  3. .env in the working directory
//  4. YTINGEST_* environment variables, one per config key
//
// The required keys are channel_id, channel_name and api_key. See package
// config for the rest.
//
// # Storage
//
// Records live at videos/{id}, playlists/{id} and meta/run. Backends are an
// in-process map, a JSON file guarded by a file lock, and MongoDB. Listings
// are cached by ETag in memory or in Redis so unchanged playlists cost one
// conditional request.
//
// # Error Handling
//
// Quota conditions match ErrQuotaExceeded:
//
//	if errors.Is(err, ytingest.ErrQuotaExceeded) {
//		fmt.Println("budget spent, rerun later")
//	}
//
// Any other error aborts the run.
//
// # Packages
//
//   - ingest: pipeline, related-video enrichment and the run driver
//   - youtube: Data API source, ETag caches and the transcript resolver
//   - storage: document store contract, backends, records and validation
//   - quota: per-run budgets
//   - http: upstream client with retry, rate limiting and a circuit breaker
//   - metrics: Prometheus textfile metrics
//   - config: configuration management
package ytingest
