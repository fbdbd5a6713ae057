package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ytingest/config"
	httpclient "ytingest/http"
	"ytingest/ingest"
	"ytingest/metrics"
	"ytingest/quota"
	"ytingest/storage"
	"ytingest/youtube"
)

// etagTTL bounds how long a cached listing may back a conditional request.
const etagTTL = 14 * 24 * time.Hour

const connectTimeout = 10 * time.Second

// openStore opens the configured document store backend.
func openStore(ctx context.Context, cfg *config.Config) (storage.DocumentStore, error) {
	switch cfg.StoreBackend {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "file":
		return storage.NewFileStore(cfg.StorePath)
	case "mongo":
		ctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		return storage.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// openCache returns the Redis ETag cache when an address is configured, and
// an in-process cache otherwise. closeFn releases it.
func openCache(ctx context.Context, cfg *config.Config) (cache youtube.Cache, closeFn func() error, err error) {
	if cfg.RedisAddr == "" {
		return youtube.NewMemoryCache(), func() error { return nil }, nil
	}
	rc, err := youtube.DialRedisCache(ctx, cfg.RedisAddr, etagTTL)
	if err != nil {
		return nil, nil, err
	}
	return rc, rc.Close, nil
}

// httpClients builds the Data API client and the caption client. Only the
// Data API treats every 403 as quota exhaustion.
func httpClients(cfg *config.Config, logger *slog.Logger) (api, captions *httpclient.Client) {
	base := func() *httpclient.Config {
		hc := httpclient.DefaultConfig()
		hc.Timeout = cfg.RequestTimeout
		hc.CircuitBreaker.OnStateChange = func(host string, from, to httpclient.CircuitState) {
			logger.Warn("circuit state changed", "host", host, "from", from.String(), "to", to.String())
		}
		hc.Retry = cfg.RetryConfig()
		hc.Transport.MaxConnsPerHost = cfg.MaxConnections
		if hc.Transport.MaxIdleConnsPerHost > cfg.MaxConnections {
			hc.Transport.MaxIdleConnsPerHost = cfg.MaxConnections
		}
		return hc
	}

	apiCfg := base()
	apiCfg.ForbiddenIsQuota = true
	return httpclient.New(apiCfg), httpclient.New(base())
}

func limits(cfg *config.Config) quota.Limits {
	return quota.Limits{
		Reads:  cfg.ReadQuota,
		Writes: cfg.WriteQuota,
		API:    cfg.APIQuota,
	}
}

// app holds the long-lived components of one invocation.
type app struct {
	runner  *ingest.Runner
	closers []func() error
}

func (a *app) Close(logger *slog.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}
}

// newApp wires the store, the metadata source, the transcript resolver and
// the runner from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)

	cache, closeCache, err := openCache(ctx, cfg)
	if err != nil {
		a.Close(logger)
		return nil, err
	}
	a.closers = append(a.closers, closeCache)

	apiHTTP, captionHTTP := httpClients(cfg, logger)
	a.closers = append(a.closers, apiHTTP.Close, captionHTTP.Close)

	src := youtube.NewSource(apiHTTP, youtube.SourceConfig{
		BaseURL: cfg.APIBaseURL,
		APIKey:  cfg.APIKey,
		Cache:   cache,
		Logger:  logger,
	})
	metadata := func(counters *quota.Counters) ingest.Metadata {
		return youtube.NewMetadata(src.WithCounters(counters))
	}

	timedtext := youtube.NewTimedtextClient(captionHTTP, "", cfg.TranscriptLanguage)
	resolver := youtube.NewResolver(timedtext, cfg.TranscriptWorkers, logger)
	a.closers = append(a.closers, resolver.Close)

	runnerCfg := ingest.RunnerConfig{
		Pipeline: ingest.Config{
			ChannelID:         cfg.ChannelID,
			ChannelName:       cfg.ChannelName,
			DescriptionMarker: cfg.DescriptionMarker,
			PlaylistLimit:     cfg.DebugPlaylistLimit,
		},
		Limits:      limits(cfg),
		MetricsFile: cfg.MetricsFile,
	}
	a.runner = ingest.NewRunner(runnerCfg, store, metadata, resolver, metrics.New(), logger)
	return a, nil
}
