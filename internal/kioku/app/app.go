// Package app wires the Kioku components from a configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bdobrica/Kioku/common/redact"
	"github.com/bdobrica/Kioku/internal/kioku/config"
	"github.com/bdobrica/Kioku/internal/kioku/embedding"
	"github.com/bdobrica/Kioku/internal/kioku/identity"
	"github.com/bdobrica/Kioku/internal/kioku/ingest"
	"github.com/bdobrica/Kioku/internal/kioku/metrics"
	"github.com/bdobrica/Kioku/internal/kioku/provision"
	"github.com/bdobrica/Kioku/internal/kioku/retrieval"
	"github.com/bdobrica/Kioku/internal/kioku/search"
	"github.com/bdobrica/Kioku/internal/kioku/session"
	"github.com/bdobrica/Kioku/internal/kioku/store"
	"github.com/bdobrica/Kioku/internal/kioku/textnorm"
)

// App holds the wired components. Fields are safe to use concurrently.
type App struct {
	Config     *config.Config
	Store      *store.Store
	Normalizer *textnorm.Normalizer
	// Embedder is the full encoder stack: cache, then policy, then client.
	Embedder  embedding.Embedder
	Generator *embedding.Generator
	Resolver  *identity.Resolver
	Ingestor  *ingest.Ingestor
	Index     search.Index
	Searcher  *search.Searcher
	Assembler *retrieval.Assembler
	Sessions  *session.Store

	probe  provision.Prober
	redis  *redis.Client
	logger *slog.Logger
}

// New opens the store and builds every component described by cfg. The
// caller must Close the App.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Store, err = store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	a.Normalizer, err = textnorm.New(cfg.Normalizer.Language)
	if err != nil {
		return nil, err
	}

	if err := a.buildEmbedder(ctx); err != nil {
		return nil, err
	}

	a.Resolver = identity.NewResolver(a.Store, logger)

	var observer ingest.Observer
	switch cfg.Search.Backend {
	case "memory":
		idx := search.NewMemoryIndex(cfg.Embedding.Dimension)
		n, err := idx.Load(ctx, a.Store)
		if err != nil {
			return nil, fmt.Errorf("load vector index: %w", err)
		}
		logger.Info("in-memory vector index loaded", "vectors", n)
		a.Index, observer = idx, idx
	default:
		a.Index = search.NewStoreIndex(a.Store, cfg.Embedding.Dimension, logger)
	}

	a.Ingestor, err = ingest.New(ingest.Config{
		Store:              a.Store,
		Resolver:           a.Resolver,
		Normalizer:         a.Normalizer,
		Embedder:           a.Embedder,
		Model:              a.Generator.Model(),
		ReembedConcurrency: cfg.Ingest.ReembedConcurrency,
		Observer:           observer,
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}

	a.Searcher = search.NewSearcher(search.SearcherConfig{
		Index:      a.Index,
		Store:      a.Store,
		Normalizer: a.Normalizer,
		Embedder:   a.Embedder,
		Backend:    cfg.Search.Backend,
		Logger:     logger,
	})
	a.Assembler = retrieval.NewAssembler(a.Store, cfg.Context.Before, cfg.Context.After, logger)
	a.Sessions = session.NewStore(session.Config{
		MaxTurns:    cfg.Session.MaxTurns,
		IdleTTL:     cfg.Session.IdleTTL,
		MaxSessions: cfg.Session.MaxSessions,
	})

	logger.Info("kioku initialised",
		"database", cfg.Database.Path,
		"language", a.Normalizer.Language(),
		"embedding_provider", cfg.Embedding.Provider,
		"embedding_model", cfg.Embedding.Model,
		"embedding_url", redact.URL(cfg.Embedding.BaseURL),
		"api_key", redact.Secret(cfg.Embedding.APIKey),
		"cache", cfg.Embedding.Cache.Backend,
		"search_backend", cfg.Search.Backend)
	return a, nil
}

func (a *App) buildEmbedder(ctx context.Context) error {
	ec := a.Config.Embedding

	var raw embedding.Embedder
	switch ec.Provider {
	case "tei":
		tei := embedding.NewTEIEmbedder(embedding.TEIConfig{BaseURL: ec.BaseURL, Timeout: ec.Timeout, Normalize: true})
		raw, a.probe = tei, tei
	case "openai":
		if ec.APIKey == "" {
			return fmt.Errorf("embedding provider openai: no API key in $%s", ec.APIKeyEnv)
		}
		raw = embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			APIKey:     ec.APIKey,
			BaseURL:    ec.BaseURL,
			Model:      ec.Model,
			Dimensions: ec.Dimension,
			Timeout:    ec.Timeout,
		})
	case "hash":
		raw = embedding.NewHashEmbedder(ec.Dimension)
	case "noop":
		raw = embedding.NoopEmbedder{}
	default:
		return fmt.Errorf("unknown embedding provider %q", ec.Provider)
	}

	a.Generator = embedding.NewGenerator(raw, embedding.GeneratorConfig{
		Provider:  ec.Provider,
		Model:     ec.Model,
		Dimension: ec.Dimension,
		Timeout:   ec.Timeout,
		Retry:     ec.Retry,
		Logger:    a.logger,
	})

	var cache embedding.Cache
	switch ec.Cache.Backend {
	case "memory":
		cache = embedding.NewMemoryCache(ec.Cache.TTL)
	case "redis":
		rc := ec.Cache.Redis
		client, err := embedding.DialRedis(ctx, rc.Addr, rc.Password, rc.DB)
		if err != nil {
			return fmt.Errorf("embedding cache: %w", redactErr(err, rc.Password))
		}
		a.redis = client
		cache = embedding.NewRedisCache(client, rc.Prefix, ec.Cache.TTL)
	}
	if cache == nil || ec.Provider == "noop" {
		a.Embedder = a.Generator
		return nil
	}
	a.Embedder = embedding.NewCachedEmbedder(a.Generator, cache, ec.Model, ec.Cache.Backend, a.logger)
	return nil
}

func redactErr(err error, secrets ...string) error {
	return errors.New(redact.String(err.Error(), secrets...))
}

// EncoderProbe returns the health check of the configured encoder, or nil
// when the provider has none.
func (a *App) EncoderProbe() provision.Prober {
	return a.probe
}

// EncoderSpec describes the encoder container from the configuration.
func (a *App) EncoderSpec() provision.Spec {
	ec := a.Config.Encoder
	return provision.Spec{
		Image:      ec.Image,
		Name:       ec.Name,
		ModelID:    ec.ModelID,
		HostPort:   ec.HostPort,
		DataVolume: ec.DataVolume,
	}
}

// Serve runs the health, status and metrics HTTP server and the session
// eviction loop until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	srv := NewServer(a.Config.Server.Addr, a.Store, a.Sessions, a.logger)
	srv.Handle(a.Config.Server.MetricsPath, metrics.Handler())

	if ttl := a.Config.Session.IdleTTL; ttl > 0 {
		go a.evictSessions(ctx, max(ttl/4, time.Minute))
	}
	return srv.Run(ctx, nil)
}

func (a *App) evictSessions(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := a.Sessions.EvictIdle(now); n > 0 {
				a.logger.Debug("evicted idle sessions", "count", n)
			}
		}
	}
}

// Close releases the store and cache connections.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
