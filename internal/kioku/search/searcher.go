package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bdobrica/Kioku/internal/kioku/embedding"
	"github.com/bdobrica/Kioku/internal/kioku/metrics"
	"github.com/bdobrica/Kioku/internal/kioku/store"
)

// Normalizer maps free text to the normalized form that was embedded.
type Normalizer interface {
	Normalize(text string) string
}

// Result is a hydrated search hit.
type Result struct {
	Message *store.Message
	Score   float64
}

// Searcher runs similarity searches and loads the matching messages.
type Searcher struct {
	index      Index
	store      *store.Store
	normalizer Normalizer
	embedder   embedding.Embedder
	backend    string
	logger     *slog.Logger
}

// SearcherConfig wires a Searcher.
type SearcherConfig struct {
	Index      Index
	Store      *store.Store
	Normalizer Normalizer
	Embedder   embedding.Embedder
	// Backend labels metrics ("sqlite" or "memory").
	Backend string
	Logger  *slog.Logger
}

// NewSearcher returns a Searcher.
func NewSearcher(cfg SearcherConfig) *Searcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Backend == "" {
		cfg.Backend = "sqlite"
	}
	return &Searcher{
		index:      cfg.Index,
		store:      cfg.Store,
		normalizer: cfg.Normalizer,
		embedder:   cfg.Embedder,
		backend:    cfg.Backend,
		logger:     cfg.Logger,
	}
}

// SimilaritySearch returns at most limit messages whose embedding scores
// strictly above threshold against q, best first. Messages without an
// embedding never match. Nothing clearing the threshold yields an empty
// result, not an error.
func (s *Searcher) SimilaritySearch(ctx context.Context, q []float32, threshold float64, limit int) ([]Result, error) {
	start := time.Now()
	defer metrics.Since(metrics.SearchDuration.WithLabelValues(s.backend), start)
	metrics.Searches.WithLabelValues(s.backend).Inc()

	hits, err := s.index.Search(ctx, q, threshold, limit)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.MessageID
	}
	msgs, err := s.store.GetMessages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("search: load messages: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		m, ok := msgs[h.MessageID]
		if !ok {
			s.logger.Debug("search hit without message", "message_id", h.MessageID)
			continue
		}
		results = append(results, Result{Message: m, Score: h.Score})
	}
	metrics.SearchHits.Observe(float64(len(results)))
	return results, nil
}

// SearchText normalizes and embeds text, then runs SimilaritySearch. Text
// that normalizes to nothing matches nothing.
func (s *Searcher) SearchText(ctx context.Context, text string, threshold float64, limit int) ([]Result, error) {
	normalized := s.normalizer.Normalize(text)
	if normalized == "" {
		return nil, nil
	}
	q, err := s.embedder.Embed(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}
	if q == nil {
		return nil, nil
	}
	return s.SimilaritySearch(ctx, q, threshold, limit)
}
