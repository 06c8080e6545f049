package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bdobrica/Kioku/common/retry"
	"github.com/bdobrica/Kioku/internal/kioku/metrics"
)

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	// Provider labels metrics and logs ("tei", "openai", "hash", "noop").
	Provider string
	// Model is recorded beside every stored vector.
	Model string
	// Dimension every returned vector must have. Defaults to 768.
	Dimension int
	// Timeout bounds each encoder attempt. Zero means no per-call timeout
	// beyond the caller's context.
	Timeout time.Duration
	Retry   retry.Config
	Logger  *slog.Logger
}

// Generator is the embedding policy in front of an Embedder.
type Generator struct {
	embedder Embedder
	cfg      GeneratorConfig
	logger   *slog.Logger
}

// NewGenerator wraps e.
func NewGenerator(e Embedder, cfg GeneratorConfig) *Generator {
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.Provider == "" {
		cfg.Provider = "unknown"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{embedder: e, cfg: cfg, logger: logger.With("provider", cfg.Provider)}
}

// Dimension returns the vector length the Generator enforces.
func (g *Generator) Dimension() int { return g.cfg.Dimension }

// Model returns the configured model name.
func (g *Generator) Model() string { return g.cfg.Model }

// Embed returns the vector for normalizedText, or nil when the text is
// empty or the encoder declines to embed it. A vector of the wrong length
// is reported as ErrDimensionMismatch and not retried.
func (g *Generator) Embed(ctx context.Context, normalizedText string) ([]float32, error) {
	if strings.TrimSpace(normalizedText) == "" {
		metrics.EmbeddingCalls.WithLabelValues(g.cfg.Provider, metrics.ResultEmpty).Inc()
		return nil, nil
	}

	start := time.Now()
	defer metrics.Since(metrics.EmbeddingLatency.WithLabelValues(g.cfg.Provider), start)

	var vec []float32
	cfg := g.cfg.Retry
	cfg.OnRetry = func(attempt int, err error) {
		g.logger.Warn("embedding attempt failed", "attempt", attempt, "err", err)
	}
	err := retry.Do(ctx, cfg, func() error {
		callCtx, cancel := g.callContext(ctx)
		defer cancel()

		v, err := g.embedder.Embed(callCtx, normalizedText)
		if err != nil {
			return err
		}
		if v != nil && len(v) != g.cfg.Dimension {
			return retry.Permanent(fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), g.cfg.Dimension))
		}
		vec = v
		return nil
	})
	if err != nil {
		metrics.EmbeddingCalls.WithLabelValues(g.cfg.Provider, metrics.ResultError).Inc()
		return nil, fmt.Errorf("embed: %w", err)
	}
	if vec == nil {
		metrics.EmbeddingCalls.WithLabelValues(g.cfg.Provider, metrics.ResultEmpty).Inc()
		return nil, nil
	}
	metrics.EmbeddingCalls.WithLabelValues(g.cfg.Provider, metrics.ResultOK).Inc()
	return vec, nil
}

func (g *Generator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, g.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

var _ Embedder = (*Generator)(nil)
