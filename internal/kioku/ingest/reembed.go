package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/Kioku/common/trace"
	"github.com/bdobrica/Kioku/internal/kioku/metrics"
	"github.com/bdobrica/Kioku/internal/kioku/observability"
	"github.com/bdobrica/Kioku/internal/kioku/store"
)

// ReembedOptions selects the messages Reembed rewrites.
type ReembedOptions struct {
	// OnlyMissing limits the run to messages without a stored vector.
	OnlyMissing bool
}

// ReembedResult summarizes a Reembed run.
type ReembedResult struct {
	Total   int
	Updated int
	// Cleared counts messages whose text now normalizes to nothing and
	// whose vector was therefore removed.
	Cleared int
	Failed  int
}

type reembedded struct {
	msg        *store.Message
	normalized string
	vec        []float32
}

// Reembed normalizes and embeds stored messages again, for instance after
// an encoder upgrade. Only normalized text and vectors change. Messages the
// encoder fails on keep their previous vector and are counted as failed.
func (i *Ingestor) Reembed(ctx context.Context, opts ReembedOptions) (ReembedResult, error) {
	ctx, _ = trace.Ensure(ctx, "reembed")
	log := observability.WithTrace(ctx, i.cfg.Logger)
	started := time.Now()

	msgs, err := i.cfg.Store.MessagesForReembed(ctx, opts.OnlyMissing)
	if err != nil {
		return ReembedResult{}, err
	}
	res := ReembedResult{Total: len(msgs)}
	log.Info("re-embedding messages", "messages", len(msgs), "only_missing", opts.OnlyMissing)

	var (
		mu   sync.Mutex
		done []reembedded
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.cfg.ReembedConcurrency)
	for _, m := range msgs {
		g.Go(func() error {
			normalized := i.cfg.Normalizer.Normalize(m.RawText)
			vec, err := i.cfg.Embedder.Embed(gctx, normalized)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				res.Failed++
				metrics.Reembedded.WithLabelValues(metrics.ResultError).Inc()
				log.Warn("re-embed failed", "message_id", m.ID, "err", err)
				return nil
			}
			done = append(done, reembedded{msg: m, normalized: normalized, vec: vec})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, fmt.Errorf("reembed: %w", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	err = i.cfg.Store.InTx(ctx, func(tx *store.Tx) error {
		for _, r := range done {
			if r.normalized != r.msg.NormalizedText {
				if err := tx.UpdateNormalizedText(ctx, r.msg.ID, r.normalized); err != nil {
					return err
				}
			}
			if r.vec == nil {
				if err := tx.DeleteEmbedding(ctx, r.msg.ID); err != nil {
					return err
				}
				continue
			}
			if err := tx.SetEmbedding(ctx, r.msg.ID, r.vec, i.cfg.Model); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("reembed: %w", err)
	}

	for _, r := range done {
		if r.vec == nil {
			res.Cleared++
			metrics.Reembedded.WithLabelValues(metrics.ResultEmpty).Inc()
			if i.cfg.Observer != nil {
				i.cfg.Observer.Delete(r.msg.ID)
			}
			continue
		}
		res.Updated++
		metrics.Reembedded.WithLabelValues(metrics.ResultOK).Inc()
		if i.cfg.Observer != nil {
			i.cfg.Observer.Put(r.msg.ID, r.vec)
		}
	}
	log.Info("re-embed finished",
		"updated", res.Updated, "cleared", res.Cleared, "failed", res.Failed,
		"duration", time.Since(started))
	return res, nil
}
