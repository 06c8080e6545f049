// Package ingest turns speaker-labelled transcripts into stored, embedded
// messages.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/Kioku/common/trace"
	"github.com/bdobrica/Kioku/internal/kioku/embedding"
	"github.com/bdobrica/Kioku/internal/kioku/identity"
	"github.com/bdobrica/Kioku/internal/kioku/metrics"
	"github.com/bdobrica/Kioku/internal/kioku/observability"
	"github.com/bdobrica/Kioku/internal/kioku/store"
	"github.com/bdobrica/Kioku/internal/kioku/transcript"
)

// ErrIngest prefixes every ingestion failure.
var ErrIngest = errors.New("could not ingest transcript")

// Normalizer maps raw message text to its normalized form.
type Normalizer interface {
	Normalize(text string) string
}

// Observer is told about embeddings once they are committed.
type Observer interface {
	Put(messageID int64, vec []float32)
	Delete(messageID int64)
}

// Config wires an Ingestor.
type Config struct {
	Store      *store.Store
	Resolver   *identity.Resolver
	Normalizer Normalizer
	Embedder   embedding.Embedder
	// Model is recorded next to every stored vector.
	Model string
	// ReembedConcurrency bounds concurrent encoder calls in Reembed.
	// Default: 4.
	ReembedConcurrency int
	Observer           Observer
	Logger             *slog.Logger
}

// Ingestor writes transcripts to the store. Ingestions are serialized.
type Ingestor struct {
	mu  sync.Mutex
	cfg Config
}

// New returns an Ingestor. Store, Resolver, Normalizer and Embedder are
// required.
func New(cfg Config) (*Ingestor, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("ingest: store is required")
	case cfg.Resolver == nil:
		return nil, errors.New("ingest: resolver is required")
	case cfg.Normalizer == nil:
		return nil, errors.New("ingest: normalizer is required")
	case cfg.Embedder == nil:
		return nil, errors.New("ingest: embedder is required")
	}
	if cfg.ReembedConcurrency <= 0 {
		cfg.ReembedConcurrency = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Ingestor{cfg: cfg}, nil
}

// Request is one transcript to ingest. Exactly one of Entries and Reader
// is used; Reader wins when both are set.
type Request struct {
	Entries []transcript.Entry
	// Reader yields a JSON array of {"speaker","text","start"} records.
	Reader io.Reader
	// Date is YYYY-MM-DD and Time is HH:MM or HH:MM:SS.
	Date   string
	Time   string
	Source string
}

// PendingUser is a participant whose external handle is still unknown.
type PendingUser struct {
	ID          int64
	DisplayName string
}

// EmbeddingWarning records a message that was stored without a vector
// because the encoder failed.
type EmbeddingWarning struct {
	// Turn is the index of the message within the transcript.
	Turn    int
	Speaker string
	Err     error
}

func (w EmbeddingWarning) Error() string {
	return fmt.Sprintf("turn %d (%s): %v", w.Turn, w.Speaker, w.Err)
}

func (w EmbeddingWarning) Unwrap() error { return w.Err }

// Result describes a committed ingestion.
type Result struct {
	ConversationID int64
	MessageIDs     []int64
	// Messages is the number of coalesced messages stored.
	Messages int
	// Skipped counts records missing a speaker, text or start.
	Skipped        int
	PendingHandles []PendingUser
	Warnings       []EmbeddingWarning
	TraceID        string
}

// prepared is a turn ready to be written.
type prepared struct {
	turn       transcript.Turn
	normalized string
	vec        []float32
}

// Ingest stores one transcript as a conversation. Every user, conversation
// and message write commits together or not at all. Encoder failures do
// not abort the ingestion; the affected messages are stored without a
// vector and reported in Result.Warnings.
func (i *Ingestor) Ingest(ctx context.Context, req Request) (res *Result, err error) {
	started := time.Now()
	ctx, traceID := trace.Ensure(ctx, "ing")
	log := observability.WithTrace(ctx, i.cfg.Logger)

	defer func() {
		metrics.Since(metrics.IngestDuration, started)
		switch {
		case err != nil:
			metrics.Ingestions.WithLabelValues(metrics.ResultError).Inc()
			log.Error("ingestion failed", "err", err)
		case len(res.Warnings) > 0:
			metrics.Ingestions.WithLabelValues(metrics.ResultPartial).Inc()
		default:
			metrics.Ingestions.WithLabelValues(metrics.ResultOK).Inc()
		}
	}()

	entries, skipped, err := readEntries(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIngest, err)
	}
	start, err := transcript.ParseStart(req.Date, req.Time)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIngest, err)
	}

	speakers := transcript.Speakers(entries)
	turns := transcript.Coalesce(entries, start)
	log.Info("ingesting transcript",
		"records", len(entries), "skipped", skipped,
		"speakers", len(speakers), "turns", len(turns), "source", req.Source)

	res = &Result{Skipped: skipped, TraceID: traceID}
	batch, err := i.prepare(ctx, log, turns, res)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIngest, err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	err = i.cfg.Store.InTx(ctx, func(tx *store.Tx) error {
		return i.write(ctx, tx, start, req.Source, speakers, batch, res)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIngest, err)
	}

	if i.cfg.Observer != nil {
		for k, p := range batch {
			if p.vec != nil {
				i.cfg.Observer.Put(res.MessageIDs[k], p.vec)
			}
		}
	}
	metrics.MessagesIngested.Add(float64(res.Messages))
	log.Info("transcript ingested",
		"conversation_id", res.ConversationID,
		"messages", res.Messages,
		"pending_handles", len(res.PendingHandles),
		"embedding_warnings", len(res.Warnings),
		"duration", time.Since(started))
	return res, nil
}

func readEntries(req Request) ([]transcript.Entry, int, error) {
	if req.Reader != nil {
		entries, stats, err := transcript.Parse(req.Reader)
		if err != nil {
			return nil, 0, err
		}
		return entries, stats.Skipped, nil
	}
	skipped := 0
	for _, e := range req.Entries {
		if !e.Complete() {
			skipped++
		}
	}
	return req.Entries, skipped, nil
}

// prepare normalizes and embeds every turn outside the write transaction.
func (i *Ingestor) prepare(ctx context.Context, log *slog.Logger, turns []transcript.Turn, res *Result) ([]prepared, error) {
	batch := make([]prepared, len(turns))
	for k, t := range turns {
		p := prepared{turn: t, normalized: i.cfg.Normalizer.Normalize(t.Text)}
		vec, err := i.cfg.Embedder.Embed(ctx, p.normalized)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			w := EmbeddingWarning{Turn: k, Speaker: t.Speaker, Err: err}
			log.Warn("storing message without embedding", "turn", k, "speaker", t.Speaker, "err", err)
			res.Warnings = append(res.Warnings, w)
		}
		p.vec = vec
		batch[k] = p
	}
	return batch, nil
}

func (i *Ingestor) write(ctx context.Context, tx *store.Tx, start transcript.Start, source string, speakers []string, batch []prepared, res *Result) error {
	conv := &store.Conversation{Date: start.Date, Time: start.Time(), Source: source}
	if err := tx.CreateConversation(ctx, conv); err != nil {
		return err
	}

	users := make(map[string]int64, len(speakers))
	pending := make(map[int64]bool)
	for _, name := range speakers {
		u, _, err := i.cfg.Resolver.ResolveOrCreate(ctx, tx, name)
		if err != nil {
			return err
		}
		if err := tx.AddParticipant(ctx, conv.ID, u.ID); err != nil {
			return err
		}
		users[name] = u.ID
		if u.NeedsHandle() && !pending[u.ID] {
			pending[u.ID] = true
			res.PendingHandles = append(res.PendingHandles, PendingUser{ID: u.ID, DisplayName: u.DisplayName})
		}
	}

	ids := make([]int64, 0, len(batch))
	for _, p := range batch {
		m := &store.Message{
			ConversationID: conv.ID,
			UserID:         users[p.turn.Speaker],
			RawText:        p.turn.Text,
			NormalizedText: p.normalized,
			Date:           p.turn.Date,
			Time:           p.turn.Time,
		}
		if err := tx.InsertMessage(ctx, m); err != nil {
			return err
		}
		if p.vec != nil {
			if err := tx.SetEmbedding(ctx, m.ID, p.vec, i.cfg.Model); err != nil {
				return err
			}
		}
		ids = append(ids, m.ID)
	}

	res.ConversationID = conv.ID
	res.MessageIDs = ids
	res.Messages = len(ids)
	return nil
}
