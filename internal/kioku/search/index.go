package search

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bdobrica/Kioku/internal/kioku/embedding"
	"github.com/bdobrica/Kioku/internal/kioku/store"
)

// Index finds the stored vectors most similar to a query.
type Index interface {
	// Search returns at most limit hits with score strictly above
	// threshold, ordered by non-increasing score. Ties keep message-ID
	// order. A query whose length differs from the index dimension is an
	// error.
	Search(ctx context.Context, q []float32, threshold float64, limit int) ([]Hit, error)
}

func checkQuery(q []float32, dim int) error {
	if len(q) != dim {
		return fmt.Errorf("search: query has %d components, index has %d: %w", len(q), dim, embedding.ErrDimensionMismatch)
	}
	return nil
}

// StoreIndex scans message_embeddings on every query and scores in Go.
// It always reflects committed data and needs no warm-up.
type StoreIndex struct {
	store  *store.Store
	dim    int
	logger *slog.Logger
}

// NewStoreIndex returns an index over s for vectors of length dim.
func NewStoreIndex(s *store.Store, dim int, logger *slog.Logger) *StoreIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreIndex{store: s, dim: dim, logger: logger}
}

func (x *StoreIndex) Search(ctx context.Context, q []float32, threshold float64, limit int) ([]Hit, error) {
	if err := checkQuery(q, x.dim); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	r := ranker{threshold: threshold}
	skipped := 0
	err := x.store.ScanEmbeddings(ctx, func(id int64, vec []float32) error {
		if len(vec) != x.dim {
			skipped++
			return nil
		}
		r.offer(id, Cosine(q, vec))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if skipped > 0 {
		x.logger.Warn("skipped stored vectors with foreign dimension", "count", skipped, "dimension", x.dim)
	}
	return r.top(limit), nil
}

// MemoryIndex keeps a snapshot of all vectors in memory. Load fills it from
// the store; Put and Delete keep it current as messages are embedded.
type MemoryIndex struct {
	dim int

	mu   sync.RWMutex
	vecs map[int64][]float32
}

// NewMemoryIndex returns an empty index for vectors of length dim.
func NewMemoryIndex(dim int) *MemoryIndex {
	return &MemoryIndex{dim: dim, vecs: make(map[int64][]float32)}
}

// Load replaces the contents of the index with every stored vector of the
// right dimension and returns how many were loaded.
func (x *MemoryIndex) Load(ctx context.Context, s *store.Store) (int, error) {
	vecs := make(map[int64][]float32)
	err := s.ScanEmbeddings(ctx, func(id int64, vec []float32) error {
		if len(vec) == x.dim {
			vecs[id] = vec
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("load index: %w", err)
	}

	x.mu.Lock()
	x.vecs = vecs
	x.mu.Unlock()
	return len(vecs), nil
}

// Put adds or replaces the vector of messageID. Vectors of the wrong
// dimension are ignored.
func (x *MemoryIndex) Put(messageID int64, vec []float32) {
	if len(vec) != x.dim {
		return
	}
	cp := append([]float32(nil), vec...)
	x.mu.Lock()
	x.vecs[messageID] = cp
	x.mu.Unlock()
}

// Delete removes the vector of messageID.
func (x *MemoryIndex) Delete(messageID int64) {
	x.mu.Lock()
	delete(x.vecs, messageID)
	x.mu.Unlock()
}

// Len returns the number of indexed vectors.
func (x *MemoryIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vecs)
}

func (x *MemoryIndex) Search(ctx context.Context, q []float32, threshold float64, limit int) ([]Hit, error) {
	if err := checkQuery(q, x.dim); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	ids := make([]int64, 0, len(x.vecs))
	for id := range x.vecs {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	r := ranker{threshold: threshold}
	for i, id := range ids {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		r.offer(id, Cosine(q, x.vecs[id]))
	}
	return r.top(limit), nil
}

var (
	_ Index = (*StoreIndex)(nil)
	_ Index = (*MemoryIndex)(nil)
)
