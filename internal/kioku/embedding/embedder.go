// Package embedding turns normalized text into dense vectors.
//
// An Embedder is the raw encoder collaborator (a text-embeddings-inference
// server, an OpenAI-compatible API, or an offline hash). Generator wraps one
// with the policy ingestion and search rely on: empty input produces no
// vector, every vector has the configured dimension, and each call is bounded
// by a timeout and retried on transient failure.
package embedding

import (
	"context"
	"errors"
)

// DefaultDimension is the width of the sentence encoder's vectors.
const DefaultDimension = 768

// ErrDimensionMismatch is returned when an encoder produces a vector whose
// length differs from the configured dimension.
var ErrDimensionMismatch = errors.New("embedding: dimension mismatch")

// Embedder produces vector embeddings for text.
type Embedder interface {
	// Embed produces a vector embedding for the given text.
	// Returns nil with no error for empty text or when embedding is
	// not available (noop).
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NoopEmbedder never produces a vector. With it, messages are stored
// without embeddings and similarity search finds nothing.
type NoopEmbedder struct{}

// Embed always returns nil, nil.
func (NoopEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, nil
}

var _ Embedder = NoopEmbedder{}
