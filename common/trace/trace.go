// Package trace generates correlation IDs and carries them through a
// context so that every log line of one ingestion or query can be grouped.
package trace

import (
	"context"

	"github.com/google/uuid"
)

// traceKey is the unexported context key used to store the trace ID.
type traceKey struct{}

// GenerateID returns a new random trace ID with the given prefix, e.g.
// "ing_3f0c...". An empty prefix defaults to "t".
func GenerateID(prefix string) string {
	if prefix == "" {
		prefix = "t"
	}
	return prefix + "_" + uuid.NewString()
}

// WithTraceID returns a child context carrying the given trace ID.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// FromContext extracts the trace ID from ctx, returning "" if absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// Ensure returns ctx unchanged when it already carries a trace ID, and a
// child context with a freshly generated one otherwise.
func Ensure(ctx context.Context, prefix string) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := GenerateID(prefix)
	return WithTraceID(ctx, id), id
}
