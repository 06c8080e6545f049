// Package metrics defines Kioku's Prometheus metrics.
//
// Metrics are registered on the default registry at init time and exposed by
// the app server through promhttp.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kioku"

// Result label values.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultEmpty   = "empty"
	ResultHit     = "hit"
	ResultMiss    = "miss"
	ResultPartial = "partial"
)

// =============================================================================
// Ingestion
// =============================================================================

var (
	// Ingestions counts transcript ingestions by result (ok, partial, error).
	Ingestions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Transcript ingestions by result",
		},
		[]string{"result"},
	)

	// MessagesIngested counts coalesced messages committed to the store.
	MessagesIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_ingested_total",
			Help:      "Coalesced messages committed by ingestion",
		},
	)

	// IngestDuration tracks the wall time of one ingestion.
	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Transcript ingestion latency",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	// Merges counts identity merges caused by handle collisions.
	Merges = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_merges_total",
			Help:      "User identities absorbed by a handle-collision merge",
		},
	)

	// Reembedded counts messages whose embedding was rewritten by re-embed.
	Reembedded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reembedded_messages_total",
			Help:      "Messages processed by the re-embed operation",
		},
		[]string{"result"},
	)
)

// =============================================================================
// Embedding
// =============================================================================

var (
	// EmbeddingCalls counts encoder calls by provider and result.
	EmbeddingCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_calls_total",
			Help:      "Sentence encoder calls by provider and result",
		},
		[]string{"provider", "result"},
	)

	// EmbeddingLatency tracks encoder latency including retries.
	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_duration_seconds",
			Help:      "Sentence encoder latency including retries",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// EmbeddingCache counts embedding cache lookups by backend and result.
	EmbeddingCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_lookups_total",
			Help:      "Embedding cache lookups by backend and result",
		},
		[]string{"backend", "result"},
	)
)

// =============================================================================
// Search
// =============================================================================

var (
	// Searches counts similarity searches by index backend.
	Searches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Similarity searches by index backend",
		},
		[]string{"backend"},
	)

	// SearchHits tracks how many results a search returned.
	SearchHits = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_hits",
			Help:      "Results returned per similarity search",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 50},
		},
	)

	// SearchDuration tracks similarity search latency.
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Similarity search latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend"},
	)
)

// Since observes the seconds elapsed since start on h.
func Since(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
