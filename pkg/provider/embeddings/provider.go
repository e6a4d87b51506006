// Package embeddings defines the Provider interface over pretrained
// text-embedding model backends.
//
// A provider maps text strings to dense float32 vectors of a fixed,
// model-determined dimensionality. The embed server forwards request text to
// a provider and serialises the result. The upload pipeline never embeds,
// it ships precomputed vectors, so providers are only wired into the
// service path.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over a text-embedding backend.
//
// Load is the explicit model-load step: the embed server calls it once at
// startup and treats failure as "model not loaded" (requests answer 503
// until a later Load succeeds). Embed and EmbedBatch must not be called
// before a successful Load unless the implementation documents otherwise.
//
// All vectors produced by one Provider instance share the dimensionality
// reported by Dimensions. Text is passed to the backend verbatim; any
// model-specific prompt formatting (e.g. the "search_query: " prefix
// retrieval models expect) is the caller's responsibility.
type Provider interface {
	// Load verifies the backing model is reachable and usable, resolving
	// the embedding dimensionality as a side effect. It is idempotent and
	// may be retried after failure.
	Load(ctx context.Context) error

	// Embed computes the embedding vector for a single text string.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes vectors for texts in one backend call. The result
	// has the same length and order as texts; on error the whole slice is
	// nil, no partial results.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length this provider produces,
	// or 0 before a successful Load when the model is not recognised.
	Dimensions() int

	// ModelID returns the backend-specific model identifier, for logging
	// and for the service status endpoint.
	ModelID() string
}
