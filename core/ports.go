package core

import (
	"context"
)

// Vector collection names.
const (
	CollectionChunks   = "chunks"
	CollectionLongTerm = "ltm"
)

// Embedder converts text to a fixed-length vector.
// Implementations must be deterministic for identical input.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Generator produces model output for a prompt.
type Generator interface {
	// Generate returns the complete reply. Used for summaries and titles.
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateStream calls onToken for every fragment in emission order.
	// A non-nil error from onToken stops the stream and is returned.
	GenerateStream(ctx context.Context, prompt string, onToken func(string) error) error
}

// VectorIndex is a namespaced nearest-neighbour store.
// Filters are exact-match on metadata values.
type VectorIndex interface {
	Upsert(ctx context.Context, collection, id string, embedding []float32, metadata map[string]string) error
	Query(ctx context.Context, collection string, embedding []float32, filter map[string]string, k int) ([]RetrievedChunk, error)
	DeleteWhere(ctx context.Context, collection string, filter map[string]string) error
}
