// Package chromem implements core.VectorIndex on chromem-go, an embedded
// pure Go vector database.
package chromem

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/recall/core"
)

// Index wraps a chromem DB. Collections are created on first use.
type Index struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
	logger      *slog.Logger
}

// New creates an in-memory index.
func New(logger *slog.Logger) *Index {
	return newIndex(chromem.NewDB(), logger)
}

// NewPersistent creates an index that persists every write under dir.
func NewPersistent(dir string, compress bool, logger *slog.Logger) (*Index, error) {
	db, err := chromem.NewPersistentDB(dir, compress)
	if err != nil {
		return nil, fmt.Errorf("open chromem db: %w", err)
	}
	return newIndex(db, logger), nil
}

func newIndex(db *chromem.DB, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		db:          db,
		collections: make(map[string]*chromem.Collection),
		logger:      logger.With("component", "chromem"),
	}
}

func (x *Index) collection(name string) (*chromem.Collection, error) {
	x.mu.RLock()
	col, exists := x.collections[name]
	x.mu.RUnlock()
	if exists {
		return col, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := x.collections[name]; exists {
		return col, nil
	}

	// Embeddings are always supplied by the caller, so no embedding func.
	col, err := x.db.GetOrCreateCollection(name, map[string]string{"hnsw:space": "cosine"}, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	x.collections[name] = col
	return col, nil
}

// Upsert adds or replaces the vector stored under id.
// The "text" or "summary" metadata value, if present, is kept as content.
func (x *Index) Upsert(ctx context.Context, collection, id string, embedding []float32, metadata map[string]string) error {
	col, err := x.collection(collection)
	if err != nil {
		return err
	}

	content := metadata["text"]
	if content == "" {
		content = metadata["summary"]
	}
	doc := chromem.Document{
		ID:        id,
		Metadata:  metadata,
		Embedding: embedding,
		Content:   content,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	x.logger.Debug("upserted vector", "collection", collection, "id", id)
	return nil
}

// Query returns up to k hits matching filter, most similar first.
func (x *Index) Query(ctx context.Context, collection string, embedding []float32, filter map[string]string, k int) ([]core.RetrievedChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	col, err := x.collection(collection)
	if err != nil {
		return nil, err
	}

	// chromem-go requires nResults <= collection size. A concurrent delete
	// can shrink the collection between Count and the query, so re-read the
	// count and retry with a smaller limit.
	var results []chromem.Result
	for {
		count := col.Count()
		if count == 0 {
			return nil, nil
		}
		n := min(k, count)
		results, err = col.QueryEmbedding(ctx, embedding, n, filter, nil)
		if err == nil {
			break
		}
		if !isInsufficientDocsError(err) {
			return nil, fmt.Errorf("chromem query: %w", err)
		}
		x.logger.Debug("collection shrank during query, retrying", "collection", collection, "limit", n)
	}

	hits := make([]core.RetrievedChunk, 0, len(results))
	for _, r := range results {
		hits = append(hits, core.RetrievedChunk{
			ID:       r.ID,
			Text:     r.Content,
			Score:    r.Similarity,
			Metadata: r.Metadata,
		})
	}
	x.logger.Debug("queried collection", "collection", collection, "hits", len(hits))
	return hits, nil
}

// DeleteWhere removes every vector whose metadata matches filter.
// An empty filter is rejected rather than clearing the collection.
func (x *Index) DeleteWhere(ctx context.Context, collection string, filter map[string]string) error {
	if len(filter) == 0 {
		return fmt.Errorf("delete from %s: empty filter", collection)
	}
	col, err := x.collection(collection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, filter, nil); err != nil {
		return fmt.Errorf("chromem delete: %w", err)
	}
	return nil
}

// Count returns the number of vectors in a collection.
func (x *Index) Count(collection string) int {
	col, err := x.collection(collection)
	if err != nil {
		return 0
	}
	return col.Count()
}

// isInsufficientDocsError reports chromem's nResults > collection size error.
func isInsufficientDocsError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "nResults must be")
}
