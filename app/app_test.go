package app_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/recall/app"
	"github.com/becomeliminal/recall/config"
	"github.com/becomeliminal/recall/core"
)

func mockConfig(dbPath string) *config.Config {
	cfg := config.Default()
	cfg.Storage.DBPath = dbPath
	cfg.LLM.Provider = "mock"
	cfg.Embedding.Provider = "mock"
	return cfg
}

func TestNew_VectorsSurviveRestart(t *testing.T) {
	ctx := context.Background()
	cfg := mockConfig(filepath.Join(t.TempDir(), "recall.db"))

	a, err := app.New(cfg, nil)
	require.NoError(t, err)
	res, err := a.Ingest.Ingest(ctx, "lease.txt", "text/plain", "The lease renews every March for twelve months.")
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx))

	b, err := app.New(cfg, nil)
	require.NoError(t, err)
	defer b.Close(ctx)

	vec, err := b.Embedder.Embed(ctx, "when does the lease renew")
	require.NoError(t, err)
	hits, err := b.Index.Query(ctx, core.CollectionChunks, vec, map[string]string{"session_id": res.SessionID}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Metadata["text"], "renews every March")
}

func TestNew_InMemoryDatabaseKeepsVectorsInMemory(t *testing.T) {
	cfg := mockConfig(config.InMemory)
	assert.Empty(t, cfg.Storage.VectorPath())

	a, err := app.New(cfg, nil)
	require.NoError(t, err)
	defer a.Close(context.Background())
	assert.Zero(t, a.Index.Count(core.CollectionChunks))
}
