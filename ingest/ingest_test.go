package ingest_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/recall/core"
	"github.com/becomeliminal/recall/ingest"
	llmmock "github.com/becomeliminal/recall/llm/mock"
	"github.com/becomeliminal/recall/memory"
	"github.com/becomeliminal/recall/memory/buffer/ristretto"
	"github.com/becomeliminal/recall/memory/embedder/mock"
	"github.com/becomeliminal/recall/memory/store/chromem"
	"github.com/becomeliminal/recall/memory/store/sqlite"
	"github.com/becomeliminal/recall/session"
)

type fixture struct {
	service  *ingest.Service
	db       *sqlite.Store
	index    *chromem.Index
	embedder *mock.Embedder
	gen      *llmmock.Generator
	sessions *session.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	buffer, err := ristretto.New(ristretto.Config{MaxCost: 1 << 20, NumCounters: 1000})
	require.NoError(t, err)
	t.Cleanup(buffer.Close)

	f := &fixture{
		db:       db,
		index:    chromem.New(nil),
		embedder: mock.New(),
		gen:      llmmock.New("reply"),
	}
	f.gen.Summary = `"Residential Lease"`

	mem, err := memory.NewStore(buffer, db, f.index, f.embedder, f.gen, nil)
	require.NoError(t, err)
	f.sessions = session.NewManager(db, mem, f.index, f.gen, session.Config{})
	f.service = ingest.NewService(db, f.sessions, f.index, f.embedder)
	return f
}

func TestIngest_StoresChunksAndVectors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	text := "\r\n" + strings.Repeat("The tenant pays rent on the first day of each month. ", 60) + "\r\n"

	res, err := f.service.Ingest(ctx, "lease.md", "text/markdown", text)
	require.NoError(t, err)

	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, "Residential Lease", res.Title)
	require.Greater(t, res.Chunks, 1)

	docs, err := f.db.Documents(ctx, res.SessionID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, res.DocumentID, docs[0].ID)
	assert.Equal(t, "lease.md", docs[0].Filename)

	chunks, err := f.db.Chunks(ctx, res.SessionID)
	require.NoError(t, err)
	require.Len(t, chunks, res.Chunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.NotContains(t, c.Text, "\r")
	}

	emb, err := f.embedder.Embed(ctx, chunks[0].Text)
	require.NoError(t, err)
	hits, err := f.index.Query(ctx, core.CollectionChunks, emb, map[string]string{"session_id": res.SessionID}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, chunks[0].Text, hits[0].Metadata["text"])
	assert.Equal(t, "0", hits[0].Metadata["chunk_index"])

	sess, err := f.sessions.Get(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "Residential Lease", sess.Name())
}

func TestIngest_TitleFailureKeepsDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gen.GenerateErr = errors.New("model unavailable")

	res, err := f.service.Ingest(ctx, "notes.txt", "text/plain", "short notes")
	require.NoError(t, err)

	assert.Equal(t, session.FallbackTitle, res.Title)
	assert.Equal(t, 1, res.Chunks)
}

func TestIngest_EmptyDocument(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Ingest(context.Background(), "empty.txt", "text/plain", " \r\n ")

	assert.ErrorIs(t, err, ingest.ErrEmptyDocument)
	list, err := f.sessions.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list, "no session is created for an empty document")
}

func TestExtract(t *testing.T) {
	text, err := ingest.Extract("README.MD", []byte("# Title\xff"))
	require.NoError(t, err)
	assert.Equal(t, "# Title", text)

	_, err = ingest.Extract("report.pdf", []byte("%PDF"))
	assert.ErrorIs(t, err, ingest.ErrUnsupportedFormat)
}
