package session_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/recall/core"
	llmmock "github.com/becomeliminal/recall/llm/mock"
	"github.com/becomeliminal/recall/memory"
	"github.com/becomeliminal/recall/memory/buffer/ristretto"
	"github.com/becomeliminal/recall/memory/embedder/mock"
	"github.com/becomeliminal/recall/memory/store/chromem"
	"github.com/becomeliminal/recall/memory/store/sqlite"
	"github.com/becomeliminal/recall/metrics"
	"github.com/becomeliminal/recall/session"
)

// brokenHistory fails the history cleanup step.
type brokenHistory struct {
	session.Store
}

func (brokenHistory) DeleteHistory(context.Context, string) error {
	return errors.New("disk full")
}

type fixture struct {
	manager  *session.Manager
	memory   *memory.Store
	db       *sqlite.Store
	buffer   *ristretto.Buffer
	index    *chromem.Index
	embedder *mock.Embedder
	gen      *llmmock.Generator
	registry *prometheus.Registry
}

func newFixture(t *testing.T, wrap func(session.Store) session.Store) *fixture {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	buffer, err := ristretto.New(ristretto.Config{MaxCost: 1 << 24, NumCounters: 1000})
	require.NoError(t, err)
	t.Cleanup(buffer.Close)

	f := &fixture{
		db:       db,
		buffer:   buffer,
		index:    chromem.New(nil),
		embedder: mock.New(),
		gen:      llmmock.New("reply"),
		registry: prometheus.NewRegistry(),
	}
	f.gen.Summary = "a summary"

	f.memory, err = memory.NewStore(buffer, db, f.index, f.embedder, f.gen,
		&memory.Config{SummaryThreshold: 5})
	require.NoError(t, err)

	var store session.Store = db
	if wrap != nil {
		store = wrap(db)
	}
	f.manager = session.NewManager(store, f.memory, f.index, f.gen, session.Config{},
		session.WithMetrics(metrics.New(f.registry)))
	t.Cleanup(f.manager.Wait)
	return f
}

// populate gives a session data in every store.
func (f *fixture) populate(t *testing.T, sessionID string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.memory.AppendShortTerm(ctx, sessionID, core.RoleUser, "we need to review the lease agreement"))
	summarized, err := f.memory.MaybeSummarize(ctx, sessionID)
	require.NoError(t, err)
	require.True(t, summarized)

	docID, err := f.db.AddDocument(ctx, core.Document{SessionID: sessionID, Filename: "lease.md"})
	require.NoError(t, err)
	_, err = f.db.AddChunk(ctx, core.Chunk{DocumentID: docID, SessionID: sessionID, Text: "rent is due monthly"})
	require.NoError(t, err)

	emb, err := f.embedder.Embed(ctx, "rent is due monthly")
	require.NoError(t, err)
	require.NoError(t, f.index.Upsert(ctx, core.CollectionChunks, sessionID+"_1_1", emb,
		map[string]string{"session_id": sessionID, "text": "rent is due monthly"}))
}

func (f *fixture) vectors(t *testing.T, collection, sessionID string) int {
	t.Helper()
	emb, err := f.embedder.Embed(context.Background(), "probe")
	require.NoError(t, err)
	hits, err := f.index.Query(context.Background(), collection, emb, map[string]string{"session_id": sessionID}, 10)
	require.NoError(t, err)
	return len(hits)
}

func TestCreateListHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	first, err := f.manager.Create(ctx)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := f.manager.Create(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	list, err := f.manager.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID, "newest first")
	assert.Equal(t, second[:8], list[0].Name())

	require.NoError(t, f.memory.AppendShortTerm(ctx, first, core.RoleUser, "hello"))
	require.NoError(t, f.memory.AppendShortTerm(ctx, first, core.RoleAssistant, "hi"))
	history, err := f.manager.History(ctx, first)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, core.RoleUser, history[0].Role)
	assert.Equal(t, core.RoleAssistant, history[1].Role)
}

func TestDelete_ClearsBufferBeforeReturning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	f.buffer.Set("s1", []core.Entry{{SessionID: "s1", Role: core.RoleUser, Content: "hello"}})

	require.NoError(t, f.manager.Delete(ctx, "s1"))

	_, ok := f.buffer.Get("s1")
	assert.False(t, ok)
}

func TestDelete_ErasesEveryStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	sid, err := f.manager.Create(ctx)
	require.NoError(t, err)
	other, err := f.manager.Create(ctx)
	require.NoError(t, err)
	f.populate(t, sid)
	f.populate(t, other)

	require.NoError(t, f.manager.Delete(ctx, sid))
	f.manager.Wait()

	entries, err := f.db.Entries(ctx, sid)
	require.NoError(t, err)
	assert.Empty(t, entries)
	sums, err := f.db.Summaries(ctx, sid)
	require.NoError(t, err)
	assert.Empty(t, sums)
	history, err := f.db.History(ctx, sid)
	require.NoError(t, err)
	assert.Empty(t, history)
	chunks, err := f.db.Chunks(ctx, sid)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	docs, err := f.db.Documents(ctx, sid)
	require.NoError(t, err)
	assert.Empty(t, docs)
	_, err = f.manager.Get(ctx, sid)
	assert.True(t, errors.Is(err, core.ErrNotFound))
	assert.Zero(t, f.vectors(t, core.CollectionLongTerm, sid))
	assert.Zero(t, f.vectors(t, core.CollectionChunks, sid))

	// The other session is untouched.
	assert.Equal(t, 1, f.vectors(t, core.CollectionLongTerm, other))
	assert.Equal(t, 1, f.vectors(t, core.CollectionChunks, other))
	docs, err = f.db.Documents(ctx, other)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	_, err = f.manager.Get(ctx, other)
	assert.NoError(t, err)
}

func TestDelete_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	sid, err := f.manager.Create(ctx)
	require.NoError(t, err)
	f.populate(t, sid)

	require.NoError(t, f.manager.Delete(ctx, sid))
	require.NoError(t, f.manager.Delete(ctx, sid))
	f.manager.Wait()

	assert.NoError(t, f.manager.Cleanup(ctx, sid))
	n, err := testutil.GatherAndCount(f.registry, "recall_session_cleanup_failures_total")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDelete_SurvivesCancelledRequest(t *testing.T) {
	f := newFixture(t, nil)
	sid, err := f.manager.Create(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.manager.Delete(ctx, sid))
	cancel()
	f.manager.Wait()

	_, err = f.manager.Get(context.Background(), sid)
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestCleanup_ContinuesAfterFailedStep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(s session.Store) session.Store { return brokenHistory{Store: s} })

	sid, err := f.manager.Create(ctx)
	require.NoError(t, err)
	f.populate(t, sid)

	err = f.manager.Cleanup(ctx, sid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history: disk full")

	// Steps after the failed one still ran.
	docs, err := f.db.Documents(ctx, sid)
	require.NoError(t, err)
	assert.Empty(t, docs)
	_, err = f.manager.Get(ctx, sid)
	assert.True(t, errors.Is(err, core.ErrNotFound))

	// The failing step left its rows behind.
	history, err := f.db.History(ctx, sid)
	require.NoError(t, err)
	assert.NotEmpty(t, history)

	n, err := testutil.GatherAndCount(f.registry, "recall_session_cleanup_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDelete_FailuresDoNotReachCaller(t *testing.T) {
	f := newFixture(t, func(s session.Store) session.Store { return brokenHistory{Store: s} })

	assert.NoError(t, f.manager.Delete(context.Background(), "s1"))
	f.manager.Wait()
}

func TestClose_RejectsNewDeletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	require.NoError(t, f.manager.Delete(ctx, "s1"))
	require.NoError(t, f.manager.Close(ctx))

	assert.ErrorIs(t, f.manager.Delete(ctx, "s2"), session.ErrClosed)
}
