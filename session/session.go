// Package session manages the lifecycle of chat sessions: creation, listing,
// titling and the ordered background cleanup run when a session is deleted.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/becomeliminal/recall/core"
	"github.com/becomeliminal/recall/metrics"
)

// ErrClosed is returned by Delete after Close.
var ErrClosed = errors.New("session manager closed")

// FallbackTitle is used when no title can be generated.
const FallbackTitle = "Untitled Document"

// TitleSourceChars bounds how much text is sent to the title prompt.
const TitleSourceChars = 500

// Store is the durable session state. *sqlite.Store implements it.
type Store interface {
	CreateSession(ctx context.Context, s core.Session) error
	GetSession(ctx context.Context, id string) (core.Session, error)
	ListSessions(ctx context.Context) ([]core.Session, error)
	RenameSession(ctx context.Context, id, name string) error
	DeleteSession(ctx context.Context, id string) error
	History(ctx context.Context, sessionID string) ([]core.HistoryRecord, error)
	DeleteHistory(ctx context.Context, sessionID string) error
	DeleteChunks(ctx context.Context, sessionID string) error
	DeleteDocuments(ctx context.Context, sessionID string) error
}

// Memory is the part of memory.Store that session teardown needs.
type Memory interface {
	ClearBuffer(sessionID string)
	DeleteAll(ctx context.Context, sessionID string) error
}

// Config configures a Manager.
type Config struct {
	// CleanupConcurrency bounds background cleanups running at once.
	// Default: 4
	CleanupConcurrency int64
}

// Manager creates and tears down sessions.
type Manager struct {
	store     Store
	memory    Memory
	index     core.VectorIndex
	generator core.Generator

	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithMetrics counts cleanup step failures.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// NewManager creates a Manager.
func NewManager(store Store, mem Memory, index core.VectorIndex, generator core.Generator, cfg Config, opts ...Option) *Manager {
	if cfg.CleanupConcurrency <= 0 {
		cfg.CleanupConcurrency = 4
	}
	m := &Manager{
		store:     store,
		memory:    mem,
		index:     index,
		generator: generator,
		sem:       semaphore.NewWeighted(cfg.CleanupConcurrency),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "session")
	return m
}

// Create registers a new session and returns its id.
func (m *Manager) Create(ctx context.Context) (string, error) {
	sess := core.Session{ID: uuid.NewString(), CreatedAt: m.now().UTC()}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return "", fmt.Errorf("create session: %w: %w", core.ErrStoreWrite, err)
	}
	m.logger.Info("created session", "session_id", sess.ID)
	return sess.ID, nil
}

// Get returns a session or core.ErrNotFound.
func (m *Manager) Get(ctx context.Context, id string) (core.Session, error) {
	return m.store.GetSession(ctx, id)
}

// List returns every session, newest first.
func (m *Manager) List(ctx context.Context) ([]core.Session, error) {
	sessions, err := m.store.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w: %w", core.ErrStoreRead, err)
	}
	return sessions, nil
}

// History returns the full audit trail of a session, oldest first.
func (m *Manager) History(ctx context.Context, id string) ([]core.HistoryRecord, error) {
	records, err := m.store.History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load history: %w: %w", core.ErrStoreRead, err)
	}
	return records, nil
}

// Delete clears the session's short-term buffer and schedules the durable
// cleanup in the background. It returns once the buffer is cleared. Cleanup
// failures are logged and never reach the caller.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.wg.Add(1)
	m.mu.Unlock()

	m.memory.ClearBuffer(id)

	// Cleanup outlives the request that asked for it.
	bg := context.WithoutCancel(ctx)
	go func() {
		defer m.wg.Done()
		if err := m.sem.Acquire(bg, 1); err != nil {
			return
		}
		defer m.sem.Release(1)
		if err := m.Cleanup(bg, id); err != nil {
			m.logger.Warn("session cleanup finished with errors", "session_id", id, "err", err)
			return
		}
		m.logger.Info("session cleanup finished", "session_id", id)
	}()
	return nil
}

type cleanupStep struct {
	name string
	run  func(ctx context.Context, id string) error
}

func (m *Manager) cleanupSteps() []cleanupStep {
	return []cleanupStep{
		{"memory", m.memory.DeleteAll},
		{"ltm_vectors", func(ctx context.Context, id string) error {
			return m.index.DeleteWhere(ctx, core.CollectionLongTerm, map[string]string{"session_id": id})
		}},
		{"chunk_vectors", func(ctx context.Context, id string) error {
			return m.index.DeleteWhere(ctx, core.CollectionChunks, map[string]string{"session_id": id})
		}},
		{"history", m.store.DeleteHistory},
		{"chunks", m.store.DeleteChunks},
		{"documents", m.store.DeleteDocuments},
		// Last, so a session that still has data stays listed.
		{"session", m.store.DeleteSession},
	}
}

// Cleanup erases every durable trace of a session, step by step. A failed
// step is logged and counted; later steps still run. The returned error
// joins every step failure. Running it again is harmless.
func (m *Manager) Cleanup(ctx context.Context, id string) error {
	var errs []error
	for _, step := range m.cleanupSteps() {
		if err := step.run(ctx, id); err != nil {
			m.metrics.CleanupFailed(step.name)
			m.logger.Error("session cleanup step failed", "session_id", id, "step", step.name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		m.logger.Debug("session cleanup step done", "session_id", id, "step", step.name)
	}
	return errors.Join(errs...)
}

// Wait blocks until every scheduled cleanup has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close stops accepting deletes and waits for running cleanups, or for ctx.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
