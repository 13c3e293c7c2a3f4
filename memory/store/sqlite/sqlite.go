// Package sqlite is the durable store: the short-term log, long-term
// summaries, chat history, sessions and ingestion rows, all in one SQLite
// database through modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/becomeliminal/recall/core"
)

const memoryPath = ":memory:"

// timeLayout is fixed width so timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements memory.Log and the session and ingestion stores.
type Store struct {
	db *sql.DB

	// entropy is monotonic so entries written within one millisecond keep
	// their insertion order.
	mu      sync.Mutex
	entropy io.Reader
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	dsn := memoryPath
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == memoryPath {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	s := &Store{
		db:      db,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) newSeq(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id          TEXT PRIMARY KEY,
		name        TEXT,
		created_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS short_term_memory (
		seq         TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL,
		role        TEXT NOT NULL,
		content     TEXT NOT NULL,
		created_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_short_term_session ON short_term_memory(session_id, seq);

	CREATE TABLE IF NOT EXISTS long_term_memory (
		session_id  TEXT NOT NULL,
		ord         INTEGER NOT NULL,
		summary     TEXT NOT NULL,
		created_at  TEXT NOT NULL,
		PRIMARY KEY (session_id, ord)
	);

	CREATE TABLE IF NOT EXISTS chat_history (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT NOT NULL,
		role        TEXT NOT NULL,
		content     TEXT NOT NULL,
		created_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_history_session ON chat_history(session_id, created_at);

	CREATE TABLE IF NOT EXISTS documents (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id   TEXT NOT NULL,
		filename     TEXT NOT NULL,
		content_type TEXT,
		created_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_session ON documents(session_id);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id  INTEGER NOT NULL,
		session_id   TEXT NOT NULL,
		chunk_index  INTEGER NOT NULL,
		text         TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_document_chunks_session ON document_chunks(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- short-term log ---

// AppendEntry writes the entry to the short-term log and the chat history
// in one transaction.
func (s *Store) AppendEntry(ctx context.Context, e core.Entry) (core.Entry, error) {
	now := time.Now().UTC()
	e.Seq = s.newSeq(now)
	ts := now.Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Entry{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO short_term_memory (seq, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.Seq, e.SessionID, string(e.Role), e.Content, ts,
	); err != nil {
		return core.Entry{}, fmt.Errorf("insert short-term: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_history (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		e.SessionID, string(e.Role), e.Content, ts,
	); err != nil {
		return core.Entry{}, fmt.Errorf("insert chat history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return core.Entry{}, err
	}
	return e, nil
}

// Entries returns the short-term log of a session, oldest first.
func (s *Store) Entries(ctx context.Context, sessionID string) ([]core.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, role, content FROM short_term_memory WHERE session_id = ? ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []core.Entry
	for rows.Next() {
		e := core.Entry{SessionID: sessionID}
		var role string
		if err := rows.Scan(&e.Seq, &role, &e.Content); err != nil {
			return nil, err
		}
		e.Role = core.Role(role)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// TrimEntries deletes all but the keep most recent short-term rows.
func (s *Store) TrimEntries(ctx context.Context, sessionID string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM short_term_memory
		WHERE session_id = ?
		  AND seq NOT IN (
			SELECT seq FROM short_term_memory
			WHERE session_id = ?
			ORDER BY seq DESC
			LIMIT ?
		  )`,
		sessionID, sessionID, keep,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- long-term summaries ---

// AddSummary commits a summary with the next order for its session.
func (s *Store) AddSummary(ctx context.Context, sum core.Summary) (core.Summary, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Summary{}, err
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(ord), 0) + 1 FROM long_term_memory WHERE session_id = ?`,
		sum.SessionID,
	).Scan(&next); err != nil {
		return core.Summary{}, fmt.Errorf("next order: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO long_term_memory (session_id, ord, summary, created_at) VALUES (?, ?, ?, ?)`,
		sum.SessionID, next, sum.Text, now.Format(timeLayout),
	); err != nil {
		return core.Summary{}, fmt.Errorf("insert summary: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return core.Summary{}, err
	}

	sum.Order = next
	sum.CreatedAt = now
	return sum, nil
}

// Summaries returns a session's summaries by ascending order.
func (s *Store) Summaries(ctx context.Context, sessionID string) ([]core.Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ord, summary, created_at FROM long_term_memory WHERE session_id = ? ORDER BY ord ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Summary
	for rows.Next() {
		sum := core.Summary{SessionID: sessionID}
		var created string
		if err := rows.Scan(&sum.Order, &sum.Text, &created); err != nil {
			return nil, err
		}
		sum.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteMemory erases the short- and long-term rows of a session.
func (s *Store) DeleteMemory(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM short_term_memory WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete short-term: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM long_term_memory WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete long-term: %w", err)
	}
	return tx.Commit()
}

// --- chat history ---

// History returns a session's audit trail, oldest first.
func (s *Store) History(ctx context.Context, sessionID string) ([]core.HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM chat_history WHERE session_id = ? ORDER BY created_at ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.HistoryRecord
	for rows.Next() {
		r := core.HistoryRecord{SessionID: sessionID}
		var role, created string
		if err := rows.Scan(&role, &r.Content, &created); err != nil {
			return nil, err
		}
		r.Role = core.Role(role)
		r.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteHistory erases a session's audit trail.
func (s *Store) DeleteHistory(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_history WHERE session_id = ?`, sessionID)
	return err
}

// --- sessions ---

// CreateSession inserts a session row.
func (s *Store) CreateSession(ctx context.Context, sess core.Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, name, created_at) VALUES (?, ?, ?)`,
		sess.ID, nullString(sess.DisplayName), sess.CreatedAt.UTC().Format(timeLayout),
	)
	return err
}

// GetSession returns a session or core.ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (core.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Session{}, fmt.Errorf("session %s: %w", id, core.ErrNotFound)
	}
	return sess, err
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]core.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// RenameSession sets a session's display name.
func (s *Store) RenameSession(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET name = ? WHERE id = ?`, nullString(name), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// DeleteSession removes the session row. Missing rows are not an error.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// --- ingestion rows ---

// AddDocument inserts a document row and returns its ID.
func (s *Store) AddDocument(ctx context.Context, doc core.Document) (int64, error) {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (session_id, filename, content_type, created_at) VALUES (?, ?, ?, ?)`,
		doc.SessionID, doc.Filename, doc.ContentType, doc.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// AddChunk inserts a chunk row and returns its ID.
func (s *Store) AddChunk(ctx context.Context, c core.Chunk) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO document_chunks (document_id, session_id, chunk_index, text) VALUES (?, ?, ?, ?)`,
		c.DocumentID, c.SessionID, c.Index, c.Text,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Documents returns the documents ingested into a session.
func (s *Store) Documents(ctx context.Context, sessionID string) ([]core.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, COALESCE(content_type, ''), created_at FROM documents WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Document
	for rows.Next() {
		d := core.Document{SessionID: sessionID}
		var created string
		if err := rows.Scan(&d.ID, &d.Filename, &d.ContentType, &created); err != nil {
			return nil, err
		}
		d.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, d)
	}
	return out, rows.Err()
}

// Chunks returns a session's chunks in document and index order.
func (s *Store) Chunks(ctx context.Context, sessionID string) ([]core.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, chunk_index, text FROM document_chunks WHERE session_id = ? ORDER BY document_id ASC, chunk_index ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Chunk
	for rows.Next() {
		c := core.Chunk{SessionID: sessionID}
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Text); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteChunks erases a session's chunk rows.
func (s *Store) DeleteChunks(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE session_id = ?`, sessionID)
	return err
}

// DeleteDocuments erases a session's document rows.
func (s *Store) DeleteDocuments(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE session_id = ?`, sessionID)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (core.Session, error) {
	var sess core.Session
	var name sql.NullString
	var created string
	if err := row.Scan(&sess.ID, &name, &created); err != nil {
		return core.Session{}, err
	}
	sess.DisplayName = name.String
	sess.CreatedAt, _ = time.Parse(timeLayout, created)
	return sess, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
