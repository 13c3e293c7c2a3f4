// Package ingest turns uploaded documents into session-scoped chunks: it
// splits the text, stores document and chunk rows, embeds every chunk into
// the vector index and titles the session.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/becomeliminal/recall/core"
)

var (
	// ErrUnsupportedFormat is returned for files whose text cannot be read.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrEmptyDocument is returned when a document has no text.
	ErrEmptyDocument = errors.New("document has no text")
)

// Store persists document and chunk rows. *sqlite.Store implements it.
type Store interface {
	AddDocument(ctx context.Context, doc core.Document) (int64, error)
	AddChunk(ctx context.Context, c core.Chunk) (int64, error)
}

// Sessions creates and titles sessions. *session.Manager implements it.
type Sessions interface {
	Create(ctx context.Context) (string, error)
	GenerateTitle(ctx context.Context, sessionID, text string) (string, error)
}

// Service ingests documents.
type Service struct {
	store    Store
	sessions Sessions
	index    core.VectorIndex
	embedder core.Embedder
	splitter *Splitter
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithSplitter replaces the default splitter.
func WithSplitter(sp *Splitter) Option {
	return func(s *Service) {
		s.splitter = sp
	}
}

// NewService creates a Service.
func NewService(store Store, sessions Sessions, index core.VectorIndex, embedder core.Embedder, opts ...Option) *Service {
	s := &Service{
		store:    store,
		sessions: sessions,
		index:    index,
		embedder: embedder,
		splitter: NewSplitter(DefaultChunkSize, DefaultChunkOverlap),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "ingest")
	return s
}

// Result describes an ingested document.
type Result struct {
	SessionID  string `json:"session_id"`
	DocumentID int64  `json:"document_id"`
	Title      string `json:"session_name"`
	Chunks     int    `json:"chunks"`
}

// Supported reports whether the file's text can be read directly.
func Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md":
		return true
	}
	return false
}

// Extract returns the text of a plain text or markdown file. Invalid UTF-8
// is dropped.
func Extract(filename string, content []byte) (string, error) {
	if !Supported(filename) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}
	return strings.ToValidUTF8(string(content), ""), nil
}

// Clean removes carriage returns and surrounding whitespace.
func Clean(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, "\r", ""))
}

// Ingest stores text as a new document in a new session and returns it.
// A failed title is logged; the document stays ingested.
func (s *Service) Ingest(ctx context.Context, filename, contentType, text string) (*Result, error) {
	text = Clean(text)
	if text == "" {
		return nil, ErrEmptyDocument
	}
	chunks := s.splitter.Split(text)
	s.logger.Info("split document", "filename", filename, "chars", len(text), "chunks", len(chunks))

	sessionID, err := s.sessions.Create(ctx)
	if err != nil {
		return nil, err
	}

	docID, err := s.store.AddDocument(ctx, core.Document{
		SessionID:   sessionID,
		Filename:    filename,
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("add document: %w: %w", core.ErrStoreWrite, err)
	}

	for i, text := range chunks {
		if err := s.addChunk(ctx, sessionID, docID, i, text); err != nil {
			return nil, err
		}
	}
	s.logger.Info("indexed document", "session_id", sessionID, "document_id", docID, "chunks", len(chunks))

	res := &Result{SessionID: sessionID, DocumentID: docID, Chunks: len(chunks)}
	title, err := s.sessions.GenerateTitle(ctx, sessionID, chunks[0])
	if err != nil {
		s.logger.Error("failed to title session", "session_id", sessionID, "err", err)
	}
	res.Title = title
	return res, nil
}

func (s *Service) addChunk(ctx context.Context, sessionID string, docID int64, index int, text string) error {
	chunkID, err := s.store.AddChunk(ctx, core.Chunk{
		DocumentID: docID,
		SessionID:  sessionID,
		Index:      index,
		Text:       text,
	})
	if err != nil {
		return fmt.Errorf("add chunk %d: %w: %w", index, core.ErrStoreWrite, err)
	}

	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed chunk %d: %w: %w", index, core.ErrEmbedding, err)
	}

	docKey := strconv.FormatInt(docID, 10)
	chunkKey := strconv.FormatInt(chunkID, 10)
	metadata := map[string]string{
		"session_id":  sessionID,
		"doc_id":      docKey,
		"chunk_id":    chunkKey,
		"chunk_index": strconv.Itoa(index),
		"text":        text,
	}
	id := sessionID + "_" + docKey + "_" + chunkKey
	if err := s.index.Upsert(ctx, core.CollectionChunks, id, embedding, metadata); err != nil {
		return fmt.Errorf("index chunk %d: %w: %w", index, core.ErrStoreWrite, err)
	}
	return nil
}
