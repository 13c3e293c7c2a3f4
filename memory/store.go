package memory

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"text/template"

	"github.com/becomeliminal/recall/core"
	"github.com/becomeliminal/recall/metrics"
)

// Store owns the short-term and long-term memory of every session.
//
// It is safe for concurrent use across sessions. Concurrent turns on the same
// session are not serialized here; callers that need that must do it.
type Store struct {
	buffer    Buffer
	log       Log
	index     core.VectorIndex
	embedder  core.Embedder
	generator core.Generator
	config    *Config
	summary   *template.Template
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithMetrics records summarizations and rehydrations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// NewStore creates a Store. A nil config uses DefaultConfig.
func NewStore(buffer Buffer, log Log, index core.VectorIndex, embedder core.Embedder, generator core.Generator, config *Config, opts ...Option) (*Store, error) {
	config = config.withDefaults()
	tmpl, err := template.New("summary").Parse(config.SummaryTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse summary template: %w", err)
	}
	s := &Store{
		buffer:    buffer,
		log:       log,
		index:     index,
		embedder:  embedder,
		generator: generator,
		config:    config,
		summary:   tmpl,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "memory")
	return s, nil
}

// Config returns the effective configuration.
func (s *Store) Config() Config {
	return *s.config
}

// AppendShortTerm records a turn in the buffer, the durable log and the chat
// history, in that order.
//
// The buffer only takes the entry if it is already warm. When the durable
// write fails the buffer is invalidated so the next read rehydrates from the
// log, which keeps the log a superset of the buffer.
func (s *Store) AppendShortTerm(ctx context.Context, sessionID string, role core.Role, content string) error {
	if !role.Valid() {
		return fmt.Errorf("append short-term: unknown role %q", role)
	}
	entry := core.Entry{SessionID: sessionID, Role: role, Content: content}

	s.buffer.Append(sessionID, entry)

	if _, err := s.log.AppendEntry(ctx, entry); err != nil {
		s.buffer.Clear(sessionID)
		return fmt.Errorf("append short-term: %w: %w", core.ErrStoreWrite, err)
	}

	s.logger.Debug("appended short-term entry", "session_id", sessionID, "role", role, "chars", len(content))
	return nil
}

// GetShortTerm returns the session's short-term entries in order.
// A cold or empty buffer is rebuilt from the durable log first.
func (s *Store) GetShortTerm(ctx context.Context, sessionID string) ([]core.Entry, error) {
	if entries, ok := s.buffer.Get(sessionID); ok && len(entries) > 0 {
		return entries, nil
	}

	entries, err := s.log.Entries(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("restore short-term: %w: %w", core.ErrStoreRead, err)
	}
	if len(entries) > 0 {
		s.buffer.Set(sessionID, entries)
		s.metrics.Rehydrated()
		s.logger.Info("restored short-term memory from log", "session_id", sessionID, "entries", len(entries))
	}
	return entries, nil
}

// MaybeSummarize evicts short-term memory into a long-term summary once its
// estimated size reaches the threshold. It reports whether a summary was
// written.
//
// The summary is committed before any short-term row is deleted. A failure
// at any step returns before the following steps run.
func (s *Store) MaybeSummarize(ctx context.Context, sessionID string) (bool, error) {
	entries, err := s.GetShortTerm(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return false, nil
	}

	text := joinContents(entries)
	tokens := EstimateTokens(text)
	if tokens < s.config.SummaryThreshold {
		return false, nil
	}

	s.logger.Info("short-term memory over threshold, summarizing",
		"session_id", sessionID, "tokens", tokens, "threshold", s.config.SummaryThreshold)

	prompt, err := s.renderSummaryPrompt(text)
	if err != nil {
		return false, err
	}
	digest, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return false, fmt.Errorf("summarize: %w: %w", core.ErrGeneration, err)
	}
	digest = strings.TrimSpace(digest)

	saved, err := s.log.AddSummary(ctx, core.Summary{SessionID: sessionID, Text: digest})
	if err != nil {
		return false, fmt.Errorf("store summary: %w: %w", core.ErrStoreWrite, err)
	}

	embedding, err := s.embedder.Embed(ctx, digest)
	if err != nil {
		return false, fmt.Errorf("embed summary: %w: %w", core.ErrEmbedding, err)
	}
	metadata := map[string]string{
		"session_id": sessionID,
		"summary":    digest,
		"order":      strconv.Itoa(saved.Order),
	}
	if err := s.index.Upsert(ctx, core.CollectionLongTerm, summaryVectorID(sessionID, saved.Order), embedding, metadata); err != nil {
		return false, fmt.Errorf("index summary: %w: %w", core.ErrStoreWrite, err)
	}

	s.buffer.Trim(sessionID, s.config.RetainTurns)

	deleted, err := s.log.TrimEntries(ctx, sessionID, s.config.RetainTurns)
	if err != nil {
		return true, fmt.Errorf("trim short-term: %w: %w", core.ErrStoreWrite, err)
	}

	s.metrics.Summarized()
	s.logger.Info("stored long-term summary",
		"session_id", sessionID, "order", saved.Order, "evicted", deleted)
	return true, nil
}

// RecallLongTerm returns the summaries closest to embedding, best first.
func (s *Store) RecallLongTerm(ctx context.Context, sessionID string, embedding []float32) ([]string, error) {
	hits, err := s.index.Query(ctx, core.CollectionLongTerm, embedding,
		map[string]string{"session_id": sessionID}, s.config.LongTermK)
	if err != nil {
		return nil, fmt.Errorf("recall long-term: %w: %w", core.ErrRetrieval, err)
	}
	var summaries []string
	for _, hit := range hits {
		text := hit.Metadata["summary"]
		if text == "" {
			text = hit.Text
		}
		if text != "" {
			summaries = append(summaries, text)
		}
	}
	return summaries, nil
}

// LongTerm returns every stored summary of a session.
func (s *Store) LongTerm(ctx context.Context, sessionID string) ([]core.Summary, error) {
	summaries, err := s.log.Summaries(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load long-term: %w: %w", core.ErrStoreRead, err)
	}
	return summaries, nil
}

// DeleteAll erases the durable short- and long-term rows of a session.
// Repeated calls are no-ops.
func (s *Store) DeleteAll(ctx context.Context, sessionID string) error {
	if err := s.log.DeleteMemory(ctx, sessionID); err != nil {
		return fmt.Errorf("delete memory: %w: %w", core.ErrStoreWrite, err)
	}
	return nil
}

// ClearBuffer drops the ephemeral short-term entries of a session.
func (s *Store) ClearBuffer(sessionID string) {
	s.buffer.Clear(sessionID)
	s.logger.Info("cleared short-term buffer", "session_id", sessionID)
}

func (s *Store) renderSummaryPrompt(text string) (string, error) {
	var buf bytes.Buffer
	if err := s.summary.Execute(&buf, struct{ Text string }{Text: text}); err != nil {
		return "", fmt.Errorf("render summary prompt: %w", err)
	}
	return buf.String(), nil
}

func joinContents(entries []core.Entry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.Content
	}
	return strings.Join(parts, " ")
}

func summaryVectorID(sessionID string, order int) string {
	return fmt.Sprintf("%s_ltm_%d", sessionID, order)
}
