package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/becomeliminal/recall/core"
	"github.com/becomeliminal/recall/metrics"
	"github.com/becomeliminal/recall/prompt"
)

// DefaultChunkK is the number of document chunks retrieved per turn.
const DefaultChunkK = 3

// Memory is the part of memory.Store a turn needs.
type Memory interface {
	AppendShortTerm(ctx context.Context, sessionID string, role core.Role, content string) error
	MaybeSummarize(ctx context.Context, sessionID string) (bool, error)
	GetShortTerm(ctx context.Context, sessionID string) ([]core.Entry, error)
	RecallLongTerm(ctx context.Context, sessionID string, embedding []float32) ([]string, error)
}

// Engine runs chat turns against session memory and document retrieval.
type Engine struct {
	memory    Memory
	index     core.VectorIndex
	embedder  core.Embedder
	generator core.Generator
	assembler *prompt.Assembler
	chunkK    int
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics records turn outcomes, prompt stages and streamed tokens.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithChunkK sets how many document chunks are retrieved per turn.
func WithChunkK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.chunkK = k
		}
	}
}

// NewEngine creates a new engine.
func NewEngine(mem Memory, index core.VectorIndex, embedder core.Embedder, generator core.Generator, assembler *prompt.Assembler, opts ...Option) *Engine {
	e := &Engine{
		memory:    mem,
		index:     index,
		embedder:  embedder,
		generator: generator,
		assembler: assembler,
		chunkK:    DefaultChunkK,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")
	return e
}

// Input represents one chat turn.
type Input struct {
	SessionID   string
	UserMessage string

	// StreamCallback receives every generated token in order, then one call
	// with done set once the reply has been persisted (or failed to be).
	StreamCallback func(chunk string, done bool)
}

// Output represents the result of a completed turn.
type Output struct {
	// Text is the full generated reply.
	Text string

	// Stage is the last stage the turn reached.
	Stage Stage

	// PromptStage is the degradation level the prompt was built at.
	PromptStage prompt.Stage

	// PromptTokens is the estimated size of the prompt sent.
	PromptTokens int

	// Summarized reports whether this turn evicted short-term memory.
	Summarized bool

	// PersistErr is set when the reply was delivered but not stored.
	PersistErr error
}

// TurnError reports the stage a turn failed in.
type TurnError struct {
	Stage Stage
	// Partial is what was streamed before a generation failure.
	Partial string
	Err     error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("chat turn failed at %s: %v", e.Stage, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// StageOf returns the stage a Run error happened in, or StageReceived.
func StageOf(err error) Stage {
	var te *TurnError
	if errors.As(err, &te) {
		return te.Stage
	}
	return StageReceived
}

// Run executes one turn. Failures before generation return a *TurnError and
// nothing is streamed. A generation failure returns a *TurnError after the
// tokens already forwarded; the partial reply is not stored.
func (e *Engine) Run(ctx context.Context, input *Input) (*Output, error) {
	out, err := e.run(ctx, input)
	if err != nil {
		e.metrics.Turn("failed")
		e.logger.Error("chat turn failed", "session_id", input.SessionID, "stage", StageOf(err), "err", err)
		return nil, err
	}
	if out.PersistErr != nil {
		e.metrics.Turn("unpersisted")
	} else {
		e.metrics.Turn("ok")
	}
	return out, nil
}

func (e *Engine) run(ctx context.Context, input *Input) (*Output, error) {
	sid := input.SessionID
	if sid == "" {
		return nil, &TurnError{Stage: StageReceived, Err: errors.New("session id is required")}
	}
	if strings.TrimSpace(input.UserMessage) == "" {
		return nil, &TurnError{Stage: StageReceived, Err: errors.New("user message is empty")}
	}
	out := &Output{Stage: StageReceived}

	if err := e.memory.AppendShortTerm(ctx, sid, core.RoleUser, input.UserMessage); err != nil {
		return nil, &TurnError{Stage: out.Stage, Err: err}
	}
	out.Stage = StageStoredUserMsg

	summarized, err := e.memory.MaybeSummarize(ctx, sid)
	if err != nil {
		return nil, &TurnError{Stage: out.Stage, Err: err}
	}
	out.Summarized = summarized
	out.Stage = StageSummaryChecked

	shortTerm, err := e.memory.GetShortTerm(ctx, sid)
	if err != nil {
		return nil, &TurnError{Stage: out.Stage, Err: err}
	}
	out.Stage = StageMemoryLoaded

	longTerm, chunks, err := e.retrieve(ctx, sid, input.UserMessage)
	if err != nil {
		return nil, &TurnError{Stage: out.Stage, Err: err}
	}
	out.Stage = StageRetrieved

	fitted := e.assembler.Fit(prompt.Input{
		UserMessage: input.UserMessage,
		ShortTerm:   shortTerm,
		LongTerm:    longTerm,
		Chunks:      chunks,
	})
	out.PromptStage = fitted.Stage
	out.PromptTokens = fitted.Tokens
	out.Stage = StagePromptBuilt
	e.metrics.PromptStage(fitted.Stage.String())
	if fitted.Stage != prompt.StageFull {
		e.logger.Info("prompt degraded to fit budget",
			"session_id", sid, "prompt_stage", fitted.Stage, "tokens", fitted.Tokens, "budget", e.assembler.Budget())
	}

	out.Stage = StageGenerating
	var reply strings.Builder
	err = e.generator.GenerateStream(ctx, fitted.Prompt, func(token string) error {
		reply.WriteString(token)
		e.metrics.Token()
		if input.StreamCallback != nil {
			input.StreamCallback(token, false)
		}
		return nil
	})
	if err != nil {
		return nil, &TurnError{
			Stage:   out.Stage,
			Partial: reply.String(),
			Err:     fmt.Errorf("stream reply: %w: %w", core.ErrGeneration, err),
		}
	}
	out.Text = reply.String()

	if err := e.memory.AppendShortTerm(ctx, sid, core.RoleAssistant, out.Text); err != nil {
		out.PersistErr = err
		e.logger.Error("reply delivered but not persisted", "session_id", sid, "err", err)
	}
	out.Stage = StageStoredReply

	if input.StreamCallback != nil {
		input.StreamCallback("", true)
	}
	out.Stage = StageDone

	e.logger.Debug("chat turn complete",
		"session_id", sid, "reply_chars", len(out.Text), "prompt_stage", fitted.Stage, "summarized", summarized)
	return out, nil
}

// retrieve embeds the message once and uses the vector for both long-term
// recall and document chunk search, each scoped to the session.
func (e *Engine) retrieve(ctx context.Context, sessionID, message string) ([]string, []string, error) {
	embedding, err := e.embedder.Embed(ctx, message)
	if err != nil {
		return nil, nil, fmt.Errorf("embed message: %w: %w", core.ErrEmbedding, err)
	}

	longTerm, err := e.memory.RecallLongTerm(ctx, sessionID, embedding)
	if err != nil {
		return nil, nil, err
	}

	hits, err := e.index.Query(ctx, core.CollectionChunks, embedding,
		map[string]string{"session_id": sessionID}, e.chunkK)
	if err != nil {
		return nil, nil, fmt.Errorf("retrieve chunks: %w: %w", core.ErrRetrieval, err)
	}
	chunks := make([]string, 0, len(hits))
	for _, hit := range hits {
		text := hit.Metadata["text"]
		if text == "" {
			text = hit.Text
		}
		if text != "" {
			chunks = append(chunks, text)
		}
	}
	return longTerm, chunks, nil
}
