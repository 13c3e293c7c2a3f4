// Package app wires recall's components from a config.Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/becomeliminal/recall/config"
	"github.com/becomeliminal/recall/core"
	"github.com/becomeliminal/recall/engine"
	"github.com/becomeliminal/recall/ingest"
	"github.com/becomeliminal/recall/llm/claude"
	llmmock "github.com/becomeliminal/recall/llm/mock"
	"github.com/becomeliminal/recall/llm/ollama"
	"github.com/becomeliminal/recall/memory"
	"github.com/becomeliminal/recall/memory/buffer/ristretto"
	"github.com/becomeliminal/recall/memory/embedder/mock"
	"github.com/becomeliminal/recall/memory/embedder/remote"
	"github.com/becomeliminal/recall/memory/store/chromem"
	"github.com/becomeliminal/recall/memory/store/sqlite"
	"github.com/becomeliminal/recall/metrics"
	"github.com/becomeliminal/recall/prompt"
	"github.com/becomeliminal/recall/server"
	"github.com/becomeliminal/recall/session"
)

// MockReply is what the mock generator streams.
const MockReply = "This is an offline reply generated without a language model."

// App holds the constructed components.
type App struct {
	Config    *config.Config
	DB        *sqlite.Store
	Buffer    *ristretto.Buffer
	Index     *chromem.Index
	Embedder  core.Embedder
	Generator core.Generator
	Memory    *memory.Store
	Engine    *engine.Engine
	Sessions  *session.Manager
	Ingest    *ingest.Service
	Server    *server.Server
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// New builds every component. Call Close when done.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	a.Metrics = metrics.New(a.Registry)

	var err error
	if a.DB, err = sqlite.Open(cfg.Storage.DBPath); err != nil {
		return nil, err
	}
	if a.Buffer, err = ristretto.New(ristretto.Config{
		MaxCost: cfg.Memory.BufferMaxCost,
		TTL:     cfg.Memory.BufferTTL,
	}); err != nil {
		a.DB.Close()
		return nil, err
	}
	if dir := cfg.Storage.VectorPath(); dir == "" {
		a.Index = chromem.New(logger)
	} else if a.Index, err = chromem.NewPersistent(dir, cfg.Storage.CompressVectors, logger); err != nil {
		a.closeStores()
		return nil, err
	}
	if a.Embedder, err = newEmbedder(cfg.Embedding); err != nil {
		a.closeStores()
		return nil, err
	}
	a.Generator = newGenerator(cfg.LLM, logger)

	a.Memory, err = memory.NewStore(a.Buffer, a.DB, a.Index, a.Embedder, a.Generator,
		&memory.Config{
			SummaryThreshold: cfg.Memory.SummaryThreshold,
			RetainTurns:      cfg.Memory.RetainTurns,
			LongTermK:        cfg.Memory.LongTermK,
		},
		memory.WithLogger(logger),
		memory.WithMetrics(a.Metrics),
	)
	if err != nil {
		a.closeStores()
		return nil, err
	}

	assembler, err := prompt.New(prompt.Config{Budget: cfg.Prompt.Budget})
	if err != nil {
		a.closeStores()
		return nil, err
	}
	a.Engine = engine.NewEngine(a.Memory, a.Index, a.Embedder, a.Generator, assembler,
		engine.WithLogger(logger),
		engine.WithMetrics(a.Metrics),
		engine.WithChunkK(cfg.Prompt.ChunkK),
	)
	a.Sessions = session.NewManager(a.DB, a.Memory, a.Index, a.Generator,
		session.Config{CleanupConcurrency: cfg.Session.CleanupConcurrency},
		session.WithLogger(logger),
		session.WithMetrics(a.Metrics),
	)
	a.Ingest = ingest.NewService(a.DB, a.Sessions, a.Index, a.Embedder,
		ingest.WithLogger(logger),
		ingest.WithSplitter(ingest.NewSplitter(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)),
	)
	a.Server = server.New(a.Engine, a.Sessions, a.Ingest,
		server.WithLogger(logger),
		server.WithGatherer(a.Registry),
		server.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
	)
	return a, nil
}

func newEmbedder(cfg config.EmbeddingConfig) (core.Embedder, error) {
	if cfg.Provider == "mock" {
		return mock.New(), nil
	}
	return remote.New(remote.Config{
		Provider: cfg.Provider,
		Model:    cfg.Model,
		BaseURL:  cfg.BaseURL,
		APIKey:   cfg.APIKey,
	})
}

func newGenerator(cfg config.LLMConfig, logger *slog.Logger) core.Generator {
	switch cfg.Provider {
	case "claude":
		var opts []option.RequestOption
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		return claude.New(claude.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		}, opts...)
	case "mock":
		g := llmmock.New(MockReply)
		g.Summary = "Earlier in this conversation the user and assistant exchanged several messages."
		return g
	default:
		return ollama.New(ollama.Config{BaseURL: cfg.BaseURL, Model: cfg.Model, Logger: logger})
	}
}

// Close waits for background cleanups, then closes the stores.
func (a *App) Close(ctx context.Context) error {
	err := a.Sessions.Close(ctx)
	return errors.Join(err, a.closeStores())
}

func (a *App) closeStores() error {
	var errs []error
	if a.Buffer != nil {
		a.Buffer.Close()
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
