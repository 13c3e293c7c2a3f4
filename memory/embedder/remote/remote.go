// Package remote embeds text through an HTTP embedding API, using the
// provider clients that ship with chromem-go.
package remote

import (
	"context"
	"fmt"
	"sync/atomic"

	chromem "github.com/philippgille/chromem-go"
)

// Providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config selects and configures a provider.
type Config struct {
	// Provider is "ollama" or "openai".
	Provider string

	// Model is the embedding model name.
	// Default: nomic-embed-text (ollama), text-embedding-3-small (openai)
	Model string

	// BaseURL overrides the API endpoint. For Ollama it must end in /api.
	BaseURL string

	// APIKey is required for openai.
	APIKey string
}

// Embedder adapts a chromem.EmbeddingFunc to core.Embedder.
type Embedder struct {
	fn   chromem.EmbeddingFunc
	dims atomic.Int64
}

// New builds an embedder for cfg.
func New(cfg Config) (*Embedder, error) {
	var fn chromem.EmbeddingFunc
	switch cfg.Provider {
	case ProviderOllama, "":
		model := cfg.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		fn = chromem.NewEmbeddingFuncOllama(model, cfg.BaseURL)
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai embedder: api key required")
		}
		model := cfg.Model
		if model == "" {
			model = string(chromem.EmbeddingModelOpenAI3Small)
		}
		if cfg.BaseURL != "" {
			fn = chromem.NewEmbeddingFuncOpenAICompat(cfg.BaseURL, cfg.APIKey, model, nil)
		} else {
			fn = chromem.NewEmbeddingFuncOpenAI(cfg.APIKey, chromem.EmbeddingModelOpenAI(model))
		}
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	return FromFunc(fn), nil
}

// FromFunc wraps an existing embedding function.
func FromFunc(fn chromem.EmbeddingFunc) *Embedder {
	return &Embedder{fn: fn}
}

// Embed calls the provider.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.fn(ctx, text)
	if err != nil {
		return nil, err
	}
	e.dims.CompareAndSwap(0, int64(len(vec)))
	return vec, nil
}

// Dimensions returns the vector size seen so far, or 0 before the first call.
func (e *Embedder) Dimensions() int {
	return int(e.dims.Load())
}
