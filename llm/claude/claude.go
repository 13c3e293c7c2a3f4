// Package claude implements core.Generator on the Anthropic Messages API.
package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Defaults.
const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 4096
)

// Config configures the generator.
type Config struct {
	APIKey       string
	Model        string
	MaxTokens    int64
	SystemPrompt string
}

// Generator sends each prompt as a single user message.
type Generator struct {
	client       anthropic.Client
	model        string
	maxTokens    int64
	systemPrompt string
}

// New creates a generator. Extra request options are passed to the client.
func New(cfg Config, opts ...option.RequestOption) *Generator {
	if cfg.APIKey != "" {
		opts = append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &Generator{
		client:       anthropic.NewClient(opts...),
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		systemPrompt: cfg.SystemPrompt,
	}
}

func (g *Generator) params(prompt string) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: g.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if g.systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: g.systemPrompt}}
	}
	return params
}

// Generate returns the concatenated text blocks of the reply.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Messages.New(ctx, g.params(prompt))
	if err != nil {
		return "", fmt.Errorf("claude messages: %w", err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// GenerateStream forwards every text delta as it arrives.
func (g *Generator) GenerateStream(ctx context.Context, prompt string, onToken func(string) error) error {
	stream := g.client.Messages.NewStreaming(ctx, g.params(prompt))
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		switch evt := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := evt.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if err := onToken(delta.Text); err != nil {
					return err
				}
			}
		case anthropic.MessageStopEvent:
			// Stream complete
		}
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("claude stream: %w", err)
	}
	return nil
}
