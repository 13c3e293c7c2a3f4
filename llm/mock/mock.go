// Package mock provides a scripted core.Generator.
package mock

import (
	"context"
	"strings"
	"sync"
)

// Generator replies from a script.
type Generator struct {
	// Reply is streamed word by word, keeping spaces attached.
	Reply string

	// Summary is returned by Generate. Defaults to Reply.
	Summary string

	// GenerateErr fails Generate.
	GenerateErr error

	// StreamErr, when set, fails the stream after FailAfter tokens.
	StreamErr error
	FailAfter int

	mu      sync.Mutex
	prompts []string
}

// New returns a generator streaming reply.
func New(reply string) *Generator {
	return &Generator{Reply: reply}
}

// Generate returns Summary, or Reply when Summary is empty.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	g.record(prompt)
	if g.GenerateErr != nil {
		return "", g.GenerateErr
	}
	if g.Summary != "" {
		return g.Summary, nil
	}
	return g.Reply, nil
}

// GenerateStream emits Tokens(Reply) in order.
func (g *Generator) GenerateStream(ctx context.Context, prompt string, onToken func(string) error) error {
	g.record(prompt)
	for i, tok := range Tokens(g.Reply) {
		if g.StreamErr != nil && i >= g.FailAfter {
			return g.StreamErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onToken(tok); err != nil {
			return err
		}
	}
	return nil
}

// Prompts returns every prompt received so far.
func (g *Generator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

func (g *Generator) record(prompt string) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
}

// Tokens splits s after every space so the pieces concatenate back to s.
func Tokens(s string) []string {
	var out []string
	for len(s) > 0 {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}
