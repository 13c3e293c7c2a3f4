// Package prompt assembles the generation prompt from memory and retrieval
// results, and shrinks it in fixed stages until it fits a token budget.
package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/becomeliminal/recall/core"
	"github.com/becomeliminal/recall/memory"
)

// DefaultBudget is the prompt budget in estimated tokens.
const DefaultBudget = 4000

// Placeholders for empty sections.
const (
	NoLongTerm  = "No long-term memory."
	NoDocuments = "No document context found."
	NoShortTerm = "No short-term memory."
)

// DefaultTemplate is the prompt layout. It is rendered with a view whose
// fields are LongTerm, Documents, ChunkCount, ShortTerm and UserMessage.
const DefaultTemplate = `You are a helpful assistant answering questions about the user's documents.
Use the document context and the conversation memory below when they are relevant.
If the answer is not in the context, say so instead of guessing.

Long-term memory:
{{.LongTerm}}

Document context ({{.ChunkCount}} chunks):
{{.Documents}}

Recent conversation:
{{.ShortTerm}}

User: {{.UserMessage}}
Assistant:`

// Input is everything a prompt is built from.
type Input struct {
	UserMessage string
	ShortTerm   []core.Entry
	LongTerm    []string
	// Chunks are ordered best match first.
	Chunks []string
}

// Config configures an Assembler.
type Config struct {
	// Budget is the target size in estimated tokens.
	// Default: DefaultBudget
	Budget int

	// Template overrides DefaultTemplate.
	Template string
}

// Assembler builds prompts. It is immutable and safe for concurrent use.
type Assembler struct {
	budget int
	tmpl   *template.Template
}

type view struct {
	LongTerm    string
	Documents   string
	ChunkCount  int
	ShortTerm   string
	UserMessage string
}

// New creates an Assembler.
func New(cfg Config) (*Assembler, error) {
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	if cfg.Template == "" {
		cfg.Template = DefaultTemplate
	}
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(cfg.Template)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	a := &Assembler{budget: cfg.Budget, tmpl: tmpl}
	// Surface field errors now so Build cannot fail later.
	if _, err := a.render(Input{}); err != nil {
		return nil, fmt.Errorf("check prompt template: %w", err)
	}
	return a, nil
}

// Budget returns the configured budget.
func (a *Assembler) Budget() int {
	return a.budget
}

// Build renders in with the template. Every degradation stage goes through
// it, so the structure of the prompt never changes, only the input sizes.
func (a *Assembler) Build(in Input) string {
	out, err := a.render(in)
	if err != nil {
		// Unreachable once New validated the template.
		panic(err)
	}
	return out
}

func (a *Assembler) render(in Input) (string, error) {
	var buf bytes.Buffer
	if err := a.tmpl.Execute(&buf, newView(in)); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func newView(in Input) view {
	v := view{
		LongTerm:    NoLongTerm,
		Documents:   NoDocuments,
		ChunkCount:  len(in.Chunks),
		ShortTerm:   NoShortTerm,
		UserMessage: in.UserMessage,
	}
	if len(in.LongTerm) > 0 {
		lines := make([]string, len(in.LongTerm))
		for i, s := range in.LongTerm {
			lines[i] = "- " + s
		}
		v.LongTerm = strings.Join(lines, "\n")
	}
	if len(in.Chunks) > 0 {
		blocks := make([]string, len(in.Chunks))
		for i, c := range in.Chunks {
			blocks[i] = fmt.Sprintf("CHUNK %d:\n%s", i+1, c)
		}
		v.Documents = strings.Join(blocks, "\n\n")
	}
	if len(in.ShortTerm) > 0 {
		lines := make([]string, len(in.ShortTerm))
		for i, e := range in.ShortTerm {
			lines[i] = fmt.Sprintf("%s: %s", e.Role, e.Content)
		}
		v.ShortTerm = strings.Join(lines, "\n")
	}
	return v
}

// Result is a fitted prompt.
type Result struct {
	Prompt string
	Stage  Stage
	Tokens int
}

// Fits reports whether the result is within budget.
func (r Result) Fits(budget int) bool {
	return r.Tokens <= budget
}

// Fit returns the first stage's prompt that fits the budget. The final
// stage is returned even when it is still over budget; the user message is
// never dropped.
func (a *Assembler) Fit(in Input) Result {
	prompt := a.Build(in)
	res := Result{Prompt: prompt, Stage: StageFull, Tokens: memory.EstimateTokens(prompt)}
	if res.Tokens <= a.budget {
		return res
	}
	for _, step := range Steps {
		in = step.Apply(in)
		prompt = a.Build(in)
		res = Result{Prompt: prompt, Stage: step.Stage, Tokens: memory.EstimateTokens(prompt)}
		if res.Tokens <= a.budget {
			return res
		}
	}
	return res
}
