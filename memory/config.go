package memory

// Config holds Store configuration.
type Config struct {
	// SummaryThreshold is the token estimate at which short-term memory is
	// summarized and evicted.
	// Default: 2000
	SummaryThreshold int

	// RetainTurns is how many recent entries survive an eviction, in both
	// the buffer and the durable log.
	// Default: 4
	RetainTurns int

	// LongTermK is how many summaries are recalled per turn.
	// Default: 1 (best match only)
	LongTermK int

	// SummaryTemplate is a text/template rendered with {{.Text}} set to the
	// joined short-term contents.
	// Default: DefaultSummaryTemplate
	SummaryTemplate string
}

// DefaultSummaryTemplate asks for a compact digest of a conversation block.
const DefaultSummaryTemplate = `Summarize the following conversation so it can be recalled later.
Keep names, facts, decisions and open questions. Write plain prose, at most a few sentences.

Conversation:
{{.Text}}

Summary:`

// DefaultConfig returns the defaults used when no config is given.
var DefaultConfig = &Config{
	SummaryThreshold: 2000,
	RetainTurns:      4,
	LongTermK:        1,
	SummaryTemplate:  DefaultSummaryTemplate,
}

func (c *Config) withDefaults() *Config {
	out := *DefaultConfig
	if c == nil {
		return &out
	}
	if c.SummaryThreshold > 0 {
		out.SummaryThreshold = c.SummaryThreshold
	}
	if c.RetainTurns > 0 {
		out.RetainTurns = c.RetainTurns
	}
	if c.LongTermK > 0 {
		out.LongTermK = c.LongTermK
	}
	if c.SummaryTemplate != "" {
		out.SummaryTemplate = c.SummaryTemplate
	}
	return &out
}
