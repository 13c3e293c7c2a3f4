package memory

import (
	"context"

	"github.com/becomeliminal/recall/core"
)

// Buffer is the ephemeral short-term tier, keyed by session ID.
// Implementations may drop entries at any time; Store treats a missing key
// as cold and rehydrates it from the Log.
type Buffer interface {
	// Get returns the buffered entries and whether the session is warm.
	Get(sessionID string) ([]core.Entry, bool)

	// Set replaces the buffered entries for a session.
	Set(sessionID string, entries []core.Entry)

	// Append adds an entry only when the session is already warm.
	// It reports whether the entry was appended.
	Append(sessionID string, entry core.Entry) bool

	// Trim keeps only the last keep entries.
	Trim(sessionID string, keep int)

	// Clear drops the session's entries.
	Clear(sessionID string)
}

// Log is the durable short- and long-term tier.
type Log interface {
	// AppendEntry writes the entry to the short-term log and the chat
	// history in a single transaction. The returned entry carries its Seq.
	AppendEntry(ctx context.Context, entry core.Entry) (core.Entry, error)

	// Entries returns the session's short-term log in chronological order.
	Entries(ctx context.Context, sessionID string) ([]core.Entry, error)

	// AddSummary commits a summary with the next order for its session.
	AddSummary(ctx context.Context, summary core.Summary) (core.Summary, error)

	// Summaries returns the session's summaries by ascending order.
	Summaries(ctx context.Context, sessionID string) ([]core.Summary, error)

	// TrimEntries deletes all but the most recent keep short-term rows.
	TrimEntries(ctx context.Context, sessionID string, keep int) (int64, error)

	// DeleteMemory erases all short- and long-term rows of a session.
	DeleteMemory(ctx context.Context, sessionID string) error
}
