// Package core holds the domain types and collaborator interfaces shared by
// the memory, prompt, engine and session packages.
package core

import (
	"time"
)

// Role identifies who produced a conversational message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Session is the unit every other record is scoped to.
type Session struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Name returns the display name, or a short form of the ID when unnamed.
func (s Session) Name() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	if len(s.ID) > 8 {
		return s.ID[:8]
	}
	return s.ID
}

// Entry is one short-term conversational turn.
// Seq orders entries within a session; it is assigned by the durable log.
type Entry struct {
	SessionID string `json:"session_id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Seq       string `json:"seq,omitempty"`
}

// Summary is an immutable digest of evicted short-term history.
type Summary struct {
	SessionID string
	Order     int
	Text      string
	Embedding []float32
	CreatedAt time.Time
}

// HistoryRecord is one row of the append-only chat audit trail.
type HistoryRecord struct {
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"timestamp"`
}

// RetrievedChunk is a ranked vector search hit. It is never persisted.
type RetrievedChunk struct {
	ID       string
	Text     string
	Score    float32
	Metadata map[string]string
}

// Document is an ingested source file.
type Document struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// Chunk is a piece of an ingested document's text.
type Chunk struct {
	ID         int64  `json:"id"`
	DocumentID int64  `json:"document_id"`
	SessionID  string `json:"session_id"`
	Index      int    `json:"chunk_index"`
	Text       string `json:"text"`
}
