package session

import (
	"context"
	"fmt"
	"strings"
)

const titlePrompt = `Generate a short, descriptive title (at most 8 words) for a document that begins with the text below.
Reply with the title only.

Text:
%s

Title:`

// Title asks the generator for a document title based on the start of text.
// On failure it returns FallbackTitle along with the error.
func (m *Manager) Title(ctx context.Context, text string) (string, error) {
	if r := []rune(text); len(r) > TitleSourceChars {
		text = string(r[:TitleSourceChars])
	}
	raw, err := m.generator.Generate(ctx, fmt.Sprintf(titlePrompt, text))
	if err != nil {
		return FallbackTitle, err
	}
	return CleanTitle(raw), nil
}

// GenerateTitle titles a session from text and stores the name. Generation
// failures fall back to FallbackTitle; only a failed rename is returned.
func (m *Manager) GenerateTitle(ctx context.Context, sessionID, text string) (string, error) {
	title, err := m.Title(ctx, text)
	if err != nil {
		m.logger.Warn("title generation failed, using fallback", "session_id", sessionID, "err", err)
	}
	if err := m.store.RenameSession(ctx, sessionID, title); err != nil {
		return "", fmt.Errorf("rename session: %w", err)
	}
	m.logger.Info("titled session", "session_id", sessionID, "title", title)
	return title, nil
}

// CleanTitle strips quoting and a leading "Title:" label from model output.
func CleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	if len(title) >= 6 && strings.EqualFold(title[:6], "title:") {
		title = strings.TrimSpace(title[6:])
	}
	title = strings.Trim(title, "\"'`")
	title = strings.TrimSpace(title)
	if title == "" {
		return FallbackTitle
	}
	return title
}
