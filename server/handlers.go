package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/becomeliminal/recall/core"
	"github.com/becomeliminal/recall/ingest"
)

type sessionItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

// Health returns health status.
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ListSessions returns every session, newest first.
// GET /sessions
func (s *Server) ListSessions(c echo.Context) error {
	sessions, err := s.sessions.List(c.Request().Context())
	if err != nil {
		s.logger.Error("failed to list sessions", "err", err)
		return errorJSON(c, http.StatusInternalServerError, "could not list sessions")
	}
	items := make([]sessionItem, len(sessions))
	for i, sess := range sessions {
		items[i] = sessionItem{ID: sess.ID, Name: sess.Name()}
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": items})
}

// CreateSession starts an empty session.
// POST /sessions
func (s *Server) CreateSession(c echo.Context) error {
	id, err := s.sessions.Create(c.Request().Context())
	if err != nil {
		s.logger.Error("failed to create session", "err", err)
		return errorJSON(c, http.StatusInternalServerError, "could not create session")
	}
	return c.JSON(http.StatusCreated, map[string]string{"session_id": id})
}

// DeleteSession schedules a session for cleanup and returns immediately.
// DELETE /sessions/:id
func (s *Server) DeleteSession(c echo.Context) error {
	id := c.Param("id")
	if err := s.sessions.Delete(c.Request().Context(), id); err != nil {
		s.logger.Error("failed to delete session", "session_id", id, "err", err)
		return errorJSON(c, http.StatusServiceUnavailable, "failed to delete session")
	}
	return c.JSON(http.StatusOK, map[string]bool{"deleted": true})
}

// History returns the chat history of a session.
// GET /sessions/:id/history
func (s *Server) History(c echo.Context) error {
	id := c.Param("id")
	records, err := s.sessions.History(c.Request().Context(), id)
	if err != nil {
		s.logger.Error("failed to load history", "session_id", id, "err", err)
		return errorJSON(c, http.StatusInternalServerError, "could not fetch history")
	}
	if records == nil {
		records = []core.HistoryRecord{}
	}
	return c.JSON(http.StatusOK, map[string]any{"history": records})
}

// Upload ingests a text or markdown file into a new session.
// POST /upload (multipart field "file")
func (s *Server) Upload(c echo.Context) error {
	if s.maxUpload > 0 {
		c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, s.maxUpload)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "missing file")
	}
	if !ingest.Supported(fh.Filename) {
		return errorJSON(c, http.StatusUnsupportedMediaType,
			fmt.Sprintf("unsupported file type: %s", fh.Filename))
	}

	f, err := fh.Open()
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "unreadable file")
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "unreadable file")
	}

	text, err := ingest.Extract(fh.Filename, content)
	if err != nil {
		return errorJSON(c, http.StatusUnsupportedMediaType, err.Error())
	}

	res, err := s.ingester.Ingest(c.Request().Context(), fh.Filename, fh.Header.Get("Content-Type"), text)
	if errors.Is(err, ingest.ErrEmptyDocument) {
		return errorJSON(c, http.StatusUnprocessableEntity, err.Error())
	}
	if err != nil {
		s.logger.Error("failed to ingest document", "filename", fh.Filename, "err", err)
		return errorJSON(c, http.StatusInternalServerError, "could not ingest document")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session_id":   res.SessionID,
		"session_name": res.Title,
		"document_id":  res.DocumentID,
		"chunks":       res.Chunks,
		"status":       "ingested",
	})
}
