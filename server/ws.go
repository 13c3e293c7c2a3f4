package server

import (
	"context"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/becomeliminal/recall/engine"
)

// ChatWS streams chat turns over a WebSocket. Each text frame from the
// client is one user message. The reply is sent as FrameToken frames
// followed by FrameDone. A failed turn sends one FrameError frame before
// FrameDone; tokens already sent are not retracted.
// GET /chat/ws/:id
func (s *Server) ChatWS(c echo.Context) error {
	sessionID := c.Param("id")
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session_id", sessionID, "err", err)
		return nil
	}
	defer conn.Close()
	s.logger.Info("websocket connected", "session_id", sessionID)

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", "session_id", sessionID, "err", err)
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if !s.turn(c.Request().Context(), conn, sessionID, string(msg)) {
			break
		}
	}
	s.logger.Info("websocket closed", "session_id", sessionID)
	return nil
}

// turn runs one message and reports whether the connection is still usable.
func (s *Server) turn(parent context.Context, conn *websocket.Conn, sessionID, message string) bool {
	// A failed write means the client is gone; cancelling stops generation.
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var writeErr error
	send := func(f Frame) {
		if writeErr != nil {
			return
		}
		if err := conn.WriteJSON(f); err != nil {
			writeErr = err
			cancel()
		}
	}

	_, err := s.chat.Run(ctx, &engine.Input{
		SessionID:   sessionID,
		UserMessage: message,
		StreamCallback: func(chunk string, done bool) {
			if done {
				send(Frame{Type: FrameDone})
				return
			}
			send(Frame{Type: FrameToken, Text: chunk})
		},
	})
	if err != nil {
		send(Frame{Type: FrameError, Error: err.Error()})
		send(Frame{Type: FrameDone})
	}
	if writeErr != nil {
		s.logger.Warn("client went away mid-reply", "session_id", sessionID, "err", writeErr)
		return false
	}
	return true
}
