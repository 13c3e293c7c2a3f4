// Package server exposes sessions, document upload and streaming chat over
// HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/becomeliminal/recall/core"
	"github.com/becomeliminal/recall/engine"
	"github.com/becomeliminal/recall/ingest"
)

// Chat frame types.
const (
	FrameToken = "token"
	FrameDone  = "done"
	FrameError = "error"
)

// Frame is one server-to-client message on the chat websocket, sent as a
// JSON text frame. Every reply ends with a FrameDone frame.
type Frame struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// Chat runs one turn. *engine.Engine implements it.
type Chat interface {
	Run(ctx context.Context, input *engine.Input) (*engine.Output, error)
}

// Sessions is the session API. *session.Manager implements it.
type Sessions interface {
	Create(ctx context.Context) (string, error)
	List(ctx context.Context) ([]core.Session, error)
	Delete(ctx context.Context, id string) error
	History(ctx context.Context, id string) ([]core.HistoryRecord, error)
}

// Ingester ingests uploaded text. *ingest.Service implements it.
type Ingester interface {
	Ingest(ctx context.Context, filename, contentType, text string) (*ingest.Result, error)
}

// Server is the HTTP front end.
type Server struct {
	echo      *echo.Echo
	chat      Chat
	sessions  Sessions
	ingester  Ingester
	gatherer  prometheus.Gatherer
	maxUpload int64
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithGatherer serves g on /metrics. Defaults to prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithMaxUploadBytes limits upload request bodies.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		s.maxUpload = n
	}
}

// New creates the server and registers its routes.
func New(chat Chat, sessions Sessions, ingester Ingester, opts ...Option) *Server {
	s := &Server{
		chat:     chat,
		sessions: sessions,
		ingester: ingester,
		gatherer: prometheus.DefaultGatherer,
		logger:   slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method, "uri", v.URI, "status", v.Status,
				"latency", v.Latency, "request_id", v.RequestID,
			}
			if v.Error != nil {
				s.logger.Error("request failed", append(attrs, "err", v.Error)...)
				return nil
			}
			s.logger.Debug("request", attrs...)
			return nil
		},
	}))
	s.echo = e
	s.RegisterRoutes(e)
	return s
}

// RegisterRoutes adds every route to e.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", s.Health)

	e.GET("/sessions", s.ListSessions)
	e.POST("/sessions", s.CreateSession)
	e.DELETE("/sessions/:id", s.DeleteSession)
	e.GET("/sessions/:id/history", s.History)

	e.POST("/upload", s.Upload)
	e.GET("/chat/ws/:id", s.ChatWS)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
