// Package server exposes trim sessions over HTTP and WebSocket.
package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agleyzer/vidtrim/internal/encoder"
	"github.com/agleyzer/vidtrim/internal/export"
	"github.com/agleyzer/vidtrim/internal/parser"
	"github.com/agleyzer/vidtrim/internal/session"
)

// Editor applies edit commands. A session.Manager applies them locally; a
// cluster.Manager replicates them first.
type Editor interface {
	Submit(ctx context.Context, cmd session.Command) (session.Result, error)
}

// ClusterStatus describes the replication role of this node.
type ClusterStatus interface {
	NodeID() string
	State() string
	LeaderAddr() string
}

// EncoderFactory returns a fresh encoder for one export and a closer
// releasing it.
type EncoderFactory func() (export.Encoder, io.Closer, error)

// Option configures a Server.
type Option func(*Server)

// WithProber replaces the media prober used when creating sessions.
func WithProber(fn func(ctx context.Context, source string) (*parser.Media, error)) Option {
	return func(s *Server) { s.probe = fn }
}

// WithMediaReader replaces the function loading export input bytes.
func WithMediaReader(fn func(ctx context.Context, media *parser.Media) ([]byte, error)) Option {
	return func(s *Server) { s.readMedia = fn }
}

// WithEncoderFactory replaces the encoder used for exports.
func WithEncoderFactory(fn EncoderFactory) Option {
	return func(s *Server) { s.newEncoder = fn }
}

// WithExportParams sets the default export parameters.
func WithExportParams(p export.Params) Option {
	return func(s *Server) { s.params = p }
}

// WithCluster reports the replication role in health checks.
func WithCluster(c ClusterStatus) Option {
	return func(s *Server) { s.cluster = c }
}

// Server serves the editing API.
type Server struct {
	sessions   *session.Manager
	editor     Editor
	port       int
	logger     *slog.Logger
	httpServer *http.Server

	probe      func(ctx context.Context, source string) (*parser.Media, error)
	readMedia  func(ctx context.Context, media *parser.Media) ([]byte, error)
	newEncoder EncoderFactory
	params     export.Params
	cluster    ClusterStatus
}

// New creates a new HTTP server. Reads are served from sessions; edits go
// through editor.
func New(sessions *session.Manager, editor Editor, port int, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		sessions: sessions,
		editor:   editor,
		port:     port,
		logger:   logger,
		probe: func(ctx context.Context, source string) (*parser.Media, error) {
			return parser.Probe(ctx, source, parser.DefaultFFprobe)
		},
		readMedia: parser.ReadAll,
	}
	s.newEncoder = func() (export.Encoder, io.Closer, error) {
		enc, err := encoder.New(encoder.DefaultBinary, "", s.logger)
		if err != nil {
			return nil, nil, err
		}
		return enc, enc, nil
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.loggingMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Post("/", s.handleCreateSession)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)

			// Edits
			r.Post("/split", s.handleSplit)
			r.Post("/toggle", s.handleToggle)
			r.Post("/select", s.handleSelect)
			r.Post("/undo", s.handleUndo)
			r.Post("/reset", s.handleReset)

			// Playback
			r.Post("/seek", s.handleSeek)
			r.Post("/step", s.handleStep)
			r.Post("/position", s.handlePosition)
			r.Post("/play", s.handlePlay)
			r.Post("/pause", s.handlePause)
			r.Get("/ws", s.handleWS)

			// Output
			r.Get("/plan", s.handlePlan)
			r.Post("/export", s.handleExport)
			r.Get("/export", s.handleExportStatus)
			r.Get("/preview.m3u8", s.handlePreview)
		})
	})

	return r
}

// Start starts the HTTP server and blocks until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}

	// Start server in a goroutine
	go func() {
		s.logger.Info("starting HTTP server", "port", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	// Wait for context cancellation
	<-ctx.Done()

	// Graceful shutdown
	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}

// handleHealth serves health check information
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	}

	if s.cluster != nil {
		health["cluster"] = map[string]interface{}{
			"node_id": s.cluster.NodeID(),
			"state":   s.cluster.State(),
			"leader":  s.cluster.LeaderAddr(),
		}
	}

	writeJSON(w, http.StatusOK, health)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap the response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		s.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"status", wrapped.statusCode,
			"duration", duration,
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades through the wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
