// Package server exposes the narration pipeline over HTTP.
//
// Routes:
//
//	POST   /v1/sessions                          create a session
//	DELETE /v1/sessions/{id}                     end a session and drop its history
//	GET    /v1/catalog                           tones, languages and voices
//	POST   /v1/sessions/{id}/runs                run the pipeline (JSON or multipart)
//	GET    /v1/sessions/{id}/runs/ws             run over WebSocket with progress events
//	GET    /v1/sessions/{id}/runs/latest/audio   MP3 of the most recent completed run
//	GET    /v1/sessions/{id}/history             completed runs, most recent first
//	GET    /v1/sessions/{id}/history/{n}/audio   MP3 of history entry n (1 = newest)
//
// Health and metrics routes are mounted by the caller through [WithHealth]
// and [WithMetricsHandler].
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MrWong99/echoverse/internal/health"
	"github.com/MrWong99/echoverse/internal/observe"
	"github.com/MrWong99/echoverse/internal/pipeline"
	"github.com/MrWong99/echoverse/internal/session"
)

// DefaultMaxUploadBytes caps request bodies when no limit is configured.
const DefaultMaxUploadBytes = 20 << 20

// Server routes HTTP requests to the session manager and orchestrator.
type Server struct {
	sessions  *session.Manager
	orch      *pipeline.Orchestrator
	maxUpload int64
	metrics   *observe.Metrics
	health    *health.Handler
	promH     http.Handler
}

// Option configures a [Server].
type Option func(*Server)

// WithMaxUploadBytes caps the size of run request bodies.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithMetrics wraps the handler in [observe.Middleware] using m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.promH = h }
}

// New creates a Server.
func New(sessions *session.Manager, orch *pipeline.Orchestrator, opts ...Option) (*Server, error) {
	if sessions == nil {
		return nil, errors.New("server: session manager must not be nil")
	}
	if orch == nil {
		return nil, errors.New("server: orchestrator must not be nil")
	}
	s := &Server{
		sessions:  sessions,
		orch:      orch,
		maxUpload: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleEndSession)
	mux.HandleFunc("GET /v1/catalog", s.handleCatalog)
	mux.HandleFunc("POST /v1/sessions/{id}/runs", s.handleRun)
	mux.HandleFunc("GET /v1/sessions/{id}/runs/ws", s.handleRunStream)
	mux.HandleFunc("GET /v1/sessions/{id}/runs/latest/audio", s.handleLatestAudio)
	mux.HandleFunc("GET /v1/sessions/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /v1/sessions/{id}/history/{n}/audio", s.handleHistoryAudio)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.promH != nil {
		mux.Handle("GET /metrics", s.promH)
	}

	if s.metrics == nil {
		return mux
	}
	return observe.Middleware(s.metrics)(mux)
}

// handleCreateSession handles POST /v1/sessions.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create(r.Context())
	writeJSON(w, http.StatusCreated, sessionView{ID: sess.ID, CreatedAt: sess.CreatedAt})
}

// handleEndSession handles DELETE /v1/sessions/{id}.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.End(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCatalog handles GET /v1/catalog.
func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newCatalogView(s.orch))
}

// lookup resolves the {id} path value, writing 404 when the session is gone.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return nil, false
	}
	return sess, true
}

// errorBody is the JSON body for every non-2xx response.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, pipeline.ErrNoText),
		isSelectionError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// errBadRequest marks malformed request bodies.
var errBadRequest = errors.New("server: bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}
