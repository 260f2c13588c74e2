// Package server is the HTTP surface of vibedeckd: session listing and
// detail, command dispatch, transcript export, and the live event stream.
// Every session-addressed route passes the ownership gate before any file
// is touched.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/vibedeck/vibedeck/internal/backend"
	"github.com/vibedeck/vibedeck/internal/config"
	"github.com/vibedeck/vibedeck/internal/dispatch"
	"github.com/vibedeck/vibedeck/internal/events"
	"github.com/vibedeck/vibedeck/internal/isolation"
	"github.com/vibedeck/vibedeck/internal/session"
	"github.com/vibedeck/vibedeck/internal/transcript"
)

// Executor runs a built command to completion. *dispatch.Runner satisfies
// it; tests substitute a fake so no process is spawned.
type Executor interface {
	Run(ctx context.Context, spec backend.CommandSpec) (dispatch.Result, error)
}

// Options wire a Server together.
type Options struct {
	Config    config.Server
	Discovery config.Discovery

	// Backend may be nil when no users directory is configured; the
	// service then serves empty listings and refuses dispatch.
	Backend  *backend.Isolation
	Registry *session.Registry
	Bus      *events.Bus
	Exec     Executor
	Logger   *slog.Logger
}

// Server handles the vibedeck HTTP API.
type Server struct {
	cfg      config.Server
	disc     config.Discovery
	backend  *backend.Isolation
	registry *session.Registry
	bus      *events.Bus
	exec     Executor
	logger   *slog.Logger
	mux      *http.ServeMux
}

// New builds the Server and its route table. A nil Bus gets created from
// the registry and the backend's owner resolver.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	registry := opts.Registry
	if registry == nil {
		registry = session.NewRegistry()
	}
	bus := opts.Bus
	if bus == nil {
		// With authentication off every subscriber is anonymous and must
		// see every event; leaving the resolvers nil makes the routing
		// filter a no-op, matching the listing and request gates.
		var lookup events.PathLookup
		var owner events.OwnerFunc
		if opts.Config.IdentityHeader != "" && opts.Backend != nil {
			lookup = registry.Path
			owner = opts.Backend.SessionOwner
		}
		bus = events.NewBus(lookup, owner, nil, logger)
	}
	exec := opts.Exec
	if exec == nil {
		exec = dispatch.NewRunner(logger)
	}
	s := &Server{
		cfg:      opts.Config,
		disc:     opts.Discovery,
		backend:  opts.Backend,
		registry: registry,
		bus:      bus,
		exec:     exec,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

// Bus exposes the event bus so other components can publish into it.
func (s *Server) Bus() *events.Bus { return s.bus }

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessionList)
	s.mux.HandleFunc("POST /api/sessions/new", s.handleNewSession)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleSessionDetail)
	s.mux.HandleFunc("POST /api/sessions/{id}/send", s.handleSend)
	s.mux.HandleFunc("GET /api/sessions/{id}/export", s.handleExport)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// identity extracts the caller identity from the trusted auth header. With
// no header configured, authentication is off and every caller is
// anonymous with full visibility. With a header configured, a request
// without it is rejected.
func (s *Server) identity(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.cfg.IdentityHeader == "" {
		return "", true
	}
	user := strings.TrimSpace(r.Header.Get(s.cfg.IdentityHeader))
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing identity header")
		return "", false
	}
	return user, true
}

// authorize checks that the identity owns the session path. With
// authentication off every path is visible. An unresolvable owner denies:
// a session outside any user subtree must never leak through the gate.
func (s *Server) authorize(user, path string) error {
	if s.cfg.IdentityHeader == "" || s.backend == nil {
		return nil
	}
	owner := s.backend.SessionOwner(path)
	if owner == "" || owner != user {
		return backend.ErrAccessDenied
	}
	return nil
}

// resolvePath maps a session id to its transcript path, consulting the
// registry first and falling back to a fresh scan scoped to the caller.
func (s *Server) resolvePath(user, id string) (string, bool) {
	if path, ok := s.registry.Path(id); ok {
		return path, true
	}
	if s.backend == nil {
		return "", false
	}
	var records []isolation.Record
	if user != "" {
		records = s.backend.FindSessionsForUser(user, s.disc.Limit, true)
	} else {
		records = s.backend.FindRecentSessions(s.disc.Limit, true)
	}
	for _, rec := range records {
		if transcript.SessionID(rec.Path) == id {
			return rec.Path, true
		}
	}
	return "", false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.registry.Len(),
	})
}

type sessionItem struct {
	ID          string `json:"id"`
	LastMessage string `json:"last_message"`
	Subagent    bool   `json:"subagent,omitempty"`
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	user, ok := s.identity(w, r)
	if !ok {
		return
	}
	items := []sessionItem{}
	if s.backend != nil {
		var records []isolation.Record
		if user != "" {
			records = s.backend.FindSessionsForUser(user, s.disc.Limit, s.disc.IncludeSubagents)
		} else {
			records = s.backend.FindRecentSessions(s.disc.Limit, s.disc.IncludeSubagents)
		}
		for _, rec := range records {
			items = append(items, sessionItem{
				ID:          transcript.SessionID(rec.Path),
				LastMessage: rec.LastMessage.Format(timeFormat),
				Subagent:    rec.Subagent,
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": items})
}

func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	user, ok := s.identity(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	path, found := s.resolvePath(user, id)
	if !found {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	if err := s.authorize(user, path); err != nil {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}
	lines, err := transcript.Messages(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "unknown session")
			return
		}
		s.logger.Error("reading transcript", "session", id, "err", err)
		writeError(w, http.StatusInternalServerError, "transcript read failed")
		return
	}
	msgs := make([]map[string]any, 0, len(lines))
	for _, l := range lines {
		msgs = append(msgs, map[string]any{
			"type":      l.Type,
			"timestamp": l.Timestamp,
			"text":      l.Text(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "messages": msgs})
}

type sendRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	user, ok := s.identity(w, r)
	if !ok {
		return
	}
	if s.backend == nil {
		writeError(w, http.StatusServiceUnavailable, "no backend configured")
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	id := r.PathValue("id")
	path, found := s.resolvePath(user, id)
	if !found {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	if err := s.authorize(user, path); err != nil {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	spec, err := s.buildSend(user, id, req.Message)
	if err != nil {
		s.dispatchBuildError(w, err)
		return
	}
	if s.dispatch(w, r, user, spec) {
		s.bus.Publish(events.Event{Kind: "session_updated", Data: map[string]any{"session_id": id}})
	}
}

func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	user, ok := s.identity(w, r)
	if !ok {
		return
	}
	if s.backend == nil {
		writeError(w, http.StatusServiceUnavailable, "no backend configured")
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	spec, err := s.buildNew(user, req.Message)
	if err != nil {
		s.dispatchBuildError(w, err)
		return
	}
	s.dispatch(w, r, user, spec)
}

// buildSend routes through the owner-aware builder when an identity is
// present and falls back to the owner-less entry point otherwise, which
// the isolation backend rejects by design.
func (s *Server) buildSend(user, id, message string) (backend.CommandSpec, error) {
	if user != "" {
		return s.backend.BuildSendCommandForUser(user, id, message)
	}
	return s.backend.BuildSendCommand(id, message)
}

func (s *Server) buildNew(user, message string) (backend.CommandSpec, error) {
	if user != "" {
		return s.backend.BuildNewSessionCommandForUser(user, message)
	}
	return s.backend.BuildNewSessionCommand(message)
}

func (s *Server) dispatchBuildError(w http.ResponseWriter, err error) {
	if errors.Is(err, backend.ErrUnsupported) {
		writeError(w, http.StatusNotImplemented, err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

// dispatch warms the caller's sandbox and runs the command. Container
// failures surface as 502 with the docker diagnostic; a non-zero agent
// exit is still a successful dispatch and is reported in the body.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, user string, spec backend.CommandSpec) bool {
	if user != "" {
		if err := s.backend.EnsureContainer(r.Context(), user); err != nil {
			s.logger.Error("ensure container", "user", user, "err", err)
			writeError(w, http.StatusBadGateway, err.Error())
			return false
		}
	}
	res, err := s.exec.Run(r.Context(), spec)
	if err != nil {
		s.logger.Error("dispatch", "user", user, "err", err)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("dispatch failed: %v", err))
		return false
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exit_code": res.ExitCode,
		"stdout":    res.Stdout,
		"stderr":    res.Stderr,
	})
	return true
}

// handleExport streams the raw transcript, zstd-compressed. The same
// ownership gate applies as for the detail route.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	user, ok := s.identity(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	path, found := s.resolvePath(user, id)
	if !found {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	if err := s.authorize(user, path); err != nil {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}
	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".jsonl.zst"))
	w.WriteHeader(http.StatusOK)

	enc, err := zstd.NewWriter(w)
	if err != nil {
		s.logger.Error("export encoder", "session", id, "err", err)
		return
	}
	if _, err := io.Copy(enc, f); err != nil {
		s.logger.Error("export stream", "session", id, "err", err)
	}
	if err := enc.Close(); err != nil {
		s.logger.Error("export flush", "session", id, "err", err)
	}
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
