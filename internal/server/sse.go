package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vibedeck/vibedeck/internal/events"
)

const heartbeatInterval = 15 * time.Second

// handleEvents streams bus events to the caller as server-sent events.
// Filtering is per subscription: the bus never hands this connection an
// event its identity does not own.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	user, ok := s.identity(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := s.bus.Subscribe(user)
	defer s.bus.Unsubscribe(sub.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-sub.C:
			if !open {
				return
			}
			if err := writeSSE(w, evt); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, evt events.Event) error {
	payload, err := json.Marshal(evt.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, payload)
	return err
}

// Refresh rescans the users root, syncs the registry and publishes
// session_added and session_removed events for the diff.
func (s *Server) Refresh() {
	if s.backend == nil {
		return
	}
	// Subagents always enter the registry so event routing can resolve
	// them even when listings exclude them.
	records := s.backend.FindRecentSessions(s.disc.Limit, true)
	added, removed := s.registry.Sync(records)
	for _, info := range added {
		s.bus.Publish(events.Event{Kind: "session_added", Data: map[string]any{
			"session_id":   info.ID,
			"last_message": info.LastMessage.Format(timeFormat),
		}})
	}
	for _, info := range removed {
		s.bus.Publish(events.Event{Kind: "session_removed", Data: map[string]any{
			"id": info.ID,
		}})
	}
	if len(added) > 0 || len(removed) > 0 {
		s.logger.Info("session registry refreshed",
			"total", s.registry.Len(), "added", len(added), "removed", len(removed))
	}
}

// RunDiscovery refreshes the registry on the configured interval until the
// context ends. The first refresh runs immediately so the service is never
// empty longer than one scan takes.
func (s *Server) RunDiscovery(ctx context.Context) {
	s.Refresh()
	ticker := time.NewTicker(s.disc.RefreshInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh()
		}
	}
}
