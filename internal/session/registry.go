// Package session keeps the in-memory registry of known sessions. The
// registry is the lookup the event filter and request gate resolve session
// ids against; discovery scans refresh it.
package session

import (
	"sync"
	"time"

	"github.com/vibedeck/vibedeck/internal/isolation"
	"github.com/vibedeck/vibedeck/internal/transcript"
)

// Info is one registered session.
type Info struct {
	ID          string    `json:"id"`
	Path        string    `json:"-"`
	LastMessage time.Time `json:"last_message"`
	Subagent    bool      `json:"subagent,omitempty"`
}

// Registry maps session ids to records. All methods are safe for
// concurrent use; lookups are non-blocking map reads so the event fan-out
// path never stalls on a scan.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]Info
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Info)}
}

// Get returns the session by id.
func (r *Registry) Get(id string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byID[id]
	return info, ok
}

// Path resolves a session id to its transcript path.
func (r *Registry) Path(id string) (string, bool) {
	info, ok := r.Get(id)
	return info.Path, ok
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// List returns a snapshot of all registered sessions.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.byID))
	for _, info := range r.byID {
		out = append(out, info)
	}
	return out
}

// Sync replaces the registry content with the given discovery records and
// reports what changed, so the caller can emit session_added and
// session_removed events.
func (r *Registry) Sync(records []isolation.Record) (added, removed []Info) {
	next := make(map[string]Info, len(records))
	for _, rec := range records {
		id := transcript.SessionID(rec.Path)
		next[id] = Info{
			ID:          id,
			Path:        rec.Path,
			LastMessage: rec.LastMessage,
			Subagent:    rec.Subagent,
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, info := range next {
		if _, ok := r.byID[id]; !ok {
			added = append(added, info)
		}
	}
	for id, info := range r.byID {
		if _, ok := next[id]; !ok {
			removed = append(removed, info)
		}
	}
	r.byID = next
	return added, removed
}
