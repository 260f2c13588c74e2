// Package events carries live session notifications from the discovery
// refresher to SSE subscribers, gated per subscriber identity.
package events

// Event is a tagged live notification. Data may reference a session under
// "session_id" (content-style events) or "id" (session_added/removed), or
// carry neither, in which case the event is global.
type Event struct {
	Kind string         `json:"kind"`
	Data map[string]any `json:"data"`
}

// PathLookup resolves a session id to its transcript path via the
// in-memory registry. Must be non-blocking.
type PathLookup func(sessionID string) (string, bool)

// OwnerFunc resolves a transcript path to the owning identity, "" for no
// owner.
type OwnerFunc func(path string) string

// SessionRef extracts the referenced session id, preferring the
// content-style key over the removal/creation-style key.
func (e Event) SessionRef() (string, bool) {
	if e.Data == nil {
		return "", false
	}
	for _, key := range []string{"session_id", "id"} {
		if v, ok := e.Data[key]; ok {
			if id, ok := v.(string); ok && id != "" {
				return id, true
			}
		}
	}
	return "", false
}

// BelongsTo decides whether an event may be delivered to a subscriber.
// Events without a session reference are global and always pass. Events
// referencing a session the registry no longer knows pass as well: the
// session was already removed and suppressing its terminal notification
// would strand the subscriber's view. This fail-open branch is deliberate
// policy, not a missing-lookup accident. Known sessions deliver only on
// exact owner match.
func BelongsTo(evt Event, user string, lookup PathLookup, owner OwnerFunc) bool {
	if lookup == nil || owner == nil {
		return true
	}
	id, ok := evt.SessionRef()
	if !ok {
		return true
	}
	path, known := lookup(id)
	if !known {
		return true
	}
	return owner(path) == user
}
