// Package backend defines the contract between the serving layer and a
// coding-agent backend, and the isolation backend that dispatches into
// per-user sandboxes.
package backend

import "errors"

// CommandSpec is an immutable command descriptor handed to the dispatch
// layer: the argv to run and optional stdin text.
type CommandSpec struct {
	Args  []string `json:"args"`
	Stdin string   `json:"stdin,omitempty"`
}

// ErrUnsupported marks an operation a backend does not offer. On an
// isolation-capable backend the owner-less command builders always fail
// with it: a caller hitting this forgot to resolve ownership, and failing
// loudly beats executing against the wrong sandbox.
var ErrUnsupported = errors.New("operation not supported")

// ErrAccessDenied marks an authenticated request for a session the
// requester does not own.
var ErrAccessDenied = errors.New("access denied")

// Backend is the operation surface the serving layer consumes.
type Backend interface {
	Name() string

	// SupportsUserDispatch reports whether the backend offers the
	// user-scoped command builders of UserScoped. Callers must check this
	// capability instead of probing for the methods.
	SupportsUserDispatch() bool

	// BuildSendCommand and BuildNewSessionCommand are the owner-less
	// variants; backends with per-user sandboxes reject both with
	// ErrUnsupported.
	BuildSendCommand(sessionID, message string) (CommandSpec, error)
	BuildNewSessionCommand(message string) (CommandSpec, error)
}

// UserScoped is the per-user operation surface of isolation-capable
// backends.
type UserScoped interface {
	BuildSendCommandForUser(user, sessionID, message string) (CommandSpec, error)
	BuildNewSessionCommandForUser(user, message string) (CommandSpec, error)

	// SessionOwner resolves the owning identity of a session path, ""
	// when the path lies outside the users root.
	SessionOwner(path string) string
}
