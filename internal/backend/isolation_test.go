package backend

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func newTestBackend(t *testing.T) *Isolation {
	t.Helper()
	b, err := NewIsolation(IsolationConfig{UsersDir: t.TempDir()}, nil, nil)
	if err != nil {
		t.Fatalf("NewIsolation: %v", err)
	}
	return b
}

func TestNewIsolation_RequiresUsersDir(t *testing.T) {
	if _, err := NewIsolation(IsolationConfig{}, nil, nil); err == nil {
		t.Fatalf("expected error without usersDir")
	}
}

func TestIsolationConfig_Defaults(t *testing.T) {
	cfg := IsolationConfig{UsersDir: "/srv/users"}
	cfg.Defaults()
	if cfg.DockerImage != "claude-sandbox" || cfg.DockerRuntime != "runsc" ||
		cfg.Memory != "2g" || cfg.CPUs != "1" {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestOwnerlessBuilders_AlwaysUnsupported(t *testing.T) {
	b := newTestBackend(t)
	if !b.SupportsUserDispatch() {
		t.Fatalf("isolation backend must report user dispatch capability")
	}
	if _, err := b.BuildSendCommand("sess-1", "hi"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("send err=%v, want ErrUnsupported", err)
	}
	if _, err := b.BuildNewSessionCommand("hi"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("new session err=%v, want ErrUnsupported", err)
	}
}

func TestBuildSendCommandForUser(t *testing.T) {
	b := newTestBackend(t)
	spec, err := b.BuildSendCommandForUser("alice", "sess-123", "hello")
	if err != nil {
		t.Fatalf("BuildSendCommandForUser: %v", err)
	}
	joined := strings.Join(spec.Args, " ")
	if !strings.Contains(joined, "sandbox-alice") {
		t.Fatalf("args must target the user's container: %v", spec.Args)
	}
	if !strings.Contains(joined, "--resume sess-123") {
		t.Fatalf("args=%v", spec.Args)
	}
	if spec.Args[2] != "-i" {
		t.Fatalf("send must attach stdin: %v", spec.Args)
	}
	if spec.Stdin != "hello" {
		t.Fatalf("stdin=%q", spec.Stdin)
	}
}

func TestBuildNewSessionCommandForUser(t *testing.T) {
	b := newTestBackend(t)
	spec, err := b.BuildNewSessionCommandForUser("bob", "start here")
	if err != nil {
		t.Fatalf("BuildNewSessionCommandForUser: %v", err)
	}
	joined := strings.Join(spec.Args, " ")
	if !strings.Contains(joined, "sandbox-bob") {
		t.Fatalf("args=%v", spec.Args)
	}
	if strings.Contains(joined, "--resume") {
		t.Fatalf("new session must not resume: %v", spec.Args)
	}
	if spec.Stdin != "start here" {
		t.Fatalf("stdin=%q", spec.Stdin)
	}
}

func TestBuildAttachCommandForUser(t *testing.T) {
	b := newTestBackend(t)
	spec, err := b.BuildAttachCommandForUser("alice")
	if err != nil {
		t.Fatalf("BuildAttachCommandForUser: %v", err)
	}
	joined := strings.Join(spec.Args, " ")
	if !strings.Contains(joined, "sandbox-alice") {
		t.Fatalf("args=%v", spec.Args)
	}
	if spec.Args[2] != "-i" {
		t.Fatalf("attach must keep stdin: %v", spec.Args)
	}
	if last := spec.Args[len(spec.Args)-1]; last != "--dangerously-skip-permissions" {
		t.Fatalf("attach must carry no print-mode flag: %v", spec.Args)
	}
	if spec.Stdin != "" {
		t.Fatalf("stdin=%q", spec.Stdin)
	}
}

func TestBuildForUser_EmptyUserRejected(t *testing.T) {
	b := newTestBackend(t)
	if _, err := b.BuildSendCommandForUser("", "sess", "m"); err == nil {
		t.Fatalf("expected error for empty user")
	}
	if _, err := b.BuildNewSessionCommandForUser("", "m"); err == nil {
		t.Fatalf("expected error for empty user")
	}
	if _, err := b.BuildAttachCommandForUser(""); err == nil {
		t.Fatalf("expected error for empty user")
	}
}

func TestSessionOwner_DelegatesToUsersRoot(t *testing.T) {
	b := newTestBackend(t)
	inside := filepath.Join(b.UsersRoot(), "alice", ".claude", "projects", "-p", "s.jsonl")
	if got := b.SessionOwner(inside); got != "alice" {
		t.Fatalf("owner=%q", got)
	}
	if got := b.SessionOwner("/tmp/other/session.jsonl"); got != "" {
		t.Fatalf("owner=%q, want no owner outside users root", got)
	}
}
