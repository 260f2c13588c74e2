package isolation

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func writeSession(t *testing.T, path, userMsg, timestamp string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := fmt.Sprintf(
		`{"type":"user","timestamp":%q,"message":{"content":%q}}`+"\n"+
			`{"type":"assistant","timestamp":%q,"message":{"content":"Hi there"}}`+"\n",
		timestamp, userMsg, timestamp)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write session: %v", err)
	}
}

func sessionPath(root, user, project, name string) string {
	return filepath.Join(root, user, ".claude", "projects", project, name)
}

func seedUsersRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeSession(t, sessionPath(root, "user_a", "-proj1", "sess-a1.jsonl"), "Alice project1", "2026-01-15T10:00:00.000Z")
	writeSession(t, sessionPath(root, "user_a", "-proj2", "sess-a2.jsonl"), "Alice project2", "2026-01-15T11:00:00.000Z")
	writeSession(t, sessionPath(root, "user_b", "-proj1", "sess-b1.jsonl"), "Bob project1", "2026-01-15T12:00:00.000Z")
	return root
}

func names(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = filepath.Base(r.Path)
	}
	return out
}

func TestScanner_AllUsersFindsEverySubtree(t *testing.T) {
	s := NewScanner(seedUsersRoot(t), nil)
	records := s.AllUsers(ScanOptions{Limit: 10, IncludeSubagents: true})
	if len(records) != 3 {
		t.Fatalf("records=%v", names(records))
	}
}

func TestScanner_ForUserScopesToOneSubtree(t *testing.T) {
	s := NewScanner(seedUsersRoot(t), nil)
	if got := s.ForUser("user_a", ScanOptions{Limit: 10, IncludeSubagents: true}); len(got) != 2 {
		t.Fatalf("user_a records=%v", names(got))
	}
	if got := s.ForUser("user_b", ScanOptions{Limit: 10, IncludeSubagents: true}); len(got) != 1 {
		t.Fatalf("user_b records=%v", names(got))
	}
	if got := s.ForUser("nonexistent", ScanOptions{Limit: 10, IncludeSubagents: true}); len(got) != 0 {
		t.Fatalf("unknown user records=%v", names(got))
	}
}

func TestScanner_OrderedByLastMessageAcrossOwners(t *testing.T) {
	s := NewScanner(seedUsersRoot(t), nil)
	records := s.AllUsers(ScanOptions{Limit: 10, IncludeSubagents: true})
	want := []string{"sess-b1.jsonl", "sess-a2.jsonl", "sess-a1.jsonl"}
	got := names(records)
	if len(got) != len(want) {
		t.Fatalf("records=%v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order=%v want %v", got, want)
		}
	}
}

func TestScanner_RespectsLimit(t *testing.T) {
	s := NewScanner(seedUsersRoot(t), nil)
	records := s.AllUsers(ScanOptions{Limit: 2, IncludeSubagents: true})
	if len(records) != 2 {
		t.Fatalf("records=%v", names(records))
	}
	if filepath.Base(records[0].Path) != "sess-b1.jsonl" {
		t.Fatalf("newest first, got %v", names(records))
	}
}

func TestScanner_SkipsZeroByteFiles(t *testing.T) {
	root := seedUsersRoot(t)
	empty := sessionPath(root, "user_a", "-proj1", "empty.jsonl")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("write empty: %v", err)
	}
	s := NewScanner(root, nil)
	for _, name := range names(s.AllUsers(ScanOptions{Limit: 10, IncludeSubagents: true})) {
		if name == "empty.jsonl" {
			t.Fatalf("zero-byte file must not be returned")
		}
	}
}

func TestScanner_SkipsWarmupSessions(t *testing.T) {
	root := seedUsersRoot(t)
	warm := sessionPath(root, "user_b", "-proj1", "warmup.jsonl")
	if err := os.MkdirAll(filepath.Dir(warm), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	probe := `{"type":"user","timestamp":"2026-01-15T13:00:00.000Z","message":{"content":"warmup"}}` + "\n"
	if err := os.WriteFile(warm, []byte(probe), 0o644); err != nil {
		t.Fatalf("write warmup: %v", err)
	}
	s := NewScanner(root, nil)
	for _, name := range names(s.AllUsers(ScanOptions{Limit: 10, IncludeSubagents: true})) {
		if name == "warmup.jsonl" {
			t.Fatalf("warm-up session must not be returned")
		}
	}
}

func TestScanner_SubagentFiltering(t *testing.T) {
	root := seedUsersRoot(t)
	sub := sessionPath(root, "user_a", "-proj1", "sub.jsonl")
	content := `{"type":"user","timestamp":"2026-01-15T14:00:00.000Z","isSidechain":true,"message":{"content":"delegated"}}` + "\n" +
		`{"type":"assistant","timestamp":"2026-01-15T14:00:01.000Z","isSidechain":true,"message":{"content":"done"}}` + "\n"
	if err := os.WriteFile(sub, []byte(content), 0o644); err != nil {
		t.Fatalf("write subagent: %v", err)
	}

	s := NewScanner(root, nil)
	with := s.AllUsers(ScanOptions{Limit: 10, IncludeSubagents: true})
	if len(with) != 4 {
		t.Fatalf("with subagents records=%v", names(with))
	}
	without := s.AllUsers(ScanOptions{Limit: 10, IncludeSubagents: false})
	for _, name := range names(without) {
		if name == "sub.jsonl" {
			t.Fatalf("subagent session must be excluded")
		}
	}
	if len(without) != 3 {
		t.Fatalf("without subagents records=%v", names(without))
	}
}

func TestScanner_MissingRootIsEmpty(t *testing.T) {
	s := NewScanner("/nonexistent/users", nil)
	if got := s.AllUsers(ScanOptions{Limit: 10, IncludeSubagents: true}); len(got) != 0 {
		t.Fatalf("records=%v", names(got))
	}
	if got := s.ForUser("alice", ScanOptions{Limit: 10, IncludeSubagents: true}); len(got) != 0 {
		t.Fatalf("records=%v", names(got))
	}
}

func TestScanner_SkipsDotDirectories(t *testing.T) {
	root := seedUsersRoot(t)
	writeSession(t, sessionPath(root, ".hidden", "-proj", "ghost.jsonl"), "hidden", "2026-01-15T15:00:00.000Z")
	s := NewScanner(root, nil)
	for _, name := range names(s.AllUsers(ScanOptions{Limit: 10, IncludeSubagents: true})) {
		if name == "ghost.jsonl" {
			t.Fatalf("dot directories are not user subtrees")
		}
	}
}

func TestScanner_UserProjectsDir(t *testing.T) {
	s := NewScanner("/srv/users", nil)
	want := filepath.Join("/srv/users", "user_a", ".claude", "projects")
	if got := s.UserProjectsDir("user_a"); got != want {
		t.Fatalf("dir=%q want %q", got, want)
	}
}
