package session

import (
	"testing"
	"time"

	"github.com/vibedeck/vibedeck/internal/isolation"
)

func rec(path string, ts time.Time) isolation.Record {
	return isolation.Record{Path: path, LastMessage: ts}
}

func TestRegistry_SyncReportsAddedAndRemoved(t *testing.T) {
	r := NewRegistry()
	t0 := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	added, removed := r.Sync([]isolation.Record{
		rec("/u/alice/.claude/projects/-p/sess-1.jsonl", t0),
		rec("/u/bob/.claude/projects/-p/sess-2.jsonl", t0),
	})
	if len(added) != 2 || len(removed) != 0 {
		t.Fatalf("added=%d removed=%d", len(added), len(removed))
	}

	added, removed = r.Sync([]isolation.Record{
		rec("/u/alice/.claude/projects/-p/sess-1.jsonl", t0),
		rec("/u/alice/.claude/projects/-p/sess-3.jsonl", t0),
	})
	if len(added) != 1 || added[0].ID != "sess-3" {
		t.Fatalf("added=%v", added)
	}
	if len(removed) != 1 || removed[0].ID != "sess-2" {
		t.Fatalf("removed=%v", removed)
	}
}

func TestRegistry_PathLookup(t *testing.T) {
	r := NewRegistry()
	r.Sync([]isolation.Record{rec("/u/alice/.claude/projects/-p/sess-1.jsonl", time.Now())})

	path, ok := r.Path("sess-1")
	if !ok || path != "/u/alice/.claude/projects/-p/sess-1.jsonl" {
		t.Fatalf("path=%q ok=%v", path, ok)
	}
	if _, ok := r.Path("unknown"); ok {
		t.Fatalf("unknown id must not resolve")
	}
}

func TestRegistry_ListSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Sync([]isolation.Record{
		rec("/u/a/.claude/projects/-p/s1.jsonl", time.Now()),
		rec("/u/b/.claude/projects/-p/s2.jsonl", time.Now()),
	})
	if r.Len() != 2 || len(r.List()) != 2 {
		t.Fatalf("len=%d list=%d", r.Len(), len(r.List()))
	}
}
