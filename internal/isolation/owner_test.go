package isolation

import "testing"

func TestSessionOwner_FirstSegmentUnderRoot(t *testing.T) {
	root := "/srv/users"
	cases := []struct {
		path string
		want string
	}{
		{"/srv/users/alice/.claude/projects/-proj/sess.jsonl", "alice"},
		{"/srv/users/bob/.claude/projects/-p/deep/nested/s.jsonl", "bob"},
		{"/srv/users/alice", "alice"},
		{"/srv/users", ""},
		{"/srv/users/", ""},
		{"/tmp/other/session.jsonl", ""},
		{"/srv/users2/alice/s.jsonl", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := SessionOwner(tc.path, root); got != tc.want {
			t.Fatalf("SessionOwner(%q)=%q want %q", tc.path, got, tc.want)
		}
	}
}

func TestSessionOwner_StructuralNotSubstring(t *testing.T) {
	// A root of /srv/users/bob must not claim bob2's subtree.
	if got := SessionOwner("/srv/users/bob2/s.jsonl", "/srv/users/bob"); got != "" {
		t.Fatalf("owner=%q, want no owner for sibling prefix match", got)
	}
	if got := SessionOwner("/srv/users/bob2/s.jsonl", "/srv/users"); got != "bob2" {
		t.Fatalf("owner=%q want bob2", got)
	}
}

func TestSessionOwner_EscapingPath(t *testing.T) {
	if got := SessionOwner("/srv/users/../secrets/s.jsonl", "/srv/users"); got != "" {
		t.Fatalf("owner=%q, want no owner for escaping path", got)
	}
}
