package isolation

import (
	"path/filepath"
	"strings"
)

// SessionOwner maps a session file path to the user identity that owns it:
// the first path component under usersRoot. The comparison is structural,
// never substring-based, so "bob" cannot claim a subtree belonging to
// "bob2". Any path that does not fall under usersRoot resolves to "" —
// this function gates access-control decisions and fails closed.
func SessionOwner(path, usersRoot string) string {
	if path == "" || usersRoot == "" {
		return ""
	}
	rel, err := filepath.Rel(usersRoot, path)
	if err != nil {
		return ""
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return ""
	}
	owner, _, _ := strings.Cut(rel, "/")
	if owner == "" || owner == "." {
		return ""
	}
	return owner
}
