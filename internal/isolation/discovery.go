package isolation

import (
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vibedeck/vibedeck/internal/transcript"
)

// Session store layout under each user directory. The agent CLI nests
// arbitrary project directories beneath it.
const (
	sessionStoreDir = ".claude/projects"
	transcriptExt   = ".jsonl"
)

// Record is a discovered session: the transcript path, the timestamp of
// its last parsed message, and the subagent flag. The owner is never
// stored; it is recomputed from the path.
type Record struct {
	Path        string
	LastMessage time.Time
	Subagent    bool
}

// ScanOptions bound a discovery scan.
type ScanOptions struct {
	Limit            int
	IncludeSubagents bool
}

// Scanner enumerates and ranks session transcripts under a users root.
// Scans are read-only and may run concurrently for different scopes.
type Scanner struct {
	UsersRoot string
	Logger    *slog.Logger
}

// NewScanner builds a Scanner; a nil logger discards.
func NewScanner(usersRoot string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scanner{UsersRoot: usersRoot, Logger: logger}
}

// UserProjectsDir returns the session store for one user.
func (s *Scanner) UserProjectsDir(user string) string {
	return filepath.Join(s.UsersRoot, user, sessionStoreDir)
}

// ForUser returns the most recent sessions of a single user, newest first.
// A missing directory yields an empty result, not an error.
func (s *Scanner) ForUser(user string, opts ScanOptions) []Record {
	return rank(s.candidates(s.UserProjectsDir(user), opts.IncludeSubagents), opts.Limit)
}

// AllUsers returns the most recent sessions across every user subtree,
// newest first regardless of owner.
func (s *Scanner) AllUsers(opts ScanOptions) []Record {
	entries, err := os.ReadDir(s.UsersRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			s.Logger.Error("scanning users root", "root", s.UsersRoot, "err", err)
		}
		return nil
	}
	var all []candidate
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		all = append(all, s.candidates(s.UserProjectsDir(e.Name()), opts.IncludeSubagents)...)
	}
	return rank(all, opts.Limit)
}

type candidate struct {
	path     string
	mtime    time.Time
	subagent bool
}

// candidates walks one session store collecting transcript files. Cheap
// filters only: zero-byte files and, when excluded, subagent sessions.
// Per-file errors skip the file and the walk continues.
func (s *Scanner) candidates(projectsDir string, includeSubagents bool) []candidate {
	var out []candidate
	_ = filepath.WalkDir(projectsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(path, transcriptExt) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() == 0 {
			return nil
		}
		subagent := transcript.IsSubagent(path)
		if subagent && !includeSubagents {
			return nil
		}
		out = append(out, candidate{path: path, mtime: info.ModTime(), subagent: subagent})
		return nil
	})
	return out
}

// rank orders candidates in two phases: a filesystem-mtime pre-sort caps
// how many files get parsed (limit*3, tolerating later filtering losses),
// then the authoritative order is the last parsed message timestamp,
// descending, truncated to limit.
func rank(cands []candidate, limit int) []Record {
	if limit <= 0 {
		return nil
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].mtime.After(cands[j].mtime) })

	records := make([]Record, 0, limit)
	for _, c := range cands {
		if !transcript.HasMessages(c.path) || transcript.IsWarmup(c.path) {
			continue
		}
		ts, ok := transcript.LastMessageTime(c.path)
		if !ok {
			continue
		}
		records = append(records, Record{Path: c.path, LastMessage: ts, Subagent: c.subagent})
		if len(records) >= limit*3 {
			break
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].LastMessage.After(records[j].LastMessage) })
	if len(records) > limit {
		records = records[:limit]
	}
	return records
}
