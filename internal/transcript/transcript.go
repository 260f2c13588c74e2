// Package transcript reads coding-agent session files: append-only JSONL,
// one message per line. Only the fields needed for discovery and routing
// are decoded; unknown fields and malformed lines are ignored.
package transcript

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Line is one decoded transcript record.
type Line struct {
	Type        string          `json:"type"`
	Timestamp   string          `json:"timestamp"`
	IsSidechain bool            `json:"isSidechain"`
	Message     json.RawMessage `json:"message"`
}

type message struct {
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Scanner buffer sized for long assistant turns; lines beyond this are
// skipped, not fatal.
const maxLineBytes = 4 * 1024 * 1024

// SessionID returns the session identifier encoded in the file name.
func SessionID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Text flattens a message content payload: either a plain string or a
// list of typed blocks, of which the text blocks are joined.
func (l Line) Text() string {
	var msg message
	if err := json.Unmarshal(l.Message, &msg); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(msg.Content, &s); err == nil {
		return s
	}
	var blocks []contentBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return ""
	}
	var b strings.Builder
	for _, blk := range blocks {
		if blk.Type == "" || blk.Type == "text" {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

// Time parses the record timestamp.
func (l Line) Time() (time.Time, bool) {
	if l.Timestamp == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, l.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func scan(path string, visit func(Line) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line Line
		if err := json.Unmarshal(raw, &line); err != nil {
			continue
		}
		if !visit(line) {
			return nil
		}
	}
	return sc.Err()
}

// Messages returns every parsable user and assistant record in file order.
func Messages(path string) ([]Line, error) {
	var out []Line
	err := scan(path, func(l Line) bool {
		if l.Type == "user" || l.Type == "assistant" {
			out = append(out, l)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LastMessageTime returns the timestamp of the last user or assistant
// message in the file. ok is false when the file has no parsable message.
func LastMessageTime(path string) (time.Time, bool) {
	var last time.Time
	var found bool
	err := scan(path, func(l Line) bool {
		if l.Type != "user" && l.Type != "assistant" {
			return true
		}
		if ts, ok := l.Time(); ok {
			last = ts
			found = true
		}
		return true
	})
	if err != nil || !found {
		return time.Time{}, false
	}
	return last, true
}

// HasMessages reports whether the file holds at least one user or
// assistant message with content.
func HasMessages(path string) bool {
	var found bool
	_ = scan(path, func(l Line) bool {
		if (l.Type == "user" || l.Type == "assistant") && len(l.Message) > 0 {
			found = true
			return false
		}
		return true
	})
	return found
}

// IsWarmup reports whether the session contains no genuine exchange:
// health probes write a single synthetic user message and never receive
// an assistant reply worth surfacing.
func IsWarmup(path string) bool {
	var genuine bool
	_ = scan(path, func(l Line) bool {
		switch l.Type {
		case "assistant":
			genuine = true
			return false
		case "user":
			text := strings.TrimSpace(l.Text())
			if text != "" && !strings.EqualFold(text, "warmup") {
				genuine = true
				return false
			}
		}
		return true
	})
	return !genuine
}

// IsSubagent reports whether the session was spawned by a parent session
// to delegate a sub-task. Subagent transcripts mark every record as a
// sidechain; the first message is enough to classify.
func IsSubagent(path string) bool {
	var sidechain bool
	_ = scan(path, func(l Line) bool {
		sidechain = l.IsSidechain
		return false
	})
	return sidechain
}
