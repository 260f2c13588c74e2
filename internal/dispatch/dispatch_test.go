package dispatch

import (
	"context"
	"strings"
	"testing"

	"github.com/vibedeck/vibedeck/internal/backend"
)

func TestRun_CapturesStdout(t *testing.T) {
	r := NewRunner(nil)
	res, err := r.Run(context.Background(), backend.CommandSpec{
		Args: []string{"sh", "-c", "echo out; echo err 1>&2"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit=%d", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "out" {
		t.Fatalf("stdout=%q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "err" {
		t.Fatalf("stderr=%q", res.Stderr)
	}
}

func TestRun_FeedsStdin(t *testing.T) {
	r := NewRunner(nil)
	res, err := r.Run(context.Background(), backend.CommandSpec{
		Args:  []string{"cat"},
		Stdin: "hello from stdin",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stdout != "hello from stdin" {
		t.Fatalf("stdout=%q", res.Stdout)
	}
}

func TestRun_NonZeroExitIsResultNotError(t *testing.T) {
	r := NewRunner(nil)
	res, err := r.Run(context.Background(), backend.CommandSpec{
		Args: []string{"sh", "-c", "exit 3"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit=%d want 3", res.ExitCode)
	}
}

func TestRun_EmptySpecRejected(t *testing.T) {
	r := NewRunner(nil)
	if _, err := r.Run(context.Background(), backend.CommandSpec{}); err == nil {
		t.Fatalf("expected error for empty spec")
	}
}

func TestAttach_RunsUnderPTY(t *testing.T) {
	r := NewRunner(nil)
	var out strings.Builder
	err := r.Attach(context.Background(), backend.CommandSpec{
		Args: []string{"sh", "-c", "echo attached"},
	}, nil, &out)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if !strings.Contains(out.String(), "attached") {
		t.Fatalf("out=%q", out.String())
	}
}
