// Package dispatch executes command descriptors produced by a backend.
// The backends only build argv; this is the single place that actually
// spawns processes.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/vibedeck/vibedeck/internal/backend"
)

// Result captures a finished command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner executes CommandSpecs.
type Runner struct {
	Logger *slog.Logger
}

// NewRunner builds a Runner; a nil logger discards.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{Logger: logger}
}

// Run executes the spec to completion, feeding stdin text when present and
// capturing both output streams. A non-zero exit is reported in the Result,
// not as an error; errors mean the process could not run at all.
func (r *Runner) Run(ctx context.Context, spec backend.CommandSpec) (Result, error) {
	if len(spec.Args) == 0 {
		return Result{}, fmt.Errorf("command spec has no args")
	}
	id := uuid.NewString()
	cmd := exec.CommandContext(ctx, spec.Args[0], spec.Args[1:]...)
	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.Logger.Info("dispatching command", "dispatch", id, "argv0", spec.Args[0])
	err := cmd.Run()
	res := Result{
		ExitCode: exitCode(err),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	if err != nil && res.ExitCode == 0 {
		return res, fmt.Errorf("run %s: %w", spec.Args[0], err)
	}
	r.Logger.Info("command finished", "dispatch", id, "exit", res.ExitCode)
	return res, nil
}

// Attach runs the spec under a pseudo-terminal, wiring the caller's stdin
// and stdout through it. Used when a human drives the agent CLI directly.
func (r *Runner) Attach(ctx context.Context, spec backend.CommandSpec, stdin io.Reader, stdout io.Writer) error {
	if len(spec.Args) == 0 {
		return fmt.Errorf("command spec has no args")
	}
	procCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	cmd := exec.CommandContext(procCtx, spec.Args[0], spec.Args[1:]...)

	ptyFile, err := startPTY(cmd, &pty.Winsize{Cols: 120, Rows: 30})
	if err != nil {
		return fmt.Errorf("open pty: %w", err)
	}
	defer ptyFile.Close()

	if spec.Stdin != "" {
		if _, err := io.WriteString(ptyFile, spec.Stdin); err != nil {
			return fmt.Errorf("write stdin: %w", err)
		}
	}
	if stdin != nil {
		go func() { _, _ = io.Copy(ptyFile, stdin) }()
	}
	_, copyErr := io.Copy(stdout, ptyFile)
	waitErr := cmd.Wait()
	if waitErr != nil {
		return waitErr
	}
	// A pty read error after the child exited is the normal EIO teardown.
	if copyErr != nil && !errors.Is(copyErr, syscall.EIO) {
		return copyErr
	}
	return nil
}

func startPTY(cmd *exec.Cmd, ws *pty.Winsize) (*os.File, error) {
	ptyFile, ttyFile, err := pty.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = ttyFile.Close() }()

	if ws != nil {
		_ = pty.Setsize(ptyFile, ws)
	}
	cmd.Stdin = ttyFile
	cmd.Stdout = ttyFile
	cmd.Stderr = ttyFile
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true

	if err := cmd.Start(); err != nil {
		_ = ptyFile.Close()
		return nil, err
	}
	return ptyFile, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(interface{ ExitStatus() int }); ok {
			return status.ExitStatus()
		}
	}
	return 1
}
