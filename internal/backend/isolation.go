package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vibedeck/vibedeck/internal/isolation"
)

// IsolationConfig mirrors the [isolation] config section.
type IsolationConfig struct {
	UsersDir      string `yaml:"usersDir"`
	DockerImage   string `yaml:"dockerImage"`
	DockerRuntime string `yaml:"dockerRuntime"`
	Memory        string `yaml:"memory"`
	CPUs          string `yaml:"cpus"`
	EnvFile       string `yaml:"envFile"`
}

// Defaults fills unset fields with the stock sandbox profile.
func (c *IsolationConfig) Defaults() {
	if c.DockerImage == "" {
		c.DockerImage = "claude-sandbox"
	}
	if c.DockerRuntime == "" {
		c.DockerRuntime = "runsc"
	}
	if c.Memory == "" {
		c.Memory = "2g"
	}
	if c.CPUs == "" {
		c.CPUs = "1"
	}
}

var (
	_ Backend    = (*Isolation)(nil)
	_ UserScoped = (*Isolation)(nil)
)

// Isolation serves multi-user isolated agent sessions: discovery scoped to
// per-user subtrees, commands wrapped in docker exec against the user's
// warm sandbox.
type Isolation struct {
	usersRoot string
	scanner   *isolation.Scanner
	manager   *isolation.Manager
	logger    *slog.Logger
}

// NewIsolation builds the backend. A nil runtime selects the docker CLI.
func NewIsolation(cfg IsolationConfig, rt isolation.Runtime, logger *slog.Logger) (*Isolation, error) {
	if cfg.UsersDir == "" {
		return nil, fmt.Errorf("isolation backend requires usersDir")
	}
	cfg.Defaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	env := map[string]string{}
	if cfg.EnvFile != "" {
		loaded, err := isolation.LoadEnvFile(cfg.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
		env = loaded
	}
	manager := isolation.NewManager(isolation.ManagerConfig{
		Image:     cfg.DockerImage,
		Runtime:   cfg.DockerRuntime,
		Memory:    cfg.Memory,
		CPUs:      cfg.CPUs,
		UsersRoot: cfg.UsersDir,
		Env:       env,
	}, rt, logger)
	return &Isolation{
		usersRoot: cfg.UsersDir,
		scanner:   isolation.NewScanner(cfg.UsersDir, logger),
		manager:   manager,
		logger:    logger,
	}, nil
}

func (b *Isolation) Name() string { return "isolation" }

func (b *Isolation) SupportsUserDispatch() bool { return true }

// UsersRoot exposes the base directory holding the per-user subtrees.
func (b *Isolation) UsersRoot() string { return b.usersRoot }

// FindRecentSessions lists sessions across all users, newest first.
func (b *Isolation) FindRecentSessions(limit int, includeSubagents bool) []isolation.Record {
	return b.scanner.AllUsers(isolation.ScanOptions{Limit: limit, IncludeSubagents: includeSubagents})
}

// FindSessionsForUser lists one user's sessions, newest first.
func (b *Isolation) FindSessionsForUser(user string, limit int, includeSubagents bool) []isolation.Record {
	return b.scanner.ForUser(user, isolation.ScanOptions{Limit: limit, IncludeSubagents: includeSubagents})
}

// SessionOwner resolves the identity that owns a session path.
func (b *Isolation) SessionOwner(path string) string {
	return isolation.SessionOwner(path, b.usersRoot)
}

// EnsureContainer brings the user's sandbox to running before a dispatch.
func (b *Isolation) EnsureContainer(ctx context.Context, user string) error {
	return b.manager.EnsureContainer(ctx, user)
}

// BuildSendCommand always fails: sending requires an owner, and resolving
// it here would mask caller bugs. Use BuildSendCommandForUser.
func (b *Isolation) BuildSendCommand(sessionID, message string) (CommandSpec, error) {
	return CommandSpec{}, fmt.Errorf("%w: use BuildSendCommandForUser with an explicit user id", ErrUnsupported)
}

// BuildNewSessionCommand always fails; use BuildNewSessionCommandForUser.
func (b *Isolation) BuildNewSessionCommand(message string) (CommandSpec, error) {
	return CommandSpec{}, fmt.Errorf("%w: use BuildNewSessionCommandForUser with an explicit user id", ErrUnsupported)
}

// BuildSendCommandForUser wraps a resume-and-prompt invocation of the
// agent CLI in docker exec against the user's sandbox, message on stdin.
func (b *Isolation) BuildSendCommandForUser(user, sessionID, message string) (CommandSpec, error) {
	if user == "" {
		return CommandSpec{}, fmt.Errorf("user id is required")
	}
	args := b.manager.BuildExecCommand(user, []string{"-p", "--resume", sessionID}, true)
	return CommandSpec{Args: args, Stdin: message}, nil
}

// BuildAttachCommandForUser opens the agent CLI interactively in the
// user's sandbox: no print-mode flag, stdin stays attached to the caller's
// terminal.
func (b *Isolation) BuildAttachCommandForUser(user string) (CommandSpec, error) {
	if user == "" {
		return CommandSpec{}, fmt.Errorf("user id is required")
	}
	return CommandSpec{Args: b.manager.BuildExecCommand(user, nil, true)}, nil
}

// BuildNewSessionCommandForUser starts a fresh session in the user's
// sandbox, initial message on stdin.
func (b *Isolation) BuildNewSessionCommandForUser(user, message string) (CommandSpec, error) {
	if user == "" {
		return CommandSpec{}, fmt.Errorf("user id is required")
	}
	args := b.manager.BuildExecCommand(user, []string{"-p"}, true)
	return CommandSpec{Args: args, Stdin: message}, nil
}
