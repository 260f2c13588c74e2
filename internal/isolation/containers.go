package isolation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
)

const (
	dockerBin = "docker"
	agentBin  = "claude"

	// Mount point of the per-user directory inside the sandbox. The agent
	// CLI writes its session store under this home.
	containerHome = "/root"

	// Marker injected into every sandbox so the agent CLI knows it runs
	// confined.
	sandboxMarker = "IS_SANDBOX=1"
)

// ContainerState is the lifecycle position reported by the runtime.
type ContainerState int

const (
	StateAbsent ContainerState = iota
	StateStopped
	StateRunning
)

// Runtime is the sandbox-runtime surface the manager drives. Production
// code shells out to the docker CLI; tests substitute fakes.
type Runtime interface {
	Inspect(ctx context.Context, name string) (ContainerState, error)
	Create(ctx context.Context, argv []string) error
	Start(ctx context.Context, name string) error
}

// ContainerError reports a failed lifecycle transition together with the
// runtime's diagnostic output. It is fatal for the triggering request and
// never auto-retried.
type ContainerError struct {
	Op     string // "create" or "start"
	Name   string
	Output string
}

func (e *ContainerError) Error() string {
	return fmt.Sprintf("Failed to %s container %s: %s", e.Op, e.Name, e.Output)
}

// Manager owns the per-user warm containers: a cache of size one per
// identity, created lazily on first use and reused across commands. The
// manager never destroys containers.
type Manager struct {
	image     string
	runtime   string
	memory    string
	cpus      string
	usersRoot string
	env       map[string]string

	rt     Runtime
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// ManagerConfig collects the knobs for building sandbox commands.
type ManagerConfig struct {
	Image     string // container image, e.g. "claude-sandbox"
	Runtime   string // isolation runtime selector, e.g. "runsc"
	Memory    string // docker memory limit, e.g. "2g"
	CPUs      string // docker cpu share, e.g. "1"
	UsersRoot string
	Env       map[string]string // injected KEY=VALUE pairs
}

// NewManager builds a Manager on top of the given runtime. A nil runtime
// defaults to the docker CLI; a nil logger discards.
func NewManager(cfg ManagerConfig, rt Runtime, logger *slog.Logger) *Manager {
	if rt == nil {
		rt = &DockerCLI{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		image:     cfg.Image,
		runtime:   cfg.Runtime,
		memory:    cfg.Memory,
		cpus:      cfg.CPUs,
		usersRoot: cfg.UsersRoot,
		env:       cfg.Env,
		rt:        rt,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

// ContainerName derives the sandbox name for a user. Pure; distinct users
// map to distinct names because user ids are directory names.
func ContainerName(user string) string {
	return "sandbox-" + user
}

func (m *Manager) ContainerName(user string) string {
	return ContainerName(user)
}

// UserDir returns the host directory bind-mounted into the user's sandbox.
func (m *Manager) UserDir(user string) string {
	return m.usersRoot + "/" + user
}

// BuildCreateCommand produces the argv that materializes a user's sandbox:
// named container, isolation runtime, resource limits, the user directory
// bound to the in-container home, injected env plus the sandbox marker,
// and a no-op foreground process that keeps the container warm for later
// exec calls. Pure.
func (m *Manager) BuildCreateCommand(user string) []string {
	argv := []string{
		dockerBin, "create",
		"--name", m.ContainerName(user),
		"--runtime=" + m.runtime,
		"--memory=" + m.memory,
		"--cpus=" + m.cpus,
		"-v", m.UserDir(user) + ":" + containerHome,
	}
	keys := make([]string, 0, len(m.env))
	for k := range m.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		argv = append(argv, "-e", k+"="+m.env[k])
	}
	argv = append(argv, "-e", sandboxMarker)
	argv = append(argv, m.image, "sleep", "infinity")
	return argv
}

// BuildExecCommand produces the argv that invokes the agent CLI inside the
// user's sandbox. Unattended mode is always forced; interactive adds the
// stdin-attach flag. Pure.
func (m *Manager) BuildExecCommand(user string, args []string, interactive bool) []string {
	argv := []string{dockerBin, "exec"}
	if interactive {
		argv = append(argv, "-i")
	}
	argv = append(argv, m.ContainerName(user), agentBin, "--dangerously-skip-permissions")
	return append(argv, args...)
}

// EnsureContainer makes the user's sandbox running: absent containers are
// created then started, stopped ones started, running ones left alone.
// Calls for the same user are serialized system-wide; different users
// proceed in parallel.
func (m *Manager) EnsureContainer(ctx context.Context, user string) error {
	lock := m.userLock(user)
	lock.Lock()
	defer lock.Unlock()

	name := m.ContainerName(user)
	state, err := m.rt.Inspect(ctx, name)
	if err != nil {
		return fmt.Errorf("inspect container %s: %w", name, err)
	}
	switch state {
	case StateRunning:
		return nil
	case StateAbsent:
		m.logger.Info("creating sandbox container", "user", user, "container", name)
		if err := m.rt.Create(ctx, m.BuildCreateCommand(user)); err != nil {
			return &ContainerError{Op: "create", Name: name, Output: err.Error()}
		}
	}
	m.logger.Info("starting sandbox container", "user", user, "container", name)
	if err := m.rt.Start(ctx, name); err != nil {
		return &ContainerError{Op: "start", Name: name, Output: err.Error()}
	}
	return nil
}

func (m *Manager) userLock(user string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock := m.locks[user]
	if lock == nil {
		lock = &sync.Mutex{}
		m.locks[user] = lock
	}
	return lock
}
