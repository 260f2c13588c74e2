package isolation

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// DockerCLI drives containers through the docker binary. Inspect maps the
// CLI's exit status and printed state onto the three lifecycle positions;
// a non-zero inspect exit means the container does not exist.
type DockerCLI struct{}

// Inspect queries the running flag of a named container.
func (d *DockerCLI) Inspect(ctx context.Context, name string) (ContainerState, error) {
	cmd := exec.CommandContext(ctx, dockerBin, "inspect", "-f", "{{.State.Running}}", name)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return StateAbsent, nil
		}
		return StateAbsent, fmt.Errorf("docker inspect: %w", err)
	}
	if strings.TrimSpace(stdout.String()) == "true" {
		return StateRunning, nil
	}
	return StateStopped, nil
}

// Create runs a previously built docker create argv.
func (d *DockerCLI) Create(ctx context.Context, argv []string) error {
	return runDocker(ctx, argv)
}

// Start starts a named container.
func (d *DockerCLI) Start(ctx context.Context, name string) error {
	return runDocker(ctx, []string{dockerBin, "start", name})
}

func runDocker(ctx context.Context, argv []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		diag := strings.TrimSpace(stderr.String())
		if diag == "" {
			diag = err.Error()
		}
		return fmt.Errorf("%s", diag)
	}
	return nil
}

// DockerAvailable reports whether the docker binary is on PATH.
func DockerAvailable() bool {
	_, err := exec.LookPath(dockerBin)
	return err == nil
}
