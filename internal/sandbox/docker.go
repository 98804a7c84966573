package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/deepserve/deepserve/internal/observability"
)

// DockerRuntime drives containers through the docker CLI.
type DockerRuntime struct {
	binary string
	logger *observability.Logger
}

// NewDockerRuntime creates a runtime using the given docker binary
// (empty means "docker" from PATH).
func NewDockerRuntime(binary string, logger *observability.Logger) *DockerRuntime {
	if binary == "" {
		binary = "docker"
	}
	return &DockerRuntime{binary: binary, logger: logger}
}

// EnsureContainer creates and starts the container described by spec. An
// existing stopped container is started; an existing running container is
// left alone.
func (r *DockerRuntime) EnsureContainer(ctx context.Context, spec ContainerSpec) error {
	running, err := r.containerState(ctx, spec.Name)
	switch {
	case err == nil && running:
		return nil
	case err == nil && !running:
		if _, startErr := r.docker(ctx, "", "start", spec.Name); startErr != nil {
			return fmt.Errorf("start container %s: %w", spec.Name, startErr)
		}
		return nil
	}

	args := []string{"run", "-d", "--name", spec.Name, "--network", "none"}
	if spec.WorkDir != "" {
		args = append(args, "-w", spec.WorkDir)
	}
	for _, mount := range spec.Mounts {
		volume := mount.HostPath + ":" + mount.ContainerPath
		if mount.ReadOnly {
			volume += ":ro"
		}
		args = append(args, "-v", volume)
	}
	// Keep the container alive between exec calls.
	args = append(args, spec.Image, "sleep", "infinity")

	if _, err := r.docker(ctx, "", args...); err != nil {
		return fmt.Errorf("create container %s: %w", spec.Name, err)
	}
	if r.logger != nil {
		r.logger.Info(ctx, "sandbox container created", "container", spec.Name, "image", spec.Image)
	}
	return nil
}

// Exec runs argv inside the container. The timeout bounds the command; on
// expiry the docker exec process is killed and the error wraps
// context.DeadlineExceeded.
func (r *DockerRuntime) Exec(ctx context.Context, name string, argv []string, stdin string, timeout time.Duration) (*ExecResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := append([]string{"exec", "-i", name}, argv...)
	cmd := exec.CommandContext(ctx, r.binary, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if err == nil {
		return &ExecResult{Output: output.String(), ExitCode: 0}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("exec in %s: %w", name, ctxErr)
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		text := output.String()
		if isMissingContainer(text) {
			return nil, fmt.Errorf("exec in %s: %w", name, ErrContainerMissing)
		}
		return &ExecResult{Output: text, ExitCode: exitErr.ExitCode()}, nil
	}
	return nil, fmt.Errorf("exec in %s: %w", name, err)
}

// Stop stops the container but keeps it on disk for a later restart.
func (r *DockerRuntime) Stop(ctx context.Context, name string) error {
	if _, err := r.docker(ctx, "", "stop", name); err != nil {
		if isMissingContainer(err.Error()) {
			return nil
		}
		return fmt.Errorf("stop container %s: %w", name, err)
	}
	return nil
}

// Remove force-removes the container.
func (r *DockerRuntime) Remove(ctx context.Context, name string) error {
	if _, err := r.docker(ctx, "", "rm", "-f", name); err != nil {
		if isMissingContainer(err.Error()) {
			return nil
		}
		return fmt.Errorf("remove container %s: %w", name, err)
	}
	return nil
}

// containerState reports whether the container exists and is running.
func (r *DockerRuntime) containerState(ctx context.Context, name string) (bool, error) {
	out, err := r.docker(ctx, "", "inspect", "-f", "{{.State.Running}}", name)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "true", nil
}

func (r *DockerRuntime) docker(ctx context.Context, stdin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, r.binary, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("docker %s: %v: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func isMissingContainer(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "no such container") ||
		strings.Contains(lower, "is not running")
}
