// Package sandbox runs model-issued commands inside per-conversation
// containers with a restricted mount set and no network access.
package sandbox

import (
	"context"
	"errors"
	"time"
)

// ErrContainerMissing is reported by a Runtime when the container a command
// targets no longer exists. Sandbox treats one occurrence as recoverable.
var ErrContainerMissing = errors.New("container missing")

// Mount binds a host directory into the container.
type Mount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// ContainerSpec describes the container a sandbox needs.
type ContainerSpec struct {
	Name    string
	Image   string
	WorkDir string
	Mounts  []Mount
}

// ExecResult carries the combined output and exit code of one command.
type ExecResult struct {
	Output   string
	ExitCode int
}

// Runtime abstracts the container engine. The production implementation
// shells out to the docker CLI; tests substitute a fake.
type Runtime interface {
	// EnsureContainer creates and starts the container if it does not
	// exist, and starts it if it exists but is stopped.
	EnsureContainer(ctx context.Context, spec ContainerSpec) error

	// Exec runs argv inside the named container, feeding stdin if
	// non-empty. A non-zero exit code is returned in the result, not as
	// an error. Returns ErrContainerMissing if the container is gone.
	Exec(ctx context.Context, name string, argv []string, stdin string, timeout time.Duration) (*ExecResult, error)

	// Stop stops the container without removing it.
	Stop(ctx context.Context, name string) error

	// Remove force-removes the container so EnsureContainer can rebuild
	// it with a fresh mount set.
	Remove(ctx context.Context, name string) error
}
