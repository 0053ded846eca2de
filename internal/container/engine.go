// SPDX-License-Identifier: MPL-2.0

// Package container provides an abstraction layer over the docker and
// podman CLIs. Every operation shells out to the runtime binary as an
// external process; the runtime itself is the only source of truth about
// container state.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Engine defines the capability set devc needs from a container runtime.
type Engine interface {
	// Name returns the engine name (docker or podman).
	Name() string
	// Available checks if the engine is usable on this host.
	Available() bool
	// Version returns the engine version.
	Version(ctx context.Context) (string, error)

	// ContainerID returns the ID of the container with the given name,
	// or "" if no such container exists (running or stopped).
	ContainerID(ctx context.Context, name string) (string, error)
	// IsRunning reports whether a container with the given name is running.
	IsRunning(ctx context.Context, name string) (bool, error)
	// InspectImageRef returns the image reference a container was created from.
	InspectImageRef(ctx context.Context, containerID string) (string, error)
	// RunDetached creates and starts a detached container, returning its ID.
	RunDetached(ctx context.Context, opts RunOptions) (string, error)
	// Run runs a foreground container and returns its result.
	Run(ctx context.Context, opts RunOptions) (*RunResult, error)
	// Exec runs a command in a running container.
	Exec(ctx context.Context, containerID string, command []string, opts ExecOptions) (*RunResult, error)
	// Remove removes a container.
	Remove(ctx context.Context, containerID string, force bool) error
	// Kill sends SIGKILL to a running container.
	Kill(ctx context.Context, containerID string) error
	// Pull fetches an image from its registry.
	Pull(ctx context.Context, image string, output io.Writer) error
}

// EngineType identifies the container engine type.
type EngineType string

const (
	EngineTypeDocker EngineType = "docker"
	EngineTypePodman EngineType = "podman"
)

// ErrNoEngineAvailable is the sentinel error wrapped by EngineNotAvailableError.
var ErrNoEngineAvailable = errors.New("no container engine available")

// EngineNotAvailableError is returned when a container engine is not available.
type EngineNotAvailableError struct {
	Engine string
	Reason string
}

// Error implements the error interface.
func (e *EngineNotAvailableError) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

// Unwrap returns ErrNoEngineAvailable so callers can use errors.Is for detection.
func (e *EngineNotAvailableError) Unwrap() error { return ErrNoEngineAvailable }

// NewEngine creates a container engine for the preferred type, falling back
// to the other engine when the preferred one is not usable.
func NewEngine(preferred EngineType) (Engine, error) {
	switch preferred {
	case EngineTypeDocker:
		docker := NewDockerEngine()
		if docker.Available() {
			return docker, nil
		}
		podman := NewPodmanEngine()
		if podman.Available() {
			return podman, nil
		}
		return nil, &EngineNotAvailableError{
			Engine: "docker",
			Reason: "docker is not installed or not accessible, and podman fallback is also not available",
		}

	case EngineTypePodman:
		podman := NewPodmanEngine()
		if podman.Available() {
			return podman, nil
		}
		docker := NewDockerEngine()
		if docker.Available() {
			return docker, nil
		}
		return nil, &EngineNotAvailableError{
			Engine: "podman",
			Reason: "podman is not installed or not accessible, and docker fallback is also not available",
		}

	default:
		return nil, fmt.Errorf("unknown container engine type: %s", preferred)
	}
}

// AutoDetectEngine finds an available container engine, preferring docker.
func AutoDetectEngine() (Engine, error) {
	docker := NewDockerEngine()
	if docker.Available() {
		return docker, nil
	}

	podman := NewPodmanEngine()
	if podman.Available() {
		return podman, nil
	}

	return nil, &EngineNotAvailableError{
		Engine: "any",
		Reason: "neither docker nor podman is available on this system",
	}
}
