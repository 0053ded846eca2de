// SPDX-License-Identifier: MPL-2.0

// Package reconcile drives the managed container to its single target
// state: running, backed by the current image version. No state is stored
// between invocations; the container runtime is re-queried every time.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"devc-cli/internal/container"
)

// State is the observed condition of the managed container, derived fresh
// from the runtime at each decision point and never cached across them.
type State int

const (
	// StateAbsent means no container exists under the managed name.
	StateAbsent State = iota
	// StateStopped means a container exists but is not running. It is
	// treated as stale regardless of its image version.
	StateStopped
	// StateRunningStale means the container runs on an outdated image.
	StateRunningStale
	// StateRunningCurrent means the container runs on the expected image.
	StateRunningCurrent
)

// String returns the state name for log output.
func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateStopped:
		return "stopped"
	case StateRunningStale:
		return "running-stale"
	case StateRunningCurrent:
		return "running-current"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrConflict is returned when the runtime reports a container lifecycle
// race (typically two invocations creating the same name concurrently).
// The runtime's own error text is preserved in the chain; devc does not
// retry — re-invoking is the user's call.
var ErrConflict = errors.New("concurrent container lifecycle conflict")

// keepAliveCommand keeps the detached managed container alive until it is
// deliberately removed.
var keepAliveCommand = []string{"sleep", "infinity"}

// Reconciler owns the lifecycle of one managed container.
type Reconciler struct {
	engine   container.Engine
	name     string
	imageRef string
	baseOpts container.RunOptions
	logger   *log.Logger
}

// New creates a Reconciler for the named container. baseOpts is the fixed
// runtime argument set for this invocation; the reconciler adds the name
// and keep-alive command when creating.
func New(engine container.Engine, name, imageRef string, baseOpts container.RunOptions, logger *log.Logger) *Reconciler {
	return &Reconciler{
		engine:   engine,
		name:     name,
		imageRef: imageRef,
		baseOpts: baseOpts,
		logger:   logger,
	}
}

// Observe derives the container's current state from the runtime.
// It returns the state and the container ID ("" when absent).
func (r *Reconciler) Observe(ctx context.Context) (State, string, error) {
	id, err := r.engine.ContainerID(ctx, r.name)
	if err != nil {
		return StateAbsent, "", fmt.Errorf("query container %s: %w", r.name, err)
	}
	if id == "" {
		return StateAbsent, "", nil
	}

	running, err := r.engine.IsRunning(ctx, r.name)
	if err != nil {
		return StateAbsent, "", fmt.Errorf("query container %s: %w", r.name, err)
	}
	if !running {
		return StateStopped, id, nil
	}

	ref, err := r.engine.InspectImageRef(ctx, id)
	if err != nil {
		return StateAbsent, "", fmt.Errorf("inspect container %s: %w", r.name, err)
	}
	if ref != r.imageRef {
		return StateRunningStale, id, nil
	}

	return StateRunningCurrent, id, nil
}

// Reconcile drives the managed container to StateRunningCurrent and
// returns its container ID. With clean set, any existing container is
// removed first even if it is already current.
//
// Stopped and version-drifted containers are removed and recreated, never
// restarted in place: a stopped container's filesystem layer may be stale
// and its image superseded. Removal is synchronous; if it fails the
// reconciliation aborts before any create is attempted.
func (r *Reconciler) Reconcile(ctx context.Context, clean bool) (string, error) {
	lock, err := acquireNameLock(r.name)
	if err != nil {
		// Proceed lockless; the runtime's create-by-name atomicity is the
		// backstop and a lost race surfaces as ErrConflict.
		r.logger.Debug("advisory lock unavailable, relying on runtime atomicity", "error", err)
	}
	defer lock.Release()

	state, id, err := r.Observe(ctx)
	if err != nil {
		return "", err
	}
	r.logger.Debug("observed container state", "container", r.name, "state", state)

	switch {
	case state == StateRunningCurrent && !clean:
		return id, nil
	case state == StateRunningCurrent && clean:
		r.logger.Info("removing container (--clean)", "container", r.name)
	case state == StateStopped:
		r.logger.Info("container is stopped, recreating", "container", r.name)
	case state == StateRunningStale:
		r.logger.Info("new image available, recreating", "container", r.name, "image", r.imageRef)
	}

	if id != "" {
		if err := r.engine.Remove(ctx, id, true); err != nil {
			return "", fmt.Errorf("remove outdated container %s: %w", r.name, err)
		}
	}

	return r.create(ctx)
}

// create starts a fresh detached container under the managed name.
func (r *Reconciler) create(ctx context.Context) (string, error) {
	opts := r.baseOpts
	opts.Name = r.name
	opts.Command = keepAliveCommand

	id, err := r.engine.RunDetached(ctx, opts)
	if err != nil {
		if container.IsNameConflictError(err) {
			return "", fmt.Errorf("%w: %s: %w", ErrConflict, r.name, err)
		}
		return "", fmt.Errorf("create container %s: %w", r.name, err)
	}

	r.logger.Debug("created container", "container", r.name, "id", id, "image", r.imageRef)
	return id, nil
}

// Stop removes the managed container if one exists. It reports whether a
// container existed; a clean state is a normal outcome, not an error.
func (r *Reconciler) Stop(ctx context.Context) (bool, error) {
	id, err := r.engine.ContainerID(ctx, r.name)
	if err != nil {
		return false, fmt.Errorf("query container %s: %w", r.name, err)
	}
	if id == "" {
		return false, nil
	}

	if err := r.engine.Remove(ctx, id, true); err != nil {
		return true, fmt.Errorf("remove container %s: %w", r.name, err)
	}
	return true, nil
}

// Pull fetches the current image version without touching the container.
func (r *Reconciler) Pull(ctx context.Context, output io.Writer) error {
	r.logger.Info("pulling image", "image", r.imageRef)
	return r.engine.Pull(ctx, r.imageRef, output)
}

// Name returns the managed container name.
func (r *Reconciler) Name() string { return r.name }

// ImageRef returns the expected image reference.
func (r *Reconciler) ImageRef() string { return r.imageRef }
