// SPDX-License-Identifier: MPL-2.0

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/charmbracelet/log"

	"devc-cli/internal/container"
)

type (
	// fakeContainer is the runtime-side record of one container.
	fakeContainer struct {
		id      string
		image   string
		running bool
	}

	// fakeEngine is an in-memory container.Engine. It is the only state
	// the reconciler sees, mirroring "the runtime is the source of truth".
	fakeEngine struct {
		containers map[string]*fakeContainer
		nextID     int

		created int
		removed int
		pulled  []string

		removeErr error
		runErr    error
	}
)

func newFakeEngine() *fakeEngine {
	return &fakeEngine{containers: map[string]*fakeContainer{}}
}

func (f *fakeEngine) Name() string                                { return "fake" }
func (f *fakeEngine) Available() bool                             { return true }
func (f *fakeEngine) Version(context.Context) (string, error)     { return "0.0-fake", nil }

func (f *fakeEngine) ContainerID(_ context.Context, name string) (string, error) {
	if c, ok := f.containers[name]; ok {
		return c.id, nil
	}
	return "", nil
}

func (f *fakeEngine) IsRunning(_ context.Context, name string) (bool, error) {
	if c, ok := f.containers[name]; ok {
		return c.running, nil
	}
	return false, nil
}

func (f *fakeEngine) InspectImageRef(_ context.Context, containerID string) (string, error) {
	for _, c := range f.containers {
		if c.id == containerID {
			return c.image, nil
		}
	}
	return "", errors.New("no such container")
}

func (f *fakeEngine) RunDetached(_ context.Context, opts container.RunOptions) (string, error) {
	if f.runErr != nil {
		return "", f.runErr
	}
	if _, ok := f.containers[opts.Name]; ok {
		return "", fmt.Errorf(`the container name %q is already in use`, opts.Name)
	}
	f.nextID++
	f.created++
	c := &fakeContainer{
		id:      fmt.Sprintf("fake%06d", f.nextID),
		image:   opts.Image,
		running: true,
	}
	f.containers[opts.Name] = c
	return c.id, nil
}

func (f *fakeEngine) Run(_ context.Context, opts container.RunOptions) (*container.RunResult, error) {
	return &container.RunResult{}, nil
}

func (f *fakeEngine) Exec(_ context.Context, containerID string, _ []string, _ container.ExecOptions) (*container.RunResult, error) {
	return &container.RunResult{ContainerID: containerID}, nil
}

func (f *fakeEngine) Remove(_ context.Context, containerID string, _ bool) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	for name, c := range f.containers {
		if c.id == containerID {
			delete(f.containers, name)
			f.removed++
			return nil
		}
	}
	return errors.New("no such container")
}

func (f *fakeEngine) Kill(_ context.Context, containerID string) error {
	for _, c := range f.containers {
		if c.id == containerID {
			c.running = false
			return nil
		}
	}
	return errors.New("no such container")
}

func (f *fakeEngine) Pull(_ context.Context, image string, _ io.Writer) error {
	f.pulled = append(f.pulled, image)
	return nil
}

// stop marks an existing container as not running, as if it crashed or
// the host rebooted.
func (f *fakeEngine) stop(name string) {
	f.containers[name].running = false
}

func discardLogger() *log.Logger {
	return log.New(io.Discard)
}

func newTestReconciler(t *testing.T, engine *fakeEngine, imageRef string) *Reconciler {
	t.Helper()
	// Unique name per test so advisory flocks never cross test boundaries.
	name := fmt.Sprintf("devc_test_%s", t.Name())
	opts := container.RunOptions{Image: imageRef, WorkDir: "/workspace"}
	return New(engine, name, imageRef, opts, discardLogger())
}

func TestReconcile_CreatesWhenAbsent(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	r := newTestReconciler(t, engine, "dev:r1")

	id, err := r.Reconcile(context.Background(), false)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if id == "" {
		t.Fatal("Reconcile() returned empty container ID")
	}
	if engine.created != 1 {
		t.Errorf("created = %d, want 1", engine.created)
	}

	state, _, err := r.Observe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if state != StateRunningCurrent {
		t.Errorf("state after reconcile = %v, want running-current", state)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	r := newTestReconciler(t, engine, "dev:r1")

	first, err := r.Reconcile(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Reconcile(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}

	if first != second {
		t.Errorf("second Reconcile() = %q, want reuse of %q", second, first)
	}
	if engine.created != 1 {
		t.Errorf("created = %d, want exactly 1 across two reconciles", engine.created)
	}
	if engine.removed != 0 {
		t.Errorf("removed = %d, want 0", engine.removed)
	}
}

func TestReconcile_VersionDriftConvergence(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	old := newTestReconciler(t, engine, "dev:r1")
	oldID, err := old.Reconcile(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}

	// Same name, new expected version.
	current := New(engine, old.Name(), "dev:r2",
		container.RunOptions{Image: "dev:r2"}, discardLogger())

	state, _, err := current.Observe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if state != StateRunningStale {
		t.Fatalf("state before reconcile = %v, want running-stale", state)
	}

	newID, err := current.Reconcile(context.Background(), false)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if newID == oldID {
		t.Error("Reconcile() reused the stale container")
	}
	if engine.removed != 1 || engine.created != 2 {
		t.Errorf("removed = %d created = %d, want 1 removal and 2 creations", engine.removed, engine.created)
	}

	ref, err := engine.InspectImageRef(context.Background(), newID)
	if err != nil {
		t.Fatal(err)
	}
	if ref != "dev:r2" {
		t.Errorf("new container image = %q, want dev:r2", ref)
	}
}

func TestReconcile_StoppedContainerRecreated(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	r := newTestReconciler(t, engine, "dev:r1")

	oldID, err := r.Reconcile(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	engine.stop(r.Name())

	state, _, err := r.Observe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if state != StateStopped {
		t.Fatalf("state = %v, want stopped", state)
	}

	newID, err := r.Reconcile(context.Background(), false)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if newID == oldID {
		t.Error("stopped container must be recreated, not restarted")
	}

	running, err := engine.IsRunning(context.Background(), r.Name())
	if err != nil {
		t.Fatal(err)
	}
	if !running {
		t.Error("container not running after reconcile")
	}
}

func TestReconcile_CleanForcesRecreation(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	r := newTestReconciler(t, engine, "dev:r1")

	first, err := r.Reconcile(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Reconcile(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}

	if first == second {
		t.Error("clean reconcile must replace a current container")
	}
	if engine.removed != 1 || engine.created != 2 {
		t.Errorf("removed = %d created = %d, want 1 and 2", engine.removed, engine.created)
	}
}

func TestReconcile_RemoveFailureAbortsBeforeCreate(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	r := newTestReconciler(t, engine, "dev:r1")

	if _, err := r.Reconcile(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	engine.stop(r.Name())
	engine.removeErr = errors.New("device or resource busy")

	_, err := r.Reconcile(context.Background(), false)
	if err == nil {
		t.Fatal("Reconcile() expected error when removal fails")
	}
	if engine.created != 1 {
		t.Errorf("created = %d, a failed removal must not be followed by a create", engine.created)
	}
}

func TestReconcile_NameConflictSurfacedAsConflict(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	r := newTestReconciler(t, engine, "dev:r1")
	engine.runErr = errors.New(`Conflict. The container name "/devc" is already in use by container "abc"`)

	_, err := r.Reconcile(context.Background(), false)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Reconcile() error = %v, want ErrConflict", err)
	}
	if !errors.Is(err, engine.runErr) {
		t.Error("Reconcile() must preserve the runtime's own error text in the chain")
	}
}

func TestStop(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	r := newTestReconciler(t, engine, "dev:r1")

	// No container yet: a normal outcome, not an error.
	existed, err := r.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if existed {
		t.Error("Stop() existed = true on clean state")
	}

	if _, err := r.Reconcile(context.Background(), false); err != nil {
		t.Fatal(err)
	}

	existed, err = r.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !existed {
		t.Error("Stop() existed = false, want true")
	}

	state, _, err := r.Observe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if state != StateAbsent {
		t.Errorf("state after Stop() = %v, want absent", state)
	}
}

func TestPull_DoesNotTouchContainer(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	r := newTestReconciler(t, engine, "dev:r1")

	if err := r.Pull(context.Background(), io.Discard); err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if len(engine.pulled) != 1 || engine.pulled[0] != "dev:r1" {
		t.Errorf("pulled = %v, want [dev:r1]", engine.pulled)
	}
	if engine.created != 0 {
		t.Errorf("created = %d, pull must not create containers", engine.created)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateAbsent, "absent"},
		{StateStopped, "stopped"},
		{StateRunningStale, "running-stale"},
		{StateRunningCurrent, "running-current"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
