// SPDX-License-Identifier: MPL-2.0

// Package selftest runs live lifecycle checks against the real container
// runtime. The checks use a dedicated throwaway container name, so the
// user's managed container is never touched.
package selftest

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"devc-cli/internal/container"
	"devc-cli/internal/reconcile"
)

// check is one live scenario.
type check struct {
	name string
	run  func(ctx context.Context) error
}

// Run executes the lifecycle scenarios in order and stops at the first
// failure. The scratch container is removed on the way out.
func Run(ctx context.Context, engine container.Engine, imageRef string, baseOpts container.RunOptions, logger *log.Logger) error {
	name := fmt.Sprintf("devc_selftest_%d", os.Getpid())
	reconciler := reconcile.New(engine, name, imageRef, baseOpts, logger)

	defer func() {
		if _, err := reconciler.Stop(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to clean up self-test container", "container", name, "error", err)
		}
	}()

	s := &suite{
		engine:     engine,
		reconciler: reconciler,
		imageRef:   imageRef,
		baseOpts:   baseOpts,
		logger:     logger,
	}

	checks := []check{
		{"reconcile creates a running container", s.checkCreate},
		{"reconcile is idempotent", s.checkIdempotent},
		{"stopped container is recreated", s.checkStoppedRecreated},
		{"version drift is observed as stale", s.checkDriftObserved},
		{"exit codes propagate unchanged", s.checkExitCode},
		{"hermetic run leaves the container alone", s.checkHermeticIsolation},
		{"stop removes and reports correctly", s.checkStop},
	}

	for _, c := range checks {
		if err := c.run(ctx); err != nil {
			return fmt.Errorf("self-test %q: %w", c.name, err)
		}
		logger.Info("self-test passed", "check", c.name)
	}

	return nil
}

type suite struct {
	engine     container.Engine
	reconciler *reconcile.Reconciler
	imageRef   string
	baseOpts   container.RunOptions
	logger     *log.Logger

	firstID string
}

func (s *suite) checkCreate(ctx context.Context) error {
	id, err := s.reconciler.Reconcile(ctx, false)
	if err != nil {
		return err
	}

	running, err := s.engine.IsRunning(ctx, s.reconciler.Name())
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("container %s not running after reconcile", s.reconciler.Name())
	}

	s.firstID = id
	return nil
}

func (s *suite) checkIdempotent(ctx context.Context) error {
	id, err := s.reconciler.Reconcile(ctx, false)
	if err != nil {
		return err
	}
	if id != s.firstID {
		return fmt.Errorf("second reconcile replaced the container: %s != %s", id, s.firstID)
	}
	return nil
}

func (s *suite) checkStoppedRecreated(ctx context.Context) error {
	if err := s.engine.Kill(ctx, s.firstID); err != nil {
		return fmt.Errorf("kill container: %w", err)
	}

	id, err := s.reconciler.Reconcile(ctx, false)
	if err != nil {
		return err
	}
	if id == s.firstID {
		return fmt.Errorf("stopped container %s was reused instead of recreated", id)
	}

	s.firstID = id
	return nil
}

// checkDriftObserved verifies drift detection without needing a second
// image on the host: a reconciler expecting a different reference must
// classify the running container as stale.
func (s *suite) checkDriftObserved(ctx context.Context) error {
	drifted := reconcile.New(s.engine, s.reconciler.Name(), s.imageRef+"-drift",
		s.baseOpts, s.logger)

	state, _, err := drifted.Observe(ctx)
	if err != nil {
		return err
	}
	if state != reconcile.StateRunningStale {
		return fmt.Errorf("observed state %s, want running-stale", state)
	}
	return nil
}

func (s *suite) checkExitCode(ctx context.Context) error {
	var out bytes.Buffer
	result, err := s.engine.Exec(ctx, s.firstID, []string{"sh", "-c", "exit 42"}, container.ExecOptions{
		Stdout: &out,
		Stderr: &out,
	})
	if err != nil {
		return err
	}
	if result.Error != nil {
		return result.Error
	}
	if result.ExitCode != 42 {
		return fmt.Errorf("exit code %d, want 42", result.ExitCode)
	}
	return nil
}

func (s *suite) checkHermeticIsolation(ctx context.Context) error {
	before, err := s.engine.ContainerID(ctx, s.reconciler.Name())
	if err != nil {
		return err
	}

	opts := s.baseOpts
	opts.Remove = true
	opts.Command = []string{"true"}
	var out bytes.Buffer
	opts.Stdout = &out
	opts.Stderr = &out

	result, err := s.engine.Run(ctx, opts)
	if err != nil {
		return err
	}
	if result.Error != nil {
		return result.Error
	}
	if !result.ExitCode.IsSuccess() {
		return fmt.Errorf("hermetic run exited %d: %s", result.ExitCode, out.String())
	}

	after, err := s.engine.ContainerID(ctx, s.reconciler.Name())
	if err != nil {
		return err
	}
	if before != after {
		return fmt.Errorf("hermetic run changed the managed container: %s -> %s", before, after)
	}
	return nil
}

func (s *suite) checkStop(ctx context.Context) error {
	existed, err := s.reconciler.Stop(ctx)
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("stop reported no container, one was running")
	}

	existed, err = s.reconciler.Stop(ctx)
	if err != nil {
		return err
	}
	if existed {
		return fmt.Errorf("second stop still found a container")
	}
	return nil
}
