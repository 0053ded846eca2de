// SPDX-License-Identifier: MPL-2.0

package selftest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"devc-cli/internal/container"
	"devc-cli/pkg/types"
)

// scriptedEngine is an in-memory runtime good enough for the whole
// self-test suite to pass against.
type scriptedEngine struct {
	containers map[string]*scriptedContainer
	nextID     int

	killBroken bool
}

type scriptedContainer struct {
	id      string
	image   string
	running bool
}

func newScriptedEngine() *scriptedEngine {
	return &scriptedEngine{containers: map[string]*scriptedContainer{}}
}

func (e *scriptedEngine) Name() string                            { return "scripted" }
func (e *scriptedEngine) Available() bool                         { return true }
func (e *scriptedEngine) Version(context.Context) (string, error) { return "0.0", nil }

func (e *scriptedEngine) ContainerID(_ context.Context, name string) (string, error) {
	if c, ok := e.containers[name]; ok {
		return c.id, nil
	}
	return "", nil
}

func (e *scriptedEngine) IsRunning(_ context.Context, name string) (bool, error) {
	if c, ok := e.containers[name]; ok {
		return c.running, nil
	}
	return false, nil
}

func (e *scriptedEngine) InspectImageRef(_ context.Context, containerID string) (string, error) {
	for _, c := range e.containers {
		if c.id == containerID {
			return c.image, nil
		}
	}
	return "", errors.New("no such container")
}

func (e *scriptedEngine) RunDetached(_ context.Context, opts container.RunOptions) (string, error) {
	e.nextID++
	c := &scriptedContainer{
		id:      fmt.Sprintf("scripted%04d", e.nextID),
		image:   opts.Image,
		running: true,
	}
	e.containers[opts.Name] = c
	return c.id, nil
}

func (e *scriptedEngine) Run(context.Context, container.RunOptions) (*container.RunResult, error) {
	return &container.RunResult{}, nil
}

func (e *scriptedEngine) Exec(_ context.Context, containerID string, command []string, _ container.ExecOptions) (*container.RunResult, error) {
	result := &container.RunResult{ContainerID: containerID}
	// Interpret the one shell construct the checks rely on.
	if len(command) == 3 && command[0] == "sh" && command[1] == "-c" {
		var code int
		if _, err := fmt.Sscanf(command[2], "exit %d", &code); err == nil {
			result.ExitCode = types.ExitCode(code)
		}
	}
	return result, nil
}

func (e *scriptedEngine) Remove(_ context.Context, containerID string, _ bool) error {
	for name, c := range e.containers {
		if c.id == containerID {
			delete(e.containers, name)
			return nil
		}
	}
	return errors.New("no such container")
}

func (e *scriptedEngine) Kill(_ context.Context, containerID string) error {
	if e.killBroken {
		return errors.New("kill refused")
	}
	for _, c := range e.containers {
		if c.id == containerID {
			c.running = false
			return nil
		}
	}
	return errors.New("no such container")
}

func (e *scriptedEngine) Pull(context.Context, string, io.Writer) error { return nil }

func TestRun_AllChecksPass(t *testing.T) {
	engine := newScriptedEngine()
	opts := container.RunOptions{Image: "dev:r1", WorkDir: "/workspace"}

	err := Run(context.Background(), engine, "dev:r1", opts, log.New(io.Discard))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(engine.containers) != 0 {
		t.Errorf("containers left behind after self-test: %v", engine.containers)
	}
}

func TestRun_FailureNamesTheCheck(t *testing.T) {
	engine := newScriptedEngine()
	engine.killBroken = true
	opts := container.RunOptions{Image: "dev:r1"}

	err := Run(context.Background(), engine, "dev:r1", opts, log.New(io.Discard))
	if err == nil {
		t.Fatal("Run() expected failure with a broken kill")
	}
	if !strings.Contains(err.Error(), "stopped container is recreated") {
		t.Errorf("Run() error = %v, must name the failing check", err)
	}
}
