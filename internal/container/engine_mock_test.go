// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
)

type (
	// MockCommandRecorder captures arguments passed to exec.Command for
	// verification. It uses the TestHelperProcess pattern to simulate
	// command execution.
	MockCommandRecorder struct {
		// Invocations records each call to the mock exec.Command
		Invocations []MockInvocation
		// ExitCode is the exit code to return (0 = success)
		ExitCode int
		// Stdout is the output to write to stdout
		Stdout string
		// Stderr is the output to write to stderr
		Stderr string
	}

	// MockInvocation represents a single invocation of exec.Command.
	MockInvocation struct {
		// Name is the command name (e.g., "docker", "podman")
		Name string
		// Args are the arguments passed to the command
		Args []string
	}
)

// NewMockCommandRecorder creates a new recorder with default settings (success, no output).
func NewMockCommandRecorder() *MockCommandRecorder {
	return &MockCommandRecorder{
		Invocations: make([]MockInvocation, 0),
	}
}

// CommandFunc returns a function that can replace execCommand for testing.
// The function records invocations and returns a command that runs TestHelperProcess.
func (m *MockCommandRecorder) CommandFunc(t *testing.T) ExecCommandFunc {
	t.Helper()
	return func(_ context.Context, name string, args ...string) *exec.Cmd {
		m.Invocations = append(m.Invocations, MockInvocation{
			Name: name,
			Args: args,
		})

		cs := []string{"-test.run=TestHelperProcess", "--", name}
		cs = append(cs, args...)
		cmd := exec.Command(os.Args[0], cs...)
		cmd.Env = []string{
			"GO_WANT_HELPER_PROCESS=1",
			fmt.Sprintf("GO_HELPER_EXIT_CODE=%d", m.ExitCode),
			fmt.Sprintf("GO_HELPER_STDOUT=%s", m.Stdout),
			fmt.Sprintf("GO_HELPER_STDERR=%s", m.Stderr),
		}

		return cmd
	}
}

// LastArgs returns the arguments from the most recent invocation.
func (m *MockCommandRecorder) LastArgs() []string {
	if len(m.Invocations) == 0 {
		return nil
	}
	return m.Invocations[len(m.Invocations)-1].Args
}

// TestHelperProcess is not a real test. It is the child side of the
// MockCommandRecorder pattern: when re-executed with
// GO_WANT_HELPER_PROCESS=1 it plays the part of the container binary.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	if out := os.Getenv("GO_HELPER_STDOUT"); out != "" {
		fmt.Fprint(os.Stdout, out)
	}
	if errOut := os.Getenv("GO_HELPER_STDERR"); errOut != "" {
		fmt.Fprint(os.Stderr, errOut)
	}

	code := 0
	fmt.Sscanf(os.Getenv("GO_HELPER_EXIT_CODE"), "%d", &code)
	os.Exit(code)
}

func TestBaseCLIEngine_ContainerID(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		want   string
	}{
		{name: "absent", stdout: "", want: ""},
		{name: "present", stdout: "0a1b2c3d4e5f\n", want: "0a1b2c3d4e5f"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := NewMockCommandRecorder()
			rec.Stdout = tt.stdout
			engine := NewBaseCLIEngine("docker", WithExecCommand(rec.CommandFunc(t)))

			got, err := engine.ContainerID(context.Background(), "devc_alice_0a1b2c3d4e5f")
			if err != nil {
				t.Fatalf("ContainerID() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ContainerID() = %q, want %q", got, tt.want)
			}

			args := strings.Join(rec.LastArgs(), " ")
			if !strings.Contains(args, "ps -a --filter name=^devc_alice_0a1b2c3d4e5f$") {
				t.Errorf("ContainerID() args = %q, missing anchored name filter", args)
			}
		})
	}
}

func TestBaseCLIEngine_IsRunning(t *testing.T) {
	rec := NewMockCommandRecorder()
	rec.Stdout = "0a1b2c3d4e5f\n"
	engine := NewBaseCLIEngine("docker", WithExecCommand(rec.CommandFunc(t)))

	running, err := engine.IsRunning(context.Background(), "devc_alice_0a1b2c3d4e5f")
	if err != nil {
		t.Fatalf("IsRunning() error = %v", err)
	}
	if !running {
		t.Error("IsRunning() = false, want true")
	}

	args := strings.Join(rec.LastArgs(), " ")
	if strings.Contains(args, "-a") {
		t.Errorf("IsRunning() args = %q, must not list stopped containers", args)
	}
}

func TestBaseCLIEngine_InspectImageRef(t *testing.T) {
	rec := NewMockCommandRecorder()
	rec.Stdout = "ghcr.io/devc/dev:r0042\n"
	engine := NewBaseCLIEngine("docker", WithExecCommand(rec.CommandFunc(t)))

	ref, err := engine.InspectImageRef(context.Background(), "0a1b2c3d4e5f")
	if err != nil {
		t.Fatalf("InspectImageRef() error = %v", err)
	}
	if ref != "ghcr.io/devc/dev:r0042" {
		t.Errorf("InspectImageRef() = %q, want %q", ref, "ghcr.io/devc/dev:r0042")
	}
}

func TestBaseCLIEngine_RunDetachedReturnsID(t *testing.T) {
	rec := NewMockCommandRecorder()
	rec.Stdout = "f00dfacecafe\n"
	engine := NewBaseCLIEngine("docker", WithExecCommand(rec.CommandFunc(t)))

	id, err := engine.RunDetached(context.Background(), RunOptions{
		Image:   "ghcr.io/devc/dev:r0042",
		Name:    "devc_alice_0a1b2c3d4e5f",
		Command: []string{"sleep", "infinity"},
	})
	if err != nil {
		t.Fatalf("RunDetached() error = %v", err)
	}
	if id != "f00dfacecafe" {
		t.Errorf("RunDetached() = %q, want %q", id, "f00dfacecafe")
	}

	args := rec.LastArgs()
	if len(args) == 0 || args[0] != "run" {
		t.Fatalf("RunDetached() args = %v, want run verb first", args)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-d") {
		t.Errorf("RunDetached() args = %q, missing -d", joined)
	}
	if !strings.Contains(joined, "--name devc_alice_0a1b2c3d4e5f") {
		t.Errorf("RunDetached() args = %q, missing --name", joined)
	}
	if !strings.HasSuffix(joined, "ghcr.io/devc/dev:r0042 sleep infinity") {
		t.Errorf("RunDetached() args = %q, image/command must come last", joined)
	}
}

func TestBaseCLIEngine_FailureCarriesStderr(t *testing.T) {
	rec := NewMockCommandRecorder()
	rec.ExitCode = 125
	rec.Stderr = "Error: something the runtime said"
	engine := NewBaseCLIEngine("docker", WithExecCommand(rec.CommandFunc(t)))

	_, err := engine.ContainerID(context.Background(), "devc_alice_0a1b2c3d4e5f")
	if err == nil {
		t.Fatal("ContainerID() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "something the runtime said") {
		t.Errorf("error %q must carry the subprocess stderr verbatim", err)
	}
}

func TestBaseCLIEngine_ExecExitCodeCaptured(t *testing.T) {
	rec := NewMockCommandRecorder()
	rec.ExitCode = 42
	engine := NewBaseCLIEngine("docker", WithExecCommand(rec.CommandFunc(t)))

	result, err := engine.Exec(context.Background(), "0a1b2c3d4e5f", []string{"false"}, ExecOptions{})
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if result.ExitCode != 42 {
		t.Errorf("Exec() ExitCode = %d, want 42", result.ExitCode)
	}
	if result.Error != nil {
		t.Errorf("Exec() Error = %v, want nil for plain non-zero exit", result.Error)
	}
}

func TestBaseCLIEngine_RemoveAndKillArgs(t *testing.T) {
	rec := NewMockCommandRecorder()
	engine := NewBaseCLIEngine("docker", WithExecCommand(rec.CommandFunc(t)))

	if err := engine.Remove(context.Background(), "0a1b2c3d4e5f", true); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if got := strings.Join(rec.LastArgs(), " "); got != "rm -f 0a1b2c3d4e5f" {
		t.Errorf("Remove() args = %q, want %q", got, "rm -f 0a1b2c3d4e5f")
	}

	if err := engine.Kill(context.Background(), "0a1b2c3d4e5f"); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	if got := strings.Join(rec.LastArgs(), " "); got != "kill 0a1b2c3d4e5f" {
		t.Errorf("Kill() args = %q, want %q", got, "kill 0a1b2c3d4e5f")
	}
}

func TestEngineVersion(t *testing.T) {
	t.Run("docker asks the daemon", func(t *testing.T) {
		rec := NewMockCommandRecorder()
		rec.Stdout = "27.3.1\n"
		engine := NewDockerEngine(WithExecCommand(rec.CommandFunc(t)))

		got, err := engine.Version(context.Background())
		if err != nil {
			t.Fatalf("Version() error = %v", err)
		}
		if got != "27.3.1" {
			t.Errorf("Version() = %q, want %q", got, "27.3.1")
		}
		if args := strings.Join(rec.LastArgs(), " "); args != "version --format {{.Server.Version}}" {
			t.Errorf("Version() args = %q", args)
		}
	})

	t.Run("podman asks the client", func(t *testing.T) {
		rec := NewMockCommandRecorder()
		rec.Stdout = "5.2.0\n"
		engine := NewPodmanEngine(WithExecCommand(rec.CommandFunc(t)))

		got, err := engine.Version(context.Background())
		if err != nil {
			t.Fatalf("Version() error = %v", err)
		}
		if got != "5.2.0" {
			t.Errorf("Version() = %q, want %q", got, "5.2.0")
		}
		if args := strings.Join(rec.LastArgs(), " "); args != "version --format {{.Version}}" {
			t.Errorf("Version() args = %q", args)
		}
	})

	t.Run("failure is an error, not a version", func(t *testing.T) {
		rec := NewMockCommandRecorder()
		rec.ExitCode = 1
		rec.Stderr = "Cannot connect to the Docker daemon"
		engine := NewDockerEngine(WithExecCommand(rec.CommandFunc(t)))

		if _, err := engine.Version(context.Background()); err == nil {
			t.Error("Version() expected error when the runtime refuses")
		}
	})
}

func TestBaseCLIEngine_Pull(t *testing.T) {
	rec := NewMockCommandRecorder()
	engine := NewBaseCLIEngine("podman", WithExecCommand(rec.CommandFunc(t)))

	var out strings.Builder
	if err := engine.Pull(context.Background(), "ghcr.io/devc/dev:r0042", &out); err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if got := strings.Join(rec.LastArgs(), " "); got != "pull ghcr.io/devc/dev:r0042" {
		t.Errorf("Pull() args = %q, want %q", got, "pull ghcr.io/devc/dev:r0042")
	}
}
