// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"

	"devc-cli/pkg/types"
)

var (
	// ErrInvalidHostPath is the sentinel error wrapped by InvalidHostPathError.
	ErrInvalidHostPath = errors.New("invalid host path")

	// ErrInvalidContainerPath is the sentinel error wrapped by InvalidContainerPathError.
	ErrInvalidContainerPath = errors.New("invalid container path")

	// ErrInvalidVolumeMount is the sentinel error wrapped by InvalidVolumeMountError.
	ErrInvalidVolumeMount = errors.New("invalid volume mount")
)

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// VolumeFormatFunc formats a volume mount as a -v argument value.
	// Podman uses this to add SELinux labels (:z) which are required in
	// SELinux-enforcing environments for bind-mounted host paths.
	VolumeFormatFunc func(mount VolumeMount) string

	// RunArgsTransformer modifies run arguments after they're built.
	// Docker uses this to inject --privileged (device access needs the
	// elevation under the daemon model); rootless Podman omits it and
	// injects --userns=keep-id instead.
	RunArgsTransformer func(args []string) []string

	// BaseCLIEngineOption configures a BaseCLIEngine.
	BaseCLIEngineOption func(*BaseCLIEngine)

	// BaseCLIEngine provides the common implementation for CLI-based
	// container engines. Docker and Podman engines embed this struct.
	// Methods that are identical across engines (queries, run, exec,
	// remove, kill, pull) are implemented here; engine-specific methods
	// (Available, Version) remain on the concrete types.
	BaseCLIEngine struct {
		name               string
		binaryPath         string
		execCommand        ExecCommandFunc
		volumeFormatter    VolumeFormatFunc
		runArgsTransformer RunArgsTransformer
	}

	// VolumeMount is a single host-to-container bind mount.
	VolumeMount struct {
		HostPath      string
		ContainerPath string
		ReadOnly      bool
	}

	// InvalidHostPathError is returned when a mount's host path is empty.
	InvalidHostPathError struct {
		Value string
	}

	// InvalidContainerPathError is returned when a mount's container path is empty.
	InvalidContainerPathError struct {
		Value string
	}

	// InvalidVolumeMountError is returned when a VolumeMount has one or
	// more invalid fields. It wraps the field errors for inspection.
	InvalidVolumeMountError struct {
		Value     VolumeMount
		FieldErrs []error
	}

	// RunOptions contains options for creating a container via run.
	// The same option set backs both the detached managed container and
	// hermetic one-shot containers; it is assembled once per invocation
	// and passed unchanged to every run call.
	RunOptions struct {
		// Image is the image reference to run.
		Image string
		// Name is the container name ("" lets the runtime pick one).
		Name string
		// Command is the command to run ([] uses the image default).
		Command []string
		// WorkDir is the working directory inside the container.
		WorkDir string
		// Env contains environment variables to set in the container.
		Env map[string]string
		// Mounts are the bind mounts to attach.
		Mounts []VolumeMount
		// Devices are host device paths to expose (--device).
		Devices []string
		// Detach runs the container in the background.
		Detach bool
		// Remove auto-removes the container after exit (--rm).
		Remove bool
		// Interactive keeps stdin open (-i).
		Interactive bool
		// TTY allocates a pseudo-TTY (-t).
		TTY bool
		// Stdin is the standard input for foreground runs.
		Stdin io.Reader
		// Stdout is where to write standard output.
		Stdout io.Writer
		// Stderr is where to write standard error.
		Stderr io.Writer
	}

	// ExecOptions contains options for executing in a running container.
	ExecOptions struct {
		// WorkDir is the working directory inside the container.
		WorkDir string
		// Env contains environment variables for the exec session.
		Env map[string]string
		// Interactive keeps stdin open (-i).
		Interactive bool
		// TTY allocates a pseudo-TTY (-t).
		TTY bool
		// Stdin is the standard input.
		Stdin io.Reader
		// Stdout is where to write standard output.
		Stdout io.Writer
		// Stderr is where to write standard error.
		Stderr io.Writer
	}

	// RunResult contains the result of a foreground run or exec.
	// A non-zero exit code from the contained command is not an error of
	// this tool; it is carried in ExitCode for the caller to propagate.
	RunResult struct {
		// ContainerID is the container the command ran in (exec only).
		ContainerID string
		// ExitCode is the command's exit code.
		ExitCode types.ExitCode
		// Error is set only for infrastructure failures (binary missing, etc.).
		Error error
	}
)

// Error implements the error interface.
func (e *InvalidHostPathError) Error() string {
	return fmt.Sprintf("invalid host path %q: must be non-empty", e.Value)
}

// Unwrap returns ErrInvalidHostPath for errors.Is() compatibility.
func (e *InvalidHostPathError) Unwrap() error { return ErrInvalidHostPath }

// Error implements the error interface.
func (e *InvalidContainerPathError) Error() string {
	return fmt.Sprintf("invalid container path %q: must be non-empty", e.Value)
}

// Unwrap returns ErrInvalidContainerPath for errors.Is() compatibility.
func (e *InvalidContainerPathError) Unwrap() error { return ErrInvalidContainerPath }

// Error implements the error interface.
func (e *InvalidVolumeMountError) Error() string {
	return fmt.Sprintf("invalid volume mount %s:%s: %d field error(s)",
		e.Value.HostPath, e.Value.ContainerPath, len(e.FieldErrs))
}

// Unwrap returns ErrInvalidVolumeMount for errors.Is() compatibility.
func (e *InvalidVolumeMountError) Unwrap() error { return ErrInvalidVolumeMount }

// Validate returns an error if either path of the VolumeMount is empty.
func (v VolumeMount) Validate() error {
	var errs []error
	if strings.TrimSpace(v.HostPath) == "" {
		errs = append(errs, &InvalidHostPathError{Value: v.HostPath})
	}
	if strings.TrimSpace(v.ContainerPath) == "" {
		errs = append(errs, &InvalidContainerPathError{Value: v.ContainerPath})
	}
	if len(errs) > 0 {
		return &InvalidVolumeMountError{Value: v, FieldErrs: errs}
	}
	return nil
}

// String returns the mount in "host:container[:ro]" format.
func (v VolumeMount) String() string {
	s := v.HostPath + ":" + v.ContainerPath
	if v.ReadOnly {
		s += ":ro"
	}
	return s
}

// Validate returns an error if any mount in the RunOptions is invalid.
func (o RunOptions) Validate() error {
	var errs []error
	if strings.TrimSpace(o.Image) == "" {
		errs = append(errs, errors.New("image reference must be non-empty"))
	}
	for _, m := range o.Mounts {
		if err := m.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// --- Option Functions ---

// WithName sets the engine name used in error messages.
func WithName(name string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.name = name
	}
}

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.execCommand = fn
	}
}

// WithVolumeFormatter sets a custom volume formatter function.
// This is used by Podman to add SELinux labels on Linux.
func WithVolumeFormatter(fn VolumeFormatFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.volumeFormatter = fn
	}
}

// WithRunArgsTransformer sets a custom run args transformer.
func WithRunArgsTransformer(fn RunArgsTransformer) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.runArgsTransformer = fn
	}
}

// --- Constructor ---

// NewBaseCLIEngine creates a new base engine with the given binary path.
func NewBaseCLIEngine(binaryPath string, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	e := &BaseCLIEngine{
		binaryPath:  binaryPath,
		execCommand: exec.CommandContext,
		// Identity functions by default
		volumeFormatter:    func(v VolumeMount) string { return v.String() },
		runArgsTransformer: func(args []string) []string { return args },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// --- Accessor Methods ---

// Name returns the engine name used in error messages.
func (e *BaseCLIEngine) Name() string {
	return e.name
}

// BinaryPath returns the path to the container engine binary.
func (e *BaseCLIEngine) BinaryPath() string {
	return e.binaryPath
}

// --- Argument Builders ---

// RunArgs constructs arguments for a container run command.
//
// Generated command: <binary> run [options] <image> [command...]
func (e *BaseCLIEngine) RunArgs(opts RunOptions) []string {
	args := []string{"run"}

	if opts.Detach {
		args = append(args, "-d")
	}

	if opts.Remove {
		args = append(args, "--rm")
	}

	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}

	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}

	if opts.Interactive {
		args = append(args, "-i")
	}

	if opts.TTY {
		args = append(args, "-t")
	}

	for _, k := range sortedKeys(opts.Env) {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, opts.Env[k]))
	}

	for _, m := range opts.Mounts {
		args = append(args, "-v", e.volumeFormatter(m))
	}

	for _, d := range opts.Devices {
		args = append(args, "--device", d)
	}

	args = append(args, opts.Image)
	args = append(args, opts.Command...)

	return e.runArgsTransformer(args)
}

// ExecArgs constructs arguments for a container exec command.
//
// Generated command: <binary> exec [options] <container> <command...>
func (e *BaseCLIEngine) ExecArgs(containerID string, command []string, opts ExecOptions) []string {
	args := []string{"exec"}

	if opts.Interactive {
		args = append(args, "-i")
	}

	if opts.TTY {
		args = append(args, "-t")
	}

	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}

	for _, k := range sortedKeys(opts.Env) {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, opts.Env[k]))
	}

	args = append(args, containerID)
	args = append(args, command...)

	return args
}

// RemoveArgs constructs arguments for a container remove command.
func (e *BaseCLIEngine) RemoveArgs(containerID string, force bool) []string {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, containerID)
	return args
}

// KillArgs constructs arguments for a container kill command.
func (e *BaseCLIEngine) KillArgs(containerID string) []string {
	return []string{"kill", containerID}
}

// PullArgs constructs arguments for an image pull command.
func (e *BaseCLIEngine) PullArgs(image string) []string {
	return []string{"pull", image}
}

// --- Command Execution ---

// CreateCommand creates an exec.Cmd for the given arguments.
// This is useful when the caller needs to customize stdin/stdout/stderr.
func (e *BaseCLIEngine) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	return e.execCommand(ctx, e.binaryPath, args...)
}

// RunCommandWithOutput executes a command with stdout captured to a buffer.
// On failure the error carries the subprocess's captured stderr verbatim.
func (e *BaseCLIEngine) RunCommandWithOutput(ctx context.Context, args ...string) (string, error) {
	cmd := e.CreateCommand(ctx, args...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		return "", commandError(e.binaryPath, args, err, errBuf.String())
	}

	return out.String(), nil
}

// RunCommandStatus executes a command and returns only the error status.
// On failure the error carries the subprocess's captured stderr verbatim.
func (e *BaseCLIEngine) RunCommandStatus(ctx context.Context, args ...string) error {
	cmd := e.CreateCommand(ctx, args...)
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		return commandError(e.binaryPath, args, err, errBuf.String())
	}
	return nil
}

// commandError wraps a subprocess failure with the exact command line and
// whatever the subprocess wrote to stderr. Nothing is translated away.
func commandError(binary string, args []string, cause error, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return fmt.Errorf("command %s %v failed: %w", binary, args, cause)
	}
	return fmt.Errorf("command %s %v failed: %w: %s", binary, args, cause, stderr)
}

// --- Promoted Engine Methods (shared by Docker and Podman) ---

// ContainerID returns the ID of the container with the given name, "" if absent.
// The filter anchors the name to avoid prefix matches against other containers.
func (e *BaseCLIEngine) ContainerID(ctx context.Context, name string) (string, error) {
	out, err := e.RunCommandWithOutput(ctx,
		"ps", "-a", "--filter", "name=^"+name+"$", "--format", "{{.ID}}")
	if err != nil {
		return "", err
	}
	return firstLine(out), nil
}

// IsRunning reports whether a container with the given name is running.
func (e *BaseCLIEngine) IsRunning(ctx context.Context, name string) (bool, error) {
	out, err := e.RunCommandWithOutput(ctx,
		"ps", "--filter", "name=^"+name+"$", "--format", "{{.ID}}")
	if err != nil {
		return false, err
	}
	return firstLine(out) != "", nil
}

// InspectImageRef returns the image reference the container was created from.
func (e *BaseCLIEngine) InspectImageRef(ctx context.Context, containerID string) (string, error) {
	out, err := e.RunCommandWithOutput(ctx,
		"inspect", "--type", "container", "--format", "{{.Config.Image}}", containerID)
	if err != nil {
		return "", err
	}
	return firstLine(out), nil
}

// RunDetached creates and starts a detached container, returning the new
// container's ID as printed by the runtime.
func (e *BaseCLIEngine) RunDetached(ctx context.Context, opts RunOptions) (string, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}

	opts.Detach = true
	out, err := e.RunCommandWithOutput(ctx, e.RunArgs(opts)...)
	if err != nil {
		return "", err
	}
	return firstLine(out), nil
}

// Run runs a foreground container and returns the result.
// A non-zero exit code is captured in RunResult.ExitCode (not returned as
// error). Only infrastructure failures set RunResult.Error.
func (e *BaseCLIEngine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	opts.Detach = false
	cmd := e.CreateCommand(ctx, e.RunArgs(opts)...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	err := cmd.Run()

	result := &RunResult{}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = types.ExitCode(exitErr.ExitCode())
		} else {
			result.ExitCode = 1
			result.Error = err
		}
	}

	return result, nil
}

// Exec runs a command in a running container.
func (e *BaseCLIEngine) Exec(ctx context.Context, containerID string, command []string, opts ExecOptions) (*RunResult, error) {
	cmd := e.CreateCommand(ctx, e.ExecArgs(containerID, command, opts)...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	err := cmd.Run()

	result := &RunResult{ContainerID: containerID}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = types.ExitCode(exitErr.ExitCode())
		} else {
			result.ExitCode = 1
			result.Error = err
		}
	}

	return result, nil
}

// Remove removes a container.
func (e *BaseCLIEngine) Remove(ctx context.Context, containerID string, force bool) error {
	return e.RunCommandStatus(ctx, e.RemoveArgs(containerID, force)...)
}

// Kill sends SIGKILL to a running container.
func (e *BaseCLIEngine) Kill(ctx context.Context, containerID string) error {
	return e.RunCommandStatus(ctx, e.KillArgs(containerID)...)
}

// Pull fetches an image, streaming the runtime's progress output to output.
func (e *BaseCLIEngine) Pull(ctx context.Context, image string, output io.Writer) error {
	cmd := e.CreateCommand(ctx, e.PullArgs(image)...)
	var errBuf bytes.Buffer
	cmd.Stdout = output
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		return commandError(e.binaryPath, e.PullArgs(image), err, errBuf.String())
	}
	return nil
}

// firstLine returns the first line of s with surrounding whitespace trimmed.
func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}

// sortedKeys returns the map keys in sorted order so generated argument
// lists are deterministic across invocations.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
