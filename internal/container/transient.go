// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// IsTransientError reports whether err looks like a transient container
// engine failure that a plain re-invocation may clear: network timeouts
// during pulls, rootless Podman storage races, and generic engine errors
// (exit code 125). devc never retries on its own; this classification only
// shapes the suggestion attached to the surfaced error.
//
// Context cancellation and deadline errors are explicitly non-transient
// because retrying a cancelled operation is never useful.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are never transient — the caller explicitly stopped the operation.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Exit code 125 is a generic container engine error (e.g., Podman/Docker
	// internal failure). These are often transient storage or cgroup issues.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 125 {
		return true
	}

	errStr := err.Error()

	// Rootless Podman race conditions and OCI runtime errors.
	if strings.Contains(errStr, "ping_group_range") ||
		strings.Contains(errStr, "OCI runtime error") {
		return true
	}

	// Network errors during image pull.
	if strings.Contains(errStr, "Temporary failure resolving") ||
		strings.Contains(errStr, "Could not resolve host") ||
		strings.Contains(errStr, "connection timed out") ||
		strings.Contains(errStr, "connection refused") {
		return true
	}

	// Storage driver errors (overlay mount races on rootless Podman).
	if strings.Contains(errStr, "error creating overlay mount") ||
		strings.Contains(errStr, "error mounting layer") {
		return true
	}

	return false
}

// IsNameConflictError reports whether err is the runtime's complaint that a
// container with the requested name already exists. This happens when two
// invocations race on create; the loser surfaces the runtime's own error
// text rather than retrying.
func IsNameConflictError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// Docker: 'Conflict. The container name "/x" is already in use'
	// Podman: 'the container name "x" is already in use'
	return strings.Contains(errStr, "already in use") ||
		strings.Contains(errStr, "Conflict")
}
