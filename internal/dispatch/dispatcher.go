// SPDX-License-Identifier: MPL-2.0

// Package dispatch executes user commands inside a reconciled container,
// or inside a disposable one in hermetic mode, and propagates the
// command's exit status unchanged.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/term"
	"mvdan.cc/sh/v3/syntax"

	"devc-cli/internal/container"
	"devc-cli/pkg/types"
)

// EntryScriptPath is the fixed in-container entry point. The script owns
// once-per-container user and permission setup behind its own in-container
// file lock, so concurrent first execs do not race on provisioning, then
// either runs the line given after -c or opens a login shell.
const EntryScriptPath = "/opt/devc/entry.sh"

// ErrNotATerminal is returned when an interactive session is requested but
// stdin is not attached to a terminal.
var ErrNotATerminal = errors.New("interactive session requires a terminal on stdin")

// Session describes what the user asked to run.
type Session struct {
	// Command is the user command; empty means an interactive shell.
	Command []string
	// Interactive forces a TTY-attached session even when Command is given.
	Interactive bool
	// WorkDir is the in-container working directory.
	WorkDir string
}

// Dispatcher runs sessions against a container engine. Standard streams
// and the terminal probe are injectable for tests; NewDispatcher wires the
// process's own.
type Dispatcher struct {
	engine container.Engine
	logger *log.Logger

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	stdinIsTerminal  func() bool
	stdoutIsTerminal func() bool
}

// NewDispatcher creates a Dispatcher bound to the process's std streams.
func NewDispatcher(engine container.Engine, logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		engine: engine,
		logger: logger,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		stdinIsTerminal: func() bool {
			return term.IsTerminal(int(os.Stdin.Fd()))
		},
		stdoutIsTerminal: func() bool {
			return term.IsTerminal(int(os.Stdout.Fd()))
		},
	}
}

// attachment is the resolved TTY policy for one session.
type attachment struct {
	interactive bool
	tty         bool
}

// resolveAttachment applies the TTY policy. An interactive flag or the
// absence of a command means a full interactive session and requires a
// terminal on stdin. A given command run from a terminal still gets a TTY
// for output formatting but keeps stdin closed.
func (d *Dispatcher) resolveAttachment(s Session) (attachment, error) {
	if s.Interactive || len(s.Command) == 0 {
		if !d.stdinIsTerminal() {
			return attachment{}, ErrNotATerminal
		}
		return attachment{interactive: true, tty: true}, nil
	}
	return attachment{tty: d.stdoutIsTerminal()}, nil
}

// entryCommand wraps the session's command in the in-container entry
// script. A user command is collapsed into one quoted shell line so the
// script sees it as a single -c argument; an empty command invokes the
// script bare, which ends in an interactive shell.
func entryCommand(userCommand []string) ([]string, error) {
	if len(userCommand) == 0 {
		return []string{EntryScriptPath}, nil
	}
	line, err := shellLine(userCommand)
	if err != nil {
		return nil, err
	}
	return []string{EntryScriptPath, "-c", line}, nil
}

// shellLine quotes each argument for POSIX shell evaluation and joins
// them into a single command line.
func shellLine(command []string) (string, error) {
	quoted := make([]string, 0, len(command))
	for _, arg := range command {
		q, err := syntax.Quote(arg, syntax.LangPOSIX)
		if err != nil {
			return "", fmt.Errorf("cannot quote argument %q: %w", arg, err)
		}
		quoted = append(quoted, q)
	}
	return strings.Join(quoted, " "), nil
}

// ExecPersistent runs the session inside an already reconciled container.
// The returned exit code is the user command's own.
func (d *Dispatcher) ExecPersistent(ctx context.Context, containerID string, s Session) (types.ExitCode, error) {
	att, err := d.resolveAttachment(s)
	if err != nil {
		return 1, err
	}

	command, err := entryCommand(s.Command)
	if err != nil {
		return 1, err
	}

	opts := container.ExecOptions{
		WorkDir:     s.WorkDir,
		Interactive: att.interactive,
		TTY:         att.tty,
		Stdout:      d.stdout,
		Stderr:      d.stderr,
	}
	if att.interactive {
		opts.Stdin = d.stdin
	}

	d.logger.Debug("executing in container",
		"container", containerID, "interactive", att.interactive, "tty", att.tty)

	result, err := d.engine.Exec(ctx, containerID, command, opts)
	if err != nil {
		return 1, fmt.Errorf("exec in container %s: %w", containerID, err)
	}
	if result.Error != nil {
		return result.ExitCode, fmt.Errorf("exec in container %s: %w", containerID, result.Error)
	}
	return result.ExitCode, nil
}

// RunHermetic runs the session in a disposable container that is removed
// on exit. The managed persistent container is never referenced.
func (d *Dispatcher) RunHermetic(ctx context.Context, baseOpts container.RunOptions, s Session) (types.ExitCode, error) {
	att, err := d.resolveAttachment(s)
	if err != nil {
		return 1, err
	}

	command, err := entryCommand(s.Command)
	if err != nil {
		return 1, err
	}

	opts := baseOpts
	opts.Name = ""
	opts.Remove = true
	opts.Command = command
	opts.Interactive = att.interactive
	opts.TTY = att.tty
	opts.Stdout = d.stdout
	opts.Stderr = d.stderr
	if att.interactive {
		opts.Stdin = d.stdin
	}
	if s.WorkDir != "" {
		opts.WorkDir = s.WorkDir
	}

	d.logger.Debug("running hermetic container",
		"image", opts.Image, "interactive", att.interactive, "tty", att.tty)

	result, err := d.engine.Run(ctx, opts)
	if err != nil {
		return 1, fmt.Errorf("run hermetic container: %w", err)
	}
	if result.Error != nil {
		return result.ExitCode, fmt.Errorf("run hermetic container: %w", result.Error)
	}
	return result.ExitCode, nil
}
