// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the devc CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"devc-cli/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"

	// stop removes the managed container and exits.
	stop bool
	// clean removes any existing container before reconciling.
	clean bool
	// hermetic runs the command in a disposable container.
	hermetic bool
	// interactive forces a TTY-attached session even when a command is given.
	interactive bool
	// pull fetches the current image without touching the container.
	pull bool
	// engineName selects the container engine backend.
	engineName string
	// usePodman is shorthand for --engine podman.
	usePodman bool
	// selfTest runs the live lifecycle scenarios against the real runtime.
	selfTest bool
	// verbose enables debug output.
	verbose bool
	// cfgFile allows specifying a custom config file.
	cfgFile string

	// rootCmd is the whole CLI: devc has a single verb.
	rootCmd = &cobra.Command{
		Use:   "devc [flags] [COMMAND...]",
		Short: "Persistent development container manager",
		Long: TitleStyle.Render("devc") + SubtitleStyle.Render(" - Persistent development container manager") + `

devc keeps exactly one development container alive per user and
checkout, recreating it whenever the checked-in image version moves,
and runs your commands inside it.

` + SubtitleStyle.Render("Examples:") + `
  devc                      Open an interactive shell in the container
  devc make -j8             Run a build inside the container
  devc --hermetic make test Run in a disposable one-shot container
  devc --clean              Recreate the container from scratch
  devc --stop               Remove the container`,
		Args: cobra.ArbitraryArgs,
		RunE: runRoot,
	}
)

func init() {
	rootCmd.Flags().BoolVar(&stop, "stop", false, "remove the managed container and exit")
	rootCmd.Flags().BoolVar(&clean, "clean", false, "remove any existing container before reconciling")
	rootCmd.Flags().BoolVar(&hermetic, "hermetic", false, "run in a disposable auto-removed container")
	rootCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "force a TTY-attached session even when COMMAND is given")
	rootCmd.Flags().BoolVar(&pull, "pull", false, "fetch the current image and exit")
	rootCmd.Flags().StringVar(&engineName, "engine", "", "container engine to use (docker or podman)")
	rootCmd.Flags().BoolVar(&usePodman, "podman", false, "shorthand for --engine podman")
	rootCmd.Flags().BoolVar(&selfTest, "self-test", false, "run live lifecycle checks against the container runtime")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/devc/config.yaml)")

	// Everything after the first non-flag argument belongs to the user's
	// command, so `devc make -j8` does not eat -j8.
	rootCmd.Flags().SetInterspersed(false)
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI. This is called by main.main().
func Execute() {
	// Use fang.Execute for enhanced Cobra styling.
	// Pass version via fang.WithVersion() since fang overrides rootCmd.Version.
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(handleError),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(int(exitErr.Code))
		}
		os.Exit(1)
	}
}

// handleError replaces fang's default error printer. A user command's own
// non-zero exit stays silent because the command already reported itself;
// everything else renders with suggestions when it carries them.
func handleError(w io.Writer, _ fang.Styles, err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err == nil {
		return
	}
	fmt.Fprintln(w, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, verbose))
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
