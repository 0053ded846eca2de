// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"devc-cli/internal/config"
	"devc-cli/internal/container"
	"devc-cli/internal/dispatch"
	"devc-cli/internal/identity"
	"devc-cli/internal/issue"
	"devc-cli/internal/reconcile"
	"devc-cli/internal/selftest"
	"devc-cli/internal/workspace"
	"devc-cli/pkg/types"
)

// runRoot is the single verb: resolve identity, reconcile (or not, per
// flags), then run the user's command in the container.
func runRoot(cmd *cobra.Command, args []string) error {
	cfg, _, err := config.Load(config.LoadOptions{ConfigFilePath: cfgFile})
	if err != nil {
		return err
	}
	if cfg.Verbose {
		verbose = true
	}

	logger := newLogger(verbose)
	ctx := cmd.Context()

	pref, auto, err := resolveEnginePreference(engineName, usePodman, cfg.Engine)
	if err != nil {
		return err
	}
	engine, err := openEngine(pref, auto)
	if err != nil {
		return describeError(err)
	}
	logEngineSelection(ctx, logger, engine)

	toolPath, err := identity.ResolveToolPath()
	if err != nil {
		return describeError(err)
	}

	projectRoot, err := workspace.FindProjectRoot(toolPath)
	if err != nil {
		return describeError(err)
	}

	version, err := identity.ReadImageVersion(projectRoot)
	if err != nil {
		return describeError(err)
	}
	imageRef := identity.ImageRef(cfg.ImageRepo, version)
	name := identity.ContainerName(identity.CurrentUserName(), toolPath)

	settings, err := workspace.LoadSettings(projectRoot)
	if err != nil {
		return describeError(err)
	}
	plan, err := workspace.BuildPlan(projectRoot, settings, configAwareGetenv(cfg))
	if err != nil {
		return describeError(err)
	}
	baseOpts := plan.RunOptions(imageRef)

	reconciler := reconcile.New(engine, name, imageRef, baseOpts, logger)
	dispatcher := dispatch.NewDispatcher(engine, logger)
	session := dispatch.Session{
		Command:     args,
		Interactive: interactive,
		WorkDir:     plan.WorkDir,
	}

	switch {
	case selfTest:
		return describeError(selftest.Run(ctx, engine, imageRef, baseOpts, logger))

	case stop:
		existed, err := reconciler.Stop(ctx)
		if err != nil {
			return describeError(err)
		}
		if existed {
			logger.Info("removed container", "container", name)
		} else {
			logger.Info("no container to remove", "container", name)
		}
		return nil

	case pull:
		return describeError(reconciler.Pull(ctx, os.Stdout))

	case hermetic:
		code, err := dispatcher.RunHermetic(ctx, baseOpts, session)
		return exitResult(code, err)

	default:
		containerID, err := reconciler.Reconcile(ctx, clean)
		if err != nil {
			return describeError(err)
		}
		code, err := dispatcher.ExecPersistent(ctx, containerID, session)
		return exitResult(code, err)
	}
}

// logEngineSelection notes which engine won, including its version when
// the runtime answers. A version failure is not fatal here: the engine
// already passed its availability probe.
func logEngineSelection(ctx context.Context, logger *log.Logger, engine container.Engine) {
	if version, err := engine.Version(ctx); err == nil {
		logger.Debug("selected container engine", "engine", engine.Name(), "version", version)
		return
	}
	logger.Debug("selected container engine", "engine", engine.Name())
}

// newLogger builds the user-facing logger. Lifecycle notices go to stderr
// so they never mix with the contained command's stdout.
func newLogger(verbose bool) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: false,
	})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

// resolveEnginePreference folds the engine flags and config into one
// preference. auto is true when no preference was expressed anywhere.
func resolveEnginePreference(engineFlag string, podmanFlag bool, cfgEngine string) (container.EngineType, bool, error) {
	pref := engineFlag
	if pref == "" && podmanFlag {
		pref = string(container.EngineTypePodman)
	}
	if pref == "" {
		pref = cfgEngine
	}

	switch pref {
	case "":
		return "", true, nil
	case string(container.EngineTypeDocker), string(container.EngineTypePodman):
		return container.EngineType(pref), false, nil
	default:
		return "", false, fmt.Errorf("unknown container engine %q (use docker or podman)", pref)
	}
}

// openEngine connects to the preferred engine, or auto-detects one.
func openEngine(pref container.EngineType, auto bool) (container.Engine, error) {
	if auto {
		return container.AutoDetectEngine()
	}
	return container.NewEngine(pref)
}

// configAwareGetenv returns a getenv that falls back to config values for
// settings that can come from either place.
func configAwareGetenv(cfg *config.Config) func(string) string {
	return func(name string) string {
		if v := os.Getenv(name); v != "" {
			return v
		}
		if name == workspace.CacheDirEnv {
			return cfg.CacheDir
		}
		return ""
	}
}

// exitResult converts a dispatched command's outcome into the CLI's own.
// A non-zero exit code is carried out through ExitError so main can
// propagate it unchanged; it is not an error of this tool.
func exitResult(code types.ExitCode, err error) error {
	if err != nil {
		return describeError(err)
	}
	if !code.IsSuccess() {
		return &ExitError{Code: code}
	}
	return nil
}

// describeError attaches operation context and suggestions to the errors
// a user can actually act on. Unknown errors pass through unchanged.
func describeError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, container.ErrNoEngineAvailable):
		return issue.NewErrorContext().
			WithOperation("locate container engine").
			WithSuggestion("Install docker or podman and make sure it is on PATH").
			WithSuggestion("Check that your user can talk to the engine (e.g. docker group membership)").
			Wrap(err).
			BuildError()

	case errors.Is(err, workspace.ErrWorkspaceUnresolved):
		return issue.NewErrorContext().
			WithOperation("resolve workspace").
			WithSuggestion("Run devc from inside a project checkout").
			WithSuggestion(fmt.Sprintf("The checkout root is identified by its %s file", identity.VersionFileName)).
			Wrap(err).
			BuildError()

	case errors.Is(err, identity.ErrVersionUnreadable), errors.Is(err, identity.ErrVersionEmpty):
		return issue.NewErrorContext().
			WithOperation("read image version").
			WithResource(identity.VersionFileName).
			WithSuggestion("Check that the version file exists in the checkout and holds a version string").
			Wrap(err).
			BuildError()

	case errors.Is(err, reconcile.ErrConflict):
		return issue.NewErrorContext().
			WithOperation("reconcile container").
			WithSuggestion("Another devc invocation raced this one; re-run the command").
			Wrap(err).
			BuildError()

	case errors.Is(err, dispatch.ErrNotATerminal):
		return issue.NewErrorContext().
			WithOperation("start interactive session").
			WithSuggestion("Run devc from a terminal, or drop --interactive and pass a command").
			Wrap(err).
			BuildError()

	case container.IsTransientError(err):
		return issue.NewErrorContext().
			WithOperation("run container").
			WithSuggestion("This looks like a transient runtime failure; re-running usually clears it").
			Wrap(err).
			BuildError()
	}

	return err
}
