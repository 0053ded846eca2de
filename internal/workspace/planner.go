// SPDX-License-Identifier: MPL-2.0

// Package workspace decides what gets mounted into the dev container and
// where the session starts. The plan is computed once per invocation from
// the environment and never mutated afterward.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"devc-cli/internal/container"
	"devc-cli/internal/identity"
)

const (
	// ContainerWorkspacePath is the fixed mount point for the checkout.
	ContainerWorkspacePath = "/workspace"

	// ContainerCachePath is the fixed mount point for the external cache
	// directory, when one is configured.
	ContainerCachePath = "/cache"

	// SuperprojectMarker is the directory that identifies the root of a
	// multi-repository checkout enclosing this project.
	SuperprojectMarker = ".repo"

	// CacheDirEnv names the optional host cache directory to mount.
	CacheDirEnv = "DEVC_CACHE_DIR"
)

// defaultDevices are host devices exposed to the container when present.
// KVM for hardware virtualization, tun for guest networking tests.
var defaultDevices = []string{"/dev/kvm", "/dev/net/tun"}

// ErrWorkspaceUnresolved is returned when no recognizable checkout
// encloses the tool.
var ErrWorkspaceUnresolved = errors.New("cannot resolve workspace root")

// Plan is the computed mount layout for one invocation.
type Plan struct {
	// ProjectRoot is the host path of this project's checkout root.
	ProjectRoot string
	// Workspace is the single read-write binding for the checkout.
	Workspace container.VolumeMount
	// WorkDir is the in-container working directory for sessions.
	WorkDir string
	// Extra are additional bindings (cache dir, settings mounts).
	Extra []container.VolumeMount
	// Devices are host device paths to expose.
	Devices []string
	// Env are environment variables set inside the container.
	Env map[string]string
}

// FindProjectRoot walks upward from the tool's location until it finds the
// directory holding the version descriptor, which marks the project root.
func FindProjectRoot(toolPath string) (string, error) {
	dir := filepath.Dir(toolPath)
	for {
		marker := filepath.Join(dir, filepath.FromSlash(identity.VersionFileName))
		if info, err := os.Stat(marker); err == nil && !info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: no %s above %s", ErrWorkspaceUnresolved, identity.VersionFileName, toolPath)
		}
		dir = parent
	}
}

// findSuperprojectRoot walks upward from the project root looking for the
// superproject marker directory. Returns ("", false) for a standalone
// checkout.
func findSuperprojectRoot(projectRoot string) (string, bool) {
	dir := filepath.Dir(projectRoot)
	for {
		if info, err := os.Stat(filepath.Join(dir, SuperprojectMarker)); err == nil && info.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// BuildPlan computes the mount plan for the given project root.
//
// Inside a superproject the whole enclosing checkout is mounted at the
// workspace path and the working directory points at this project's
// subpath; a standalone checkout mounts just the project root with the
// working directory at the mount point. Exactly one read-write workspace
// binding is produced either way.
func BuildPlan(projectRoot string, settings *Settings, getenv func(string) string) (*Plan, error) {
	if projectRoot == "" {
		return nil, ErrWorkspaceUnresolved
	}

	plan := &Plan{
		ProjectRoot: projectRoot,
		Env:         map[string]string{},
	}

	if superRoot, ok := findSuperprojectRoot(projectRoot); ok {
		rel, err := filepath.Rel(superRoot, projectRoot)
		if err != nil {
			return nil, fmt.Errorf("%w: %s is not under superproject %s", ErrWorkspaceUnresolved, projectRoot, superRoot)
		}
		plan.Workspace = container.VolumeMount{
			HostPath:      superRoot,
			ContainerPath: ContainerWorkspacePath,
		}
		plan.WorkDir = filepath.ToSlash(filepath.Join(ContainerWorkspacePath, rel))
	} else {
		plan.Workspace = container.VolumeMount{
			HostPath:      projectRoot,
			ContainerPath: ContainerWorkspacePath,
		}
		plan.WorkDir = ContainerWorkspacePath
	}

	if cacheDir := getenv(CacheDirEnv); cacheDir != "" {
		plan.Extra = append(plan.Extra, container.VolumeMount{
			HostPath:      cacheDir,
			ContainerPath: ContainerCachePath,
		})
	}

	for _, dev := range defaultDevices {
		if _, err := os.Stat(dev); err == nil {
			plan.Devices = append(plan.Devices, dev)
		}
	}

	// UID/GID passthrough for the in-container entry script's user setup.
	plan.Env["DEVC_UID"] = fmt.Sprintf("%d", os.Getuid())
	plan.Env["DEVC_GID"] = fmt.Sprintf("%d", os.Getgid())

	if settings != nil {
		applySettings(plan, settings, getenv)
	}

	return plan, nil
}

// applySettings folds the optional per-checkout settings into the plan.
func applySettings(plan *Plan, settings *Settings, getenv func(string) string) {
	for _, m := range settings.Mounts {
		host := m.Host
		if !filepath.IsAbs(host) {
			host = filepath.Join(plan.ProjectRoot, host)
		}
		plan.Extra = append(plan.Extra, container.VolumeMount{
			HostPath:      host,
			ContainerPath: m.Container,
			ReadOnly:      m.ReadOnly,
		})
	}

	plan.Devices = append(plan.Devices, settings.Devices.Extra...)

	for _, name := range settings.Env.Passthrough {
		if v := getenv(name); v != "" {
			plan.Env[name] = v
		}
	}
}

// RunOptions assembles the fixed runtime argument set for this plan and
// image. The result backs every create/run call within one invocation.
func (p *Plan) RunOptions(imageRef string) container.RunOptions {
	mounts := make([]container.VolumeMount, 0, 1+len(p.Extra))
	mounts = append(mounts, p.Workspace)
	mounts = append(mounts, p.Extra...)

	env := make(map[string]string, len(p.Env))
	for k, v := range p.Env {
		env[k] = v
	}

	return container.RunOptions{
		Image:   imageRef,
		WorkDir: p.WorkDir,
		Mounts:  mounts,
		Devices: append([]string(nil), p.Devices...),
		Env:     env,
	}
}
