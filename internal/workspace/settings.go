// SPDX-License-Identifier: MPL-2.0

package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// SettingsFileName is the optional per-checkout settings file, looked up
// at the project root.
const SettingsFileName = "devc.toml"

type (
	// Settings is the optional per-checkout configuration for the mount
	// planner: extra bind mounts, device exposures, and names of host
	// environment variables to pass through into the container.
	Settings struct {
		Mounts  []MountSetting `toml:"mounts"`
		Devices DeviceSettings `toml:"devices"`
		Env     EnvSettings    `toml:"env"`
	}

	// MountSetting is one extra bind mount. A relative host path is
	// resolved against the project root.
	MountSetting struct {
		Host      string `toml:"host"`
		Container string `toml:"container"`
		ReadOnly  bool   `toml:"readonly"`
	}

	// DeviceSettings lists extra host devices to expose.
	DeviceSettings struct {
		Extra []string `toml:"extra"`
	}

	// EnvSettings lists host environment variable names whose values are
	// passed through to the container.
	EnvSettings struct {
		Passthrough []string `toml:"passthrough"`
	}
)

// LoadSettings reads the settings file at the project root. A missing file
// is not an error: it returns (nil, nil) and the planner uses defaults.
func LoadSettings(projectRoot string) (*Settings, error) {
	path := filepath.Join(projectRoot, SettingsFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}

	var s Settings
	if err := toml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return &s, nil
}
