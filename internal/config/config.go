// SPDX-License-Identifier: MPL-2.0

// Package config loads the global tool configuration. Settings come from
// an optional YAML file plus DEVC_-prefixed environment overrides; a
// missing config file is not an error, the defaults apply.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"devc-cli/internal/issue"
)

const (
	// AppName is the application name, used for the config directory.
	AppName = "devc"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "yaml"

	// EnvPrefix is the prefix for environment variable overrides
	// (DEVC_ENGINE, DEVC_IMAGE_REPO, DEVC_CACHE_DIR, DEVC_VERBOSE).
	EnvPrefix = "DEVC"
)

// Config is the resolved global configuration.
type Config struct {
	// Engine is the preferred container engine: "docker", "podman", or ""
	// for auto-detection.
	Engine string `mapstructure:"engine"`
	// ImageRepo is the image repository the version tag is appended to.
	ImageRepo string `mapstructure:"image_repo"`
	// CacheDir is a host directory mounted read-write at the container's
	// cache path when set.
	CacheDir string `mapstructure:"cache_dir"`
	// Verbose enables debug-level log output.
	Verbose bool `mapstructure:"verbose"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine:    "",
		ImageRepo: "ghcr.io/devc-infra/dev-env",
		CacheDir:  "",
		Verbose:   false,
	}
}

// LoadOptions control where Load looks for configuration.
type LoadOptions struct {
	// ConfigFilePath, when set, is used exclusively and must exist.
	ConfigFilePath string
	// ConfigDirPath overrides the platform config directory.
	ConfigDirPath string
}

// ConfigDir returns the devc configuration directory using platform
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application
// Support, and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	// Allow tests to override the config directory
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default: // Linux and others
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// Load resolves the configuration from defaults, the config file, and
// DEVC_-prefixed environment variables, in ascending precedence. It
// returns the config and the path of the file it was loaded from ("" when
// only defaults and environment applied).
func Load(opts LoadOptions) (*Config, string, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("engine", defaults.Engine)
	v.SetDefault("image_repo", defaults.ImageRepo)
	v.SetDefault("cache_dir", defaults.CacheDir)
	v.SetDefault("verbose", defaults.Verbose)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	resolvedPath := ""

	if opts.ConfigFilePath != "" {
		// An explicit --config path is used exclusively and must exist.
		if !fileExists(opts.ConfigFilePath) {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Check that the file exists and is readable").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		v.SetConfigFile(opts.ConfigFilePath)
		if err := v.ReadInConfig(); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Check that the file contains valid YAML").
				WithSuggestion("Verify the configuration keys match the expected names").
				Wrap(err).
				BuildError()
		}
		resolvedPath = opts.ConfigFilePath
	} else {
		cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
		if err != nil {
			return nil, "", err
		}

		cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
		if fileExists(cfgPath) {
			v.SetConfigFile(cfgPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, "", issue.NewErrorContext().
					WithOperation("load configuration").
					WithResource(cfgPath).
					WithSuggestion("Check that the file contains valid YAML").
					WithSuggestion("Verify the configuration keys match the expected names").
					Wrap(err).
					BuildError()
			}
			resolvedPath = cfgPath
		}
		// No config file found: defaults plus environment apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validateEngine(cfg.Engine); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithSuggestion("Set engine to \"docker\", \"podman\", or leave it unset for auto-detection").
			Wrap(err).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit load options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}

	return ConfigDir()
}

// validateEngine checks the engine preference against the known backends.
func validateEngine(engine string) error {
	switch engine {
	case "", "docker", "podman":
		return nil
	default:
		return fmt.Errorf("unknown container engine %q", engine)
	}
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
