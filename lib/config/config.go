// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PathEnvironment names the environment variable holding the config
// file path.
const PathEnvironment = "APPIMAGE_RUNTIME_CONFIG"

// Config is the runtime configuration.
type Config struct {
	// Mount configures the FUSE mount server.
	Mount MountConfig `yaml:"mount"`

	// Extract configures payload extraction.
	Extract ExtractConfig `yaml:"extract"`

	// Sandbox configures the composite-root launcher.
	Sandbox SandboxConfig `yaml:"sandbox"`
}

// MountConfig configures the FUSE mount server.
type MountConfig struct {
	// IdleTimeout unmounts the image after it has been idle, with no
	// open files, for this long. Empty or "0" disables it; the mount
	// then lives exactly as long as its keep-alive pipe.
	IdleTimeout string `yaml:"idle_timeout"`

	// FsName is the filesystem name shown in /proc/mounts. Empty uses
	// the image path.
	FsName string `yaml:"fs_name"`
}

// ExtractConfig configures payload extraction.
type ExtractConfig struct {
	// WindowSize is the copy buffer size in bytes.
	// Default: 65536
	WindowSize int `yaml:"window_size"`
}

// SandboxConfig configures the composite-root launcher.
type SandboxConfig struct {
	// StoreName is the directory next to the launcher that is bound
	// over the same name in the composite root, and the root entry
	// that is not bound from the host.
	// Default: nix
	StoreName string `yaml:"store_name"`

	// Entrypoint is the program next to the launcher that is exec'd
	// inside the composite root.
	// Default: entrypoint
	Entrypoint string `yaml:"entrypoint"`

	// Readiness makes the child report success to the parent right
	// before it execs the entrypoint.
	Readiness bool `yaml:"readiness"`

	// TempDir is where the composite root mount point is created.
	// ${TMPDIR:-/tmp} style references are expanded.
	// Default: ${TMPDIR:-/tmp}
	TempDir string `yaml:"temp_dir"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Mount: MountConfig{
			IdleTimeout: "",
		},
		Extract: ExtractConfig{
			WindowSize: 64 * 1024,
		},
		Sandbox: SandboxConfig{
			StoreName:  "nix",
			Entrypoint: "entrypoint",
			TempDir:    "${TMPDIR:-/tmp}",
		},
	}
}

// Load loads the file named by APPIMAGE_RUNTIME_CONFIG, or returns the
// defaults when the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(PathEnvironment)
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile merges the YAML file at path over the defaults, expands
// variables, and validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// IdleTimeout parses Mount.IdleTimeout. Zero means disabled.
func (c *Config) IdleTimeout() (time.Duration, error) {
	value := strings.TrimSpace(c.Mount.IdleTimeout)
	if value == "" || value == "0" {
		return 0, nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("mount.idle_timeout: %w", err)
	}
	return duration, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if duration, err := c.IdleTimeout(); err != nil {
		errs = append(errs, err)
	} else if duration < 0 {
		errs = append(errs, fmt.Errorf("mount.idle_timeout must not be negative, got %s", c.Mount.IdleTimeout))
	}
	if c.Extract.WindowSize <= 0 {
		errs = append(errs, fmt.Errorf("extract.window_size must be positive, got %d", c.Extract.WindowSize))
	}
	if c.Sandbox.StoreName == "" || strings.Contains(c.Sandbox.StoreName, "/") {
		errs = append(errs, fmt.Errorf("sandbox.store_name must be a single path component, got %q", c.Sandbox.StoreName))
	}
	if c.Sandbox.Entrypoint == "" || strings.Contains(c.Sandbox.Entrypoint, "/") {
		errs = append(errs, fmt.Errorf("sandbox.entrypoint must be a single path component, got %q", c.Sandbox.Entrypoint))
	}
	if c.Sandbox.TempDir == "" {
		errs = append(errs, fmt.Errorf("sandbox.temp_dir is required"))
	}

	return errors.Join(errs...)
}

func (c *Config) expandVariables() {
	c.Sandbox.TempDir = expandVars(c.Sandbox.TempDir)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}
