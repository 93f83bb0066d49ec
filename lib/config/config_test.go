// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Extract.WindowSize != 65536 {
		t.Errorf("expected window_size=65536, got %d", cfg.Extract.WindowSize)
	}
	if cfg.Sandbox.StoreName != "nix" {
		t.Errorf("expected store_name=nix, got %s", cfg.Sandbox.StoreName)
	}
	if cfg.Sandbox.Entrypoint != "entrypoint" {
		t.Errorf("expected entrypoint=entrypoint, got %s", cfg.Sandbox.Entrypoint)
	}
	if timeout, err := cfg.IdleTimeout(); err != nil || timeout != 0 {
		t.Errorf("expected idle timeout disabled, got %v, %v", timeout, err)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv(PathEnvironment, "")
	t.Setenv("TMPDIR", "/var/tmp/custom")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Sandbox.TempDir != "/var/tmp/custom" {
		t.Errorf("expected temp_dir from TMPDIR, got %s", cfg.Sandbox.TempDir)
	}
}

func TestLoadExpandsTempDirDefault(t *testing.T) {
	t.Setenv(PathEnvironment, "")
	t.Setenv("TMPDIR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Sandbox.TempDir != "/tmp" {
		t.Errorf("expected temp_dir=/tmp, got %s", cfg.Sandbox.TempDir)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "runtime.yaml")
	configContent := `
mount:
  idle_timeout: 90s
  fs_name: demo
sandbox:
  store_name: gnu
  readiness: true
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv(PathEnvironment, configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	timeout, err := cfg.IdleTimeout()
	if err != nil || timeout != 90*time.Second {
		t.Errorf("expected idle timeout 90s, got %v, %v", timeout, err)
	}
	if cfg.Mount.FsName != "demo" {
		t.Errorf("expected fs_name=demo, got %s", cfg.Mount.FsName)
	}
	if cfg.Sandbox.StoreName != "gnu" {
		t.Errorf("expected store_name=gnu, got %s", cfg.Sandbox.StoreName)
	}
	if !cfg.Sandbox.Readiness {
		t.Error("expected readiness=true")
	}
	// Unset fields keep their defaults.
	if cfg.Sandbox.Entrypoint != "entrypoint" {
		t.Errorf("expected entrypoint default preserved, got %s", cfg.Sandbox.Entrypoint)
	}
	if cfg.Extract.WindowSize != 65536 {
		t.Errorf("expected window_size default preserved, got %d", cfg.Extract.WindowSize)
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad duration", func(c *Config) { c.Mount.IdleTimeout = "soon" }, "mount.idle_timeout"},
		{"negative duration", func(c *Config) { c.Mount.IdleTimeout = "-1s" }, "must not be negative"},
		{"zero window", func(c *Config) { c.Extract.WindowSize = 0 }, "extract.window_size"},
		{"nested store", func(c *Config) { c.Sandbox.StoreName = "a/b" }, "sandbox.store_name"},
		{"empty entrypoint", func(c *Config) { c.Sandbox.Entrypoint = "" }, "sandbox.entrypoint"},
		{"empty temp dir", func(c *Config) { c.Sandbox.TempDir = "" }, "sandbox.temp_dir"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			cfg.Sandbox.TempDir = "/tmp"
			test.mutate(cfg)
			err := cfg.Validate()
			if test.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), test.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, test.wantErr)
			}
		})
	}
}
