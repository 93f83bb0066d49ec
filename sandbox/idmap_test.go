// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// fakeProc points procRoot at a directory holding empty map files for
// pid 42, except those named in missing.
func fakeProc(t *testing.T, missing ...string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "42")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	skip := make(map[string]bool)
	for _, name := range missing {
		skip[name] = true
	}
	for _, name := range []string{"setgroups", "uid_map", "gid_map"} {
		if skip[name] {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	previous := procRoot
	procRoot = root
	t.Cleanup(func() { procRoot = previous })
	return dir
}

func readMap(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestWriteIDMaps(t *testing.T) {
	dir := fakeProc(t)

	if err := WriteIDMaps(42, 1000, 100); err != nil {
		t.Fatalf("WriteIDMaps: %v", err)
	}
	for name, want := range map[string]string{
		"setgroups": "deny",
		"uid_map":   "1000 1000 1\n",
		"gid_map":   "100 100 1\n",
	} {
		if got := readMap(t, dir, name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestWriteIDMapsDeniesSetgroupsFirst(t *testing.T) {
	dir := fakeProc(t, "setgroups")

	err := WriteIDMaps(42, 1000, 100)
	var setupErr *NamespaceSetupError
	if !errors.As(err, &setupErr) || setupErr.Step != "write setgroups" {
		t.Fatalf("WriteIDMaps error = %v, want a write setgroups NamespaceSetupError", err)
	}
	if got := readMap(t, dir, "uid_map"); got != "" {
		t.Errorf("uid_map written before setgroups was denied: %q", got)
	}
	if got := readMap(t, dir, "gid_map"); got != "" {
		t.Errorf("gid_map written before setgroups was denied: %q", got)
	}
}
