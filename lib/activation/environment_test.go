// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package activation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bureau-foundation/appimage-runtime/lib/process"
)

func mapLookup(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestLoadEnvironment(t *testing.T) {
	got := LoadEnvironment(mapLookup(nil))
	if diff := cmp.Diff(Environment{TempBase: "/tmp"}, got); diff != "" {
		t.Errorf("empty environment (-want +got):\n%s", diff)
	}

	got = LoadEnvironment(mapLookup(map[string]string{
		"TARGET_APPIMAGE":          "/opt/app.AppImage",
		"TMPDIR":                   "/scratch",
		"APPIMAGE_EXTRACT_AND_RUN": "",
		"VERBOSE":                  "0",
		"NO_CLEANUP":               "",
	}))
	want := Environment{
		TargetAppImage: "/opt/app.AppImage",
		TempBase:       "/scratch",
		ExtractAndRun:  true,
		Verbose:        true,
		NoCleanup:      true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("full environment (-want +got):\n%s", diff)
	}

	got = LoadEnvironment(mapLookup(map[string]string{"TMPDIR": ""}))
	if got.TempBase != "/tmp" {
		t.Errorf("empty TMPDIR: TempBase = %q, want /tmp", got.TempBase)
	}
}

func TestResolveBundleTarget(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.AppImage")
	if err := os.WriteFile(target, nil, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("real.AppImage", filepath.Join(dir, "link.AppImage")); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	bundle, err := ResolveBundle(Environment{TargetAppImage: "link.AppImage"}, "ignored")
	if err != nil {
		t.Fatalf("ResolveBundle: %v", err)
	}
	resolvedReal, err := filepath.EvalSymlinks(target)
	if err != nil {
		t.Fatal(err)
	}
	want := Bundle{Path: "link.AppImage", FullPath: resolvedReal, Argv0: "link.AppImage"}
	if diff := cmp.Diff(want, bundle); diff != "" {
		t.Errorf("bundle (-want +got):\n%s", diff)
	}
	if bundle.PortableHome() != resolvedReal+".home" || bundle.PortableConfig() != resolvedReal+".config" {
		t.Errorf("portable directories: %s, %s", bundle.PortableHome(), bundle.PortableConfig())
	}

	if _, err := ResolveBundle(Environment{TargetAppImage: filepath.Join(dir, "absent")}, "x"); err == nil {
		t.Error("ResolveBundle accepted a missing target")
	}
}

func TestResolveBundleSelf(t *testing.T) {
	bundle, err := ResolveBundle(Environment{}, "./invoked-as")
	if err != nil {
		t.Fatalf("ResolveBundle: %v", err)
	}
	executable, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	if bundle.Path != "/proc/self/exe" || bundle.FullPath != executable || bundle.Argv0 != "./invoked-as" {
		t.Errorf("bundle = %+v, executable %s", bundle, executable)
	}
}

func TestApplicationEnvironment(t *testing.T) {
	base := []string{
		"PATH=/usr/bin",
		"APPDIR=/stale",
		process.StageEnvironment + "=mount",
	}
	bundle := Bundle{Path: "/proc/self/exe", FullPath: "/opt/app.AppImage", Argv0: "app"}

	got := applicationEnvironment(base, bundle, "/tmp/.mount_appXXXXXX")
	want := []string{
		"PATH=/usr/bin",
		"APPDIR=/tmp/.mount_appXXXXXX",
		"APPIMAGE=/opt/app.AppImage",
		"ARGV0=app",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("environment (-want +got):\n%s", diff)
	}
	if base[1] != "APPDIR=/stale" {
		t.Errorf("base environment was modified: %q", base)
	}
}

func TestWritableDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if !writableDirectory(dir) {
		t.Error("temp dir not reported writable")
	}
	if writableDirectory(file) {
		t.Error("regular file reported as a writable directory")
	}
	if writableDirectory(filepath.Join(dir, "absent")) {
		t.Error("missing path reported as a writable directory")
	}
}
