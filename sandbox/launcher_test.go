// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bureau-foundation/appimage-runtime/lib/process"
)

// TestMain runs the namespace child when Run re-executes the test
// binary.
func TestMain(m *testing.M) {
	if process.Stage() == Stage {
		os.Exit(EnterMain(os.Args[1:], os.Stderr, nil))
	}
	os.Exit(m.Run())
}

// testCapabilities caches capability detection across tests.
var testCapabilities *Capabilities

func skipIfNoSandbox(t *testing.T) {
	t.Helper()
	if testCapabilities == nil {
		testCapabilities = DetectCapabilities()
		t.Logf("Sandbox capabilities: userns=%v restricted=%v",
			testCapabilities.UserNamespacesEnabled,
			testCapabilities.MountsRestricted)
	}
	if reason := testCapabilities.SkipReason(); reason != "" {
		t.Skipf("Skipping sandbox test: %s", reason)
	}
}

const entrypointScript = `#!/bin/sh
cat /nix/marker
pwd -P
echo "ARGS=$*"
echo "STAGE=${APPIMAGE_RUNTIME_STAGE:-unset}"
id -u
id -g
LC_ALL=C ls -A /
exit 5
`

// writeBundleDir creates a directory laid out like an unpacked bundle:
// a store with a marker file and an entrypoint script.
func writeBundleDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "nix", "store"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "nix", "marker"), []byte("from the bundle store\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "entrypoint"), []byte(entrypointScript), 0o755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func runSandbox(t *testing.T, config Config, argv ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	config.Stdin = strings.NewReader("")
	config.Stdout = &stdout
	config.Stderr = &stderr

	launcher, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	status, err := launcher.Run(context.Background(), argv)
	var setupErr *NamespaceSetupError
	if errors.As(err, &setupErr) && setupErr.Step == "create namespaces" {
		t.Skipf("Skipping sandbox test: %v", err)
	}
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status == process.ExitExecError && strings.Contains(stderr.String(), "operation not permitted") {
		t.Skipf("Skipping sandbox test: namespace child may not mount: %s", stderr.String())
	}
	return status, stdout.String(), stderr.String()
}

func TestRunInCompositeRoot(t *testing.T) {
	skipIfNoSandbox(t)
	bundleDir := writeBundleDir(t)
	tempDir := t.TempDir()

	status, stdout, stderr := runSandbox(t, Config{BundleDir: bundleDir, TempDir: tempDir},
		"launcher", "one", "two words")
	if status != 5 {
		t.Fatalf("status %d, want 5; stderr: %s", status, stderr)
	}

	workingDirectory, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	workingDirectory, err = filepath.EvalSymlinks(workingDirectory)
	if err != nil {
		t.Fatal(err)
	}
	// The composite root holds every host top-level entry with the
	// bundle's store in place of the host's.
	hostEntries, err := os.ReadDir("/")
	if err != nil {
		t.Fatal(err)
	}
	rootListing := []string{"nix"}
	for _, entry := range hostEntries {
		if entry.Name() != "nix" {
			rootListing = append(rootListing, entry.Name())
		}
	}
	sort.Strings(rootListing)

	want := strings.Join(append([]string{
		"from the bundle store",
		workingDirectory,
		"ARGS=one two words",
		"STAGE=unset",
		strconv.Itoa(os.Getuid()),
		strconv.Itoa(os.Getgid()),
	}, rootListing...), "\n") + "\n"
	if diff := cmp.Diff(want, stdout); diff != "" {
		t.Errorf("entrypoint output (-want +got):\n%s", diff)
	}

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("composite root not removed: %s", entries[0].Name())
	}
}

func TestRunReportsReadiness(t *testing.T) {
	skipIfNoSandbox(t)
	ready := false
	status, _, stderr := runSandbox(t, Config{
		BundleDir: writeBundleDir(t),
		TempDir:   t.TempDir(),
		Readiness: true,
		OnReady:   func() { ready = true },
	}, "launcher")
	if status != 5 {
		t.Fatalf("status %d, want 5; stderr: %s", status, stderr)
	}
	if !ready {
		t.Error("OnReady was not called")
	}
}

func TestRunMissingEntrypoint(t *testing.T) {
	skipIfNoSandbox(t)
	bundleDir := writeBundleDir(t)
	if err := os.Remove(filepath.Join(bundleDir, "entrypoint")); err != nil {
		t.Fatal(err)
	}

	status, _, stderr := runSandbox(t, Config{BundleDir: bundleDir, TempDir: t.TempDir()}, "launcher")
	if status != process.ExitExecError {
		t.Errorf("status %d, want %d", status, process.ExitExecError)
	}
	if !strings.Contains(stderr, "exec "+filepath.Join(bundleDir, "entrypoint")) {
		t.Errorf("stderr = %q, want the failed exec reported", stderr)
	}
}

func TestRunMissingTempDir(t *testing.T) {
	launcher, err := New(Config{
		BundleDir: t.TempDir(),
		TempDir:   filepath.Join(t.TempDir(), "absent"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	status, err := launcher.Run(context.Background(), []string{"launcher"})
	if status != process.ExitExecError {
		t.Errorf("status %d, want %d", status, process.ExitExecError)
	}
	var setupErr *NamespaceSetupError
	if !errors.As(err, &setupErr) || setupErr.Step != "create root" {
		t.Fatalf("Run error = %v, want a create root NamespaceSetupError", err)
	}
}

func TestNewDefaults(t *testing.T) {
	launcher, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	executable, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	executable, err = filepath.EvalSymlinks(executable)
	if err != nil {
		t.Fatal(err)
	}
	config := launcher.config
	if config.BundleDir != filepath.Dir(executable) {
		t.Errorf("BundleDir = %q, want %q", config.BundleDir, filepath.Dir(executable))
	}
	if config.StoreName != "nix" || config.Entrypoint != "entrypoint" || config.TempDir == "" {
		t.Errorf("defaults not applied: store %q entrypoint %q temp %q",
			config.StoreName, config.Entrypoint, config.TempDir)
	}
}

func TestRunRequiresArguments(t *testing.T) {
	launcher, err := New(Config{BundleDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	status, err := launcher.Run(context.Background(), nil)
	if err == nil || status != process.ExitExecError {
		t.Errorf("Run(nil argv) = %d, %v; want %d and an error", status, err, process.ExitExecError)
	}
}

func TestEnterMainRejectsIncompleteArguments(t *testing.T) {
	var stderr bytes.Buffer
	if status := EnterMain([]string{"--root", "/r"}, &stderr, nil); status != process.ExitExecError {
		t.Errorf("status %d, want %d", status, process.ExitExecError)
	}
	if !strings.Contains(stderr.String(), "--bundle-dir") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRunExplainsNamespaceFailures(t *testing.T) {
	const reason = "unprivileged user namespaces not enabled (set kernel.unprivileged_userns_clone=1)"
	previousDetect := detectCapabilities
	detectCapabilities = func() *Capabilities { return &Capabilities{} }
	t.Cleanup(func() { detectCapabilities = previousDetect })
	// An empty proc directory makes the id map writes fail when the
	// namespace child does start.
	previousProc := procRoot
	procRoot = t.TempDir()
	t.Cleanup(func() { procRoot = previousProc })

	launcher, err := New(Config{
		BundleDir: writeBundleDir(t),
		TempDir:   t.TempDir(),
		Stdin:     strings.NewReader(""),
		Stdout:    &bytes.Buffer{},
		Stderr:    &bytes.Buffer{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	status, err := launcher.Run(context.Background(), []string{"launcher"})
	if status != process.ExitExecError {
		t.Errorf("status %d, want %d", status, process.ExitExecError)
	}
	var setupErr *NamespaceSetupError
	if !errors.As(err, &setupErr) {
		t.Fatalf("Run error = %v, want a NamespaceSetupError", err)
	}
	if setupErr.Step != "create namespaces" && setupErr.Step != "write setgroups" {
		t.Errorf("Step = %q, want create namespaces or write setgroups", setupErr.Step)
	}
	if setupErr.Hint != reason {
		t.Errorf("Hint = %q, want %q", setupErr.Hint, reason)
	}
	if !strings.HasSuffix(err.Error(), "("+reason+")") {
		t.Errorf("Error() = %q, want the reason appended", err.Error())
	}
}

func TestNamespaceSetupErrorFormatting(t *testing.T) {
	base := errors.New("operation not permitted")
	tests := []struct {
		err  *NamespaceSetupError
		want string
	}{
		{&NamespaceSetupError{Step: "chroot", Err: base}, "chroot: operation not permitted"},
		{&NamespaceSetupError{Step: "mount tmpfs", Path: "/tmp/root", Err: base}, "mount tmpfs /tmp/root: operation not permitted"},
		{
			&NamespaceSetupError{Step: "create namespaces", Err: base, Hint: "userns disabled"},
			"create namespaces: operation not permitted (userns disabled)",
		},
	}
	for _, test := range tests {
		if got := test.err.Error(); got != test.want {
			t.Errorf("Error() = %q, want %q", got, test.want)
		}
		if !errors.Is(test.err, base) {
			t.Errorf("%q does not unwrap to the cause", test.err.Error())
		}
	}
}
