// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package activation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/appimage-runtime/lib/process"
)

// defaultTempBase is used when TMPDIR is unset or empty.
const defaultTempBase = "/tmp"

// selfExecutable is the bundle when TARGET_APPIMAGE is unset.
var selfExecutable = "/proc/self/exe"

// Environment is the part of the process environment that steers
// activation.
type Environment struct {
	// TargetAppImage is TARGET_APPIMAGE: operate on this file instead
	// of the running executable.
	TargetAppImage string

	// TempBase is TMPDIR, or /tmp.
	TempBase string

	// ExtractAndRun is set by APPIMAGE_EXTRACT_AND_RUN.
	ExtractAndRun bool

	// Verbose is set by VERBOSE and lists extracted paths in
	// extract-and-run mode.
	Verbose bool

	// NoCleanup is set by NO_CLEANUP and keeps the extract-and-run
	// cache after the application exits.
	NoCleanup bool
}

// LoadEnvironment reads the activation variables through lookup,
// normally os.LookupEnv. Flag variables count as set whatever their
// value, including empty.
func LoadEnvironment(lookup func(string) (string, bool)) Environment {
	environment := Environment{TempBase: defaultTempBase}
	if value, ok := lookup("TARGET_APPIMAGE"); ok {
		environment.TargetAppImage = value
	}
	if value, ok := lookup("TMPDIR"); ok && value != "" {
		environment.TempBase = value
	}
	_, environment.ExtractAndRun = lookup("APPIMAGE_EXTRACT_AND_RUN")
	_, environment.Verbose = lookup("VERBOSE")
	_, environment.NoCleanup = lookup("NO_CLEANUP")
	return environment
}

// Bundle identifies the file an invocation operates on.
type Bundle struct {
	// Path is opened to read the payload: TARGET_APPIMAGE, or
	// /proc/self/exe.
	Path string

	// FullPath is the bundle's absolute, symlink-free path, exported
	// as APPIMAGE.
	FullPath string

	// Argv0 is exported as ARGV0: TARGET_APPIMAGE when set, otherwise
	// how this process was invoked.
	Argv0 string
}

// ResolveBundle determines the bundle for an invocation whose
// os.Args[0] is argv0.
func ResolveBundle(environment Environment, argv0 string) (Bundle, error) {
	if environment.TargetAppImage != "" {
		absolute, err := filepath.Abs(environment.TargetAppImage)
		if err != nil {
			return Bundle{}, fmt.Errorf("resolving %s: %w", environment.TargetAppImage, err)
		}
		resolved, err := filepath.EvalSymlinks(absolute)
		if err != nil {
			return Bundle{}, fmt.Errorf("resolving %s: %w", environment.TargetAppImage, err)
		}
		return Bundle{
			Path:     environment.TargetAppImage,
			FullPath: resolved,
			Argv0:    environment.TargetAppImage,
		}, nil
	}

	resolved, err := os.Readlink(selfExecutable)
	if err != nil {
		return Bundle{}, fmt.Errorf("resolving the running executable: %w", err)
	}
	return Bundle{Path: selfExecutable, FullPath: resolved, Argv0: argv0}, nil
}

// PortableHome is the sibling directory used as HOME.
func (b Bundle) PortableHome() string { return b.FullPath + ".home" }

// PortableConfig is the sibling directory used as XDG_CONFIG_HOME.
func (b Bundle) PortableConfig() string { return b.FullPath + ".config" }

// applicationEnvironment returns base without the re-exec stage marker
// and with APPIMAGE, ARGV0 and APPDIR set for the application.
func applicationEnvironment(base []string, bundle Bundle, appDir string) []string {
	environment := process.StripStage(base)
	environment = setenv(environment, "APPIMAGE", bundle.FullPath)
	environment = setenv(environment, "ARGV0", bundle.Argv0)
	environment = setenv(environment, "APPDIR", appDir)
	return environment
}

// setenv replaces or appends key=value in environment.
func setenv(environment []string, key, value string) []string {
	prefix := key + "="
	for i, entry := range environment {
		if strings.HasPrefix(entry, prefix) {
			environment[i] = prefix + value
			return environment
		}
	}
	return append(environment, prefix+value)
}

// writableDirectory reports whether path is a directory this process
// may create files in.
func writableDirectory(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	return unix.Access(path, unix.W_OK) == nil
}
