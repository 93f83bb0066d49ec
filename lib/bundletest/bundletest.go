// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bundletest writes complete bundle files for tests: a minimal
// ELF stub followed by a squashfs payload.
package bundletest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/appimage-runtime/lib/elfsize/elfsizetest"
	"github.com/bureau-foundation/appimage-runtime/lib/squashfs/squashfstest"
)

// Bundle is a bundle file written by Write.
type Bundle struct {
	// Path is the absolute path of the bundle file.
	Path string

	// Offset is where the payload starts.
	Offset int64

	// Size is the length of the whole file.
	Size int64
}

// Write renders payload behind an ELF stub and writes it, mode 0755,
// as name in a new temporary directory.
func Write(t testing.TB, name string, payload *squashfstest.Builder) Bundle {
	t.Helper()
	stub := elfsizetest.Stub()
	image := payload.MustBuild(t)

	path := filepath.Join(t.TempDir(), name)
	data := append(append([]byte{}, stub...), image...)
	if err := os.WriteFile(path, data, 0o755); err != nil {
		t.Fatalf("writing bundle: %v", err)
	}
	return Bundle{Path: path, Offset: int64(len(stub)), Size: int64(len(data))}
}

// ShellAppRun returns a payload whose AppRun is a /bin/sh script with
// the given body.
func ShellAppRun(body string) *squashfstest.Builder {
	return squashfstest.New().
		File("AppRun", 0o755, []byte("#!/bin/sh\n"+body+"\n"))
}
