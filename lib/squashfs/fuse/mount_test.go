// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bureau-foundation/appimage-runtime/lib/clock"
	"github.com/bureau-foundation/appimage-runtime/lib/squashfs"
	"github.com/bureau-foundation/appimage-runtime/lib/squashfs/squashfstest"
	"github.com/bureau-foundation/appimage-runtime/lib/testutil"
)

// fuseAvailable checks whether /dev/fuse is accessible. Tests that
// need a real FUSE mount call this and skip if the device is absent.
func fuseAvailable(t *testing.T) {
	t.Helper()
	_, err := os.Stat("/dev/fuse")
	if err != nil {
		t.Skip("skipping: /dev/fuse not available")
	}
}

// testMount builds an image from builder, mounts it, and returns the
// mountpoint. The mount is removed when the test completes.
func testMount(t *testing.T, builder *squashfstest.Builder) string {
	t.Helper()
	mountpoint, _ := testMountWithOptions(t, builder, Options{})
	return mountpoint
}

// testMountWithOptions is testMount with Mountpoint and Image filled
// into options.
func testMountWithOptions(t *testing.T, builder *squashfstest.Builder, options Options) (string, *Server) {
	t.Helper()
	fuseAvailable(t)

	data := builder.MustBuild(t)
	image, err := squashfs.NewImage(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}

	mountpoint := t.TempDir()
	options.Mountpoint = mountpoint
	options.Image = image
	server, err := Mount(options)
	if err != nil {
		// /dev/fuse can exist in containers that still forbid
		// mounting it.
		t.Skipf("skipping: cannot mount FUSE: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Unmount(); err != nil {
			t.Errorf("Unmount: %v", err)
		}
	})
	return mountpoint, server
}

func sampleBuilder() *squashfstest.Builder {
	return squashfstest.New().
		File("AppRun", 0o755, []byte("#!/bin/sh\n")).
		File("usr/lib/big", 0o644, bytes.Repeat([]byte("0123456789abcdef"), 2000)).
		Hardlink("usr/lib/big-again", "usr/lib/big").
		Symlink("usr/lib/alias", "big").
		Dir("var", 0o700)
}

func TestMountListsImageRoot(t *testing.T) {
	mountpoint := testMount(t, sampleBuilder())

	entries, err := os.ReadDir(mountpoint)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	if diff := cmp.Diff([]string{"AppRun", "usr", "var"}, names); diff != "" {
		t.Errorf("root listing (-want +got):\n%s", diff)
	}

	info, err := os.Stat(filepath.Join(mountpoint, "var"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !info.IsDir() || info.Mode().Perm() != 0o700 {
		t.Errorf("var mode = %v, want drwx------", info.Mode())
	}
}

func TestMountReadsFiles(t *testing.T) {
	mountpoint := testMount(t, sampleBuilder())

	got, err := os.ReadFile(filepath.Join(mountpoint, "usr/lib/big"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := bytes.Repeat([]byte("0123456789abcdef"), 2000)
	if !bytes.Equal(got, want) {
		t.Errorf("content mismatch: got %d bytes, want %d", len(got), len(want))
	}

	info, err := os.Stat(filepath.Join(mountpoint, "AppRun"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o755 || info.Size() != int64(len("#!/bin/sh\n")) {
		t.Errorf("AppRun: mode %v size %d", info.Mode(), info.Size())
	}
}

func TestMountSymlinksAndHardlinks(t *testing.T) {
	mountpoint := testMount(t, sampleBuilder())

	target, err := os.Readlink(filepath.Join(mountpoint, "usr/lib/alias"))
	if err != nil || target != "big" {
		t.Errorf("Readlink = %q, %v; want big", target, err)
	}

	first, err := os.Stat(filepath.Join(mountpoint, "usr/lib/big"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	second, err := os.Stat(filepath.Join(mountpoint, "usr/lib/big-again"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !os.SameFile(first, second) {
		t.Error("hardlinked entries have different inodes")
	}
	if links := first.Sys().(*syscall.Stat_t).Nlink; links != 2 {
		t.Errorf("Nlink = %d, want 2", links)
	}
}

func TestMountIsReadOnly(t *testing.T) {
	mountpoint := testMount(t, sampleBuilder())

	err := os.WriteFile(filepath.Join(mountpoint, "AppRun"), []byte("x"), 0o755)
	if !errors.Is(err, syscall.EROFS) {
		t.Errorf("writing existing file: %v, want EROFS", err)
	}
	err = os.WriteFile(filepath.Join(mountpoint, "new"), []byte("x"), 0o644)
	if !errors.Is(err, syscall.EROFS) {
		t.Errorf("creating file: %v, want EROFS", err)
	}
	if _, err := os.Stat(filepath.Join(mountpoint, "missing")); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Stat missing: %v, want not exist", err)
	}
}

func TestMountStatfs(t *testing.T) {
	mountpoint := testMount(t, sampleBuilder())

	var stat syscall.Statfs_t
	if err := syscall.Statfs(mountpoint, &stat); err != nil {
		t.Fatalf("Statfs: %v", err)
	}
	if stat.Bsize != 4096 {
		t.Errorf("Bsize = %d, want 4096", stat.Bsize)
	}
	if stat.Files == 0 || stat.Blocks == 0 {
		t.Errorf("Statfs reported an empty filesystem: %+v", stat)
	}
}

func TestMountRequiresImage(t *testing.T) {
	if _, err := Mount(Options{Mountpoint: t.TempDir()}); err == nil {
		t.Error("Mount accepted options without an image")
	}
	if _, err := Mount(Options{}); err == nil {
		t.Error("Mount accepted options without a mountpoint")
	}
}

func TestMountSignalsIdle(t *testing.T) {
	fake := clock.Fake(testEpoch)
	mountpoint, server := testMountWithOptions(t, sampleBuilder(), Options{
		IdleTimeout: time.Minute,
		Clock:       fake,
	})

	if _, err := os.Stat(filepath.Join(mountpoint, "AppRun")); err != nil {
		t.Fatalf("Stat: %v", err)
	}
	fake.WaitForTimers(1)
	fake.Advance(2 * time.Minute)

	testutil.RequireClosed(t, server.Idle(), 10*time.Second, "waiting for idle signal")
}
