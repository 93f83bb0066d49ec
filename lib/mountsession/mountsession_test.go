// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mountsession

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/appimage-runtime/lib/clock"
	"github.com/bureau-foundation/appimage-runtime/lib/process"
	"github.com/bureau-foundation/appimage-runtime/lib/squashfs/squashfstest"
	"github.com/bureau-foundation/appimage-runtime/lib/testutil"
)

// TestMain runs the mount helper when Start re-executes the test
// binary in the mount stage.
func TestMain(m *testing.M) {
	if process.Stage() == Stage {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		os.Exit(ServeMain(os.Args[1:], logger))
	}
	os.Exit(m.Run())
}

// fuseAvailable checks whether /dev/fuse is accessible. Tests that
// need a real FUSE mount call this and skip if the device is absent.
func fuseAvailable(t *testing.T) {
	t.Helper()
	_, err := os.Stat("/dev/fuse")
	if err != nil {
		t.Skip("skipping: /dev/fuse not available")
	}
}

// writeBundle writes a payload image behind a 4000-byte prefix and
// returns the path and the payload offset.
func writeBundle(t *testing.T) (string, int64) {
	t.Helper()
	prefix := bytes.Repeat([]byte{0x7f}, 4000)
	path := squashfstest.New().
		File("AppRun", 0o755, []byte("#!/bin/sh\n")).
		File("share/greeting", 0o644, []byte("hello from the payload\n")).
		WriteFile(t, prefix)
	return path, int64(len(prefix))
}

var mountDirPattern = regexp.MustCompile(`^\.mount_[^/]{0,6}[A-Za-z0-9]{6}$`)

func TestCreateMountDir(t *testing.T) {
	base := t.TempDir()

	dir, err := CreateMountDir(base, "/opt/apps/Some-Application.AppImage")
	if err != nil {
		t.Fatalf("CreateMountDir: %v", err)
	}
	if filepath.Dir(dir) != base {
		t.Errorf("created %s outside %s", dir, base)
	}
	name := filepath.Base(dir)
	if !strings.HasPrefix(name, ".mount_Some-A") || !mountDirPattern.MatchString(name) {
		t.Errorf("unexpected mount directory name %q", name)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !info.IsDir() || info.Mode().Perm() != 0o700 {
		t.Errorf("mode = %v, want drwx------", info.Mode())
	}
}

func TestCreateMountDirShortNameAndUniqueness(t *testing.T) {
	base := t.TempDir()
	seen := make(map[string]bool)
	for range 50 {
		dir, err := CreateMountDir(base, "ab")
		if err != nil {
			t.Fatalf("CreateMountDir: %v", err)
		}
		name := filepath.Base(dir)
		if len(name) != len(".mount_ab")+6 || !strings.HasPrefix(name, ".mount_ab") {
			t.Errorf("unexpected mount directory name %q", name)
		}
		if seen[name] {
			t.Fatalf("name %q returned twice", name)
		}
		seen[name] = true
	}
}

func TestCreateMountDirMissingBase(t *testing.T) {
	_, err := CreateMountDir(filepath.Join(t.TempDir(), "absent"), "app")
	if err == nil {
		t.Fatal("expected an error for a missing temp base")
	}
}

func TestStartReportsUnavailableWhenHelperFails(t *testing.T) {
	base := t.TempDir()
	var stderr bytes.Buffer

	_, err := Start(context.Background(), Options{
		ImagePath: filepath.Join(t.TempDir(), "missing.AppImage"),
		TempBase:  base,
		Argv0:     "missing",
		Stderr:    &stderr,
	})
	if !errors.Is(err, ErrMountUnavailable) {
		t.Fatalf("Start error = %v, want ErrMountUnavailable", err)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("mount directory left behind: %v", entries[0].Name())
	}
}

func TestStartMountsAndCloseUnmounts(t *testing.T) {
	fuseAvailable(t)
	bundle, offset := writeBundle(t)

	session, err := Start(context.Background(), Options{
		ImagePath: bundle,
		Offset:    offset,
		TempBase:  t.TempDir(),
		Argv0:     "bundle",
	})
	if errors.Is(err, ErrMountUnavailable) {
		t.Skipf("skipping: cannot mount FUSE: %v", err)
	}
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(session.Dir(), "share/greeting"))
	if err != nil {
		session.Close()
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello from the payload\n" {
		t.Errorf("greeting = %q", got)
	}

	if err := session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(session.Dir()); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("mount directory still present after Close: %v", err)
	}
}

// serveInBackground runs Serve and returns a channel carrying its
// result. It skips the test if the mount fails.
func serveInBackground(t *testing.T, options ServeOptions) (<-chan error, *os.File) {
	t.Helper()
	fuseAvailable(t)

	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	t.Cleanup(func() {
		reader.Close()
		writer.Close()
	})
	options.KeepAlive = writer

	// Either the first keep-alive byte or a Serve failure, whichever
	// comes first.
	events := make(chan error, 2)
	served := make(chan error, 1)
	go func() {
		err := Serve(context.Background(), options)
		served <- err
		if err != nil {
			events <- err
		}
	}()
	go func() {
		var ready [1]byte
		if _, err := reader.Read(ready[:]); err == nil {
			events <- nil
		}
	}()

	if err := testutil.RequireReceive(t, events, 10*time.Second, "waiting for mount"); err != nil {
		if errors.Is(err, ErrMountUnavailable) {
			t.Skipf("skipping: cannot mount FUSE: %v", err)
		}
		t.Fatalf("Serve: %v", err)
	}
	return served, reader
}

func TestServeUnmountsWhenKeepAliveCloses(t *testing.T) {
	bundle, offset := writeBundle(t)
	mountpoint := t.TempDir()

	served, reader := serveInBackground(t, ServeOptions{
		ImagePath:  bundle,
		Offset:     offset,
		Mountpoint: mountpoint,
	})

	if _, err := os.Stat(filepath.Join(mountpoint, "AppRun")); err != nil {
		t.Errorf("AppRun not visible in the mount: %v", err)
	}

	reader.Close()
	if err := testutil.RequireReceive(t, served, 10*time.Second, "waiting for unmount"); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if _, err := os.Stat(mountpoint); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("mount directory still present: %v", err)
	}
}

func TestServeUnmountsWhenIdle(t *testing.T) {
	bundle, offset := writeBundle(t)
	mountpoint := t.TempDir()
	fake := clock.Fake(time.Unix(1735689600, 0))

	served, _ := serveInBackground(t, ServeOptions{
		ImagePath:   bundle,
		Offset:      offset,
		Mountpoint:  mountpoint,
		IdleTimeout: time.Minute,
		Clock:       fake,
	})

	fake.WaitForTimers(1)
	fake.Advance(time.Minute)

	if err := testutil.RequireReceive(t, served, 10*time.Second, "waiting for idle unmount"); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if _, err := os.Stat(mountpoint); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("mount directory still present: %v", err)
	}
}

func TestServeMountFailureWritesDiagnostic(t *testing.T) {
	bundle, offset := writeBundle(t)
	var stderr bytes.Buffer

	err := Serve(context.Background(), ServeOptions{
		ImagePath:  bundle,
		Offset:     offset,
		Mountpoint: filepath.Join(t.TempDir(), "absent"),
		Stderr:     &stderr,
	})
	if !errors.Is(err, ErrMountUnavailable) {
		t.Fatalf("Serve error = %v, want ErrMountUnavailable", err)
	}
	if !strings.Contains(stderr.String(), "Cannot mount AppImage, please check your FUSE setup.") {
		t.Errorf("diagnostic missing from stderr: %q", stderr.String())
	}
	if !strings.Contains(stderr.String(), "--appimage-extract") {
		t.Errorf("extract hint missing from stderr: %q", stderr.String())
	}
}

func TestServeBadImage(t *testing.T) {
	var stderr bytes.Buffer
	err := Serve(context.Background(), ServeOptions{
		ImagePath:  filepath.Join(t.TempDir(), "absent"),
		Mountpoint: t.TempDir(),
		Stderr:     &stderr,
	})
	if err == nil || errors.Is(err, ErrMountUnavailable) {
		t.Fatalf("Serve error = %v, want an image error", err)
	}
	if stderr.Len() != 0 {
		t.Errorf("unexpected diagnostic for an unreadable image: %q", stderr.String())
	}
}

func TestServeMainArguments(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	if status := ServeMain(nil, logger); status != process.ExitExecError {
		t.Errorf("no arguments: status %d, want %d", status, process.ExitExecError)
	}
	if status := ServeMain([]string{"--bogus"}, logger); status != process.ExitExecError {
		t.Errorf("unknown flag: status %d, want %d", status, process.ExitExecError)
	}
	status := ServeMain([]string{"--image", "x", "--mountpoint", t.TempDir(), "--keep-alive-fd", "987"}, logger)
	if status != process.ExitExecError {
		t.Errorf("closed keep-alive fd: status %d, want %d", status, process.ExitExecError)
	}
}

func TestKeepAliveFileSetsCloseOnExec(t *testing.T) {
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	defer writer.Close()

	// Dup without O_CLOEXEC, as an inherited descriptor arrives.
	fd, err := unix.Dup(int(writer.Fd()))
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	if flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil || flags&unix.FD_CLOEXEC != 0 {
		t.Fatalf("dup flags = %#x, %v; want close-on-exec clear", flags, err)
	}

	keepAlive, err := keepAliveFile(fd)
	if err != nil {
		t.Fatalf("keepAliveFile: %v", err)
	}
	defer keepAlive.Close()
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		t.Fatalf("F_GETFD: %v", err)
	}
	if flags&unix.FD_CLOEXEC == 0 {
		t.Error("keep-alive descriptor is inherited across exec")
	}

	if _, err := keepAliveFile(987); err == nil {
		t.Error("keepAliveFile accepted a closed descriptor")
	}
}
