// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mountsession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/moby/sys/mountinfo"

	"github.com/bureau-foundation/appimage-runtime/lib/process"
)

// Stage is the re-exec stage name of the mount helper.
const Stage = "mount"

// keepAliveFD is where the helper finds the pipe's write end:
// ExtraFiles[0] lands right after stdin, stdout and stderr.
const keepAliveFD = 3

// ErrMountUnavailable means the payload could not be mounted, most
// often because FUSE is missing or not permitted on this host. The
// helper has already written a diagnostic to stderr.
var ErrMountUnavailable = errors.New("cannot mount AppImage, please check your FUSE setup")

// Options configures a mount session.
type Options struct {
	// ImagePath is the bundle file holding the payload.
	ImagePath string

	// Offset is where the payload starts in ImagePath.
	Offset int64

	// TempBase is the directory the mount directory is created in.
	TempBase string

	// Argv0 names the session: the mount directory carries a prefix
	// of its base name, and the helper runs with it as os.Args[0].
	Argv0 string

	// IdleTimeout unmounts after this long without activity and with
	// no open files. Zero disables it.
	IdleTimeout time.Duration

	// FsName is the source shown in /proc/mounts. Empty uses
	// ImagePath.
	FsName string

	// Stderr receives the helper's diagnostics. If nil, os.Stderr.
	Stderr io.Writer

	// Logger receives diagnostic messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Session is a live mount owned by a helper process.
type Session struct {
	dir       string
	command   *exec.Cmd
	keepAlive *os.File
	logger    *slog.Logger
}

// Start mounts the payload in a helper process and returns once the
// mount is live. If the helper fails to mount, Start reaps it, removes
// the mount directory, and returns an error wrapping
// ErrMountUnavailable. Cancelling ctx while Start waits kills the
// helper.
func Start(ctx context.Context, options Options) (*Session, error) {
	if options.ImagePath == "" {
		return nil, fmt.Errorf("image path is required")
	}
	if options.TempBase == "" {
		options.TempBase = os.TempDir()
	}
	if options.Argv0 == "" {
		options.Argv0 = options.ImagePath
	}
	if options.FsName == "" {
		options.FsName = options.ImagePath
	}
	if options.Stderr == nil {
		options.Stderr = os.Stderr
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	logger := options.Logger

	dir, err := CreateMountDir(options.TempBase, options.Argv0)
	if err != nil {
		return nil, err
	}

	reader, writer, err := os.Pipe()
	if err != nil {
		os.Remove(dir)
		return nil, fmt.Errorf("creating keep-alive pipe: %w", err)
	}

	command := process.SelfCommand(Stage, options.Argv0,
		"--image", options.ImagePath,
		"--offset", strconv.FormatInt(options.Offset, 10),
		"--mountpoint", dir,
		"--idle-timeout", options.IdleTimeout.String(),
		"--fs-name", options.FsName,
		"--keep-alive-fd", strconv.Itoa(keepAliveFD),
	)
	command.ExtraFiles = []*os.File{writer}
	command.Stderr = options.Stderr
	// The helper outlives a terminal hangup or Ctrl-C aimed at the
	// parent; it goes away when the keep-alive pipe does.
	command.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := command.Start(); err != nil {
		writer.Close()
		reader.Close()
		os.Remove(dir)
		return nil, fmt.Errorf("starting mount helper: %w", err)
	}
	writer.Close()
	logger.Debug("mount helper started", "pid", command.Process.Pid, "mountpoint", dir)

	if err := awaitMounted(ctx, reader, command); err != nil {
		reader.Close()
		command.Wait()
		os.Remove(dir)
		return nil, fmt.Errorf("%w: %v", ErrMountUnavailable, err)
	}

	mounted, err := mountinfo.Mounted(dir)
	if err != nil || !mounted {
		reader.Close()
		command.Wait()
		os.Remove(dir)
		if err == nil {
			err = fmt.Errorf("%s is not a mount point", dir)
		}
		return nil, fmt.Errorf("%w: %v", ErrMountUnavailable, err)
	}

	logger.Debug("payload mounted", "mountpoint", dir)
	return &Session{dir: dir, command: command, keepAlive: reader, logger: logger}, nil
}

// awaitMounted blocks until the helper writes its first byte.
func awaitMounted(ctx context.Context, reader *os.File, command *exec.Cmd) error {
	result := make(chan error, 1)
	go func() {
		var ready [1]byte
		_, err := io.ReadFull(reader, ready[:])
		result <- err
	}()

	select {
	case err := <-result:
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("mount helper exited before mounting")
		}
		return err
	case <-ctx.Done():
		command.Process.Kill()
		<-result
		return ctx.Err()
	}
}

// Dir returns the mount directory.
func (s *Session) Dir() string { return s.dir }

// Inherit makes the keep-alive read end survive the next exec of this
// process, handing the mount's lifetime to the exec'd program.
func (s *Session) Inherit() error {
	return process.InheritAcrossExec(s.keepAlive)
}

// Close drops this process's read end of the keep-alive pipe and waits
// for the helper to unmount and exit. The wait lasts as long as any
// other process still holds the read end.
func (s *Session) Close() error {
	closeErr := s.keepAlive.Close()
	waitErr := s.command.Wait()
	s.logger.Debug("mount helper exited", "mountpoint", s.dir, "state", s.command.ProcessState.String())
	if closeErr != nil {
		return fmt.Errorf("closing keep-alive pipe: %w", closeErr)
	}
	if waitErr != nil {
		return fmt.Errorf("mount helper for %s: %w", s.dir, waitErr)
	}
	return nil
}
