// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mountsession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/appimage-runtime/lib/clock"
	"github.com/bureau-foundation/appimage-runtime/lib/process"
	"github.com/bureau-foundation/appimage-runtime/lib/squashfs"
	"github.com/bureau-foundation/appimage-runtime/lib/squashfs/fuse"
)

// Diagnostic is written to stderr when the payload cannot be mounted.
const Diagnostic = `
Cannot mount AppImage, please check your FUSE setup.
You might still be able to extract the contents of this AppImage 
if you run it with the --appimage-extract option. 
See https://github.com/AppImage/AppImageKit/wiki/FUSE 
for more information
`

// fillerSize is how many bytes each keep-alive write carries.
const fillerSize = 32

// ServeOptions configures the helper side of a session.
type ServeOptions struct {
	ImagePath   string
	Offset      int64
	Mountpoint  string
	IdleTimeout time.Duration
	FsName      string

	// KeepAlive is the pipe's write end. Once the mount is live Serve
	// writes to it until a write fails, then unmounts. Nil serves
	// until ctx is done or the idle timeout fires.
	KeepAlive io.Writer

	// Clock drives the idle timer. If nil, defaults to clock.Real().
	Clock clock.Clock

	// Stderr receives Diagnostic. If nil, os.Stderr.
	Stderr io.Writer

	// Logger receives diagnostic messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Serve mounts the image, serves it until the keep-alive pipe breaks,
// ctx is done, the idle timeout fires, or the filesystem is unmounted
// from outside, then unmounts and removes the mount directory. A
// failed mount writes Diagnostic and returns an error wrapping
// ErrMountUnavailable.
func Serve(ctx context.Context, options ServeOptions) error {
	if options.Stderr == nil {
		options.Stderr = os.Stderr
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	logger := options.Logger

	image, err := squashfs.Open(options.ImagePath, options.Offset)
	if err != nil {
		return fmt.Errorf("opening payload: %w", err)
	}
	defer image.Close()

	server, err := fuse.Mount(fuse.Options{
		Mountpoint:  options.Mountpoint,
		Image:       image,
		FsName:      options.FsName,
		IdleTimeout: options.IdleTimeout,
		Clock:       options.Clock,
		Logger:      logger,
	})
	if err != nil {
		fmt.Fprint(options.Stderr, Diagnostic)
		return fmt.Errorf("%w: %v", ErrMountUnavailable, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if options.KeepAlive != nil {
		go keepAlive(options.KeepAlive, cancel, logger)
	}

	unmounted := make(chan struct{})
	go func() {
		server.Wait()
		close(unmounted)
	}()

	select {
	case <-ctx.Done():
		logger.Debug("unmounting", "mountpoint", options.Mountpoint, "reason", context.Cause(ctx))
	case <-server.Idle():
		logger.Debug("unmounting", "mountpoint", options.Mountpoint, "reason", "idle timeout")
	case <-unmounted:
		logger.Debug("unmounted externally", "mountpoint", options.Mountpoint)
	}

	if err := server.Unmount(); err != nil {
		select {
		case <-unmounted:
		default:
			return fmt.Errorf("unmounting %s: %w", options.Mountpoint, err)
		}
	}
	<-unmounted

	if err := os.Remove(options.Mountpoint); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing mount directory: %w", err)
	}
	return nil
}

// keepAlive writes filler into the pipe until the last reader goes
// away, then cancels the session.
func keepAlive(writer io.Writer, cancel context.CancelFunc, logger *slog.Logger) {
	filler := make([]byte, fillerSize)
	for {
		if _, err := writer.Write(filler); err != nil {
			logger.Debug("keep-alive pipe closed", "error", err)
			cancel()
			return
		}
	}
}

// ServeMain is the entry point of the mount helper stage. args are the
// helper's command-line arguments without os.Args[0]. It returns the
// process exit status.
func ServeMain(args []string, logger *slog.Logger) int {
	flags := pflag.NewFlagSet(Stage, pflag.ContinueOnError)
	imagePath := flags.String("image", "", "bundle file holding the payload")
	offset := flags.Int64("offset", 0, "byte offset of the payload in the bundle")
	mountpoint := flags.String("mountpoint", "", "directory to mount on")
	idleTimeout := flags.Duration("idle-timeout", 0, "unmount after this long without activity (0 disables)")
	fsName := flags.String("fs-name", "", "source shown in /proc/mounts")
	keepAliveFD := flags.Int("keep-alive-fd", -1, "descriptor of the keep-alive pipe's write end (-1 for none)")
	if err := flags.Parse(args); err != nil {
		logger.Error("invalid mount helper arguments", "error", err)
		return process.ExitExecError
	}
	if *imagePath == "" || *mountpoint == "" {
		logger.Error("mount helper needs --image and --mountpoint")
		return process.ExitExecError
	}

	options := ServeOptions{
		ImagePath:   *imagePath,
		Offset:      *offset,
		Mountpoint:  *mountpoint,
		IdleTimeout: *idleTimeout,
		FsName:      *fsName,
		Logger:      logger,
	}
	if *keepAliveFD >= 0 {
		keepAlive, err := keepAliveFile(*keepAliveFD)
		if err != nil {
			logger.Error("keep-alive descriptor is not open", "fd", *keepAliveFD, "error", err)
			return process.ExitExecError
		}
		options.KeepAlive = keepAlive
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer stop()

	if err := Serve(ctx, options); err != nil {
		logger.Error("mount helper failed", "mountpoint", *mountpoint, "error", err)
		return process.ExitExecError
	}
	return 0
}

// keepAliveFile adopts the inherited keep-alive descriptor and marks it
// close-on-exec, so nothing the helper starts holds the pipe open.
func keepAliveFile(fd int) (*os.File, error) {
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		return nil, fmt.Errorf("keep-alive descriptor %d: %w", fd, err)
	}
	return os.NewFile(uintptr(fd), "keep-alive"), nil
}
