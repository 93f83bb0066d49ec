// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/bureau-foundation/appimage-runtime/lib/clock"
	"github.com/bureau-foundation/appimage-runtime/lib/squashfs"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is an existing empty directory.
	Mountpoint string

	// Image is the filesystem to serve. The caller keeps ownership and
	// closes it after the server has unmounted.
	Image *squashfs.Image

	// FsName is the source shown in /proc/mounts. Empty uses
	// "squashfs".
	FsName string

	// IdleTimeout closes Server.Idle after the filesystem has had no
	// open files and no requests for this long. Zero disables it.
	IdleTimeout time.Duration

	// Clock drives the idle timer. If nil, defaults to clock.Real().
	Clock clock.Clock

	// Logger receives diagnostic messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Server is a mounted image.
type Server struct {
	server *fuse.Server
	idle   *idleTracker

	unmountOnce sync.Once
	unmountErr  error
}

// Mount mounts options.Image at options.Mountpoint and starts serving
// it. The caller must call Unmount on the returned Server when done.
func Mount(options Options) (*Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Image == nil {
		return nil, fmt.Errorf("image is required")
	}
	if options.FsName == "" {
		options.FsName = "squashfs"
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	rootInode, err := options.Image.Root()
	if err != nil {
		return nil, fmt.Errorf("reading root directory: %w", err)
	}

	filesystem := &filesystem{
		image:  options.Image,
		logger: options.Logger,
		idle:   newIdleTracker(options.Clock, options.IdleTimeout),
	}
	root := &node{filesystem: filesystem, inode: rootInode}

	// The image never changes while mounted, so the kernel may cache
	// entries and attributes for as long as it likes.
	entryTimeout := time.Hour
	attrTimeout := time.Hour
	negativeTimeout := time.Hour

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		RootStableAttr: &gofuse.StableAttr{
			Mode: syscall.S_IFDIR,
			Ino:  uint64(rootInode.Number),
		},
		MountOptions: fuse.MountOptions{
			FsName:  options.FsName,
			Name:    "squashfs",
			Options: []string{"ro"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	filesystem.idle.start()
	options.Logger.Debug("image mounted",
		"mountpoint", options.Mountpoint,
		"inodes", options.Image.InodeCount(),
		"idle_timeout", options.IdleTimeout,
	)
	return &Server{server: server, idle: filesystem.idle}, nil
}

// Wait blocks until the filesystem is unmounted, by Unmount or from
// outside the process.
func (s *Server) Wait() {
	s.server.Wait()
}

// Unmount detaches the filesystem and stops the idle timer. It is
// safe to call more than once; later calls return the first result.
func (s *Server) Unmount() error {
	s.unmountOnce.Do(func() {
		s.idle.stop()
		s.unmountErr = s.server.Unmount()
	})
	return s.unmountErr
}

// Idle is closed when the idle timeout has elapsed. It is never closed
// when the timeout is disabled.
func (s *Server) Idle() <-chan struct{} {
	return s.idle.fired
}
