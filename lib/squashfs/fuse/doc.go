// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fuse serves a squashfs image as a read-only FUSE filesystem.
//
// The tree is the image's own: every directory, regular file, symlink,
// device node, fifo and socket appears with the permissions, owner and
// modification time recorded in its inode. Inode numbers are the
// image's, so hardlinked entries share one kernel inode.
//
// # Read Path
//
// Lookups and listings decode directory tables on demand. Reads of a
// regular file resolve the requested range to data blocks and
// fragments through [squashfs.Image.ReadAt]; the image caches
// decompressed blocks, and opens return FOPEN_KEEP_CACHE since the
// content never changes under a mount.
//
// # Write Path
//
// None. Opening for write and Create return EROFS, and the mount is
// made with the "ro" option so the kernel rejects everything else
// before it reaches the server.
//
// # Idle Timeout
//
// With [Options.IdleTimeout] set, the server tracks the last request
// and the number of open files. [Server.Idle] is closed once nothing
// has been open and no request has arrived for the timeout; the owner
// of the mount decides what to do about it (normally Unmount).
package fuse
