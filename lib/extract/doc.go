// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package extract materializes a squashfs image, or the part of it
// selected by a glob pattern, into a host directory.
//
// Extraction is a single depth-first pass. Regular files that share an
// inode inside the image become hardlinks of the first copy written
// during the same run, so a hardlinked payload costs one copy on disk.
// Without Overwrite, a regular file whose destination already exists
// with the recorded size is left alone; a warm cache directory is
// re-validated without copying any data.
//
// Symbolic links are recreated as links. A symlink that cannot be
// created is logged and skipped; every other I/O failure aborts the
// extraction with an [*Error]. Device nodes, fifos and sockets cannot
// be created unprivileged and are skipped.
//
// [RemoveTree] is the matching cleanup: it removes an extracted tree
// without following symlinks out of it and without descending into
// filesystems mounted inside it.
package extract
