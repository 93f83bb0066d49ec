// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Appimage-runtime is the executable stub at the front of a bundle. The
// bundle file is this binary with a squashfs image appended; the stub
// finds the image at the end of its own ELF data and either mounts it
// with FUSE and execs the AppRun inside, or acts on an --appimage-*
// directive (extract, extract-and-run, mount, offset, portable home
// and config, help, version).
//
// The same binary serves as the FUSE mount helper: mount sessions
// start it again with APPIMAGE_RUNTIME_STAGE=mount.
package main
