// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package activation decides what a bundle invocation does and does
// it.
//
// The first command-line argument that starts with "--" is the
// directive. Directives in the "--appimage-" namespace select an
// action: print the payload offset, extract the payload, extract it
// into a cache and run it, mount it and wait, create portable
// directories, or print help or version information. Any other
// directive, or none at all, takes the default path: mount the payload
// and exec its AppRun with the original arguments.
//
// The contained application always sees the same environment
// additions: APPIMAGE (absolute path of the bundle), ARGV0 (how it was
// invoked), and APPDIR (root of the mounted or extracted tree). The
// default path adds OWD and, when the sibling directories exist and
// are writable, HOME and XDG_CONFIG_HOME.
//
// Exit status 127 ([process.ExitExecError]) is reserved for failures
// of the runtime itself. Every other status is the application's own.
package activation
