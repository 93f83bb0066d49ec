// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mountsession mounts a bundle's payload in a helper process
// and keeps it mounted exactly as long as someone needs it.
//
// The parent ([Start]) creates a private mount directory and a pipe,
// then starts this binary again in the "mount" stage with the pipe's
// write end as fd 3. The helper ([Serve], reached through [ServeMain])
// opens the image, mounts it, and only then starts writing filler
// bytes into the pipe. The parent blocks on a one-byte read: a byte
// means the mount is live, EOF means the helper gave up and already
// told the user why.
//
// The write loop is the lifetime contract. It blocks once the pipe
// buffer fills and fails when the last read end closes, at which point
// the helper unmounts, removes the mount directory and exits. The
// parent either closes its read end ([Session.Close]) or, on the
// default run path, marks it inheritable ([Session.Inherit]) and execs
// the application, so the mount lives until the application and every
// process that inherited the descriptor are gone.
//
// An optional idle timeout unmounts earlier when nothing has touched
// the filesystem for a while and no file is open.
package mountsession
