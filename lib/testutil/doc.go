// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] wrap the timeout safety valve
// pattern (select with a time.After fallback) so that tests waiting on
// a mount helper or a FUSE server do not hang forever when it never
// answers. These are the only real wall-clock timeouts in the test
// suite; idle timers are driven by the fake clock in lib/clock.
package testutil
