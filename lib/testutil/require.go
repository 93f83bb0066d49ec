// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"time"
)

// TB is the part of testing.TB the helpers need.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive returns the next value from ch. It fails the test if
// nothing arrives within timeout or ch is closed first; what describes
// the wait in the failure message.
//
//	err := testutil.RequireReceive(t, served, 10*time.Second, "waiting for unmount")
func RequireReceive[T any](t TB, ch <-chan T, timeout time.Duration, what string) T {
	t.Helper()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed without a value: %s", what)
		}
		return value
	case <-time.After(timeout):
		t.Fatalf("timed out after %v: %s", timeout, what)
	}
	panic("unreachable")
}

// RequireClosed waits for ch to be closed or to yield a value. Use it
// for signal channels such as a server's Idle.
//
//	testutil.RequireClosed(t, server.Idle(), 10*time.Second, "waiting for idle signal")
func RequireClosed(t TB, ch <-chan struct{}, timeout time.Duration, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("timed out after %v waiting for channel close: %s", timeout, what)
	}
}
