// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"testing"
	"time"
)

// recorder captures Fatalf instead of stopping the test. Fatalf panics
// so the helper stops where testing.T.Fatalf would.
type recorder struct {
	message string
}

type fatal struct{}

func (r *recorder) Helper() {}

func (r *recorder) Fatalf(format string, args ...any) {
	r.message = fmt.Sprintf(format, args...)
	panic(fatal{})
}

func capture(f func()) (failed bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			if _, ok := recovered.(fatal); !ok {
				panic(recovered)
			}
			failed = true
		}
	}()
	f()
	return false
}

func TestRequireReceive(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 7
	if got := RequireReceive(t, ch, time.Second, "value"); got != 7 {
		t.Errorf("RequireReceive = %d, want 7", got)
	}

	var r recorder
	if !capture(func() { RequireReceive(&r, make(chan int), time.Millisecond, "nothing") }) {
		t.Fatal("RequireReceive did not fail on timeout")
	}
	if r.message != "timed out after 1ms: nothing" {
		t.Errorf("message = %q", r.message)
	}

	closed := make(chan int)
	close(closed)
	if !capture(func() { RequireReceive(&r, closed, time.Second, "closed") }) {
		t.Fatal("RequireReceive did not fail on a closed channel")
	}
}

func TestRequireClosed(t *testing.T) {
	done := make(chan struct{})
	close(done)
	RequireClosed(t, done, time.Second, "closed")

	var r recorder
	if !capture(func() { RequireClosed(&r, make(chan struct{}), time.Millisecond, "open") }) {
		t.Fatal("RequireClosed did not fail on timeout")
	}
}
