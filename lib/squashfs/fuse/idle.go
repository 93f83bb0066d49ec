// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"sync"
	"time"

	"github.com/bureau-foundation/appimage-runtime/lib/clock"
)

// idleTracker closes fired once the filesystem has gone timeout
// without a request while no file was open. A zero timeout never
// fires.
type idleTracker struct {
	clock   clock.Clock
	timeout time.Duration
	fired   chan struct{}

	mu       sync.Mutex
	open     int
	last     time.Time
	timer    *clock.Timer
	finished bool
}

func newIdleTracker(c clock.Clock, timeout time.Duration) *idleTracker {
	return &idleTracker{
		clock:   c,
		timeout: timeout,
		fired:   make(chan struct{}),
	}
}

func (t *idleTracker) start() {
	if t.timeout <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = t.clock.Now()
	t.timer = t.clock.AfterFunc(t.timeout, t.check)
}

func (t *idleTracker) touch() {
	if t.timeout <= 0 {
		return
	}
	now := t.clock.Now()
	t.mu.Lock()
	t.last = now
	t.mu.Unlock()
}

func (t *idleTracker) opened() {
	if t.timeout <= 0 {
		return
	}
	t.mu.Lock()
	t.open++
	t.mu.Unlock()
}

func (t *idleTracker) released() {
	if t.timeout <= 0 {
		return
	}
	now := t.clock.Now()
	t.mu.Lock()
	if t.open > 0 {
		t.open--
	}
	t.last = now
	t.mu.Unlock()
}

// check runs when the timer expires. It fires, or re-arms for the
// remainder of the timeout measured from the last activity.
func (t *idleTracker) check() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}

	wait := t.timeout
	if t.open == 0 {
		wait = t.timeout - t.clock.Now().Sub(t.last)
		if wait <= 0 {
			t.finished = true
			close(t.fired)
			return
		}
	}
	t.timer = t.clock.AfterFunc(wait, t.check)
}

func (t *idleTracker) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finished = true
	if t.timer != nil {
		t.timer.Stop()
	}
}
