// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by the
// mount server's idle timeout.
//
// Production code takes a [Clock] and uses [Real]. Tests use [Fake],
// which only moves when [FakeClock.Advance] is called:
//
//	c := clock.Fake(time.Unix(1735689600, 0))
//	tracker := newIdleTracker(c, time.Minute, unmount)
//	c.WaitForTimers(1)
//	c.Advance(time.Minute)
package clock
