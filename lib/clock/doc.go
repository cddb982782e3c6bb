// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the injectable time source for the webtrack
// pipeline.
//
// Every component that schedules work (the queue's auto-flush timer,
// the tracker's periodic flush, the idle scheduler's fallback timer,
// the sandbox script deadline) takes a [Clock] instead of calling the
// time package. Production code passes [Real]; tests pass [Fake] and
// move time forward explicitly:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	store := queue.New(queue.DefaultConfig(), c, logger)
//	store.Start()
//	c.Advance(5 * time.Second) // fires the auto-flush synchronously
//
// AfterFunc callbacks on a [FakeClock] run synchronously inside
// Advance, in deadline order. A callback may register new timers
// (re-arming is how periodic work is expressed), but it must not call
// Advance.
//
// When a timer is registered from another goroutine, use
// [FakeClock.WaitForTimers] before advancing so the registration is
// not raced.
package clock
