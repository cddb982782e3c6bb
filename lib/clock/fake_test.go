// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNowAndSince(t *testing.T) {
	c := Fake(epoch)
	c.Advance(5 * time.Second)
	if got := c.Now(); !got.Equal(epoch.Add(5 * time.Second)) {
		t.Fatalf("Now() = %v", got)
	}
	if got := c.Since(epoch); got != 5*time.Second {
		t.Fatalf("Since(epoch) = %v, want 5s", got)
	}
}

func TestFakeAfterFiresOnlyAtDeadline(t *testing.T) {
	c := Fake(epoch)
	channel := c.After(3 * time.Second)

	c.Advance(2 * time.Second)
	select {
	case <-channel:
		t.Fatal("After fired early")
	default:
	}

	c.Advance(time.Second)
	select {
	case <-channel:
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeAfterNonPositiveIsReady(t *testing.T) {
	c := Fake(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) should be ready immediately")
	}
}

func TestFakeAfterFuncRunsDuringAdvance(t *testing.T) {
	c := Fake(epoch)
	calls := 0
	c.AfterFunc(time.Second, func() { calls++ })

	c.Advance(999 * time.Millisecond)
	if calls != 0 {
		t.Fatalf("callback ran early")
	}
	c.Advance(time.Millisecond)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	c.Advance(time.Hour)
	if calls != 1 {
		t.Fatalf("one-shot callback ran again: calls = %d", calls)
	}
}

func TestFakeAfterFuncStop(t *testing.T) {
	c := Fake(epoch)
	calls := 0
	timer := c.AfterFunc(time.Second, func() { calls++ })

	if !timer.Stop() {
		t.Fatal("Stop on a pending timer should return true")
	}
	if timer.Stop() {
		t.Fatal("second Stop should return false")
	}
	c.Advance(time.Minute)
	if calls != 0 {
		t.Fatal("stopped timer fired")
	}
}

func TestFakeAfterFuncReset(t *testing.T) {
	c := Fake(epoch)
	calls := 0
	timer := c.AfterFunc(time.Second, func() { calls++ })
	c.Advance(time.Second)

	if timer.Reset(2 * time.Second) {
		t.Fatal("Reset after firing should report inactive")
	}
	c.Advance(time.Second)
	if calls != 1 {
		t.Fatalf("calls = %d before reset deadline, want 1", calls)
	}
	c.Advance(time.Second)
	if calls != 2 {
		t.Fatalf("calls = %d after reset deadline, want 2", calls)
	}
}

// A callback that re-arms itself is how periodic work is expressed on
// top of AfterFunc; a long Advance must fire each period once.
func TestFakeAfterFuncRearmWithinAdvance(t *testing.T) {
	c := Fake(epoch)
	calls := 0
	var arm func()
	arm = func() {
		c.AfterFunc(time.Second, func() {
			calls++
			arm()
		})
	}
	arm()

	c.Advance(3 * time.Second)
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if c.PendingCount() != 1 {
		t.Fatalf("PendingCount = %d, want 1 (the re-armed timer)", c.PendingCount())
	}
}

func TestFakeTicker(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(time.Second)

	c.Advance(time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not tick")
	}

	ticker.Stop()
	c.Advance(5 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker ticked")
	default:
	}
}

func TestFakeTickerPanicsOnNonPositive(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("NewTicker(0) did not panic")
		}
	}()
	Fake(epoch).NewTicker(0)
}

func TestFakeCallbacksFireInDeadlineOrder(t *testing.T) {
	c := Fake(epoch)
	var order []int
	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	c.Advance(10 * time.Second)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order = %v, want [1 2 3]", order)
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})
	go func() {
		<-c.After(time.Second)
		close(done)
	}()

	c.WaitForTimers(1)
	c.Advance(time.Second)
	<-done
}

func TestImplementations(t *testing.T) {
	var _ Clock = Real()
	var _ Clock = Fake(epoch)
}
