// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClockNow(t *testing.T) {
	t.Parallel()

	clock := Fake(epoch)
	if got := clock.Now(); !got.Equal(epoch) {
		t.Errorf("Now() = %v, want %v", got, epoch)
	}
	clock.Advance(90 * time.Second)
	if got := clock.Now(); !got.Equal(epoch.Add(90 * time.Second)) {
		t.Errorf("Now() after Advance = %v", got)
	}
}

func TestFakeTickerFiresPerInterval(t *testing.T) {
	t.Parallel()

	clock := Fake(epoch)
	ticker := clock.NewTicker(10 * time.Second)
	defer ticker.Stop()

	clock.Advance(9 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("ticker fired before its interval")
	default:
	}

	clock.Advance(time.Second)
	select {
	case tick := <-ticker.C:
		if !tick.Equal(epoch.Add(10 * time.Second)) {
			t.Errorf("tick = %v", tick)
		}
	default:
		t.Fatal("ticker did not fire at its interval")
	}

	// Crossing several boundaries leaves one tick buffered.
	clock.Advance(35 * time.Second)
	<-ticker.C
	select {
	case <-ticker.C:
		t.Error("ticks queued beyond channel capacity")
	default:
	}
}

func TestFakeTickerStop(t *testing.T) {
	t.Parallel()

	clock := Fake(epoch)
	ticker := clock.NewTicker(time.Second)
	ticker.Stop()
	clock.Advance(5 * time.Second)
	select {
	case <-ticker.C:
		t.Error("stopped ticker fired")
	default:
	}
}

func TestWaitForTimers(t *testing.T) {
	t.Parallel()

	clock := Fake(epoch)
	started := make(chan *Ticker)
	go func() { started <- clock.NewTicker(time.Minute) }()
	clock.WaitForTimers(1)
	ticker := <-started
	clock.Advance(time.Minute)
	<-ticker.C
}

func TestNewTickerPanicsOnNonPositive(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("NewTicker(0) did not panic")
		}
	}()
	Fake(epoch).NewTicker(0)
}

func TestFakeAfter(t *testing.T) {
	t.Parallel()

	clock := Fake(epoch)
	immediate := clock.After(0)
	select {
	case <-immediate:
	default:
		t.Error("After(0) did not fire immediately")
	}

	later := clock.After(time.Second)
	clock.Advance(500 * time.Millisecond)
	select {
	case <-later:
		t.Fatal("After fired early")
	default:
	}
	clock.Advance(500 * time.Millisecond)
	select {
	case <-later:
	default:
		t.Fatal("After did not fire")
	}
	clock.Advance(time.Hour)
	select {
	case <-later:
		t.Error("After fired twice")
	default:
	}
}
