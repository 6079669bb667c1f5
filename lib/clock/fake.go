// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Fake returns a FakeClock reading initial until advanced.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.tickersChanged = sync.NewCond(&clock.mutex)
	return clock
}

// FakeClock is a deterministic Clock for tests. It is safe for
// concurrent use.
type FakeClock struct {
	mutex          sync.Mutex
	current        time.Time
	tickers        []*fakeTicker
	tickersChanged *sync.Cond
}

// fakeTicker is a pending ticker, or a one-shot timer when interval
// is zero.
type fakeTicker struct {
	next     time.Time
	interval time.Duration
	channel  chan time.Time
	stopped  bool
}

// Now returns the fake time.
func (clock *FakeClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

// After returns a channel that receives once Advance reaches d past
// the current time.
func (clock *FakeClock) After(d time.Duration) <-chan time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- clock.current
		return channel
	}
	clock.tickers = append(clock.tickers, &fakeTicker{next: clock.current.Add(d), channel: channel})
	clock.tickersChanged.Broadcast()
	return channel
}

// NewTicker registers a ticker that fires as Advance crosses each
// interval boundary.
func (clock *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	clock.mutex.Lock()
	defer clock.mutex.Unlock()

	ticker := &fakeTicker{
		next:     clock.current.Add(d),
		interval: d,
		channel:  make(chan time.Time, 1),
	}
	clock.tickers = append(clock.tickers, ticker)
	clock.tickersChanged.Broadcast()
	return &Ticker{
		C: ticker.channel,
		stop: func() {
			clock.mutex.Lock()
			defer clock.mutex.Unlock()
			ticker.stopped = true
		},
	}
}

// Advance moves the clock forward by d. Each live ticker fires once
// per interval boundary crossed; ticks that find the channel full are
// dropped.
func (clock *FakeClock) Advance(d time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()

	clock.current = clock.current.Add(d)
	live := clock.tickers[:0]
	for _, ticker := range clock.tickers {
		if ticker.stopped {
			continue
		}
		if ticker.interval == 0 {
			if !ticker.next.After(clock.current) {
				ticker.channel <- ticker.next
				continue
			}
			live = append(live, ticker)
			continue
		}
		for !ticker.next.After(clock.current) {
			select {
			case ticker.channel <- ticker.next:
			default:
			}
			ticker.next = ticker.next.Add(ticker.interval)
		}
		live = append(live, ticker)
	}
	clock.tickers = live
}

// WaitForTimers blocks until at least n tickers or pending After
// timers are registered, so a test can advance the clock only after a
// goroutine has started waiting.
func (clock *FakeClock) WaitForTimers(n int) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	for clock.liveLocked() < n {
		clock.tickersChanged.Wait()
	}
}

func (clock *FakeClock) liveLocked() int {
	count := 0
	for _, ticker := range clock.tickers {
		if !ticker.stopped {
			count++
		}
	}
	return count
}
