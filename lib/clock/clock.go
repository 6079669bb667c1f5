// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations used by the studio.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the time once d has
	// elapsed. If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker delivering ticks every d. Panics if
	// d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers periodic ticks on C. Call Stop when done.
//
// C has capacity 1: a consumer that falls behind misses ticks rather
// than queueing them.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns off the ticker. Stop does not close C.
func (ticker *Ticker) Stop() { ticker.stop() }
