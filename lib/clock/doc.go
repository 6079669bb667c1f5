// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the injectable time source for code whose behavior
// depends on elapsed time: cache expiry and the periodic sweeps that
// evict expired entries.
//
// Production code holds a [Clock] from [Real]. Tests hold a
// [FakeClock] from [Fake], which stands still until Advance is called:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	cache := ttlcache.New[string, int](time.Minute, ttlcache.WithClock(fake))
//	fake.Advance(2 * time.Minute) // everything cached is now expired
package clock
