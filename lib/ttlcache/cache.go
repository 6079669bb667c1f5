// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

// Package ttlcache is an in-process cache whose entries expire after a
// fixed time-to-live, with concurrent loads of the same key collapsed
// into one.
//
// The chat server keeps one agent runtime per model name in a Cache:
// overlapping requests for a cold model wait on a single construction
// instead of each building their own.
package ttlcache

import (
	"context"
	"sync"
	"time"

	"github.com/agentstudio/studio/lib/clock"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// call is a load in progress. done is closed once value and err are
// set.
type call[V any] struct {
	done  chan struct{}
	value V
	err   error
}

// Cache maps keys to values that expire ttl after being stored. It is
// safe for concurrent use.
type Cache[K comparable, V any] struct {
	ttl   time.Duration
	clock clock.Clock

	mutex    sync.Mutex
	entries  map[K]entry[V]
	inflight map[K]*call[V]
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	clock clock.Clock
}

// WithClock replaces the real clock.
func WithClock(source clock.Clock) Option {
	return func(options *options) { options.clock = source }
}

// New creates a Cache whose entries live for ttl. A non-positive ttl
// means entries never expire.
func New[K comparable, V any](ttl time.Duration, opts ...Option) *Cache[K, V] {
	settings := options{clock: clock.Real()}
	for _, option := range opts {
		option(&settings)
	}
	return &Cache[K, V]{
		ttl:      ttl,
		clock:    settings.clock,
		entries:  make(map[K]entry[V]),
		inflight: make(map[K]*call[V]),
	}
}

func (cache *Cache[K, V]) expiry() time.Time {
	if cache.ttl <= 0 {
		return time.Time{}
	}
	return cache.clock.Now().Add(cache.ttl)
}

func (cache *Cache[K, V]) live(stored entry[V], now time.Time) bool {
	return stored.expiresAt.IsZero() || now.Before(stored.expiresAt)
}

// Get returns the value for key if present and not expired.
func (cache *Cache[K, V]) Get(key K) (V, bool) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	return cache.getLocked(key)
}

func (cache *Cache[K, V]) getLocked(key K) (V, bool) {
	stored, ok := cache.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !cache.live(stored, cache.clock.Now()) {
		delete(cache.entries, key)
		var zero V
		return zero, false
	}
	return stored.value, true
}

// Set stores value under key, replacing any existing entry.
func (cache *Cache[K, V]) Set(key K, value V) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	cache.entries[key] = entry[V]{value: value, expiresAt: cache.expiry()}
}

// Delete removes key. A load in progress for key is not affected.
func (cache *Cache[K, V]) Delete(key K) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	delete(cache.entries, key)
}

// GetOrLoad returns the cached value for key, calling load to produce
// it on a miss. Concurrent callers missing the same key share one load
// call. A failed load is not cached: every waiter receives the error
// and the next call loads again.
//
// load runs with a context detached from any single caller's
// cancellation, since other callers may be waiting on it. A caller
// whose ctx is cancelled stops waiting and gets ctx.Err().
func (cache *Cache[K, V]) GetOrLoad(ctx context.Context, key K, load func(context.Context) (V, error)) (V, error) {
	cache.mutex.Lock()
	if value, ok := cache.getLocked(key); ok {
		cache.mutex.Unlock()
		return value, nil
	}
	pending, ok := cache.inflight[key]
	if !ok {
		pending = &call[V]{done: make(chan struct{})}
		cache.inflight[key] = pending
		go cache.load(context.WithoutCancel(ctx), key, pending, load)
	}
	cache.mutex.Unlock()

	select {
	case <-pending.done:
		return pending.value, pending.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

func (cache *Cache[K, V]) load(ctx context.Context, key K, pending *call[V], load func(context.Context) (V, error)) {
	value, err := load(ctx)

	cache.mutex.Lock()
	pending.value, pending.err = value, err
	if err == nil {
		cache.entries[key] = entry[V]{value: value, expiresAt: cache.expiry()}
	}
	delete(cache.inflight, key)
	cache.mutex.Unlock()

	close(pending.done)
}

// Sweep removes expired entries and returns how many were removed.
func (cache *Cache[K, V]) Sweep() int {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	now := cache.clock.Now()
	removed := 0
	for key, stored := range cache.entries {
		if !cache.live(stored, now) {
			delete(cache.entries, key)
			removed++
		}
	}
	return removed
}

// Run sweeps expired entries every interval until ctx is done.
func (cache *Cache[K, V]) Run(ctx context.Context, interval time.Duration) {
	ticker := cache.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cache.Sweep()
		}
	}
}

// Len returns the number of stored entries, including expired ones
// not yet swept.
func (cache *Cache[K, V]) Len() int {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	return len(cache.entries)
}
