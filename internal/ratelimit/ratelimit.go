// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ratelimit provides a fixed-window request counter keyed by client.
//
// Unlike a sliding window or token bucket, the counter resets at discrete
// window boundaries: the first request from a key opens a window, requests
// beyond the limit inside that window are rejected, and the first request
// after the window elapses opens a fresh one with count 1. This accepts the
// burst-at-boundary imprecision in exchange for O(1) state per client key.
package ratelimit

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	// DefaultLimit is the default number of requests allowed per window.
	DefaultLimit = 20

	// DefaultWindow is the default window size.
	DefaultWindow = 60 * time.Second
)

// entry tracks one client key's current window.
type entry struct {
	count       int
	windowStart time.Time
}

// Limiter is a fixed-window rate limiter.
//
// The whole map is guarded by a single mutex: the check-then-increment on a
// shared entry is a critical section, and contention is expected to be low.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	limit   int
	window  time.Duration
}

// New creates a Limiter allowing limit requests per window.
// Non-positive arguments fall back to the defaults.
func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		entries: make(map[string]*entry),
		limit:   limit,
		window:  window,
	}
}

// Default returns a Limiter with the default settings: 20 requests per minute.
func Default() *Limiter {
	return New(DefaultLimit, DefaultWindow)
}

// Allow reports whether a request from key at time now should be admitted.
//
// The clock is passed in rather than read internally so window boundaries are
// testable without sleeping.
func (l *Limiter) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		l.entries[key] = &entry{count: 1, windowStart: now}
		return true
	}

	if now.Sub(e.windowStart) < l.window {
		if e.count >= l.limit {
			return false
		}
		e.count++
		return true
	}

	// Window elapsed: this request opens a new one.
	e.count = 1
	e.windowStart = now
	return true
}

// Remaining returns the number of requests key may still make in its current
// window. A key with no entry, or whose window has elapsed, has the full
// limit remaining.
func (l *Limiter) Remaining(key string, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || now.Sub(e.windowStart) >= l.window {
		return l.limit
	}

	remaining := l.limit - e.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Limit returns the configured per-window limit.
func (l *Limiter) Limit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

// Window returns the configured window size.
func (l *Limiter) Window() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.window
}

// Len returns the number of tracked client keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// SetLimits replaces the limit and window at runtime (config hot reload).
// Existing window entries are kept; they are judged against the new values on
// their next request.
func (l *Limiter) SetLimits(limit int, window time.Duration) {
	if limit <= 0 || window <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = limit
	l.window = window
}

// StartEviction runs a background sweep that drops entries whose window
// expired more than one full window ago. Entry lifecycle is otherwise
// unbounded across distinct client keys, so long-running servers should
// enable this. The sweep stops when ctx is cancelled.
func (l *Limiter) StartEviction(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(l.Window())
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := l.evictStale(now); n > 0 {
					log.Printf("RATELIMIT_EVICT | removed=%d tracked=%d", n, l.Len())
				}
			}
		}
	}()
}

// evictStale removes entries idle for at least two windows and returns the
// number removed. Entries inside or just past their window are kept so an
// active client's reset-at-boundary behavior is never affected.
func (l *Limiter) evictStale(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, e := range l.entries {
		if now.Sub(e.windowStart) >= 2*l.window {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}
