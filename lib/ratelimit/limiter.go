// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit provides a keyed token-bucket rate limiter.
//
// A Limiter maintains one token bucket per string key (peer ID, remote
// address) and evicts buckets that have sat idle long enough to refill
// completely. A nil *Limiter allows everything, so callers can treat
// "no limit configured" as a nil limiter without branching.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter applies an independent token bucket to each key. Safe for
// concurrent use.
type Limiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	calls   uint64
}

type bucket struct {
	tokens   *rate.Limiter
	lastSeen time.Time
}

// New returns a limiter allowing perSecond sustained events per key
// with the given burst. Buckets idle for longer than idleTTL are
// dropped during later Allow calls. Returns nil (allow-all) if
// perSecond or burst is not positive.
func New(perSecond float64, burst int, idleTTL time.Duration) *Limiter {
	if perSecond <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &Limiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idleTTL: idleTTL,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether one event for key may proceed at now. Callers
// pass now from their clock so limiting stays testable. An empty key
// is never limited.
func (l *Limiter) Allow(key string, now time.Time) bool {
	if l == nil || key == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	allowed := b.tokens.AllowN(now, 1)

	// Sweep idle buckets occasionally so the map stays bounded by the
	// set of recently active keys.
	l.calls++
	if l.calls%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for key, b := range l.buckets {
			if b.lastSeen.Before(cutoff) {
				delete(l.buckets, key)
			}
		}
	}

	return allowed
}
