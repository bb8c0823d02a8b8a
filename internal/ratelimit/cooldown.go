// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

// Package ratelimit provides time-windowed counters and expiring cooldown
// marks keyed by opaque identifiers (player IDs, IP addresses).
//
// Both primitives store entries as (value, expiry) pairs in a plain map.
// Expired entries are pruned lazily on lookup and by a periodic background
// sweep, so the structures stay bounded without an external cache library.
package ratelimit

import (
	"sync"
	"time"
)

// Cooldown records a single expiring mark per key, used to throttle an
// action to at most once per configured duration. Safe for concurrent use.
type Cooldown struct {
	mu       sync.Mutex
	duration time.Duration
	expiries map[string]time.Time

	now      func() time.Time
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewCooldown creates a cooldown tracker with the given duration and starts
// a background sweep. Call Close to stop it.
func NewCooldown(duration time.Duration) *Cooldown {
	c := &Cooldown{
		duration: duration,
		expiries: make(map[string]time.Time),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	c.wg.Add(1)
	go c.sweepLoop(sweepInterval(duration))
	return c
}

// Set records "now" for the key; the key is on cooldown until the configured
// duration elapses.
func (c *Cooldown) Set(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expiries[key] = c.now().Add(c.duration)
}

// Clear removes the key's cooldown mark.
func (c *Cooldown) Clear(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.expiries, key)
}

// IsOnCooldown reports whether the key is still within its cooldown window.
func (c *Cooldown) IsOnCooldown(key string) bool {
	return c.Remaining(key) > 0
}

// Remaining returns the time left on the key's cooldown, or zero if none.
func (c *Cooldown) Remaining(key string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiry, ok := c.expiries[key]
	if !ok {
		return 0
	}
	remaining := expiry.Sub(c.now())
	if remaining <= 0 {
		delete(c.expiries, key)
		return 0
	}
	return remaining
}

// SetDuration replaces the cooldown duration for subsequent Set calls.
// Existing marks keep their original expiry.
func (c *Cooldown) SetDuration(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.duration = d
}

// Len returns the number of tracked keys, pruning expired ones first.
func (c *Cooldown) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune()
	return len(c.expiries)
}

// Close stops the background sweep goroutine.
func (c *Cooldown) Close() {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()
}

func (c *Cooldown) prune() {
	now := c.now()
	for key, expiry := range c.expiries {
		if !expiry.After(now) {
			delete(c.expiries, key)
		}
	}
}

func (c *Cooldown) sweepLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.prune()
			c.mu.Unlock()
		}
	}
}

// sweepInterval keeps sweep frequency proportional to entry lifetime, with
// a floor so short-lived cooldowns don't spin the sweeper.
func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl * 2
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}
