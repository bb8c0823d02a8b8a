// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

package ratelimit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// window tracks an attempt counter for one key within a fixed window.
type window struct {
	count  int
	expiry time.Time
}

// Limiter caps attempts per key to a maximum within a fixed time window.
// The increment-and-compare in TryAcquire is atomic per key, so of several
// near-simultaneous callers exactly one observes the crossing of the limit
// and the rest are rejected. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	max     int
	ttl     time.Duration
	windows map[string]*window

	now      func() time.Time
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	rejectedCounter prometheus.Counter
}

// NewLimiter creates a limiter allowing max acquisitions per key per window.
// It starts a background sweep goroutine; call Close to stop it.
func NewLimiter(max int, windowTTL time.Duration) *Limiter {
	return newLimiter(max, windowTTL, nil)
}

// NewLimiterWithRegistry creates a limiter and registers a rejection counter
// with the provided Prometheus registry.
func NewLimiterWithRegistry(max int, windowTTL time.Duration, name string, reg prometheus.Registerer) *Limiter {
	l := newLimiter(max, windowTTL, nil)
	if reg != nil {
		l.rejectedCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateward_ratelimit_rejected_total",
			Help: "Total number of acquisitions rejected by the rate limiter",
			ConstLabels: prometheus.Labels{
				"limiter": name,
			},
		})
		reg.MustRegister(l.rejectedCounter)
	}
	return l
}

func newLimiter(max int, windowTTL time.Duration, _ prometheus.Registerer) *Limiter {
	l := &Limiter{
		max:      max,
		ttl:      windowTTL,
		windows:  make(map[string]*window),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	l.wg.Add(1)
	go l.sweepLoop(sweepInterval(windowTTL))
	return l
}

// TryAcquire increments the key's counter and reports whether the
// post-increment count is still within the configured maximum.
func (l *Limiter) TryAcquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !w.expiry.After(now) {
		w = &window{expiry: now.Add(l.ttl)}
		l.windows[key] = w
	}

	w.count++
	if w.count > l.max {
		if l.rejectedCounter != nil {
			l.rejectedCounter.Inc()
		}
		return false
	}
	return true
}

// AcquireCount increments the key's counter and returns the post-increment
// count. It never rejects; callers that act only when the count lands exactly
// on a threshold see one crossing no matter how many concurrent increments
// race past it.
func (l *Limiter) AcquireCount(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !w.expiry.After(now) {
		w = &window{expiry: now.Add(l.ttl)}
		l.windows[key] = w
	}
	w.count++
	return w.count
}

// Count returns the key's current counter, or zero if the window expired.
func (l *Limiter) Count(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !w.expiry.After(l.now()) {
		return 0
	}
	return w.count
}

// Reset clears the key's counter.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// Configure replaces the limit and window for subsequent windows. Windows
// already open keep their original expiry.
func (l *Limiter) Configure(max int, windowTTL time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.max = max
	l.ttl = windowTTL
}

// Len returns the number of tracked keys, pruning expired windows first.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, w := range l.windows {
		if !w.expiry.After(now) {
			delete(l.windows, key)
		}
	}
	return len(l.windows)
}

// Close stops the background sweep goroutine.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()
}

func (l *Limiter) sweepLoop(interval time.Duration) {
	defer l.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := l.now()
			for key, w := range l.windows {
				if !w.expiry.After(now) {
					delete(l.windows, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
