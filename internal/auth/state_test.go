// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

package auth

import (
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trackerClock drives Tracker time in tests.
type trackerClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTrackerClock() *trackerClock {
	return &trackerClock{t: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *trackerClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *trackerClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestTracker() (*Tracker, *trackerClock) {
	clock := newTrackerClock()
	tracker := NewTracker()
	tracker.now = clock.Now
	return tracker, clock
}

func TestTracker_Phases(t *testing.T) {
	t.Run("untracked player reads unauthenticated", func(t *testing.T) {
		tracker, _ := newTestTracker()
		id := ulid.Make()

		assert.Equal(t, PhaseUnauthenticated, tracker.Get(id).Phase)
		assert.False(t, tracker.IsAuthenticated(id))
		assert.Zero(t, tracker.Len())
	})

	t.Run("credential success with 2FA goes to awaiting", func(t *testing.T) {
		tracker, _ := newTestTracker()
		id := ulid.Make()

		state, err := tracker.MarkAwaitingTwoFA(id)
		require.NoError(t, err)
		assert.Equal(t, PhaseAwaitingTwoFA, state.Phase)
		assert.False(t, tracker.IsAuthenticated(id))
	})

	t.Run("cannot await 2FA twice", func(t *testing.T) {
		tracker, _ := newTestTracker()
		id := ulid.Make()

		_, err := tracker.MarkAwaitingTwoFA(id)
		require.NoError(t, err)
		_, err = tracker.MarkAwaitingTwoFA(id)
		require.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("authenticate reachable from any phase", func(t *testing.T) {
		tracker, _ := newTestTracker()
		direct := ulid.Make()
		staged := ulid.Make()

		state := tracker.MarkAuthenticated(direct)
		assert.Equal(t, PhaseAuthenticated, state.Phase)

		_, err := tracker.MarkAwaitingTwoFA(staged)
		require.NoError(t, err)
		state = tracker.MarkAuthenticated(staged)
		assert.Equal(t, PhaseAuthenticated, state.Phase)
		assert.True(t, tracker.IsAuthenticated(staged))
	})

	t.Run("reset returns player to unauthenticated", func(t *testing.T) {
		tracker, _ := newTestTracker()
		id := ulid.Make()

		tracker.MarkAuthenticated(id)
		tracker.Reset(id)
		assert.False(t, tracker.IsAuthenticated(id))
		assert.Equal(t, PhaseUnauthenticated, tracker.Get(id).Phase)
	})
}

func TestTracker_Failures(t *testing.T) {
	t.Run("credential failures count consecutively", func(t *testing.T) {
		tracker, _ := newTestTracker()
		id := ulid.Make()

		assert.Equal(t, 1, tracker.RecordCredentialFailure(id))
		assert.Equal(t, 2, tracker.RecordCredentialFailure(id))
		assert.Equal(t, 3, tracker.RecordCredentialFailure(id))
	})

	t.Run("2FA failures below threshold keep awaiting", func(t *testing.T) {
		tracker, _ := newTestTracker()
		id := ulid.Make()

		_, err := tracker.MarkAwaitingTwoFA(id)
		require.NoError(t, err)

		state, reverted := tracker.RecordTwoFAFailure(id, 3)
		assert.False(t, reverted)
		assert.Equal(t, PhaseAwaitingTwoFA, state.Phase)
		assert.Equal(t, 1, state.TwoFAFailures)
	})

	t.Run("2FA failures at threshold revert to unauthenticated", func(t *testing.T) {
		tracker, _ := newTestTracker()
		id := ulid.Make()

		// one credential failure on record before entering the 2FA stage
		tracker.RecordCredentialFailure(id)
		_, err := tracker.MarkAwaitingTwoFA(id)
		require.NoError(t, err)

		var reverted bool
		for i := 0; i < 3; i++ {
			_, reverted = tracker.RecordTwoFAFailure(id, 3)
		}
		assert.True(t, reverted)

		state := tracker.Get(id)
		assert.Equal(t, PhaseUnauthenticated, state.Phase)
		// credential failure history survives the revert
		assert.Equal(t, 1, state.FailedAttempts)
	})
}

func TestTracker_Eviction(t *testing.T) {
	t.Run("evicts only past the grace period", func(t *testing.T) {
		tracker, clock := newTestTracker()
		gone := ulid.Make()
		fresh := ulid.Make()
		connected := ulid.Make()

		tracker.MarkAuthenticated(gone)
		tracker.MarkAuthenticated(fresh)
		tracker.MarkAuthenticated(connected)

		tracker.MarkDisconnected(gone)
		clock.Advance(4 * time.Minute)
		tracker.MarkDisconnected(fresh)
		clock.Advance(2 * time.Minute)

		evicted := tracker.Evict(5 * time.Minute)
		assert.Equal(t, 1, evicted)
		assert.Equal(t, 2, tracker.Len())
		assert.True(t, tracker.IsAuthenticated(connected))
		assert.True(t, tracker.IsAuthenticated(fresh))
	})

	t.Run("reconnect cancels pending eviction", func(t *testing.T) {
		tracker, clock := newTestTracker()
		id := ulid.Make()

		tracker.MarkAuthenticated(id)
		tracker.MarkDisconnected(id)
		tracker.MarkConnected(id)
		clock.Advance(time.Hour)

		assert.Zero(t, tracker.Evict(5*time.Minute))
		assert.True(t, tracker.IsAuthenticated(id))
	})
}

func TestTracker_Concurrency(t *testing.T) {
	t.Run("concurrent failures never lose updates", func(t *testing.T) {
		tracker, _ := newTestTracker()
		id := ulid.Make()

		const workers = 16
		const perWorker = 50

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < perWorker; j++ {
					tracker.RecordCredentialFailure(id)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, workers*perWorker, tracker.Get(id).FailedAttempts)
	})
}
