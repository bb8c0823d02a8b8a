// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

package auth

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Phase is a player's position in the authentication state machine.
type Phase int

// Authentication phases.
const (
	PhaseUnauthenticated Phase = iota
	PhaseAwaitingTwoFA
	PhaseAuthenticated
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseUnauthenticated:
		return "unauthenticated"
	case PhaseAwaitingTwoFA:
		return "awaiting_2fa"
	case PhaseAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// State is an immutable snapshot of one player's authentication state.
// Transitions replace the whole value atomically; nothing mutates in place.
type State struct {
	Phase          Phase
	FailedAttempts int       // consecutive credential failures
	TwoFAFailures  int       // consecutive second-factor failures
	LastActivity   time.Time
	DisconnectedAt time.Time // zero while connected
}

// ErrInvalidTransition is returned when a requested state change is not
// permitted by the state machine.
var ErrInvalidTransition = oops.Code("AUTH_INVALID_TRANSITION").Errorf("invalid authentication state transition")

// Tracker holds the per-player authentication state machine. Each player key
// maps to an atomically swapped State pointer; transitions are compare-and-set
// loops, so two concurrent submissions for the same player can never
// lost-update each other. The happy-path IsAuthenticated check is a single
// atomic load with no I/O.
type Tracker struct {
	mu    sync.RWMutex
	slots map[ulid.ULID]*atomic.Pointer[State]

	now func() time.Time
}

// NewTracker creates an empty state tracker.
func NewTracker() *Tracker {
	return &Tracker{
		slots: make(map[ulid.ULID]*atomic.Pointer[State]),
		now:   time.Now,
	}
}

// slot returns the player's state slot, creating it lazily.
func (t *Tracker) slot(playerID ulid.ULID) *atomic.Pointer[State] {
	t.mu.RLock()
	s, ok := t.slots[playerID]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.slots[playerID]; ok {
		return s
	}
	s = &atomic.Pointer[State]{}
	s.Store(&State{Phase: PhaseUnauthenticated, LastActivity: t.now()})
	t.slots[playerID] = s
	return s
}

// peek returns the player's slot without creating it.
func (t *Tracker) peek(playerID ulid.ULID) *atomic.Pointer[State] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.slots[playerID]
}

// transition applies fn under a CAS loop. fn receives the current state and
// returns the next state, or an error to abort without changing anything.
func (t *Tracker) transition(playerID ulid.ULID, fn func(State) (State, error)) (State, error) {
	s := t.slot(playerID)
	for {
		cur := s.Load()
		next, err := fn(*cur)
		if err != nil {
			return *cur, err
		}
		next.LastActivity = t.now()
		candidate := next
		if s.CompareAndSwap(cur, &candidate) {
			return candidate, nil
		}
	}
}

// Get returns the player's current state. Untracked players read as
// unauthenticated.
func (t *Tracker) Get(playerID ulid.ULID) State {
	if s := t.peek(playerID); s != nil {
		return *s.Load()
	}
	return State{Phase: PhaseUnauthenticated}
}

// IsAuthenticated reports whether the player is fully authenticated.
func (t *Tracker) IsAuthenticated(playerID ulid.ULID) bool {
	if s := t.peek(playerID); s != nil {
		return s.Load().Phase == PhaseAuthenticated
	}
	return false
}

// MarkAwaitingTwoFA moves an unauthenticated player to the awaiting-2FA
// phase after their credentials verified. Fails if the player is already
// past the credential stage.
func (t *Tracker) MarkAwaitingTwoFA(playerID ulid.ULID) (State, error) {
	return t.transition(playerID, func(cur State) (State, error) {
		if cur.Phase != PhaseUnauthenticated {
			return State{}, ErrInvalidTransition
		}
		return State{Phase: PhaseAwaitingTwoFA}, nil
	})
}

// MarkAuthenticated moves the player to the authenticated phase. Reachable
// from any phase: directly after credentials when 2FA is off, from
// awaiting-2FA on a valid code, and via admin force-authenticate.
func (t *Tracker) MarkAuthenticated(playerID ulid.ULID) State {
	state, _ := t.transition(playerID, func(State) (State, error) {
		return State{Phase: PhaseAuthenticated}, nil
	})
	return state
}

// RecordCredentialFailure counts a failed credential submission without
// changing phase. Returns the new consecutive-failure count.
func (t *Tracker) RecordCredentialFailure(playerID ulid.ULID) int {
	state, _ := t.transition(playerID, func(cur State) (State, error) {
		cur.FailedAttempts++
		return cur, nil
	})
	return state.FailedAttempts
}

// RecordTwoFAFailure counts a failed second-factor submission. Once the
// count reaches maxFailures the player reverts to unauthenticated and the
// pending attempt is abandoned; reverted reports that.
func (t *Tracker) RecordTwoFAFailure(playerID ulid.ULID, maxFailures int) (state State, reverted bool) {
	state, _ = t.transition(playerID, func(cur State) (State, error) {
		if cur.Phase != PhaseAwaitingTwoFA {
			return State{}, ErrInvalidTransition
		}
		cur.TwoFAFailures++
		if cur.TwoFAFailures >= maxFailures {
			return State{Phase: PhaseUnauthenticated, FailedAttempts: cur.FailedAttempts}, nil
		}
		return cur, nil
	})
	return state, state.Phase == PhaseUnauthenticated
}

// Reset returns the player to unauthenticated. Used on logout, session
// expiry, and forced invalidation.
func (t *Tracker) Reset(playerID ulid.ULID) {
	_, _ = t.transition(playerID, func(State) (State, error) {
		return State{Phase: PhaseUnauthenticated}, nil
	})
}

// Touch refreshes the player's last-activity timestamp.
func (t *Tracker) Touch(playerID ulid.ULID) {
	_, _ = t.transition(playerID, func(cur State) (State, error) {
		return cur, nil
	})
}

// MarkDisconnected flags the player for eviction after the grace period.
// The state itself is retained so a quick reconnect resumes where it was.
func (t *Tracker) MarkDisconnected(playerID ulid.ULID) {
	_, _ = t.transition(playerID, func(cur State) (State, error) {
		cur.DisconnectedAt = t.now()
		return cur, nil
	})
}

// MarkConnected clears a pending eviction flag on reconnect.
func (t *Tracker) MarkConnected(playerID ulid.ULID) {
	_, _ = t.transition(playerID, func(cur State) (State, error) {
		cur.DisconnectedAt = time.Time{}
		return cur, nil
	})
}

// Evict removes entries whose disconnect grace period has elapsed and
// returns how many were removed. The durable account record is unaffected.
func (t *Tracker) Evict(grace time.Duration) int {
	threshold := t.now().Add(-grace)

	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for id, s := range t.slots {
		state := s.Load()
		if !state.DisconnectedAt.IsZero() && state.DisconnectedAt.Before(threshold) {
			delete(t.slots, id)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of tracked players.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.slots)
}
