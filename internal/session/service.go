// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gateward/gateward/pkg/errutil"
)

// Service issues and validates sessions. Reads go through an in-memory
// write-through cache keyed by token hash, so the hot Validate path touches
// the database only on cache miss. The repository stays authoritative: every
// mutation writes through before the cache changes.
type Service struct {
	repo   Repository
	logger *slog.Logger

	mu            sync.RWMutex
	byHash        map[string]*Session
	byBinding     map[string]string // player+binding -> token hash
	ttl           time.Duration
	renewalWindow time.Duration

	now func() time.Time
}

// NewService creates a session service.
func NewService(repo Repository, ttl, renewalWindow time.Duration, logger *slog.Logger) *Service {
	return &Service{
		repo:          repo,
		logger:        logger,
		byHash:        make(map[string]*Session),
		byBinding:     make(map[string]string),
		ttl:           ttl,
		renewalWindow: renewalWindow,
		now:           time.Now,
	}
}

func bindingKey(playerID ulid.ULID, binding string) string {
	return fmt.Sprintf("%s\x00%s", playerID, binding)
}

// Issue creates a session for the player and returns it with the plaintext
// token. Any prior session for the same player and binding is replaced.
func (s *Service) Issue(ctx context.Context, playerID ulid.ULID, binding, ipAddress string) (*Session, string, error) {
	token, hash, err := GenerateToken()
	if err != nil {
		return nil, "", err
	}

	now := s.now()
	sess, err := New(playerID, binding, hash, ipAddress, now, now.Add(s.currentTTL()))
	if err != nil {
		return nil, "", err
	}

	if err := s.repo.Upsert(ctx, sess); err != nil {
		return nil, "", oops.Code("SESSION_ISSUE_FAILED").
			With("player_id", playerID).
			Wrap(err)
	}

	s.cachePut(sess)
	s.logger.Debug("session issued",
		"session_id", sess.ID,
		"player_id", playerID,
		"expires_at", sess.ExpiresAt)
	return sess, token, nil
}

// Validate resolves a plaintext token to a live session. Expired or unknown
// tokens return an error wrapping ErrNotFound; expired ones are removed from
// storage on the way out.
func (s *Service) Validate(ctx context.Context, token string) (*Session, error) {
	hash := HashToken(token)

	sess := s.cacheGet(hash)
	if sess == nil {
		var err error
		sess, err = s.repo.GetByTokenHash(ctx, hash)
		if err != nil {
			return nil, err
		}
		s.cachePut(sess)
	}

	if sess.IsExpiredAt(s.now()) {
		s.cacheDelete(sess)
		if err := s.repo.DeleteByID(ctx, sess.ID); err != nil {
			errutil.LogWarn(s.logger, "failed to delete expired session", err)
		}
		return nil, oops.Code("SESSION_EXPIRED").
			With("session_id", sess.ID).
			Wrap(ErrNotFound)
	}

	return sess, nil
}

// Resume looks up a live session for the player and binding, the reconnect
// path where the client presents no token but the transport binding matches.
func (s *Service) Resume(ctx context.Context, playerID ulid.ULID, binding string) (*Session, error) {
	sess, err := s.repo.GetByBinding(ctx, playerID, binding)
	if err != nil {
		return nil, err
	}
	if sess.IsExpiredAt(s.now()) {
		s.cacheDelete(sess)
		return nil, oops.Code("SESSION_EXPIRED").
			With("session_id", sess.ID).
			Wrap(ErrNotFound)
	}
	s.cachePut(sess)
	return sess, nil
}

// Refresh extends the session's expiry by the configured TTL, but only once
// it is inside the renewal window. Returns true if the expiry moved.
func (s *Service) Refresh(ctx context.Context, sess *Session) (bool, error) {
	now := s.now()
	if sess.ExpiresAt.Sub(now) > s.currentRenewalWindow() {
		return false, nil
	}

	expiresAt := now.Add(s.currentTTL())
	if err := s.repo.UpdateExpiry(ctx, sess.ID, expiresAt); err != nil {
		return false, oops.Code("SESSION_REFRESH_FAILED").
			With("session_id", sess.ID).
			Wrap(err)
	}

	renewed := *sess
	renewed.ExpiresAt = expiresAt
	s.cachePut(&renewed)
	*sess = renewed
	return true, nil
}

// InvalidatePlayer removes every session the player holds, across all
// bindings. Used on logout, password change, and admin revocation.
func (s *Service) InvalidatePlayer(ctx context.Context, playerID ulid.ULID) error {
	if err := s.repo.DeleteByPlayer(ctx, playerID); err != nil {
		return oops.Code("SESSION_INVALIDATE_FAILED").
			With("player_id", playerID).
			Wrap(err)
	}

	s.mu.Lock()
	for hash, sess := range s.byHash {
		if sess.PlayerID == playerID {
			delete(s.byHash, hash)
			delete(s.byBinding, bindingKey(sess.PlayerID, sess.Binding))
		}
	}
	s.mu.Unlock()
	return nil
}

// SweepExpired drops expired sessions from storage and cache. Returns the
// number removed from storage.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	now := s.now()
	removed, err := s.repo.DeleteExpired(ctx, now)
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").Wrap(err)
	}

	s.mu.Lock()
	for hash, sess := range s.byHash {
		if sess.IsExpiredAt(now) {
			delete(s.byHash, hash)
			delete(s.byBinding, bindingKey(sess.PlayerID, sess.Binding))
		}
	}
	s.mu.Unlock()
	return removed, nil
}

// CountActive returns the number of live sessions in storage.
func (s *Service) CountActive(ctx context.Context) (int64, error) {
	return s.repo.CountActive(ctx, s.now())
}

// Reconfigure applies new TTL and renewal-window values. Existing sessions
// keep their current expiry; the new values apply from the next issue or
// refresh.
func (s *Service) Reconfigure(ttl, renewalWindow time.Duration) {
	s.mu.Lock()
	s.ttl = ttl
	s.renewalWindow = renewalWindow
	s.mu.Unlock()
}

// CacheLen returns the number of cached sessions.
func (s *Service) CacheLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byHash)
}

func (s *Service) currentTTL() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ttl
}

func (s *Service) currentRenewalWindow() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.renewalWindow
}

func (s *Service) cacheGet(hash string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byHash[hash]
}

func (s *Service) cachePut(sess *Session) {
	key := bindingKey(sess.PlayerID, sess.Binding)

	s.mu.Lock()
	defer s.mu.Unlock()

	// A new session for the same player+binding supersedes the cached one.
	if prev, ok := s.byBinding[key]; ok && prev != sess.TokenHash {
		delete(s.byHash, prev)
	}
	s.byHash[sess.TokenHash] = sess
	s.byBinding[key] = sess.TokenHash
}

func (s *Service) cacheDelete(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byHash, sess.TokenHash)
	if s.byBinding[bindingKey(sess.PlayerID, sess.Binding)] == sess.TokenHash {
		delete(s.byBinding, bindingKey(sess.PlayerID, sess.Binding))
	}
}
