// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

// Package session manages authenticated sessions: issuance, validation,
// refresh, and invalidation, with an in-memory write-through cache over the
// durable repository.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenBytes is the session token length; 32 bytes = 64 hex chars.
const TokenBytes = 32

// ErrNotFound is returned when no matching session exists.
var ErrNotFound = errors.New("session not found")

// Session represents "this player does not need to re-enter credentials
// right now". The plaintext token is handed to the client once; only its
// SHA-256 hash is stored.
type Session struct {
	ID        ulid.ULID
	PlayerID  ulid.ULID
	Binding   string // opaque binding key, e.g. device fingerprint or source IP
	TokenHash string
	IPAddress string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// New creates a validated Session.
func New(playerID ulid.ULID, binding, tokenHash, ipAddress string, issuedAt, expiresAt time.Time) (*Session, error) {
	if playerID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_PLAYER").Errorf("player ID cannot be zero")
	}
	if binding == "" {
		return nil, oops.Code("SESSION_INVALID_BINDING").Errorf("binding cannot be empty")
	}
	if tokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if !expiresAt.After(issuedAt) {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("expiry must be after issuance")
	}
	return &Session{
		ID:        ulid.Make(),
		PlayerID:  playerID,
		Binding:   binding,
		TokenHash: tokenHash,
		IPAddress: ipAddress,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// IsExpiredAt returns true if the session would be expired at the given time.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return t.After(s.ExpiresAt)
}

// GenerateToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error).
func GenerateToken() (token, hash string, err error) {
	tokenBytes := make([]byte, TokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	hash = HashToken(token)

	return token, hash, nil
}

// HashToken computes the SHA-256 hash of a session token.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyToken checks a plaintext token against a stored hash in constant time.
func VerifyToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	computed := HashToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// Repository manages session persistence.
type Repository interface {
	// Upsert stores the session, replacing any existing session for the
	// same player and binding.
	Upsert(ctx context.Context, session *Session) error

	// GetByTokenHash retrieves a session by its token hash.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// GetByBinding retrieves the active session for a player and binding.
	GetByBinding(ctx context.Context, playerID ulid.ULID, binding string) (*Session, error)

	// UpdateExpiry moves a session's expiry timestamp.
	UpdateExpiry(ctx context.Context, id ulid.ULID, expiresAt time.Time) error

	// DeleteByID removes a single session.
	DeleteByID(ctx context.Context, id ulid.ULID) error

	// DeleteByPlayer removes all sessions for a player.
	DeleteByPlayer(ctx context.Context, playerID ulid.ULID) error

	// DeleteExpired removes all expired sessions and returns the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// CountActive returns the number of non-expired sessions.
	CountActive(ctx context.Context, now time.Time) (int64, error)
}
