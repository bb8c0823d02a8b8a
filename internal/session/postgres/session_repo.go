// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

// Package postgres implements the session repository using PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gateward/gateward/internal/session"
)

// DB is the pool surface the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SessionRepository implements session.Repository using PostgreSQL.
type SessionRepository struct {
	db DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db DB) *SessionRepository {
	return &SessionRepository{db: db}
}

var _ session.Repository = (*SessionRepository)(nil)

// Upsert stores the session, replacing any existing session for the same
// player and binding.
func (r *SessionRepository) Upsert(ctx context.Context, sess *session.Session) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO sessions (id, player_id, binding, token_hash, ip_address, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (player_id, binding) DO UPDATE SET
			id = EXCLUDED.id,
			token_hash = EXCLUDED.token_hash,
			ip_address = EXCLUDED.ip_address,
			issued_at = EXCLUDED.issued_at,
			expires_at = EXCLUDED.expires_at
	`,
		sess.ID.String(),
		sess.PlayerID.String(),
		sess.Binding,
		sess.TokenHash,
		sess.IPAddress,
		sess.IssuedAt,
		sess.ExpiresAt,
	)
	if err != nil {
		return oops.Code("SESSION_UPSERT_FAILED").
			With("player_id", sess.PlayerID.String()).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a session by its token hash.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*session.Session, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, player_id, binding, token_hash, ip_address, issued_at, expires_at
		FROM sessions
		WHERE token_hash = $1
	`, tokenHash)

	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(session.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").Wrap(err)
	}
	return sess, nil
}

// GetByBinding retrieves the session for a player and binding.
func (r *SessionRepository) GetByBinding(ctx context.Context, playerID ulid.ULID, binding string) (*session.Session, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, player_id, binding, token_hash, ip_address, issued_at, expires_at
		FROM sessions
		WHERE player_id = $1 AND binding = $2
	`, playerID.String(), binding)

	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").
			With("player_id", playerID.String()).
			Wrap(session.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").
			With("player_id", playerID.String()).
			Wrap(err)
	}
	return sess, nil
}

// UpdateExpiry moves a session's expiry timestamp.
func (r *SessionRepository) UpdateExpiry(ctx context.Context, id ulid.ULID, expiresAt time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE sessions SET expires_at = $2 WHERE id = $1
	`, id.String(), expiresAt)
	if err != nil {
		return oops.Code("SESSION_UPDATE_EXPIRY_FAILED").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").
			With("id", id.String()).
			Wrap(session.ErrNotFound)
	}
	return nil
}

// DeleteByID removes a single session.
func (r *SessionRepository) DeleteByID(ctx context.Context, id ulid.ULID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("id", id.String()).
			Wrap(err)
	}
	return nil
}

// DeleteByPlayer removes all sessions for a player.
func (r *SessionRepository) DeleteByPlayer(ctx context.Context, playerID ulid.ULID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE player_id = $1`, playerID.String())
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("player_id", playerID.String()).
			Wrap(err)
	}
	return nil
}

// DeleteExpired removes all expired sessions and returns the count.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").Wrap(err)
	}
	return result.RowsAffected(), nil
}

// CountActive returns the number of non-expired sessions.
func (r *SessionRepository) CountActive(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM sessions WHERE expires_at > $1`, now).Scan(&n)
	if err != nil {
		return 0, oops.Code("SESSION_COUNT_FAILED").Wrap(err)
	}
	return n, nil
}

func scanSession(row pgx.Row) (*session.Session, error) {
	var (
		idStr       string
		playerIDStr string
		binding     string
		tokenHash   string
		ipAddress   string
		issuedAt    time.Time
		expiresAt   time.Time
	)

	err := row.Scan(&idStr, &playerIDStr, &binding, &tokenHash, &ipAddress, &issuedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, oops.Code("SESSION_SCAN_FAILED").Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID_ID").With("id", idStr).Wrap(err)
	}
	playerID, err := ulid.Parse(playerIDStr)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID_ID").With("player_id", playerIDStr).Wrap(err)
	}

	return &session.Session{
		ID:        id,
		PlayerID:  playerID,
		Binding:   binding,
		TokenHash: tokenHash,
		IPAddress: ipAddress,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}
