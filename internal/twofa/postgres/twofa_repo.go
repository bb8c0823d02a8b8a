// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

// Package postgres implements the two-factor repository using PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gateward/gateward/internal/twofa"
)

// DB is the pool surface the repository needs. It includes transactions:
// enrollment replaces a secret and its recovery codes as one unit.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EnrollmentRepository implements twofa.Repository using PostgreSQL.
type EnrollmentRepository struct {
	db DB
}

// NewEnrollmentRepository creates a new EnrollmentRepository.
func NewEnrollmentRepository(db DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

var _ twofa.Repository = (*EnrollmentRepository)(nil)

// Upsert stores the enrollment, replacing any existing one for the player.
// The secret row and the recovery codes are written in one transaction so a
// half-replaced enrollment can never be observed.
func (r *EnrollmentRepository) Upsert(ctx context.Context, enrollment *twofa.Enrollment) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return oops.Code("TWOFA_UPSERT_FAILED").
			With("operation", "begin").
			Wrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO twofa_enrollments (player_id, secret, status, created_at, confirmed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (player_id) DO UPDATE SET
			secret = EXCLUDED.secret,
			status = EXCLUDED.status,
			created_at = EXCLUDED.created_at,
			confirmed_at = EXCLUDED.confirmed_at
	`,
		enrollment.PlayerID.String(),
		enrollment.Secret,
		string(enrollment.Status),
		enrollment.CreatedAt,
		enrollment.ConfirmedAt,
	)
	if err != nil {
		return oops.Code("TWOFA_UPSERT_FAILED").
			With("operation", "upsert enrollment").
			With("player_id", enrollment.PlayerID.String()).
			Wrap(err)
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM twofa_recovery_codes WHERE player_id = $1
	`, enrollment.PlayerID.String())
	if err != nil {
		return oops.Code("TWOFA_UPSERT_FAILED").
			With("operation", "clear recovery codes").
			Wrap(err)
	}

	for _, hash := range enrollment.RecoveryCodeHashes {
		_, err = tx.Exec(ctx, `
			INSERT INTO twofa_recovery_codes (player_id, code_hash) VALUES ($1, $2)
		`, enrollment.PlayerID.String(), hash)
		if err != nil {
			return oops.Code("TWOFA_UPSERT_FAILED").
				With("operation", "insert recovery code").
				Wrap(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("TWOFA_UPSERT_FAILED").
			With("operation", "commit").
			Wrap(err)
	}
	return nil
}

// Get retrieves a player's enrollment with its unused recovery code hashes.
func (r *EnrollmentRepository) Get(ctx context.Context, playerID ulid.ULID) (*twofa.Enrollment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT player_id, secret, status, created_at, confirmed_at
		FROM twofa_enrollments
		WHERE player_id = $1
	`, playerID.String())

	var (
		playerIDStr string
		secret      string
		status      string
		createdAt   time.Time
		confirmedAt *time.Time
	)
	err := row.Scan(&playerIDStr, &secret, &status, &createdAt, &confirmedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TWOFA_NOT_FOUND").
			With("player_id", playerID.String()).
			Wrap(twofa.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TWOFA_GET_FAILED").
			With("player_id", playerID.String()).
			Wrap(err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT code_hash FROM twofa_recovery_codes WHERE player_id = $1
	`, playerID.String())
	if err != nil {
		return nil, oops.Code("TWOFA_GET_FAILED").
			With("operation", "load recovery codes").
			Wrap(err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, oops.Code("TWOFA_GET_FAILED").
				With("operation", "scan recovery code").
				Wrap(err)
		}
		hashes = append(hashes, hash)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("TWOFA_GET_FAILED").
			With("operation", "iterate recovery codes").
			Wrap(err)
	}

	return &twofa.Enrollment{
		PlayerID:           playerID,
		Secret:             secret,
		Status:             twofa.Status(status),
		RecoveryCodeHashes: hashes,
		CreatedAt:          createdAt,
		ConfirmedAt:        confirmedAt,
	}, nil
}

// Activate marks a pending enrollment active.
func (r *EnrollmentRepository) Activate(ctx context.Context, playerID ulid.ULID, confirmedAt time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE twofa_enrollments SET status = 'active', confirmed_at = $2
		WHERE player_id = $1
	`, playerID.String(), confirmedAt)
	if err != nil {
		return oops.Code("TWOFA_ACTIVATE_FAILED").
			With("player_id", playerID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("TWOFA_NOT_FOUND").
			With("player_id", playerID.String()).
			Wrap(twofa.ErrNotFound)
	}
	return nil
}

// RemoveRecoveryCode deletes a consumed recovery code hash and returns how
// many codes remain.
func (r *EnrollmentRepository) RemoveRecoveryCode(ctx context.Context, playerID ulid.ULID, codeHash string) (int, error) {
	_, err := r.db.Exec(ctx, `
		DELETE FROM twofa_recovery_codes WHERE player_id = $1 AND code_hash = $2
	`, playerID.String(), codeHash)
	if err != nil {
		return 0, oops.Code("TWOFA_RECOVERY_REMOVE_FAILED").
			With("player_id", playerID.String()).
			Wrap(err)
	}

	var remaining int
	err = r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM twofa_recovery_codes WHERE player_id = $1
	`, playerID.String()).Scan(&remaining)
	if err != nil {
		return 0, oops.Code("TWOFA_RECOVERY_REMOVE_FAILED").
			With("operation", "count remaining").
			Wrap(err)
	}
	return remaining, nil
}

// Delete removes a player's enrollment. Recovery codes go with it via the
// foreign key cascade.
func (r *EnrollmentRepository) Delete(ctx context.Context, playerID ulid.ULID) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM twofa_enrollments WHERE player_id = $1
	`, playerID.String())
	if err != nil {
		return oops.Code("TWOFA_DELETE_FAILED").
			With("player_id", playerID.String()).
			Wrap(err)
	}
	return nil
}
