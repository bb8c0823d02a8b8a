// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

// Package postgres implements the ban repository using PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gateward/gateward/internal/antibot"
)

// DB is the pool surface the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const banColumns = `id, ip, reason, level, permanent, created_by, created_at, expires_at`

// BanRepository implements antibot.Repository using PostgreSQL.
type BanRepository struct {
	db DB
}

// NewBanRepository creates a new BanRepository.
func NewBanRepository(db DB) *BanRepository {
	return &BanRepository{db: db}
}

var _ antibot.Repository = (*BanRepository)(nil)

// Create stores a new ban record.
func (r *BanRepository) Create(ctx context.Context, ban *antibot.Ban) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO ip_bans (`+banColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		ban.ID.String(),
		ban.IP,
		ban.Reason,
		ban.Level,
		ban.Permanent,
		ban.CreatedBy,
		ban.CreatedAt,
		ban.ExpiresAt,
	)
	if err != nil {
		return oops.Code("BAN_CREATE_FAILED").
			With("ip", ban.IP).
			Wrap(err)
	}
	return nil
}

// GetActiveByIP retrieves the ban in force for an IP, if any.
func (r *BanRepository) GetActiveByIP(ctx context.Context, ip string, now time.Time) (*antibot.Ban, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+banColumns+`
		FROM ip_bans
		WHERE ip = $1 AND (permanent OR expires_at > $2)
		ORDER BY created_at DESC
		LIMIT 1
	`, ip, now)

	ban, err := scanBan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("BAN_NOT_FOUND").
			With("ip", ip).
			Wrap(antibot.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("BAN_GET_FAILED").
			With("ip", ip).
			Wrap(err)
	}
	return ban, nil
}

// GetLatestByIP retrieves the most recent ban for an IP, active or not.
func (r *BanRepository) GetLatestByIP(ctx context.Context, ip string) (*antibot.Ban, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+banColumns+`
		FROM ip_bans
		WHERE ip = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, ip)

	ban, err := scanBan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("BAN_NOT_FOUND").
			With("ip", ip).
			Wrap(antibot.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("BAN_GET_FAILED").
			With("ip", ip).
			Wrap(err)
	}
	return ban, nil
}

// DeactivateByIP ends any active ban for the IP early by expiring it now.
func (r *BanRepository) DeactivateByIP(ctx context.Context, ip string, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE ip_bans SET permanent = FALSE, expires_at = $2
		WHERE ip = $1 AND (permanent OR expires_at > $2)
	`, ip, now)
	if err != nil {
		return 0, oops.Code("BAN_DEACTIVATE_FAILED").
			With("ip", ip).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// ListActive returns all bans in force, most recent first.
func (r *BanRepository) ListActive(ctx context.Context, now time.Time) ([]*antibot.Ban, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+banColumns+`
		FROM ip_bans
		WHERE permanent OR expires_at > $1
		ORDER BY created_at DESC
	`, now)
	if err != nil {
		return nil, oops.Code("BAN_LIST_FAILED").Wrap(err)
	}
	defer rows.Close()

	var bans []*antibot.Ban
	for rows.Next() {
		ban, err := scanBan(rows)
		if err != nil {
			return nil, oops.Code("BAN_LIST_FAILED").
				With("operation", "scan ban").
				Wrap(err)
		}
		bans = append(bans, ban)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("BAN_LIST_FAILED").
			With("operation", "iterate bans").
			Wrap(err)
	}
	return bans, nil
}

// CountActive returns the number of bans in force.
func (r *BanRepository) CountActive(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM ip_bans WHERE permanent OR expires_at > $1
	`, now).Scan(&n)
	if err != nil {
		return 0, oops.Code("BAN_COUNT_FAILED").Wrap(err)
	}
	return n, nil
}

func scanBan(row pgx.Row) (*antibot.Ban, error) {
	var (
		idStr     string
		ban       antibot.Ban
		expiresAt *time.Time
	)

	err := row.Scan(&idStr, &ban.IP, &ban.Reason, &ban.Level, &ban.Permanent,
		&ban.CreatedBy, &ban.CreatedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, oops.Code("BAN_SCAN_FAILED").Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("BAN_INVALID_ID").With("id", idStr).Wrap(err)
	}
	ban.ID = id
	ban.ExpiresAt = expiresAt
	return &ban, nil
}
