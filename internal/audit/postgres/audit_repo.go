// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

// Package postgres implements the audit repository using PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gateward/gateward/internal/audit"
)

// DB is the pool surface the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AuditRepository implements audit.Repository using PostgreSQL.
type AuditRepository struct {
	db DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db DB) *AuditRepository {
	return &AuditRepository{db: db}
}

var _ audit.Repository = (*AuditRepository)(nil)

// Insert stores one entry.
func (r *AuditRepository) Insert(ctx context.Context, entry *audit.Entry) error {
	var playerID *string
	if entry.PlayerID != nil {
		s := entry.PlayerID.String()
		playerID = &s
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO audit_log (id, kind, player_id, username, ip, detail, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		entry.ID.String(),
		string(entry.Kind),
		playerID,
		entry.Username,
		entry.IP,
		entry.Detail,
		entry.At,
	)
	if err != nil {
		return oops.Code("AUDIT_INSERT_FAILED").
			With("kind", string(entry.Kind)).
			Wrap(err)
	}
	return nil
}

// HistoryByUsername returns entries for a username, newest first.
func (r *AuditRepository) HistoryByUsername(ctx context.Context, username string, limit int) ([]*audit.Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, kind, player_id, username, ip, detail, at
		FROM audit_log
		WHERE LOWER(username) = LOWER($1)
		ORDER BY at DESC
		LIMIT $2
	`, username, limit)
	if err != nil {
		return nil, oops.Code("AUDIT_HISTORY_FAILED").
			With("username", username).
			Wrap(err)
	}
	return collectEntries(rows)
}

// HistoryByIP returns entries for an IP, newest first.
func (r *AuditRepository) HistoryByIP(ctx context.Context, ip string, limit int) ([]*audit.Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, kind, player_id, username, ip, detail, at
		FROM audit_log
		WHERE ip = $1
		ORDER BY at DESC
		LIMIT $2
	`, ip, limit)
	if err != nil {
		return nil, oops.Code("AUDIT_HISTORY_FAILED").
			With("ip", ip).
			Wrap(err)
	}
	return collectEntries(rows)
}

// CountsByKind aggregates entry counts per kind since the given time.
func (r *AuditRepository) CountsByKind(ctx context.Context, since time.Time) (map[audit.EventKind]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT kind, COUNT(*)
		FROM audit_log
		WHERE at >= $1
		GROUP BY kind
	`, since)
	if err != nil {
		return nil, oops.Code("AUDIT_COUNTS_FAILED").Wrap(err)
	}
	defer rows.Close()

	counts := make(map[audit.EventKind]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, oops.Code("AUDIT_COUNTS_FAILED").
				With("operation", "scan count").
				Wrap(err)
		}
		counts[audit.EventKind(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("AUDIT_COUNTS_FAILED").
			With("operation", "iterate counts").
			Wrap(err)
	}
	return counts, nil
}

func collectEntries(rows pgx.Rows) ([]*audit.Entry, error) {
	defer rows.Close()

	var entries []*audit.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("AUDIT_HISTORY_FAILED").
			With("operation", "iterate entries").
			Wrap(err)
	}
	return entries, nil
}

func scanEntry(row pgx.Row) (*audit.Entry, error) {
	var (
		idStr       string
		kind        string
		playerIDStr *string
		entry       audit.Entry
	)

	err := row.Scan(&idStr, &kind, &playerIDStr, &entry.Username, &entry.IP, &entry.Detail, &entry.At)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, oops.Code("AUDIT_SCAN_FAILED").Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("AUDIT_INVALID_ID").With("id", idStr).Wrap(err)
	}
	entry.ID = id
	entry.Kind = audit.EventKind(kind)

	if playerIDStr != nil {
		playerID, err := ulid.Parse(*playerIDStr)
		if err != nil {
			return nil, oops.Code("AUDIT_INVALID_ID").With("player_id", *playerIDStr).Wrap(err)
		}
		entry.PlayerID = &playerID
	}
	return &entry, nil
}
