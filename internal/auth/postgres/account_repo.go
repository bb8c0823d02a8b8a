// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

// Package postgres implements auth repositories using PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gateward/gateward/internal/auth"
)

// DB is the pool surface the repository needs. *pgxpool.Pool satisfies it,
// as does pgxmock in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db DB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db DB) *AccountRepository {
	return &AccountRepository{db: db}
}

var _ auth.AccountRepository = (*AccountRepository)(nil)

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (id, username, password_hash, registered_at, last_login_at, last_login_ip)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		account.ID.String(),
		account.Username,
		account.PasswordHash,
		account.RegisteredAt,
		account.LastLoginAt,
		account.LastLoginIP,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("ACCOUNT_DUPLICATE").
				With("username", account.Username).
				Wrap(auth.ErrDuplicate)
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("username", account.Username).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, username, password_hash, registered_at, last_login_at, last_login_ip
		FROM accounts
		WHERE id = $1
	`, id.String())

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_ID_FAILED").
			With("id", id.String()).
			Wrap(err)
	}
	return account, nil
}

// GetByUsername retrieves an account by username (case-insensitive).
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, username, password_hash, registered_at, last_login_at, last_login_ip
		FROM accounts
		WHERE LOWER(username) = LOWER($1)
	`, username)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("username", username).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_USERNAME_FAILED").
			With("username", username).
			Wrap(err)
	}
	return account, nil
}

// UpdatePassword updates only the password hash for an account.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE accounts SET password_hash = $2 WHERE id = $1
	`, id.String(), passwordHash)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_PASSWORD_FAILED").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdateLastLogin records the time and source IP of a successful login.
func (r *AccountRepository) UpdateLastLogin(ctx context.Context, id ulid.ULID, at time.Time, ip string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE accounts SET last_login_at = $2, last_login_ip = $3 WHERE id = $1
	`, id.String(), at, ip)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_LAST_LOGIN_FAILED").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Count returns the total number of accounts.
func (r *AccountRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n)
	if err != nil {
		return 0, oops.Code("ACCOUNT_COUNT_FAILED").Wrap(err)
	}
	return n, nil
}

// Delete removes an account.
func (r *AccountRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := r.db.Exec(ctx, `
		DELETE FROM accounts WHERE id = $1
	`, id.String())
	if err != nil {
		return oops.Code("ACCOUNT_DELETE_FAILED").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanAccount scans a single row into an Account. Callers handle
// pgx.ErrNoRows themselves.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr        string
		username     string
		passwordHash string
		registeredAt time.Time
		lastLoginAt  *time.Time
		lastLoginIP  *string
	)

	err := row.Scan(&idStr, &username, &passwordHash, &registeredAt, &lastLoginAt, &lastLoginIP)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, oops.Code("ACCOUNT_SCAN_FAILED").Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}

	return &auth.Account{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		RegisteredAt: registeredAt,
		LastLoginAt:  lastLoginAt,
		LastLoginIP:  lastLoginIP,
	}, nil
}
