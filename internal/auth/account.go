// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

package auth

import (
	"context"
	"regexp"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 16
)

// usernameRegex matches usernames that:
// - Start with a letter (a-z, A-Z)
// - Contain only letters, numbers, and underscores
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Account is the durable credential record for a player.
type Account struct {
	ID           ulid.ULID
	Username     string
	PasswordHash string
	RegisteredAt time.Time
	LastLoginAt  *time.Time
	LastLoginIP  *string
}

// NewAccount creates a validated Account with the given credential hash.
func NewAccount(username, passwordHash string) (*Account, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_EMPTY_HASH").Errorf("password hash cannot be empty")
	}
	return &Account{
		ID:           ulid.Make(),
		Username:     username,
		PasswordHash: passwordHash,
		RegisteredAt: time.Now(),
	}, nil
}

// ValidateUsername validates a username against rules.
// Username requirements:
// - Length: MinUsernameLength to MaxUsernameLength characters
// - Must start with a letter
// - Can contain only letters (a-z, A-Z), numbers (0-9), and underscores (_)
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code("AUTH_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code("AUTH_INVALID_USERNAME").
			Errorf("username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// AccountRepository manages account persistence.
type AccountRepository interface {
	// Create stores a new account. Returns an error wrapping ErrDuplicate
	// if the username is already taken.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByUsername retrieves an account by username (case-insensitive).
	GetByUsername(ctx context.Context, username string) (*Account, error)

	// UpdatePassword updates only the password hash for an account.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error

	// UpdateLastLogin records the time and source IP of a successful login.
	UpdateLastLogin(ctx context.Context, id ulid.ULID, at time.Time, ip string) error

	// Count returns the total number of accounts.
	Count(ctx context.Context) (int64, error)

	// Delete removes an account.
	Delete(ctx context.Context, id ulid.ULID) error
}
