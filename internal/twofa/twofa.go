// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

// Package twofa implements TOTP-based second-factor enrollment and
// verification, with hashed single-use recovery codes.
package twofa

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// Status is the lifecycle state of a player's second-factor enrollment.
type Status string

// Enrollment statuses. A pending enrollment does not gate login; it becomes
// active only after the player proves possession by confirming a code.
const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
)

// ErrNotFound is returned when a player has no second-factor enrollment.
var ErrNotFound = errors.New("two-factor enrollment not found")

// Enrollment is a player's second-factor record. RecoveryCodeHashes holds
// SHA-256 hashes of the unused recovery codes; plaintext codes are shown to
// the player exactly once at enrollment.
type Enrollment struct {
	PlayerID           ulid.ULID
	Secret             string
	Status             Status
	RecoveryCodeHashes []string
	CreatedAt          time.Time
	ConfirmedAt        *time.Time
}

// Repository manages second-factor persistence.
type Repository interface {
	// Upsert stores the enrollment, replacing any existing one for the player.
	Upsert(ctx context.Context, enrollment *Enrollment) error

	// Get retrieves a player's enrollment.
	Get(ctx context.Context, playerID ulid.ULID) (*Enrollment, error)

	// Activate marks a pending enrollment active.
	Activate(ctx context.Context, playerID ulid.ULID, confirmedAt time.Time) error

	// RemoveRecoveryCode deletes a consumed recovery code hash and returns
	// how many codes remain.
	RemoveRecoveryCode(ctx context.Context, playerID ulid.ULID, codeHash string) (int, error)

	// Delete removes a player's enrollment.
	Delete(ctx context.Context, playerID ulid.ULID) error
}
