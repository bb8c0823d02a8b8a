// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

// Package antibot scores connection sources and enforces IP bans with
// escalating durations for repeat offenders.
package antibot

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrNotFound is returned when no matching ban exists.
var ErrNotFound = errors.New("ban not found")

// Ban is one ban record for an IP. Expired bans are retained as history; the
// escalation logic reads them to decide how hard to hit the next offense.
type Ban struct {
	ID        ulid.ULID
	IP        string
	Reason    string
	Level     int // escalation level, 1-based
	Permanent bool
	CreatedBy string // "system" for automatic bans, admin name otherwise
	CreatedAt time.Time
	ExpiresAt *time.Time // nil when permanent
}

// ActiveAt reports whether the ban is in force at the given time.
func (b *Ban) ActiveAt(t time.Time) bool {
	if b.Permanent {
		return true
	}
	return b.ExpiresAt != nil && t.Before(*b.ExpiresAt)
}

// Repository manages ban persistence.
type Repository interface {
	// Create stores a new ban record.
	Create(ctx context.Context, ban *Ban) error

	// GetActiveByIP retrieves the ban in force for an IP, if any.
	GetActiveByIP(ctx context.Context, ip string, now time.Time) (*Ban, error)

	// GetLatestByIP retrieves the most recent ban for an IP, active or not.
	// Escalation reads this to decide the next level.
	GetLatestByIP(ctx context.Context, ip string) (*Ban, error)

	// DeactivateByIP ends any active ban for the IP early. Returns the
	// number of bans lifted.
	DeactivateByIP(ctx context.Context, ip string, now time.Time) (int64, error)

	// ListActive returns all bans in force, most recent first.
	ListActive(ctx context.Context, now time.Time) ([]*Ban, error)

	// CountActive returns the number of bans in force.
	CountActive(ctx context.Context, now time.Time) (int64, error)
}
