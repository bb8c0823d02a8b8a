// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

// Package audit records security events asynchronously. Writes never block
// the login path: events go through a bounded queue and are persisted by a
// background worker, dropped (and counted) if the queue is full.
package audit

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventKind classifies an audit entry.
type EventKind string

// Audit event kinds.
const (
	EventRegister       EventKind = "register"
	EventLoginSuccess   EventKind = "login_success"
	EventLoginFailure   EventKind = "login_failure"
	EventLogout         EventKind = "logout"
	EventSessionResume  EventKind = "session_resume"
	EventSessionExpired EventKind = "session_expired"
	EventPasswordChange EventKind = "password_change"
	EventTwoFAEnroll    EventKind = "twofa_enroll"
	EventTwoFAConfirm   EventKind = "twofa_confirm"
	EventTwoFADisable   EventKind = "twofa_disable"
	EventTwoFAFailure   EventKind = "twofa_failure"
	EventRecoveryUsed   EventKind = "recovery_used"
	EventBanIssued      EventKind = "ban_issued"
	EventBanLifted      EventKind = "ban_lifted"
	EventAdminAction    EventKind = "admin_action"
)

// Entry is one audit record. PlayerID is nil for events with no resolved
// account, failed logins against unknown usernames for instance.
type Entry struct {
	ID       ulid.ULID
	Kind     EventKind
	PlayerID *ulid.ULID
	Username string
	IP       string
	Detail   string
	At       time.Time
}

// Stats is an aggregate view over the audit trail since a point in time.
type Stats struct {
	Since  time.Time
	Counts map[EventKind]int64
}

// Repository manages audit persistence.
type Repository interface {
	// Insert stores one entry.
	Insert(ctx context.Context, entry *Entry) error

	// HistoryByUsername returns entries for a username, newest first.
	HistoryByUsername(ctx context.Context, username string, limit int) ([]*Entry, error)

	// HistoryByIP returns entries for an IP, newest first.
	HistoryByIP(ctx context.Context, ip string, limit int) ([]*Entry, error)

	// CountsByKind aggregates entry counts per kind since the given time.
	CountsByKind(ctx context.Context, since time.Time) (map[EventKind]int64, error)
}
