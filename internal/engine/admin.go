// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

package engine

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gateward/gateward/internal/antibot"
	"github.com/gateward/gateward/internal/audit"
	"github.com/gateward/gateward/internal/auth"
	"github.com/gateward/gateward/internal/logging"
	"github.com/gateward/gateward/internal/twofa"
)

// Report is the aggregate security view for operators.
type Report struct {
	Accounts              int64
	OnlinePlayers         int
	ActiveSessions        int64
	ActiveBans            int64
	LoginFailuresLastHour int64
	RegistrationsToday    int64
	AuditQueueDepth       int
}

// ForceAuthenticate authenticates a player without credentials. Admin only;
// always audited with the acting operator.
func (e *Engine) ForceAuthenticate(ctx context.Context, username, actor string) (*auth.Result, error) {
	defer e.lockKey(usernameKey(username))()

	return e.auth.ForceAuthenticate(ctx, username, actor)
}

// ResetPassword sets a player's password without the current one. All of the
// player's sessions are destroyed. Admin only; always audited.
func (e *Engine) ResetPassword(ctx context.Context, username, next, actor string) (*auth.Result, error) {
	defer e.lockKey(usernameKey(username))()

	return e.auth.ResetPassword(ctx, username, next, actor)
}

// BanIP places a manual ban. Zero or negative duration means permanent.
func (e *Engine) BanIP(ctx context.Context, ip, reason, actor string, duration time.Duration) (*antibot.Ban, error) {
	ban, err := e.antiBot.BanIP(ctx, ip, reason, actor, duration)
	if err != nil {
		return nil, err
	}
	e.auditLog.Log(audit.EventBanIssued, nil, "", ip, "manual ban by "+actor+": "+reason)
	return ban, nil
}

// UnbanIP lifts any active ban for the IP, permanent bans included.
func (e *Engine) UnbanIP(ctx context.Context, ip, actor string) error {
	if err := e.antiBot.UnbanIP(ctx, ip); err != nil {
		return err
	}
	e.auditLog.Log(audit.EventBanLifted, nil, "", ip, "unbanned by "+actor)
	return nil
}

// ListBans returns all bans currently in force.
func (e *Engine) ListBans(ctx context.Context) ([]*antibot.Ban, error) {
	return e.antiBot.ListActiveBans(ctx)
}

// HistoryByUsername returns the audit trail for an account, newest first.
func (e *Engine) HistoryByUsername(ctx context.Context, username string, limit int) ([]*audit.Entry, error) {
	return e.auditLog.HistoryByUsername(ctx, username, limit)
}

// HistoryByIP returns the audit trail for a source IP, newest first.
func (e *Engine) HistoryByIP(ctx context.Context, ip string, limit int) ([]*audit.Entry, error) {
	return e.auditLog.HistoryByIP(ctx, ip, limit)
}

// Stats aggregates the operator overview. The host supplies onlineCount since
// only it knows how many connections are live; everything else comes from SQL
// on each call, not from cached counters.
func (e *Engine) Stats(ctx context.Context, onlineCount int) (*Report, error) {
	accounts, err := e.accounts.Count(ctx)
	if err != nil {
		return nil, err
	}
	sessions, err := e.sessions.CountActive(ctx)
	if err != nil {
		return nil, err
	}
	bans, err := e.antiBot.CountActiveBans(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	lastHour, err := e.auditLog.Stats(ctx, now.Add(-time.Hour))
	if err != nil {
		return nil, err
	}
	today, err := e.auditLog.Stats(ctx, now.Truncate(24*time.Hour))
	if err != nil {
		return nil, err
	}

	return &Report{
		Accounts:              accounts,
		OnlinePlayers:         onlineCount,
		ActiveSessions:        sessions,
		ActiveBans:            bans,
		LoginFailuresLastHour: lastHour.Counts[audit.EventLoginFailure],
		RegistrationsToday:    today.Counts[audit.EventRegister],
		AuditQueueDepth:       e.auditLog.QueueDepth(),
	}, nil
}

// SetVerbose flips debug logging at runtime.
func (e *Engine) SetVerbose(enabled bool) {
	logging.SetVerbose(enabled)
	e.logger.Info("verbose diagnostics toggled", "enabled", enabled)
}

// EnrollTwoFactor starts TOTP enrollment for the player. The returned ticket
// carries the secret, provisioning URL, and recovery codes; none of them are
// retrievable later.
func (e *Engine) EnrollTwoFactor(ctx context.Context, playerID ulid.ULID) (*twofa.EnrollmentTicket, error) {
	defer e.lockKey(playerKey(playerID))()

	account, err := e.accounts.GetByID(ctx, playerID)
	if err != nil {
		return nil, err
	}

	ticket, err := e.twoFA.Enroll(ctx, playerID, account.Username, e.currentConfig().TwoFA.RecoveryCodes)
	if err != nil {
		return nil, err
	}
	e.auditLog.Log(audit.EventTwoFAEnroll, &playerID, account.Username, "", "enrollment started")
	return ticket, nil
}

// ConfirmTwoFactor activates a pending enrollment once the player proves
// their authenticator produces valid codes.
func (e *Engine) ConfirmTwoFactor(ctx context.Context, playerID ulid.ULID, code string) (bool, error) {
	defer e.lockKey(playerKey(playerID))()

	ok, err := e.twoFA.ConfirmEnrollment(ctx, playerID, code)
	if err != nil || !ok {
		return ok, err
	}
	e.auditLog.Log(audit.EventTwoFAConfirm, &playerID, "", "", "enrollment confirmed")
	return true, nil
}

// DisableTwoFactor removes the player's enrollment.
func (e *Engine) DisableTwoFactor(ctx context.Context, playerID ulid.ULID, actor string) error {
	defer e.lockKey(playerKey(playerID))()

	if err := e.twoFA.Disable(ctx, playerID); err != nil {
		return err
	}
	e.auditLog.Log(audit.EventTwoFADisable, &playerID, "", "", "disabled by "+actor)
	return nil
}
