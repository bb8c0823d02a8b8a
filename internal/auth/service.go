// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gateward/gateward/internal/antibot"
	"github.com/gateward/gateward/internal/audit"
	"github.com/gateward/gateward/internal/integration"
	"github.com/gateward/gateward/internal/ratelimit"
	"github.com/gateward/gateward/internal/session"
	"github.com/gateward/gateward/pkg/errutil"
)

// maxPasswordLength caps credential size before hashing. Argon2 cost scales
// with input length; unbounded input is a denial-of-service vector.
const maxPasswordLength = 256

// Outcome classifies the result of an authentication operation. Policy and
// validation failures are outcomes, not errors; an error from the service
// means infrastructure trouble and the caller must deny.
type Outcome int

// Authentication outcomes.
const (
	OutcomeSuccess Outcome = iota
	OutcomeAwaitingTwoFactor
	OutcomeInvalidCredentials
	OutcomeInvalidInput
	OutcomeUsernameTaken
	OutcomeBanned
	OutcomeOnCooldown
	OutcomeRateLimited
	OutcomeTwoFactorReverted
	OutcomeNotAwaiting
	OutcomeSessionInvalid
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeAwaitingTwoFactor:
		return "awaiting_2fa"
	case OutcomeInvalidCredentials:
		return "invalid_credentials"
	case OutcomeInvalidInput:
		return "invalid_input"
	case OutcomeUsernameTaken:
		return "username_taken"
	case OutcomeBanned:
		return "banned"
	case OutcomeOnCooldown:
		return "on_cooldown"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeTwoFactorReverted:
		return "twofa_reverted"
	case OutcomeNotAwaiting:
		return "not_awaiting"
	case OutcomeSessionInvalid:
		return "session_invalid"
	default:
		return "unknown"
	}
}

// Result is what an authentication operation produced. Fields beyond Outcome
// are populated where they apply: Session and Token on success, Ban when the
// source is banned, RetryAfter on cooldown.
type Result struct {
	Outcome    Outcome
	Account    *Account
	Session    *session.Session
	Token      string
	Ban        *antibot.Ban
	RetryAfter time.Duration
	Reason     string
}

// Gate is the anti-bot surface the login path consults.
type Gate interface {
	CheckIP(ctx context.Context, ip string) (*antibot.Ban, error)
	RecordFailure(ctx context.Context, ip string) (*antibot.Ban, error)
	RecordSuccess(ip string)
}

// SecondFactor is the two-factor surface the login path consults.
type SecondFactor interface {
	IsEnabled(ctx context.Context, playerID ulid.ULID) (bool, error)
	Verify(ctx context.Context, playerID ulid.ULID, code string) (bool, error)
	UseRecoveryCode(ctx context.Context, playerID ulid.ULID, code string) (bool, int, error)
}

// SessionManager is the session surface the login path drives.
type SessionManager interface {
	Issue(ctx context.Context, playerID ulid.ULID, binding, ip string) (*session.Session, string, error)
	Validate(ctx context.Context, token string) (*session.Session, error)
	Refresh(ctx context.Context, sess *session.Session) (bool, error)
	InvalidatePlayer(ctx context.Context, playerID ulid.ULID) error
}

// Auditor receives security events. Implementations must not block.
type Auditor interface {
	Log(kind audit.EventKind, playerID *ulid.ULID, username, ip, detail string)
}

// Params is the reloadable policy surface of the auth service.
type Params struct {
	MinPasswordLength int
	TwoFAMaxFailures  int
}

// Deps are the collaborators the auth service orchestrates.
type Deps struct {
	Accounts AccountRepository
	Hasher   PasswordHasher
	Tracker  *Tracker
	Cooldown *ratelimit.Cooldown
	Limiter  *ratelimit.Limiter
	Gate     Gate
	Second   SecondFactor
	Sessions SessionManager
	Audit    Auditor
	Notifier integration.PermissionNotifier
	Logger   *slog.Logger
}

// Service orchestrates the authentication control flow: the anti-bot gate,
// per-player cooldown and rate limit, credential verification, second-factor
// hand-off, session issuance, and audit logging.
//
// Every check that exists to keep an attacker out fails closed: if the ban
// store or account store cannot answer, the operation returns an error and
// the caller denies access.
type Service struct {
	deps Deps

	mu     sync.Mutex
	params Params

	// dummyHash absorbs verification time for unknown usernames, so a
	// missing account is not distinguishable from a wrong password by
	// response timing.
	dummyHash string
}

// NewService creates the auth service.
func NewService(deps Deps, params Params) (*Service, error) {
	dummy, err := deps.Hasher.Hash("gateward-timing-equalizer")
	if err != nil {
		return nil, oops.Code("AUTH_INIT_FAILED").Wrap(err)
	}
	return &Service{
		deps:      deps,
		params:    params,
		dummyHash: dummy,
	}, nil
}

// Reconfigure applies new policy values.
func (s *Service) Reconfigure(params Params) {
	s.mu.Lock()
	s.params = params
	s.mu.Unlock()
}

func (s *Service) currentParams() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Register creates an account and, on success, authenticates the player
// immediately. The source IP must pass the anti-bot gate first.
func (s *Service) Register(ctx context.Context, username, password, ip, binding string) (*Result, error) {
	if res, err := s.gateCheck(ctx, username, ip); res != nil || err != nil {
		return res, err
	}

	if err := ValidateUsername(username); err != nil {
		return &Result{Outcome: OutcomeInvalidInput, Reason: err.Error()}, nil
	}
	if reason := s.validatePassword(password); reason != "" {
		return &Result{Outcome: OutcomeInvalidInput, Reason: reason}, nil
	}

	hash, err := s.deps.Hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	account, err := NewAccount(username, hash)
	if err != nil {
		return nil, err
	}

	if err := s.deps.Accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return &Result{Outcome: OutcomeUsernameTaken}, nil
		}
		return nil, err
	}

	s.deps.Audit.Log(audit.EventRegister, &account.ID, account.Username, ip, "")
	s.deps.Logger.Info("account registered",
		"player_id", account.ID,
		"username", account.Username)

	return s.finalize(ctx, account, ip, binding)
}

// Login runs the credential stage. Outcomes:
//   - OutcomeBanned, OutcomeOnCooldown, OutcomeRateLimited: attempt refused
//     before credentials were even looked at
//   - OutcomeInvalidCredentials: unknown username or wrong password,
//     deliberately indistinguishable
//   - OutcomeAwaitingTwoFactor: credentials good, second factor required
//   - OutcomeSuccess: fully authenticated, session issued
func (s *Service) Login(ctx context.Context, username, password, ip, binding string) (*Result, error) {
	if res, err := s.gateCheck(ctx, username, ip); res != nil || err != nil {
		return res, err
	}

	key := loginKey(username)
	if s.deps.Cooldown.IsOnCooldown(key) {
		return &Result{
			Outcome:    OutcomeOnCooldown,
			RetryAfter: s.deps.Cooldown.Remaining(key),
		}, nil
	}
	if !s.deps.Limiter.TryAcquire(key) {
		s.deps.Audit.Log(audit.EventLoginFailure, nil, username, ip, "rate limited")
		return &Result{Outcome: OutcomeRateLimited}, nil
	}
	s.deps.Cooldown.Set(key)

	account, err := s.deps.Accounts.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Burn the same hashing time a real verification would.
			_, _ = s.deps.Hasher.Verify(password, s.dummyHash)
			return s.credentialFailure(ctx, nil, username, ip, "unknown username")
		}
		return nil, oops.Code("AUTH_STORE_UNAVAILABLE").Wrap(errors.Join(ErrUnavailable, err))
	}

	ok, err := s.deps.Hasher.Verify(password, account.PasswordHash)
	if err != nil {
		errutil.LogError(s.deps.Logger, "stored credential hash is invalid", oops.Code("AUTH_CORRUPT_HASH").
			With("player_id", account.ID).
			Wrap(err))
		return s.credentialFailure(ctx, &account.ID, username, ip, "unverifiable hash")
	}
	if !ok {
		s.deps.Tracker.RecordCredentialFailure(account.ID)
		return s.credentialFailure(ctx, &account.ID, username, ip, "wrong password")
	}

	s.maybeUpgradeHash(ctx, account, password)

	enabled, err := s.deps.Second.IsEnabled(ctx, account.ID)
	if err != nil {
		return nil, oops.Code("AUTH_STORE_UNAVAILABLE").Wrap(errors.Join(ErrUnavailable, err))
	}
	if enabled {
		// A repeat login restarts the flow even when the player is already
		// past the credential stage on another connection.
		s.deps.Tracker.Reset(account.ID)
		if _, err := s.deps.Tracker.MarkAwaitingTwoFA(account.ID); err != nil {
			return nil, err
		}
		return &Result{Outcome: OutcomeAwaitingTwoFactor, Account: account}, nil
	}

	return s.finalize(ctx, account, ip, binding)
}

// SubmitTwoFactor runs the second-factor stage for a player who passed the
// credential stage. Too many wrong codes revert the player to the start of
// the flow.
func (s *Service) SubmitTwoFactor(ctx context.Context, playerID ulid.ULID, code, ip, binding string) (*Result, error) {
	if s.deps.Tracker.Get(playerID).Phase != PhaseAwaitingTwoFA {
		return &Result{Outcome: OutcomeNotAwaiting}, nil
	}

	account, err := s.deps.Accounts.GetByID(ctx, playerID)
	if err != nil {
		return nil, oops.Code("AUTH_STORE_UNAVAILABLE").Wrap(errors.Join(ErrUnavailable, err))
	}

	ok, err := s.deps.Second.Verify(ctx, playerID, code)
	if err != nil {
		return nil, oops.Code("AUTH_STORE_UNAVAILABLE").Wrap(errors.Join(ErrUnavailable, err))
	}
	if !ok {
		return s.twoFactorFailure(ctx, account, ip)
	}

	return s.finalize(ctx, account, ip, binding)
}

// SubmitRecoveryCode authenticates via a single-use recovery code instead of
// a TOTP code. Counts against the same failure budget when wrong.
func (s *Service) SubmitRecoveryCode(ctx context.Context, playerID ulid.ULID, code, ip, binding string) (*Result, error) {
	if s.deps.Tracker.Get(playerID).Phase != PhaseAwaitingTwoFA {
		return &Result{Outcome: OutcomeNotAwaiting}, nil
	}

	account, err := s.deps.Accounts.GetByID(ctx, playerID)
	if err != nil {
		return nil, oops.Code("AUTH_STORE_UNAVAILABLE").Wrap(errors.Join(ErrUnavailable, err))
	}

	ok, remaining, err := s.deps.Second.UseRecoveryCode(ctx, playerID, code)
	if err != nil {
		return nil, oops.Code("AUTH_STORE_UNAVAILABLE").Wrap(errors.Join(ErrUnavailable, err))
	}
	if !ok {
		return s.twoFactorFailure(ctx, account, ip)
	}

	s.deps.Audit.Log(audit.EventRecoveryUsed, &account.ID, account.Username, ip, "")
	if remaining == 0 {
		s.deps.Logger.Warn("last recovery code consumed", "player_id", account.ID)
	}
	return s.finalize(ctx, account, ip, binding)
}

// ResumeSession authenticates a returning player by session token, the path
// where no password is typed. A valid session close to expiry is refreshed.
func (s *Service) ResumeSession(ctx context.Context, token, ip string) (*Result, error) {
	if res, err := s.gateCheck(ctx, "", ip); res != nil || err != nil {
		return res, err
	}

	sess, err := s.deps.Sessions.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return &Result{Outcome: OutcomeSessionInvalid}, nil
		}
		return nil, oops.Code("AUTH_STORE_UNAVAILABLE").Wrap(errors.Join(ErrUnavailable, err))
	}

	account, err := s.deps.Accounts.GetByID(ctx, sess.PlayerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// account deleted since the session was issued
			return &Result{Outcome: OutcomeSessionInvalid}, nil
		}
		return nil, oops.Code("AUTH_STORE_UNAVAILABLE").Wrap(errors.Join(ErrUnavailable, err))
	}

	if _, err := s.deps.Sessions.Refresh(ctx, sess); err != nil {
		errutil.LogWarn(s.deps.Logger, "session refresh failed", err)
	}

	s.deps.Tracker.MarkAuthenticated(account.ID)
	s.deps.Gate.RecordSuccess(ip)
	s.deps.Notifier.Authenticated(ctx, account.ID, account.Username)
	s.deps.Audit.Log(audit.EventSessionResume, &account.ID, account.Username, ip, "")

	return &Result{Outcome: OutcomeSuccess, Account: account, Session: sess}, nil
}

// Logout ends the player's authenticated standing and invalidates every
// session they hold.
func (s *Service) Logout(ctx context.Context, playerID ulid.ULID, ip string) error {
	username := ""
	if account, err := s.deps.Accounts.GetByID(ctx, playerID); err == nil {
		username = account.Username
	}

	s.deps.Tracker.Reset(playerID)
	if err := s.deps.Sessions.InvalidatePlayer(ctx, playerID); err != nil {
		return err
	}
	s.deps.Notifier.Deauthenticated(ctx, playerID, username)
	s.deps.Audit.Log(audit.EventLogout, &playerID, username, ip, "")
	return nil
}

// ChangePassword rotates the player's password after verifying the current
// one, and invalidates all their sessions. The player's in-memory
// authenticated standing is untouched.
func (s *Service) ChangePassword(ctx context.Context, playerID ulid.ULID, current, next, ip string) (*Result, error) {
	account, err := s.deps.Accounts.GetByID(ctx, playerID)
	if err != nil {
		return nil, oops.Code("AUTH_STORE_UNAVAILABLE").Wrap(errors.Join(ErrUnavailable, err))
	}

	ok, err := s.deps.Hasher.Verify(current, account.PasswordHash)
	if err != nil || !ok {
		s.deps.Audit.Log(audit.EventLoginFailure, &account.ID, account.Username, ip, "password change, wrong current password")
		return &Result{Outcome: OutcomeInvalidCredentials}, nil
	}
	if reason := s.validatePassword(next); reason != "" {
		return &Result{Outcome: OutcomeInvalidInput, Reason: reason}, nil
	}

	if err := s.rotatePassword(ctx, account, next); err != nil {
		return nil, err
	}
	s.deps.Audit.Log(audit.EventPasswordChange, &account.ID, account.Username, ip, "")
	return &Result{Outcome: OutcomeSuccess, Account: account}, nil
}

// ResetPassword sets a player's password without knowing the current one.
// Admin-only; the actor lands in the audit trail.
func (s *Service) ResetPassword(ctx context.Context, username, next, actor string) (*Result, error) {
	account, err := s.deps.Accounts.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &Result{Outcome: OutcomeInvalidInput, Reason: "no such account"}, nil
		}
		return nil, oops.Code("AUTH_STORE_UNAVAILABLE").Wrap(errors.Join(ErrUnavailable, err))
	}
	if reason := s.validatePassword(next); reason != "" {
		return &Result{Outcome: OutcomeInvalidInput, Reason: reason}, nil
	}

	if err := s.rotatePassword(ctx, account, next); err != nil {
		return nil, err
	}
	s.deps.Tracker.Reset(account.ID)
	s.deps.Audit.Log(audit.EventAdminAction, &account.ID, account.Username, "", "password reset by "+actor)
	s.deps.Logger.Warn("password reset by admin",
		"player_id", account.ID,
		"username", account.Username,
		"actor", actor)
	return &Result{Outcome: OutcomeSuccess, Account: account}, nil
}

// ForceAuthenticate marks a player authenticated without credentials.
// Admin-only escape hatch for locked-out players; no session is issued.
func (s *Service) ForceAuthenticate(ctx context.Context, username, actor string) (*Result, error) {
	account, err := s.deps.Accounts.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &Result{Outcome: OutcomeInvalidInput, Reason: "no such account"}, nil
		}
		return nil, oops.Code("AUTH_STORE_UNAVAILABLE").Wrap(errors.Join(ErrUnavailable, err))
	}

	s.deps.Tracker.MarkAuthenticated(account.ID)
	s.deps.Notifier.Authenticated(ctx, account.ID, account.Username)
	s.deps.Audit.Log(audit.EventAdminAction, &account.ID, account.Username, "", "force authenticated by "+actor)
	s.deps.Logger.Warn("player force authenticated",
		"player_id", account.ID,
		"username", account.Username,
		"actor", actor)
	return &Result{Outcome: OutcomeSuccess, Account: account}, nil
}

// gateCheck consults the anti-bot gate. Returns a non-nil Result when the
// attempt must be refused, an error when the gate cannot answer (deny).
func (s *Service) gateCheck(ctx context.Context, username, ip string) (*Result, error) {
	ban, err := s.deps.Gate.CheckIP(ctx, ip)
	if err != nil {
		return nil, oops.Code("AUTH_GATE_UNAVAILABLE").Wrap(errors.Join(ErrUnavailable, err))
	}
	if ban != nil {
		s.deps.Audit.Log(audit.EventLoginFailure, nil, username, ip, "source banned")
		return &Result{Outcome: OutcomeBanned, Ban: ban}, nil
	}
	return nil, nil
}

// credentialFailure is the shared tail of every failed credential check:
// audit, feed the anti-bot scorer, and report the attempt as invalid. When
// the scorer issues a ban on the spot the outcome is Banned instead.
func (s *Service) credentialFailure(ctx context.Context, playerID *ulid.ULID, username, ip, detail string) (*Result, error) {
	s.deps.Audit.Log(audit.EventLoginFailure, playerID, username, ip, detail)

	ban, err := s.deps.Gate.RecordFailure(ctx, ip)
	if err != nil {
		return nil, oops.Code("AUTH_GATE_UNAVAILABLE").Wrap(errors.Join(ErrUnavailable, err))
	}
	if ban != nil {
		return &Result{Outcome: OutcomeBanned, Ban: ban}, nil
	}
	return &Result{Outcome: OutcomeInvalidCredentials}, nil
}

// twoFactorFailure counts a wrong second-factor submission. At the
// configured threshold the player reverts to the credential stage.
func (s *Service) twoFactorFailure(ctx context.Context, account *Account, ip string) (*Result, error) {
	s.deps.Audit.Log(audit.EventTwoFAFailure, &account.ID, account.Username, ip, "")

	ban, err := s.deps.Gate.RecordFailure(ctx, ip)
	if err != nil {
		return nil, oops.Code("AUTH_GATE_UNAVAILABLE").Wrap(errors.Join(ErrUnavailable, err))
	}
	if ban != nil {
		return &Result{Outcome: OutcomeBanned, Ban: ban}, nil
	}

	_, reverted := s.deps.Tracker.RecordTwoFAFailure(account.ID, s.currentParams().TwoFAMaxFailures)
	if reverted {
		return &Result{Outcome: OutcomeTwoFactorReverted}, nil
	}
	return &Result{Outcome: OutcomeInvalidCredentials}, nil
}

// finalize is the shared success tail: state transition, counters, session
// issuance, host notification, audit.
func (s *Service) finalize(ctx context.Context, account *Account, ip, binding string) (*Result, error) {
	s.deps.Tracker.MarkAuthenticated(account.ID)
	s.deps.Gate.RecordSuccess(ip)
	key := loginKey(account.Username)
	s.deps.Cooldown.Clear(key)
	s.deps.Limiter.Reset(key)

	now := time.Now()
	if err := s.deps.Accounts.UpdateLastLogin(ctx, account.ID, now, ip); err != nil {
		errutil.LogWarn(s.deps.Logger, "failed to record last login", err)
	} else {
		account.LastLoginAt = &now
		account.LastLoginIP = &ip
	}

	sess, token, err := s.deps.Sessions.Issue(ctx, account.ID, binding, ip)
	if err != nil {
		return nil, err
	}

	s.deps.Notifier.Authenticated(ctx, account.ID, account.Username)
	s.deps.Audit.Log(audit.EventLoginSuccess, &account.ID, account.Username, ip, "")
	s.deps.Logger.Info("player authenticated",
		"player_id", account.ID,
		"username", account.Username)

	return &Result{
		Outcome: OutcomeSuccess,
		Account: account,
		Session: sess,
		Token:   token,
	}, nil
}

// maybeUpgradeHash transparently re-hashes the password when the stored hash
// is weaker than the configured work factor. Best effort; the old hash keeps
// working if the write fails.
func (s *Service) maybeUpgradeHash(ctx context.Context, account *Account, password string) {
	if !s.deps.Hasher.NeedsUpgrade(account.PasswordHash) {
		return
	}
	hash, err := s.deps.Hasher.Hash(password)
	if err != nil {
		errutil.LogWarn(s.deps.Logger, "hash upgrade failed", err)
		return
	}
	if err := s.deps.Accounts.UpdatePassword(ctx, account.ID, hash); err != nil {
		errutil.LogWarn(s.deps.Logger, "hash upgrade failed", err)
		return
	}
	account.PasswordHash = hash
	s.deps.Logger.Info("credential hash upgraded", "player_id", account.ID)
}

func (s *Service) rotatePassword(ctx context.Context, account *Account, next string) error {
	hash, err := s.deps.Hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := s.deps.Accounts.UpdatePassword(ctx, account.ID, hash); err != nil {
		return err
	}
	account.PasswordHash = hash
	if err := s.deps.Sessions.InvalidatePlayer(ctx, account.ID); err != nil {
		errutil.LogWarn(s.deps.Logger, "failed to invalidate sessions after password rotation", err)
	}
	return nil
}

func (s *Service) validatePassword(password string) string {
	min := s.currentParams().MinPasswordLength
	if len(password) < min {
		return "password too short"
	}
	if len(password) > maxPasswordLength {
		return "password too long"
	}
	return ""
}

func loginKey(username string) string {
	return "login:" + username
}
