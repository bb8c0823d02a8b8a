// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

package auth_test

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateward/gateward/internal/antibot"
	"github.com/gateward/gateward/internal/audit"
	"github.com/gateward/gateward/internal/auth"
	"github.com/gateward/gateward/internal/integration"
	"github.com/gateward/gateward/internal/ratelimit"
	"github.com/gateward/gateward/internal/session"
)

var errDown = oops.Code("STORE_UNAVAILABLE").Errorf("store down")

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[ulid.ULID]*auth.Account
	failAll  bool
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{accounts: make(map[ulid.ULID]*auth.Account)}
}

func (r *fakeAccounts) Create(_ context.Context, account *auth.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return errDown
	}
	for _, existing := range r.accounts {
		if strings.EqualFold(existing.Username, account.Username) {
			return oops.Code("AUTH_DUPLICATE").Wrap(auth.ErrDuplicate)
		}
	}
	cp := *account
	r.accounts[account.ID] = &cp
	return nil
}

func (r *fakeAccounts) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return nil, errDown
	}
	account, ok := r.accounts[id]
	if !ok {
		return nil, oops.Code("AUTH_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	cp := *account
	return &cp, nil
}

func (r *fakeAccounts) GetByUsername(_ context.Context, username string) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return nil, errDown
	}
	for _, account := range r.accounts {
		if strings.EqualFold(account.Username, username) {
			cp := *account
			return &cp, nil
		}
	}
	return nil, oops.Code("AUTH_NOT_FOUND").Wrap(auth.ErrNotFound)
}

func (r *fakeAccounts) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return oops.Code("AUTH_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	account.PasswordHash = passwordHash
	return nil
}

func (r *fakeAccounts) UpdateLastLogin(_ context.Context, id ulid.ULID, at time.Time, ip string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return oops.Code("AUTH_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	account.LastLoginAt = &at
	account.LastLoginIP = &ip
	return nil
}

func (r *fakeAccounts) Count(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.accounts)), nil
}

func (r *fakeAccounts) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, id)
	return nil
}

func (r *fakeAccounts) hashOf(t *testing.T, id ulid.ULID) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	require.True(t, ok)
	return account.PasswordHash
}

// fakeGate scripts anti-bot verdicts.
type fakeGate struct {
	mu        sync.Mutex
	ban       *antibot.Ban
	failAll   bool
	failures  int
	successes int
	banAfter  int // issue a ban on the Nth recorded failure
}

func (g *fakeGate) CheckIP(_ context.Context, _ string) (*antibot.Ban, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failAll {
		return nil, errDown
	}
	return g.ban, nil
}

func (g *fakeGate) RecordFailure(_ context.Context, ip string) (*antibot.Ban, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failAll {
		return nil, errDown
	}
	g.failures++
	if g.banAfter > 0 && g.failures >= g.banAfter {
		g.ban = &antibot.Ban{ID: ulid.Make(), IP: ip, Level: 1, CreatedBy: antibot.SystemActor}
		return g.ban, nil
	}
	return nil, nil
}

func (g *fakeGate) RecordSuccess(_ string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.successes++
}

func (g *fakeGate) failureCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failures
}

// fakeSecond scripts second-factor checks.
type fakeSecond struct {
	mu           sync.Mutex
	enabled      map[ulid.ULID]bool
	validCode    string
	recoveryCode string
	remaining    int
}

func newFakeSecond() *fakeSecond {
	return &fakeSecond{enabled: make(map[ulid.ULID]bool)}
}

func (f *fakeSecond) IsEnabled(_ context.Context, playerID ulid.ULID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled[playerID], nil
}

func (f *fakeSecond) Verify(_ context.Context, playerID ulid.ULID, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled[playerID] && code == f.validCode, nil
}

func (f *fakeSecond) UseRecoveryCode(_ context.Context, playerID ulid.ULID, code string) (bool, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enabled[playerID] && code == f.recoveryCode {
		f.recoveryCode = ""
		return true, f.remaining, nil
	}
	return false, f.remaining, nil
}

// fakeSessions is an in-memory SessionManager.
type fakeSessions struct {
	mu       sync.Mutex
	byToken  map[string]*session.Session
	issued   int
	failNext bool
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byToken: make(map[string]*session.Session)}
}

func (f *fakeSessions) Issue(_ context.Context, playerID ulid.ULID, binding, ip string) (*session.Session, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, "", errDown
	}
	token, hash, err := session.GenerateToken()
	if err != nil {
		return nil, "", err
	}
	sess := &session.Session{
		ID:        ulid.Make(),
		PlayerID:  playerID,
		Binding:   binding,
		TokenHash: hash,
		IPAddress: ip,
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	f.byToken[token] = sess
	f.issued++
	return sess, token, nil
}

func (f *fakeSessions) Validate(_ context.Context, token string) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.byToken[token]
	if !ok {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(session.ErrNotFound)
	}
	return sess, nil
}

func (f *fakeSessions) Refresh(_ context.Context, _ *session.Session) (bool, error) {
	return false, nil
}

func (f *fakeSessions) InvalidatePlayer(_ context.Context, playerID ulid.ULID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for token, sess := range f.byToken {
		if sess.PlayerID == playerID {
			delete(f.byToken, token)
		}
	}
	return nil
}

func (f *fakeSessions) tokenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byToken)
}

// fakeAudit records events synchronously.
type fakeAudit struct {
	mu     sync.Mutex
	events []audit.EventKind
}

func (a *fakeAudit) Log(kind audit.EventKind, _ *ulid.ULID, _, _, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, kind)
}

func (a *fakeAudit) has(kind audit.EventKind) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, k := range a.events {
		if k == kind {
			return true
		}
	}
	return false
}

type harness struct {
	svc      *auth.Service
	accounts *fakeAccounts
	gate     *fakeGate
	second   *fakeSecond
	sessions *fakeSessions
	audit    *fakeAudit
	tracker  *auth.Tracker
	cooldown *ratelimit.Cooldown
	limiter  *ratelimit.Limiter
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		accounts: newFakeAccounts(),
		gate:     &fakeGate{},
		second:   newFakeSecond(),
		sessions: newFakeSessions(),
		audit:    &fakeAudit{},
		tracker:  auth.NewTracker(),
		cooldown: ratelimit.NewCooldown(0), // off unless a test turns it on
		limiter:  ratelimit.NewLimiter(100, time.Minute),
	}
	t.Cleanup(h.cooldown.Close)
	t.Cleanup(h.limiter.Close)

	svc, err := auth.NewService(auth.Deps{
		Accounts: h.accounts,
		Hasher:   auth.NewArgon2idHasher(testParams),
		Tracker:  h.tracker,
		Cooldown: h.cooldown,
		Limiter:  h.limiter,
		Gate:     h.gate,
		Second:   h.second,
		Sessions: h.sessions,
		Audit:    h.audit,
		Notifier: integration.NopNotifier{},
		Logger:   slog.New(slog.DiscardHandler),
	}, auth.Params{MinPasswordLength: 8, TwoFAMaxFailures: 3})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) register(t *testing.T, username, password string) *auth.Account {
	t.Helper()
	res, err := h.svc.Register(context.Background(), username, password, "203.0.113.7", "device-a")
	require.NoError(t, err)
	require.Equal(t, auth.OutcomeSuccess, res.Outcome)
	return res.Account
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("registers and authenticates immediately", func(t *testing.T) {
		h := newHarness(t)

		res, err := h.svc.Register(ctx, "steve", "hunter2hunter2", "203.0.113.7", "device-a")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeSuccess, res.Outcome)
		assert.NotNil(t, res.Session)
		assert.NotEmpty(t, res.Token)
		assert.True(t, h.tracker.IsAuthenticated(res.Account.ID))
		assert.True(t, h.audit.has(audit.EventRegister))
		assert.True(t, h.audit.has(audit.EventLoginSuccess))
	})

	t.Run("duplicate username", func(t *testing.T) {
		h := newHarness(t)
		h.register(t, "steve", "hunter2hunter2")

		res, err := h.svc.Register(ctx, "STEVE", "otherpassword", "203.0.113.7", "device-a")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeUsernameTaken, res.Outcome)
	})

	t.Run("short password rejected by policy", func(t *testing.T) {
		h := newHarness(t)

		res, err := h.svc.Register(ctx, "steve", "short", "203.0.113.7", "device-a")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeInvalidInput, res.Outcome)
		assert.NotEmpty(t, res.Reason)
	})

	t.Run("invalid username rejected", func(t *testing.T) {
		h := newHarness(t)

		res, err := h.svc.Register(ctx, "1steve", "hunter2hunter2", "203.0.113.7", "device-a")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeInvalidInput, res.Outcome)
	})

	t.Run("banned source refused before validation", func(t *testing.T) {
		h := newHarness(t)
		h.gate.ban = &antibot.Ban{ID: ulid.Make(), IP: "203.0.113.7", Permanent: true}

		res, err := h.svc.Register(ctx, "steve", "hunter2hunter2", "203.0.113.7", "device-a")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeBanned, res.Outcome)
		assert.NotNil(t, res.Ban)
	})
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("correct credentials without 2FA", func(t *testing.T) {
		h := newHarness(t)
		account := h.register(t, "steve", "hunter2hunter2")
		h.tracker.Reset(account.ID)

		res, err := h.svc.Login(ctx, "steve", "hunter2hunter2", "203.0.113.7", "device-a")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeSuccess, res.Outcome)
		assert.NotEmpty(t, res.Token)
		assert.True(t, h.tracker.IsAuthenticated(account.ID))
		require.NotNil(t, res.Account.LastLoginAt)
		assert.Equal(t, "203.0.113.7", *res.Account.LastLoginIP)
	})

	t.Run("wrong password", func(t *testing.T) {
		h := newHarness(t)
		account := h.register(t, "steve", "hunter2hunter2")
		h.tracker.Reset(account.ID)

		res, err := h.svc.Login(ctx, "steve", "wrong password", "203.0.113.7", "device-a")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeInvalidCredentials, res.Outcome)
		assert.False(t, h.tracker.IsAuthenticated(account.ID))
		assert.Equal(t, 1, h.gate.failureCount())
		assert.Equal(t, 1, h.tracker.Get(account.ID).FailedAttempts)
	})

	t.Run("unknown username looks like wrong password", func(t *testing.T) {
		h := newHarness(t)

		res, err := h.svc.Login(ctx, "nobody", "whatever123", "203.0.113.7", "device-a")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeInvalidCredentials, res.Outcome)
		assert.Equal(t, 1, h.gate.failureCount())
	})

	t.Run("failure threshold triggers ban", func(t *testing.T) {
		h := newHarness(t)
		h.gate.banAfter = 3

		var res *auth.Result
		var err error
		for i := 0; i < 3; i++ {
			res, err = h.svc.Login(ctx, "nobody", "whatever123", "203.0.113.7", "device-a")
			require.NoError(t, err)
		}
		assert.Equal(t, auth.OutcomeBanned, res.Outcome)
		assert.NotNil(t, res.Ban)
	})

	t.Run("cooldown between attempts", func(t *testing.T) {
		h := newHarness(t)
		h.cooldown.SetDuration(3 * time.Second)
		h.register(t, "steve", "hunter2hunter2")

		res, err := h.svc.Login(ctx, "steve", "wrong password", "203.0.113.7", "device-a")
		require.NoError(t, err)
		require.Equal(t, auth.OutcomeInvalidCredentials, res.Outcome)

		res, err = h.svc.Login(ctx, "steve", "hunter2hunter2", "203.0.113.7", "device-a")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeOnCooldown, res.Outcome)
		assert.Positive(t, res.RetryAfter)
	})

	t.Run("rate limit per player", func(t *testing.T) {
		h := newHarness(t)
		h.limiter.Configure(2, time.Minute)
		h.register(t, "steve", "hunter2hunter2")

		for i := 0; i < 2; i++ {
			res, err := h.svc.Login(ctx, "steve", "wrong password", "203.0.113.7", "device-a")
			require.NoError(t, err)
			require.Equal(t, auth.OutcomeInvalidCredentials, res.Outcome)
		}
		res, err := h.svc.Login(ctx, "steve", "wrong password", "203.0.113.7", "device-a")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeRateLimited, res.Outcome)

		// other players are unaffected
		h.register(t, "alex", "hunter2hunter2")
		res, err = h.svc.Login(ctx, "alex", "hunter2hunter2", "203.0.113.7", "device-a")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeSuccess, res.Outcome)
	})

	t.Run("store outage fails closed", func(t *testing.T) {
		h := newHarness(t)
		h.accounts.failAll = true

		_, err := h.svc.Login(ctx, "steve", "hunter2hunter2", "203.0.113.7", "device-a")
		require.ErrorIs(t, err, auth.ErrUnavailable)
	})

	t.Run("gate outage fails closed", func(t *testing.T) {
		h := newHarness(t)
		h.gate.failAll = true

		_, err := h.svc.Login(ctx, "steve", "hunter2hunter2", "203.0.113.7", "device-a")
		require.ErrorIs(t, err, auth.ErrUnavailable)
	})

	t.Run("weak legacy hash upgraded on login", func(t *testing.T) {
		h := newHarness(t)
		account := h.register(t, "steve", "hunter2hunter2")
		h.tracker.Reset(account.ID)

		weak := auth.NewArgon2idHasher(auth.HasherParams{MemoryKiB: 512, Iterations: 1, Parallelism: 1})
		weakHash, err := weak.Hash("hunter2hunter2")
		require.NoError(t, err)
		require.NoError(t, h.accounts.UpdatePassword(ctx, account.ID, weakHash))

		res, err := h.svc.Login(ctx, "steve", "hunter2hunter2", "203.0.113.7", "device-a")
		require.NoError(t, err)
		require.Equal(t, auth.OutcomeSuccess, res.Outcome)
		assert.NotEqual(t, weakHash, h.accounts.hashOf(t, account.ID))
		assert.Contains(t, h.accounts.hashOf(t, account.ID), "m=1024,t=1,p=1")
	})
}

func TestService_TwoFactor(t *testing.T) {
	ctx := context.Background()

	setup2FA := func(t *testing.T, h *harness) *auth.Account {
		t.Helper()
		account := h.register(t, "steve", "hunter2hunter2")
		h.tracker.Reset(account.ID)
		h.second.enabled[account.ID] = true
		h.second.validCode = "123456"
		h.second.recoveryCode = "aaaa-bbbbbb"
		h.second.remaining = 7

		res, err := h.svc.Login(ctx, "steve", "hunter2hunter2", "203.0.113.7", "device-a")
		require.NoError(t, err)
		require.Equal(t, auth.OutcomeAwaitingTwoFactor, res.Outcome)
		require.False(t, h.tracker.IsAuthenticated(account.ID))
		return account
	}

	t.Run("valid code completes login", func(t *testing.T) {
		h := newHarness(t)
		account := setup2FA(t, h)

		res, err := h.svc.SubmitTwoFactor(ctx, account.ID, "123456", "203.0.113.7", "device-a")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeSuccess, res.Outcome)
		assert.NotEmpty(t, res.Token)
		assert.True(t, h.tracker.IsAuthenticated(account.ID))
	})

	t.Run("wrong code counts down and reverts", func(t *testing.T) {
		h := newHarness(t)
		account := setup2FA(t, h)

		for i := 0; i < 2; i++ {
			res, err := h.svc.SubmitTwoFactor(ctx, account.ID, "000000", "203.0.113.7", "device-a")
			require.NoError(t, err)
			assert.Equal(t, auth.OutcomeInvalidCredentials, res.Outcome)
		}

		res, err := h.svc.SubmitTwoFactor(ctx, account.ID, "000000", "203.0.113.7", "device-a")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeTwoFactorReverted, res.Outcome)
		assert.Equal(t, auth.PhaseUnauthenticated, h.tracker.Get(account.ID).Phase)
		assert.True(t, h.audit.has(audit.EventTwoFAFailure))

		// a further submission is no longer being awaited
		res, err = h.svc.SubmitTwoFactor(ctx, account.ID, "123456", "203.0.113.7", "device-a")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeNotAwaiting, res.Outcome)
	})

	t.Run("submission without credential stage", func(t *testing.T) {
		h := newHarness(t)
		account := h.register(t, "steve", "hunter2hunter2")
		h.tracker.Reset(account.ID)

		res, err := h.svc.SubmitTwoFactor(ctx, account.ID, "123456", "203.0.113.7", "device-a")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeNotAwaiting, res.Outcome)
	})

	t.Run("recovery code completes login once", func(t *testing.T) {
		h := newHarness(t)
		account := setup2FA(t, h)

		res, err := h.svc.SubmitRecoveryCode(ctx, account.ID, "aaaa-bbbbbb", "203.0.113.7", "device-a")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeSuccess, res.Outcome)
		assert.True(t, h.audit.has(audit.EventRecoveryUsed))

		// same code again, new login attempt
		h.tracker.Reset(account.ID)
		res, err = h.svc.Login(ctx, "steve", "hunter2hunter2", "203.0.113.7", "device-a")
		require.NoError(t, err)
		require.Equal(t, auth.OutcomeAwaitingTwoFactor, res.Outcome)
		res, err = h.svc.SubmitRecoveryCode(ctx, account.ID, "aaaa-bbbbbb", "203.0.113.7", "device-a")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeInvalidCredentials, res.Outcome)
	})
}

func TestService_Sessions(t *testing.T) {
	ctx := context.Background()

	t.Run("resume with valid token", func(t *testing.T) {
		h := newHarness(t)
		account := h.register(t, "steve", "hunter2hunter2")
		h.tracker.Reset(account.ID)

		res, err := h.svc.Login(ctx, "steve", "hunter2hunter2", "203.0.113.7", "device-a")
		require.NoError(t, err)
		token := res.Token

		h.tracker.Reset(account.ID)
		res, err = h.svc.ResumeSession(ctx, token, "203.0.113.7")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeSuccess, res.Outcome)
		assert.True(t, h.tracker.IsAuthenticated(account.ID))
		assert.True(t, h.audit.has(audit.EventSessionResume))
	})

	t.Run("resume with bad token", func(t *testing.T) {
		h := newHarness(t)

		res, err := h.svc.ResumeSession(ctx, "bogus", "203.0.113.7")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeSessionInvalid, res.Outcome)
	})

	t.Run("logout invalidates sessions and standing", func(t *testing.T) {
		h := newHarness(t)
		account := h.register(t, "steve", "hunter2hunter2")
		require.Positive(t, h.sessions.tokenCount())

		require.NoError(t, h.svc.Logout(ctx, account.ID, "203.0.113.7"))
		assert.False(t, h.tracker.IsAuthenticated(account.ID))
		assert.Zero(t, h.sessions.tokenCount())
		assert.True(t, h.audit.has(audit.EventLogout))
	})
}

func TestService_PasswordManagement(t *testing.T) {
	ctx := context.Background()

	t.Run("change password invalidates sessions", func(t *testing.T) {
		h := newHarness(t)
		account := h.register(t, "steve", "hunter2hunter2")

		res, err := h.svc.ChangePassword(ctx, account.ID, "hunter2hunter2", "newpassword99", "203.0.113.7")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeSuccess, res.Outcome)
		assert.Zero(t, h.sessions.tokenCount())
		assert.True(t, h.audit.has(audit.EventPasswordChange))

		// old password no longer works
		h.tracker.Reset(account.ID)
		loginRes, err := h.svc.Login(ctx, "steve", "hunter2hunter2", "203.0.113.7", "device-a")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeInvalidCredentials, loginRes.Outcome)
		loginRes, err = h.svc.Login(ctx, "steve", "newpassword99", "203.0.113.7", "device-a")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeSuccess, loginRes.Outcome)
	})

	t.Run("change with wrong current password", func(t *testing.T) {
		h := newHarness(t)
		account := h.register(t, "steve", "hunter2hunter2")

		res, err := h.svc.ChangePassword(ctx, account.ID, "wrong", "newpassword99", "203.0.113.7")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeInvalidCredentials, res.Outcome)
	})

	t.Run("admin reset", func(t *testing.T) {
		h := newHarness(t)
		account := h.register(t, "steve", "hunter2hunter2")

		res, err := h.svc.ResetPassword(ctx, "steve", "issuedbyadmin1", "admin_dave")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeSuccess, res.Outcome)
		assert.False(t, h.tracker.IsAuthenticated(account.ID))
		assert.True(t, h.audit.has(audit.EventAdminAction))

		loginRes, err := h.svc.Login(ctx, "steve", "issuedbyadmin1", "203.0.113.7", "device-a")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeSuccess, loginRes.Outcome)
	})

	t.Run("admin reset unknown account", func(t *testing.T) {
		h := newHarness(t)

		res, err := h.svc.ResetPassword(ctx, "nobody", "issuedbyadmin1", "admin_dave")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeInvalidInput, res.Outcome)
	})

	t.Run("force authenticate", func(t *testing.T) {
		h := newHarness(t)
		account := h.register(t, "steve", "hunter2hunter2")
		h.tracker.Reset(account.ID)

		res, err := h.svc.ForceAuthenticate(ctx, "steve", "admin_dave")
		require.NoError(t, err)
		assert.Equal(t, auth.OutcomeSuccess, res.Outcome)
		assert.True(t, h.tracker.IsAuthenticated(account.ID))
	})
}
