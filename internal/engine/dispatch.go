// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

package engine

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/gateward/gateward/internal/auth"
)

// stripeCount is the number of serialization locks. Operations for the same
// player always hash to the same stripe; operations for different players
// almost always run concurrently.
const stripeCount = 64

func (e *Engine) lockKey(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &e.stripes[h.Sum32()%stripeCount]
	m.Lock()
	return m.Unlock
}

func usernameKey(username string) string {
	return "u:" + strings.ToLower(username)
}

func playerKey(playerID ulid.ULID) string {
	return "p:" + playerID.String()
}

// Register creates an account and authenticates the player.
func (e *Engine) Register(ctx context.Context, username, password, ip, binding string) (*auth.Result, error) {
	defer e.lockKey(usernameKey(username))()

	result, err := e.auth.Register(ctx, username, password, ip, binding)
	if err == nil && result.Outcome == auth.OutcomeSuccess && e.metrics != nil {
		e.metrics.RegistrationsTotal.Inc()
	}
	return result, err
}

// Login verifies credentials and either authenticates the player or leaves
// them awaiting a second factor.
func (e *Engine) Login(ctx context.Context, username, password, ip, binding string) (*auth.Result, error) {
	defer e.lockKey(usernameKey(username))()

	result, err := e.auth.Login(ctx, username, password, ip, binding)
	e.countLogin(result, err)
	return result, err
}

// SubmitTwoFactor completes a login that is awaiting its second factor.
func (e *Engine) SubmitTwoFactor(ctx context.Context, playerID ulid.ULID, code, ip, binding string) (*auth.Result, error) {
	defer e.lockKey(playerKey(playerID))()

	result, err := e.auth.SubmitTwoFactor(ctx, playerID, code, ip, binding)
	e.countTwoFactor(result, err)
	return result, err
}

// SubmitRecoveryCode completes a login using a single-use recovery code.
func (e *Engine) SubmitRecoveryCode(ctx context.Context, playerID ulid.ULID, code, ip, binding string) (*auth.Result, error) {
	defer e.lockKey(playerKey(playerID))()

	result, err := e.auth.SubmitRecoveryCode(ctx, playerID, code, ip, binding)
	e.countTwoFactor(result, err)
	return result, err
}

// ResumeSession restores authentication from a previously issued token.
func (e *Engine) ResumeSession(ctx context.Context, token, ip string) (*auth.Result, error) {
	defer e.lockKey("t:" + token)()

	return e.auth.ResumeSession(ctx, token, ip)
}

// Logout deauthenticates the player and invalidates their sessions.
func (e *Engine) Logout(ctx context.Context, playerID ulid.ULID, ip string) error {
	defer e.lockKey(playerKey(playerID))()

	return e.auth.Logout(ctx, playerID, ip)
}

// ChangePassword rotates the player's password after verifying the current
// one. All sessions are invalidated on success.
func (e *Engine) ChangePassword(ctx context.Context, playerID ulid.ULID, current, next, ip string) (*auth.Result, error) {
	defer e.lockKey(playerKey(playerID))()

	return e.auth.ChangePassword(ctx, playerID, current, next, ip)
}

// Disconnected tells the engine a player's connection dropped. Their tracked
// auth state becomes eligible for eviction after the configured grace period.
func (e *Engine) Disconnected(playerID ulid.ULID) {
	e.tracker.MarkDisconnected(playerID)
}

// Connected tells the engine a player's connection is live again, cancelling
// any pending eviction.
func (e *Engine) Connected(playerID ulid.ULID) {
	e.tracker.MarkConnected(playerID)
}

// IsAuthenticated reports whether the player is fully authenticated. Lock-free
// read on the hot path.
func (e *Engine) IsAuthenticated(playerID ulid.ULID) bool {
	return e.tracker.IsAuthenticated(playerID)
}

func (e *Engine) countLogin(result *auth.Result, err error) {
	if e.metrics == nil {
		return
	}
	if err != nil {
		e.metrics.LoginsTotal.WithLabelValues("error").Inc()
		return
	}
	e.metrics.LoginsTotal.WithLabelValues(result.Outcome.String()).Inc()
}

func (e *Engine) countTwoFactor(result *auth.Result, err error) {
	if e.metrics == nil {
		return
	}
	if err != nil {
		e.metrics.TwoFactorTotal.WithLabelValues("error").Inc()
		return
	}
	e.metrics.TwoFactorTotal.WithLabelValues(result.Outcome.String()).Inc()
}
