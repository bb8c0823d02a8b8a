// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

// Package integration holds the capability interfaces through which the host
// game server observes authentication outcomes. The engine works against the
// interfaces; hosts plug in real implementations, and everything degrades to
// no-ops when they don't.
package integration

import (
	"context"
	"log/slog"

	"github.com/oklog/ulid/v2"
)

// PermissionNotifier is told when a player's authentication standing
// changes, so the host can swap permission groups, a restricted pre-login
// set versus the player's real groups. Implementations must be fast or
// internally async; the engine calls these on the login path.
type PermissionNotifier interface {
	// Authenticated fires when a player completes authentication.
	Authenticated(ctx context.Context, playerID ulid.ULID, username string)

	// Deauthenticated fires when a player logs out or their session is
	// invalidated.
	Deauthenticated(ctx context.Context, playerID ulid.ULID, username string)
}

// NopNotifier is the default PermissionNotifier when the host wires nothing.
type NopNotifier struct{}

// Authenticated implements PermissionNotifier.
func (NopNotifier) Authenticated(context.Context, ulid.ULID, string) {}

// Deauthenticated implements PermissionNotifier.
func (NopNotifier) Deauthenticated(context.Context, ulid.ULID, string) {}

// LoggingNotifier records standing changes to the log, useful while a real
// permission bridge is not wired.
type LoggingNotifier struct {
	Logger *slog.Logger
}

// Authenticated implements PermissionNotifier.
func (n LoggingNotifier) Authenticated(_ context.Context, playerID ulid.ULID, username string) {
	n.Logger.Info("player authenticated", "player_id", playerID, "username", username)
}

// Deauthenticated implements PermissionNotifier.
func (n LoggingNotifier) Deauthenticated(_ context.Context, playerID ulid.ULID, username string) {
	n.Logger.Info("player deauthenticated", "player_id", playerID, "username", username)
}

var (
	_ PermissionNotifier = NopNotifier{}
	_ PermissionNotifier = LoggingNotifier{}
)
