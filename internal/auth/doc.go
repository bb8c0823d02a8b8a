// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

// Package auth provides the player-authentication core for GateWard.
//
// # Domain Types
//
// Account is the durable credential record; create it through NewAccount so
// username validation cannot be bypassed. State transitions for a connected
// player go through Tracker, which enforces the authentication state machine
// (unauthenticated, awaiting second factor, authenticated).
//
// # Services
//
// Service coordinates the whole login surface: the anti-bot gate, cooldown
// and rate-limit checks, credential verification, second-factor hand-off,
// session issuance, and audit logging. Validation failures are returned as
// typed results, never as errors; errors mean infrastructure trouble and the
// security-sensitive paths fail closed on them.
package auth
