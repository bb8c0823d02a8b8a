// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique constraint is violated.
var ErrDuplicate = errors.New("already exists")

// ErrUnavailable is returned when the backing store cannot be reached.
// Security-critical callers must fail closed on it.
var ErrUnavailable = errors.New("unavailable")
