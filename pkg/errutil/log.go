// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

// Package errutil provides helpers for logging and asserting structured errors.
package errutil

import (
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs an error with structured context if it's an oops error.
// For oops errors, it extracts and logs the message, code, and context.
// For standard errors, it logs the error string.
func LogError(logger *slog.Logger, msg string, err error) {
	logWith(logger.Error, msg, err)
}

// LogWarn logs an error at warning level with the same context extraction
// as LogError. Used for best-effort failures that do not abort the caller.
func LogWarn(logger *slog.Logger, msg string, err error) {
	logWith(logger.Warn, msg, err)
}

func logWith(log func(string, ...any), msg string, err error) {
	if oopsErr, ok := oops.AsOops(err); ok {
		attrs := []any{
			"error", oopsErr.Error(),
		}
		if code := oopsErr.Code(); code != nil {
			attrs = append(attrs, "code", code)
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			attrs = append(attrs, "context", ctx)
		}
		log(msg, attrs...)
	} else {
		log(msg, "error", err)
	}
}
