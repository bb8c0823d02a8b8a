// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

package engine

import (
	"log/slog"
	"time"
)

// startupTimer records how long each startup stage took so slow starts are
// diagnosable from the log alone.
type startupTimer struct {
	start  time.Time
	last   time.Time
	stages []stage
}

type stage struct {
	name     string
	duration time.Duration
}

func newStartupTimer() *startupTimer {
	now := time.Now()
	return &startupTimer{start: now, last: now}
}

func (t *startupTimer) mark(name string) {
	now := time.Now()
	t.stages = append(t.stages, stage{name: name, duration: now.Sub(t.last)})
	t.last = now
}

func (t *startupTimer) log(logger *slog.Logger) {
	attrs := make([]any, 0, 2*len(t.stages)+2)
	for _, s := range t.stages {
		attrs = append(attrs, s.name, s.duration.Round(time.Millisecond).String())
	}
	attrs = append(attrs, "total", time.Since(t.start).Round(time.Millisecond).String())
	logger.Info("startup complete", attrs...)
}
