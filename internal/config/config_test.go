// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateward/gateward/internal/config"
	"github.com/gateward/gateward/pkg/errutil"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint32(64*1024), cfg.Hasher.MemoryKiB)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, uint(1), cfg.TwoFA.SkewSteps)
}

func TestLoad(t *testing.T) {
	t.Run("no file uses defaults", func(t *testing.T) {
		cfg, err := config.Load("", nil)
		require.NoError(t, err)
		assert.Equal(t, config.Default(), cfg)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gateward.yaml")
		content := []byte("session:\n  ttl: 1h\n  renewal_window: 30m\nantibot:\n  failure_max: 3\n")
		require.NoError(t, os.WriteFile(path, content, 0o600))

		cfg, err := config.Load(path, nil)
		require.NoError(t, err)
		assert.Equal(t, time.Hour, cfg.Session.TTL)
		assert.Equal(t, 30*time.Minute, cfg.Session.RenewalWindow)
		assert.Equal(t, 3, cfg.AntiBot.FailureMax)
		// Untouched keys keep defaults.
		assert.Equal(t, config.Default().Login.RateMax, cfg.Login.RateMax)
	})

	t.Run("explicit missing file is an error", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CONFIG_FILE_MISSING")
	})

	t.Run("invalid values rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gateward.yaml")
		require.NoError(t, os.WriteFile(path, []byte("login:\n  rate_max: 0\n"), 0o600))

		_, err := config.Load(path, nil)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad log format", func(c *config.Config) { c.Log.Format = "xml" }},
		{"argon2 memory too low", func(c *config.Config) { c.Hasher.MemoryKiB = 1024 }},
		{"zero iterations", func(c *config.Config) { c.Hasher.Iterations = 0 }},
		{"renewal window beyond ttl", func(c *config.Config) { c.Session.RenewalWindow = c.Session.TTL + time.Hour }},
		{"excessive totp skew", func(c *config.Config) { c.TwoFA.SkewSteps = 5 }},
		{"zero escalation steps", func(c *config.Config) { c.AntiBot.EscalationSteps = 0 }},
		{"zero audit queue", func(c *config.Config) { c.Audit.QueueSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
