// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

// Package config loads and validates engine configuration.
//
// Configuration comes from an optional YAML file merged with command-line
// flags. Every security threshold the engine consumes lives here so that
// reload can re-derive service state without a restart.
package config

import (
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Config is the root configuration for the engine.
type Config struct {
	Database Database `koanf:"database"`
	Log      Log      `koanf:"log"`
	Hasher   Hasher   `koanf:"hasher"`
	Login    Login    `koanf:"login"`
	Session  Session  `koanf:"session"`
	TwoFA    TwoFA    `koanf:"twofa"`
	AntiBot  AntiBot  `koanf:"antibot"`
	Audit    Audit    `koanf:"audit"`
	Metrics  Metrics  `koanf:"metrics"`
}

// Database holds connection settings.
type Database struct {
	URL string `koanf:"url"`
}

// Log holds operational logging settings.
type Log struct {
	Format  string `koanf:"format"` // "json" or "text"
	Verbose bool   `koanf:"verbose"`
}

// Hasher holds the argon2id work factor.
type Hasher struct {
	MemoryKiB   uint32 `koanf:"memory_kib"`
	Iterations  uint32 `koanf:"iterations"`
	Parallelism uint8  `koanf:"parallelism"`
}

// Login holds credential-flow thresholds.
type Login struct {
	AttemptCooldown   time.Duration `koanf:"attempt_cooldown"`    // min gap between attempts per player
	RateWindow        time.Duration `koanf:"rate_window"`         // failed-attempt window
	RateMax           int           `koanf:"rate_max"`            // max failures per window
	MinPasswordLength int           `koanf:"min_password_length"`
}

// Session holds session lifecycle settings.
type Session struct {
	TTL           time.Duration `koanf:"ttl"`
	RenewalWindow time.Duration `koanf:"renewal_window"` // refresh allowed this close to expiry
	EvictionGrace time.Duration `koanf:"eviction_grace"` // in-memory state kept this long after disconnect
}

// TwoFA holds second-factor settings.
type TwoFA struct {
	Issuer        string `koanf:"issuer"`
	SkewSteps     uint   `koanf:"skew_steps"`     // accepted steps before/after now
	MaxFailures   int    `koanf:"max_failures"`   // consecutive failures before reverting to unauthenticated
	RecoveryCodes int    `koanf:"recovery_codes"` // codes generated at enrollment
}

// AntiBot holds IP risk scoring and ban escalation settings.
type AntiBot struct {
	FailureWindow   time.Duration `koanf:"failure_window"`   // window for counting failures per IP
	FailureMax      int           `koanf:"failure_max"`      // failures in window that trigger a ban
	BanBase         time.Duration `koanf:"ban_base"`         // first temp ban duration
	EscalationSteps int           `koanf:"escalation_steps"` // temp bans before permanent
	EscalationReset time.Duration `koanf:"escalation_reset"` // clean period that resets escalation
}

// Audit holds audit trail settings.
type Audit struct {
	QueueSize int `koanf:"queue_size"`
}

// Metrics holds the observability endpoint settings.
type Metrics struct {
	Addr string `koanf:"addr"` // empty disables the endpoint
}

// Default returns the built-in configuration defaults.
func Default() Config {
	return Config{
		Log: Log{Format: "json"},
		Hasher: Hasher{
			MemoryKiB:   64 * 1024,
			Iterations:  1,
			Parallelism: 4,
		},
		Login: Login{
			AttemptCooldown:   3 * time.Second,
			RateWindow:        time.Minute,
			RateMax:           5,
			MinPasswordLength: 8,
		},
		Session: Session{
			TTL:           24 * time.Hour,
			RenewalWindow: 6 * time.Hour,
			EvictionGrace: 5 * time.Minute,
		},
		TwoFA: TwoFA{
			Issuer:        "GateWard",
			SkewSteps:     1,
			MaxFailures:   3,
			RecoveryCodes: 8,
		},
		AntiBot: AntiBot{
			FailureWindow:   time.Minute,
			FailureMax:      10,
			BanBase:         5 * time.Minute,
			EscalationSteps: 4,
			EscalationReset: 24 * time.Hour,
		},
		Audit:   Audit{QueueSize: 1024},
		Metrics: Metrics{Addr: "127.0.0.1:9100"},
	}
}

// Load builds a Config from defaults, an optional YAML file, and flags.
// A missing file is only an error when the path was given explicitly.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := Default()

	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, oops.Code("CONFIG_FILE_MISSING").
				With("path", path).
				Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_FILE_INVALID").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, oops.Code("CONFIG_FLAGS_INVALID").Wrap(err)
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_UNMARSHAL_FAILED").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").
			With("log.format", c.Log.Format).
			Errorf("log format must be 'json' or 'text'")
	}
	if c.Hasher.MemoryKiB < 8*1024 {
		return oops.Code("CONFIG_INVALID").
			With("hasher.memory_kib", c.Hasher.MemoryKiB).
			Errorf("argon2 memory must be at least 8 MiB")
	}
	if c.Hasher.Iterations == 0 || c.Hasher.Parallelism == 0 {
		return oops.Code("CONFIG_INVALID").
			Errorf("argon2 iterations and parallelism must be positive")
	}
	if c.Login.RateMax <= 0 || c.Login.RateWindow <= 0 {
		return oops.Code("CONFIG_INVALID").
			Errorf("login rate limit window and max must be positive")
	}
	if c.Login.MinPasswordLength < 4 {
		return oops.Code("CONFIG_INVALID").
			With("login.min_password_length", c.Login.MinPasswordLength).
			Errorf("minimum password length must be at least 4")
	}
	if c.Session.TTL <= 0 {
		return oops.Code("CONFIG_INVALID").
			Errorf("session TTL must be positive")
	}
	if c.Session.RenewalWindow > c.Session.TTL {
		return oops.Code("CONFIG_INVALID").
			Errorf("session renewal window cannot exceed the TTL")
	}
	if c.TwoFA.SkewSteps > 2 {
		return oops.Code("CONFIG_INVALID").
			With("twofa.skew_steps", c.TwoFA.SkewSteps).
			Errorf("TOTP skew above 2 steps defeats the point of TOTP")
	}
	if c.TwoFA.MaxFailures <= 0 || c.TwoFA.RecoveryCodes <= 0 {
		return oops.Code("CONFIG_INVALID").
			Errorf("twofa max_failures and recovery_codes must be positive")
	}
	if c.AntiBot.FailureMax <= 0 || c.AntiBot.FailureWindow <= 0 {
		return oops.Code("CONFIG_INVALID").
			Errorf("antibot failure window and max must be positive")
	}
	if c.AntiBot.BanBase <= 0 || c.AntiBot.EscalationSteps <= 0 {
		return oops.Code("CONFIG_INVALID").
			Errorf("antibot ban base duration and escalation steps must be positive")
	}
	if c.Audit.QueueSize <= 0 {
		return oops.Code("CONFIG_INVALID").
			Errorf("audit queue size must be positive")
	}
	return nil
}
