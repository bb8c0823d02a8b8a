// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

// Package engine assembles the authentication services into one unit the
// host game server embeds. It owns service construction, per-player
// serialization of authentication operations, periodic housekeeping, and
// configuration reload.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/gateward/gateward/internal/antibot"
	antibotpg "github.com/gateward/gateward/internal/antibot/postgres"
	"github.com/gateward/gateward/internal/audit"
	auditpg "github.com/gateward/gateward/internal/audit/postgres"
	"github.com/gateward/gateward/internal/auth"
	authpg "github.com/gateward/gateward/internal/auth/postgres"
	"github.com/gateward/gateward/internal/config"
	"github.com/gateward/gateward/internal/integration"
	"github.com/gateward/gateward/internal/logging"
	"github.com/gateward/gateward/internal/observability"
	"github.com/gateward/gateward/internal/ratelimit"
	"github.com/gateward/gateward/internal/session"
	sessionpg "github.com/gateward/gateward/internal/session/postgres"
	"github.com/gateward/gateward/internal/store"
	"github.com/gateward/gateward/internal/twofa"
	twofapg "github.com/gateward/gateward/internal/twofa/postgres"
)

// housekeepingInterval is how often expired sessions, stale auth state, and
// expired in-memory ban entries are swept.
const housekeepingInterval = time.Minute

// Repositories are the persistence collaborators the engine wires into its
// services. Production uses the postgres implementations; tests inject fakes.
type Repositories struct {
	Accounts auth.AccountRepository
	Sessions session.Repository
	TwoFA    twofa.Repository
	Bans     antibot.Repository
	Audit    audit.Repository
}

// Options are the optional engine collaborators.
type Options struct {
	// Notifier receives authenticated/deauthenticated hooks. Defaults to
	// integration.NopNotifier.
	Notifier integration.PermissionNotifier

	// Registry receives subsystem metrics when set.
	Registry prometheus.Registerer

	// Metrics receives engine-level counters when set.
	Metrics *observability.Metrics
}

// Engine is the assembled authentication engine.
type Engine struct {
	logger *slog.Logger
	pool   *pgxpool.Pool // nil when repositories were injected

	accounts auth.AccountRepository
	hasher   *auth.Argon2idHasher
	tracker  *auth.Tracker
	cooldown *ratelimit.Cooldown
	limiter  *ratelimit.Limiter
	sessions *session.Service
	twoFA    *twofa.Service
	antiBot  *antibot.Service
	auditLog *audit.Service
	auth     *auth.Service

	metrics *observability.Metrics

	cfgMu sync.Mutex
	cfg   config.Config

	stripes [stripeCount]sync.Mutex

	ready    atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New connects to the database and assembles the engine. The engine owns the
// connection pool and closes it on Close.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (*Engine, error) {
	timer := newStartupTimer()

	pool, err := store.Connect(ctx, cfg.Database.URL, logger)
	if err != nil {
		return nil, err
	}
	timer.mark("database")

	repos := Repositories{
		Accounts: authpg.NewAccountRepository(pool),
		Sessions: sessionpg.NewSessionRepository(pool),
		TwoFA:    twofapg.NewEnrollmentRepository(pool),
		Bans:     antibotpg.NewBanRepository(pool),
		Audit:    auditpg.NewAuditRepository(pool),
	}

	e, err := NewWithRepositories(cfg, logger, repos, opts)
	if err != nil {
		pool.Close()
		return nil, err
	}
	e.pool = pool
	timer.mark("services")

	timer.log(logger)
	return e, nil
}

// NewWithRepositories assembles the engine over the given repositories.
func NewWithRepositories(cfg config.Config, logger *slog.Logger, repos Repositories, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = integration.NopNotifier{}
	}

	hasher := auth.NewArgon2idHasher(auth.HasherParams{
		MemoryKiB:   cfg.Hasher.MemoryKiB,
		Iterations:  cfg.Hasher.Iterations,
		Parallelism: cfg.Hasher.Parallelism,
	})
	tracker := auth.NewTracker()
	cooldown := ratelimit.NewCooldown(cfg.Login.AttemptCooldown)

	var limiter *ratelimit.Limiter
	if opts.Registry != nil {
		limiter = ratelimit.NewLimiterWithRegistry(cfg.Login.RateMax, cfg.Login.RateWindow, "login", opts.Registry)
	} else {
		limiter = ratelimit.NewLimiter(cfg.Login.RateMax, cfg.Login.RateWindow)
	}

	sessions := session.NewService(repos.Sessions, cfg.Session.TTL, cfg.Session.RenewalWindow, logger)
	twoFA := twofa.NewService(repos.TwoFA, cfg.TwoFA.Issuer, cfg.TwoFA.SkewSteps, logger)

	antiBotParams := antibot.Params{
		FailureWindow:   cfg.AntiBot.FailureWindow,
		FailureMax:      cfg.AntiBot.FailureMax,
		BanBase:         cfg.AntiBot.BanBase,
		EscalationSteps: cfg.AntiBot.EscalationSteps,
		EscalationReset: cfg.AntiBot.EscalationReset,
	}
	var antiBot *antibot.Service
	var auditLog *audit.Service
	if opts.Registry != nil {
		antiBot = antibot.NewServiceWithRegistry(repos.Bans, antiBotParams, logger, opts.Registry)
		auditLog = audit.NewServiceWithRegistry(repos.Audit, cfg.Audit.QueueSize, logger, opts.Registry)
	} else {
		antiBot = antibot.NewService(repos.Bans, antiBotParams, logger)
		auditLog = audit.NewService(repos.Audit, cfg.Audit.QueueSize, logger)
	}

	authSvc, err := auth.NewService(auth.Deps{
		Accounts: repos.Accounts,
		Hasher:   hasher,
		Tracker:  tracker,
		Cooldown: cooldown,
		Limiter:  limiter,
		Gate:     antiBot,
		Second:   twoFA,
		Sessions: sessions,
		Audit:    auditLog,
		Notifier: notifier,
		Logger:   logger,
	}, auth.Params{
		MinPasswordLength: cfg.Login.MinPasswordLength,
		TwoFAMaxFailures:  cfg.TwoFA.MaxFailures,
	})
	if err != nil {
		antiBot.Close()
		auditLog.Close()
		cooldown.Close()
		limiter.Close()
		return nil, err
	}

	e := &Engine{
		logger:   logger,
		accounts: repos.Accounts,
		hasher:   hasher,
		tracker:  tracker,
		cooldown: cooldown,
		limiter:  limiter,
		sessions: sessions,
		twoFA:    twoFA,
		antiBot:  antiBot,
		auditLog: auditLog,
		auth:     authSvc,
		metrics:  opts.Metrics,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
	}

	logging.SetVerbose(cfg.Log.Verbose)

	e.wg.Add(1)
	go e.housekeeping()

	e.ready.Store(true)
	return e, nil
}

// Ready reports whether the engine is assembled and serving. Wired into the
// observability readiness probe.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// Close stops background work and releases resources. Safe to call more than
// once. The audit queue is drained before the pool closes.
func (e *Engine) Close() {
	e.stopOnce.Do(func() {
		e.ready.Store(false)
		close(e.stopCh)
	})
	e.wg.Wait()

	e.antiBot.Close()
	e.auditLog.Close()
	e.cooldown.Close()
	e.limiter.Close()

	if e.pool != nil {
		e.pool.Close()
	}
}

// Reload applies a new configuration to the running engine. Sessions, ban
// state, and in-flight authentication are untouched; only thresholds change.
// The database URL, metrics address, and audit queue size are fixed at
// startup and ignored here.
func (e *Engine) Reload(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return oops.Code("ENGINE_RELOAD_REJECTED").Wrap(err)
	}

	e.hasher.Reconfigure(auth.HasherParams{
		MemoryKiB:   cfg.Hasher.MemoryKiB,
		Iterations:  cfg.Hasher.Iterations,
		Parallelism: cfg.Hasher.Parallelism,
	})
	e.cooldown.SetDuration(cfg.Login.AttemptCooldown)
	e.limiter.Configure(cfg.Login.RateMax, cfg.Login.RateWindow)
	e.sessions.Reconfigure(cfg.Session.TTL, cfg.Session.RenewalWindow)
	e.twoFA.Reconfigure(cfg.TwoFA.SkewSteps)
	e.antiBot.Reconfigure(antibot.Params{
		FailureWindow:   cfg.AntiBot.FailureWindow,
		FailureMax:      cfg.AntiBot.FailureMax,
		BanBase:         cfg.AntiBot.BanBase,
		EscalationSteps: cfg.AntiBot.EscalationSteps,
		EscalationReset: cfg.AntiBot.EscalationReset,
	})
	e.auth.Reconfigure(auth.Params{
		MinPasswordLength: cfg.Login.MinPasswordLength,
		TwoFAMaxFailures:  cfg.TwoFA.MaxFailures,
	})
	logging.SetVerbose(cfg.Log.Verbose)

	e.cfgMu.Lock()
	e.cfg = cfg
	e.cfgMu.Unlock()

	e.logger.Info("configuration reloaded")
	return nil
}

func (e *Engine) currentConfig() config.Config {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	return e.cfg
}

// housekeeping periodically sweeps expired sessions from the store, evicts
// stale per-player auth state, and prunes expired in-memory ban entries.
func (e *Engine) housekeeping() {
	defer e.wg.Done()

	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.runHousekeeping()
		}
	}
}

func (e *Engine) runHousekeeping() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	swept, err := e.sessions.SweepExpired(ctx)
	if err != nil {
		e.logger.Warn("session sweep failed", "error", err)
	} else if swept > 0 {
		e.logger.Debug("swept expired sessions", "count", swept)
	}

	evicted := e.tracker.Evict(e.currentConfig().Session.EvictionGrace)
	if evicted > 0 {
		e.logger.Debug("evicted stale auth state", "count", evicted)
	}

	e.antiBot.Sweep()

	if e.metrics != nil {
		e.metrics.SessionsActive.Set(float64(e.sessions.CacheLen()))
	}
}
