// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

package antibot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/gateward/gateward/internal/ratelimit"
)

// SystemActor is the CreatedBy value for automatic bans.
const SystemActor = "system"

// Params is the anti-bot tuning, reloadable at runtime.
type Params struct {
	FailureWindow   time.Duration // window over which failures accumulate
	FailureMax      int           // failures within the window that trigger a ban
	BanBase         time.Duration // first automatic ban duration
	EscalationSteps int           // offenses beyond this become permanent
	EscalationReset time.Duration // quiet period after which escalation restarts at level 1
}

// Service scores source IPs and issues bans. Repeat offenders escalate: each
// offense inside the escalation-reset window doubles the ban duration, and
// past EscalationSteps the ban is permanent. Active bans are cached
// write-through, so the per-connection check rarely touches the database.
//
// Infrastructure errors propagate to the caller, which must treat them as a
// denial. An attacker should not profit from the ban store being down.
type Service struct {
	repo     Repository
	logger   *slog.Logger
	failures *ratelimit.Limiter

	mu     sync.Mutex
	params Params
	cache  map[string]*Ban

	bansIssued *prometheus.CounterVec

	now func() time.Time
}

// NewService creates an anti-bot service.
func NewService(repo Repository, params Params, logger *slog.Logger) *Service {
	return NewServiceWithRegistry(repo, params, logger, nil)
}

// NewServiceWithRegistry creates an anti-bot service and registers its ban
// counter with the provided Prometheus registry.
func NewServiceWithRegistry(repo Repository, params Params, logger *slog.Logger, reg prometheus.Registerer) *Service {
	s := &Service{
		repo:     repo,
		logger:   logger,
		failures: ratelimit.NewLimiter(params.FailureMax, params.FailureWindow),
		params:   params,
		cache:    make(map[string]*Ban),
		now:      time.Now,
	}
	if reg != nil {
		s.bansIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateward_antibot_bans_total",
			Help: "Total number of IP bans issued",
		}, []string{"kind", "source"})
		reg.MustRegister(s.bansIssued)
	}
	return s
}

// CheckIP returns the ban in force for the IP, or nil if the IP may proceed.
// An error means the ban store could not answer; callers must deny.
func (s *Service) CheckIP(ctx context.Context, ip string) (*Ban, error) {
	now := s.now()

	s.mu.Lock()
	if ban, ok := s.cache[ip]; ok {
		if ban.ActiveAt(now) {
			s.mu.Unlock()
			return ban, nil
		}
		delete(s.cache, ip)
	}
	s.mu.Unlock()

	ban, err := s.repo.GetActiveByIP(ctx, ip, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, oops.Code("ANTIBOT_CHECK_FAILED").
			With("ip", ip).
			Wrap(err)
	}

	s.mu.Lock()
	s.cache[ip] = ban
	s.mu.Unlock()
	return ban, nil
}

// RecordFailure counts a failed authentication from the IP. The failure that
// lands exactly on the configured maximum within the window issues an
// automatic ban and returns it; every other call returns nil. The
// increment-and-compare is a single limiter operation, so concurrent failures
// at the threshold produce exactly one ban.
func (s *Service) RecordFailure(ctx context.Context, ip string) (*Ban, error) {
	if s.failures.AcquireCount(ip) != s.currentParams().FailureMax {
		return nil, nil
	}
	s.failures.Reset(ip)

	ban, err := s.issueBan(ctx, ip, "authentication failure threshold", SystemActor)
	if err != nil {
		return nil, err
	}
	return ban, nil
}

// RecordSuccess clears the IP's failure counter after a successful
// authentication.
func (s *Service) RecordSuccess(ip string) {
	s.failures.Reset(ip)
}

// BanIP issues a manual ban. A zero duration means permanent. Manual bans do
// not participate in escalation levels.
func (s *Service) BanIP(ctx context.Context, ip, reason, createdBy string, duration time.Duration) (*Ban, error) {
	now := s.now()
	ban := &Ban{
		ID:        ulid.Make(),
		IP:        ip,
		Reason:    reason,
		CreatedBy: createdBy,
		CreatedAt: now,
		Permanent: duration <= 0,
	}
	if !ban.Permanent {
		expiresAt := now.Add(duration)
		ban.ExpiresAt = &expiresAt
	}

	if err := s.store(ctx, ban); err != nil {
		return nil, err
	}
	s.countBan(ban, "manual")
	s.logger.Warn("ip banned",
		"ip", ip,
		"reason", reason,
		"permanent", ban.Permanent,
		"created_by", createdBy)
	return ban, nil
}

// UnbanIP lifts any active ban for the IP and clears its failure counter.
// Returns an error wrapping ErrNotFound if no ban was in force.
func (s *Service) UnbanIP(ctx context.Context, ip string) error {
	lifted, err := s.repo.DeactivateByIP(ctx, ip, s.now())
	if err != nil {
		return oops.Code("ANTIBOT_UNBAN_FAILED").
			With("ip", ip).
			Wrap(err)
	}

	s.mu.Lock()
	delete(s.cache, ip)
	s.mu.Unlock()
	s.failures.Reset(ip)

	if lifted == 0 {
		return oops.Code("ANTIBOT_UNBAN_FAILED").
			With("ip", ip).
			Wrap(ErrNotFound)
	}
	s.logger.Info("ip unbanned", "ip", ip)
	return nil
}

// ListActiveBans returns all bans currently in force.
func (s *Service) ListActiveBans(ctx context.Context) ([]*Ban, error) {
	return s.repo.ListActive(ctx, s.now())
}

// CountActiveBans returns the number of bans currently in force.
func (s *Service) CountActiveBans(ctx context.Context) (int64, error) {
	return s.repo.CountActive(ctx, s.now())
}

// Sweep prunes expired bans from the cache.
func (s *Service) Sweep() {
	now := s.now()
	s.mu.Lock()
	for ip, ban := range s.cache {
		if !ban.ActiveAt(now) {
			delete(s.cache, ip)
		}
	}
	s.mu.Unlock()
}

// Reconfigure applies new tuning. Bans already issued keep their expiry.
func (s *Service) Reconfigure(params Params) {
	s.mu.Lock()
	s.params = params
	s.mu.Unlock()
	s.failures.Configure(params.FailureMax, params.FailureWindow)
}

// Close stops the failure-window sweeper.
func (s *Service) Close() {
	s.failures.Close()
}

func (s *Service) currentParams() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// issueBan creates an automatic ban at the next escalation level. The level
// comes from the most recent ban for the IP: offenses inside the
// escalation-reset window stack, a long enough quiet period starts over.
func (s *Service) issueBan(ctx context.Context, ip, reason, createdBy string) (*Ban, error) {
	now := s.now()
	params := s.currentParams()

	level := 1
	prev, err := s.repo.GetLatestByIP(ctx, ip)
	switch {
	case err == nil:
		// Already banned: do not stack another ban on top.
		if prev.ActiveAt(now) {
			return prev, nil
		}
		if prev.Level > 0 && now.Sub(prev.CreatedAt) < params.EscalationReset {
			level = prev.Level + 1
		}
	case errors.Is(err, ErrNotFound):
		// first offense
	default:
		return nil, oops.Code("ANTIBOT_BAN_FAILED").
			With("ip", ip).
			Wrap(err)
	}

	ban := &Ban{
		ID:        ulid.Make(),
		IP:        ip,
		Reason:    reason,
		Level:     level,
		CreatedBy: createdBy,
		CreatedAt: now,
		Permanent: level > params.EscalationSteps,
	}
	if !ban.Permanent {
		expiresAt := now.Add(params.BanBase << (level - 1))
		ban.ExpiresAt = &expiresAt
	}

	if err := s.store(ctx, ban); err != nil {
		return nil, err
	}
	s.countBan(ban, "automatic")
	s.logger.Warn("ip banned",
		"ip", ip,
		"reason", reason,
		"level", level,
		"permanent", ban.Permanent)
	return ban, nil
}

func (s *Service) store(ctx context.Context, ban *Ban) error {
	if err := s.repo.Create(ctx, ban); err != nil {
		return oops.Code("ANTIBOT_BAN_FAILED").
			With("ip", ban.IP).
			Wrap(err)
	}
	s.mu.Lock()
	s.cache[ban.IP] = ban
	s.mu.Unlock()
	return nil
}

func (s *Service) countBan(ban *Ban, source string) {
	if s.bansIssued == nil {
		return
	}
	kind := "temporary"
	if ban.Permanent {
		kind = "permanent"
	}
	s.bansIssued.WithLabelValues(kind, source).Inc()
}
