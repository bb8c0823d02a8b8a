// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

package twofa

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/samber/oops"
)

// totpPeriod is the TOTP time-step in seconds. Standard authenticator apps
// assume 30.
const totpPeriod = 30

// recoveryCodeBytes gives 10 hex characters per code.
const recoveryCodeBytes = 5

// EnrollmentTicket is what the player receives at enrollment: the shared
// secret (for manual entry), the otpauth:// provisioning URL (for QR codes),
// and the plaintext recovery codes. None of these are retrievable later.
type EnrollmentTicket struct {
	Secret        string
	URL           string
	RecoveryCodes []string
}

// Service manages second-factor enrollment and verification.
//
// Verification is replay-proof: each successful code consumes its TOTP
// time-step, and a second submission of the same code (or any code for an
// earlier step) is rejected even though it would still be cryptographically
// valid inside the skew window.
type Service struct {
	repo      Repository
	logger    *slog.Logger
	issuer    string
	skewSteps uint

	mu           sync.Mutex
	consumedStep map[ulid.ULID]int64

	now func() time.Time
}

// NewService creates a two-factor service. issuer appears in authenticator
// apps; skewSteps is how many periods of clock drift to tolerate either way.
func NewService(repo Repository, issuer string, skewSteps uint, logger *slog.Logger) *Service {
	return &Service{
		repo:         repo,
		logger:       logger,
		issuer:       issuer,
		skewSteps:    skewSteps,
		consumedStep: make(map[ulid.ULID]int64),
		now:          time.Now,
	}
}

// Enroll starts (or restarts) enrollment for the player. The enrollment is
// pending and does not gate login until confirmed. Re-enrolling while a
// previous enrollment exists replaces it, secret and recovery codes included.
func (s *Service) Enroll(ctx context.Context, playerID ulid.ULID, accountName string, codeCount int) (*EnrollmentTicket, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: accountName,
		Period:      totpPeriod,
	})
	if err != nil {
		return nil, oops.Code("TWOFA_GENERATE_FAILED").
			With("player_id", playerID).
			Wrap(err)
	}

	codes, hashes, err := generateRecoveryCodes(codeCount)
	if err != nil {
		return nil, err
	}

	enrollment := &Enrollment{
		PlayerID:           playerID,
		Secret:             key.Secret(),
		Status:             StatusPending,
		RecoveryCodeHashes: hashes,
		CreatedAt:          s.now(),
	}
	if err := s.repo.Upsert(ctx, enrollment); err != nil {
		return nil, oops.Code("TWOFA_ENROLL_FAILED").
			With("player_id", playerID).
			Wrap(err)
	}

	s.clearConsumed(playerID)
	s.logger.Info("two-factor enrollment started", "player_id", playerID)

	return &EnrollmentTicket{
		Secret:        key.Secret(),
		URL:           key.URL(),
		RecoveryCodes: codes,
	}, nil
}

// ConfirmEnrollment activates a pending enrollment once the player submits a
// valid code, proving the authenticator holds the secret. Returns false if
// the code does not verify.
func (s *Service) ConfirmEnrollment(ctx context.Context, playerID ulid.ULID, code string) (bool, error) {
	enrollment, err := s.repo.Get(ctx, playerID)
	if err != nil {
		return false, err
	}
	if enrollment.Status == StatusActive {
		return false, oops.Code("TWOFA_ALREADY_ACTIVE").
			With("player_id", playerID).
			Errorf("two-factor already confirmed")
	}

	ok, _ := s.matchCode(enrollment.Secret, code)
	if !ok {
		return false, nil
	}

	if err := s.repo.Activate(ctx, playerID, s.now()); err != nil {
		return false, oops.Code("TWOFA_CONFIRM_FAILED").
			With("player_id", playerID).
			Wrap(err)
	}
	s.logger.Info("two-factor enrollment confirmed", "player_id", playerID)
	return true, nil
}

// IsEnabled reports whether the player has an active (confirmed) enrollment.
// Pending enrollments do not count.
func (s *Service) IsEnabled(ctx context.Context, playerID ulid.ULID) (bool, error) {
	enrollment, err := s.repo.Get(ctx, playerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return enrollment.Status == StatusActive, nil
}

// Verify checks a TOTP code for the player. A valid code consumes its
// time-step so it cannot be replayed. Returns false for wrong codes, replays,
// and pending enrollments; errors are infrastructure only.
func (s *Service) Verify(ctx context.Context, playerID ulid.ULID, code string) (bool, error) {
	enrollment, err := s.repo.Get(ctx, playerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if enrollment.Status != StatusActive {
		return false, nil
	}

	ok, step := s.matchCode(enrollment.Secret, code)
	if !ok {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if step <= s.consumedStep[playerID] {
		return false, nil
	}
	s.consumedStep[playerID] = step
	return true, nil
}

// UseRecoveryCode consumes a single-use recovery code. Returns whether the
// code matched and how many codes remain.
func (s *Service) UseRecoveryCode(ctx context.Context, playerID ulid.ULID, code string) (bool, int, error) {
	enrollment, err := s.repo.Get(ctx, playerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, 0, nil
		}
		return false, 0, err
	}
	if enrollment.Status != StatusActive {
		return false, 0, nil
	}

	hash := hashRecoveryCode(code)
	matched := false
	for _, stored := range enrollment.RecoveryCodeHashes {
		if stored == hash {
			matched = true
			break
		}
	}
	if !matched {
		return false, len(enrollment.RecoveryCodeHashes), nil
	}

	remaining, err := s.repo.RemoveRecoveryCode(ctx, playerID, hash)
	if err != nil {
		return false, 0, oops.Code("TWOFA_RECOVERY_CONSUME_FAILED").
			With("player_id", playerID).
			Wrap(err)
	}
	s.logger.Info("recovery code consumed",
		"player_id", playerID,
		"remaining", remaining)
	return true, remaining, nil
}

// Disable removes the player's enrollment entirely.
func (s *Service) Disable(ctx context.Context, playerID ulid.ULID) error {
	if err := s.repo.Delete(ctx, playerID); err != nil {
		return oops.Code("TWOFA_DISABLE_FAILED").
			With("player_id", playerID).
			Wrap(err)
	}
	s.clearConsumed(playerID)
	s.logger.Info("two-factor disabled", "player_id", playerID)
	return nil
}

// Reconfigure applies a new skew tolerance. Consumed-step tracking is
// unaffected.
func (s *Service) Reconfigure(skewSteps uint) {
	s.mu.Lock()
	s.skewSteps = skewSteps
	s.mu.Unlock()
}

func (s *Service) currentSkew() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(s.skewSteps)
}

// matchCode validates the code against each time-step in the skew window
// individually, so the caller learns which step matched. Returns the matched
// step, which is what anti-replay tracking keys on.
func (s *Service) matchCode(secret, code string) (bool, int64) {
	now := s.now()
	skew := s.currentSkew()
	opts := totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      0,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}

	for delta := -skew; delta <= skew; delta++ {
		at := now.Add(time.Duration(delta*totpPeriod) * time.Second)
		ok, err := totp.ValidateCustom(code, secret, at, opts)
		if err != nil {
			continue
		}
		if ok {
			return true, now.Unix()/totpPeriod + delta
		}
	}
	return false, 0
}

func (s *Service) clearConsumed(playerID ulid.ULID) {
	s.mu.Lock()
	delete(s.consumedStep, playerID)
	s.mu.Unlock()
}

// Forget drops the in-memory replay marker for a player, called when their
// tracked state is evicted.
func (s *Service) Forget(playerID ulid.ULID) {
	s.clearConsumed(playerID)
}

func generateRecoveryCodes(count int) (codes, hashes []string, err error) {
	codes = make([]string, 0, count)
	hashes = make([]string, 0, count)
	for i := 0; i < count; i++ {
		buf := make([]byte, recoveryCodeBytes)
		if _, err := rand.Read(buf); err != nil {
			return nil, nil, oops.Code("TWOFA_RECOVERY_GENERATE_FAILED").Wrap(err)
		}
		code := fmt.Sprintf("%s-%s", hex.EncodeToString(buf[:2]), hex.EncodeToString(buf[2:]))
		codes = append(codes, code)
		hashes = append(hashes, hashRecoveryCode(code))
	}
	return codes, hashes, nil
}

func hashRecoveryCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}
