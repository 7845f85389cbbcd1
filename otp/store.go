// Package otp implements the one-time-passcode lifecycle gating key
// derivation: challenge generation, expiry, bounded-retry verification,
// and background cleanup of abandoned challenges. The pending table is
// in-memory only and resets on process restart.
package otp

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Paella-Labs/tee-ts-sub000/interfaces"
)

// otpDigits is the challenge length. The code space is 000000-999999.
const otpDigits = 6

const otpModulus = 1_000_000

// Config holds the OTP lifecycle parameters.
type Config struct {
	// Expiry is the user-facing validity window of a challenge.
	Expiry time.Duration

	// MaxAttempts is the wrong-guess ceiling before invalidation.
	MaxAttempts int

	// CleanupGrace extends retention past expiry so an expired-but-not-
	// yet-cleaned challenge still reports Expired rather than
	// NotPending, while bounding memory growth from abandoned ones.
	CleanupGrace time.Duration

	// CleanupInterval is how often the background sweep runs.
	CleanupInterval time.Duration
}

// DefaultConfig returns the production lifecycle: 5 minute expiry,
// 3 attempts, hourly grace, sweep every expiry interval.
func DefaultConfig() Config {
	return Config{
		Expiry:          5 * time.Minute,
		MaxAttempts:     3,
		CleanupGrace:    time.Hour,
		CleanupInterval: 5 * time.Minute,
	}
}

// Store owns the pending challenge table, keyed by deviceId. All state
// transitions are single atomic check-then-act sequences under one
// lock, so two concurrent requests can never both pass a check before
// either applies its effect.
type Store struct {
	cfg     Config
	limiter interfaces.OnboardingLimiter
	log     *slog.Logger

	mu      sync.Mutex
	pending map[string]*interfaces.PendingOTPRequest

	now func() time.Time
}

// NewStore creates an OTP store wired to the given onboarding limiter.
func NewStore(cfg Config, limiter interfaces.OnboardingLimiter, log *slog.Logger) *Store {
	return &Store{
		cfg:     cfg,
		limiter: limiter,
		log:     log,
		pending: make(map[string]*interfaces.PendingOTPRequest),
		now:     time.Now,
	}
}

// Generate admits the device through the onboarding limiter, then draws
// a fresh 6-digit challenge and stores it, replacing any prior pending
// challenge for the device. Returns the plaintext code for out-of-band
// delivery.
func (s *Store) Generate(signerID string, authID interfaces.AuthID, deviceID string) (string, error) {
	if err := s.limiter.Admit(signerID, authID, deviceID); err != nil {
		return "", err
	}

	code, err := randomCode()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.pending[deviceID] = &interfaces.PendingOTPRequest{
		OTP:       code,
		SignerID:  signerID,
		AuthID:    authID,
		DeviceID:  deviceID,
		CreatedAt: s.now(),
	}
	s.mu.Unlock()

	s.log.Debug("OTP challenge generated", "signerId", signerID, "deviceId", deviceID)
	return code, nil
}

// Verify checks a candidate code against the device's pending challenge
// and applies exactly one state transition:
//
//   - no challenge: interfaces.ErrNotPending, no side effect
//   - past expiry: challenge deleted, interfaces.ErrExpired
//   - wrong code below the ceiling: attempt counter incremented,
//     *interfaces.InvalidOTPError, challenge stays pending
//   - wrong code reaching the ceiling: challenge deleted,
//     interfaces.ErrMaxAttemptsExceeded
//   - match: challenge deleted, the completed onboarding is recorded
//     with the limiter, and the consumed request is returned
func (s *Store) Verify(deviceID, candidate string) (*interfaces.PendingOTPRequest, error) {
	s.mu.Lock()

	req, ok := s.pending[deviceID]
	if !ok {
		s.mu.Unlock()
		return nil, interfaces.ErrNotPending
	}

	if s.now().Sub(req.CreatedAt) > s.cfg.Expiry {
		delete(s.pending, deviceID)
		s.mu.Unlock()
		return nil, interfaces.ErrExpired
	}

	if candidate != req.OTP {
		req.FailedAttempts++
		if req.FailedAttempts >= s.cfg.MaxAttempts {
			delete(s.pending, deviceID)
			s.mu.Unlock()
			return nil, interfaces.ErrMaxAttemptsExceeded
		}
		attempts := req.FailedAttempts
		s.mu.Unlock()
		return nil, &interfaces.InvalidOTPError{Attempts: attempts, MaxAttempts: s.cfg.MaxAttempts}
	}

	delete(s.pending, deviceID)
	consumed := *req
	s.mu.Unlock()

	s.limiter.Record(consumed.SignerID, consumed.AuthID, consumed.DeviceID)
	return &consumed, nil
}

// Cleanup deletes challenges older than expiry plus the grace period.
// The key set is snapshotted so the lock is never held across the full
// table scan.
func (s *Store) Cleanup() {
	cutoff := s.now().Add(-(s.cfg.Expiry + s.cfg.CleanupGrace))

	s.mu.Lock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	removed := 0
	for _, id := range ids {
		s.mu.Lock()
		if req, ok := s.pending[id]; ok && req.CreatedAt.Before(cutoff) {
			delete(s.pending, id)
			removed++
		}
		s.mu.Unlock()
	}

	if removed > 0 {
		s.log.Debug("Cleaned up abandoned OTP challenges", "removed", removed)
	}
}

// RunCleanup periodically runs Cleanup until the context is cancelled.
func (s *Store) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

// randomCode draws a uniformly distributed 6-digit code by reducing a
// 32-bit random draw modulo the code space.
func randomCode() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("failed to draw random OTP: %w", err)
	}
	return fmt.Sprintf("%06d", binary.BigEndian.Uint32(buf[:])%otpModulus), nil
}

// Digits converts a numeric code to its digit sequence for the
// format-preserving cipher.
func Digits(code string) ([]int, error) {
	digits := make([]int, len(code))
	for i, r := range code {
		if r < '0' || r > '9' {
			return nil, errors.New("code contains a non-digit character")
		}
		digits[i] = int(r - '0')
	}
	return digits, nil
}

// DigitsString renders a digit sequence back into its numeric string.
func DigitsString(digits []int) string {
	out := make([]byte, len(digits))
	for i, d := range digits {
		out[i] = byte('0' + d)
	}
	return string(out)
}
