// Package ratelimit bounds device onboarding and request rates. The
// sliding-window limiter is the anti-abuse core: it caps how many new
// devices one identity can onboard per window while letting known
// devices re-authenticate freely. The keyed throttle additionally guards
// the start-onboarding endpoint against OTP generation spam.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Paella-Labs/tee-ts-sub000/interfaces"
)

// SlidingWindowConfig configures the device onboarding limiter.
type SlidingWindowConfig struct {
	// Window is the rolling interval over which onboardings count.
	Window time.Duration

	// MaxDevicesPerWindow is the number of distinct new devices an
	// identity may onboard within the window.
	MaxDevicesPerWindow int

	// CleanupInterval is how often stale records are dropped.
	CleanupInterval time.Duration
}

// DefaultSlidingWindowConfig returns the production limits: 3 new
// devices per identity per 6 hours.
func DefaultSlidingWindowConfig() SlidingWindowConfig {
	return SlidingWindowConfig{
		Window:              6 * time.Hour,
		MaxDevicesPerWindow: 3,
		CleanupInterval:     6 * time.Hour,
	}
}

type onboardingRecord struct {
	deviceID    string
	onboardedAt time.Time
}

// SlidingWindowLimiter counts completed onboardings per
// "signerId:authId" identity over a rolling window. Admission and
// recording are separate on purpose: admission is checked before OTP
// generation, but a slot is consumed only after the user proves
// possession of the OTP channel, so unverified generation attempts
// cannot exhaust the limit.
type SlidingWindowLimiter struct {
	cfg SlidingWindowConfig
	log *slog.Logger

	mu      sync.Mutex
	records map[string][]onboardingRecord

	now func() time.Time
}

// NewSlidingWindowLimiter creates a limiter with the given config.
func NewSlidingWindowLimiter(cfg SlidingWindowConfig, log *slog.Logger) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		cfg:     cfg,
		log:     log,
		records: make(map[string][]onboardingRecord),
		now:     time.Now,
	}
}

func identityKey(signerID string, authID interfaces.AuthID) string {
	return signerID + ":" + authID.String()
}

// Admit decides whether the device may start onboarding. A device that
// onboarded within the window is always re-admitted without consuming a
// slot. Otherwise the distinct-device count within the window must be
// below the maximum, or a *interfaces.TooManyDevicesError is returned
// with the time until the oldest qualifying record exits the window.
func (l *SlidingWindowLimiter) Admit(signerID string, authID interfaces.AuthID, deviceID string) error {
	now := l.now()
	cutoff := now.Add(-l.cfg.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	var oldest time.Time
	distinct := make(map[string]struct{})
	for _, rec := range l.records[identityKey(signerID, authID)] {
		if rec.onboardedAt.Before(cutoff) {
			continue
		}
		if rec.deviceID == deviceID {
			// Known device re-authenticating.
			return nil
		}
		if _, seen := distinct[rec.deviceID]; !seen {
			distinct[rec.deviceID] = struct{}{}
		}
		if oldest.IsZero() || rec.onboardedAt.Before(oldest) {
			oldest = rec.onboardedAt
		}
	}

	if len(distinct) >= l.cfg.MaxDevicesPerWindow {
		retryAfter := oldest.Add(l.cfg.Window).Sub(now)
		l.log.Info("Device onboarding rate limited",
			"signerId", signerID, "deviceId", deviceID, "retryAfter", retryAfter)
		return &interfaces.TooManyDevicesError{RetryAfter: retryAfter}
	}
	return nil
}

// Record appends an onboarding record for the device at the current
// time. Called only after successful OTP verification.
func (l *SlidingWindowLimiter) Record(signerID string, authID interfaces.AuthID, deviceID string) {
	key := identityKey(signerID, authID)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[key] = append(l.records[key], onboardingRecord{
		deviceID:    deviceID,
		onboardedAt: l.now(),
	})
}

// Cleanup drops records older than the window. The key set is
// snapshotted first so the lock is never held across the full table
// scan.
func (l *SlidingWindowLimiter) Cleanup() {
	cutoff := l.now().Add(-l.cfg.Window)

	l.mu.Lock()
	keys := make([]string, 0, len(l.records))
	for key := range l.records {
		keys = append(keys, key)
	}
	l.mu.Unlock()

	for _, key := range keys {
		l.mu.Lock()
		kept := l.records[key][:0]
		for _, rec := range l.records[key] {
			if !rec.onboardedAt.Before(cutoff) {
				kept = append(kept, rec)
			}
		}
		if len(kept) == 0 {
			delete(l.records, key)
		} else {
			l.records[key] = kept
		}
		l.mu.Unlock()
	}
}

// RunCleanup periodically runs Cleanup until the context is cancelled.
func (l *SlidingWindowLimiter) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}
