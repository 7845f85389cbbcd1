package ratelimit

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// evictionStride controls how often the throttle sweeps idle entries:
// once per this many Allow calls.
const evictionStride = 512

// Throttle applies a token bucket per string key, evicting idle entries
// lazily. Used to bound how often one identity can trigger OTP
// generation, independently of the device onboarding window.
type Throttle struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu    sync.Mutex
	byKey map[string]*throttleEntry
	calls uint64
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewThrottle creates a keyed throttle allowing rps sustained requests
// with the given burst per key. Returns nil for non-positive arguments;
// a nil Throttle admits everything.
func NewThrottle(rps float64, burst int, idleTTL time.Duration) *Throttle {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &Throttle{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		byKey:   make(map[string]*throttleEntry),
	}
}

// Allow reports whether one token can be consumed for the key at now.
func (t *Throttle) Allow(key string, now time.Time) bool {
	if t == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.byKey[key]
	if !ok {
		entry = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.byKey[key] = entry
	}
	entry.lastSeen = now
	allowed := entry.limiter.AllowN(now, 1)

	t.calls++
	if t.calls%evictionStride == 0 {
		cutoff := now.Add(-t.idleTTL)
		for k, e := range t.byKey {
			if e.lastSeen.Before(cutoff) {
				delete(t.byKey, k)
			}
		}
	}

	return allowed
}
