package otp

import (
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paella-Labs/tee-ts-sub000/interfaces"
)

// permissiveLimiter admits everything and records calls.
type permissiveLimiter struct {
	recorded []string
}

func (l *permissiveLimiter) Admit(signerID string, authID interfaces.AuthID, deviceID string) error {
	return nil
}

func (l *permissiveLimiter) Record(signerID string, authID interfaces.AuthID, deviceID string) {
	l.recorded = append(l.recorded, deviceID)
}

// denyingLimiter rejects every admission.
type denyingLimiter struct{}

func (denyingLimiter) Admit(signerID string, authID interfaces.AuthID, deviceID string) error {
	return &interfaces.TooManyDevicesError{RetryAfter: 2 * time.Hour}
}

func (denyingLimiter) Record(signerID string, authID interfaces.AuthID, deviceID string) {}

func testStore(t *testing.T) (*Store, *permissiveLimiter, *time.Time) {
	t.Helper()
	limiter := &permissiveLimiter{}
	store := NewStore(DefaultConfig(), limiter, slog.Default())

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }
	return store, limiter, &current
}

func TestGenerate_Format(t *testing.T) {
	store, _, _ := testStore(t)
	otpPattern := regexp.MustCompile(`^\d{6}$`)

	for i := 0; i < 50; i++ {
		code, err := store.Generate("signerA", "email:a@x.com", "dev1")
		require.NoError(t, err, "Generate should succeed")
		assert.Regexp(t, otpPattern, code, "OTP must be exactly 6 digits")
	}
}

func TestGenerate_RateLimiterDenial(t *testing.T) {
	store := NewStore(DefaultConfig(), denyingLimiter{}, slog.Default())

	_, err := store.Generate("signerA", "email:a@x.com", "dev1")
	require.ErrorIs(t, err, interfaces.ErrTooManyDevices, "Denied admission should propagate")

	// Denial must not leave a pending challenge behind.
	_, err = store.Verify("dev1", "000000")
	assert.ErrorIs(t, err, interfaces.ErrNotPending)
}

func TestVerify_SuccessConsumesChallenge(t *testing.T) {
	store, limiter, _ := testStore(t)

	code, err := store.Generate("signerA", "email:a@x.com", "dev1")
	require.NoError(t, err)

	req, err := store.Verify("dev1", code)
	require.NoError(t, err, "Correct code should verify")
	assert.Equal(t, "signerA", req.SignerID)
	assert.Equal(t, interfaces.AuthID("email:a@x.com"), req.AuthID)
	assert.Equal(t, "dev1", req.DeviceID)
	assert.Equal(t, []string{"dev1"}, limiter.recorded, "Completion should be recorded exactly once")

	// Replay with the same correct code fails NotPending.
	_, err = store.Verify("dev1", code)
	assert.ErrorIs(t, err, interfaces.ErrNotPending, "A consumed challenge must not verify again")
}

func TestVerify_AttemptCeiling(t *testing.T) {
	store, limiter, _ := testStore(t)

	code, err := store.Generate("signerA", "email:a@x.com", "dev1")
	require.NoError(t, err)
	wrong := "000000"
	if code == wrong {
		wrong = "000001"
	}

	_, err = store.Verify("dev1", wrong)
	var invalid *interfaces.InvalidOTPError
	require.ErrorAs(t, err, &invalid, "First wrong guess should be retriable")
	assert.Equal(t, 1, invalid.Attempts)
	assert.Equal(t, 3, invalid.MaxAttempts)

	_, err = store.Verify("dev1", wrong)
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 2, invalid.Attempts)

	_, err = store.Verify("dev1", wrong)
	assert.ErrorIs(t, err, interfaces.ErrMaxAttemptsExceeded, "Third wrong guess should invalidate")

	// Even the correct code now fails NotPending.
	_, err = store.Verify("dev1", code)
	assert.ErrorIs(t, err, interfaces.ErrNotPending)
	assert.Empty(t, limiter.recorded, "No completion should be recorded")
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	store, _, current := testStore(t)

	code, err := store.Generate("signerA", "email:a@x.com", "dev1")
	require.NoError(t, err)

	// Just inside the window: succeeds.
	*current = current.Add(5*time.Minute - time.Millisecond)
	_, err = store.Verify("dev1", code)
	assert.NoError(t, err, "OTP should verify one millisecond before expiry")

	// Regenerate and step just past the window: Expired, and gone.
	code, err = store.Generate("signerA", "email:a@x.com", "dev1")
	require.NoError(t, err)
	*current = current.Add(5*time.Minute + time.Millisecond)
	_, err = store.Verify("dev1", code)
	assert.ErrorIs(t, err, interfaces.ErrExpired, "OTP should expire one millisecond past the window")

	_, err = store.Verify("dev1", code)
	assert.ErrorIs(t, err, interfaces.ErrNotPending, "Expired challenge should have been removed")
}

func TestGenerate_OverwritesPriorChallenge(t *testing.T) {
	store, _, _ := testStore(t)

	first, err := store.Generate("signerA", "email:a@x.com", "dev1")
	require.NoError(t, err)
	second, err := store.Generate("signerA", "email:a@x.com", "dev1")
	require.NoError(t, err)

	if first != second {
		_, err = store.Verify("dev1", first)
		assert.ErrorIs(t, err, interfaces.ErrInvalidOTP, "The replaced code must no longer match")
	}
	_, err = store.Verify("dev1", second)
	assert.NoError(t, err, "The latest code should verify")
}

func TestCleanup_GraceWindow(t *testing.T) {
	store, _, current := testStore(t)

	code, err := store.Generate("signerA", "email:a@x.com", "dev1")
	require.NoError(t, err)

	// Expired but within the grace period: cleanup keeps it so the user
	// still sees Expired instead of NotPending.
	*current = current.Add(30 * time.Minute)
	store.Cleanup()
	_, err = store.Verify("dev1", code)
	assert.ErrorIs(t, err, interfaces.ErrExpired)

	// Past expiry plus grace: cleanup removes it.
	code, err = store.Generate("signerA", "email:a@x.com", "dev1")
	require.NoError(t, err)
	*current = current.Add(65*time.Minute + 5*time.Minute)
	store.Cleanup()
	_, err = store.Verify("dev1", code)
	assert.ErrorIs(t, err, interfaces.ErrNotPending, "Cleanup should have dropped the stale challenge")
}

func TestDigits_RoundTrip(t *testing.T) {
	digits, err := Digits("482910")
	require.NoError(t, err)
	assert.Equal(t, []int{4, 8, 2, 9, 1, 0}, digits)
	assert.Equal(t, "482910", DigitsString(digits))

	_, err = Digits("48a910")
	assert.Error(t, err, "Non-digit characters should be rejected")
}
