package interfaces

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for every named outcome in the onboarding protocol.
// Services return these (possibly wrapped); only the HTTP adapter maps
// them to transport status codes.
var (
	// ErrNotInitialized means encryption was used before the identity
	// key pair was established.
	ErrNotInitialized = errors.New("identity key pair not initialized")

	// ErrDecryptionFailed covers any AEAD tag mismatch or malformed
	// encapsulated key. It is deliberately uniform so callers cannot
	// tell which part of the envelope failed.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrNotPending means no OTP challenge exists for the device.
	ErrNotPending = errors.New("no pending OTP request for device")

	// ErrExpired means the OTP challenge outlived its validity window.
	ErrExpired = errors.New("OTP expired")

	// ErrInvalidOTP is the target for InvalidOTPError via errors.Is.
	ErrInvalidOTP = errors.New("invalid OTP")

	// ErrMaxAttemptsExceeded means the challenge was invalidated after
	// too many wrong guesses.
	ErrMaxAttemptsExceeded = errors.New("maximum OTP attempts exceeded")

	// ErrTooManyDevices is the target for TooManyDevicesError via errors.Is.
	ErrTooManyDevices = errors.New("too many devices onboarded")

	// ErrTooManyRequests means the identity tripped the request
	// throttle on OTP generation. Retriable after backing off.
	ErrTooManyRequests = errors.New("too many onboarding requests")

	// ErrUnsupportedKeyType means the requested derivation strategy does
	// not exist.
	ErrUnsupportedKeyType = errors.New("unsupported key type")

	// ErrInvalidAuthID means the auth identifier is malformed or names
	// an unsupported delivery method.
	ErrInvalidAuthID = errors.New("invalid auth ID")
)

// InvalidOTPError is returned on a wrong OTP guess that has not yet
// consumed the attempt ceiling. The challenge remains pending.
type InvalidOTPError struct {
	// Attempts is the number of failed attempts so far.
	Attempts int

	// MaxAttempts is the configured attempt ceiling.
	MaxAttempts int
}

func (e *InvalidOTPError) Error() string {
	return fmt.Sprintf("invalid OTP (%d/%d attempts)", e.Attempts, e.MaxAttempts)
}

// Is reports ErrInvalidOTP as the match target for errors.Is.
func (e *InvalidOTPError) Is(target error) bool {
	return target == ErrInvalidOTP
}

// TooManyDevicesError is returned when a new device would exceed the
// sliding-window onboarding limit for an identity.
type TooManyDevicesError struct {
	// RetryAfter is the time until the oldest qualifying onboarding
	// record exits the window.
	RetryAfter time.Duration
}

func (e *TooManyDevicesError) Error() string {
	return fmt.Sprintf("too many devices onboarded recently, retry in %d hour(s)", e.RetryAfterHours())
}

// Is reports ErrTooManyDevices as the match target for errors.Is.
func (e *TooManyDevicesError) Is(target error) bool {
	return target == ErrTooManyDevices
}

// RetryAfterHours returns the backoff rounded up to whole hours, never
// less than one.
func (e *TooManyDevicesError) RetryAfterHours() int {
	hours := int((e.RetryAfter + time.Hour - 1) / time.Hour)
	if hours < 1 {
		hours = 1
	}
	return hours
}
