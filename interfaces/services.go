package interfaces

import "context"

// KeyPairProvider gives access to the TEE instance identity key pair.
// The private half never leaves the implementation; consumers get the
// serialized public key, ECDH agreement against it, and raw private key
// material for deterministic derivation only.
//
// All methods return ErrNotInitialized until the key pair is established.
type KeyPairProvider interface {
	// PublicKey returns the identity public key as an uncompressed
	// curve point.
	PublicKey() ([]byte, error)

	// SharedSecret performs ECDH between the identity private key and
	// the given peer public key (uncompressed point).
	SharedSecret(peerPublicKey []byte) ([]byte, error)

	// PrivateKeyMaterial returns the raw private scalar bytes used as
	// the HKDF input secret for master-secret derivation.
	PrivateKeyMaterial() ([]byte, error)
}

// OTPStore owns the pending OTP challenge table and its state machine.
type OTPStore interface {
	// Generate admits the device with the onboarding limiter, then
	// creates and stores a fresh 6-digit challenge for the device,
	// replacing any prior pending challenge. Returns the plaintext OTP
	// for out-of-band delivery.
	Generate(signerID string, authID AuthID, deviceID string) (string, error)

	// Verify checks a candidate code against the pending challenge for
	// the device. On success the challenge is consumed and returned.
	// Failure modes: ErrNotPending, ErrExpired, *InvalidOTPError,
	// ErrMaxAttemptsExceeded.
	Verify(deviceID, candidate string) (*PendingOTPRequest, error)
}

// OnboardingLimiter bounds how many new devices an identity may onboard
// within a rolling window. Re-authentication of an already-onboarded
// device is always admitted.
type OnboardingLimiter interface {
	// Admit returns nil if the device may start onboarding, or a
	// *TooManyDevicesError carrying the backoff otherwise.
	Admit(signerID string, authID AuthID, deviceID string) error

	// Record appends an onboarding record for the device. Called only
	// after the user proved possession of the OTP channel.
	Record(signerID string, authID AuthID, deviceID string)
}

// OTPDeliverer hands an encrypted OTP off to an out-of-band channel.
// Concrete transports (email, SMS gateways) live behind this boundary.
type OTPDeliverer interface {
	Deliver(ctx context.Context, method DeliveryMethod, address, projectName, encryptedOTP string) error
}
