// Package interfaces defines the core types and service contracts for the
// TEE signer onboarding system. It provides the contract between
// components without implementation details, so concrete services can be
// substituted with test doubles.
package interfaces

import (
	"fmt"
	"strings"
	"time"
)

// KeyType identifies a public key derivation strategy.
type KeyType string

const (
	// KeyTypeEd25519 derives an Ed25519 key using the master secret as seed.
	KeyTypeEd25519 KeyType = "ed25519"

	// KeyTypeSecp256k1 derives a secp256k1 key by hashing the master
	// secret until a valid curve scalar is found.
	KeyTypeSecp256k1 KeyType = "secp256k1"
)

// Validate checks that the key type names a supported strategy.
func (k KeyType) Validate() error {
	switch k {
	case KeyTypeEd25519, KeyTypeSecp256k1:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedKeyType, string(k))
	}
}

// DeliveryMethod is the out-of-band channel an OTP is delivered over.
type DeliveryMethod string

const (
	DeliveryEmail DeliveryMethod = "email"
	DeliverySMS   DeliveryMethod = "sms"
)

// AuthID is an authentication identifier in "<method>:<address>" form,
// for example "email:user@example.com" or "sms:+15551234567".
type AuthID string

// NewAuthID validates and returns an AuthID.
func NewAuthID(s string) (AuthID, error) {
	id := AuthID(s)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// Validate checks the "<method>:<address>" structure and that the method
// is a supported delivery channel.
func (a AuthID) Validate() error {
	method, address, found := strings.Cut(string(a), ":")
	if !found || address == "" {
		return fmt.Errorf("%w: %q", ErrInvalidAuthID, string(a))
	}
	switch DeliveryMethod(method) {
	case DeliveryEmail, DeliverySMS:
		return nil
	default:
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidAuthID, method)
	}
}

// Method returns the delivery method component.
func (a AuthID) Method() DeliveryMethod {
	method, _, _ := strings.Cut(string(a), ":")
	return DeliveryMethod(method)
}

// Address returns the delivery address component.
func (a AuthID) Address() string {
	_, address, _ := strings.Cut(string(a), ":")
	return address
}

// String returns the raw identifier.
func (a AuthID) String() string {
	return string(a)
}

// PendingOTPRequest is a not-yet-verified onboarding challenge. At most
// one exists per device; a new challenge for the same device replaces
// the prior one.
type PendingOTPRequest struct {
	// OTP is the 6-digit plaintext challenge code.
	OTP string

	// SignerID identifies the signer being onboarded.
	SignerID string

	// AuthID is the identity the OTP was delivered to.
	AuthID AuthID

	// DeviceID identifies the device requesting onboarding.
	DeviceID string

	// CreatedAt is when the challenge was generated.
	CreatedAt time.Time

	// FailedAttempts counts wrong guesses against this challenge.
	FailedAttempts int
}
