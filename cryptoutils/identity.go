package cryptoutils

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/Paella-Labs/tee-ts-sub000/interfaces"
)

// identityDerivationInfo is the HKDF domain separator for deterministic
// identity key derivation. The counter suffix handles the rare case of a
// candidate scalar falling outside the curve order.
const identityDerivationInfo = "tee-identity-key/v1"

// maxScalarAttempts bounds the hash-until-valid-scalar loop. P-256
// rejection probability is negligible, so hitting this means the seed
// source is broken.
const maxScalarAttempts = 128

// IdentityKeyPair is the TEE instance identity: a P-256 key pair used
// for the envelope channel, OTP encryption, and as the secret input of
// master-secret derivation. The private half never leaves the process.
type IdentityKeyPair struct {
	priv *ecdh.PrivateKey
}

// NewIdentityKeyPair generates a fresh process-lifetime identity key
// pair. Used for non-attested deployments where no stable seed exists.
func NewIdentityKeyPair() (*IdentityKeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity key: %w", err)
	}
	return &IdentityKeyPair{priv: priv}, nil
}

// NewIdentityKeyPairFromSeed deterministically derives the identity key
// pair from seed material, typically bound to hardware attestation.
// The same seed always yields the same key pair. The seed must be at
// least 32 bytes.
func NewIdentityKeyPairFromSeed(seed []byte) (*IdentityKeyPair, error) {
	if len(seed) < 32 {
		return nil, errors.New("identity seed must be at least 32 bytes")
	}

	for counter := 0; counter < maxScalarAttempts; counter++ {
		info := fmt.Sprintf("%s/%d", identityDerivationInfo, counter)
		candidate := make([]byte, 32)
		if _, err := io.ReadFull(hkdf.New(sha256.New, seed, nil, []byte(info)), candidate); err != nil {
			return nil, fmt.Errorf("failed to expand identity seed: %w", err)
		}

		priv, err := ecdh.P256().NewPrivateKey(candidate)
		if err != nil {
			// Candidate outside the curve order, try the next counter.
			continue
		}
		return &IdentityKeyPair{priv: priv}, nil
	}

	return nil, errors.New("could not derive a valid identity scalar from seed")
}

// PublicKey returns the identity public key as an uncompressed P-256
// point (65 bytes).
func (k *IdentityKeyPair) PublicKey() ([]byte, error) {
	if k == nil || k.priv == nil {
		return nil, interfaces.ErrNotInitialized
	}
	return k.priv.PublicKey().Bytes(), nil
}

// PublicKeyBase64 returns the serialized public key in the base64 form
// used on the wire.
func (k *IdentityKeyPair) PublicKeyBase64() (string, error) {
	pub, err := k.PublicKey()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(pub), nil
}

// SharedSecret performs ECDH between the identity private key and the
// given uncompressed peer public key.
func (k *IdentityKeyPair) SharedSecret(peerPublicKey []byte) ([]byte, error) {
	if k == nil || k.priv == nil {
		return nil, interfaces.ErrNotInitialized
	}

	peer, err := ecdh.P256().NewPublicKey(peerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid peer public key: %w", err)
	}
	return k.priv.ECDH(peer)
}

// PrivateKeyMaterial returns the raw private scalar bytes. Consumed only
// by master-secret derivation as the HKDF input secret.
func (k *IdentityKeyPair) PrivateKeyMaterial() ([]byte, error) {
	if k == nil || k.priv == nil {
		return nil, interfaces.ErrNotInitialized
	}
	return k.priv.Bytes(), nil
}
