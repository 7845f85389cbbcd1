// Package kms implements deterministic key derivation for signer
// identities. A (signerId, authId) pair plus the TEE identity key fully
// determines the derived material: the same inputs always produce the
// same master secret, public keys, and share split, so key material can
// be re-derived on any attested instance without durable storage.
package kms

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/hashicorp/vault/shamir"
	"golang.org/x/crypto/hkdf"

	"github.com/Paella-Labs/tee-ts-sub000/interfaces"
)

// secpDomainSuffix domain-separates the secp256k1 scalar search from the
// raw master secret.
const secpDomainSuffix = "secp256k1-scalar/v1"

// maxScalarAttempts bounds the hash-until-valid-scalar loop.
const maxScalarAttempts = 128

// derivationContext is the HKDF info for master-secret derivation.
// Field order is part of the wire contract: serialized as
// {"signerId":...,"authId":...,"version":"1"}.
type derivationContext struct {
	SignerID string `json:"signerId"`
	AuthID   string `json:"authId"`
	Version  string `json:"version"`
}

// KeyShares is the 2-of-2 Shamir split of a master secret. Combining
// both shares reconstructs the secret exactly; either one alone reveals
// nothing about it.
type KeyShares struct {
	// Device is the share handed to the onboarding device.
	Device []byte

	// Auth is the share bound to the auth identity.
	Auth []byte

	// DeviceShareHash is the SHA-256 digest of the device share, for
	// client-side integrity checking.
	DeviceShareHash []byte
}

// DerivationService derives signer key material from the TEE identity
// key. It holds no state beyond the key pair provider and is safe for
// concurrent use.
type DerivationService struct {
	keys interfaces.KeyPairProvider
}

// NewDerivationService creates a derivation service bound to the given
// identity key pair provider.
func NewDerivationService(keys interfaces.KeyPairProvider) *DerivationService {
	return &DerivationService{keys: keys}
}

// DeriveMasterSecret computes the 32-byte master secret for a
// (signerId, authId) pair:
//
//	HKDF-SHA256(secret = identity private key material,
//	            salt   = 32 zero bytes,
//	            info   = {"signerId":...,"authId":...,"version":"1"})
//
// The secret is never persisted; callers hold it only for the duration
// of a request.
func (s *DerivationService) DeriveMasterSecret(signerID string, authID interfaces.AuthID) ([]byte, error) {
	secret, err := s.keys.PrivateKeyMaterial()
	if err != nil {
		return nil, err
	}

	info, err := json.Marshal(derivationContext{
		SignerID: signerID,
		AuthID:   authID.String(),
		Version:  "1",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode derivation context: %w", err)
	}

	salt := make([]byte, 32)
	master := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), master); err != nil {
		return nil, fmt.Errorf("failed to derive master secret: %w", err)
	}
	return master, nil
}

// DerivePublicKey derives the public key a signer identity will have for
// the given key type, without requiring a device or OTP exchange. Used
// to let clients learn their future address ahead of onboarding.
func (s *DerivationService) DerivePublicKey(signerID string, authID interfaces.AuthID, keyType interfaces.KeyType) (string, error) {
	if err := keyType.Validate(); err != nil {
		return "", err
	}

	master, err := s.DeriveMasterSecret(signerID, authID)
	if err != nil {
		return "", err
	}

	strategy := publicKeyStrategies[keyType]
	return strategy(master)
}

// GenerateAndSplit derives the master secret and Shamir-splits it 2-of-2
// into a device share and an auth share.
func (s *DerivationService) GenerateAndSplit(signerID string, authID interfaces.AuthID) (*KeyShares, error) {
	master, err := s.DeriveMasterSecret(signerID, authID)
	if err != nil {
		return nil, err
	}

	shares, err := shamir.Split(master, 2, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to split master secret: %w", err)
	}

	deviceHash := sha256.Sum256(shares[0])
	return &KeyShares{
		Device:          shares[0],
		Auth:            shares[1],
		DeviceShareHash: deviceHash[:],
	}, nil
}

// CombineShares reconstructs a master secret from its Shamir shares.
func CombineShares(shares ...[]byte) ([]byte, error) {
	return shamir.Combine(shares)
}

// publicKeyStrategies maps each supported key type to its derivation
// strategy. Adding a curve means adding an entry here and a KeyType
// constant; dispatch stays data-driven.
var publicKeyStrategies = map[interfaces.KeyType]func(master []byte) (string, error){
	interfaces.KeyTypeEd25519:   ed25519PublicKey,
	interfaces.KeyTypeSecp256k1: secp256k1PublicKey,
}

// ed25519PublicKey treats the master secret directly as an Ed25519 seed.
func ed25519PublicKey(master []byte) (string, error) {
	priv := ed25519.NewKeyFromSeed(master)
	pub := priv.Public().(ed25519.PublicKey)
	return base64.StdEncoding.EncodeToString(pub), nil
}

// secp256k1PublicKey hashes the master secret with a domain-separation
// suffix until the result is a valid curve scalar, then returns the
// compressed public key in hex.
func secp256k1PublicKey(master []byte) (string, error) {
	candidate := master
	for i := 0; i < maxScalarAttempts; i++ {
		h := sha256.New()
		h.Write(candidate)
		h.Write([]byte(secpDomainSuffix))
		candidate = h.Sum(nil)

		priv, err := ethcrypto.ToECDSA(candidate)
		if err != nil {
			// Not a valid scalar, hash again.
			continue
		}
		return hexutil.Encode(ethcrypto.CompressPubkey(&priv.PublicKey)), nil
	}
	return "", errors.New("could not derive a valid secp256k1 scalar")
}
