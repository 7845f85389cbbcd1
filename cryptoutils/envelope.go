package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/Paella-Labs/tee-ts-sub000/interfaces"
)

// HKDF domain separators for the two envelope modes.
const (
	envelopeInfoAuth = "tee-envelope/auth/v1"
	envelopeInfoBase = "tee-envelope/base/v1"
)

const gcmNonceSize = 12

// EncryptionEnvelope is the wire form of an asymmetrically encrypted
// payload. EncapsulatedKey is the ephemeral public key of the sender's
// KEM leg; SenderPublicKey is set only for Auth-mode envelopes.
type EncryptionEnvelope struct {
	Ciphertext      []byte
	EncapsulatedKey []byte
	SenderPublicKey []byte
}

// EnvelopeService is the TEE side of the envelope channel. Outbound
// messages are sealed in Auth mode, proving they originate from the
// identity key; inbound messages are opened in Base mode, where sender
// authenticity is established at the application layer via OTP
// possession, not cryptographically.
type EnvelopeService struct {
	keys interfaces.KeyPairProvider
}

// NewEnvelopeService creates the envelope channel bound to the given
// identity key pair provider.
func NewEnvelopeService(keys interfaces.KeyPairProvider) *EnvelopeService {
	return &EnvelopeService{keys: keys}
}

// SealAuth encrypts payload to the recipient public key in Auth mode:
// the AEAD key mixes in both an ephemeral ECDH leg and a static leg
// from the TEE identity key, so only the identity key holder could have
// produced the envelope. Returns the envelope with the TEE public key
// embedded as SenderPublicKey.
func (s *EnvelopeService) SealAuth(payload, recipientPublicKey []byte) (*EncryptionEnvelope, error) {
	if s == nil || s.keys == nil {
		return nil, interfaces.ErrNotInitialized
	}

	senderPub, err := s.keys.PublicKey()
	if err != nil {
		return nil, err
	}

	recipient, err := ecdh.P256().NewPublicKey(recipientPublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient public key: %w", err)
	}

	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	ephemeralSecret, err := ephemeral.ECDH(recipient)
	if err != nil {
		return nil, fmt.Errorf("ephemeral key agreement failed: %w", err)
	}

	staticSecret, err := s.keys.SharedSecret(recipientPublicKey)
	if err != nil {
		return nil, err
	}

	encapsulated := ephemeral.PublicKey().Bytes()
	key := deriveEnvelopeKey(envelopeInfoAuth,
		append(ephemeralSecret, staticSecret...),
		encapsulated, senderPub, recipientPublicKey)

	ciphertext, err := aeadSeal(key, payload)
	if err != nil {
		return nil, err
	}

	return &EncryptionEnvelope{
		Ciphertext:      ciphertext,
		EncapsulatedKey: encapsulated,
		SenderPublicKey: senderPub,
	}, nil
}

// OpenBase decrypts an envelope sealed to the TEE public key in Base
// mode. Success proves confidentiality only; callers MUST NOT treat it
// as proof of sender identity. Any failure is reported uniformly as
// interfaces.ErrDecryptionFailed.
func (s *EnvelopeService) OpenBase(ciphertext, encapsulatedKey []byte) ([]byte, error) {
	if s == nil || s.keys == nil {
		return nil, interfaces.ErrNotInitialized
	}

	teePub, err := s.keys.PublicKey()
	if err != nil {
		return nil, err
	}

	secret, err := s.keys.SharedSecret(encapsulatedKey)
	if err != nil {
		return nil, interfaces.ErrDecryptionFailed
	}

	key := deriveEnvelopeKey(envelopeInfoBase, secret, encapsulatedKey, teePub)
	payload, err := aeadOpen(key, ciphertext)
	if err != nil {
		return nil, interfaces.ErrDecryptionFailed
	}
	return payload, nil
}

// SealBase is the client leg of the inbound channel: it encrypts payload
// to the TEE public key without sender authentication. The returned
// ephemeral private key lets the caller open an Auth-mode response
// addressed to the envelope's encapsulated key.
func SealBase(payload, recipientPublicKey []byte) (*EncryptionEnvelope, *ecdh.PrivateKey, error) {
	recipient, err := ecdh.P256().NewPublicKey(recipientPublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid recipient public key: %w", err)
	}

	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	secret, err := ephemeral.ECDH(recipient)
	if err != nil {
		return nil, nil, fmt.Errorf("key agreement failed: %w", err)
	}

	encapsulated := ephemeral.PublicKey().Bytes()
	key := deriveEnvelopeKey(envelopeInfoBase, secret, encapsulated, recipientPublicKey)

	ciphertext, err := aeadSeal(key, payload)
	if err != nil {
		return nil, nil, err
	}

	return &EncryptionEnvelope{
		Ciphertext:      ciphertext,
		EncapsulatedKey: encapsulated,
	}, ephemeral, nil
}

// OpenAuth is the client leg of the outbound channel: it opens an
// Auth-mode envelope addressed to recipientKey, verifying it was sealed
// by the holder of senderPublicKey. Failures are uniform.
func OpenAuth(envelope *EncryptionEnvelope, recipientKey *ecdh.PrivateKey) ([]byte, error) {
	if envelope == nil || recipientKey == nil {
		return nil, interfaces.ErrDecryptionFailed
	}

	ephemeralPub, err := ecdh.P256().NewPublicKey(envelope.EncapsulatedKey)
	if err != nil {
		return nil, interfaces.ErrDecryptionFailed
	}
	senderPub, err := ecdh.P256().NewPublicKey(envelope.SenderPublicKey)
	if err != nil {
		return nil, interfaces.ErrDecryptionFailed
	}

	ephemeralSecret, err := recipientKey.ECDH(ephemeralPub)
	if err != nil {
		return nil, interfaces.ErrDecryptionFailed
	}
	staticSecret, err := recipientKey.ECDH(senderPub)
	if err != nil {
		return nil, interfaces.ErrDecryptionFailed
	}

	key := deriveEnvelopeKey(envelopeInfoAuth,
		append(ephemeralSecret, staticSecret...),
		envelope.EncapsulatedKey, envelope.SenderPublicKey, recipientKey.PublicKey().Bytes())

	payload, err := aeadOpen(key, envelope.Ciphertext)
	if err != nil {
		return nil, interfaces.ErrDecryptionFailed
	}
	return payload, nil
}

// deriveEnvelopeKey expands the KEM shared secret into a 32-byte AEAD
// key, binding the mode and all public keys of the exchange into the
// HKDF info.
func deriveEnvelopeKey(mode string, secret []byte, context ...[]byte) []byte {
	info := []byte(mode)
	for _, c := range context {
		info = append(info, c...)
	}

	key := make([]byte, 32)
	// Per RFC 5869 the read cannot fail for a 32-byte output.
	_, _ = io.ReadFull(hkdf.New(sha256.New, secret, nil, info), key)
	return key
}

func aeadSeal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Format: [nonce][ciphertext+tag]
	return aesGCM.Seal(nonce, nonce, plaintext, nil), nil
}

func aeadOpen(key, data []byte) ([]byte, error) {
	if len(data) < gcmNonceSize {
		return nil, interfaces.ErrDecryptionFailed
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return aesGCM.Open(nil, data[:gcmNonceSize], data[gcmNonceSize:], nil)
}
