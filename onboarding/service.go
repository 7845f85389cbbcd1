// Package onboarding is the composition root of the trusted onboarding
// protocol. It wires the OTP lifecycle, rate limiting, key derivation,
// and the envelope channel into the three public operations: start
// onboarding, complete onboarding, and public key pre-generation.
package onboarding

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Paella-Labs/tee-ts-sub000/cryptoutils"
	"github.com/Paella-Labs/tee-ts-sub000/interfaces"
	"github.com/Paella-Labs/tee-ts-sub000/kms"
	"github.com/Paella-Labs/tee-ts-sub000/metrics"
	"github.com/Paella-Labs/tee-ts-sub000/otp"
	"github.com/Paella-Labs/tee-ts-sub000/ratelimit"
)

// Service orchestrates signer device onboarding. All dependencies are
// injected; the service holds no mutable state of its own.
type Service struct {
	keys       interfaces.KeyPairProvider
	envelope   *cryptoutils.EnvelopeService
	otpCipher  *cryptoutils.OTPCipher
	derivation *kms.DerivationService
	store      interfaces.OTPStore
	deliverer  interfaces.OTPDeliverer
	throttle   *ratelimit.Throttle
	log        *slog.Logger
}

// NewService creates the onboarding orchestrator. throttle may be nil
// to disable request throttling.
func NewService(
	keys interfaces.KeyPairProvider,
	derivation *kms.DerivationService,
	store interfaces.OTPStore,
	deliverer interfaces.OTPDeliverer,
	throttle *ratelimit.Throttle,
	log *slog.Logger,
) *Service {
	return &Service{
		keys:       keys,
		envelope:   cryptoutils.NewEnvelopeService(keys),
		otpCipher:  cryptoutils.NewOTPCipher(keys),
		derivation: derivation,
		store:      store,
		deliverer:  deliverer,
		throttle:   throttle,
		log:        log,
	}
}

// completionPayload is the decrypted body of a complete-onboarding
// request.
type completionPayload struct {
	DeviceID                 string `json:"deviceId"`
	OnboardingAuthentication struct {
		OTP string `json:"otp"`
	} `json:"onboardingAuthentication"`
}

// completionResponse is the plaintext sealed back to the client after a
// successful completion. SenderPublicKey lets the client bind later
// symmetric operations to this exchange.
type completionResponse struct {
	SignerID        string `json:"signerId"`
	AuthID          string `json:"authId"`
	DeviceID        string `json:"deviceId"`
	DeviceShare     string `json:"deviceShare"`
	AuthShare       string `json:"authShare"`
	SecretDigest    string `json:"secretDigest"`
	SenderPublicKey string `json:"senderPublicKey"`
}

// CompletionResult is returned to the transport layer: the encrypted
// response envelope plus the cleartext device-share hash and device id.
type CompletionResult struct {
	Envelope        *cryptoutils.EncryptionEnvelope
	DeviceID        string
	DeviceShareHash []byte
}

// StartOnboarding runs the first protocol leg: admission, OTP
// generation, format-preserving encryption to the client key, and
// out-of-band delivery to the address carried in authID.
func (s *Service) StartOnboarding(ctx context.Context, signerID, projectName string, authID interfaces.AuthID, deviceID string, clientPublicKey []byte) error {
	if err := authID.Validate(); err != nil {
		metrics.OnboardingRejected.WithLabelValues("invalid_auth_id").Inc()
		return err
	}

	if !s.throttle.Allow(signerID+":"+authID.String(), time.Now()) {
		metrics.OnboardingRejected.WithLabelValues("throttled").Inc()
		return interfaces.ErrTooManyRequests
	}

	code, err := s.store.Generate(signerID, authID, deviceID)
	if err != nil {
		metrics.OnboardingRejected.WithLabelValues("rate_limited").Inc()
		return err
	}

	digits, err := otp.Digits(code)
	if err != nil {
		return fmt.Errorf("generated OTP is malformed: %w", err)
	}

	encrypted, err := s.otpCipher.EncryptDigits(digits, clientPublicKey)
	if err != nil {
		return fmt.Errorf("could not encrypt OTP: %w", err)
	}

	if err := s.deliverer.Deliver(ctx, authID.Method(), authID.Address(), projectName, otp.DigitsString(encrypted)); err != nil {
		metrics.OnboardingRejected.WithLabelValues("delivery_failed").Inc()
		return fmt.Errorf("could not deliver OTP: %w", err)
	}

	metrics.OnboardingStarted.Inc()
	s.log.Info("Onboarding started", "signerId", signerID, "deviceId", deviceID, "method", string(authID.Method()))
	return nil
}

// CompleteOnboarding runs the second protocol leg: it opens the
// Base-mode request envelope, verifies the OTP, derives and splits the
// signer's master secret, and seals the shares back to the client's
// ephemeral key in Auth mode.
func (s *Service) CompleteOnboarding(ctx context.Context, ciphertext, encapsulatedKey []byte) (*CompletionResult, error) {
	plaintext, err := s.envelope.OpenBase(ciphertext, encapsulatedKey)
	if err != nil {
		return nil, err
	}

	var payload completionPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed payload", interfaces.ErrDecryptionFailed)
	}

	request, err := s.store.Verify(payload.DeviceID, payload.OnboardingAuthentication.OTP)
	if err != nil {
		metrics.OTPVerificationFailures.WithLabelValues(verificationFailureReason(err)).Inc()
		return nil, err
	}

	shares, err := s.derivation.GenerateAndSplit(request.SignerID, request.AuthID)
	if err != nil {
		return nil, fmt.Errorf("could not derive key shares: %w", err)
	}

	master, err := s.derivation.DeriveMasterSecret(request.SignerID, request.AuthID)
	if err != nil {
		return nil, fmt.Errorf("could not derive master secret: %w", err)
	}
	secretDigest := sha256.Sum256(master)

	teePub, err := s.keys.PublicKey()
	if err != nil {
		return nil, err
	}

	response, err := json.Marshal(completionResponse{
		SignerID:        request.SignerID,
		AuthID:          request.AuthID.String(),
		DeviceID:        request.DeviceID,
		DeviceShare:     base64.StdEncoding.EncodeToString(shares.Device),
		AuthShare:       base64.StdEncoding.EncodeToString(shares.Auth),
		SecretDigest:    base64.StdEncoding.EncodeToString(secretDigest[:]),
		SenderPublicKey: base64.StdEncoding.EncodeToString(teePub),
	})
	if err != nil {
		return nil, fmt.Errorf("could not encode completion response: %w", err)
	}

	// The Base-mode encapsulated key is the client's ephemeral public
	// key; the response is sealed back to it.
	envelope, err := s.envelope.SealAuth(response, encapsulatedKey)
	if err != nil {
		return nil, fmt.Errorf("could not seal completion response: %w", err)
	}

	metrics.OnboardingCompleted.Inc()
	s.log.Info("Onboarding completed", "signerId", request.SignerID, "deviceId", request.DeviceID)

	return &CompletionResult{
		Envelope:        envelope,
		DeviceID:        request.DeviceID,
		DeviceShareHash: shares.DeviceShareHash,
	}, nil
}

// PreGeneratePublicKey derives the public key a signer identity will
// have, bypassing the OTP exchange. Lets a client learn its future
// address before any device exists.
func (s *Service) PreGeneratePublicKey(signerID string, authID interfaces.AuthID, keyType interfaces.KeyType) (string, error) {
	if err := authID.Validate(); err != nil {
		return "", err
	}

	publicKey, err := s.derivation.DerivePublicKey(signerID, authID, keyType)
	if err != nil {
		return "", err
	}

	metrics.PublicKeysDerived.WithLabelValues(string(keyType)).Inc()
	return publicKey, nil
}

// AttestationPublicKey returns the TEE identity public key in base64,
// for attestation binding by relying parties.
func (s *Service) AttestationPublicKey() (string, error) {
	pub, err := s.keys.PublicKey()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(pub), nil
}

func verificationFailureReason(err error) string {
	switch {
	case errors.Is(err, interfaces.ErrNotPending):
		return "not_pending"
	case errors.Is(err, interfaces.ErrExpired):
		return "expired"
	case errors.Is(err, interfaces.ErrMaxAttemptsExceeded):
		return "max_attempts"
	case errors.Is(err, interfaces.ErrInvalidOTP):
		return "invalid"
	default:
		return "other"
	}
}
