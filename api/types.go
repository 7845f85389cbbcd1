// Package api defines the request and response types of the signer
// service HTTP surface, shared by the handler and the client library.
// Binary fields travel base64 encoded.
package api

// EncryptionContext carries the client's ephemeral public key for the
// OTP leg, base64 encoded as an uncompressed P-256 point.
type EncryptionContext struct {
	PublicKey string `json:"publicKey"`
}

// StartOnboardingRequest is the body of POST /v1/signers/start-onboarding.
type StartOnboardingRequest struct {
	DeviceID          string            `json:"deviceId"`
	SignerID          string            `json:"signerId"`
	ProjectName       string            `json:"projectName"`
	ProjectLogo       string            `json:"projectLogo,omitempty"`
	AuthID            string            `json:"authId"`
	EncryptionContext EncryptionContext `json:"encryptionContext"`
}

// StartOnboardingResponse acknowledges OTP dispatch.
type StartOnboardingResponse struct {
	Message string `json:"message"`
}

// CompleteOnboardingRequest is a Base-mode envelope wrapping a
// CompletionPayload.
type CompleteOnboardingRequest struct {
	Ciphertext      string `json:"ciphertext"`
	EncapsulatedKey string `json:"encapsulatedKey"`
}

// CompletionPayload is the plaintext inside a complete-onboarding
// request envelope.
type CompletionPayload struct {
	DeviceID                 string `json:"deviceId"`
	OnboardingAuthentication struct {
		OTP string `json:"otp"`
	} `json:"onboardingAuthentication"`
}

// CompleteOnboardingResponse carries the Auth-mode response envelope
// plus the cleartext device-share hash and device id.
type CompleteOnboardingResponse struct {
	Ciphertext      string `json:"ciphertext"`
	EncapsulatedKey string `json:"encapsulatedKey"`
	PublicKey       string `json:"publicKey"`
	DeviceID        string `json:"deviceId"`
	KeyShareHash    string `json:"keyShareHash"`
}

// CompletionResult is the decrypted payload of the response envelope:
// the key shares and integrity digest for the onboarded signer.
type CompletionResult struct {
	SignerID        string `json:"signerId"`
	AuthID          string `json:"authId"`
	DeviceID        string `json:"deviceId"`
	DeviceShare     string `json:"deviceShare"`
	AuthShare       string `json:"authShare"`
	SecretDigest    string `json:"secretDigest"`
	SenderPublicKey string `json:"senderPublicKey"`
}

// DerivePublicKeyRequest is the body of /v1/signers/derive-public-key.
type DerivePublicKeyRequest struct {
	SignerID string `json:"signerId"`
	AuthID   string `json:"authId"`
	KeyType  string `json:"keyType"`
}

// DerivePublicKeyResponse carries the pre-generated public key.
type DerivePublicKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

// AttestationPublicKeyResponse carries the TEE identity public key and,
// when a quote provider is configured, an attestation binding it.
type AttestationPublicKeyResponse struct {
	PublicKey   string `json:"publicKey"`
	Attestation string `json:"attestation,omitempty"`
}

// ErrorResponse is the uniform error body. RetryAfterHours is set for
// device rate limiting; Attempts/MaxAttempts for retriable OTP
// failures.
type ErrorResponse struct {
	Error           string `json:"error"`
	RetryAfterHours int    `json:"retryAfterHours,omitempty"`
	Attempts        int    `json:"attempts,omitempty"`
	MaxAttempts     int    `json:"maxAttempts,omitempty"`
}
