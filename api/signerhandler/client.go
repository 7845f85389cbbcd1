package signerhandler

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Paella-Labs/tee-ts-sub000/api"
	"github.com/Paella-Labs/tee-ts-sub000/cryptoutils"
	"github.com/Paella-Labs/tee-ts-sub000/otp"
)

// Client implements the device side of the onboarding protocol. It
// generates the ephemeral key pair, encrypts the completion payload to
// the service and decrypts the response envelope, so callers only deal
// with cleartext request and result types.
type Client struct {
	// BaseURL is the server address without a trailing slash, e.g.
	// "https://signer.example.com".
	BaseURL string

	// APIKey is sent in the authorization header on every request.
	APIKey string

	HTTPClient *http.Client

	key *ecdh.PrivateKey
}

// NewClient creates a client with a fresh ephemeral P-256 key pair.
func NewClient(baseURL, apiKey string) (*Client, error) {
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("could not generate client key: %w", err)
	}
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: http.DefaultClient,
		key:        key,
	}, nil
}

// PublicKey returns the client's ephemeral public key in uncompressed
// point form, as sent in the start-onboarding encryption context.
func (c *Client) PublicKey() []byte {
	return c.key.PublicKey().Bytes()
}

// StartOnboarding requests an OTP dispatch for the given signer
// identity. The server encrypts the OTP digits to this client's key
// before handing them to the delivery channel.
func (c *Client) StartOnboarding(deviceID, signerID, projectName, authID string) error {
	req := api.StartOnboardingRequest{
		DeviceID:    deviceID,
		SignerID:    signerID,
		ProjectName: projectName,
		AuthID:      authID,
		EncryptionContext: api.EncryptionContext{
			PublicKey: base64.StdEncoding.EncodeToString(c.PublicKey()),
		},
	}

	var resp api.StartOnboardingResponse
	return c.post("/v1/signers/start-onboarding", req, &resp)
}

// DecryptOTP recovers the cleartext OTP from the encrypted form
// produced by the server's delivery channel, using the TEE public key
// published by the attestation endpoint.
func (c *Client) DecryptOTP(teePublicKeyBase64, encryptedOTP string) (string, error) {
	teePublicKey, err := base64.StdEncoding.DecodeString(teePublicKeyBase64)
	if err != nil {
		return "", fmt.Errorf("could not decode tee public key: %w", err)
	}
	key, err := cryptoutils.DigitCipherKeyForPeer(c.key, teePublicKey)
	if err != nil {
		return "", err
	}
	encrypted, err := otp.Digits(encryptedOTP)
	if err != nil {
		return "", err
	}
	digits, err := cryptoutils.DecryptDigitsWithKey(key, encrypted)
	if err != nil {
		return "", err
	}
	return otp.DigitsString(digits), nil
}

// CompleteOnboarding submits the OTP and returns the decrypted key
// material. The request payload is sealed to the TEE public key and
// the response envelope is opened with this client's ephemeral key,
// verifying the server's sender identity in the process.
func (c *Client) CompleteOnboarding(teePublicKeyBase64, deviceID, otp string) (*api.CompletionResult, error) {
	teePublicKey, err := base64.StdEncoding.DecodeString(teePublicKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("could not decode tee public key: %w", err)
	}

	payload := api.CompletionPayload{DeviceID: deviceID}
	payload.OnboardingAuthentication.OTP = otp
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("could not marshal completion payload: %w", err)
	}

	envelope, ephemeralKey, err := cryptoutils.SealBase(payloadJSON, teePublicKey)
	if err != nil {
		return nil, fmt.Errorf("could not seal completion payload: %w", err)
	}

	req := api.CompleteOnboardingRequest{
		Ciphertext:      base64.StdEncoding.EncodeToString(envelope.Ciphertext),
		EncapsulatedKey: base64.StdEncoding.EncodeToString(envelope.EncapsulatedKey),
	}

	var resp api.CompleteOnboardingResponse
	if err := c.post("/v1/signers/complete-onboarding", req, &resp); err != nil {
		return nil, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(resp.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("could not decode response ciphertext: %w", err)
	}
	encapsulatedKey, err := base64.StdEncoding.DecodeString(resp.EncapsulatedKey)
	if err != nil {
		return nil, fmt.Errorf("could not decode response encapsulated key: %w", err)
	}
	senderPublicKey, err := base64.StdEncoding.DecodeString(resp.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("could not decode response sender key: %w", err)
	}

	cleartext, err := cryptoutils.OpenAuth(&cryptoutils.EncryptionEnvelope{
		Ciphertext:      ciphertext,
		EncapsulatedKey: encapsulatedKey,
		SenderPublicKey: senderPublicKey,
	}, ephemeralKey)
	if err != nil {
		return nil, fmt.Errorf("could not open response envelope: %w", err)
	}

	var result api.CompletionResult
	if err := json.Unmarshal(cleartext, &result); err != nil {
		return nil, fmt.Errorf("could not parse completion result: %w", err)
	}
	return &result, nil
}

// DerivePublicKey asks the server for a signer's public key without
// running the OTP exchange.
func (c *Client) DerivePublicKey(signerID, authID, keyType string) (string, error) {
	req := api.DerivePublicKeyRequest{SignerID: signerID, AuthID: authID, KeyType: keyType}
	var resp api.DerivePublicKeyResponse
	if err := c.post("/v1/signers/derive-public-key", req, &resp); err != nil {
		return "", err
	}
	return resp.PublicKey, nil
}

// AttestationPublicKey fetches the TEE identity public key and its
// attestation quote, when one is available.
func (c *Client) AttestationPublicKey() (*api.AttestationPublicKeyResponse, error) {
	httpReq, err := http.NewRequest(http.MethodGet, c.BaseURL+"/v1/attestation/public-key", nil)
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}

	var resp api.AttestationPublicKeyResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(path string, body, out any) error {
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("could not marshal request: %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, c.BaseURL+path, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return c.do(httpReq, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.APIKey != "" {
		req.Header.Set("Authorization", c.APIKey)
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not reach signer service: %w", err)
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp api.ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("signer service returned %d: %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("signer service returned %d: %s", resp.StatusCode, string(respBody))
	}

	return json.Unmarshal(respBody, out)
}
