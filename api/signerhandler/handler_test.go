package signerhandler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paella-Labs/tee-ts-sub000/api"
	"github.com/Paella-Labs/tee-ts-sub000/cryptoutils"
	"github.com/Paella-Labs/tee-ts-sub000/interfaces"
	"github.com/Paella-Labs/tee-ts-sub000/kms"
	"github.com/Paella-Labs/tee-ts-sub000/onboarding"
	"github.com/Paella-Labs/tee-ts-sub000/otp"
	"github.com/Paella-Labs/tee-ts-sub000/ratelimit"
)

// capturingDeliverer records the last delivered encrypted OTP so tests
// can play the role of the out-of-band channel.
type capturingDeliverer struct {
	encryptedOTP string
}

func (d *capturingDeliverer) Deliver(_ context.Context, _ interfaces.DeliveryMethod, _, _, encryptedOTP string) error {
	d.encryptedOTP = encryptedOTP
	return nil
}

type testServer struct {
	srv       *httptest.Server
	keys      *cryptoutils.IdentityKeyPair
	deliverer *capturingDeliverer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	keys, err := cryptoutils.NewIdentityKeyPair()
	require.NoError(t, err, "Failed to generate TEE identity")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := ratelimit.NewSlidingWindowLimiter(ratelimit.DefaultSlidingWindowConfig(), log)
	store := otp.NewStore(otp.DefaultConfig(), limiter, log)
	deliverer := &capturingDeliverer{}

	service := onboarding.NewService(keys, kms.NewDerivationService(keys), store, deliverer, nil, log)
	handler := NewHandler(service, cryptoutils.DummyAttestationProvider{}, log)

	mux := chi.NewRouter()
	handler.RegisterRoutes(mux)
	handler.RegisterPublicRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, keys: keys, deliverer: deliverer}
}

func (ts *testServer) postJSON(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()

	bodyJSON, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(ts.srv.URL+path, "application/json", bytes.NewReader(bodyJSON))
	require.NoError(t, err, "Request should reach the test server")
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, respBody
}

func TestOnboardingRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	client, err := NewClient(ts.srv.URL, "")
	require.NoError(t, err)

	attestResp, err := client.AttestationPublicKey()
	require.NoError(t, err, "Attestation endpoint should be public")
	assert.NotEmpty(t, attestResp.PublicKey)
	assert.NotEmpty(t, attestResp.Attestation, "Dummy provider should produce a quote")

	err = client.StartOnboarding("device-1", "signer-1", "test-project", "email:user@example.com")
	require.NoError(t, err, "Start onboarding should succeed")
	require.NotEmpty(t, ts.deliverer.encryptedOTP, "Handler should dispatch an encrypted OTP")

	code, err := client.DecryptOTP(attestResp.PublicKey, ts.deliverer.encryptedOTP)
	require.NoError(t, err, "Client should decrypt the delivered OTP")
	assert.Len(t, code, 6)

	result, err := client.CompleteOnboarding(attestResp.PublicKey, "device-1", code)
	require.NoError(t, err, "Completion with the correct OTP should succeed")

	assert.Equal(t, "signer-1", result.SignerID)
	assert.Equal(t, "email:user@example.com", result.AuthID)
	assert.Equal(t, "device-1", result.DeviceID)

	deviceShare, err := base64.StdEncoding.DecodeString(result.DeviceShare)
	require.NoError(t, err)
	authShare, err := base64.StdEncoding.DecodeString(result.AuthShare)
	require.NoError(t, err)
	digest, err := base64.StdEncoding.DecodeString(result.SecretDigest)
	require.NoError(t, err)

	secret, err := kms.CombineShares(deviceShare, authShare)
	require.NoError(t, err, "Both shares should reconstruct the master secret")
	expectedDigest := sha256.Sum256(secret)
	assert.Equal(t, expectedDigest[:], digest, "Digest must commit to the reconstructed secret")
}

func TestHandleStartOnboarding_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	clientKey := base64.StdEncoding.EncodeToString(make([]byte, 65))

	tests := []struct {
		name string
		req  api.StartOnboardingRequest
	}{
		{
			name: "missing device id",
			req: api.StartOnboardingRequest{
				SignerID:          "signer-1",
				AuthID:            "email:user@example.com",
				EncryptionContext: api.EncryptionContext{PublicKey: clientKey},
			},
		},
		{
			name: "missing public key",
			req: api.StartOnboardingRequest{
				DeviceID: "device-1",
				SignerID: "signer-1",
				AuthID:   "email:user@example.com",
			},
		},
		{
			name: "malformed auth id",
			req: api.StartOnboardingRequest{
				DeviceID:          "device-1",
				SignerID:          "signer-1",
				AuthID:            "no-method-separator",
				EncryptionContext: api.EncryptionContext{PublicKey: clientKey},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := ts.postJSON(t, "/v1/signers/start-onboarding", tc.req)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "Body: %s", body)
		})
	}
}

func TestHandleCompleteOnboarding_WrongOTP(t *testing.T) {
	ts := newTestServer(t)

	client, err := NewClient(ts.srv.URL, "")
	require.NoError(t, err)

	attestResp, err := client.AttestationPublicKey()
	require.NoError(t, err)

	require.NoError(t, client.StartOnboarding("device-1", "signer-1", "test-project", "email:user@example.com"))

	teePublicKey, err := base64.StdEncoding.DecodeString(attestResp.PublicKey)
	require.NoError(t, err)

	payload := api.CompletionPayload{DeviceID: "device-1"}
	payload.OnboardingAuthentication.OTP = "000001"
	payloadJSON, err := json.Marshal(payload)
	require.NoError(t, err)

	envelope, _, err := cryptoutils.SealBase(payloadJSON, teePublicKey)
	require.NoError(t, err)

	resp, body := ts.postJSON(t, "/v1/signers/complete-onboarding", api.CompleteOnboardingRequest{
		Ciphertext:      base64.StdEncoding.EncodeToString(envelope.Ciphertext),
		EncapsulatedKey: base64.StdEncoding.EncodeToString(envelope.EncapsulatedKey),
	})

	// The wrong guess could collide with the real code, but the odds
	// are one in a million and the test stays deterministic enough.
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var errResp api.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, 1, errResp.Attempts, "First failure should report one used attempt")
	assert.Equal(t, 3, errResp.MaxAttempts)
}

func TestHandleCompleteOnboarding_GarbageCiphertext(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.postJSON(t, "/v1/signers/complete-onboarding", api.CompleteOnboardingRequest{
		Ciphertext:      base64.StdEncoding.EncodeToString([]byte("not an envelope")),
		EncapsulatedKey: base64.StdEncoding.EncodeToString(make([]byte, 65)),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "Undecryptable requests map to a uniform bad request")
}

func TestHandleCompleteOnboarding_NoPendingChallenge(t *testing.T) {
	ts := newTestServer(t)

	client, err := NewClient(ts.srv.URL, "")
	require.NoError(t, err)

	attestResp, err := client.AttestationPublicKey()
	require.NoError(t, err)

	_, err = client.CompleteOnboarding(attestResp.PublicKey, "never-started", "123456")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404", "Unknown device should map to not found")
}

func TestHandleDerivePublicKey(t *testing.T) {
	ts := newTestServer(t)

	for _, keyType := range []string{"ed25519", "secp256k1"} {
		t.Run(keyType, func(t *testing.T) {
			resp, body := ts.postJSON(t, "/v1/signers/derive-public-key", api.DerivePublicKeyRequest{
				SignerID: "signer-1",
				AuthID:   "email:user@example.com",
				KeyType:  keyType,
			})
			require.Equal(t, http.StatusOK, resp.StatusCode, "Body: %s", body)

			var keyResp api.DerivePublicKeyResponse
			require.NoError(t, json.Unmarshal(body, &keyResp))
			assert.NotEmpty(t, keyResp.PublicKey)
		})
	}

	t.Run("unsupported type", func(t *testing.T) {
		resp, _ := ts.postJSON(t, "/v1/signers/derive-public-key", api.DerivePublicKeyRequest{
			SignerID: "signer-1",
			AuthID:   "email:user@example.com",
			KeyType:  "rsa",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestDerivePublicKey_MatchesOnboardedKey(t *testing.T) {
	ts := newTestServer(t)

	client, err := NewClient(ts.srv.URL, "")
	require.NoError(t, err)

	preDerived, err := client.DerivePublicKey("signer-1", "email:user@example.com", "secp256k1")
	require.NoError(t, err)

	attestResp, err := client.AttestationPublicKey()
	require.NoError(t, err)
	require.NoError(t, client.StartOnboarding("device-1", "signer-1", "test-project", "email:user@example.com"))
	code, err := client.DecryptOTP(attestResp.PublicKey, ts.deliverer.encryptedOTP)
	require.NoError(t, err)
	result, err := client.CompleteOnboarding(attestResp.PublicKey, "device-1", code)
	require.NoError(t, err)

	onboarded, err := client.DerivePublicKey(result.SignerID, result.AuthID, "secp256k1")
	require.NoError(t, err)
	assert.Equal(t, preDerived, onboarded, "Pre-generated key must match the post-onboarding derivation")
}
