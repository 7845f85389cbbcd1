package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paella-Labs/tee-ts-sub000/api"
	"github.com/Paella-Labs/tee-ts-sub000/api/signerhandler"
	"github.com/Paella-Labs/tee-ts-sub000/cryptoutils"
	"github.com/Paella-Labs/tee-ts-sub000/delivery"
	"github.com/Paella-Labs/tee-ts-sub000/kms"
	"github.com/Paella-Labs/tee-ts-sub000/onboarding"
	"github.com/Paella-Labs/tee-ts-sub000/otp"
	"github.com/Paella-Labs/tee-ts-sub000/ratelimit"
)

func newTestServer(t *testing.T, apiKey string) *Server {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	keys, err := cryptoutils.NewIdentityKeyPair()
	require.NoError(t, err)

	limiter := ratelimit.NewSlidingWindowLimiter(ratelimit.DefaultSlidingWindowConfig(), log)
	store := otp.NewStore(otp.DefaultConfig(), limiter, log)
	service := onboarding.NewService(keys, kms.NewDerivationService(keys), store, &delivery.LogDeliverer{Log: log}, nil, log)
	handler := signerhandler.NewHandler(service, nil, log)

	srv, err := New(&api.HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		APIKey:                   apiKey,
		Log:                      log,
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}, handler)
	require.NoError(t, err)
	return srv
}

func TestAPIKeyMiddleware(t *testing.T) {
	srv := newTestServer(t, "test-key")
	router := srv.getRouter()

	t.Run("missing key rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/signers/derive-public-key", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/signers/derive-public-key", nil)
		req.Header.Set("Authorization", "wrong-key")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("correct key admitted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/signers/derive-public-key", nil)
		req.Header.Set("Authorization", "test-key")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.NotEqual(t, http.StatusUnauthorized, rec.Code, "Authenticated request should reach the handler")
	})

	t.Run("attestation endpoint is public", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/attestation/public-key", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestHealthAndDrain(t *testing.T) {
	srv := newTestServer(t, "test-key")
	router := srv.getRouter()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/livez").Code)
	assert.Equal(t, http.StatusOK, get("/readyz").Code)

	assert.Equal(t, http.StatusOK, get("/drain").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code, "Draining server must fail readiness")

	assert.Equal(t, http.StatusOK, get("/undrain").Code)
	assert.Equal(t, http.StatusOK, get("/readyz").Code)
}
