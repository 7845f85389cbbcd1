// Package signerhandler exposes the signer onboarding operations over
// HTTP and provides a typed client for them. The handler only adapts
// between the wire format and the orchestrator; every protocol decision
// lives in the onboarding service.
package signerhandler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Paella-Labs/tee-ts-sub000/api"
	"github.com/Paella-Labs/tee-ts-sub000/cryptoutils"
	"github.com/Paella-Labs/tee-ts-sub000/interfaces"
	"github.com/Paella-Labs/tee-ts-sub000/onboarding"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// Handler processes HTTP requests for the signer onboarding service.
type Handler struct {
	service     *onboarding.Service
	attestation cryptoutils.AttestationProvider
	log         *slog.Logger
}

// NewHandler creates a handler for the given orchestrator. attestation
// may be nil when no quote provider is available; the attestation
// endpoint then returns the bare public key.
func NewHandler(service *onboarding.Service, attestation cryptoutils.AttestationProvider, log *slog.Logger) *Handler {
	return &Handler{
		service:     service,
		attestation: attestation,
		log:         log,
	}
}

// RegisterRoutes mounts the authenticated signer endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/v1/signers/start-onboarding", h.HandleStartOnboarding)
	r.Post("/v1/signers/complete-onboarding", h.HandleCompleteOnboarding)
	r.Post("/v1/signers/derive-public-key", h.HandleDerivePublicKey)
	r.Put("/v1/signers/derive-public-key", h.HandleDerivePublicKey)
}

// RegisterPublicRoutes mounts the unauthenticated endpoints.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/v1/attestation/public-key", h.HandleAttestationPublicKey)
}

// HandleStartOnboarding begins the onboarding exchange: it admits the
// device, generates an OTP, and dispatches it out of band, encrypted to
// the client key from the request's encryption context.
func (h *Handler) HandleStartOnboarding(w http.ResponseWriter, r *http.Request) {
	var req api.StartOnboardingRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	if req.DeviceID == "" || req.SignerID == "" {
		writeBadRequest(w, "deviceId and signerId are required")
		return
	}

	clientPublicKey, err := base64.StdEncoding.DecodeString(req.EncryptionContext.PublicKey)
	if err != nil || len(clientPublicKey) == 0 {
		writeBadRequest(w, "encryptionContext.publicKey must be base64")
		return
	}

	err = h.service.StartOnboarding(r.Context(), req.SignerID, req.ProjectName, interfaces.AuthID(req.AuthID), req.DeviceID, clientPublicKey)
	if err != nil {
		h.log.Info("Start onboarding rejected", "err", err, "signerId", req.SignerID, "deviceId", req.DeviceID)
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.StartOnboardingResponse{Message: "OTP sent"})
}

// HandleCompleteOnboarding finishes the exchange: it forwards the
// encrypted request to the orchestrator and returns the response
// envelope with the cleartext share hash and device id.
func (h *Handler) HandleCompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	var req api.CompleteOnboardingRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	ciphertext, err := base64.StdEncoding.DecodeString(req.Ciphertext)
	if err != nil {
		writeBadRequest(w, "ciphertext must be base64")
		return
	}
	encapsulatedKey, err := base64.StdEncoding.DecodeString(req.EncapsulatedKey)
	if err != nil {
		writeBadRequest(w, "encapsulatedKey must be base64")
		return
	}

	result, err := h.service.CompleteOnboarding(r.Context(), ciphertext, encapsulatedKey)
	if err != nil {
		h.log.Info("Complete onboarding rejected", "err", err)
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.CompleteOnboardingResponse{
		Ciphertext:      base64.StdEncoding.EncodeToString(result.Envelope.Ciphertext),
		EncapsulatedKey: base64.StdEncoding.EncodeToString(result.Envelope.EncapsulatedKey),
		PublicKey:       base64.StdEncoding.EncodeToString(result.Envelope.SenderPublicKey),
		DeviceID:        result.DeviceID,
		KeyShareHash:    base64.StdEncoding.EncodeToString(result.DeviceShareHash),
	})
}

// HandleDerivePublicKey pre-generates the public key for a signer
// identity without an OTP exchange.
func (h *Handler) HandleDerivePublicKey(w http.ResponseWriter, r *http.Request) {
	var req api.DerivePublicKeyRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	publicKey, err := h.service.PreGeneratePublicKey(req.SignerID, interfaces.AuthID(req.AuthID), interfaces.KeyType(req.KeyType))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.DerivePublicKeyResponse{PublicKey: publicKey})
}

// HandleAttestationPublicKey returns the TEE identity public key,
// optionally with a quote binding it for attestation verification.
func (h *Handler) HandleAttestationPublicKey(w http.ResponseWriter, r *http.Request) {
	publicKey, err := h.service.AttestationPublicKey()
	if err != nil {
		h.writeError(w, err)
		return
	}

	response := api.AttestationPublicKeyResponse{PublicKey: publicKey}
	if h.attestation != nil {
		rawKey, _ := base64.StdEncoding.DecodeString(publicKey)
		quote, err := h.attestation.Attest(cryptoutils.PublicKeyReportData(rawKey))
		if err != nil {
			h.log.Error("Failed to attest public key", "err", err)
			h.writeError(w, fmt.Errorf("attestation unavailable: %w", err))
			return
		}
		response.Attestation = base64.StdEncoding.EncodeToString(quote)
	}

	writeJSON(w, http.StatusOK, response)
}

// writeError maps the protocol error taxonomy onto transport status
// codes. Every named outcome gets a distinct, structured response.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	body := api.ErrorResponse{Error: err.Error()}

	var invalidOTP *interfaces.InvalidOTPError
	var tooManyDevices *interfaces.TooManyDevicesError

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, interfaces.ErrNotInitialized):
		status = http.StatusServiceUnavailable
	case errors.As(err, &invalidOTP):
		status = http.StatusUnauthorized
		body.Attempts = invalidOTP.Attempts
		body.MaxAttempts = invalidOTP.MaxAttempts
	case errors.As(err, &tooManyDevices):
		status = http.StatusTooManyRequests
		body.RetryAfterHours = tooManyDevices.RetryAfterHours()
		w.Header().Set("Retry-After", strconv.Itoa(tooManyDevices.RetryAfterHours()*3600))
	case errors.Is(err, interfaces.ErrTooManyRequests),
		errors.Is(err, interfaces.ErrMaxAttemptsExceeded):
		status = http.StatusTooManyRequests
	case errors.Is(err, interfaces.ErrNotPending):
		status = http.StatusNotFound
	case errors.Is(err, interfaces.ErrExpired):
		status = http.StatusGone
	case errors.Is(err, interfaces.ErrDecryptionFailed),
		errors.Is(err, interfaces.ErrInvalidAuthID),
		errors.Is(err, interfaces.ErrUnsupportedKeyType):
		status = http.StatusBadRequest
	}

	writeJSON(w, status, body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid request body")
		return err
	}
	return nil
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
