// Package metrics exposes Prometheus instrumentation for the signer
// service and a standalone metrics HTTP server, kept separate from the
// API listener so operational scraping never shares a port with
// authenticated endpoints.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OnboardingStarted counts accepted start-onboarding requests.
	OnboardingStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signer_onboarding_started_total",
		Help: "Number of accepted start-onboarding requests.",
	})

	// OnboardingCompleted counts successful onboarding completions.
	OnboardingCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signer_onboarding_completed_total",
		Help: "Number of successfully completed onboardings.",
	})

	// OnboardingRejected counts denied onboardings by reason
	// (rate_limited, invalid_auth_id, delivery_failed).
	OnboardingRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signer_onboarding_rejected_total",
		Help: "Number of rejected start-onboarding requests by reason.",
	}, []string{"reason"})

	// OTPVerificationFailures counts failed OTP verifications by reason
	// (not_pending, expired, invalid, max_attempts).
	OTPVerificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signer_otp_verification_failures_total",
		Help: "Number of failed OTP verifications by reason.",
	}, []string{"reason"})

	// PublicKeysDerived counts derive-public-key requests by key type.
	PublicKeysDerived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signer_public_keys_derived_total",
		Help: "Number of derived public keys by key type.",
	}, []string{"key_type"})
)

// MetricsServer serves the Prometheus scrape endpoint on its own listener.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the given service name and address.
func New(name, addr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving the scrape endpoint until Shutdown.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
