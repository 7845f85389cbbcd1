// Command signer-server runs the TEE signer onboarding service.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Paella-Labs/tee-ts-sub000/api/signerhandler"
	"github.com/Paella-Labs/tee-ts-sub000/cmd/flags"
	"github.com/Paella-Labs/tee-ts-sub000/cryptoutils"
	"github.com/Paella-Labs/tee-ts-sub000/delivery"
	"github.com/Paella-Labs/tee-ts-sub000/httpserver"
	"github.com/Paella-Labs/tee-ts-sub000/interfaces"
	"github.com/Paella-Labs/tee-ts-sub000/kms"
	"github.com/Paella-Labs/tee-ts-sub000/onboarding"
	"github.com/Paella-Labs/tee-ts-sub000/otp"
	"github.com/Paella-Labs/tee-ts-sub000/ratelimit"
)

var serverFlags = append([]cli.Flag{
	flags.ListenAddrFlag,
	flags.APIKeyFlag,
	flags.MasterKeyHexFlag,
	flags.DeliveryWebhookFlag,
	flags.AttestationAddrFlag,
	flags.OTPExpiryFlag,
	flags.OTPMaxAttemptsFlag,
	flags.DeviceWindowFlag,
	flags.MaxDevicesFlag,
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "signer-server",
		Usage: "Serve the TEE signer onboarding and key derivation API",
		Flags: serverFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			identity, err := setupIdentity(cCtx.String(flags.MasterKeyHexFlag.Name))
			if err != nil {
				logger.Error("Failed to set up identity key", "err", err)
				return err
			}

			limiterCfg := ratelimit.DefaultSlidingWindowConfig()
			limiterCfg.Window = cCtx.Duration(flags.DeviceWindowFlag.Name)
			limiterCfg.MaxDevicesPerWindow = cCtx.Int(flags.MaxDevicesFlag.Name)
			limiter := ratelimit.NewSlidingWindowLimiter(limiterCfg, logger)

			otpCfg := otp.DefaultConfig()
			otpCfg.Expiry = cCtx.Duration(flags.OTPExpiryFlag.Name)
			otpCfg.MaxAttempts = cCtx.Int(flags.OTPMaxAttemptsFlag.Name)
			store := otp.NewStore(otpCfg, limiter, logger)

			var deliverer interfaces.OTPDeliverer
			if webhook := cCtx.String(flags.DeliveryWebhookFlag.Name); webhook != "" {
				deliverer = delivery.NewWebhookDeliverer(webhook, logger)
			} else {
				logger.Warn("No delivery webhook configured, OTPs will be logged")
				deliverer = &delivery.LogDeliverer{Log: logger}
			}

			throttle := ratelimit.NewThrottle(1, 5, time.Hour)

			service := onboarding.NewService(
				identity,
				kms.NewDerivationService(identity),
				store,
				deliverer,
				throttle,
				logger,
			)

			var attestation cryptoutils.AttestationProvider
			if addr := cCtx.String(flags.AttestationAddrFlag.Name); addr != "" {
				attestation = &cryptoutils.RemoteAttestationProvider{Address: addr}
			}

			handler := signerhandler.NewHandler(service, attestation, logger)

			cfg := flags.ConfigureServer(cCtx, logger, cCtx.String(flags.ListenAddrFlag.Name))
			if cfg.APIKey == "" {
				return fmt.Errorf("api-key is required")
			}

			srv, err := httpserver.New(cfg, handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			cleanupCtx, cancelCleanup := context.WithCancel(context.Background())
			defer cancelCleanup()
			go store.RunCleanup(cleanupCtx)
			go limiter.RunCleanup(cleanupCtx)

			srv.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit

			logger.Info("Shutting down")
			cancelCleanup()
			srv.Shutdown()
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// setupIdentity builds the TEE identity key pair, either
// deterministically from a hex seed or freshly at boot.
func setupIdentity(seedHex string) (*cryptoutils.IdentityKeyPair, error) {
	if seedHex == "" {
		return cryptoutils.NewIdentityKeyPair()
	}

	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("master-key-hex is not valid hex: %w", err)
	}
	if len(seed) != 32 {
		return nil, fmt.Errorf("master-key-hex must be 32 bytes, got %d", len(seed))
	}
	return cryptoutils.NewIdentityKeyPairFromSeed(seed)
}
