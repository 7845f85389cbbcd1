package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/Paella-Labs/tee-ts-sub000/api"
	"github.com/Paella-Labs/tee-ts-sub000/common"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	metricsAddr := cCtx.String("metrics-addr")
	enablePprof := cCtx.Bool("pprof")
	drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second

	return &api.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		APIKey:                   cCtx.String(APIKeyFlag.Name),
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var APIKeyFlag = &cli.StringFlag{
	Name:    "api-key",
	Usage:   "pre-shared secret required in the authorization header of signer endpoints",
	EnvVars: []string{"SIGNER_API_KEY"},
}

var MasterKeyHexFlag = &cli.StringFlag{
	Name:    "master-key-hex",
	Usage:   "hex-encoded 32-byte seed for the TEE identity key; a random identity is generated when unset",
	EnvVars: []string{"SIGNER_MASTER_KEY_HEX"},
}

var DeliveryWebhookFlag = &cli.StringFlag{
	Name:  "delivery-webhook",
	Usage: "URL to POST OTP delivery jobs to; OTPs are logged locally when unset",
}

var AttestationAddrFlag = &cli.StringFlag{
	Name:  "attestation-addr",
	Usage: "address of a local quote provider; attestation quotes are omitted when unset",
}

var OTPExpiryFlag = &cli.DurationFlag{
	Name:  "otp-expiry",
	Value: 5 * time.Minute,
	Usage: "how long a generated OTP stays valid",
}

var OTPMaxAttemptsFlag = &cli.IntFlag{
	Name:  "otp-max-attempts",
	Value: 3,
	Usage: "verification attempts allowed per OTP challenge",
}

var DeviceWindowFlag = &cli.DurationFlag{
	Name:  "device-window",
	Value: 6 * time.Hour,
	Usage: "sliding window for the per-identity device limit",
}

var MaxDevicesFlag = &cli.IntFlag{
	Name:  "max-devices",
	Value: 3,
	Usage: "distinct devices allowed per identity within the window",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlagFn(common.PackageName),
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
