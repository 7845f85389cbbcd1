// Package common holds process-wide helpers shared by all commands:
// logger construction and build version information.
package common

// PackageName identifies this service in logs and metrics.
const PackageName = "tee-signer-service"

// Version is set at build time via -ldflags.
var Version = "dev"
