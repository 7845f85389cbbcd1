// Command signer-client drives a full onboarding round trip against a
// signer-server, for development and integration testing.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/Paella-Labs/tee-ts-sub000/api/signerhandler"
	"github.com/Paella-Labs/tee-ts-sub000/cmd/flags"
)

var serverURLFlag = &cli.StringFlag{
	Name:  "server-url",
	Value: "http://127.0.0.1:8080",
	Usage: "signer-server base URL",
}

var signerIDFlag = &cli.StringFlag{
	Name:     "signer-id",
	Required: true,
	Usage:    "signer identity to onboard or derive for",
}

var authIDFlag = &cli.StringFlag{
	Name:     "auth-id",
	Required: true,
	Usage:    "delivery identifier, e.g. email:user@example.com or phone:+15551234567",
}

func main() {
	app := &cli.App{
		Name:  "signer-client",
		Usage: "Exercise the signer onboarding API",
		Commands: []*cli.Command{
			{
				Name:  "onboard",
				Usage: "Run the start/complete onboarding exchange for one device",
				Flags: []cli.Flag{
					serverURLFlag,
					flags.APIKeyFlag,
					signerIDFlag,
					authIDFlag,
					&cli.StringFlag{
						Name:     "device-id",
						Required: true,
						Usage:    "device identifier for this onboarding",
					},
					&cli.StringFlag{
						Name:  "project-name",
						Value: "dev",
						Usage: "project name shown in the OTP message",
					},
				},
				Action: runOnboard,
			},
			{
				Name:  "derive",
				Usage: "Derive a signer public key without onboarding",
				Flags: []cli.Flag{
					serverURLFlag,
					flags.APIKeyFlag,
					signerIDFlag,
					authIDFlag,
					&cli.StringFlag{
						Name:  "key-type",
						Value: "ed25519",
						Usage: "key type to derive: ed25519 or secp256k1",
					},
				},
				Action: runDerive,
			},
			{
				Name:  "attest",
				Usage: "Fetch the TEE identity public key and quote",
				Flags: []cli.Flag{serverURLFlag},
				Action: func(cCtx *cli.Context) error {
					client, err := signerhandler.NewClient(cCtx.String(serverURLFlag.Name), "")
					if err != nil {
						return err
					}
					resp, err := client.AttestationPublicKey()
					if err != nil {
						return err
					}
					fmt.Println("publicKey:", resp.PublicKey)
					if resp.Attestation != "" {
						fmt.Println("attestation:", resp.Attestation)
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runOnboard(cCtx *cli.Context) error {
	client, err := signerhandler.NewClient(cCtx.String(serverURLFlag.Name), cCtx.String(flags.APIKeyFlag.Name))
	if err != nil {
		return err
	}

	attestResp, err := client.AttestationPublicKey()
	if err != nil {
		return fmt.Errorf("could not fetch tee public key: %w", err)
	}

	deviceID := cCtx.String("device-id")
	err = client.StartOnboarding(
		deviceID,
		cCtx.String(signerIDFlag.Name),
		cCtx.String("project-name"),
		cCtx.String(authIDFlag.Name),
	)
	if err != nil {
		return fmt.Errorf("start onboarding failed: %w", err)
	}

	fmt.Print("Enter the encrypted OTP you received: ")
	reader := bufio.NewReader(os.Stdin)
	encryptedOTP, err := reader.ReadString('\n')
	if err != nil {
		return err
	}

	otp, err := client.DecryptOTP(attestResp.PublicKey, strings.TrimSpace(encryptedOTP))
	if err != nil {
		return fmt.Errorf("could not decrypt otp: %w", err)
	}

	result, err := client.CompleteOnboarding(attestResp.PublicKey, deviceID, otp)
	if err != nil {
		return fmt.Errorf("complete onboarding failed: %w", err)
	}

	fmt.Println("deviceId:", result.DeviceID)
	fmt.Println("deviceShare:", result.DeviceShare)
	fmt.Println("authShare:", result.AuthShare)
	fmt.Println("secretDigest:", result.SecretDigest)
	return nil
}

func runDerive(cCtx *cli.Context) error {
	client, err := signerhandler.NewClient(cCtx.String(serverURLFlag.Name), cCtx.String(flags.APIKeyFlag.Name))
	if err != nil {
		return err
	}

	publicKey, err := client.DerivePublicKey(
		cCtx.String(signerIDFlag.Name),
		cCtx.String(authIDFlag.Name),
		cCtx.String("key-type"),
	)
	if err != nil {
		return err
	}

	fmt.Println("publicKey:", publicKey)
	return nil
}
