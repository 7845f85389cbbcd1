package cryptoutils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
)

// AttestationProvider produces a hardware quote over 64 bytes of user
// data. Quote generation and verification happen outside this service;
// the provider only binds the identity public key into report data so
// relying parties can check the key against the TEE measurement.
type AttestationProvider interface {
	Attest(userData [64]byte) ([]byte, error)
}

// PublicKeyReportData builds the report data binding an identity public
// key: the key's SHA-256 digest in the first half, zero padding after.
func PublicKeyReportData(publicKey []byte) [64]byte {
	var reportData [64]byte
	digest := sha256.Sum256(publicKey)
	copy(reportData[:32], digest[:])
	return reportData
}

// DummyAttestationProvider returns a stand-in quote. For development and
// tests only.
type DummyAttestationProvider struct{}

func (DummyAttestationProvider) Attest(userData [64]byte) ([]byte, error) {
	return []byte(fmt.Sprintf("Attestation for %x", userData)), nil
}

// RemoteAttestationProvider fetches quotes from a local quote-provider
// endpoint, as exposed inside TDX guests.
type RemoteAttestationProvider struct {
	Address string
}

func (p *RemoteAttestationProvider) Attest(userData [64]byte) ([]byte, error) {
	url := fmt.Sprintf("%s/attest/%s", p.Address, hex.EncodeToString(userData[:]))
	resp, err := http.DefaultClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("calling remote quote provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("remote quote provider returned status %d: %s", resp.StatusCode, string(body))
	}

	rawQuote, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading quote from response: %w", err)
	}
	return rawQuote, nil
}
