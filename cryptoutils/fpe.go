package cryptoutils

import (
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/Paella-Labs/tee-ts-sub000/interfaces"
)

// otpCipherInfo is the HKDF domain separator for the OTP digit cipher key.
const otpCipherInfo = "tee-otp-fpe/v1"

// feistelRounds is the number of Feistel rounds over the digit halves.
const feistelRounds = 10

// maxDigits bounds the supported sequence length so each half fits in a
// uint64 modulus.
const maxDigits = 18

// OTPCipher encrypts numeric OTP digit sequences into same-length
// numeric sequences, so an encrypted OTP can still travel through
// channels that expect a plain 6-digit code. The symmetric key is
// derived via ECDH between the TEE identity key and the client's
// ephemeral public key.
//
// No nonce is mixed in beyond the derived key: the same (digits, key)
// pair always yields the same output. This is an accepted trade-off
// given single-use OTP semantics.
type OTPCipher struct {
	keys interfaces.KeyPairProvider
}

// NewOTPCipher creates an OTP cipher bound to the identity key pair.
func NewOTPCipher(keys interfaces.KeyPairProvider) *OTPCipher {
	return &OTPCipher{keys: keys}
}

// EncryptDigits encrypts a digit sequence under the key shared with the
// holder of recipientPublicKey. Output has the same length and stays in
// the base-10 domain.
func (c *OTPCipher) EncryptDigits(digits []int, recipientPublicKey []byte) ([]int, error) {
	if c == nil || c.keys == nil {
		return nil, interfaces.ErrNotInitialized
	}

	secret, err := c.keys.SharedSecret(recipientPublicKey)
	if err != nil {
		return nil, err
	}
	return EncryptDigitsWithKey(DigitCipherKey(secret), digits)
}

// DigitCipherKeyForPeer derives the digit cipher key on the client side,
// from the client private key and the TEE public key. ECDH symmetry
// makes it identical to the key the TEE derives.
func DigitCipherKeyForPeer(priv *ecdh.PrivateKey, teePublicKey []byte) ([]byte, error) {
	pub, err := ecdh.P256().NewPublicKey(teePublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid TEE public key: %w", err)
	}
	secret, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}
	return DigitCipherKey(secret), nil
}

// DigitCipherKey expands an ECDH shared secret into the 32-byte Feistel
// round key.
func DigitCipherKey(sharedSecret []byte) []byte {
	key := make([]byte, 32)
	_, _ = io.ReadFull(hkdf.New(sha256.New, sharedSecret, nil, []byte(otpCipherInfo)), key)
	return key
}

// EncryptDigitsWithKey runs the base-10 Feistel network forward.
func EncryptDigitsWithKey(key []byte, digits []int) ([]int, error) {
	a, b, lenA, lenB, err := splitDigits(digits)
	if err != nil {
		return nil, err
	}
	modA, modB := pow10(lenA), pow10(lenB)

	for round := 0; round < feistelRounds; round++ {
		if round%2 == 0 {
			a = (a + roundValue(key, round, b)) % modA
		} else {
			b = (b + roundValue(key, round, a)) % modB
		}
	}
	return joinDigits(a, b, lenA, lenB), nil
}

// DecryptDigitsWithKey runs the Feistel network in reverse.
func DecryptDigitsWithKey(key []byte, digits []int) ([]int, error) {
	a, b, lenA, lenB, err := splitDigits(digits)
	if err != nil {
		return nil, err
	}
	modA, modB := pow10(lenA), pow10(lenB)

	for round := feistelRounds - 1; round >= 0; round-- {
		if round%2 == 0 {
			a = (a + modA - roundValue(key, round, b)%modA) % modA
		} else {
			b = (b + modB - roundValue(key, round, a)%modB) % modB
		}
	}
	return joinDigits(a, b, lenA, lenB), nil
}

// roundValue is the Feistel round function: HMAC-SHA256 over the round
// index and the opposite half, reduced to a uint64.
func roundValue(key []byte, round int, half uint64) uint64 {
	var input [16]byte
	binary.BigEndian.PutUint64(input[:8], uint64(round))
	binary.BigEndian.PutUint64(input[8:], half)

	mac := hmac.New(sha256.New, key)
	mac.Write(input[:])
	return binary.BigEndian.Uint64(mac.Sum(nil)[:8])
}

func splitDigits(digits []int) (a, b uint64, lenA, lenB int, err error) {
	if len(digits) < 2 || len(digits) > maxDigits {
		return 0, 0, 0, 0, fmt.Errorf("digit sequence length must be 2..%d, got %d", maxDigits, len(digits))
	}

	lenA = len(digits) / 2
	lenB = len(digits) - lenA
	for i, d := range digits {
		if d < 0 || d > 9 {
			return 0, 0, 0, 0, errors.New("digit sequence contains a value outside 0-9")
		}
		if i < lenA {
			a = a*10 + uint64(d)
		} else {
			b = b*10 + uint64(d)
		}
	}
	return a, b, lenA, lenB, nil
}

func joinDigits(a, b uint64, lenA, lenB int) []int {
	out := make([]int, lenA+lenB)
	for i := lenA - 1; i >= 0; i-- {
		out[i] = int(a % 10)
		a /= 10
	}
	for i := lenA + lenB - 1; i >= lenA; i-- {
		out[i] = int(b % 10)
		b /= 10
	}
	return out
}

func pow10(n int) uint64 {
	result := uint64(1)
	for i := 0; i < n; i++ {
		result *= 10
	}
	return result
}
