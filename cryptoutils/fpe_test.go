package cryptoutils

import (
	"crypto/ecdh"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOTPCipher_RoundTrip(t *testing.T) {
	teeKeys, err := NewIdentityKeyPair()
	require.NoError(t, err, "Failed to generate TEE identity")
	cipher := NewOTPCipher(teeKeys)

	clientKey, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err, "Failed to generate client key")

	teePub, err := teeKeys.PublicKey()
	require.NoError(t, err)

	testCases := []struct {
		name   string
		digits []int
	}{
		{name: "Typical OTP", digits: []int{4, 8, 2, 9, 1, 0}},
		{name: "All zeros", digits: []int{0, 0, 0, 0, 0, 0}},
		{name: "All nines", digits: []int{9, 9, 9, 9, 9, 9}},
		{name: "Odd length", digits: []int{1, 2, 3, 4, 5}},
		{name: "Minimum length", digits: []int{7, 3}},
		{name: "Long sequence", digits: []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 0, 1, 2}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encrypted, err := cipher.EncryptDigits(tc.digits, clientKey.PublicKey().Bytes())
			require.NoError(t, err, "EncryptDigits should succeed")
			assert.Len(t, encrypted, len(tc.digits), "Length must be preserved")
			for _, d := range encrypted {
				assert.GreaterOrEqual(t, d, 0, "Output must stay in the digit domain")
				assert.LessOrEqual(t, d, 9, "Output must stay in the digit domain")
			}

			// Client derives the same key from its own private half.
			clientSideKey, err := DigitCipherKeyForPeer(clientKey, teePub)
			require.NoError(t, err, "Client-side key derivation should succeed")

			decrypted, err := DecryptDigitsWithKey(clientSideKey, encrypted)
			require.NoError(t, err, "DecryptDigitsWithKey should succeed")
			assert.Equal(t, tc.digits, decrypted, "Round trip should restore the original digits")
		})
	}
}

func TestOTPCipher_DeterministicPerKey(t *testing.T) {
	teeKeys, err := NewIdentityKeyPair()
	require.NoError(t, err)
	cipher := NewOTPCipher(teeKeys)

	clientKey, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	digits := []int{4, 8, 2, 9, 1, 0}
	first, err := cipher.EncryptDigits(digits, clientKey.PublicKey().Bytes())
	require.NoError(t, err)
	second, err := cipher.EncryptDigits(digits, clientKey.PublicKey().Bytes())
	require.NoError(t, err)

	assert.Equal(t, first, second, "Same digits and key must encrypt identically")

	otherClient, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	third, err := cipher.EncryptDigits(digits, otherClient.PublicKey().Bytes())
	require.NoError(t, err)
	assert.NotEqual(t, first, third, "A different recipient key should change the ciphertext")
}

func TestDigitCipher_InvalidInput(t *testing.T) {
	key := make([]byte, 32)

	_, err := EncryptDigitsWithKey(key, []int{5})
	assert.Error(t, err, "Single digit should be rejected")

	_, err = EncryptDigitsWithKey(key, []int{1, 2, 10})
	assert.Error(t, err, "Out-of-domain digit should be rejected")

	_, err = EncryptDigitsWithKey(key, []int{1, -1})
	assert.Error(t, err, "Negative digit should be rejected")

	tooLong := make([]int, maxDigits+1)
	_, err = EncryptDigitsWithKey(key, tooLong)
	assert.Error(t, err, "Over-long sequence should be rejected")
}
