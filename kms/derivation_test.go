package kms

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paella-Labs/tee-ts-sub000/cryptoutils"
	"github.com/Paella-Labs/tee-ts-sub000/interfaces"
)

func testDerivationService(t *testing.T) *DerivationService {
	t.Helper()
	seed := make([]byte, 32)
	copy(seed, []byte("derivation-service-test-seed-0001"))
	keys, err := cryptoutils.NewIdentityKeyPairFromSeed(seed)
	require.NoError(t, err, "Failed to derive test identity")
	return NewDerivationService(keys)
}

func TestDeriveMasterSecret_Deterministic(t *testing.T) {
	svc := testDerivationService(t)

	first, err := svc.DeriveMasterSecret("signerA", "email:a@x.com")
	require.NoError(t, err, "DeriveMasterSecret should succeed")
	assert.Len(t, first, 32, "Master secret must be 32 bytes")

	second, err := svc.DeriveMasterSecret("signerA", "email:a@x.com")
	require.NoError(t, err)
	assert.Equal(t, first, second, "Identical inputs must yield identical secrets")

	otherSigner, err := svc.DeriveMasterSecret("signerB", "email:a@x.com")
	require.NoError(t, err)
	assert.NotEqual(t, first, otherSigner, "Changing signerId must change the secret")

	otherAuth, err := svc.DeriveMasterSecret("signerA", "email:b@x.com")
	require.NoError(t, err)
	assert.NotEqual(t, first, otherAuth, "Changing authId must change the secret")
}

func TestDeriveMasterSecret_DiffersAcrossIdentities(t *testing.T) {
	first := testDerivationService(t)

	otherKeys, err := cryptoutils.NewIdentityKeyPair()
	require.NoError(t, err)
	second := NewDerivationService(otherKeys)

	a, err := first.DeriveMasterSecret("signerA", "email:a@x.com")
	require.NoError(t, err)
	b, err := second.DeriveMasterSecret("signerA", "email:a@x.com")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "Different identity keys must yield different secrets")
}

func TestDerivePublicKey_Strategies(t *testing.T) {
	svc := testDerivationService(t)

	edKey, err := svc.DerivePublicKey("signerA", "email:a@x.com", interfaces.KeyTypeEd25519)
	require.NoError(t, err, "Ed25519 derivation should succeed")
	decoded, err := base64.StdEncoding.DecodeString(edKey)
	require.NoError(t, err, "Ed25519 key should be base64")
	assert.Len(t, decoded, 32, "Ed25519 public key must be 32 bytes")

	secpKey, err := svc.DerivePublicKey("signerA", "email:a@x.com", interfaces.KeyTypeSecp256k1)
	require.NoError(t, err, "secp256k1 derivation should succeed")
	assert.True(t, strings.HasPrefix(secpKey, "0x"), "secp256k1 key should be 0x-prefixed hex")
	assert.Len(t, secpKey, 2+33*2, "secp256k1 key should be a compressed point")

	// Determinism across calls.
	edAgain, err := svc.DerivePublicKey("signerA", "email:a@x.com", interfaces.KeyTypeEd25519)
	require.NoError(t, err)
	assert.Equal(t, edKey, edAgain, "Derivation must be deterministic")

	// The two strategies must not collide.
	assert.NotEqual(t, edKey, secpKey)
}

func TestDerivePublicKey_UnsupportedKeyType(t *testing.T) {
	svc := testDerivationService(t)

	_, err := svc.DerivePublicKey("signerA", "email:a@x.com", interfaces.KeyType("p-384"))
	assert.ErrorIs(t, err, interfaces.ErrUnsupportedKeyType)
}

func TestGenerateAndSplit_RoundTrip(t *testing.T) {
	svc := testDerivationService(t)

	master, err := svc.DeriveMasterSecret("signerA", "email:a@x.com")
	require.NoError(t, err)

	shares, err := svc.GenerateAndSplit("signerA", "email:a@x.com")
	require.NoError(t, err, "GenerateAndSplit should succeed")
	assert.NotEqual(t, shares.Device, shares.Auth, "Shares must differ")
	assert.Len(t, shares.DeviceShareHash, 32, "Device share hash must be SHA-256")

	reconstructed, err := CombineShares(shares.Device, shares.Auth)
	require.NoError(t, err, "CombineShares should succeed")
	assert.Equal(t, master, reconstructed, "Combining both shares must restore the master secret")

	// A single share must not reconstruct the secret.
	_, err = CombineShares(shares.Device)
	assert.Error(t, err, "One share alone must not combine")
}
