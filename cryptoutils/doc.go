// Package cryptoutils implements the cryptographic primitives of the
// signer onboarding protocol: the TEE identity key pair, the
// HPKE-style envelope channel between the TEE and untrusted clients,
// and the format-preserving cipher used to keep encrypted OTPs looking
// like plain numeric codes.
//
// All operations are pure functions of their inputs and safe for
// concurrent use. Decryption failures are reported uniformly as
// interfaces.ErrDecryptionFailed so callers cannot distinguish a
// malformed encapsulated key from an AEAD tag mismatch.
package cryptoutils
