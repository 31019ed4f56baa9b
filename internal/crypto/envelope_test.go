package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/box"
)

// issueEnvelope plays the authority for a single issuance.
func issueEnvelope(t *testing.T, signer ed25519.PrivateKey, identity Identity, secret []byte, transportPublic []byte) string {
	t.Helper()

	senderPub, senderPriv, err := box.GenerateKey(rand.Reader)
	require.NoError(t, err)
	var nonce [24]byte
	_, err = rand.Read(nonce[:])
	require.NoError(t, err)

	signature := ed25519.Sign(signer, VerifyingMessage(identity, secret))
	env, err := SealEnvelope(secret, signature, transportPublic, senderPub, senderPriv, &nonce)
	require.NoError(t, err)
	return env.Encode()
}

func testSigner(t *testing.T) (ed25519.PrivateKey, *VerificationKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	vk, err := ParseVerificationKey(hex.EncodeToString(pub))
	require.NoError(t, err)
	return priv, vk
}

func TestEnvelope_OpenRoundTrip(t *testing.T) {
	signer, vk := testSigner(t)
	kp, err := GenerateTransportKeypair()
	require.NoError(t, err)

	secret := make([]byte, SecretSize)
	_, err = rand.Read(secret)
	require.NoError(t, err)

	encoded := issueEnvelope(t, signer, "alice", secret, kp.PublicBytes())
	env, err := ParseKeyEnvelope(encoded)
	require.NoError(t, err)

	opened, err := env.Open(kp, vk, "alice")
	require.NoError(t, err)
	require.Equal(t, secret, opened)
}

func TestEnvelope_WrongIdentityBinding(t *testing.T) {
	signer, vk := testSigner(t)
	kp, err := GenerateTransportKeypair()
	require.NoError(t, err)

	secret := make([]byte, SecretSize)
	_, err = rand.Read(secret)
	require.NoError(t, err)

	encoded := issueEnvelope(t, signer, "alice", secret, kp.PublicBytes())
	env, err := ParseKeyEnvelope(encoded)
	require.NoError(t, err)

	// An envelope issued for alice must not verify for mallory.
	_, err = env.Open(kp, vk, "mallory")
	require.True(t, IsKind(err, KindDecryptionFailed), "got %v", err)
}

func TestEnvelope_WrongTransportKey(t *testing.T) {
	signer, vk := testSigner(t)
	kp, err := GenerateTransportKeypair()
	require.NoError(t, err)
	other, err := GenerateTransportKeypair()
	require.NoError(t, err)

	secret := make([]byte, SecretSize)
	_, err = rand.Read(secret)
	require.NoError(t, err)

	encoded := issueEnvelope(t, signer, "alice", secret, kp.PublicBytes())
	env, err := ParseKeyEnvelope(encoded)
	require.NoError(t, err)

	_, err = env.Open(other, vk, "alice")
	require.True(t, IsKind(err, KindDecryptionFailed), "got %v", err)
}

func TestEnvelope_WrongVerificationKey(t *testing.T) {
	signer, _ := testSigner(t)
	_, otherVK := testSigner(t)
	kp, err := GenerateTransportKeypair()
	require.NoError(t, err)

	secret := make([]byte, SecretSize)
	_, err = rand.Read(secret)
	require.NoError(t, err)

	encoded := issueEnvelope(t, signer, "alice", secret, kp.PublicBytes())
	env, err := ParseKeyEnvelope(encoded)
	require.NoError(t, err)

	_, err = env.Open(kp, otherVK, "alice")
	require.True(t, IsKind(err, KindDecryptionFailed), "got %v", err)
}

func TestParseKeyEnvelope_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
		kind    Kind
	}{
		{name: "empty", encoded: "", kind: KindKeyRetrievalFailure},
		{name: "not hex", encoded: "zzzz", kind: KindInvalidEncoding},
		{name: "odd length hex", encoded: "abc", kind: KindInvalidEncoding},
		{name: "truncated", encoded: hex.EncodeToString(make([]byte, EnvelopeSize-1)), kind: KindDeserializationFailure},
		{name: "oversized", encoded: hex.EncodeToString(make([]byte, EnvelopeSize+16)), kind: KindDeserializationFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKeyEnvelope(tt.encoded)
			require.True(t, IsKind(err, tt.kind), "got %v", err)
		})
	}
}

func TestParseVerificationKey_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
		kind    Kind
	}{
		{name: "empty", encoded: "", kind: KindKeyRetrievalFailure},
		{name: "not hex", encoded: "nope", kind: KindInvalidEncoding},
		{name: "wrong length", encoded: hex.EncodeToString(make([]byte, 16)), kind: KindDeserializationFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseVerificationKey(tt.encoded)
			require.True(t, IsKind(err, tt.kind), "got %v", err)
		})
	}
}

func TestTransportKeypair_Destroy(t *testing.T) {
	kp, err := GenerateTransportKeypair()
	require.NoError(t, err)
	kp.Destroy()

	zero := make([]byte, 32)
	require.Equal(t, zero, kp.PublicBytes())
}
