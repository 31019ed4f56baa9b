package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveContentKey_Deterministic(t *testing.T) {
	secret := make([]byte, SecretSize)
	_, err := rand.Read(secret)
	require.NoError(t, err)

	scope := OwnScope("alice")
	first, err := DeriveContentKey(secret, scope)
	require.NoError(t, err)
	second, err := DeriveContentKey(secret, scope)
	require.NoError(t, err)

	require.Len(t, first, DerivedKeySize)
	require.Equal(t, first, second)
}

func TestDeriveContentKey_LabelSeparation(t *testing.T) {
	secret := make([]byte, SecretSize)
	_, err := rand.Read(secret)
	require.NoError(t, err)

	// The own and shared derivations must be unrelated even for the same
	// underlying secret.
	ownKey, err := DeriveContentKey(secret, OwnScope("alice"))
	require.NoError(t, err)
	sharedKey, err := DeriveContentKey(secret, SharedScope("42", "alice"))
	require.NoError(t, err)

	require.NotEqual(t, ownKey, sharedKey)
}

func TestDeriveContentKey_BadSecretSize(t *testing.T) {
	for _, size := range []int{0, 16, 31, 33, 64} {
		_, err := DeriveContentKey(make([]byte, size), OwnScope("alice"))
		require.True(t, IsKind(err, KindDerivationFailure), "size %d: got %v", size, err)
	}
}

func TestZeroBytes(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	ZeroBytes(b)
	require.Equal(t, []byte{0, 0, 0, 0}, b)
}
