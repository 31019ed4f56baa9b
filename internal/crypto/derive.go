package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DerivedKeySize is the size of the AES-256-GCM content key.
const DerivedKeySize = 32

// DeriveContentKey expands a verified envelope secret into the symmetric
// content key for the given scope using HKDF-SHA256. The scope's derivation
// label ("user-key" or "shared-record-key") is the HKDF info, so the own and
// shared derivations are unrelated even when fed the same secret.
func DeriveContentKey(secret []byte, scope Scope) ([]byte, error) {
	if len(secret) != SecretSize {
		return nil, NewScopeError(KindDerivationFailure, "derive", scope, fmt.Errorf("secret is %d bytes, expected %d", len(secret), SecretSize))
	}
	key := make([]byte, DerivedKeySize)
	r := hkdf.New(sha256.New, secret, nil, []byte(scope.DerivationLabel()))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, NewScopeError(KindDerivationFailure, "derive", scope, fmt.Errorf("hkdf expansion failed: %w", err))
	}
	return key, nil
}

// ZeroBytes overwrites a byte slice with zeros for secure cleanup.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
