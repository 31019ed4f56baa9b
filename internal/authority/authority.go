// Package authority defines the contract with the remote threshold
// key-issuance service and an HTTP implementation of it. The authority can
// produce identity-bound encrypted key envelopes without ever learning the
// derived key in the clear; transport security and caller authentication of
// the channel are the collaborator's responsibility.
package authority

import (
	"context"
	"errors"

	"github.com/kenneth/record-encryption/internal/crypto"
)

// ErrPermissionDenied is returned when the authority explicitly reports the
// record is not shared with the caller or the caller lacks permission. It is
// kept distinct from transport or availability failures so the caller can
// present an access-denied outcome rather than a transient one.
var ErrPermissionDenied = errors.New("authority: permission denied")

// Client is the remote-procedure surface this subsystem consumes. Both
// calls return hex-encoded payloads that are decoded and validated locally.
type Client interface {
	// VerificationKey fetches the authority's public verification key for
	// the given scope kind.
	VerificationKey(ctx context.Context, kind crypto.ScopeKind) (string, error)

	// EncryptedKeyEnvelope requests an envelope bound to the calling
	// identity and the given ephemeral transport public key. For shared
	// scopes the request additionally carries the record id and owner
	// identity from the scope, so a grant for one record never yields a key
	// for another.
	EncryptedKeyEnvelope(ctx context.Context, scope crypto.Scope, transportPublicKey []byte) (string, error)
}
