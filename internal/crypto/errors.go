package crypto

import (
	"errors"
	"fmt"
)

// Kind classifies every failure this package and its callers can surface.
// Calling layers branch on the kind rather than parsing message text.
type Kind string

const (
	// KindAuthenticationRequired means no caller identity was available when
	// an acquisition or cipher operation was attempted.
	KindAuthenticationRequired Kind = "authentication_required"
	// KindEmptyInput means the plaintext or ciphertext input was empty.
	KindEmptyInput Kind = "empty_input"
	// KindInvalidEncoding means a Base64 or hex string failed to decode.
	KindInvalidEncoding Kind = "invalid_encoding"
	// KindShortCiphertext means a decoded frame was shorter than IV + 1 byte.
	KindShortCiphertext Kind = "short_ciphertext"
	// KindDeserializationFailure means envelope or verification key bytes did
	// not parse into the expected structure.
	KindDeserializationFailure Kind = "deserialization_failure"
	// KindKeyRetrievalFailure means the authority call failed or returned an
	// empty payload for reasons other than permission.
	KindKeyRetrievalFailure Kind = "key_retrieval_failure"
	// KindPermissionDenied means the authority explicitly reported the caller
	// lacks a grant for the requested shared scope.
	KindPermissionDenied Kind = "permission_denied"
	// KindDecryptionFailed means an authentication check failed: a GCM tag
	// mismatch on content, or an envelope that did not open or verify.
	KindDecryptionFailed Kind = "decryption_failed"
	// KindDerivationFailure means key derivation failed after successful
	// envelope verification.
	KindDerivationFailure Kind = "derivation_failure"
)

// Error is the typed error returned across the package boundary. It carries
// the scope context so callers can distinguish user-actionable failures
// (permission, authentication) from transient ones without string matching.
type Error struct {
	Kind  Kind
	Op    string
	Scope *Scope
	Err   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Scope != nil {
		msg += " (" + e.Scope.String() + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match against another *Error with the same kind, so
// errors.Is(err, &Error{Kind: k}) works without comparing wrapped causes.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// NewError builds a typed error without scope context.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NewScopeError builds a typed error carrying the scope it failed for.
func NewScopeError(kind Kind, op string, scope Scope, err error) *Error {
	return &Error{Kind: kind, Op: op, Scope: &scope, Err: err}
}

// IsKind reports whether err (or anything it wraps) is an *Error of the
// given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// KindOf returns the kind of err if it is a typed error, or the empty kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
