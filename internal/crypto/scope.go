package crypto

import "fmt"

// Identity is the opaque, stable identifier of a caller or record owner.
// It is immutable for the lifetime of a session.
type Identity string

// Bytes returns the raw identity bytes used as the binding context when
// verifying key envelopes.
func (id Identity) Bytes() []byte {
	return []byte(id)
}

// ScopeKind selects which derivation a scope requests from the authority.
type ScopeKind string

const (
	// ScopeKindOwn derives a key usable only by an identity for its own
	// records.
	ScopeKindOwn ScopeKind = "own"
	// ScopeKindShared derives a key for a specific record owned by someone
	// else, valid only while the caller holds a grant.
	ScopeKindShared ScopeKind = "shared"
)

// Scope is the binding context that determines which derived key is produced
// and who may obtain it.
type Scope struct {
	Kind     ScopeKind
	Identity Identity // caller identity for own scopes, unset for shared
	RecordID string   // shared scopes only
	Owner    Identity // shared scopes only
}

// OwnScope builds the scope for an identity's own content.
func OwnScope(identity Identity) Scope {
	return Scope{Kind: ScopeKindOwn, Identity: identity}
}

// SharedScope builds the scope for a record owned by another identity.
func SharedScope(recordID string, owner Identity) Scope {
	return Scope{Kind: ScopeKindShared, RecordID: recordID, Owner: owner}
}

// ScopeForRecord applies the ownership dispatch rule: a caller decrypting its
// own record uses the own-identity derivation, anyone else uses the shared
// derivation for (record, owner). Evaluated on every call so ownership
// changes are always respected.
func ScopeForRecord(caller Identity, recordID string, owner Identity) Scope {
	if caller == owner {
		return OwnScope(caller)
	}
	return SharedScope(recordID, owner)
}

// Validate checks the scope carries the fields its kind requires.
func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeKindOwn:
		if s.Identity == "" {
			return NewError(KindAuthenticationRequired, "scope.validate", fmt.Errorf("own scope requires an identity"))
		}
	case ScopeKindShared:
		if s.RecordID == "" || s.Owner == "" {
			return NewError(KindDeserializationFailure, "scope.validate", fmt.Errorf("shared scope requires record id and owner"))
		}
	default:
		return NewError(KindDeserializationFailure, "scope.validate", fmt.Errorf("unknown scope kind %q", s.Kind))
	}
	return nil
}

// CacheKey returns the composite key under which the derived key for this
// scope is cached: scope kind, identity or owner, and record id if any.
// Fields are hex encoded so identities and record ids containing the
// delimiter cannot make two scopes flatten to the same key. At most one
// cache entry exists per scope.
func (s Scope) CacheKey() string {
	if s.Kind == ScopeKindShared {
		return fmt.Sprintf("%s:%x:%x", s.Kind, string(s.Owner), s.RecordID)
	}
	return fmt.Sprintf("%s:%x", s.Kind, string(s.Identity))
}

// DerivationLabel returns the context label that separates the own-identity
// and shared-record derivations, so the two are cryptographically unrelated
// even for the same record.
func (s Scope) DerivationLabel() string {
	if s.Kind == ScopeKindShared {
		return "shared-record-key"
	}
	return "user-key"
}

func (s Scope) String() string {
	if s.Kind == ScopeKindShared {
		return fmt.Sprintf("shared record %s owned by %s", s.RecordID, s.Owner)
	}
	return fmt.Sprintf("own identity %s", s.Identity)
}
