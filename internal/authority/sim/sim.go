// Package sim implements the issuing side of the key authority for tests,
// load generation, and local development. Secrets are derived
// deterministically from a master seed, so repeated acquisitions for the
// same scope converge on the same content key, matching the behavior of a
// real threshold deployment with stable authority state.
package sim

import (
	"context"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/box"

	"github.com/kenneth/record-encryption/internal/authority"
	"github.com/kenneth/record-encryption/internal/crypto"
)

// SeedSize is the required master seed length.
const SeedSize = 32

// Simulator issues identity-bound key envelopes and manages grants.
type Simulator struct {
	seed    []byte
	signers map[crypto.ScopeKind]ed25519.PrivateKey

	mu     sync.RWMutex
	grants map[string]map[crypto.Identity]bool
}

// New creates a simulator from a 32-byte master seed. Verification keypairs
// per scope kind are derived from the seed, so two simulators built from the
// same seed are interchangeable.
func New(seed []byte) (*Simulator, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("master seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	s := &Simulator{
		seed:    append([]byte(nil), seed...),
		signers: make(map[crypto.ScopeKind]ed25519.PrivateKey),
		grants:  make(map[string]map[crypto.Identity]bool),
	}
	for _, kind := range []crypto.ScopeKind{crypto.ScopeKindOwn, crypto.ScopeKindShared} {
		signer, err := s.deriveSigner(kind)
		if err != nil {
			return nil, err
		}
		s.signers[kind] = signer
	}
	return s, nil
}

// NewRandom creates a simulator from a fresh random seed.
func NewRandom() (*Simulator, error) {
	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate master seed: %w", err)
	}
	return New(seed)
}

func (s *Simulator) deriveSigner(kind crypto.ScopeKind) (ed25519.PrivateKey, error) {
	keySeed := make([]byte, ed25519.SeedSize)
	r := hkdf.New(sha256.New, s.seed, nil, []byte("verification-key:"+string(kind)))
	if _, err := io.ReadFull(r, keySeed); err != nil {
		return nil, fmt.Errorf("failed to derive signer for %s scopes: %w", kind, err)
	}
	return ed25519.NewKeyFromSeed(keySeed), nil
}

// VerificationKey returns the hex-encoded public verification key for the
// given scope kind.
func (s *Simulator) VerificationKey(kind crypto.ScopeKind) (string, error) {
	signer, ok := s.signers[kind]
	if !ok {
		return "", fmt.Errorf("unknown scope kind %q", kind)
	}
	return hex.EncodeToString(signer.Public().(ed25519.PublicKey)), nil
}

// grantKey hex encodes both fields so an owner or record id containing the
// separator cannot alias another grant.
func grantKey(recordID string, owner crypto.Identity) string {
	return fmt.Sprintf("%x/%x", string(owner), recordID)
}

// Share grants grantee access to the shared derivation for (recordID, owner).
func (s *Simulator) Share(recordID string, owner, grantee crypto.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := grantKey(recordID, owner)
	if s.grants[k] == nil {
		s.grants[k] = make(map[crypto.Identity]bool)
	}
	s.grants[k][grantee] = true
}

// Revoke removes a previously issued grant. Already-cached keys on the
// grantee side are unaffected; revocation binds future acquisitions.
func (s *Simulator) Revoke(recordID string, owner, grantee crypto.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants[grantKey(recordID, owner)], grantee)
}

// HasGrant reports whether grantee may obtain the shared derivation.
func (s *Simulator) HasGrant(recordID string, owner, grantee crypto.Identity) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grants[grantKey(recordID, owner)][grantee]
}

// secretFor derives the stable per-scope secret. The record id is bound into
// the shared input, so a grant for one record never yields another record's
// key. Fields are hex encoded into the MAC input so two distinct scopes can
// never produce the same flattened bytes.
func (s *Simulator) secretFor(scope crypto.Scope) []byte {
	mac := hmac.New(sha256.New, s.seed)
	switch scope.Kind {
	case crypto.ScopeKindShared:
		fmt.Fprintf(mac, "shared:%x:%x", string(scope.Owner), scope.RecordID)
	default:
		fmt.Fprintf(mac, "own:%x", string(scope.Identity))
	}
	return mac.Sum(nil)
}

// IssueEnvelope authorizes the caller for the scope, derives the scope
// secret, signs it bound to the caller identity, and seals it to the
// transport public key.
func (s *Simulator) IssueEnvelope(caller crypto.Identity, scope crypto.Scope, transportPublicKey []byte) (string, error) {
	if caller == "" {
		return "", fmt.Errorf("caller identity is required")
	}
	if err := scope.Validate(); err != nil {
		return "", err
	}
	if len(transportPublicKey) != 32 {
		return "", fmt.Errorf("transport public key must be 32 bytes, got %d", len(transportPublicKey))
	}

	switch scope.Kind {
	case crypto.ScopeKindOwn:
		if scope.Identity != caller {
			return "", fmt.Errorf("%w: own scope requested for a different identity", authority.ErrPermissionDenied)
		}
	case crypto.ScopeKindShared:
		if scope.Owner != caller && !s.HasGrant(scope.RecordID, scope.Owner, caller) {
			return "", fmt.Errorf("%w: record %s is not shared with %s", authority.ErrPermissionDenied, scope.RecordID, caller)
		}
	}

	secret := s.secretFor(scope)
	signature := ed25519.Sign(s.signers[scope.Kind], crypto.VerifyingMessage(caller, secret))

	senderPub, senderPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate issuance keypair: %w", err)
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate issuance nonce: %w", err)
	}

	env, err := crypto.SealEnvelope(secret, signature, transportPublicKey, senderPub, senderPriv, &nonce)
	if err != nil {
		return "", fmt.Errorf("failed to seal envelope: %w", err)
	}
	return env.Encode(), nil
}

// localClient adapts the simulator to the authority.Client contract for a
// fixed caller identity, for in-process use by tests and the load tool.
type localClient struct {
	sim      *Simulator
	identity crypto.Identity
}

// ClientFor returns an in-process authority client acting as identity.
func (s *Simulator) ClientFor(identity crypto.Identity) authority.Client {
	return &localClient{sim: s, identity: identity}
}

func (c *localClient) VerificationKey(_ context.Context, kind crypto.ScopeKind) (string, error) {
	return c.sim.VerificationKey(kind)
}

func (c *localClient) EncryptedKeyEnvelope(_ context.Context, scope crypto.Scope, transportPublicKey []byte) (string, error) {
	return c.sim.IssueEnvelope(c.identity, scope, transportPublicKey)
}
