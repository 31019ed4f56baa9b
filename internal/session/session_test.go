package session

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/record-encryption/internal/authority"
	"github.com/kenneth/record-encryption/internal/authority/sim"
	"github.com/kenneth/record-encryption/internal/crypto"
	"github.com/kenneth/record-encryption/internal/store"
)

// countingClient wraps an authority client and counts round trips, with an
// optional per-call delay to widen coalescing windows in concurrency tests.
type countingClient struct {
	inner         authority.Client
	envelopeCalls atomic.Int64
	keyCalls      atomic.Int64
	delay         time.Duration
}

func (c *countingClient) VerificationKey(ctx context.Context, kind crypto.ScopeKind) (string, error) {
	c.keyCalls.Add(1)
	return c.inner.VerificationKey(ctx, kind)
}

func (c *countingClient) EncryptedKeyEnvelope(ctx context.Context, scope crypto.Scope, transportPublicKey []byte) (string, error) {
	c.envelopeCalls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.inner.EncryptedKeyEnvelope(ctx, scope, transportPublicKey)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestSession(t *testing.T, simulator *sim.Simulator, identity crypto.Identity) (*Session, *countingClient) {
	t.Helper()
	client := &countingClient{inner: simulator.ClientFor(identity)}
	s, err := New(Config{
		Identity:  identity,
		Authority: client,
		Logger:    quietLogger(),
	})
	require.NoError(t, err)
	return s, client
}

func TestSession_EncryptDecryptRoundTrip(t *testing.T) {
	simulator, err := sim.NewRandom()
	require.NoError(t, err)
	alice, _ := newTestSession(t, simulator, "alice")

	ctx := context.Background()
	scope := crypto.OwnScope("alice")

	frame, err := alice.Encrypt(ctx, scope, "blood type: O+")
	require.NoError(t, err)
	require.NotEqual(t, "blood type: O+", frame)

	plaintext, err := alice.Decrypt(ctx, scope, frame)
	require.NoError(t, err)
	require.Equal(t, "blood type: O+", plaintext)
}

func TestSession_CacheShortCircuitsAuthority(t *testing.T) {
	simulator, err := sim.NewRandom()
	require.NoError(t, err)
	alice, client := newTestSession(t, simulator, "alice")

	ctx := context.Background()
	scope := crypto.OwnScope("alice")

	_, err = alice.Encrypt(ctx, scope, "first")
	require.NoError(t, err)
	require.EqualValues(t, 1, client.envelopeCalls.Load())

	for i := 0; i < 5; i++ {
		_, err = alice.Encrypt(ctx, scope, "again")
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, client.envelopeCalls.Load(), "cache hits must not reach the authority")
	require.EqualValues(t, 1, client.keyCalls.Load())
}

func TestSession_ConcurrentAcquisitionsCoalesce(t *testing.T) {
	simulator, err := sim.NewRandom()
	require.NoError(t, err)

	client := &countingClient{inner: simulator.ClientFor("alice"), delay: 100 * time.Millisecond}
	alice, err := New(Config{Identity: "alice", Authority: client, Logger: quietLogger()})
	require.NoError(t, err)

	ctx := context.Background()
	scope := crypto.OwnScope("alice")

	const workers = 8
	var wg sync.WaitGroup
	frames := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			frames[i], errs[i] = alice.Encrypt(ctx, scope, "shared plaintext")
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		got, err := alice.Decrypt(ctx, scope, frames[i])
		require.NoError(t, err)
		require.Equal(t, "shared plaintext", got)
	}
	require.EqualValues(t, 1, client.envelopeCalls.Load(), "concurrent misses for one scope must coalesce into one round trip")
}

func TestSession_OwnershipDispatch(t *testing.T) {
	simulator, err := sim.NewRandom()
	require.NoError(t, err)
	simulator.Share("42", "alice", "bob")

	alice, _ := newTestSession(t, simulator, "alice")
	bob, _ := newTestSession(t, simulator, "bob")
	ctx := context.Background()

	// Alice encrypts her own record under the own-identity derivation.
	frame, err := alice.EncryptRecord(ctx, "42", "alice", "lab results")
	require.NoError(t, err)

	got, err := alice.DecryptRecord(ctx, "42", "alice", frame)
	require.NoError(t, err)
	require.Equal(t, "lab results", got)

	// Bob is not the owner, so his decrypt goes through the shared
	// derivation, which produces a different key than alice's own one.
	_, err = bob.DecryptRecord(ctx, "42", "alice", frame)
	require.Error(t, err)
	require.True(t, crypto.IsKind(err, crypto.KindDecryptionFailed))

	// Content sealed under the shared derivation is readable by both the
	// owner and the grantee.
	sharedFrame, err := bob.Encrypt(ctx, crypto.SharedScope("42", "alice"), "shared note")
	require.NoError(t, err)
	got, err = alice.Decrypt(ctx, crypto.SharedScope("42", "alice"), sharedFrame)
	require.NoError(t, err)
	require.Equal(t, "shared note", got)
}

func TestSession_DelimiterScopesStayIsolated(t *testing.T) {
	simulator, err := sim.NewRandom()
	require.NoError(t, err)

	// Zoe holds a grant for record "b:c" owned by "a", and nothing else.
	simulator.Share("b:c", "a", "zoe")

	owner, _ := newTestSession(t, simulator, "a:b")
	zoe, _ := newTestSession(t, simulator, "zoe")
	ctx := context.Background()

	grantedScope := crypto.SharedScope("b:c", "a")
	otherScope := crypto.SharedScope("c", "a:b")

	frame, err := owner.Encrypt(ctx, otherScope, "record c owned by a:b")
	require.NoError(t, err)

	// Warm zoe's cache with the granted scope, then try the other one.
	// Its cache key must not collide with the granted entry, so the
	// acquisition reaches the authority and is denied.
	_, err = zoe.Encrypt(ctx, grantedScope, "warm the cache")
	require.NoError(t, err)

	_, err = zoe.Decrypt(ctx, otherScope, frame)
	require.Error(t, err)
	require.True(t, crypto.IsKind(err, crypto.KindPermissionDenied))
}

func TestSession_PermissionDenied(t *testing.T) {
	simulator, err := sim.NewRandom()
	require.NoError(t, err)
	bob, _ := newTestSession(t, simulator, "bob")

	_, err = bob.Encrypt(context.Background(), crypto.SharedScope("42", "alice"), "sneaky")
	require.Error(t, err)
	require.True(t, crypto.IsKind(err, crypto.KindPermissionDenied))
	require.ErrorIs(t, err, authority.ErrPermissionDenied)
}

func TestSession_RevocationBindsNextAcquisition(t *testing.T) {
	simulator, err := sim.NewRandom()
	require.NoError(t, err)
	simulator.Share("42", "alice", "bob")

	alice, _ := newTestSession(t, simulator, "alice")
	bob, _ := newTestSession(t, simulator, "bob")
	ctx := context.Background()
	scope := crypto.SharedScope("42", "alice")

	frame, err := alice.Encrypt(ctx, scope, "shared while granted")
	require.NoError(t, err)

	got, err := bob.Decrypt(ctx, scope, frame)
	require.NoError(t, err)
	require.Equal(t, "shared while granted", got)

	// Revocation does not reach into bob's cache; his cached key still
	// opens the frame.
	simulator.Revoke("42", "alice", "bob")
	got, err = bob.Decrypt(ctx, scope, frame)
	require.NoError(t, err)
	require.Equal(t, "shared while granted", got)

	// Once the cache is cleared, the next acquisition is denied.
	require.NoError(t, bob.InvalidateKeys(ctx))
	_, err = bob.Decrypt(ctx, scope, frame)
	require.True(t, crypto.IsKind(err, crypto.KindPermissionDenied))
}

func TestSession_InvalidateKeysForcesReacquisition(t *testing.T) {
	simulator, err := sim.NewRandom()
	require.NoError(t, err)
	alice, client := newTestSession(t, simulator, "alice")

	ctx := context.Background()
	scope := crypto.OwnScope("alice")

	frame, err := alice.Encrypt(ctx, scope, "before logout")
	require.NoError(t, err)
	require.EqualValues(t, 1, client.envelopeCalls.Load())

	require.NoError(t, alice.InvalidateKeys(ctx))

	// The derivation is stable, so the reacquired key still opens old frames.
	got, err := alice.Decrypt(ctx, scope, frame)
	require.NoError(t, err)
	require.Equal(t, "before logout", got)
	require.EqualValues(t, 2, client.envelopeCalls.Load())
}

func TestSession_RequiresIdentity(t *testing.T) {
	simulator, err := sim.NewRandom()
	require.NoError(t, err)

	anon, err := New(Config{
		Identity:  "",
		Authority: simulator.ClientFor(""),
		Logger:    quietLogger(),
	})
	require.NoError(t, err)

	_, err = anon.Encrypt(context.Background(), crypto.OwnScope("alice"), "data")
	require.True(t, crypto.IsKind(err, crypto.KindAuthenticationRequired))
}

func TestSession_InvalidScope(t *testing.T) {
	simulator, err := sim.NewRandom()
	require.NoError(t, err)
	alice, client := newTestSession(t, simulator, "alice")

	_, err = alice.Encrypt(context.Background(), crypto.Scope{Kind: crypto.ScopeKindShared}, "data")
	require.Error(t, err)
	require.EqualValues(t, 0, client.envelopeCalls.Load(), "invalid scopes must be rejected before any round trip")
}

func TestSession_MalformedFramesSkipAcquisition(t *testing.T) {
	simulator, err := sim.NewRandom()
	require.NoError(t, err)
	alice, client := newTestSession(t, simulator, "alice")

	ctx := context.Background()
	scope := crypto.OwnScope("alice")

	tests := []struct {
		name  string
		frame string
		kind  crypto.Kind
	}{
		{name: "empty", frame: "", kind: crypto.KindEmptyInput},
		{name: "not base64", frame: "not base64!!!", kind: crypto.KindInvalidEncoding},
		{name: "short", frame: "AAAA", kind: crypto.KindShortCiphertext},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := alice.Decrypt(ctx, scope, tt.frame)
			require.True(t, crypto.IsKind(err, tt.kind), "got %v", err)
		})
	}
	require.EqualValues(t, 0, client.envelopeCalls.Load(), "malformed frames must be rejected before any round trip")
}

func TestSession_SealAndOpenRecord(t *testing.T) {
	simulator, err := sim.NewRandom()
	require.NoError(t, err)
	alice, _ := newTestSession(t, simulator, "alice")

	ctx := context.Background()
	records := store.NewMemoryStore()

	// Opening an absent record yields empty plaintext, not an error.
	got, err := alice.OpenRecord(ctx, records, "42", "alice")
	require.NoError(t, err)
	require.Empty(t, got)

	require.NoError(t, alice.SealRecord(ctx, records, "42", "diagnosis: healthy"))

	frame, meta, err := records.Get(ctx, "42")
	require.NoError(t, err)
	require.NotContains(t, frame, "diagnosis")
	require.Equal(t, "alice", meta[store.MetaOwner])

	got, err = alice.OpenRecord(ctx, records, "42", "alice")
	require.NoError(t, err)
	require.Equal(t, "diagnosis: healthy", got)
}

func TestNew_RequiresAuthority(t *testing.T) {
	_, err := New(Config{Identity: "alice"})
	require.Error(t, err)
}
