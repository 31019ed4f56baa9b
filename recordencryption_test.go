package recordencryption_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	recordencryption "github.com/kenneth/record-encryption"
	"github.com/kenneth/record-encryption/internal/authority/sim"
)

func newAuthorityServer(t *testing.T, simulator *sim.Simulator) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(sim.NewServer(simulator, nil).Router())
	t.Cleanup(srv.Close)
	return srv
}

func newSession(t *testing.T, simulator *sim.Simulator, identity recordencryption.Identity) *recordencryption.Session {
	t.Helper()
	sess, err := recordencryption.NewSession(recordencryption.SessionConfig{
		Identity:  identity,
		Authority: simulator.ClientFor(identity),
	})
	require.NoError(t, err)
	return sess
}

func TestOwnRecordLifecycle(t *testing.T) {
	simulator, err := sim.NewRandom()
	require.NoError(t, err)

	alice := newSession(t, simulator, "alice")
	records := recordencryption.NewMemoryRecordStore()
	ctx := context.Background()

	require.NoError(t, alice.SealRecord(ctx, records, "42", "blood type: O+"))

	got, err := alice.OpenRecord(ctx, records, "42", "alice")
	require.NoError(t, err)
	require.Equal(t, "blood type: O+", got)

	// A second session for the same identity decrypts content the first
	// one sealed.
	alice2 := newSession(t, simulator, "alice")
	got, err = alice2.OpenRecord(ctx, records, "42", "alice")
	require.NoError(t, err)
	require.Equal(t, "blood type: O+", got)
}

func TestSharedRecordAccess(t *testing.T) {
	simulator, err := sim.NewRandom()
	require.NoError(t, err)
	simulator.Share("42", "alice", "bob")

	alice := newSession(t, simulator, "alice")
	bob := newSession(t, simulator, "bob")
	ctx := context.Background()

	scope := recordencryption.SharedScope("42", "alice")

	frame, err := alice.Encrypt(ctx, scope, "shared lab results")
	require.NoError(t, err)

	got, err := bob.Decrypt(ctx, scope, frame)
	require.NoError(t, err)
	require.Equal(t, "shared lab results", got)

	// Carol holds no grant.
	carol := newSession(t, simulator, "carol")
	_, err = carol.Decrypt(ctx, scope, frame)
	require.True(t, recordencryption.IsKind(err, recordencryption.KindPermissionDenied))
}

func TestRevokedGranteeCannotReacquire(t *testing.T) {
	simulator, err := sim.NewRandom()
	require.NoError(t, err)
	simulator.Share("42", "alice", "bob")

	alice := newSession(t, simulator, "alice")
	bob := newSession(t, simulator, "bob")
	ctx := context.Background()

	scope := recordencryption.SharedScope("42", "alice")
	frame, err := alice.Encrypt(ctx, scope, "while granted")
	require.NoError(t, err)

	_, err = bob.Decrypt(ctx, scope, frame)
	require.NoError(t, err)

	simulator.Revoke("42", "alice", "bob")
	require.NoError(t, bob.InvalidateKeys(ctx))

	_, err = bob.Decrypt(ctx, scope, frame)
	require.True(t, recordencryption.IsKind(err, recordencryption.KindPermissionDenied))
}

func TestErrorKinds(t *testing.T) {
	simulator, err := sim.NewRandom()
	require.NoError(t, err)
	alice := newSession(t, simulator, "alice")
	ctx := context.Background()

	scope := recordencryption.OwnScope("alice")

	_, err = alice.Decrypt(ctx, scope, "")
	require.True(t, recordencryption.IsKind(err, recordencryption.KindEmptyInput))

	_, err = alice.Decrypt(ctx, scope, "not base64!!!")
	require.True(t, recordencryption.IsKind(err, recordencryption.KindInvalidEncoding))

	_, err = alice.Decrypt(ctx, scope, "AAAA")
	require.True(t, recordencryption.IsKind(err, recordencryption.KindShortCiphertext))
}

func TestOpenFromConfig(t *testing.T) {
	simulator, err := sim.NewRandom()
	require.NoError(t, err)
	srv := newAuthorityServer(t, simulator)

	cfg := &recordencryption.Config{}
	cfg.Authority.Endpoint = srv.URL
	cfg.Audit.Enabled = true
	cfg.Audit.Sink.Type = "file"
	cfg.Audit.Sink.FilePath = filepath.Join(t.TempDir(), "audit.log")

	m := recordencryption.NewMetrics()
	sess, records, closeFn, err := recordencryption.Open(context.Background(), cfg, "alice", m)
	require.NoError(t, err)
	defer closeFn()

	ctx := context.Background()
	require.NoError(t, sess.SealRecord(ctx, records, "7", "allergies: none"))

	got, err := sess.OpenRecord(ctx, records, "7", "alice")
	require.NoError(t, err)
	require.Equal(t, "allergies: none", got)
}
