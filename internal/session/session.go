// Package session ties the protector together: one Session per
// authenticated caller owns the key cache, the authority client, and the
// in-flight acquisition table. There is no process-wide state; a session is
// created on login and its keys are invalidated on logout.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/kenneth/record-encryption/internal/audit"
	"github.com/kenneth/record-encryption/internal/authority"
	"github.com/kenneth/record-encryption/internal/cache"
	"github.com/kenneth/record-encryption/internal/crypto"
	"github.com/kenneth/record-encryption/internal/metrics"
	"github.com/kenneth/record-encryption/internal/store"
)

// Config assembles a session's collaborators. Authority is required; Keys
// defaults to an in-memory store, Logger to a standard logrus logger.
// Metrics and Audit are optional.
type Config struct {
	Identity  crypto.Identity
	Authority authority.Client
	Keys      cache.KeyStore
	Logger    *logrus.Logger
	Metrics   *metrics.Metrics
	Audit     audit.Logger
}

// Session performs encrypt/decrypt for one authenticated identity.
type Session struct {
	identity  crypto.Identity
	authority authority.Client
	keys      cache.KeyStore
	logger    *logrus.Logger
	metrics   *metrics.Metrics
	audit     audit.Logger
	tracer    trace.Tracer

	group singleflight.Group
}

// New creates a session for the authenticated identity in cfg.
func New(cfg Config) (*Session, error) {
	if cfg.Authority == nil {
		return nil, fmt.Errorf("authority client is required")
	}
	keys := cfg.Keys
	if keys == nil {
		keys = cache.NewMemoryStore()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Session{
		identity:  cfg.Identity,
		authority: cfg.Authority,
		keys:      keys,
		logger:    logger,
		metrics:   cfg.Metrics,
		audit:     cfg.Audit,
		tracer:    otel.Tracer("record-encryption/session"),
	}, nil
}

// Identity returns the session's caller identity.
func (s *Session) Identity() crypto.Identity {
	return s.identity
}

// Encrypt seals plaintext under the derived key for scope and returns the
// Base64 cipher frame.
func (s *Session) Encrypt(ctx context.Context, scope crypto.Scope, plaintext string) (string, error) {
	start := time.Now()
	key, err := s.contentKey(ctx, scope)
	if err != nil {
		s.observeCipher("encrypt", scope, err, time.Since(start))
		return "", err
	}
	frame, err := crypto.EncryptString(key, plaintext)
	s.observeCipher("encrypt", scope, err, time.Since(start))
	return frame, err
}

// Decrypt opens a Base64 cipher frame with the derived key for scope. The
// frame is validated first so malformed input never costs an authority
// round trip.
func (s *Session) Decrypt(ctx context.Context, scope crypto.Scope, frame string) (string, error) {
	start := time.Now()
	raw, err := crypto.ParseFrame(frame)
	if err != nil {
		s.observeCipher("decrypt", scope, err, time.Since(start))
		return "", err
	}
	key, err := s.contentKey(ctx, scope)
	if err != nil {
		s.observeCipher("decrypt", scope, err, time.Since(start))
		return "", err
	}
	plaintext, err := crypto.DecryptFrame(key, raw)
	s.observeCipher("decrypt", scope, err, time.Since(start))
	return plaintext, err
}

// EncryptRecord applies the ownership dispatch rule and encrypts: the
// record's owner uses the own-identity derivation, anyone else the shared
// one. The dispatch is evaluated on every call.
func (s *Session) EncryptRecord(ctx context.Context, recordID string, owner crypto.Identity, plaintext string) (string, error) {
	return s.Encrypt(ctx, crypto.ScopeForRecord(s.identity, recordID, owner), plaintext)
}

// DecryptRecord applies the ownership dispatch rule and decrypts.
func (s *Session) DecryptRecord(ctx context.Context, recordID string, owner crypto.Identity, frame string) (string, error) {
	return s.Decrypt(ctx, crypto.ScopeForRecord(s.identity, recordID, owner), frame)
}

// SealRecord encrypts plaintext under the caller's own scope and persists
// the frame in the record store.
func (s *Session) SealRecord(ctx context.Context, st store.RecordStore, recordID, plaintext string) error {
	frame, err := s.EncryptRecord(ctx, recordID, s.identity, plaintext)
	if err != nil {
		return err
	}
	return st.Put(ctx, recordID, frame, map[string]string{store.MetaOwner: string(s.identity)})
}

// OpenRecord fetches a record's frame and decrypts it with the ownership
// dispatch rule. An absent or empty blob yields an empty plaintext rather
// than an error; there is nothing to decrypt.
func (s *Session) OpenRecord(ctx context.Context, st store.RecordStore, recordID string, owner crypto.Identity) (string, error) {
	frame, _, err := st.Get(ctx, recordID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if frame == "" {
		return "", nil
	}
	return s.DecryptRecord(ctx, recordID, owner, frame)
}

// InvalidateKeys empties the key cache. Call on logout or key rotation.
func (s *Session) InvalidateKeys(ctx context.Context) error {
	err := s.keys.Clear(ctx)
	s.auditEvent(&audit.Event{
		Timestamp: time.Now(),
		EventType: audit.EventTypeCacheClear,
		Identity:  string(s.identity),
		Success:   err == nil,
	}, err)
	if err != nil {
		return fmt.Errorf("failed to clear key cache: %w", err)
	}
	s.logger.WithField("identity", s.identity).Debug("key cache invalidated")
	return nil
}

// contentKey returns the derived key for scope, consulting the cache before
// any transport keypair is generated and coalescing concurrent acquisitions
// for the same scope into one authority round trip.
func (s *Session) contentKey(ctx context.Context, scope crypto.Scope) ([]byte, error) {
	if s.identity == "" {
		return nil, crypto.NewScopeError(crypto.KindAuthenticationRequired, "session.key", scope, fmt.Errorf("no authenticated identity"))
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	cacheKey := scope.CacheKey()
	key, found, err := s.keys.Get(ctx, cacheKey)
	if err != nil {
		// A broken cache degrades to a round trip, it does not block.
		s.logger.WithError(err).WithField("scope", scope.String()).Warn("key cache read failed")
	}
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(string(scope.Kind), found)
	}
	if found {
		return key, nil
	}

	v, err, _ := s.group.Do(cacheKey, func() (interface{}, error) {
		return s.acquire(ctx, scope)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// acquire runs the full acquisition protocol for a cache miss: generate a
// transport keypair, request the envelope and the verification key, open and
// verify the envelope against the caller identity, derive the content key,
// and cache it.
func (s *Session) acquire(ctx context.Context, scope crypto.Scope) ([]byte, error) {
	ctx, span := s.tracer.Start(ctx, "key_acquisition", trace.WithAttributes(
		attribute.String("scope.kind", string(scope.Kind)),
	))
	defer span.End()

	start := time.Now()
	key, err := s.acquireKey(ctx, scope)
	duration := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = string(crypto.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
		span.RecordError(err)
	}
	if s.metrics != nil {
		s.metrics.RecordAcquisition(string(scope.Kind), outcome, duration)
	}
	s.auditEvent(&audit.Event{
		Timestamp: time.Now(),
		EventType: audit.EventTypeKeyAcquisition,
		ScopeKind: string(scope.Kind),
		Identity:  string(s.identity),
		RecordID:  scope.RecordID,
		Owner:     string(scope.Owner),
		Success:   err == nil,
		Duration:  duration,
	}, err)

	if err != nil {
		s.logger.WithError(err).WithField("scope", scope.String()).Warn("key acquisition failed")
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"scope":       scope.String(),
		"duration_ms": duration.Milliseconds(),
	}).Debug("key acquired")
	return key, nil
}

func (s *Session) acquireKey(ctx context.Context, scope crypto.Scope) ([]byte, error) {
	kp, err := crypto.GenerateTransportKeypair()
	if err != nil {
		return nil, err
	}
	defer kp.Destroy()

	envelopeHex, err := s.authority.EncryptedKeyEnvelope(ctx, scope, kp.PublicBytes())
	if err != nil {
		if errors.Is(err, authority.ErrPermissionDenied) {
			return nil, crypto.NewScopeError(crypto.KindPermissionDenied, "session.acquire", scope, err)
		}
		return nil, crypto.NewScopeError(crypto.KindKeyRetrievalFailure, "session.acquire", scope, err)
	}

	verificationKeyHex, err := s.authority.VerificationKey(ctx, scope.Kind)
	if err != nil {
		return nil, crypto.NewScopeError(crypto.KindKeyRetrievalFailure, "session.acquire", scope, err)
	}

	envelope, err := crypto.ParseKeyEnvelope(envelopeHex)
	if err != nil {
		return nil, err
	}
	verificationKey, err := crypto.ParseVerificationKey(verificationKeyHex)
	if err != nil {
		return nil, err
	}

	secret, err := envelope.Open(kp, verificationKey, s.identity)
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(secret)

	key, err := crypto.DeriveContentKey(secret, scope)
	if err != nil {
		return nil, err
	}

	if err := s.keys.Set(ctx, scope.CacheKey(), key); err != nil {
		// The key is still usable for this call; the next one pays another
		// round trip.
		s.logger.WithError(err).WithField("scope", scope.String()).Warn("key cache write failed")
	}
	return key, nil
}

func (s *Session) observeCipher(operation string, scope crypto.Scope, err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = string(crypto.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	if s.metrics != nil {
		s.metrics.RecordCipherOperation(operation, outcome, duration)
	}
	eventType := audit.EventTypeEncrypt
	if operation == "decrypt" {
		eventType = audit.EventTypeDecrypt
	}
	s.auditEvent(&audit.Event{
		Timestamp: time.Now(),
		EventType: eventType,
		ScopeKind: string(scope.Kind),
		Identity:  string(s.identity),
		RecordID:  scope.RecordID,
		Owner:     string(scope.Owner),
		Success:   err == nil,
		Duration:  duration,
	}, err)
}

func (s *Session) auditEvent(event *audit.Event, cause error) {
	if s.audit == nil {
		return
	}
	if cause != nil {
		event.ErrorKind = string(crypto.KindOf(cause))
		event.Error = cause.Error()
	}
	if err := s.audit.Log(event); err != nil {
		s.logger.WithError(err).Warn("audit log failed")
	}
}
