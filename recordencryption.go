// Package recordencryption protects sensitive record payloads on the client
// side. It derives per-identity symmetric keys through a remote threshold
// key-issuance authority, caches them for the session, and encrypts and
// decrypts opaque content blobs with AES-GCM, including a shared-access path
// that lets a granted third party decrypt records it does not own.
//
// A Session is created once per authenticated caller and passed to
// everything that encrypts or decrypts. Invalidate its keys on logout.
package recordencryption

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/record-encryption/internal/audit"
	"github.com/kenneth/record-encryption/internal/authority"
	"github.com/kenneth/record-encryption/internal/cache"
	"github.com/kenneth/record-encryption/internal/config"
	"github.com/kenneth/record-encryption/internal/crypto"
	"github.com/kenneth/record-encryption/internal/metrics"
	"github.com/kenneth/record-encryption/internal/session"
	"github.com/kenneth/record-encryption/internal/store"
)

// Core types re-exported from the implementation packages.
type (
	// Identity is the opaque, stable identifier of a caller or owner.
	Identity = crypto.Identity
	// Scope selects which derived key an operation uses.
	Scope = crypto.Scope
	// ScopeKind is the own/shared discriminator.
	ScopeKind = crypto.ScopeKind
	// ErrorKind classifies every failure the library surfaces.
	ErrorKind = crypto.Kind
	// Session performs encrypt/decrypt for one authenticated identity.
	Session = session.Session
	// SessionConfig assembles a session's collaborators directly, for
	// callers that wire their own authority client, cache, or stores.
	SessionConfig = session.Config
	// AuthorityClient is the remote key-issuance contract.
	AuthorityClient = authority.Client
	// KeyStore is the persistent key-cache abstraction.
	KeyStore = cache.KeyStore
	// RecordStore is the ciphertext blob persistence abstraction.
	RecordStore = store.RecordStore
	// Config is the file-based configuration.
	Config = config.Config
	// Metrics exposes Prometheus instrumentation for a session.
	Metrics = metrics.Metrics
)

// Error kinds callers branch on.
const (
	KindAuthenticationRequired = crypto.KindAuthenticationRequired
	KindEmptyInput             = crypto.KindEmptyInput
	KindInvalidEncoding        = crypto.KindInvalidEncoding
	KindShortCiphertext        = crypto.KindShortCiphertext
	KindDeserializationFailure = crypto.KindDeserializationFailure
	KindKeyRetrievalFailure    = crypto.KindKeyRetrievalFailure
	KindPermissionDenied       = crypto.KindPermissionDenied
	KindDecryptionFailed       = crypto.KindDecryptionFailed
	KindDerivationFailure      = crypto.KindDerivationFailure
)

// OwnScope builds the scope for an identity's own content.
func OwnScope(identity Identity) Scope {
	return crypto.OwnScope(identity)
}

// SharedScope builds the scope for a record owned by another identity.
func SharedScope(recordID string, owner Identity) Scope {
	return crypto.SharedScope(recordID, owner)
}

// IsKind reports whether err is a library error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return crypto.IsKind(err, kind)
}

// NewSession wires a session from explicitly provided collaborators.
func NewSession(cfg SessionConfig) (*Session, error) {
	return session.New(cfg)
}

// NewMemoryKeyStore returns an in-process key cache.
func NewMemoryKeyStore() KeyStore {
	return cache.NewMemoryStore()
}

// NewMemoryRecordStore returns an in-process record blob store.
func NewMemoryRecordStore() RecordStore {
	return store.NewMemoryStore()
}

// NewMetrics creates a metrics instance on its own Prometheus registry.
func NewMetrics() *Metrics {
	return metrics.NewMetrics()
}

// LoadConfig reads configuration from a YAML file with environment
// overrides.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// Open builds a session for an authenticated identity from configuration:
// HTTP authority client, configured cache backend, logger and audit sink.
// The returned RecordStore is the configured blob backend. Close releases
// backend connections and flushes audit events.
func Open(ctx context.Context, cfg *Config, identity Identity, m *Metrics) (*Session, RecordStore, func() error, error) {
	logger := newLogger(cfg.Logging)

	authorityClient, err := authority.NewHTTPClient(authority.HTTPOptions{
		Endpoint: cfg.Authority.Endpoint,
		Identity: identity,
		Timeout:  cfg.Authority.Timeout,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	keys, err := newKeyStore(ctx, cfg.Cache, identity)
	if err != nil {
		return nil, nil, nil, err
	}

	records, err := newRecordStore(ctx, cfg.Store)
	if err != nil {
		return nil, nil, nil, err
	}

	var auditLogger audit.Logger
	if cfg.Audit.Enabled {
		auditLogger = newAuditLogger(cfg.Audit)
	}

	sess, err := session.New(session.Config{
		Identity:  identity,
		Authority: authorityClient,
		Keys:      keys,
		Logger:    logger,
		Metrics:   m,
		Audit:     auditLogger,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	closeFn := func() error {
		var firstErr error
		if auditLogger != nil {
			firstErr = auditLogger.Close()
		}
		if closer, ok := keys.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	return sess, records, closeFn, nil
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func newKeyStore(ctx context.Context, cfg config.CacheConfig, identity Identity) (KeyStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return cache.NewMemoryStore(), nil
	case "redis":
		prefix := cfg.Redis.KeyPrefix
		if prefix == "" {
			prefix = fmt.Sprintf("reckeys:%s:", identity)
		}
		return cache.NewRedisStore(ctx, cache.RedisOptions{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: prefix,
		})
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

func newRecordStore(ctx context.Context, cfg config.StoreConfig) (RecordStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "s3":
		return store.NewS3Store(ctx, store.S3Options{
			Bucket:       cfg.S3.Bucket,
			Prefix:       cfg.S3.Prefix,
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func newAuditLogger(cfg config.AuditConfig) audit.Logger {
	var writer audit.EventWriter
	switch cfg.Sink.Type {
	case "http":
		writer = audit.NewHTTPSink(cfg.Sink.Endpoint, cfg.Sink.Headers)
	case "file":
		writer = audit.NewFileSink(cfg.Sink.FilePath)
	default:
		writer = &audit.StdoutSink{}
	}
	if cfg.Sink.BatchSize > 0 || cfg.Sink.FlushInterval > 0 {
		writer = audit.NewBatchSink(writer, cfg.Sink.BatchSize, cfg.Sink.FlushInterval, cfg.Sink.RetryCount, cfg.Sink.RetryBackoff)
	}
	return audit.NewLogger(cfg.MaxEvents, writer, cfg.RedactMetadataKeys)
}

// WatchConfig reloads path on change. Most deployments only use this for
// log-level changes; sessions are rebuilt on login, not on reload.
func WatchConfig(path string, onChange func(*Config)) (func() error, error) {
	return config.Watch(path, onChange)
}
