// Package audit records security-relevant operations of the record
// protector: cipher operations, key acquisitions, and cache invalidations.
// Events carry scope context but never key material or plaintext.
package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/ryanuber/go-glob"
)

// EventType represents the type of audit event.
type EventType string

const (
	// EventTypeEncrypt represents a content encryption.
	EventTypeEncrypt EventType = "encrypt"
	// EventTypeDecrypt represents a content decryption.
	EventTypeDecrypt EventType = "decrypt"
	// EventTypeKeyAcquisition represents a key acquisition round trip.
	EventTypeKeyAcquisition EventType = "key_acquisition"
	// EventTypeCacheClear represents a key cache invalidation.
	EventTypeCacheClear EventType = "cache_clear"
)

// Event is a single audit log entry.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	ScopeKind string                 `json:"scope_kind,omitempty"`
	Identity  string                 `json:"identity,omitempty"`
	RecordID  string                 `json:"record_id,omitempty"`
	Owner     string                 `json:"owner,omitempty"`
	Success   bool                   `json:"success"`
	ErrorKind string                 `json:"error_kind,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Duration  time.Duration          `json:"duration_ms"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Logger is the interface for audit logging.
type Logger interface {
	// Log records an audit event.
	Log(event *Event) error

	// Events returns the retained in-memory events, newest last.
	Events() []*Event

	// Close closes the logger and its underlying writer.
	Close() error
}

// EventWriter is the sink interface events are flushed to.
type EventWriter interface {
	WriteEvent(event *Event) error
}

type auditLogger struct {
	mu             sync.Mutex
	events         []*Event
	maxEvents      int
	writer         EventWriter
	redactPatterns []string
}

// NewLogger creates an audit logger retaining up to maxEvents in memory and
// forwarding every event to writer. Metadata keys matching any of the glob
// patterns are redacted before the event leaves the process.
func NewLogger(maxEvents int, writer EventWriter, redactPatterns []string) Logger {
	if writer == nil {
		writer = &StdoutSink{}
	}
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	return &auditLogger{
		events:         make([]*Event, 0, maxEvents),
		maxEvents:      maxEvents,
		writer:         writer,
		redactPatterns: redactPatterns,
	}
}

func (l *auditLogger) Log(event *Event) error {
	event.Metadata = l.redactMetadata(event.Metadata)

	// The write happens outside the lock: a slow remote sink must not
	// serialize every caller's audit path behind one flush.
	if err := l.writer.WriteEvent(event); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	if len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}
	return nil
}

func (l *auditLogger) Events() []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := make([]*Event, len(l.events))
	copy(events, l.events)
	return events
}

func (l *auditLogger) Close() error {
	if closer, ok := l.writer.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// redactMetadata replaces values of metadata keys matching any redaction
// pattern.
func (l *auditLogger) redactMetadata(metadata map[string]interface{}) map[string]interface{} {
	if len(l.redactPatterns) == 0 || len(metadata) == 0 {
		return metadata
	}

	clone := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		clone[k] = v
		for _, pattern := range l.redactPatterns {
			if glob.Glob(pattern, k) {
				clone[k] = "[REDACTED]"
				break
			}
		}
	}
	return clone
}
