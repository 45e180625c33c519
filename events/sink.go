package events

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
)

// AuditSink writes events to a structured logger with the token value
// hashed, so audit trails never contain usable credentials.
type AuditSink struct {
	logger *slog.Logger
}

var _ Sink = (*AuditSink)(nil)

// NewAuditSink creates a sink logging to the given logger. A nil logger
// falls back to slog.Default().
func NewAuditSink(logger *slog.Logger) *AuditSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditSink{logger: logger}
}

// Publish implements Sink.
func (s *AuditSink) Publish(ctx context.Context, event AccessTokenEvent) {
	s.logger.InfoContext(ctx, "oauth_event",
		"event_id", event.ID,
		"event_type", event.Type,
		"user_id", event.UserID,
		"client_id", event.ClientID,
		"scope", event.Scope,
		"token_hash", hashForLogging(event.Token),
		"expires", event.Expires,
		"timestamp", event.Timestamp,
	)
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}

// MemorySink records events for inspection. Intended for unit tests that
// assert on the engine's event emission.
type MemorySink struct {
	mu     sync.Mutex
	events []AccessTokenEvent
}

var _ Sink = (*MemorySink)(nil)

// NewMemorySink creates an empty recording sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Publish implements Sink.
func (s *MemorySink) Publish(_ context.Context, event AccessTokenEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a copy of all recorded events in publication order.
func (s *MemorySink) Events() []AccessTokenEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AccessTokenEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Reset discards recorded events.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
