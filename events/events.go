// Package events models the domain events emitted by the storage engine as
// an injected capability. The engine publishes fire-and-forget: sinks do not
// acknowledge, and a sink must never fail a storage operation.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event type constants. Access token persistence is the engine's only
// event-emitting operation; the upsert's insert and update paths emit
// distinct types.
const (
	// TypeAccessTokenCreated is published when an access token row is
	// inserted for a previously unseen token value.
	TypeAccessTokenCreated = "access_token_created"

	// TypeAccessTokenUpdated is published when an existing access token
	// row is updated in place.
	TypeAccessTokenUpdated = "access_token_updated"
)

// AccessTokenEvent describes an access token that was created or updated.
type AccessTokenEvent struct {
	// ID is a unique identifier for this event instance.
	ID string

	// Type is one of the Type* constants.
	Type string

	// UserID is the owner of the token.
	UserID int64

	// ClientID is the client the token was issued to.
	ClientID string

	// Scope is the token's space-delimited scope set.
	Scope string

	// Token is the opaque access token value. Sinks that log or ship
	// events off-process should hash it rather than expose it verbatim.
	Token string

	// Expires is the token's unix expiry timestamp.
	Expires int64

	// Timestamp is when the event was created.
	Timestamp time.Time
}

// NewAccessTokenCreated builds an access_token_created event.
func NewAccessTokenCreated(userID int64, clientID, scope, token string, expires int64) AccessTokenEvent {
	return newAccessTokenEvent(TypeAccessTokenCreated, userID, clientID, scope, token, expires)
}

// NewAccessTokenUpdated builds an access_token_updated event.
func NewAccessTokenUpdated(userID int64, clientID, scope, token string, expires int64) AccessTokenEvent {
	return newAccessTokenEvent(TypeAccessTokenUpdated, userID, clientID, scope, token, expires)
}

func newAccessTokenEvent(eventType string, userID int64, clientID, scope, token string, expires int64) AccessTokenEvent {
	return AccessTokenEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		UserID:    userID,
		ClientID:  clientID,
		Scope:     scope,
		Token:     token,
		Expires:   expires,
		Timestamp: time.Now(),
	}
}

// Sink receives domain events. Publish must not block on acknowledgment and
// has no error return: delivery failures are the sink's own concern.
type Sink interface {
	Publish(ctx context.Context, event AccessTokenEvent)
}

// NopSink discards all events.
type NopSink struct{}

// Publish implements Sink.
func (NopSink) Publish(context.Context, AccessTokenEvent) {}
