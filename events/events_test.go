package events

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewAccessTokenEvents(t *testing.T) {
	created := NewAccessTokenCreated(42, "client", "openid", "at-1", 1700000000)
	if created.Type != TypeAccessTokenCreated {
		t.Errorf("Type = %q, want %q", created.Type, TypeAccessTokenCreated)
	}
	if created.ID == "" {
		t.Error("ID should be populated")
	}
	if created.Timestamp.IsZero() {
		t.Error("Timestamp should be populated")
	}

	updated := NewAccessTokenUpdated(42, "client", "openid", "at-1", 1700000000)
	if updated.Type != TypeAccessTokenUpdated {
		t.Errorf("Type = %q, want %q", updated.Type, TypeAccessTokenUpdated)
	}
	if updated.ID == created.ID {
		t.Error("each event should get its own ID")
	}
}

func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	sink.Publish(ctx, NewAccessTokenCreated(1, "c", "openid", "t1", 0))
	sink.Publish(ctx, NewAccessTokenUpdated(1, "c", "openid", "t1", 0))

	got := sink.Events()
	if len(got) != 2 {
		t.Fatalf("Events() = %d entries, want 2", len(got))
	}
	if got[0].Type != TypeAccessTokenCreated || got[1].Type != TypeAccessTokenUpdated {
		t.Errorf("event order = %q, %q", got[0].Type, got[1].Type)
	}

	sink.Reset()
	if len(sink.Events()) != 0 {
		t.Error("Reset() should discard recorded events")
	}
}

func TestAuditSink_HashesToken(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	sink := NewAuditSink(logger)

	sink.Publish(context.Background(), NewAccessTokenCreated(42, "client", "openid", "super-secret-token", 1700000000))

	out := buf.String()
	if strings.Contains(out, "super-secret-token") {
		t.Error("audit log must not contain the raw token value")
	}
	if !strings.Contains(out, "token_hash=") {
		t.Error("audit log should carry the hashed token")
	}
	if !strings.Contains(out, "event_type="+TypeAccessTokenCreated) {
		t.Errorf("audit log missing event type, got: %s", out)
	}
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q, want <empty>", got)
	}

	a := hashForLogging("token-a")
	b := hashForLogging("token-b")
	if a == b {
		t.Error("distinct inputs should hash differently")
	}
	if len(a) != 16 {
		t.Errorf("hash length = %d, want 16", len(a))
	}
}
