// Package verifier validates client and user credentials on behalf of the
// authorization-server runtime. Client secret comparison is constant-time;
// user password verification is delegated entirely to the identity provider.
package verifier

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"github.com/enovation/moodle-local-oauth2/identity"
	"github.com/enovation/moodle-local-oauth2/storage"
)

// Verifier checks client and user credentials.
type Verifier struct {
	clients  storage.ClientStore
	provider identity.Provider
	logger   *slog.Logger
}

// New creates a credential verifier over the given client store and
// identity provider.
func New(clients storage.ClientStore, provider identity.Provider) *Verifier {
	return &Verifier{
		clients:  clients,
		provider: provider,
		logger:   slog.Default(),
	}
}

// SetLogger sets a custom logger
func (v *Verifier) SetLogger(logger *slog.Logger) {
	if logger != nil {
		v.logger = logger
	}
}

// CheckClientCredentials reports whether the given secret matches the
// client's stored secret. A client with no stored secret (a public client)
// matches only an empty given secret. A missing client is treated as having
// no stored secret.
func (v *Verifier) CheckClientCredentials(ctx context.Context, clientID, clientSecret string) (bool, error) {
	stored := ""
	client, err := v.clients.GetClient(ctx, clientID)
	switch {
	case err == nil:
		stored = client.ClientSecret
	case errors.Is(err, storage.ErrNotFound):
		// fall through with an empty stored secret
	default:
		return false, fmt.Errorf("loading client %q: %w", clientID, err)
	}

	if stored == "" && clientSecret == "" {
		return true, nil
	}

	ok := subtle.ConstantTimeCompare([]byte(stored), []byte(clientSecret)) == 1
	if !ok {
		v.logger.Debug("Client credential check failed", "client_id", clientID)
	}
	return ok, nil
}

// IsPublicClient reports whether the client exists and has no stored
// secret. A missing client reports false.
func (v *Verifier) IsPublicClient(ctx context.Context, clientID string) (bool, error) {
	client, err := v.clients.GetClient(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading client %q: %w", clientID, err)
	}
	return client.IsPublic(), nil
}

// CheckRestrictedGrantType reports whether the client may use the grant
// type. No per-client restriction is enforced; this is an extension point
// for future policy and always permits.
func (v *Verifier) CheckRestrictedGrantType(_ context.Context, _, _ string) (bool, error) {
	return true, nil
}

// CheckUserCredentials reports whether the username and password identify a
// valid user. A missing user reports false, not an error.
func (v *Verifier) CheckUserCredentials(ctx context.Context, username, password string) (bool, error) {
	user, err := v.provider.UserByUsername(ctx, username)
	if errors.Is(err, identity.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("looking up user %q: %w", username, err)
	}

	ok, err := v.provider.VerifyPassword(ctx, user, password)
	if err != nil {
		return false, fmt.Errorf("verifying password for %q: %w", username, err)
	}
	if !ok {
		v.logger.Debug("User credential check failed", "username", username)
	}
	return ok, nil
}
