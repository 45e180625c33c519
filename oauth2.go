package oauth2

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/enovation/moodle-local-oauth2/claims"
	"github.com/enovation/moodle-local-oauth2/identity"
	"github.com/enovation/moodle-local-oauth2/instrumentation"
	"github.com/enovation/moodle-local-oauth2/storage"
	"github.com/enovation/moodle-local-oauth2/verifier"
)

// Config holds the engine configuration
type Config struct {
	// Store is the persistence backend for clients, tokens, codes,
	// scopes and keys (required)
	Store storage.Store

	// Identity resolves and verifies resource-owner users (required)
	Identity identity.Provider

	// SiteURL is the public base URL of the site, used to build profile
	// and picture claim URLs (required)
	SiteURL string

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// Instrumentation enables OpenTelemetry tracing and metrics (optional).
	// The storage backend carries its own instrumentation; this one covers
	// the claims mapper.
	Instrumentation *instrumentation.Instrumentation
}

// Engine is the complete storage contract a token-issuing frontend works
// against. It delegates persistence to the configured backend, credential
// checks to the verifier and UserInfo claims to the claims mapper.
type Engine struct {
	store    storage.Store
	identity identity.Provider
	verifier *verifier.Verifier
	claims   *claims.Mapper
	logger   *slog.Logger
}

// New creates an Engine from the configuration.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Identity == nil {
		return nil, fmt.Errorf("identity provider is required")
	}
	if cfg.SiteURL == "" {
		return nil, fmt.Errorf("site URL is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	v := verifier.New(cfg.Store, cfg.Identity)
	v.SetLogger(cfg.Logger)
	m := claims.NewMapper(cfg.Identity, cfg.SiteURL)
	m.SetLogger(cfg.Logger)
	if cfg.Instrumentation != nil {
		m.SetInstrumentation(cfg.Instrumentation)
	}

	return &Engine{
		store:    cfg.Store,
		identity: cfg.Identity,
		verifier: v,
		claims:   m,
		logger:   cfg.Logger,
	}, nil
}

// CheckClientCredentials reports whether the presented secret matches the
// client's registered secret. A missing client is compared against an
// empty secret rather than reported as an error.
func (e *Engine) CheckClientCredentials(ctx context.Context, clientID, clientSecret string) (bool, error) {
	return e.verifier.CheckClientCredentials(ctx, clientID, clientSecret)
}

// IsPublicClient reports whether the client has no registered secret
func (e *Engine) IsPublicClient(ctx context.Context, clientID string) (bool, error) {
	return e.verifier.IsPublicClient(ctx, clientID)
}

// CheckRestrictedGrantType reports whether the client may use the grant
// type. No per-client grant restrictions are stored, so every grant type
// is permitted for every client.
func (e *Engine) CheckRestrictedGrantType(ctx context.Context, clientID, grantType string) (bool, error) {
	return e.verifier.CheckRestrictedGrantType(ctx, clientID, grantType)
}

// GetClientDetails retrieves a client registration
func (e *Engine) GetClientDetails(ctx context.Context, clientID string) (*storage.Client, error) {
	return e.store.GetClient(ctx, clientID)
}

// SetClientDetails creates or updates a client registration
func (e *Engine) SetClientDetails(ctx context.Context, client *storage.Client) error {
	return e.store.SaveClient(ctx, client)
}

// GetClientScope returns the scope restriction registered for the client,
// or an empty string when the client has none. The client itself must
// exist; a missing client is storage.ErrNotFound.
func (e *Engine) GetClientScope(ctx context.Context, clientID string) (string, error) {
	client, err := e.store.GetClient(ctx, clientID)
	if err != nil {
		return "", err
	}
	return client.Scope, nil
}

// GetAccessToken retrieves an access token record. Expired tokens are
// returned unchanged; the caller checks Expires.
func (e *Engine) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	return e.store.GetAccessToken(ctx, token)
}

// SetAccessToken creates or updates an access token record
func (e *Engine) SetAccessToken(ctx context.Context, token *storage.AccessToken) error {
	return e.store.SaveAccessToken(ctx, token)
}

// GetAuthorizationCode retrieves an authorization code record
func (e *Engine) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	return e.store.GetAuthorizationCode(ctx, code)
}

// SetAuthorizationCode creates or updates an authorization code record
func (e *Engine) SetAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	return e.store.SaveAuthorizationCode(ctx, code)
}

// ExpireAuthorizationCode deletes a redeemed code so it can never be
// exchanged twice
func (e *Engine) ExpireAuthorizationCode(ctx context.Context, code string) error {
	return e.store.ExpireAuthorizationCode(ctx, code)
}

// GetRefreshToken retrieves a refresh token record
func (e *Engine) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	return e.store.GetRefreshToken(ctx, token)
}

// SetRefreshToken inserts a refresh token record. Duplicate token values
// are storage.ErrConflict.
func (e *Engine) SetRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	return e.store.SaveRefreshToken(ctx, token)
}

// UnsetRefreshToken deletes a rotated refresh token. Failure, including
// storage.ErrNotFound, must abort the rotation.
func (e *Engine) UnsetRefreshToken(ctx context.Context, token string) error {
	return e.store.UnsetRefreshToken(ctx, token)
}

// CheckUserCredentials verifies a resource owner's password. Unknown
// users report false without error.
func (e *Engine) CheckUserCredentials(ctx context.Context, username, password string) (bool, error) {
	return e.verifier.CheckUserCredentials(ctx, username, password)
}

// GetUserDetails retrieves a user's profile by username
func (e *Engine) GetUserDetails(ctx context.Context, username string) (*identity.User, error) {
	return e.identity.UserByUsername(ctx, username)
}

// GetUserClaims resolves the OpenID Connect UserInfo claims the granted
// scopes entitle the caller to. An unknown user yields an empty claim set.
func (e *Engine) GetUserClaims(ctx context.Context, userID int64, scope string) (map[string]any, error) {
	return e.claims.UserClaims(ctx, userID, scope)
}

// ScopeExists reports whether every scope in the space-delimited list is
// registered
func (e *Engine) ScopeExists(ctx context.Context, scope string) (bool, error) {
	return e.store.ScopeExists(ctx, scope)
}

// GetDefaultScope returns the space-joined default scope set
func (e *Engine) GetDefaultScope(ctx context.Context) (string, error) {
	return e.store.DefaultScope(ctx)
}

// GetPublicKey returns the PEM public key used to verify tokens issued to
// the client, falling back to the site default key
func (e *Engine) GetPublicKey(ctx context.Context, clientID string) (string, error) {
	return e.store.PublicKey(ctx, clientID)
}

// GetPrivateKey returns the PEM private key used to sign tokens for the
// client, falling back to the site default key
func (e *Engine) GetPrivateKey(ctx context.Context, clientID string) (string, error) {
	return e.store.PrivateKey(ctx, clientID)
}

// GetEncryptionAlgorithm returns the signing algorithm for the client's
// tokens, RS256 when no key row specifies one
func (e *Engine) GetEncryptionAlgorithm(ctx context.Context, clientID string) (string, error) {
	return e.store.EncryptionAlgorithm(ctx, clientID)
}

// GetClientKey returns the JWT bearer public key registered for the
// client and subject
func (e *Engine) GetClientKey(ctx context.Context, clientID, subject string) (string, error) {
	return e.store.ClientKey(ctx, clientID, subject)
}

// GetJTI fails with storage.ErrNotImplemented: replay protection is not
// provided and JWT bearer flows relying on jti tracking must not proceed.
func (e *Engine) GetJTI(ctx context.Context, clientID, subject, audience string, expires int64, jti string) error {
	return e.store.GetJTI(ctx, clientID, subject, audience, expires, jti)
}

// SetJTI fails with storage.ErrNotImplemented, see GetJTI.
func (e *Engine) SetJTI(ctx context.Context, clientID, subject, audience string, expires int64, jti string) error {
	return e.store.SetJTI(ctx, clientID, subject, audience, expires, jti)
}

// IsExpired reports whether a token or code deadline has passed according
// to the given Unix timestamp.
func IsExpired(expires, now int64) bool {
	return expires < now
}
