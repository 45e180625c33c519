package storage

import "context"

// ClientStore manages registered OAuth client records.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// GetClient retrieves a client by its client_id.
	// Returns ErrNotFound if no such client exists.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// SaveClient creates or updates a client (upsert by client_id).
	// The client_id itself is never changed by an update.
	SaveClient(ctx context.Context, client *Client) error
}

// AccessTokenStore manages access token records.
//
// SaveAccessToken has upsert semantics and emits a domain event on each
// call: an access_token_created event on the insert path and an
// access_token_updated event on the update path.
type AccessTokenStore interface {
	// GetAccessToken retrieves a token by its opaque value.
	// Returns ErrNotFound if no such token exists. Expiry is not checked
	// here; callers must reject tokens past their Expires timestamp.
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// SaveAccessToken creates or updates a token (upsert by token value).
	SaveAccessToken(ctx context.Context, token *AccessToken) error
}

// AuthorizationCodeStore manages one-time authorization codes.
type AuthorizationCodeStore interface {
	// GetAuthorizationCode retrieves a code by its opaque value.
	// Returns ErrNotFound if the code does not exist (including after it
	// has been expired). Expiry is the caller's responsibility to check.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// SaveAuthorizationCode creates or updates a code (upsert by code
	// value). Optional fields (IDToken, PKCE) are persisted when set.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// ExpireAuthorizationCode deletes a code. Callers must invoke this
	// immediately after a successful code exchange; a code must never be
	// exchangeable twice. Expiring a missing code is not an error.
	ExpireAuthorizationCode(ctx context.Context, code string) error
}

// RefreshTokenStore manages refresh tokens with rotation semantics.
type RefreshTokenStore interface {
	// GetRefreshToken retrieves a token by its opaque value.
	// Returns ErrNotFound if no such token exists.
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// SaveRefreshToken inserts a new token. There is no update path: a
	// refresh token value is never reused across rows. Returns ErrConflict
	// if the token value already exists.
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// UnsetRefreshToken deletes a token after rotation. The old token must
	// become unusable immediately; any failure here, including ErrNotFound
	// for a token that was already rotated away, must be treated as fatal
	// by the caller.
	UnsetRefreshToken(ctx context.Context, token string) error
}

// ScopeStore manages the set of known scopes.
type ScopeStore interface {
	// ScopeExists reports whether every scope name in the space-delimited
	// list exists. An empty list reports false: an empty scope is never
	// considered valid.
	ScopeExists(ctx context.Context, scope string) (bool, error)

	// DefaultScope returns the space-joined set of scopes flagged as
	// default, or an empty string when none are.
	DefaultScope(ctx context.Context) (string, error)

	// SaveScope creates or updates a scope (upsert by name).
	SaveScope(ctx context.Context, scope *Scope) error
}

// KeyStore manages signing keys. The lookup operations resolve a
// client-specific key first and fall back to the default key, the row with
// an empty client_id.
type KeyStore interface {
	// PublicKey returns the PEM public key for the client, falling back to
	// the default key. Returns ErrNotFound when neither exists.
	PublicKey(ctx context.Context, clientID string) (string, error)

	// PrivateKey returns the PEM private key for the client, falling back
	// to the default key. Returns ErrNotFound when neither exists.
	PrivateKey(ctx context.Context, clientID string) (string, error)

	// EncryptionAlgorithm returns the signing algorithm for the client,
	// falling back first to the default key's algorithm and finally to
	// DefaultEncryptionAlgorithm. It never returns ErrNotFound.
	EncryptionAlgorithm(ctx context.Context, clientID string) (string, error)

	// GetSigningKey retrieves the key row for exactly the given client_id,
	// without fallback. Used by install and key rotation tooling.
	GetSigningKey(ctx context.Context, clientID string) (*SigningKey, error)

	// SaveSigningKey creates or updates a key pair (upsert by client_id).
	SaveSigningKey(ctx context.Context, key *SigningKey) error

	// ClientKey returns the JWT bearer public key registered for the
	// client and subject. Returns ErrNotFound when none is registered.
	ClientKey(ctx context.Context, clientID, subject string) (string, error)

	// SaveClientKey registers a JWT bearer public key for a client and
	// subject (upsert by the pair).
	SaveClientKey(ctx context.Context, key *ClientKey) error
}

// JTIStore is the JWT replay-protection contract. It is deliberately
// unimplemented by every backend in this module: both operations return
// ErrNotImplemented so that callers fail loudly instead of running without
// replay protection.
type JTIStore interface {
	GetJTI(ctx context.Context, clientID, subject, audience string, expires int64, jti string) error
	SetJTI(ctx context.Context, clientID, subject, audience string, expires int64, jti string) error
}

// Store is the full capability set a storage backend provides. Backends
// implement every group; consumers should depend on the narrowest interface
// that covers their needs.
type Store interface {
	ClientStore
	AccessTokenStore
	AuthorizationCodeStore
	RefreshTokenStore
	ScopeStore
	KeyStore
	JTIStore
}
