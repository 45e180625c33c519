package storage

import "time"

// DefaultEncryptionAlgorithm is the signing algorithm assumed when neither a
// client-specific nor a default key row declares one.
const DefaultEncryptionAlgorithm = "RS256"

// Client is a registered OAuth client. ClientID is the natural key and is
// immutable after creation; an empty ClientSecret marks a public client.
type Client struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scope        string // space-delimited scope set, empty when unset
	RequirePKCE  bool
}

// IsPublic reports whether the client is a public client (no secret).
func (c *Client) IsPublic() bool {
	return c.ClientSecret == ""
}

// AccessToken is an issued access token, keyed by its opaque token value.
type AccessToken struct {
	Token    string
	ClientID string
	UserID   int64
	Expires  int64 // unix timestamp
	Scope    string
}

// Expired reports whether the token's expiry has passed at the given time.
// The store never purges expired rows; callers must check this themselves.
func (t *AccessToken) Expired(at time.Time) bool {
	return t.Expires < at.Unix()
}

// AuthorizationCode is an issued authorization code. The OIDC IDToken and the
// PKCE fields are optional; a single record type carries all variants of the
// save operation.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	UserID              int64
	RedirectURI         string
	Expires             int64 // unix timestamp
	Scope               string
	IDToken             string
	CodeChallenge       string
	CodeChallengeMethod string // "plain" or "S256"
}

// Expired reports whether the code's expiry has passed at the given time.
func (c *AuthorizationCode) Expired(at time.Time) bool {
	return c.Expires < at.Unix()
}

// RefreshToken is an issued refresh token. Rows are insert-only: a refresh
// token value is never reused, and rotation deletes the old row.
type RefreshToken struct {
	Token    string
	ClientID string
	UserID   int64
	Expires  int64 // unix timestamp
	Scope    string
}

// Expired reports whether the token's expiry has passed at the given time.
func (t *RefreshToken) Expired(at time.Time) bool {
	return t.Expires < at.Unix()
}

// Scope is a single named scope. Scopes flagged as default make up the
// default scope set applied when a client requests none.
type Scope struct {
	Scope     string
	IsDefault bool
}

// SigningKey is an RSA key pair used to sign OpenID Connect ID tokens.
// An empty ClientID marks the default key shared by all clients.
type SigningKey struct {
	ClientID            string
	PublicKey           string // PEM
	PrivateKey          string // PEM
	EncryptionAlgorithm string
}

// ClientKey is a public key registered for the JWT bearer grant, keyed by
// client and subject.
type ClientKey struct {
	ClientID  string
	Subject   string
	PublicKey string // PEM
}
