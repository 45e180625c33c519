package sqldb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enovation/moodle-local-oauth2/events"
	"github.com/enovation/moodle-local-oauth2/storage"
)

// newTestStore opens a migrated SQLite store in a temp directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(Config{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "oauth2.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Migrate())
	return store
}

func TestOpen_Validation(t *testing.T) {
	_, err := Open(Config{Driver: "mysql", DSN: "whatever"})
	assert.Error(t, err)

	_, err = Open(Config{Driver: DriverSQLite})
	assert.Error(t, err)
}

func TestMigrate_Idempotent(t *testing.T) {
	store := newTestStore(t)

	// A second run finds no pending migrations and succeeds.
	require.NoError(t, store.Migrate())
}

func TestStore_ClientRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	client := &storage.Client{
		ClientID:     "moodle-client",
		ClientSecret: "s3cret",
		RedirectURI:  "https://app.example.org/callback",
		Scope:        "openid profile",
		RequirePKCE:  true,
	}
	require.NoError(t, store.SaveClient(ctx, client))

	got, err := store.GetClient(ctx, "moodle-client")
	require.NoError(t, err)
	assert.Equal(t, client.ClientSecret, got.ClientSecret)
	assert.Equal(t, client.RedirectURI, got.RedirectURI)
	assert.Equal(t, client.Scope, got.Scope)
	assert.True(t, got.RequirePKCE)

	// Upsert: same client_id replaces the row.
	client.RedirectURI = "https://other.example.org/callback"
	client.RequirePKCE = false
	require.NoError(t, store.SaveClient(ctx, client))

	got, err = store.GetClient(ctx, "moodle-client")
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.org/callback", got.RedirectURI)
	assert.False(t, got.RequirePKCE)
}

func TestStore_GetClient_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetClient(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_PublicClient_NullSecret(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveClient(ctx, &storage.Client{
		ClientID:    "public-client",
		RedirectURI: "https://app.example.org/callback",
	}))

	got, err := store.GetClient(ctx, "public-client")
	require.NoError(t, err)
	assert.Empty(t, got.ClientSecret)
	assert.True(t, got.IsPublic())
}

func TestStore_AccessToken_UpsertAndEvents(t *testing.T) {
	store := newTestStore(t)
	sink := events.NewMemorySink()
	store.SetSink(sink)
	ctx := context.Background()

	token := &storage.AccessToken{
		Token:    "at-1",
		ClientID: "moodle-client",
		UserID:   42,
		Expires:  time.Now().Add(time.Hour).Unix(),
		Scope:    "openid",
	}
	require.NoError(t, store.SaveAccessToken(ctx, token))

	token.Scope = "openid profile"
	require.NoError(t, store.SaveAccessToken(ctx, token))

	got, err := store.GetAccessToken(ctx, "at-1")
	require.NoError(t, err)
	assert.Equal(t, "openid profile", got.Scope)
	assert.Equal(t, int64(42), got.UserID)

	published := sink.Events()
	require.Len(t, published, 2)
	assert.Equal(t, events.TypeAccessTokenCreated, published[0].Type)
	assert.Equal(t, events.TypeAccessTokenUpdated, published[1].Type)
}

func TestStore_AccessToken_ExpiredStillReturned(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveAccessToken(ctx, &storage.AccessToken{
		Token:    "at-old",
		ClientID: "moodle-client",
		UserID:   42,
		Expires:  time.Now().Add(-time.Hour).Unix(),
	}))

	got, err := store.GetAccessToken(ctx, "at-old")
	require.NoError(t, err)
	assert.True(t, got.Expired(time.Now()))
}

func TestStore_AuthorizationCode_Lifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	code := &storage.AuthorizationCode{
		Code:                "code-1",
		ClientID:            "moodle-client",
		UserID:              42,
		RedirectURI:         "https://app.example.org/callback",
		Expires:             time.Now().Add(10 * time.Minute).Unix(),
		Scope:               "openid",
		IDToken:             "header.payload.sig",
		CodeChallenge:       "challenge",
		CodeChallengeMethod: "S256",
	}
	require.NoError(t, store.SaveAuthorizationCode(ctx, code))

	got, err := store.GetAuthorizationCode(ctx, "code-1")
	require.NoError(t, err)
	assert.Equal(t, code.IDToken, got.IDToken)
	assert.Equal(t, "S256", got.CodeChallengeMethod)

	require.NoError(t, store.ExpireAuthorizationCode(ctx, "code-1"))

	_, err = store.GetAuthorizationCode(ctx, "code-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Expiring again stays idempotent.
	require.NoError(t, store.ExpireAuthorizationCode(ctx, "code-1"))
}

func TestStore_RefreshToken_ConflictAndUnset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	token := &storage.RefreshToken{
		Token:    "rt-1",
		ClientID: "moodle-client",
		UserID:   42,
		Expires:  time.Now().Add(24 * time.Hour).Unix(),
	}
	require.NoError(t, store.SaveRefreshToken(ctx, token))

	err := store.SaveRefreshToken(ctx, token)
	assert.ErrorIs(t, err, storage.ErrConflict)

	require.NoError(t, store.UnsetRefreshToken(ctx, "rt-1"))

	err = store.UnsetRefreshToken(ctx, "rt-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_Scopes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, sc := range []storage.Scope{
		{Scope: "openid", IsDefault: true},
		{Scope: "email", IsDefault: true},
		{Scope: "profile"},
	} {
		scope := sc
		require.NoError(t, store.SaveScope(ctx, &scope))
	}

	ok, err := store.ScopeExists(ctx, "openid profile")
	require.NoError(t, err)
	assert.True(t, ok)

	// Repeated scope names count once.
	ok, err = store.ScopeExists(ctx, "openid openid")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ScopeExists(ctx, "openid payments")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.ScopeExists(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)

	defaults, err := store.DefaultScope(ctx)
	require.NoError(t, err)
	assert.Equal(t, "email openid", defaults)

	// Flipping is_default off removes the scope from the default set.
	require.NoError(t, store.SaveScope(ctx, &storage.Scope{Scope: "email"}))
	defaults, err = store.DefaultScope(ctx)
	require.NoError(t, err)
	assert.Equal(t, "openid", defaults)
}

func TestStore_SigningKeys_Fallback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSigningKey(ctx, &storage.SigningKey{
		ClientID:            "",
		PublicKey:           "default-public",
		PrivateKey:          "default-private",
		EncryptionAlgorithm: "RS256",
	}))

	pub, err := store.PublicKey(ctx, "moodle-client")
	require.NoError(t, err)
	assert.Equal(t, "default-public", pub)

	require.NoError(t, store.SaveSigningKey(ctx, &storage.SigningKey{
		ClientID:            "moodle-client",
		PublicKey:           "client-public",
		PrivateKey:          "client-private",
		EncryptionAlgorithm: "RS512",
	}))

	pub, err = store.PublicKey(ctx, "moodle-client")
	require.NoError(t, err)
	assert.Equal(t, "client-public", pub)

	priv, err := store.PrivateKey(ctx, "moodle-client")
	require.NoError(t, err)
	assert.Equal(t, "client-private", priv)

	algo, err := store.EncryptionAlgorithm(ctx, "moodle-client")
	require.NoError(t, err)
	assert.Equal(t, "RS512", algo)

	// No fallback on the exact-row lookup.
	_, err = store.GetSigningKey(ctx, "other-client")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_SigningKeys_FieldLevelFallback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSigningKey(ctx, &storage.SigningKey{
		ClientID:            "",
		PublicKey:           "default-public",
		PrivateKey:          "default-private",
		EncryptionAlgorithm: "ES256",
	}))
	require.NoError(t, store.SaveSigningKey(ctx, &storage.SigningKey{
		ClientID:   "moodle-client",
		PublicKey:  "client-public",
		PrivateKey: "client-private",
	}))

	// The client row exists but declares no algorithm, so the default
	// row's algorithm applies rather than the built-in default.
	algo, err := store.EncryptionAlgorithm(ctx, "moodle-client")
	require.NoError(t, err)
	assert.Equal(t, "ES256", algo)

	// Fields present on the client row still win.
	pub, err := store.PublicKey(ctx, "moodle-client")
	require.NoError(t, err)
	assert.Equal(t, "client-public", pub)

	// An empty client-row field falls through to the default row.
	require.NoError(t, store.SaveSigningKey(ctx, &storage.SigningKey{
		ClientID:   "partial-client",
		PrivateKey: "partial-private",
	}))
	pub, err = store.PublicKey(ctx, "partial-client")
	require.NoError(t, err)
	assert.Equal(t, "default-public", pub)
	priv, err := store.PrivateKey(ctx, "partial-client")
	require.NoError(t, err)
	assert.Equal(t, "partial-private", priv)
}

func TestStore_EncryptionAlgorithm_DefaultWithoutKeys(t *testing.T) {
	store := newTestStore(t)

	algo, err := store.EncryptionAlgorithm(context.Background(), "moodle-client")
	require.NoError(t, err)
	assert.Equal(t, storage.DefaultEncryptionAlgorithm, algo)
}

func TestStore_ClientKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveClientKey(ctx, &storage.ClientKey{
		ClientID:  "moodle-client",
		Subject:   "service-account",
		PublicKey: "jwt-public",
	}))

	got, err := store.ClientKey(ctx, "moodle-client", "service-account")
	require.NoError(t, err)
	assert.Equal(t, "jwt-public", got)

	// Upsert by (client_id, subject).
	require.NoError(t, store.SaveClientKey(ctx, &storage.ClientKey{
		ClientID:  "moodle-client",
		Subject:   "service-account",
		PublicKey: "jwt-public-v2",
	}))

	got, err = store.ClientKey(ctx, "moodle-client", "service-account")
	require.NoError(t, err)
	assert.Equal(t, "jwt-public-v2", got)

	_, err = store.ClientKey(ctx, "moodle-client", "other")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_JTI_NotImplemented(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.GetJTI(ctx, "c", "s", "a", time.Now().Unix(), "jti")
	assert.ErrorIs(t, err, storage.ErrNotImplemented)

	err = store.SetJTI(ctx, "c", "s", "a", time.Now().Unix(), "jti")
	assert.ErrorIs(t, err, storage.ErrNotImplemented)
}

func TestRebind(t *testing.T) {
	sqlite := &Store{driver: DriverSQLite}
	postgres := &Store{driver: DriverPostgres}

	q := "SELECT a FROM t WHERE b = ? AND c = ?"
	assert.Equal(t, q, sqlite.rebind(q))
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", postgres.rebind(q))
}
