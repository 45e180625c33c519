package oauth2

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/enovation/moodle-local-oauth2/identity"
	idmemory "github.com/enovation/moodle-local-oauth2/identity/memory"
	"github.com/enovation/moodle-local-oauth2/install"
	"github.com/enovation/moodle-local-oauth2/storage"
	"github.com/enovation/moodle-local-oauth2/storage/memory"
)

const testSiteURL = "https://moodle.example.org"

func newTestEngine(t *testing.T) (*Engine, *memory.Store, *idmemory.Provider) {
	t.Helper()

	store := memory.New()
	users := idmemory.New()

	engine, err := New(Config{
		Store:    store,
		Identity: users,
		SiteURL:  testSiteURL,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return engine, store, users
}

func TestNew_Validation(t *testing.T) {
	store := memory.New()
	users := idmemory.New()

	if _, err := New(Config{Identity: users, SiteURL: testSiteURL}); err == nil {
		t.Error("New() without store should fail")
	}
	if _, err := New(Config{Store: store, SiteURL: testSiteURL}); err == nil {
		t.Error("New() without identity provider should fail")
	}
	if _, err := New(Config{Store: store, Identity: users}); err == nil {
		t.Error("New() without site URL should fail")
	}
}

func TestEngine_AuthorizationCodeFlow(t *testing.T) {
	engine, store, users := newTestEngine(t)
	ctx := context.Background()

	if err := install.Run(ctx, store, install.Options{}); err != nil {
		t.Fatalf("install.Run() error = %v", err)
	}
	if err := engine.SetClientDetails(ctx, &storage.Client{
		ClientID:     "moodle-client",
		ClientSecret: "s3cret",
		RedirectURI:  "https://app.example.org/callback",
	}); err != nil {
		t.Fatalf("SetClientDetails() error = %v", err)
	}
	user, err := users.Add(identity.User{
		Username:  "jdoe",
		FirstName: "Jane",
		LastName:  "Doe",
		Email:     "jdoe@example.org",
	}, "hunter2")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	// Resource owner authenticates.
	ok, err := engine.CheckUserCredentials(ctx, "jdoe", "hunter2")
	if err != nil || !ok {
		t.Fatalf("CheckUserCredentials() = %v, %v; want true", ok, err)
	}

	// The frontend persists a code bound to the granted scope.
	scope, err := engine.GetDefaultScope(ctx)
	if err != nil {
		t.Fatalf("GetDefaultScope() error = %v", err)
	}
	if scope != "openid" {
		t.Fatalf("GetDefaultScope() = %q, want openid", scope)
	}
	code := &storage.AuthorizationCode{
		Code:        "code-1",
		ClientID:    "moodle-client",
		UserID:      user.ID,
		RedirectURI: "https://app.example.org/callback",
		Expires:     time.Now().Add(10 * time.Minute).Unix(),
		Scope:       scope,
	}
	if err := engine.SetAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SetAuthorizationCode() error = %v", err)
	}

	// The client exchanges the code.
	ok, err = engine.CheckClientCredentials(ctx, "moodle-client", "s3cret")
	if err != nil || !ok {
		t.Fatalf("CheckClientCredentials() = %v, %v; want true", ok, err)
	}
	got, err := engine.GetAuthorizationCode(ctx, "code-1")
	if err != nil {
		t.Fatalf("GetAuthorizationCode() error = %v", err)
	}
	if got.UserID != user.ID {
		t.Errorf("code UserID = %d, want %d", got.UserID, user.ID)
	}

	if err := engine.SetAccessToken(ctx, &storage.AccessToken{
		Token:    "at-1",
		ClientID: "moodle-client",
		UserID:   user.ID,
		Expires:  time.Now().Add(time.Hour).Unix(),
		Scope:    got.Scope,
	}); err != nil {
		t.Fatalf("SetAccessToken() error = %v", err)
	}
	if err := engine.ExpireAuthorizationCode(ctx, "code-1"); err != nil {
		t.Fatalf("ExpireAuthorizationCode() error = %v", err)
	}

	// The redeemed code is gone for good.
	if _, err := engine.GetAuthorizationCode(ctx, "code-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetAuthorizationCode() after expire error = %v, want ErrNotFound", err)
	}
}

func TestEngine_RefreshTokenRotation(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	old := &storage.RefreshToken{
		Token:    "rt-old",
		ClientID: "moodle-client",
		UserID:   7,
		Expires:  time.Now().Add(24 * time.Hour).Unix(),
	}
	if err := engine.SetRefreshToken(ctx, old); err != nil {
		t.Fatalf("SetRefreshToken() error = %v", err)
	}

	replacement := &storage.RefreshToken{
		Token:    "rt-new",
		ClientID: "moodle-client",
		UserID:   7,
		Expires:  time.Now().Add(24 * time.Hour).Unix(),
	}
	if err := engine.SetRefreshToken(ctx, replacement); err != nil {
		t.Fatalf("SetRefreshToken() replacement error = %v", err)
	}
	if err := engine.UnsetRefreshToken(ctx, "rt-old"); err != nil {
		t.Fatalf("UnsetRefreshToken() error = %v", err)
	}

	// Unsetting again is fatal for the rotation.
	if err := engine.UnsetRefreshToken(ctx, "rt-old"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UnsetRefreshToken() repeat error = %v, want ErrNotFound", err)
	}
}

func TestEngine_GetClientScope(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	if err := engine.SetClientDetails(ctx, &storage.Client{
		ClientID:    "restricted",
		RedirectURI: "https://x",
		Scope:       "openid email",
	}); err != nil {
		t.Fatalf("SetClientDetails() error = %v", err)
	}
	if err := engine.SetClientDetails(ctx, &storage.Client{
		ClientID:    "unrestricted",
		RedirectURI: "https://x",
	}); err != nil {
		t.Fatalf("SetClientDetails() error = %v", err)
	}

	scope, err := engine.GetClientScope(ctx, "restricted")
	if err != nil {
		t.Fatalf("GetClientScope() error = %v", err)
	}
	if scope != "openid email" {
		t.Errorf("GetClientScope() = %q, want %q", scope, "openid email")
	}

	scope, err = engine.GetClientScope(ctx, "unrestricted")
	if err != nil {
		t.Fatalf("GetClientScope() error = %v", err)
	}
	if scope != "" {
		t.Errorf("GetClientScope() = %q, want empty for unrestricted client", scope)
	}

	if _, err := engine.GetClientScope(ctx, "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetClientScope() for missing client error = %v, want ErrNotFound", err)
	}
}

func TestEngine_GetUserClaims(t *testing.T) {
	engine, _, users := newTestEngine(t)
	ctx := context.Background()

	user, err := users.Add(identity.User{
		Username:  "jdoe",
		FirstName: "Jane",
		LastName:  "Doe",
		Email:     "jdoe@example.org",
		EmailStop: 0,
	}, "hunter2")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	claims, err := engine.GetUserClaims(ctx, user.ID, "profile email")
	if err != nil {
		t.Fatalf("GetUserClaims() error = %v", err)
	}

	if got := claims["name"]; got != "Jane Doe" {
		t.Errorf("name = %v, want %q", got, "Jane Doe")
	}
	if got := claims["preferred_username"]; got != "jdoe" {
		t.Errorf("preferred_username = %v, want %q", got, "jdoe")
	}
	if got := claims["email"]; got != "jdoe@example.org" {
		t.Errorf("email = %v, want %q", got, "jdoe@example.org")
	}
	if got := claims["email_verified"]; got != true {
		t.Errorf("email_verified = %v, want true", got)
	}
	for _, absent := range []string{"gender", "birthdate", "phone_number"} {
		if _, ok := claims[absent]; ok {
			t.Errorf("claim %q should be absent", absent)
		}
	}
}

func TestEngine_Keys(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	if err := install.Run(ctx, store, install.Options{}); err != nil {
		t.Fatalf("install.Run() error = %v", err)
	}

	pub, err := engine.GetPublicKey(ctx, "any-client")
	if err != nil {
		t.Fatalf("GetPublicKey() error = %v", err)
	}
	if pub == "" {
		t.Error("GetPublicKey() should fall back to the default key")
	}

	priv, err := engine.GetPrivateKey(ctx, "any-client")
	if err != nil {
		t.Fatalf("GetPrivateKey() error = %v", err)
	}
	if priv == "" {
		t.Error("GetPrivateKey() should fall back to the default key")
	}

	algo, err := engine.GetEncryptionAlgorithm(ctx, "any-client")
	if err != nil {
		t.Fatalf("GetEncryptionAlgorithm() error = %v", err)
	}
	if algo != storage.DefaultEncryptionAlgorithm {
		t.Errorf("GetEncryptionAlgorithm() = %q, want %q", algo, storage.DefaultEncryptionAlgorithm)
	}
}

func TestEngine_JTI_NotImplemented(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	if err := engine.GetJTI(ctx, "c", "s", "a", 0, "jti"); !errors.Is(err, storage.ErrNotImplemented) {
		t.Errorf("GetJTI() error = %v, want ErrNotImplemented", err)
	}
	if err := engine.SetJTI(ctx, "c", "s", "a", 0, "jti"); !errors.Is(err, storage.ErrNotImplemented) {
		t.Errorf("SetJTI() error = %v, want ErrNotImplemented", err)
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Now().Unix()
	if IsExpired(now+60, now) {
		t.Error("future deadline reported expired")
	}
	if !IsExpired(now-60, now) {
		t.Error("past deadline not reported expired")
	}
	if IsExpired(now, now) {
		t.Error("exact deadline should not yet be expired")
	}
}
