// Package install seeds a storage backend with the baseline data an
// authorization server needs before it can issue tokens: the standard
// OpenID Connect scopes and a default RSA signing key pair.
//
// Run is idempotent. It only writes rows that are missing, so it is safe
// to call on every startup, mirroring an install-then-upgrade lifecycle.
package install

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"

	"github.com/enovation/moodle-local-oauth2/storage"
)

// rsaKeyBits is the modulus size for generated signing keys
const rsaKeyBits = 2048

// DefaultScopes is the baseline scope set seeded on install. Only openid
// is flagged as a default scope.
var DefaultScopes = []storage.Scope{
	{Scope: "openid", IsDefault: true},
	{Scope: "profile"},
	{Scope: "email"},
	{Scope: "address"},
	{Scope: "phone"},
}

// Options controls seeding behavior.
type Options struct {
	// ClientID selects which key row to seed. Leave empty for the default
	// key shared by all clients without their own.
	ClientID string

	// Force regenerates the signing key even when one already exists.
	// Existing tokens signed with the old key become unverifiable.
	Force bool

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// Run seeds the baseline scopes and ensures a signing key exists for the
// configured client. Existing rows are left untouched unless Force is set.
func Run(ctx context.Context, store storage.Store, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := seedScopes(ctx, store, logger); err != nil {
		return err
	}
	return ensureSigningKey(ctx, store, opts, logger)
}

func seedScopes(ctx context.Context, store storage.ScopeStore, logger *slog.Logger) error {
	for _, scope := range DefaultScopes {
		exists, err := store.ScopeExists(ctx, scope.Scope)
		if err != nil {
			return fmt.Errorf("checking scope %q: %w", scope.Scope, err)
		}
		if exists {
			continue
		}
		sc := scope
		if err := store.SaveScope(ctx, &sc); err != nil {
			return fmt.Errorf("seeding scope %q: %w", scope.Scope, err)
		}
		logger.Info("Seeded scope", "scope", scope.Scope, "is_default", scope.IsDefault)
	}
	return nil
}

func ensureSigningKey(ctx context.Context, store storage.KeyStore, opts Options, logger *slog.Logger) error {
	if !opts.Force {
		_, err := store.GetSigningKey(ctx, opts.ClientID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("checking signing key: %w", err)
		}
	}

	key, err := GenerateSigningKey(opts.ClientID)
	if err != nil {
		return err
	}
	if err := store.SaveSigningKey(ctx, key); err != nil {
		return fmt.Errorf("saving signing key: %w", err)
	}

	logger.Info("Generated signing key",
		"client_id", opts.ClientID,
		"algorithm", key.EncryptionAlgorithm)
	return nil
}

// GenerateSigningKey creates a fresh RSA-2048 key pair, PEM encoded, for
// RS256 token signing. The generated PEM is parsed back through the JWT
// library to guarantee it is usable for signing and verification.
func GenerateSigningKey(clientID string) (*storage.SigningKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generating RSA key: %w", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("encoding public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubDER,
	})

	if _, err := jwt.ParseRSAPrivateKeyFromPEM(privPEM); err != nil {
		return nil, fmt.Errorf("validating private key PEM: %w", err)
	}
	if _, err := jwt.ParseRSAPublicKeyFromPEM(pubPEM); err != nil {
		return nil, fmt.Errorf("validating public key PEM: %w", err)
	}

	return &storage.SigningKey{
		ClientID:            clientID,
		PublicKey:           string(pubPEM),
		PrivateKey:          string(privPEM),
		EncryptionAlgorithm: storage.DefaultEncryptionAlgorithm,
	}, nil
}
