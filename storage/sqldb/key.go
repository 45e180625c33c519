package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/enovation/moodle-local-oauth2/storage"
)

// signingKeyRow reads the key row for exactly the given client_id.
func (s *Store) signingKeyRow(ctx context.Context, clientID string) (*storage.SigningKey, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT client_id, public_key, private_key, encryption_algorithm
		FROM local_oauth2_public_key
		WHERE client_id = ?`), clientID)

	var (
		k    storage.SigningKey
		algo sql.NullString
	)
	err := row.Scan(&k.ClientID, &k.PublicKey, &k.PrivateKey, &algo)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("signing key for client %q: %w", clientID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying signing key: %w", err)
	}

	k.EncryptionAlgorithm = algo.String
	return &k, nil
}

// lookupKey resolves a signing key field for the client, falling back to
// the default row (empty client_id) when the client-specific field is
// absent or empty. The bool reports whether a non-empty value was found.
func (s *Store) lookupKey(ctx context.Context, clientID string, field func(*storage.SigningKey) string) (string, bool, error) {
	if clientID != "" {
		key, err := s.signingKeyRow(ctx, clientID)
		switch {
		case err == nil:
			if v := field(key); v != "" {
				return v, true, nil
			}
		case !errors.Is(err, storage.ErrNotFound):
			return "", false, err
		}
	}

	key, err := s.signingKeyRow(ctx, "")
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if v := field(key); v != "" {
		return v, true, nil
	}
	return "", false, nil
}

// PublicKey returns the PEM public key for the client, falling back to the
// default key
func (s *Store) PublicKey(ctx context.Context, clientID string) (string, error) {
	ctx, span := s.startSpan(ctx, "public_key")
	defer span.End()
	start := time.Now()

	v, found, err := s.lookupKey(ctx, clientID, func(k *storage.SigningKey) string { return k.PublicKey })
	if err == nil && !found {
		err = fmt.Errorf("public key: %w", storage.ErrNotFound)
	}
	s.record(ctx, span, "public_key", err, start)
	if err != nil {
		return "", err
	}
	return v, nil
}

// PrivateKey returns the PEM private key for the client, falling back to
// the default key
func (s *Store) PrivateKey(ctx context.Context, clientID string) (string, error) {
	ctx, span := s.startSpan(ctx, "private_key")
	defer span.End()
	start := time.Now()

	v, found, err := s.lookupKey(ctx, clientID, func(k *storage.SigningKey) string { return k.PrivateKey })
	if err == nil && !found {
		err = fmt.Errorf("private key: %w", storage.ErrNotFound)
	}
	s.record(ctx, span, "private_key", err, start)
	if err != nil {
		return "", err
	}
	return v, nil
}

// EncryptionAlgorithm returns the signing algorithm for the client, falling
// back to the default row's algorithm and finally to
// storage.DefaultEncryptionAlgorithm when neither row declares one.
func (s *Store) EncryptionAlgorithm(ctx context.Context, clientID string) (string, error) {
	ctx, span := s.startSpan(ctx, "encryption_algorithm")
	defer span.End()
	start := time.Now()

	v, found, err := s.lookupKey(ctx, clientID, func(k *storage.SigningKey) string { return k.EncryptionAlgorithm })
	s.record(ctx, span, "encryption_algorithm", err, start)
	if err != nil {
		return "", err
	}
	if !found {
		return storage.DefaultEncryptionAlgorithm, nil
	}
	return v, nil
}

// GetSigningKey retrieves the key row for exactly the given client_id,
// without fallback
func (s *Store) GetSigningKey(ctx context.Context, clientID string) (*storage.SigningKey, error) {
	ctx, span := s.startSpan(ctx, "get_signing_key")
	defer span.End()
	start := time.Now()

	key, err := s.signingKeyRow(ctx, clientID)
	s.record(ctx, span, "get_signing_key", err, start)
	return key, err
}

// SaveSigningKey inserts or updates a key pair keyed by client_id
func (s *Store) SaveSigningKey(ctx context.Context, key *storage.SigningKey) error {
	ctx, span := s.startSpan(ctx, "save_signing_key")
	defer span.End()
	start := time.Now()

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO local_oauth2_public_key (client_id, public_key, private_key, encryption_algorithm)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (client_id) DO UPDATE SET
			public_key = excluded.public_key,
			private_key = excluded.private_key,
			encryption_algorithm = excluded.encryption_algorithm`),
		key.ClientID, key.PublicKey, key.PrivateKey, nullString(key.EncryptionAlgorithm))
	s.record(ctx, span, "save_signing_key", err, start)
	if err != nil {
		return fmt.Errorf("saving signing key: %w", err)
	}

	s.logger.Debug("Saved signing key", "client_id", key.ClientID,
		"algorithm", key.EncryptionAlgorithm)
	return nil
}

// ClientKey returns the JWT bearer public key for a client and subject
func (s *Store) ClientKey(ctx context.Context, clientID, subject string) (string, error) {
	ctx, span := s.startSpan(ctx, "client_key")
	defer span.End()
	start := time.Now()

	var publicKey string
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT public_key
		FROM local_oauth2_jwt
		WHERE client_id = ? AND subject = ?`), clientID, subject).Scan(&publicKey)
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("client key for %q/%q: %w", clientID, subject, storage.ErrNotFound)
	}
	s.record(ctx, span, "client_key", err, start)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			err = fmt.Errorf("querying client key: %w", err)
		}
		return "", err
	}

	return publicKey, nil
}

// SaveClientKey registers a JWT bearer public key, upserting by the
// client and subject pair
func (s *Store) SaveClientKey(ctx context.Context, key *storage.ClientKey) error {
	ctx, span := s.startSpan(ctx, "save_client_key")
	defer span.End()
	start := time.Now()

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO local_oauth2_jwt (client_id, subject, public_key)
		VALUES (?, ?, ?)
		ON CONFLICT (client_id, subject) DO UPDATE SET
			public_key = excluded.public_key`),
		key.ClientID, key.Subject, key.PublicKey)
	s.record(ctx, span, "save_client_key", err, start)
	if err != nil {
		return fmt.Errorf("saving client key: %w", err)
	}

	s.logger.Debug("Saved client key", "client_id", key.ClientID, "subject", key.Subject)
	return nil
}
