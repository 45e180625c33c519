package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/enovation/moodle-local-oauth2/storage"
)

// GetClient retrieves a registered client by its identifier
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startSpan(ctx, "get_client")
	defer span.End()
	start := time.Now()

	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT client_id, client_secret, redirect_uri, scope, require_pkce
		FROM local_oauth2_client
		WHERE client_id = ?`), clientID)

	var (
		c       storage.Client
		secret  sql.NullString
		scope   sql.NullString
		pkce    int
	)
	err := row.Scan(&c.ClientID, &secret, &c.RedirectURI, &scope, &pkce)
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("client %q: %w", clientID, storage.ErrNotFound)
	}
	s.record(ctx, span, "get_client", err, start)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			err = fmt.Errorf("querying client: %w", err)
		}
		return nil, err
	}

	c.ClientSecret = secret.String
	c.Scope = scope.String
	c.RequirePKCE = pkce != 0
	return &c, nil
}

// SaveClient inserts or updates a client registration keyed by client_id
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startSpan(ctx, "save_client")
	defer span.End()
	start := time.Now()

	pkce := 0
	if client.RequirePKCE {
		pkce = 1
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO local_oauth2_client (client_id, client_secret, redirect_uri, scope, require_pkce)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (client_id) DO UPDATE SET
			client_secret = excluded.client_secret,
			redirect_uri = excluded.redirect_uri,
			scope = excluded.scope,
			require_pkce = excluded.require_pkce`),
		client.ClientID, nullString(client.ClientSecret), client.RedirectURI,
		nullString(client.Scope), pkce)
	s.record(ctx, span, "save_client", err, start)
	if err != nil {
		return fmt.Errorf("saving client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}
