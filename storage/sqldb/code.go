package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/enovation/moodle-local-oauth2/storage"
)

// GetAuthorizationCode retrieves an authorization code record. An expired
// code is still returned; the caller decides whether it is usable.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startSpan(ctx, "get_authorization_code")
	defer span.End()
	start := time.Now()

	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT authorization_code, client_id, user_id, redirect_uri, expires,
			scope, id_token, code_challenge, code_challenge_method
		FROM local_oauth2_authorization_code
		WHERE authorization_code = ?`), code)

	var (
		c         storage.AuthorizationCode
		scope     sql.NullString
		idToken   sql.NullString
		challenge sql.NullString
		method    sql.NullString
	)
	err := row.Scan(&c.Code, &c.ClientID, &c.UserID, &c.RedirectURI, &c.Expires,
		&scope, &idToken, &challenge, &method)
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("authorization code: %w", storage.ErrNotFound)
	}
	s.record(ctx, span, "get_authorization_code", err, start)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			err = fmt.Errorf("querying authorization code: %w", err)
		}
		return nil, err
	}

	c.Scope = scope.String
	c.IDToken = idToken.String
	c.CodeChallenge = challenge.String
	c.CodeChallengeMethod = method.String
	return &c, nil
}

// SaveAuthorizationCode inserts or updates an authorization code keyed by
// the code string
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startSpan(ctx, "save_authorization_code")
	defer span.End()
	start := time.Now()

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO local_oauth2_authorization_code
			(authorization_code, client_id, user_id, redirect_uri, expires,
			 scope, id_token, code_challenge, code_challenge_method)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (authorization_code) DO UPDATE SET
			client_id = excluded.client_id,
			user_id = excluded.user_id,
			redirect_uri = excluded.redirect_uri,
			expires = excluded.expires,
			scope = excluded.scope,
			id_token = excluded.id_token,
			code_challenge = excluded.code_challenge,
			code_challenge_method = excluded.code_challenge_method`),
		code.Code, code.ClientID, code.UserID, code.RedirectURI, code.Expires,
		nullString(code.Scope), nullString(code.IDToken),
		nullString(code.CodeChallenge), nullString(code.CodeChallengeMethod))
	s.record(ctx, span, "save_authorization_code", err, start)
	if err != nil {
		return fmt.Errorf("saving authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code", "client_id", code.ClientID, "user_id", code.UserID)
	return nil
}

// ExpireAuthorizationCode deletes a code after redemption. Expiring a code
// that is already gone is not an error, so redemption stays idempotent.
func (s *Store) ExpireAuthorizationCode(ctx context.Context, code string) error {
	ctx, span := s.startSpan(ctx, "expire_authorization_code")
	defer span.End()
	start := time.Now()

	res, err := s.db.ExecContext(ctx, s.rebind(`
		DELETE FROM local_oauth2_authorization_code
		WHERE authorization_code = ?`), code)
	s.record(ctx, span, "expire_authorization_code", err, start)
	if err != nil {
		return fmt.Errorf("expiring authorization code: %w", err)
	}

	if n, raErr := res.RowsAffected(); raErr == nil && n > 0 && s.inst != nil {
		s.inst.Metrics().AuthorizationCodesExpired.Add(ctx, 1)
	}
	s.logger.Debug("Expired authorization code")
	return nil
}
