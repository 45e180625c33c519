package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/enovation/moodle-local-oauth2/events"
	"github.com/enovation/moodle-local-oauth2/storage"
)

// GetAccessToken retrieves an access token record by token string. Expired
// tokens are still returned; expiry is the caller's check.
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	ctx, span := s.startSpan(ctx, "get_access_token")
	defer span.End()
	start := time.Now()

	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT access_token, client_id, user_id, expires, scope
		FROM local_oauth2_access_token
		WHERE access_token = ?`), token)

	var (
		t     storage.AccessToken
		scope sql.NullString
	)
	err := row.Scan(&t.Token, &t.ClientID, &t.UserID, &t.Expires, &scope)
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("access token: %w", storage.ErrNotFound)
	}
	s.record(ctx, span, "get_access_token", err, start)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			err = fmt.Errorf("querying access token: %w", err)
		}
		return nil, err
	}

	t.Scope = scope.String
	return &t, nil
}

// SaveAccessToken inserts a new access token or updates an existing one,
// publishing a created or updated event accordingly.
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	ctx, span := s.startSpan(ctx, "save_access_token")
	defer span.End()
	start := time.Now()

	res, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO local_oauth2_access_token (access_token, client_id, user_id, expires, scope)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (access_token) DO NOTHING`),
		token.Token, token.ClientID, token.UserID, token.Expires, nullString(token.Scope))
	if err != nil {
		s.record(ctx, span, "save_access_token", err, start)
		return fmt.Errorf("inserting access token: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		s.record(ctx, span, "save_access_token", err, start)
		return fmt.Errorf("inserting access token: %w", err)
	}

	if inserted == 0 {
		_, err = s.db.ExecContext(ctx, s.rebind(`
			UPDATE local_oauth2_access_token
			SET client_id = ?, user_id = ?, expires = ?, scope = ?
			WHERE access_token = ?`),
			token.ClientID, token.UserID, token.Expires, nullString(token.Scope), token.Token)
		if err != nil {
			s.record(ctx, span, "save_access_token", err, start)
			return fmt.Errorf("updating access token: %w", err)
		}
	}

	s.record(ctx, span, "save_access_token", nil, start)
	if s.inst != nil && inserted > 0 {
		s.inst.Metrics().AccessTokensIssued.Add(ctx, 1)
	}

	if inserted > 0 {
		s.sink.Publish(ctx, events.NewAccessTokenCreated(token.UserID, token.ClientID, token.Scope, token.Token, token.Expires))
	} else {
		s.sink.Publish(ctx, events.NewAccessTokenUpdated(token.UserID, token.ClientID, token.Scope, token.Token, token.Expires))
	}

	s.logger.Debug("Saved access token", "client_id", token.ClientID, "user_id", token.UserID)
	return nil
}

// GetRefreshToken retrieves a refresh token record by token string
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	ctx, span := s.startSpan(ctx, "get_refresh_token")
	defer span.End()
	start := time.Now()

	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT refresh_token, client_id, user_id, expires, scope
		FROM local_oauth2_refresh_token
		WHERE refresh_token = ?`), token)

	var (
		t     storage.RefreshToken
		scope sql.NullString
	)
	err := row.Scan(&t.Token, &t.ClientID, &t.UserID, &t.Expires, &scope)
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("refresh token: %w", storage.ErrNotFound)
	}
	s.record(ctx, span, "get_refresh_token", err, start)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			err = fmt.Errorf("querying refresh token: %w", err)
		}
		return nil, err
	}

	t.Scope = scope.String
	return &t, nil
}

// SaveRefreshToken inserts a refresh token. Refresh tokens are never
// overwritten; a duplicate token string is a conflict.
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	ctx, span := s.startSpan(ctx, "save_refresh_token")
	defer span.End()
	start := time.Now()

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO local_oauth2_refresh_token (refresh_token, client_id, user_id, expires, scope)
		VALUES (?, ?, ?, ?, ?)`),
		token.Token, token.ClientID, token.UserID, token.Expires, nullString(token.Scope))
	if err != nil && isUniqueViolation(err) {
		err = fmt.Errorf("refresh token: %w", storage.ErrConflict)
	}
	s.record(ctx, span, "save_refresh_token", err, start)
	if err != nil {
		if !errors.Is(err, storage.ErrConflict) {
			err = fmt.Errorf("inserting refresh token: %w", err)
		}
		return err
	}

	s.logger.Debug("Saved refresh token", "client_id", token.ClientID, "user_id", token.UserID)
	return nil
}

// UnsetRefreshToken deletes a refresh token. A missing token is an error:
// revocation of an unknown token must not be reported as success.
func (s *Store) UnsetRefreshToken(ctx context.Context, token string) error {
	ctx, span := s.startSpan(ctx, "unset_refresh_token")
	defer span.End()
	start := time.Now()

	res, err := s.db.ExecContext(ctx, s.rebind(`
		DELETE FROM local_oauth2_refresh_token
		WHERE refresh_token = ?`), token)
	if err == nil {
		var n int64
		n, err = res.RowsAffected()
		if err == nil && n == 0 {
			err = fmt.Errorf("refresh token: %w", storage.ErrNotFound)
		}
	}
	s.record(ctx, span, "unset_refresh_token", err, start)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			err = fmt.Errorf("deleting refresh token: %w", err)
		}
		return err
	}

	if s.inst != nil {
		s.inst.Metrics().RefreshTokensUnset.Add(ctx, 1)
	}
	s.logger.Debug("Unset refresh token")
	return nil
}
