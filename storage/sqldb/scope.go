package sqldb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/enovation/moodle-local-oauth2/storage"
)

// ScopeExists reports whether every scope in the space-separated list is
// registered. An empty list matches nothing and is reported as false.
func (s *Store) ScopeExists(ctx context.Context, scope string) (bool, error) {
	ctx, span := s.startSpan(ctx, "scope_exists")
	defer span.End()
	start := time.Now()

	seen := make(map[string]struct{})
	var requested []string
	for _, sc := range strings.Fields(scope) {
		if _, ok := seen[sc]; ok {
			continue
		}
		seen[sc] = struct{}{}
		requested = append(requested, sc)
	}
	if len(requested) == 0 {
		s.record(ctx, span, "scope_exists", nil, start)
		return false, nil
	}

	placeholders := strings.Repeat("?, ", len(requested)-1) + "?"
	args := make([]any, len(requested))
	for i, sc := range requested {
		args[i] = sc
	}

	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(fmt.Sprintf(`
		SELECT COUNT(DISTINCT scope)
		FROM local_oauth2_scope
		WHERE scope IN (%s)`, placeholders)), args...).Scan(&count)
	s.record(ctx, span, "scope_exists", err, start)
	if err != nil {
		return false, fmt.Errorf("counting scopes: %w", err)
	}

	return count == len(requested), nil
}

// DefaultScope returns the registered default scopes as a space-separated
// string, ordered alphabetically for a stable result.
func (s *Store) DefaultScope(ctx context.Context) (string, error) {
	ctx, span := s.startSpan(ctx, "default_scope")
	defer span.End()
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT scope
		FROM local_oauth2_scope
		WHERE is_default = 1
		ORDER BY scope`))
	if err != nil {
		s.record(ctx, span, "default_scope", err, start)
		return "", fmt.Errorf("querying default scopes: %w", err)
	}
	defer rows.Close()

	var scopes []string
	for rows.Next() {
		var sc string
		if err := rows.Scan(&sc); err != nil {
			s.record(ctx, span, "default_scope", err, start)
			return "", fmt.Errorf("scanning default scope: %w", err)
		}
		scopes = append(scopes, sc)
	}
	err = rows.Err()
	s.record(ctx, span, "default_scope", err, start)
	if err != nil {
		return "", fmt.Errorf("reading default scopes: %w", err)
	}

	return strings.Join(scopes, " "), nil
}

// SaveScope inserts or updates a scope definition
func (s *Store) SaveScope(ctx context.Context, scope *storage.Scope) error {
	ctx, span := s.startSpan(ctx, "save_scope")
	defer span.End()
	start := time.Now()

	isDefault := 0
	if scope.IsDefault {
		isDefault = 1
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO local_oauth2_scope (scope, is_default)
		VALUES (?, ?)
		ON CONFLICT (scope) DO UPDATE SET is_default = excluded.is_default`),
		scope.Scope, isDefault)
	s.record(ctx, span, "save_scope", err, start)
	if err != nil {
		return fmt.Errorf("saving scope: %w", err)
	}

	s.logger.Debug("Saved scope", "scope", scope.Scope, "is_default", scope.IsDefault)
	return nil
}
