// Package storage defines the persistence contracts for OAuth2 clients,
// tokens, authorization codes, scopes, and signing keys.
//
// The contracts are grouped by cohesion rather than by the historical
// interface split of the OAuth2 runtime that consumes them:
//   - ClientStore: registered OAuth client records
//   - AccessTokenStore: access token lifecycle (upsert with event emission)
//   - AuthorizationCodeStore: one-time authorization codes
//   - RefreshTokenStore: refresh tokens with rotation semantics
//   - ScopeStore: scope existence and default-scope resolution
//   - KeyStore: signing key and algorithm lookup with default fallback
//   - JTIStore: JWT replay protection (a declared capability gap)
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory storage for development and testing
//   - storage/sqldb: relational storage (SQLite, Postgres) for production
package storage
