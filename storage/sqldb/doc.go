// Package sqldb provides a relational implementation of the OAuth2 storage
// contracts over database/sql, with SQLite and Postgres drivers.
//
// Business keys (client_id, access_token, authorization_code, refresh_token,
// scope, signing key client_id) are enforced with primary keys, so concurrent
// save operations cannot race an existence check against an insert: upserts
// use INSERT ... ON CONFLICT and conflicting refresh token inserts surface as
// storage.ErrConflict.
//
// The schema ships as embedded migrations applied with Migrate. Expired rows
// are never purged; expiry is the caller's responsibility to check.
package sqldb
