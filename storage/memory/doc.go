// Package memory provides an in-memory implementation of the OAuth2 storage
// contracts.
//
// This package implements every interface group of the storage package using
// Go's built-in maps with mutex protection for thread safety. It is suitable
// for development, testing, and single-instance deployments where persistence
// is not required.
//
// Expired rows are never purged: expiry is the caller's responsibility to
// check, and the store only guarantees that a deleted row stays gone.
//
// For production deployments use the storage/sqldb package, which enforces
// business-key uniqueness with relational constraints.
//
// Example usage:
//
//	store := memory.New()
//	store.SetSink(events.NewAuditSink(logger))
package memory
