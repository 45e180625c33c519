package storage

import "errors"

// Sentinel errors returned by storage implementations. Callers branch with
// errors.Is; implementations wrap these with context via fmt.Errorf("%w").
var (
	// ErrNotFound indicates a lookup on a missing business key. Operations
	// whose contract is boolean (ScopeExists, credential checks) translate
	// this into a false value instead of surfacing it.
	ErrNotFound = errors.New("record not found")

	// ErrConflict indicates an insert that collided with an existing unique
	// business key. The upsert operations avoid it for all entities except
	// refresh tokens, whose values are never reused across rows.
	ErrConflict = errors.New("record already exists")

	// ErrNotImplemented is returned by the JTI replay-protection operations.
	// They fail loudly so callers cannot mistakenly rely on replay
	// protection from this layer.
	ErrNotImplemented = errors.New("not implemented")
)
