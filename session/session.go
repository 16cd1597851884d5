// Package session keeps a shared in-memory working set per session and
// writes back only what changed.
package session

import "context"

// Store defines the backing store for session hashes.
type Store interface {
	// Load returns every field of the session hash. A missing session is an
	// empty map, not an error.
	Load(ctx context.Context, key string) (map[string][]byte, error)
	// Save applies a change batch to the session hash and extends its TTL.
	Save(ctx context.Context, key string, batch []Change) error
	// Delete removes the session hash.
	Delete(ctx context.Context, key string) error
	// RefreshTTL extends the session's lifetime in the store.
	RefreshTTL(ctx context.Context, key string) error
}
