// Package cacheerr defines the typed error sentinels shared across the
// selector cache's layers. Every layer boundary wraps one of these
// with fmt.Errorf("...: %w", err) so callers can errors.Is against a stable
// kind instead of matching strings.
package cacheerr

import "errors"

var (
	// ErrStorageIO marks a read/write/transaction failure against the
	// SQLite store. The caller may retry; the cache remains usable.
	ErrStorageIO = errors.New("storage i/o failure")

	// ErrCorruption marks a database that failed its integrity probe on
	// open. The store quarantines the file and recreates an empty one.
	ErrCorruption = errors.New("database corruption detected")

	// ErrSerialization marks malformed JSON/enhanced-key payloads. The
	// offending row is skipped; this never propagates to the caller.
	ErrSerialization = errors.New("serialization failure")

	// ErrInvariant marks a detected invariant violation (orphan mapping,
	// migrated row missing its selector or base hash). Orphan mappings are
	// reported via health() and deleted by the sweep.
	ErrInvariant = errors.New("invariant violation")

	// ErrConfig marks a rejected configuration value at construction time.
	ErrConfig = errors.New("invalid configuration")

	// ErrNotFound marks a cache miss distinguishable from a lower-level
	// storage error.
	ErrNotFound = errors.New("not found")
)
