// Package store is the durable SQLite layer under the selector cache:
// selector records, input mappings, page snapshots, and enhanced keys,
// opened with the WAL/pragma sequence and integrity-probe-then-quarantine
// discipline this layer requires.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"selectorcache/internal/cacheerr"
	"selectorcache/internal/logging"
)

// Store owns one SQLite connection exclusively for the lifetime of a
// cache instance; no sharing across instances.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex

	statsMu sync.Mutex
	stats   Stats

	sweep *sweepHandle
}

// Stats are the mutex-guarded counters a health/stats report surfaces.
type Stats struct {
	HitExact         int64
	HitNormalized    int64
	HitReverse       int64
	HitFuzzy         int64
	HitEnhanced      int64
	Misses           int64
	Sets             int64
	Learnings        int64
	Migrations       int64
	StorageErrors    int64
	DroppedLearnings int64
}

// Open opens (creating if absent) the SQLite file at path, applies the
// durability pragmas, probes integrity, and ensures the schema exists.
// A failed integrity probe quarantines the corrupted file under a
// timestamped suffix and recreates an empty one.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating store directory: %v", cacheerr.ErrStorageIO, err)
	}

	if err := quarantineIfCorrupt(path); err != nil {
		return nil, err
	}

	db, err := openPragma(path)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("store opened at %s", path)
	return s, nil
}

func openPragma(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening sqlite: %v", cacheerr.ErrStorageIO, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			logging.StoreWarn("pragma failed (%s): %v", p, err)
		}
	}
	return db, nil
}

// quarantineIfCorrupt runs PRAGMA integrity_check against an existing file
// and, on failure, renames it aside so a fresh store can be created.
func quarantineIfCorrupt(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return quarantine(path)
	}
	defer db.Close()

	var result string
	err = db.QueryRow("PRAGMA integrity_check").Scan(&result)
	if err != nil || result != "ok" {
		logging.StoreWarn("integrity check failed for %s (result=%q, err=%v); quarantining", path, result, err)
		db.Close()
		return quarantine(path)
	}
	return nil
}

func quarantine(path string) error {
	target := fmt.Sprintf("%s.corrupted.%d", path, time.Now().UnixMilli())
	if err := os.Rename(path, target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: quarantining corrupted database: %v", cacheerr.ErrCorruption, err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(path + suffix)
	}
	logging.StoreWarn("quarantined corrupted database to %s", target)
	return nil
}

func (s *Store) ensureSchema() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("%w: creating schema: %v", cacheerr.ErrStorageIO, err)
	}
	return nil
}

// Close clears all timers first (it stops the sweep worker if one is
// running), then releases the handle. Idempotent.
func (s *Store) Close() error {
	s.StopSweep()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("%w: closing store: %v", cacheerr.ErrStorageIO, err)
	}
	return nil
}

// DB exposes the raw handle for the migration manager and sweep worker,
// which need direct transaction control this package also uses internally.
func (s *Store) DB() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Path returns the on-disk location of the database file.
func (s *Store) Path() string {
	return s.path
}

// recordStorageError increments the error counter and wraps err.
func (s *Store) recordStorageError(op string, err error) error {
	s.statsMu.Lock()
	s.stats.StorageErrors++
	s.statsMu.Unlock()
	logging.StoreError("%s failed: %v", op, err)
	return fmt.Errorf("%w: %s: %v", cacheerr.ErrStorageIO, op, err)
}

// Snapshot returns a copy of the current stats counters.
func (s *Store) Snapshot() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Store) incr(field *int64) {
	s.statsMu.Lock()
	*field++
	s.statsMu.Unlock()
}

// HitLevel names which rung of the lookup ladder produced a hit, for the
// stats counters Stats exposes.
type HitLevel int

const (
	HitExact HitLevel = iota
	HitNormalized
	HitReverse
	HitFuzzy
	HitEnhanced
)

// IncrHit bumps the counter for the ladder level that produced a hit.
func (s *Store) IncrHit(level HitLevel) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	switch level {
	case HitExact:
		s.stats.HitExact++
	case HitNormalized:
		s.stats.HitNormalized++
	case HitReverse:
		s.stats.HitReverse++
	case HitFuzzy:
		s.stats.HitFuzzy++
	case HitEnhanced:
		s.stats.HitEnhanced++
	}
}

// IncrMiss bumps the miss counter.
func (s *Store) IncrMiss() { s.incr(&s.stats.Misses) }

// IncrSet bumps the sets counter.
func (s *Store) IncrSet() { s.incr(&s.stats.Sets) }

// IncrLearning bumps the pattern-learning counter.
func (s *Store) IncrLearning() { s.incr(&s.stats.Learnings) }

// IncrDroppedLearning bumps the counter for a pattern-learning task dropped
// because the async queue was full; learning is best-effort and never blocks Set.
func (s *Store) IncrDroppedLearning() { s.incr(&s.stats.DroppedLearnings) }

// Clear removes every selector, mapping, snapshot, and enhanced-key row
// and resets the in-memory stats counters.
func (s *Store) Clear() error {
	db := s.DB()
	if db == nil {
		return fmt.Errorf("%w: store is closed", cacheerr.ErrStorageIO)
	}

	tx, err := db.Begin()
	if err != nil {
		return s.recordStorageError("begin clear transaction", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"input_mappings", "selector_cache", "snapshot_cache", "cache_keys_v2"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return s.recordStorageError("clear "+table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return s.recordStorageError("commit clear transaction", err)
	}

	s.statsMu.Lock()
	s.stats = Stats{}
	s.statsMu.Unlock()
	return nil
}

// HealthReport is returned by Health; Issues is empty when ok.
type HealthReport struct {
	OK     bool
	Issues []string
}

// Health runs cheap invariant probes: orphaned mappings (a mapping whose
// selector_hash has no selector_cache row — should not occur, and the
// sweep deletes any such mapping it finds) and a raw SQLite
// integrity_check.
func (s *Store) Health() HealthReport {
	db := s.DB()
	if db == nil {
		return HealthReport{OK: false, Issues: []string{"store is closed"}}
	}

	var issues []string

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		issues = append(issues, fmt.Sprintf("integrity_check query failed: %v", err))
	} else if result != "ok" {
		issues = append(issues, fmt.Sprintf("integrity_check reported: %s", result))
	}

	var orphans int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM input_mappings m
		LEFT JOIN selector_cache s ON s.selector_hash = m.selector_hash
		WHERE s.selector_hash IS NULL
	`).Scan(&orphans)
	if err != nil {
		issues = append(issues, fmt.Sprintf("orphan-mapping probe failed: %v", err))
	} else if orphans > 0 {
		issues = append(issues, fmt.Sprintf("%d mapping(s) reference a missing selector", orphans))
	}

	return HealthReport{OK: len(issues) == 0, Issues: issues}
}
