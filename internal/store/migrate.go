package store

import (
	"database/sql"
	"fmt"
	"time"

	"selectorcache/internal/cacheerr"
	"selectorcache/internal/logging"
)

// migrate ensures the schema exists, detects the on-disk version, and
// brings it forward to CurrentSchemaVersion.
func (s *Store) migrate() error {
	if err := s.ensureSchema(); err != nil {
		return err
	}

	version := s.schemaVersion()
	logging.MigrationDebug("detected schema version %d (current %d)", version, CurrentSchemaVersion)

	if version < CurrentSchemaVersion {
		if err := s.recordSchemaVersion(CurrentSchemaVersion); err != nil {
			return err
		}
		logging.Migration("schema advanced from %d to %d", version, CurrentSchemaVersion)
	}
	return nil
}

// schemaVersion reads the latest schema_meta row, inferring 0 (pre-history)
// if the table is empty — mirroring the table_info-probe idiom used
// elsewhere in this codebase for databases that predate version tracking.
func (s *Store) schemaVersion() int {
	var version int
	err := s.db.QueryRow("SELECT version FROM schema_meta ORDER BY applied_at DESC LIMIT 1").Scan(&version)
	if err != nil {
		return 0
	}
	return version
}

func (s *Store) recordSchemaVersion(version int) error {
	_, err := s.db.Exec("INSERT INTO schema_meta (version, applied_at) VALUES (?, ?)", version, time.Now().UnixMilli())
	if err != nil {
		return s.recordStorageError("recordSchemaVersion", err)
	}
	return nil
}

// tableExists checks sqlite_master for a table, the standard way to probe
// schema shape without a version row.
func tableExists(db *sql.DB, table string) bool {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
	return err == nil && count > 0
}

// columnExists uses PRAGMA table_info to detect a column on a legacy table
// before altering it.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// MigrationResult summarizes a legacy-key migration run.
type MigrationResult struct {
	RowsScanned  int
	RowsMigrated int
	RowsSkipped  int
}

// MigrateLegacyKeys copies rows from a pre-enhanced-key mapping table (if
// one exists from an older deployment) into cache_keys_v2 in batches,
// tagging each with its migration provenance. A deployment with no legacy
// table is a no-op, not an error.
func (s *Store) MigrateLegacyKeys(batchSize int) (MigrationResult, error) {
	db := s.DB()
	if db == nil {
		return MigrationResult{}, fmt.Errorf("%w: store is closed", cacheerr.ErrStorageIO)
	}
	if !tableExists(db, "legacy_cache_keys") {
		logging.MigrationDebug("no legacy_cache_keys table found; nothing to migrate")
		return MigrationResult{}, nil
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	result := MigrationResult{}
	offset := 0
	for {
		tx, err := db.Begin()
		if err != nil {
			return result, s.recordStorageError("MigrateLegacyKeys begin", err)
		}
		rows, err := tx.Query(`
			SELECT legacy_key_hash, test_name, url_pattern, profile, steps_hash, selector, confidence, use_count, created_at, last_used
			FROM legacy_cache_keys ORDER BY rowid LIMIT ? OFFSET ?`, batchSize, offset)
		if err != nil {
			tx.Rollback()
			return result, s.recordStorageError("MigrateLegacyKeys query", err)
		}

		batchCount := 0

		for rows.Next() {
			batchCount++
			result.RowsScanned++

			var legacyHash, testName, urlPattern, profile, stepsHash, selector string
			var confidence float64
			var useCount int
			var createdAt, lastUsed int64
			if err := rows.Scan(&legacyHash, &testName, &urlPattern, &profile, &stepsHash, &selector, &confidence, &useCount, &createdAt, &lastUsed); err != nil {
				result.RowsSkipped++
				continue
			}

			baseHash := legacyHash // legacy rows have no schema-versioned base hash yet; derive provenance, not identity
			enhanced := fmt.Sprintf("legacy:%s:%s:%s", testName, urlPattern, profile)
			_, err := tx.Exec(`
				INSERT INTO cache_keys_v2 (base_key_hash, enhanced_key, legacy_key_hash, test_name, url_pattern, profile, steps_hash, selector, confidence, use_count, created_at, last_used, migration_source)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'legacy_migration')
				ON CONFLICT(base_key_hash) DO NOTHING`,
				baseHash, enhanced, legacyHash, testName, urlPattern, profile, stepsHash, selector, confidence, useCount, createdAt, lastUsed)
			if err != nil {
				result.RowsSkipped++
				continue
			}
			result.RowsMigrated++
		}
		rows.Close()

		if err := tx.Commit(); err != nil {
			return result, s.recordStorageError("MigrateLegacyKeys commit", err)
		}

		if batchCount < batchSize {
			break
		}
		offset += batchSize
	}

	s.statsMu.Lock()
	s.stats.Migrations++
	s.statsMu.Unlock()

	logging.Migration("legacy key migration complete: scanned=%d migrated=%d skipped=%d", result.RowsScanned, result.RowsMigrated, result.RowsSkipped)
	return result, nil
}

// ValidateMigration re-probes invariants after a migration run: every
// migrated row must have a non-empty selector and a non-empty base hash.
func (s *Store) ValidateMigration() error {
	db := s.DB()
	if db == nil {
		return fmt.Errorf("%w: store is closed", cacheerr.ErrStorageIO)
	}
	var badRows int
	err := db.QueryRow(`SELECT COUNT(*) FROM cache_keys_v2 WHERE selector = '' OR base_key_hash = ''`).Scan(&badRows)
	if err != nil {
		return s.recordStorageError("ValidateMigration", err)
	}
	if badRows > 0 {
		return fmt.Errorf("%w: %d migrated row(s) missing selector or base_key_hash", cacheerr.ErrInvariant, badRows)
	}
	return nil
}

// RollbackMigration deletes every row tagged with the given provenance
// label, undoing a migration batch without touching directly-learned rows.
func (s *Store) RollbackMigration(source string) error {
	db := s.DB()
	if db == nil {
		return fmt.Errorf("%w: store is closed", cacheerr.ErrStorageIO)
	}
	_, err := db.Exec("DELETE FROM cache_keys_v2 WHERE migration_source = ?", source)
	if err != nil {
		return s.recordStorageError("RollbackMigration", err)
	}
	logging.Migration("rolled back migration batch: source=%s", source)
	return nil
}
