package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"selectorcache/internal/store"
)

func TestSweepStartStopIsGoroutineClean(t *testing.T) {
	s := mustOpen(t)
	s.StartSweep(store.SweepConfig{Interval: 10 * time.Millisecond, SelectorTTLMs: 1, VariationCap: 20})
	time.Sleep(30 * time.Millisecond)
	s.StopSweep()
}

func TestSweepStartTwiceIsNoop(t *testing.T) {
	s := mustOpen(t)
	s.StartSweep(store.SweepConfig{Interval: time.Second})
	s.StartSweep(store.SweepConfig{Interval: time.Second})
	s.StopSweep()
}

func TestMigrateLegacyKeysNoLegacyTableIsNoop(t *testing.T) {
	s := mustOpen(t)
	result, err := s.MigrateLegacyKeys(100)
	require.NoError(t, err)
	require.Equal(t, 0, result.RowsScanned)
}

func TestMigrateLegacyKeysCopiesRows(t *testing.T) {
	s := mustOpen(t)
	db := s.DB()

	_, err := db.Exec(`CREATE TABLE legacy_cache_keys (
		legacy_key_hash TEXT, test_name TEXT, url_pattern TEXT, profile TEXT,
		steps_hash TEXT, selector TEXT, confidence REAL, use_count INTEGER,
		created_at INTEGER, last_used INTEGER)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO legacy_cache_keys VALUES
		('lh1', 'login flow', 'STAGING/a/{id}', 'default', 'sh1', '#login', 0.8, 3, 1000, 1000)`)
	require.NoError(t, err)

	result, err := s.MigrateLegacyKeys(10)
	require.NoError(t, err)
	require.Equal(t, 1, result.RowsScanned)
	require.Equal(t, 1, result.RowsMigrated)

	require.NoError(t, s.ValidateMigration())

	got, err := store.GetEnhancedKeyExact(db, "lh1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "legacy_migration", got.MigrationSource)

	require.NoError(t, s.RollbackMigration("legacy_migration"))
	got, err = store.GetEnhancedKeyExact(db, "lh1")
	require.NoError(t, err)
	require.Nil(t, got)
}
