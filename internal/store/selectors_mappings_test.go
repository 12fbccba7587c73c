package store_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"selectorcache/internal/store"
)

func mustOpen(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertSelectorInsertThenUpdate(t *testing.T) {
	s := mustOpen(t)
	db := s.DB()
	hash := store.SelectorHash("#login")

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, store.UpsertSelector(tx, hash, "#login", "https://a/", "", 1.02, 1000))
	require.NoError(t, tx.Commit())

	got, err := store.GetSelector(db, hash)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, int64(1), got.UseCount)
	require.InDelta(t, 0.5, got.Confidence, 1e-9)

	tx, err = db.Begin()
	require.NoError(t, err)
	require.NoError(t, store.UpsertSelector(tx, hash, "#login", "https://a/", "", 1.02, 2000))
	require.NoError(t, tx.Commit())

	got, err = store.GetSelector(db, hash)
	require.NoError(t, err)
	require.Equal(t, int64(2), got.UseCount)
	require.InDelta(t, 0.51, got.Confidence, 1e-9)
}

func TestUpsertSelectorConfidenceCapsAtOne(t *testing.T) {
	s := mustOpen(t)
	db := s.DB()
	hash := store.SelectorHash("#submit")

	now := int64(1000)
	for i := 0; i < 50; i++ {
		tx, err := db.Begin()
		require.NoError(t, err)
		require.NoError(t, store.UpsertSelector(tx, hash, "#submit", "https://a/", "", 1.5, now))
		require.NoError(t, tx.Commit())
		now++
	}

	got, err := store.GetSelector(db, hash)
	require.NoError(t, err)
	require.LessOrEqual(t, got.Confidence, 1.0)
}

func TestDeleteSelectorIfOrphanedKeepsReferenced(t *testing.T) {
	s := mustOpen(t)
	db := s.DB()
	hash := store.SelectorHash("#x")

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, store.UpsertSelector(tx, hash, "#x", "https://a/", "", 1.02, 1000))
	require.NoError(t, store.UpsertMapping(tx, store.Mapping{
		SelectorHash: hash, Input: "click x", NormalizedInput: "click x", InputTokensJSON: "[]", URL: "https://a/", LearnedFrom: "direct",
	}, 1.05, 1000))
	require.NoError(t, tx.Commit())

	tx, err = db.Begin()
	require.NoError(t, err)
	require.NoError(t, store.DeleteSelectorIfOrphaned(tx, hash))
	require.NoError(t, tx.Commit())

	got, err := store.GetSelector(db, hash)
	require.NoError(t, err)
	require.NotNil(t, got, "selector with a live mapping must not be deleted")
}

func TestDeleteSelectorIfOrphanedRemovesUnreferenced(t *testing.T) {
	s := mustOpen(t)
	db := s.DB()
	hash := store.SelectorHash("#y")

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, store.UpsertSelector(tx, hash, "#y", "https://a/", "", 1.02, 1000))
	require.NoError(t, tx.Commit())

	tx, err = db.Begin()
	require.NoError(t, err)
	require.NoError(t, store.DeleteSelectorIfOrphaned(tx, hash))
	require.NoError(t, tx.Commit())

	got, err := store.GetSelector(db, hash)
	require.NoError(t, err)
	require.Nil(t, got, "selector with no mappings must be garbage-collected")
}

func TestExactMatchAndNormalizedMatch(t *testing.T) {
	s := mustOpen(t)
	db := s.DB()
	hash := store.SelectorHash("#login")

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, store.UpsertSelector(tx, hash, "#login", "https://a/", "", 1.02, 1000))
	require.NoError(t, store.UpsertMapping(tx, store.Mapping{
		SelectorHash: hash, Input: "click login", NormalizedInput: "click login", InputTokensJSON: `["click","login"]`, URL: "https://a/", LearnedFrom: "direct",
	}, 1.05, 1000))
	require.NoError(t, tx.Commit())

	m, err := store.ExactMatch(db, "click login", "https://a/")
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Equal(t, hash, m.SelectorHash)

	m, err = store.NormalizedMatch(db, "click login", "https://a/")
	require.NoError(t, err)
	require.NotNil(t, m)

	miss, err := store.ExactMatch(db, "click logout", "https://a/")
	require.NoError(t, err)
	require.Nil(t, miss)
}

func TestPruneVariationsKeepsTopK(t *testing.T) {
	s := mustOpen(t)
	db := s.DB()
	hash := store.SelectorHash("#many")

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, store.UpsertSelector(tx, hash, "#many", "https://a/", "", 1.02, 1000))
	require.NoError(t, tx.Commit())

	for i := 0; i < 25; i++ {
		tx, err := db.Begin()
		require.NoError(t, err)
		input := "input " + string(rune('a'+i))
		require.NoError(t, store.UpsertMapping(tx, store.Mapping{
			SelectorHash: hash, Input: input, NormalizedInput: input, InputTokensJSON: "[]", URL: "https://a/", LearnedFrom: "direct",
		}, 1.05, int64(1000+i)))
		require.NoError(t, tx.Commit())
	}

	_, err = store.PruneVariations(db, 20)
	require.NoError(t, err)

	remaining, err := store.MappingsForSelectorURL(db, hash, "https://a/")
	require.NoError(t, err)
	require.Len(t, remaining, 20)
}

func TestDeleteMappingsForSelectorURLThenOrphanGC(t *testing.T) {
	s := mustOpen(t)
	db := s.DB()
	hash := store.SelectorHash("#gone")

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, store.UpsertSelector(tx, hash, "#gone", "https://a/", "", 1.02, 1000))
	require.NoError(t, store.UpsertMapping(tx, store.Mapping{
		SelectorHash: hash, Input: "click gone", NormalizedInput: "click gone", InputTokensJSON: "[]", URL: "https://a/", LearnedFrom: "direct",
	}, 1.05, 1000))
	require.NoError(t, tx.Commit())

	tx, err = db.Begin()
	require.NoError(t, err)
	require.NoError(t, store.DeleteMappingsForSelectorURL(tx, hash, "https://a/"))
	require.NoError(t, store.DeleteSelectorIfOrphaned(tx, hash))
	require.NoError(t, tx.Commit())

	got, err := store.GetSelector(db, hash)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestDeleteOrphanedSelectorsSweepWide(t *testing.T) {
	s := mustOpen(t)
	db := s.DB()
	hash := store.SelectorHash("#orphan")

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, store.UpsertSelector(tx, hash, "#orphan", "https://a/", "", 1.02, 1000))
	require.NoError(t, tx.Commit())

	n, err := store.DeleteOrphanedSelectors(db)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}
