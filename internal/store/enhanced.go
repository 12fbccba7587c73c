package store

import (
	"database/sql"
	"fmt"
)

// EnhancedKeyRow mirrors one cache_keys_v2 row.
type EnhancedKeyRow struct {
	BaseKeyHash     string
	EnhancedKey     string
	LegacyKeyHash   string
	TestName        string
	URLPattern      string
	Profile         string
	DOMSignature    string
	StepsHash       string
	Selector        string
	Confidence      float64
	UseCount        int64
	CreatedAt       int64
	LastUsed        int64
	MigrationSource string
}

// UpsertEnhancedKey inserts a new cache_keys_v2 row or, on conflict with
// the same base_key_hash, updates last_used and confidence the same way
// selector_cache does.
func UpsertEnhancedKey(db *sql.DB, r EnhancedKeyRow, gain float64, now int64) error {
	_, err := db.Exec(`
		INSERT INTO cache_keys_v2 (base_key_hash, enhanced_key, legacy_key_hash, test_name, url_pattern, profile, dom_signature, steps_hash, selector, confidence, use_count, created_at, last_used, migration_source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0.5, 1, ?, ?, NULL)
		ON CONFLICT(base_key_hash) DO UPDATE SET
			selector = excluded.selector,
			last_used = excluded.last_used,
			use_count = use_count + 1,
			confidence = MIN(1.0, confidence * ?)
	`, r.BaseKeyHash, r.EnhancedKey, r.LegacyKeyHash, r.TestName, r.URLPattern, r.Profile, nullIfEmpty(r.DOMSignature), r.StepsHash, r.Selector, now, now, gain)
	if err != nil {
		return fmt.Errorf("upsert enhanced key: %w", err)
	}
	return nil
}

// GetEnhancedKeyExact looks up a row by its exact base_key_hash; an exact
// hit short-circuits the enhanced-key lookup to source=exact.
func GetEnhancedKeyExact(db *sql.DB, baseKeyHash string) (*EnhancedKeyRow, error) {
	row := db.QueryRow(`
		SELECT base_key_hash, enhanced_key, legacy_key_hash, test_name, url_pattern, profile, COALESCE(dom_signature,''), steps_hash, selector, confidence, use_count, created_at, last_used, COALESCE(migration_source,'')
		FROM cache_keys_v2 WHERE base_key_hash = ?`, baseKeyHash)
	return scanEnhancedKey(row)
}

// CandidatesByURLPatternOrProfile returns up to limit rows sharing the
// given URL pattern or profile, for the enhanced-key near-match scan.
func CandidatesByURLPatternOrProfile(db *sql.DB, urlPattern, profile string, limit int) ([]EnhancedKeyRow, error) {
	rows, err := db.Query(`
		SELECT base_key_hash, enhanced_key, legacy_key_hash, test_name, url_pattern, profile, COALESCE(dom_signature,''), steps_hash, selector, confidence, use_count, created_at, last_used, COALESCE(migration_source,'')
		FROM cache_keys_v2 WHERE url_pattern = ? OR profile = ? LIMIT ?`, urlPattern, profile, limit)
	if err != nil {
		return nil, fmt.Errorf("query enhanced key candidates: %w", err)
	}
	defer rows.Close()

	var out []EnhancedKeyRow
	for rows.Next() {
		r, err := scanEnhancedKeyRows(rows)
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TouchEnhancedKey bumps last_used on a read hit without inflating
// confidence or use_count.
func TouchEnhancedKey(db *sql.DB, baseKeyHash string, now int64) error {
	_, err := db.Exec("UPDATE cache_keys_v2 SET last_used = ? WHERE base_key_hash = ?", now, baseKeyHash)
	if err != nil {
		return fmt.Errorf("touch enhanced key: %w", err)
	}
	return nil
}

func scanEnhancedKey(row *sql.Row) (*EnhancedKeyRow, error) {
	var r EnhancedKeyRow
	err := row.Scan(&r.BaseKeyHash, &r.EnhancedKey, &r.LegacyKeyHash, &r.TestName, &r.URLPattern, &r.Profile, &r.DOMSignature, &r.StepsHash, &r.Selector, &r.Confidence, &r.UseCount, &r.CreatedAt, &r.LastUsed, &r.MigrationSource)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan enhanced key: %w", err)
	}
	return &r, nil
}

func scanEnhancedKeyRows(rows *sql.Rows) (EnhancedKeyRow, error) {
	var r EnhancedKeyRow
	err := rows.Scan(&r.BaseKeyHash, &r.EnhancedKey, &r.LegacyKeyHash, &r.TestName, &r.URLPattern, &r.Profile, &r.DOMSignature, &r.StepsHash, &r.Selector, &r.Confidence, &r.UseCount, &r.CreatedAt, &r.LastUsed, &r.MigrationSource)
	return r, err
}
