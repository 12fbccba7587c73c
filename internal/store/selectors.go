package store

import (
	"database/sql"
	"fmt"
)

// Selector mirrors one selector_cache row.
type Selector struct {
	SelectorHash string
	Selector     string
	URL          string
	Confidence   float64
	CreatedAt    int64
	LastUsed     int64
	UseCount     int64
	DOMSignature string
}

// UpsertSelector inserts a new selector record or, on conflict, updates
// last_used, increments use_count, and multiplies confidence by gain,
// capped at 1.0.
func UpsertSelector(tx *sql.Tx, selectorHash, selector, url, domSignature string, gain float64, now int64) error {
	_, err := tx.Exec(`
		INSERT INTO selector_cache (selector_hash, selector, url, confidence, created_at, last_used, use_count, dom_signature)
		VALUES (?, ?, ?, 0.5, ?, ?, 1, ?)
		ON CONFLICT(selector_hash) DO UPDATE SET
			url = excluded.url,
			last_used = excluded.last_used,
			use_count = use_count + 1,
			confidence = MIN(1.0, confidence * ?),
			dom_signature = COALESCE(excluded.dom_signature, dom_signature)
	`, selectorHash, selector, url, now, now, nullIfEmpty(domSignature), gain)
	if err != nil {
		return fmt.Errorf("upsert selector: %w", err)
	}
	return nil
}

// GetSelector fetches one selector record by hash.
func GetSelector(q querier, selectorHash string) (*Selector, error) {
	row := q.QueryRow(`
		SELECT selector_hash, selector, url, confidence, created_at, last_used, use_count, COALESCE(dom_signature, '')
		FROM selector_cache WHERE selector_hash = ?`, selectorHash)

	var s Selector
	err := row.Scan(&s.SelectorHash, &s.Selector, &s.URL, &s.Confidence, &s.CreatedAt, &s.LastUsed, &s.UseCount, &s.DOMSignature)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get selector: %w", err)
	}
	return &s, nil
}

// TouchSelector bumps last_used on a read hit.
func TouchSelector(db *sql.DB, selectorHash string, now int64) error {
	_, err := db.Exec("UPDATE selector_cache SET last_used = ? WHERE selector_hash = ?", now, selectorHash)
	if err != nil {
		return fmt.Errorf("touch selector: %w", err)
	}
	return nil
}

// DeleteSelectorIfOrphaned removes a selector_cache row if no mapping
// anywhere still references it — the cascade applies only when the
// selector has no remaining referents.
func DeleteSelectorIfOrphaned(tx *sql.Tx, selectorHash string) error {
	var count int
	err := tx.QueryRow("SELECT COUNT(*) FROM input_mappings WHERE selector_hash = ?", selectorHash).Scan(&count)
	if err != nil {
		return fmt.Errorf("count mappings for selector: %w", err)
	}
	if count > 0 {
		return nil
	}
	if _, err := tx.Exec("DELETE FROM selector_cache WHERE selector_hash = ?", selectorHash); err != nil {
		return fmt.Errorf("delete orphaned selector: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx for read helpers that
// don't need transactional write guarantees.
type querier interface {
	QueryRow(query string, args ...interface{}) *sql.Row
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
