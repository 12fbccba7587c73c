package store

import (
	"database/sql"
	"fmt"
)

// Mapping mirrors one input_mappings row.
type Mapping struct {
	ID              int64
	SelectorHash    string
	Input           string
	NormalizedInput string
	InputTokensJSON string
	URL             string
	SuccessCount    int64
	LastUsed        int64
	Confidence      float64
	LearnedFrom     string
}

// UpsertMapping inserts a new input_mappings row or, on conflict,
// increments success_count, multiplies confidence by gain (capped at
// 1.0), and replaces the raw input only if the new one is longer.
func UpsertMapping(tx *sql.Tx, m Mapping, gain float64, now int64) error {
	_, err := tx.Exec(`
		INSERT INTO input_mappings (selector_hash, input, normalized_input, input_tokens, url, success_count, last_used, confidence, learned_from)
		VALUES (?, ?, ?, ?, ?, 1, ?, 0.5, ?)
		ON CONFLICT(selector_hash, normalized_input, url) DO UPDATE SET
			success_count = success_count + 1,
			last_used = excluded.last_used,
			confidence = MIN(1.0, confidence * ?),
			input = CASE WHEN length(excluded.input) > length(input) THEN excluded.input ELSE input END
	`, m.SelectorHash, m.Input, m.NormalizedInput, m.InputTokensJSON, m.URL, now, m.LearnedFrom, gain)
	if err != nil {
		return fmt.Errorf("upsert mapping: %w", err)
	}
	return nil
}

// InsertLearnedMapping records a synthetic pattern-learned mapping if one
// doesn't already exist — ON CONFLICT keeps the stronger existing
// record rather than shadowing a direct mapping.
func InsertLearnedMapping(db *sql.DB, m Mapping, now int64) error {
	_, err := db.Exec(`
		INSERT INTO input_mappings (selector_hash, input, normalized_input, input_tokens, url, success_count, last_used, confidence, learned_from)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, 'pattern')
		ON CONFLICT(selector_hash, normalized_input, url) DO NOTHING
	`, m.SelectorHash, m.Input, m.NormalizedInput, m.InputTokensJSON, m.URL, now, m.Confidence)
	if err != nil {
		return fmt.Errorf("insert learned mapping: %w", err)
	}
	return nil
}

// ExactMatch returns the highest confidence/success mapping where both
// input and url match literally.
func ExactMatch(q querier, input, url string) (*Mapping, error) {
	row := q.QueryRow(`
		SELECT id, selector_hash, input, normalized_input, input_tokens, url, success_count, last_used, confidence, learned_from
		FROM input_mappings WHERE input = ? AND url = ?
		ORDER BY confidence DESC, success_count DESC LIMIT 1`, input, url)
	return scanMapping(row)
}

// NormalizedMatch returns the best mapping whose normalized_input matches.
func NormalizedMatch(q querier, normalizedInput, url string) (*Mapping, error) {
	row := q.QueryRow(`
		SELECT id, selector_hash, input, normalized_input, input_tokens, url, success_count, last_used, confidence, learned_from
		FROM input_mappings WHERE normalized_input = ? AND url = ?
		ORDER BY confidence DESC, success_count DESC LIMIT 1`, normalizedInput, url)
	return scanMapping(row)
}

func scanMapping(row *sql.Row) (*Mapping, error) {
	var m Mapping
	err := row.Scan(&m.ID, &m.SelectorHash, &m.Input, &m.NormalizedInput, &m.InputTokensJSON, &m.URL, &m.SuccessCount, &m.LastUsed, &m.Confidence, &m.LearnedFrom)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan mapping: %w", err)
	}
	return &m, nil
}

// CandidatesForURL returns every mapping sharing url with a non-empty
// normalized_input, for reverse-lookup scoring.
func CandidatesForURL(q querier, url string, limit int) ([]Mapping, error) {
	rows, err := q.Query(`
		SELECT id, selector_hash, input, normalized_input, input_tokens, url, success_count, last_used, confidence, learned_from
		FROM input_mappings WHERE url = ? AND normalized_input != '' LIMIT ?`, url, limit)
	if err != nil {
		return nil, fmt.Errorf("query reverse candidates: %w", err)
	}
	return scanMappings(rows)
}

// RecentCandidates returns mappings last used at or after sinceMs, for
// fuzzy DL-distance scoring.
func RecentCandidates(q querier, url string, sinceMs int64, limit int) ([]Mapping, error) {
	rows, err := q.Query(`
		SELECT id, selector_hash, input, normalized_input, input_tokens, url, success_count, last_used, confidence, learned_from
		FROM input_mappings WHERE url = ? AND last_used >= ? LIMIT ?`, url, sinceMs, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent candidates: %w", err)
	}
	return scanMappings(rows)
}

// MappingsForSelectorURL returns every mapping for a given selector+URL,
// most-confident first — used by the learning step to find peer patterns.
func MappingsForSelectorURL(q querier, selectorHash, url string) ([]Mapping, error) {
	rows, err := q.Query(`
		SELECT id, selector_hash, input, normalized_input, input_tokens, url, success_count, last_used, confidence, learned_from
		FROM input_mappings WHERE selector_hash = ? AND url = ?
		ORDER BY confidence DESC, success_count DESC, last_used DESC`, selectorHash, url)
	if err != nil {
		return nil, fmt.Errorf("query selector/url mappings: %w", err)
	}
	return scanMappings(rows)
}

func scanMappings(rows *sql.Rows) ([]Mapping, error) {
	defer rows.Close()
	var out []Mapping
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.ID, &m.SelectorHash, &m.Input, &m.NormalizedInput, &m.InputTokensJSON, &m.URL, &m.SuccessCount, &m.LastUsed, &m.Confidence, &m.LearnedFrom); err != nil {
			continue // malformed row: skip, never propagate
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// TouchMapping bumps last_used on a read hit without inflating
// success_count or confidence — reads and writes move different
// counters; a read hit is not itself a recorded success.
func TouchMapping(db *sql.DB, id int64, now int64) error {
	_, err := db.Exec("UPDATE input_mappings SET last_used = ? WHERE id = ?", now, id)
	if err != nil {
		return fmt.Errorf("touch mapping: %w", err)
	}
	return nil
}

// DeleteMappingsForSelectorURL deletes every mapping for a selector+url in
// one transaction.
func DeleteMappingsForSelectorURL(tx *sql.Tx, selectorHash, url string) error {
	_, err := tx.Exec("DELETE FROM input_mappings WHERE selector_hash = ? AND url = ?", selectorHash, url)
	if err != nil {
		return fmt.Errorf("delete mappings for selector/url: %w", err)
	}
	return nil
}

// DeleteExpiredMappings removes mappings whose last_used + ttlMs has
// passed (periodic sweep).
func DeleteExpiredMappings(db *sql.DB, ttlMs, now int64) (int64, error) {
	res, err := db.Exec("DELETE FROM input_mappings WHERE last_used + ? < ?", ttlMs, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired mappings: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PruneVariations keeps only the top-K mappings per (selector_hash, url)
// ordered by (confidence DESC, success_count DESC, last_used DESC),
// deleting the rest.
func PruneVariations(db *sql.DB, cap int) (int64, error) {
	res, err := db.Exec(`
		DELETE FROM input_mappings
		WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY selector_hash, url
					ORDER BY confidence DESC, success_count DESC, last_used DESC
				) AS rn
				FROM input_mappings
			) ranked WHERE rn > ?
		)`, cap)
	if err != nil {
		return 0, fmt.Errorf("prune variations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteOrphanedSelectors removes every selector_cache row with no
// remaining input_mappings reference (periodic sweep).
func DeleteOrphanedSelectors(db *sql.DB) (int64, error) {
	res, err := db.Exec(`
		DELETE FROM selector_cache
		WHERE selector_hash NOT IN (SELECT DISTINCT selector_hash FROM input_mappings)`)
	if err != nil {
		return 0, fmt.Errorf("delete orphaned selectors: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
