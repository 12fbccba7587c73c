package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Snapshot mirrors one snapshot_cache row.
type Snapshot struct {
	CacheKey      string
	URL           string
	DOMHash       string
	Data          []byte
	ContentType   string
	ViewportW     int
	ViewportH     int
	Profile       string
	CreatedAt     int64
	LastUsed      int64
	TTL           int64
	HitCount      int64
	DOMSignature  string
	CriticalHash  string
	ImportantHash string
	ContextHash   string
}

// NewSnapshotCacheKey builds a cache key from a caller-supplied seed (the
// page URL is typical) plus a random suffix, for callers that have no
// natural stable key of their own and would otherwise collide.
func NewSnapshotCacheKey(seed string) string {
	return seed + "#" + uuid.NewString()
}

// PutSnapshot inserts or replaces a snapshot row.
func PutSnapshot(db *sql.DB, s Snapshot) error {
	_, err := db.Exec(`
		INSERT INTO snapshot_cache (cache_key, url, dom_hash, snapshot_data, content_type, viewport_w, viewport_h, profile, created_at, last_used, ttl, hit_count, dom_signature, critical_hash, important_hash, context_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			url = excluded.url, dom_hash = excluded.dom_hash, snapshot_data = excluded.snapshot_data,
			content_type = excluded.content_type, viewport_w = excluded.viewport_w, viewport_h = excluded.viewport_h,
			profile = excluded.profile, last_used = excluded.last_used, ttl = excluded.ttl,
			dom_signature = excluded.dom_signature, critical_hash = excluded.critical_hash,
			important_hash = excluded.important_hash, context_hash = excluded.context_hash
	`, s.CacheKey, s.URL, s.DOMHash, s.Data, s.ContentType, s.ViewportW, s.ViewportH, s.Profile,
		s.CreatedAt, s.LastUsed, s.TTL, s.DOMSignature, s.CriticalHash, s.ImportantHash, s.ContextHash)
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns a snapshot by key if it exists and has not passed
// its absolute TTL (created_at + ttl); an expired row is never
// returned, and a hit touches last_used and hit_count.
func GetSnapshot(db *sql.DB, cacheKey string, now int64) (*Snapshot, error) {
	row := db.QueryRow(`
		SELECT cache_key, url, dom_hash, snapshot_data, content_type, viewport_w, viewport_h, profile, created_at, last_used, ttl, hit_count, COALESCE(dom_signature,''), COALESCE(critical_hash,''), COALESCE(important_hash,''), COALESCE(context_hash,'')
		FROM snapshot_cache WHERE cache_key = ? AND created_at + ttl >= ?`, cacheKey, now)

	s, err := scanSnapshot(row)
	if err != nil || s == nil {
		return s, err
	}

	if _, err := db.Exec("UPDATE snapshot_cache SET last_used = ?, hit_count = hit_count + 1 WHERE cache_key = ?", now, cacheKey); err == nil {
		s.LastUsed = now
		s.HitCount++
	}
	return s, nil
}

// SnapshotCandidatesForURL returns unexpired snapshots for a URL, for DOM-
// signature-similarity fallback.
func SnapshotCandidatesForURL(db *sql.DB, url string, now int64, limit int) ([]Snapshot, error) {
	rows, err := db.Query(`
		SELECT cache_key, url, dom_hash, snapshot_data, content_type, viewport_w, viewport_h, profile, created_at, last_used, ttl, hit_count, COALESCE(dom_signature,''), COALESCE(critical_hash,''), COALESCE(important_hash,''), COALESCE(context_hash,'')
		FROM snapshot_cache WHERE url = ? AND created_at + ttl >= ? LIMIT ?`, url, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshot candidates: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		s, err := scanSnapshotRows(rows)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSnapshot(row *sql.Row) (*Snapshot, error) {
	var s Snapshot
	err := row.Scan(&s.CacheKey, &s.URL, &s.DOMHash, &s.Data, &s.ContentType, &s.ViewportW, &s.ViewportH, &s.Profile,
		&s.CreatedAt, &s.LastUsed, &s.TTL, &s.HitCount, &s.DOMSignature, &s.CriticalHash, &s.ImportantHash, &s.ContextHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	return &s, nil
}

func scanSnapshotRows(rows *sql.Rows) (Snapshot, error) {
	var s Snapshot
	err := rows.Scan(&s.CacheKey, &s.URL, &s.DOMHash, &s.Data, &s.ContentType, &s.ViewportW, &s.ViewportH, &s.Profile,
		&s.CreatedAt, &s.LastUsed, &s.TTL, &s.HitCount, &s.DOMSignature, &s.CriticalHash, &s.ImportantHash, &s.ContextHash)
	return s, err
}

// DeleteExpiredSnapshots removes snapshots past their absolute TTL
// (periodic sweep).
func DeleteExpiredSnapshots(db *sql.DB, now int64) (int64, error) {
	res, err := db.Exec("DELETE FROM snapshot_cache WHERE created_at + ttl < ?", now)
	if err != nil {
		return 0, fmt.Errorf("delete expired snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
