package store

// CurrentSchemaVersion is the schema_meta version this build writes.
// v1: selector_cache + input_mappings + snapshot_cache.
// v2: cache_keys_v2 (enhanced-key table) added.
const CurrentSchemaVersion = 2

const schemaDDL = `
CREATE TABLE IF NOT EXISTS selector_cache (
	selector_hash TEXT PRIMARY KEY,
	selector      TEXT NOT NULL,
	url           TEXT NOT NULL,
	confidence    REAL NOT NULL DEFAULT 0.5,
	created_at    INTEGER NOT NULL,
	last_used     INTEGER NOT NULL,
	use_count     INTEGER NOT NULL DEFAULT 0,
	dom_signature TEXT
);

CREATE TABLE IF NOT EXISTS input_mappings (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	selector_hash     TEXT NOT NULL REFERENCES selector_cache(selector_hash),
	input             TEXT NOT NULL,
	normalized_input  TEXT NOT NULL,
	input_tokens      TEXT NOT NULL,
	url               TEXT NOT NULL,
	success_count     INTEGER NOT NULL DEFAULT 1,
	last_used         INTEGER NOT NULL,
	confidence        REAL NOT NULL DEFAULT 0.5,
	learned_from      TEXT NOT NULL DEFAULT 'direct',
	UNIQUE(selector_hash, normalized_input, url)
);

CREATE TABLE IF NOT EXISTS snapshot_cache (
	cache_key      TEXT PRIMARY KEY,
	url            TEXT NOT NULL,
	dom_hash       TEXT NOT NULL,
	snapshot_data  BLOB NOT NULL,
	content_type   TEXT NOT NULL DEFAULT 'application/octet-stream',
	viewport_w     INTEGER NOT NULL DEFAULT 0,
	viewport_h     INTEGER NOT NULL DEFAULT 0,
	profile        TEXT NOT NULL DEFAULT 'default',
	created_at     INTEGER NOT NULL,
	last_used      INTEGER NOT NULL,
	ttl            INTEGER NOT NULL,
	hit_count      INTEGER NOT NULL DEFAULT 0,
	dom_signature  TEXT,
	critical_hash  TEXT,
	important_hash TEXT,
	context_hash   TEXT
);

CREATE TABLE IF NOT EXISTS cache_keys_v2 (
	base_key_hash     TEXT PRIMARY KEY,
	enhanced_key      TEXT NOT NULL,
	legacy_key_hash   TEXT NOT NULL,
	test_name         TEXT NOT NULL,
	url_pattern       TEXT NOT NULL,
	profile           TEXT NOT NULL,
	dom_signature     TEXT,
	steps_hash        TEXT NOT NULL,
	selector          TEXT NOT NULL,
	confidence        REAL NOT NULL DEFAULT 0.5,
	use_count         INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL,
	last_used         INTEGER NOT NULL,
	migration_source  TEXT
);

CREATE TABLE IF NOT EXISTS schema_meta (
	version    INTEGER NOT NULL,
	applied_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_selector_cache_url ON selector_cache(url);
CREATE INDEX IF NOT EXISTS idx_selector_cache_domsig ON selector_cache(dom_signature);
CREATE INDEX IF NOT EXISTS idx_input_mappings_norm_url ON input_mappings(normalized_input, url);
CREATE INDEX IF NOT EXISTS idx_input_mappings_selector ON input_mappings(selector_hash);
CREATE INDEX IF NOT EXISTS idx_input_mappings_last_used ON input_mappings(last_used);
CREATE INDEX IF NOT EXISTS idx_snapshot_cache_url ON snapshot_cache(url);
CREATE INDEX IF NOT EXISTS idx_snapshot_cache_last_used ON snapshot_cache(last_used);
CREATE INDEX IF NOT EXISTS idx_cache_keys_v2_url_pattern ON cache_keys_v2(url_pattern);
CREATE INDEX IF NOT EXISTS idx_cache_keys_v2_profile ON cache_keys_v2(profile);
`
