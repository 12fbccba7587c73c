// Package selectorcache is the bidirectional selector cache for a
// browser-automation control layer: given a natural-language
// description of a UI element and a page URL it returns a previously-
// proven selector with a confidence score, and learns continuously from
// every successful and failed resolution.
//
// This package is the library contract; it owns nothing about how
// selectors are applied — callers supply an operation callback and this
// package decides which selector string to try.
package selectorcache

import (
	"path/filepath"
	"time"

	"selectorcache/internal/browser"
	"selectorcache/internal/cache"
	"selectorcache/internal/config"
	"selectorcache/internal/domsig"
	"selectorcache/internal/enhancedkey"
	"selectorcache/internal/logging"
	"selectorcache/internal/similarity"
	"selectorcache/internal/store"
)

// domSignatureOf computes a page snapshot's combined DOM signature string.
func domSignatureOf(snap *browser.Snapshot) string {
	return domsig.Compute(snap).String()
}

// dbFileName names the on-disk layout: a single SQLite file under the
// project's cache directory, with WAL's -wal/-shm companions alongside
// it.
const dbFileName = "bidirectional-cache.db"

// Cache is the top-level handle: tiered in-memory front, bidirectional
// cache, and the durable store underneath, plus the periodic sweep
// worker that enforces TTLs and the variation cap.
type Cache struct {
	tiered *cache.TieredCache
	back   *cache.Cache
	store  *store.Store
	cfg    *config.Config
}

// Open constructs the cache rooted at projectRoot
// (<projectRoot>/.claude-playwright/cache/bidirectional-cache.db),
// loading configuration from configPath (falling back to defaults if
// absent), initializing logging, opening the store, and starting the
// periodic sweep worker.
func Open(projectRoot, configPath string) (*Cache, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err := logging.Initialize(projectRoot, cfg.Logging.DebugMode, cfg.Logging.Categories, cfg.Logging.Level, cfg.Logging.Format == "json"); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(projectRoot, ".claude-playwright", "cache", dbFileName)
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}

	back := cache.New(st, cfg.Tunables, cfg.MemorySize)
	tiered := cache.NewTiered(back, cfg.MemorySize, time.Duration(cfg.MemoryTTLMs)*time.Millisecond)

	st.StartSweep(store.SweepConfig{
		Interval:      time.Duration(cfg.CleanupIntervalMs) * time.Millisecond,
		SelectorTTLMs: cfg.SelectorTTLMs,
		VariationCap:  cfg.MaxVariationsPerSelector,
	})

	return &Cache{tiered: tiered, back: back, store: st, cfg: cfg}, nil
}

// GetResult is what Get returns on a hit.
type GetResult struct {
	Selector   string
	Confidence float64
	Source     cache.Source
	Cached     bool
}

// Get resolves a natural-language description against url through the
// tiered front cache and, on a miss there, the four-level lookup
// ladder. Returns nil, nil on a clean miss.
func (c *Cache) Get(input, url string) (*GetResult, error) {
	res, err := c.tiered.Get(input, url, similarity.OpCacheLookup)
	if err != nil || res == nil {
		return nil, err
	}
	return &GetResult{Selector: res.Selector, Confidence: res.Confidence, Source: res.Source, Cached: true}, nil
}

// Set records a confirmed input-to-selector mapping.
func (c *Cache) Set(input, url, selector string) error {
	return c.tiered.Set(input, url, selector)
}

// InvalidateSelector removes every mapping for selector+url and
// garbage-collects the selector record if nothing else references it.
func (c *Cache) InvalidateSelector(selector, url string) error {
	return c.tiered.InvalidateSelector(selector, url)
}

// InvalidateForURL clears the front-tier LRU for url. The durable store
// is unaffected — invalidation there is always selector-scoped.
func (c *Cache) InvalidateForURL(url string) {
	c.tiered.InvalidateForURL(url)
}

// WrapResult is what WrapSelectorOperation returns.
type WrapResult[T any] struct {
	Value    T
	Cached   bool
	Selector string
	Duration time.Duration
}

// WrapSelectorOperation resolves description against url, trying the
// cached selector first, then the universal fallback list (seeded with
// the optional fallback selector string), recording whichever selector
// worked. Go methods cannot carry their own type parameters, so this is
// a package-level generic function rather than a *Cache method.
func WrapSelectorOperation[T any](c *Cache, description, url string, operation func(selector string) (T, error), fallback string) (WrapResult[T], error) {
	start := time.Now()
	var usedSelector string
	var cached bool

	wrapped := func(selector string) (T, error) {
		usedSelector = selector
		out, err := operation(selector)
		if err == nil {
			cached = true
		}
		return out, err
	}

	value, err := cache.WrapSelectorOperation(c.tiered, description, url, wrapped, fallback)
	return WrapResult[T]{Value: value, Cached: cached, Selector: usedSelector, Duration: time.Since(start)}, err
}

// GetWithPage is the DOM-signature-augmented variant of Get: it tries
// the ordinary ladder first and, only on a miss and only when page is
// non-nil, scores the page's live DOM signature against other URLs this
// process has recently seen, accepting a selector proven on a
// structurally identical page elsewhere. This is how a selector
// survives a staging-to-production promotion without an explicit
// enhanced key.
func (c *Cache) GetWithPage(input, url string, page browser.PageAccessor) (*GetResult, error) {
	res, err := c.back.GetWithSignature(input, url, page, similarity.OpCacheLookup)
	if err != nil || res == nil {
		return nil, err
	}
	return &GetResult{Selector: res.Selector, Confidence: res.Confidence, Source: res.Source, Cached: true}, nil
}

// GetEnhanced resolves a test's recorded flow by its composite key.
// page is optional; when nil, DOM-signature scoring degrades to 0
// contribution rather than erroring.
func (c *Cache) GetEnhanced(testName, url string, steps []enhancedkey.Step, profile string, page browser.PageAccessor) (*GetResult, error) {
	key := enhancedkey.Key{
		SchemaVersion: enhancedkey.SchemaVersion,
		TestName:      testName,
		URL:           url,
		Steps:         steps,
		Profile:       profile,
	}
	if page != nil {
		if snap, err := page.Snapshot(); err == nil {
			key.DOMSignature = domSignatureOf(snap)
		}
	}

	res, err := c.back.GetEnhanced(key)
	if err != nil || res == nil {
		return nil, err
	}
	return &GetResult{Selector: res.Selector, Confidence: res.Confidence, Source: res.Source, Cached: true}, nil
}

// SetEnhanced records the enhanced key for a test's recorded flow
// against the selector that resolved it.
func (c *Cache) SetEnhanced(testName, url string, steps []enhancedkey.Step, profile string, page browser.PageAccessor, selector string) error {
	key := enhancedkey.Key{
		SchemaVersion: enhancedkey.SchemaVersion,
		TestName:      testName,
		URL:           url,
		Steps:         steps,
		Profile:       profile,
	}
	if page != nil {
		if snap, err := page.Snapshot(); err == nil {
			key.DOMSignature = domSignatureOf(snap)
		}
	}
	return c.back.SetEnhanced(key, selector)
}

// GetSnapshot returns a cached page snapshot for key, falling back to
// DOM-signature similarity against other snapshots for url when page is
// supplied.
func (c *Cache) GetSnapshot(key, url string, page browser.PageAccessor) (*cache.SnapshotResult, error) {
	var signature string
	if page != nil {
		if snap, err := page.Snapshot(); err == nil {
			signature = domSignatureOf(snap)
		}
	}
	return c.back.GetSnapshot(key, url, signature)
}

// SetSnapshot stores a page snapshot under key with the given absolute
// TTL. If ttl is zero, the configured default snapshot TTL is used.
func (c *Cache) SetSnapshot(key, url string, data []byte, contentType, profile string, viewportW, viewportH int, page browser.PageAccessor, ttl time.Duration) error {
	if ttl == 0 {
		ttl = time.Duration(c.cfg.SnapshotTTLMs) * time.Millisecond
	}
	var signature string
	if page != nil {
		if snap, err := page.Snapshot(); err == nil {
			signature = domSignatureOf(snap)
		}
	}
	return c.back.PutSnapshot(key, url, data, contentType, viewportW, viewportH, profile, signature, ttl.Milliseconds())
}

// NewSnapshotKey builds a disambiguated cache key for a caller with no
// natural stable key of its own.
func NewSnapshotKey(urlSeed string) string {
	return cache.NewSnapshotCacheKey(urlSeed)
}

// Stats returns the current counters.
func (c *Cache) Stats() store.Stats {
	return c.back.Stats()
}

// Health runs the store's invariant probes.
func (c *Cache) Health() store.HealthReport {
	return c.back.Health()
}

// Clear removes every selector, mapping, snapshot, and enhanced-key
// record and resets the stats counters.
func (c *Cache) Clear() error {
	return c.store.Clear()
}

// Close stops the sweep worker and the async learning worker, closes
// the store, and flushes the log files.
func (c *Cache) Close() error {
	c.store.StopSweep()
	c.back.Close()
	err := c.store.Close()
	logging.CloseAll()
	return err
}
