package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"selectorcache/internal/logging"
	"selectorcache/internal/similarity"
)

// entry is one in-memory LRU slot: a resolved selector plus the
// confidence it was stored with.
type entry struct {
	selector   string
	confidence float64
	source     Source
}

// TieredCache fronts a Cache with a small in-process, idle-TTL-bounded
// LRU so repeated lookups for the same input+URL within a test run never
// touch SQLite at all.
type TieredCache struct {
	back *Cache
	lru  *expirable.LRU[string, entry]
}

// NewTiered wraps back with a front LRU of the given capacity and idle
// TTL.
func NewTiered(back *Cache, capacity int, idleTTL time.Duration) *TieredCache {
	return &TieredCache{
		back: back,
		lru:  expirable.NewLRU[string, entry](capacity, nil, idleTTL),
	}
}

func lruKey(input, url string) string {
	return strings.ToLower(strings.TrimSpace(input)) + "|" + url
}

// Get checks the front LRU first; on a miss it falls through to the
// backing Cache and, on a hit there, seeds the LRU with the resolved
// entry plus up to eight cheap input variations at a discounted
// confidence, pre-inserting up to 8 variations.
func (t *TieredCache) Get(input, url string, op similarity.Operation) (*Result, error) {
	key := lruKey(input, url)
	if e, ok := t.lru.Get(key); ok {
		logging.TieredDebug("lru hit for %s", key)
		return &Result{Selector: e.selector, Confidence: e.confidence, Source: e.source}, nil
	}

	res, err := t.back.Get(input, url, op)
	if err != nil || res == nil {
		return res, err
	}

	t.lru.Add(key, entry{selector: res.Selector, confidence: res.Confidence, source: res.Source})
	t.seedVariations(input, url, res)
	return res, nil
}

// seedVariations pre-inserts cheap lexical variations of input into the
// LRU (lowercasing is already implicit in lruKey; here it's stopword
// removal, article dropping, and action-synonym substitution) at
// VariationConfidenceDiscount, so a near-identical phrasing on the next
// lookup still front-hits without reaching the backing store.
func (t *TieredCache) seedVariations(input, url string, res *Result) {
	discounted := entry{
		selector:   res.Selector,
		confidence: res.confidenceDiscounted(t.back.tun.VariationConfidenceDiscount),
		source:     SourceNormalized,
	}

	seen := map[string]bool{lruKey(input, url): true}
	count := 0
	for _, variant := range generateVariations(input) {
		if count >= 8 {
			break
		}
		key := lruKey(variant, url)
		if seen[key] {
			continue
		}
		seen[key] = true
		t.lru.Add(key, discounted)
		count++
	}
}

func (r *Result) confidenceDiscounted(factor float64) float64 {
	c := r.Confidence * factor
	if c > 1.0 {
		return 1.0
	}
	return c
}

// Set writes through to the backing Cache and invalidates any LRU entry
// for the same input+URL so a stale front-cached selector never outlives
// a fresh set().
func (t *TieredCache) Set(input, url, selector string) error {
	t.lru.Remove(lruKey(input, url))
	return t.back.Set(input, url, selector)
}

// InvalidateSelector evicts every LRU entry whose selector matches and
// invalidates the backing store.
func (t *TieredCache) InvalidateSelector(selector, url string) error {
	for _, key := range t.lru.Keys() {
		if e, ok := t.lru.Peek(key); ok && e.selector == selector {
			t.lru.Remove(key)
		}
	}
	return t.back.InvalidateSelector(selector, url)
}

// InvalidateForURL evicts every LRU entry for url, clearing the whole
// tier for that page.
func (t *TieredCache) InvalidateForURL(url string) {
	suffix := "|" + url
	for _, key := range t.lru.Keys() {
		if strings.HasSuffix(key, suffix) {
			t.lru.Remove(key)
		}
	}
}

// WrapSelectorOperation looks up a cached selector for description and
// tries it; on failure it falls through the universal fallback list
// (seeded with the optional fallback selector string); on any success it
// records the winning selector back into the cache; if nothing works, it
// returns the last attempt's error.
func WrapSelectorOperation[T any](t *TieredCache, description, url string, operation func(selector string) (T, error), fallback string) (T, error) {
	var zero T
	var lastErr error

	if res, err := t.Get(description, url, similarity.OpTestSearch); err == nil && res != nil {
		out, opErr := operation(res.Selector)
		if opErr == nil {
			if err := t.Set(description, url, res.Selector); err != nil {
				logging.TieredWarn("failed to reinforce cached selector %q: %v", res.Selector, err)
			}
			return out, nil
		}
		lastErr = opErr
		logging.TieredWarn("cached selector %q failed for %q, falling back", res.Selector, description)
		if err := t.InvalidateSelector(res.Selector, url); err != nil {
			logging.TieredWarn("failed to invalidate stale selector %q: %v", res.Selector, err)
		}
	}

	for _, candidate := range universalFallbacks(description, fallback) {
		out, opErr := operation(candidate)
		if opErr == nil {
			if err := t.Set(description, url, candidate); err != nil {
				logging.TieredWarn("failed to record working fallback selector: %v", err)
			}
			return out, nil
		}
		lastErr = opErr
	}

	if lastErr != nil {
		return zero, lastErr
	}
	return zero, fmt.Errorf("no selector (cached or fallback) resolved %q", description)
}
