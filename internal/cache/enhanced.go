package cache

import (
	"fmt"

	"selectorcache/internal/cacheerr"
	"selectorcache/internal/domsig"
	"selectorcache/internal/enhancedkey"
	"selectorcache/internal/normalize"
	"selectorcache/internal/store"
)

// GetEnhanced looks up a test's recorded flow by its composite key: an
// exact base_key_hash hit short-circuits to source=exact, otherwise a
// weighted near-match scan over rows sharing URL pattern or profile can
// still accept a candidate above the configured threshold.
func (c *Cache) GetEnhanced(key enhancedkey.Key) (*Result, error) {
	db := c.store.DB()
	if db == nil {
		return nil, fmt.Errorf("%w: store is closed", cacheerr.ErrStorageIO)
	}
	now := nowMs()
	baseHash := key.BaseKeyHash()

	row, err := store.GetEnhancedKeyExact(db, baseHash)
	if err != nil {
		return nil, c.wrapStorageErr("enhanced exact lookup", err)
	}
	if row != nil {
		_ = store.TouchEnhancedKey(db, baseHash, now)
		c.store.IncrHit(store.HitExact)
		return &Result{Selector: row.Selector, Confidence: row.Confidence, Source: SourceExact}, nil
	}

	urlPattern := enhancedkey.URLPattern(key.URL)
	candidates, err := store.CandidatesByURLPatternOrProfile(db, urlPattern, key.Profile, 50)
	if err != nil {
		return nil, c.wrapStorageErr("enhanced candidate scan", err)
	}

	queryTokens := normalize.Normalize(key.TestName).Tokens
	best, bestScore, found := bestEnhancedCandidate(key, urlPattern, queryTokens, candidates)
	if !found || bestScore < c.tun.EnhancedKeyMatchThreshold {
		c.store.IncrMiss()
		return nil, nil
	}

	_ = store.TouchEnhancedKey(db, best.BaseKeyHash, now)
	c.store.IncrHit(store.HitEnhanced)
	return &Result{Selector: best.Selector, Confidence: best.Confidence * bestScore, Source: SourceEnhanced}, nil
}

// bestEnhancedCandidate scores each candidate row against the query key
// using the same weighted fields enhancedkey.Similarity uses for two full
// Keys, but reading straight from the already-persisted row rather than
// reconstructing one (the row's URLPattern/StepsHash are already
// projected; there is no raw URL to re-derive them from).
func bestEnhancedCandidate(key enhancedkey.Key, urlPattern string, queryTokens []string, candidates []store.EnhancedKeyRow) (store.EnhancedKeyRow, float64, bool) {
	var best store.EnhancedKeyRow
	bestScore := -1.0
	found := false

	stepsHash := enhancedkey.StepsHash(key.Steps)
	for _, cand := range candidates {
		score := 0.0
		if key.Profile == cand.Profile {
			score += enhancedkey.WeightProfile
		}
		if urlPattern == cand.URLPattern {
			score += enhancedkey.WeightURLPattern
		}
		score += enhancedkey.WeightDOMSignature * domsig.Similarity(key.DOMSignature, cand.DOMSignature)
		if stepsHash == cand.StepsHash {
			score += enhancedkey.WeightStepsHash
		}
		_, ratio := tokenOverlap(queryTokens, normalize.Normalize(cand.TestName).Tokens)
		score += enhancedkey.WeightTestName * ratio

		if score > bestScore {
			bestScore = score
			best = cand
			found = true
		}
	}
	return best, bestScore, found
}

// SetEnhanced records (or refreshes) the enhanced key for a test's
// recorded flow against the selector that resolved it.
func (c *Cache) SetEnhanced(key enhancedkey.Key, selector string) error {
	db := c.store.DB()
	if db == nil {
		return fmt.Errorf("%w: store is closed", cacheerr.ErrStorageIO)
	}
	now := nowMs()
	row := store.EnhancedKeyRow{
		BaseKeyHash:   key.BaseKeyHash(),
		EnhancedKey:   key.Serialize(),
		LegacyKeyHash: key.LegacyKeyHash(),
		TestName:      key.TestName,
		URLPattern:    enhancedkey.URLPattern(key.URL),
		Profile:       key.Profile,
		DOMSignature:  key.DOMSignature,
		StepsHash:     enhancedkey.StepsHash(key.Steps),
		Selector:      selector,
	}
	if err := store.UpsertEnhancedKey(db, row, c.tun.SelectorConfidenceGain, now); err != nil {
		return c.wrapStorageErr("upsert enhanced key", err)
	}
	c.store.IncrSet()
	return nil
}
