package cache

import (
	"database/sql"
	"fmt"

	"selectorcache/internal/browser"
	"selectorcache/internal/cacheerr"
	"selectorcache/internal/domsig"
	"selectorcache/internal/similarity"
	"selectorcache/internal/store"
)

// GetWithSignature tries the ordinary lookup ladder first; on a clean
// miss, and only if a live page is available, it computes the page's DOM
// signature and scores it against every other URL this process has
// recently seen a signature for, blending signature and input
// similarity to find a selector proven on a structurally identical page
// elsewhere — the mechanism that lets a selector survive staging-to-
// production promotion.
func (c *Cache) GetWithSignature(input, url string, page browser.PageAccessor, op similarity.Operation) (*Result, error) {
	if res, err := c.Get(input, url, op); err != nil || res != nil {
		return res, err
	}
	if page == nil {
		return nil, nil
	}

	snap, err := page.Snapshot()
	if err != nil {
		return nil, nil // signature matching degrades to a miss, never an error
	}
	sig := domsig.Compute(snap).String()
	c.domsigs.Remember(url, sig)

	db := c.store.DB()
	if db == nil {
		return nil, fmt.Errorf("%w: store is closed", cacheerr.ErrStorageIO)
	}

	best, bestScore, ok := c.bestSignatureCandidate(db, input, url, sig, op)
	if !ok {
		c.store.IncrMiss()
		return nil, nil
	}

	now := nowMs()
	_ = store.TouchMapping(db, best.ID, now)
	_ = store.TouchSelector(db, best.SelectorHash, now)

	sel, err := store.GetSelector(db, best.SelectorHash)
	if err != nil {
		return nil, c.wrapStorageErr("resolve signature-matched selector", err)
	}
	if sel == nil {
		c.store.IncrMiss()
		return nil, nil
	}

	c.store.IncrHit(store.HitFuzzy)
	return &Result{Selector: sel.Selector, Confidence: bestScore * best.Confidence, Source: SourceDOMSignature}, nil
}

// bestSignatureCandidate scans every other URL this process has a
// remembered signature for, skipping ones below the cross-environment
// signature threshold, and scores the URL's mappings by
// DOMSignatureWeight*domScore + InputSimilarityWeight*inputScore.
func (c *Cache) bestSignatureCandidate(db *sql.DB, input, url, sig string, op similarity.Operation) (store.Mapping, float64, bool) {
	var best store.Mapping
	bestScore := -1.0
	found := false

	for peerURL, peerSig := range c.domsigs.Recent() {
		if peerURL == url {
			continue
		}
		domScore := domsig.Similarity(sig, peerSig)
		if domScore < c.tun.CrossEnvSignatureThreshold {
			continue
		}

		candidates, err := store.CandidatesForURL(db, peerURL, 50)
		if err != nil {
			continue
		}
		for _, cand := range candidates {
			inputScore := similarity.Similarity(input, cand.Input, similarity.Context{Operation: op, DomainMatch: false})
			if inputScore == similarity.Conflict {
				continue
			}
			combined := c.tun.DOMSignatureWeight*domScore + c.tun.InputSimilarityWeight*inputScore
			if combined > bestScore {
				bestScore = combined
				best = cand
				found = true
			}
		}
	}

	if !found || bestScore < similarity.Threshold(similarity.OpCrossEnv) {
		return store.Mapping{}, 0, false
	}
	return best, bestScore, true
}
