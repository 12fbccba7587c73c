package cache

import (
	"fmt"

	"selectorcache/internal/cacheerr"
	"selectorcache/internal/domsig"
	"selectorcache/internal/store"
)

// NewSnapshotCacheKey builds a disambiguated cache key for a caller that
// has no natural stable key of its own: the seed followed by a random
// UUID, so every call returns a different key.
func NewSnapshotCacheKey(urlSeed string) string {
	return store.NewSnapshotCacheKey(urlSeed)
}

// SnapshotResult is what get_snapshot() returns on a hit.
type SnapshotResult struct {
	Data        []byte
	ContentType string
	Source      Source
}

// PutSnapshot stores a page snapshot under cacheKey with the given
// absolute TTL.
func (c *Cache) PutSnapshot(cacheKey, url string, data []byte, contentType string, viewportW, viewportH int, profile, domSignature string, ttlMs int64) error {
	db := c.store.DB()
	if db == nil {
		return fmt.Errorf("%w: store is closed", cacheerr.ErrStorageIO)
	}
	now := nowMs()
	sig, _ := domsig.Parse(domSignature)
	return store.PutSnapshot(db, store.Snapshot{
		CacheKey:      cacheKey,
		URL:           url,
		Data:          data,
		ContentType:   contentType,
		ViewportW:     viewportW,
		ViewportH:     viewportH,
		Profile:       profile,
		CreatedAt:     now,
		LastUsed:      now,
		TTL:           ttlMs,
		DOMSignature:  domSignature,
		CriticalHash:  sig.Critical,
		ImportantHash: sig.Important,
		ContextHash:   sig.Context,
	})
}

// GetSnapshot returns the unexpired snapshot for cacheKey, falling back
// to the best DOM-signature match among this URL's other unexpired
// snapshots when there is no exact key hit.
func (c *Cache) GetSnapshot(cacheKey, url, domSignature string) (*SnapshotResult, error) {
	db := c.store.DB()
	if db == nil {
		return nil, fmt.Errorf("%w: store is closed", cacheerr.ErrStorageIO)
	}
	now := nowMs()

	snap, err := store.GetSnapshot(db, cacheKey, now)
	if err != nil {
		return nil, c.wrapStorageErr("get snapshot", err)
	}
	if snap != nil {
		return &SnapshotResult{Data: snap.Data, ContentType: snap.ContentType, Source: SourceExact}, nil
	}

	if domSignature == "" {
		return nil, nil
	}
	candidates, err := store.SnapshotCandidatesForURL(db, url, now, 50)
	if err != nil {
		return nil, c.wrapStorageErr("snapshot candidate scan", err)
	}

	var best *store.Snapshot
	bestScore := c.tun.CrossEnvSignatureThreshold
	for i := range candidates {
		score := domsig.Similarity(domSignature, candidates[i].DOMSignature)
		if score >= bestScore {
			bestScore = score
			best = &candidates[i]
		}
	}
	if best == nil {
		return nil, nil
	}
	return &SnapshotResult{Data: best.Data, ContentType: best.ContentType, Source: SourceDOMSignature}, nil
}
