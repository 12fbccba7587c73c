// Package cache wires the pure normalization/similarity/DOM-signature/
// enhanced-key packages to the SQLite store into the bidirectional
// selector cache: a four-level lookup ladder on get, confidence-gain
// upserts on set, and best-effort async pattern learning.
package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"selectorcache/internal/cacheerr"
	"selectorcache/internal/config"
	"selectorcache/internal/domsig"
	"selectorcache/internal/logging"
	"selectorcache/internal/normalize"
	"selectorcache/internal/similarity"
	"selectorcache/internal/store"
)

// Source names which ladder level produced a Get result.
type Source string

const (
	SourceExact        Source = "exact"
	SourceNormalized   Source = "normalized"
	SourceReverse      Source = "reverse"
	SourceFuzzy        Source = "fuzzy"
	SourceDOMSignature Source = "dom_signature"
	SourceEnhanced     Source = "enhanced"
)

// Result is what Get returns on a hit.
type Result struct {
	Selector   string
	Confidence float64
	Source     Source
}

// learnTask is one unit of work for the background pattern-learning
// worker: examine peer mappings for the same selector+url and, if they
// share enough vocabulary, record a synthetic learned mapping.
type learnTask struct {
	selectorHash string
	url          string
	input        string
	tokens       []string
}

// Cache is the bidirectional selector cache: one per SQLite store, wiring
// together the stateless matching packages and the durable ladder they
// score against.
type Cache struct {
	store   *store.Store
	tun     config.TunableConfig
	domsigs *domsig.Cache

	learnCh chan learnTask
	stop    chan struct{}
	done    chan struct{}
}

// New builds a Cache over an already-opened store. domSignatureCapacity
// bounds the per-URL DOM-signature memory.
func New(st *store.Store, tun config.TunableConfig, domSignatureCapacity int) *Cache {
	c := &Cache{
		store:   st,
		tun:     tun,
		domsigs: domsig.NewCache(domSignatureCapacity),
		learnCh: make(chan learnTask, 256),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.learnWorker()
	return c
}

// Close stops the background learning worker. Does not close the
// underlying store — the caller owns that.
func (c *Cache) Close() {
	close(c.stop)
	<-c.done
}

func nowMs() int64 { return time.Now().UnixMilli() }

// Get runs the four-level lookup ladder for op: exact match, normalized
// match, reverse similarity match, then fuzzy edit-distance match.
// Returns nil, nil on a clean miss.
func (c *Cache) Get(input, url string, op similarity.Operation) (*Result, error) {
	reqID := uuid.NewString()
	timer := logging.StartTimer(logging.CategoryCache, "get:"+reqID)
	defer timer.Stop()

	db := c.store.DB()
	if db == nil {
		return nil, fmt.Errorf("%w: store is closed", cacheerr.ErrStorageIO)
	}
	now := nowMs()

	if m, err := store.ExactMatch(db, input, url); err != nil {
		return nil, c.wrapStorageErr("exact match", err)
	} else if m != nil {
		return c.hit(db, m, SourceExact, m.Confidence, now)
	}

	norm := normalize.Normalize(input)
	if m, err := store.NormalizedMatch(db, norm.Normalized, url); err != nil {
		return nil, c.wrapStorageErr("normalized match", err)
	} else if m != nil {
		return c.hit(db, m, SourceNormalized, m.Confidence, now)
	}

	candidates, err := store.CandidatesForURL(db, url, 100)
	if err != nil {
		return nil, c.wrapStorageErr("reverse candidates", err)
	}
	if best, score, ok := c.bestReverseMatch(input, candidates, op); ok {
		confidence := math.Min(1.0, score*(1+math.Log1p(float64(best.SuccessCount))*0.1)*best.Confidence*c.tun.ReverseMatchPenalty)
		return c.hit(db, &best, SourceReverse, confidence, now)
	}

	recent, err := store.RecentCandidates(db, url, now-3_600_000, 200)
	if err != nil {
		return nil, c.wrapStorageErr("fuzzy candidates", err)
	}
	if best, distance, ok := c.bestFuzzyMatch(norm.Normalized, recent); ok {
		confidence := best.Confidence * (1 - float64(distance)/10)
		return c.hit(db, &best, SourceFuzzy, confidence, now)
	}

	c.store.IncrMiss()
	return nil, nil
}

// bestReverseMatch scores every same-URL mapping by action-aware
// similarity against input, skipping conflicts (sentinel -1), and
// returns the best candidate clearing op's acceptance threshold.
func (c *Cache) bestReverseMatch(input string, candidates []store.Mapping, op similarity.Operation) (store.Mapping, float64, bool) {
	threshold := similarity.Threshold(op)
	var best store.Mapping
	bestScore := -1.0
	found := false

	for _, cand := range candidates {
		score := similarity.Similarity(input, cand.Input, similarity.Context{Operation: op, DomainMatch: true})
		if score == similarity.Conflict {
			continue
		}
		if score < threshold {
			continue
		}
		if score > bestScore {
			bestScore = score
			best = cand
			found = true
		}
	}
	return best, bestScore, found
}

// bestFuzzyMatch accepts the closest Damerau-Levenshtein candidate whose
// distance is strictly positive (else it would have matched exactly) and
// no more than floor(len(normalizedInput)/8).
func (c *Cache) bestFuzzyMatch(normalizedInput string, candidates []store.Mapping) (store.Mapping, int, bool) {
	maxDistance := len(normalizedInput) / 8
	var best store.Mapping
	bestDistance := maxDistance + 1
	found := false

	for _, cand := range candidates {
		d := normalize.DamerauLevenshtein(normalizedInput, cand.NormalizedInput)
		if d == 0 || d > maxDistance {
			continue
		}
		if d < bestDistance {
			bestDistance = d
			best = cand
			found = true
		}
	}
	return best, bestDistance, found
}

// hit resolves a matched mapping into a Result, touches its last_used
// timestamp (and the selector's), and records the ladder-level stat.
func (c *Cache) hit(db *sql.DB, m *store.Mapping, source Source, confidence float64, now int64) (*Result, error) {
	_ = store.TouchMapping(db, m.ID, now)
	_ = store.TouchSelector(db, m.SelectorHash, now)

	sel, err := store.GetSelector(db, m.SelectorHash)
	if err != nil {
		return nil, c.wrapStorageErr("resolve selector", err)
	}
	if sel == nil {
		c.store.IncrMiss()
		return nil, nil
	}

	c.store.IncrHit(levelFor(source))
	return &Result{Selector: sel.Selector, Confidence: confidence, Source: source}, nil
}

func levelFor(s Source) store.HitLevel {
	switch s {
	case SourceExact:
		return store.HitExact
	case SourceNormalized:
		return store.HitNormalized
	case SourceReverse:
		return store.HitReverse
	case SourceEnhanced:
		return store.HitEnhanced
	default:
		return store.HitFuzzy
	}
}

// Set records a confirmed input-to-selector mapping: upserts the
// selector and the mapping in one transaction, then queues best-effort
// pattern learning against peer mappings on the same selector+URL.
func (c *Cache) Set(input, url, selector string) error {
	reqID := uuid.NewString()
	timer := logging.StartTimer(logging.CategoryCache, "set:"+reqID)
	defer timer.Stop()

	db := c.store.DB()
	if db == nil {
		return fmt.Errorf("%w: store is closed", cacheerr.ErrStorageIO)
	}
	now := nowMs()
	selectorHash := store.SelectorHash(selector)
	norm := normalize.Normalize(input)
	tokensJSON, _ := json.Marshal(norm.Tokens)

	tx, err := db.Begin()
	if err != nil {
		return c.wrapStorageErr("begin set transaction", err)
	}
	defer tx.Rollback()

	if err := store.UpsertSelector(tx, selectorHash, selector, url, "", c.tun.SelectorConfidenceGain, now); err != nil {
		return c.wrapStorageErr("upsert selector", err)
	}
	m := store.Mapping{
		SelectorHash:    selectorHash,
		Input:           input,
		NormalizedInput: norm.Normalized,
		InputTokensJSON: string(tokensJSON),
		URL:             url,
		LearnedFrom:     "direct",
	}
	if err := store.UpsertMapping(tx, m, c.tun.MappingConfidenceGain, now); err != nil {
		return c.wrapStorageErr("upsert mapping", err)
	}
	if err := tx.Commit(); err != nil {
		return c.wrapStorageErr("commit set transaction", err)
	}

	c.store.IncrSet()
	c.queueLearn(learnTask{selectorHash: selectorHash, url: url, input: input, tokens: norm.Tokens})
	return nil
}

// queueLearn enqueues a learning task without ever blocking the caller;
// a full queue drops the task and counts it — learning is best-effort
// and never sits on the Set hot path.
func (c *Cache) queueLearn(t learnTask) {
	select {
	case c.learnCh <- t:
	default:
		c.store.IncrDroppedLearning()
		logging.CacheWarn("learning queue full, dropping task for %s", t.url)
	}
}

// learnWorker drains the learning queue on its own goroutine until Close
// signals stop.
func (c *Cache) learnWorker() {
	defer close(c.done)
	for {
		select {
		case t := <-c.learnCh:
			c.learn(t)
		case <-c.stop:
			return
		}
	}
}

// learn compares the triggering mapping's tokens against up to five peer
// mappings sharing the same selector+URL and, where at least two tokens
// overlap, records a synthetic learned mapping scored by the overlap
// ratio.
func (c *Cache) learn(t learnTask) {
	db := c.store.DB()
	if db == nil {
		return
	}
	peers, err := store.MappingsForSelectorURL(db, t.selectorHash, t.url)
	if err != nil {
		logging.CacheWarn("learning lookup failed: %v", err)
		return
	}

	now := nowMs()
	examined := 0
	for _, peer := range peers {
		if examined >= 5 {
			break
		}
		if peer.Input == t.input {
			continue
		}
		examined++

		peerTokens := decodeTokens(peer.InputTokensJSON)
		overlap, ratio := tokenOverlap(t.tokens, peerTokens)
		if overlap < 2 {
			continue
		}

		learned := store.Mapping{
			SelectorHash:    t.selectorHash,
			Input:           t.input,
			NormalizedInput: normalize.Normalize(t.input).Normalized,
			InputTokensJSON: mustJSON(t.tokens),
			URL:             t.url,
			Confidence:      ratio,
			LearnedFrom:     "pattern",
		}
		if err := store.InsertLearnedMapping(db, learned, now); err != nil {
			logging.CacheWarn("insert learned mapping failed: %v", err)
			continue
		}
		c.store.IncrLearning()
	}
}

func decodeTokens(raw string) []string {
	var tokens []string
	_ = json.Unmarshal([]byte(raw), &tokens)
	return tokens
}

func mustJSON(tokens []string) string {
	b, _ := json.Marshal(tokens)
	return string(b)
}

// tokenOverlap returns the intersection size and Jaccard ratio of two
// token sets.
func tokenOverlap(a, b []string) (int, float64) {
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}
	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0, 0
	}
	return intersection, float64(intersection) / float64(union)
}

// InvalidateSelector deletes every mapping for selector+url and, if no
// mapping anywhere still references the selector, the selector record
// itself.
func (c *Cache) InvalidateSelector(selector, url string) error {
	db := c.store.DB()
	if db == nil {
		return fmt.Errorf("%w: store is closed", cacheerr.ErrStorageIO)
	}
	selectorHash := store.SelectorHash(selector)

	tx, err := db.Begin()
	if err != nil {
		return c.wrapStorageErr("begin invalidate transaction", err)
	}
	defer tx.Rollback()

	if err := store.DeleteMappingsForSelectorURL(tx, selectorHash, url); err != nil {
		return c.wrapStorageErr("delete mappings", err)
	}
	if err := store.DeleteSelectorIfOrphaned(tx, selectorHash); err != nil {
		return c.wrapStorageErr("delete orphaned selector", err)
	}
	if err := tx.Commit(); err != nil {
		return c.wrapStorageErr("commit invalidate transaction", err)
	}
	return nil
}

// Stats returns the current counters.
func (c *Cache) Stats() store.Stats {
	return c.store.Snapshot()
}

// Health runs the store's invariant probes.
func (c *Cache) Health() store.HealthReport {
	return c.store.Health()
}

func (c *Cache) wrapStorageErr(op string, err error) error {
	logging.CacheError("%s: %v", op, err)
	return fmt.Errorf("%w: %s: %v", cacheerr.ErrStorageIO, op, err)
}
