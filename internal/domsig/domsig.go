// Package domsig builds layered DOM fingerprints from a page snapshot so
// the cache can recognize "the same element" across environments that
// differ in everything but structure.
package domsig

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"selectorcache/internal/browser"
)

// keyAttributes are the only attributes that feed a stratum hash; anything
// else (framework-generated IDs, class churn) is noise.
var keyAttributes = []string{"id", "name", "aria-label", "data-testid", "role"}

// Signature is the three-stratum fingerprint plus its combined form.
type Signature struct {
	Critical  string
	Important string
	Context   string
}

// String renders the combined "C:<x>|I:<y>|K:<z>" form.
func (s Signature) String() string {
	return fmt.Sprintf("C:%s|I:%s|K:%s", s.Critical, s.Important, s.Context)
}

// Parse splits a combined signature string back into its three sub-hashes.
// A signature is valid only if it parses into exactly three parts.
func Parse(full string) (Signature, bool) {
	parts := strings.Split(full, "|")
	if len(parts) != 3 {
		return Signature{}, false
	}
	var sig Signature
	for i, prefix := range []string{"C:", "I:", "K:"} {
		if !strings.HasPrefix(parts[i], prefix) {
			return Signature{}, false
		}
		switch i {
		case 0:
			sig.Critical = strings.TrimPrefix(parts[i], prefix)
		case 1:
			sig.Important = strings.TrimPrefix(parts[i], prefix)
		case 2:
			sig.Context = strings.TrimPrefix(parts[i], prefix)
		}
	}
	return sig, true
}

// criticalTags are structural landmarks.
var criticalTags = map[string]bool{"form": true, "main": true, "nav": true}

// contextTags are headings.
var contextTags = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

func isCritical(el browser.ElementInfo) bool {
	if criticalTags[el.Tag] {
		return true
	}
	return el.Role == "button" || el.Role == "link"
}

func isImportant(el browser.ElementInfo) bool {
	for _, k := range []string{"id", "name", "aria-label", "data-testid"} {
		if el.Attributes[k] != "" {
			return true
		}
	}
	return false
}

func isContext(el browser.ElementInfo) bool {
	return contextTags[el.Tag] && strings.TrimSpace(el.Text) != ""
}

// Compute extracts the critical/important/context strata from a snapshot
// and hashes each deterministically over (tag, role, key attributes) —
// never positions or dynamic IDs.
func Compute(snap *browser.Snapshot) Signature {
	var critical, important, ctx []string

	for _, el := range snap.Elements {
		line := elementLine(el)
		if isCritical(el) {
			critical = append(critical, line)
		}
		if isImportant(el) {
			important = append(important, line)
		}
		if isContext(el) {
			ctx = append(ctx, line)
		}
	}

	return Signature{
		Critical:  hashLines(critical),
		Important: hashLines(important),
		Context:   hashLines(ctx),
	}
}

// elementLine renders the stable part of an element as a sortable string:
// tag, role, and key attribute name=value pairs in fixed order.
func elementLine(el browser.ElementInfo) string {
	var b strings.Builder
	b.WriteString(el.Tag)
	b.WriteByte('|')
	b.WriteString(el.Role)
	for _, k := range keyAttributes {
		if v, ok := el.Attributes[k]; ok && v != "" {
			b.WriteByte('|')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v)
		}
	}
	return b.String()
}

// hashLines sorts the stratum's element lines (so extraction order never
// affects the hash) and content-hashes the joined result.
func hashLines(lines []string) string {
	sorted := append([]string(nil), lines...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])[:16]
}

const (
	criticalWeight  = 0.5
	importantWeight = 0.3
	contextWeight   = 0.2
)

// Similarity scores two combined signature strings as a weighted sum of
// per-stratum equality. Either string failing to parse into three
// sub-hashes yields 0.
func Similarity(a, b string) float64 {
	sa, ok := Parse(a)
	if !ok {
		return 0
	}
	sb, ok := Parse(b)
	if !ok {
		return 0
	}

	var score float64
	if sa.Critical == sb.Critical {
		score += criticalWeight
	}
	if sa.Important == sb.Important {
		score += importantWeight
	}
	if sa.Context == sb.Context {
		score += contextWeight
	}
	return score
}

// entry is one remembered signature for a URL.
type entry struct {
	url       string
	signature string
}

// Cache is the DOM-signature manager's small bounded in-memory table of
// recent signatures per URL, owned per-instance; it evicts the oldest
// entry on overflow.
type Cache struct {
	mu    sync.Mutex
	cap   int
	order []string
	byURL map[string]entry
}

// NewCache builds a bounded signature cache. capacity must be positive.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{cap: capacity, byURL: make(map[string]entry)}
}

// Remember records the latest signature computed for a URL, evicting the
// oldest entry if the cache is at capacity.
func (c *Cache) Remember(url, signature string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byURL[url]; !exists {
		if len(c.order) >= c.cap {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.byURL, oldest)
		}
		c.order = append(c.order, url)
	}
	c.byURL[url] = entry{url: url, signature: signature}
}

// Recent returns every remembered signature keyed by URL, for fuzzy
// DOM-signature matching against candidates. The map carries no order.
func (c *Cache) Recent() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]string, len(c.byURL))
	for url, e := range c.byURL {
		out[url] = e.signature
	}
	return out
}

// Len reports how many URLs currently have a remembered signature.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byURL)
}
