// Package enhancedkey composes, serializes, and compares the enhanced
// cache key: a schema-versioned composite of test name, environment-
// independent URL pattern, DOM signature, and steps-structure hash that
// lets a selector proven in staging be reused in production.
package enhancedkey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"selectorcache/internal/domsig"
	"selectorcache/internal/normalize"
)

// SchemaVersion is the current enhanced-key layout version, stored on
// every key so the migration manager can tell legacy rows from current.
const SchemaVersion = 2

// Step is one action in a test's recorded flow. Only its structural shape
// feeds the key — concrete values never do.
type Step struct {
	Action        string
	SelectorShape string
	HasValue      bool
}

// Key is the composite enhanced cache key.
type Key struct {
	SchemaVersion  int
	TestName       string // raw, pre-normalization
	URL            string // raw, pre-normalization
	DOMSignature   string // optional; "" if unavailable
	Steps          []Step
	Profile        string
}

// normalizedTestName returns the normalized token form used for both
// hashing and Jaccard similarity.
func (k Key) normalizedTestName() normalize.Result {
	return normalize.Normalize(k.TestName)
}

var (
	numericSegment = regexp.MustCompile(`^[0-9]+$`)
	localHostRe    = regexp.MustCompile(`(?i)^(localhost|127\.0\.0\.1|.*\.local)$`)
	stagingRe      = regexp.MustCompile(`(?i)(staging|stg)`)
	prodRe         = regexp.MustCompile(`(?i)(prod|www)`)
)

// URLPattern normalizes a URL into an environment-independent pattern:
// scheme stripped, host lowercased and collapsed to an environment token
// (LOCAL, STAGING, PROD) with its port dropped, default ports dropped for
// every host, numeric path segments templated to {id}. A host that matches
// no environment token keeps a non-default port.
func URLPattern(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	host := strings.ToLower(u.Hostname())
	var hostToken string
	switch {
	case localHostRe.MatchString(host):
		hostToken = "LOCAL"
	case stagingRe.MatchString(host):
		hostToken = "STAGING"
	case prodRe.MatchString(host):
		hostToken = "PROD"
	default:
		hostToken = host
	}

	if port := u.Port(); hostToken == host && port != "" && !isDefaultPort(u.Scheme, port) {
		hostToken += ":" + port
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, seg := range segments {
		if numericSegment.MatchString(seg) {
			segments[i] = "{id}"
		}
	}
	path := strings.Join(segments, "/")

	return hostToken + "/" + path
}

func isDefaultPort(scheme, port string) bool {
	switch scheme {
	case "http":
		return port == "80"
	case "https":
		return port == "443"
	}
	return false
}

// StepsHash projects each step to (action, selector_shape, has_value),
// dropping concrete values, and hashes the resulting list.
func StepsHash(steps []Step) string {
	var b strings.Builder
	for _, s := range steps {
		b.WriteString(s.Action)
		b.WriteByte('|')
		b.WriteString(s.SelectorShape)
		b.WriteByte('|')
		b.WriteString(strconv.FormatBool(s.HasValue))
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:16]
}

// Serialize renders the key in a deterministic delimited form: the same
// components always produce a byte-identical string.
func (k Key) Serialize() string {
	testName := k.normalizedTestName().Normalized
	return fmt.Sprintf("v%d\x1f%s\x1f%s\x1f%s\x1f%s\x1f%s",
		k.SchemaVersion, testName, URLPattern(k.URL), k.DOMSignature, StepsHash(k.Steps), k.Profile)
}

// BaseKeyHash is the current-layout canonical hash over all fields.
func (k Key) BaseKeyHash() string {
	sum := sha256.Sum256([]byte(k.Serialize()))
	return hex.EncodeToString(sum[:])
}

// LegacyKeyHash reproduces the pre-migration layout's hash — the same
// fields minus schema version and DOM signature, which the legacy layout
// did not carry. Used by the migration manager to recognize rows that
// predate the enhanced-key table.
func (k Key) LegacyKeyHash() string {
	testName := k.normalizedTestName().Normalized
	legacy := fmt.Sprintf("%s\x1f%s\x1f%s\x1f%s", testName, URLPattern(k.URL), StepsHash(k.Steps), k.Profile)
	sum := sha256.Sum256([]byte(legacy))
	return hex.EncodeToString(sum[:])
}

const (
	weightProfile      = 0.1
	weightURLPattern   = 0.25
	weightDOMSignature = 0.35
	weightStepsHash    = 0.2
	weightTestName     = 0.1
)

// Exported weight aliases — the cache layer's enhanced-key near-match scan
// compares already-persisted row fields rather than two full Keys, so it
// reimplements this weighting directly against the same constants instead
// of going through Similarity.
const (
	WeightProfile      = weightProfile
	WeightURLPattern   = weightURLPattern
	WeightDOMSignature = weightDOMSignature
	WeightStepsHash    = weightStepsHash
	WeightTestName     = weightTestName
)

// Similarity computes key-to-key similarity as weighted field agreement.
// An exact match on BaseKeyHash short-circuits to 1.0.
func Similarity(a, b Key) float64 {
	if a.BaseKeyHash() == b.BaseKeyHash() {
		return 1.0
	}

	var score float64
	if a.Profile == b.Profile {
		score += weightProfile
	}
	if URLPattern(a.URL) == URLPattern(b.URL) {
		score += weightURLPattern
	}
	score += weightDOMSignature * domsig.Similarity(a.DOMSignature, b.DOMSignature)
	if StepsHash(a.Steps) == StepsHash(b.Steps) {
		score += weightStepsHash
	}
	score += weightTestName * testNameJaccard(a, b)

	return score
}

func testNameJaccard(a, b Key) float64 {
	ta := a.normalizedTestName().Tokens
	tb := b.normalizedTestName().Tokens
	if len(ta) == 0 && len(tb) == 0 {
		return 1.0
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0.0
	}

	setA := make(map[string]bool, len(ta))
	for _, t := range ta {
		setA[t] = true
	}
	setB := make(map[string]bool, len(tb))
	for _, t := range tb {
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
		return 0
	}
	return float64(intersection) / float64(union)
}

// MatchThreshold is the minimum key-to-key similarity for the enhanced-key
// near-match path to accept a candidate.
const MatchThreshold = 0.60
