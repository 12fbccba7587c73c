// Package similarity scores how well two natural-language descriptions of
// a UI action agree, folding in action-verb synonyms, a hard conflict
// sentinel for opposite actions, and per-operation acceptance thresholds.
package similarity

import "selectorcache/internal/normalize"

// Operation names the caller's use case; each has its own acceptance
// threshold.
type Operation string

const (
	OpTestSearch   Operation = "test_search"
	OpCacheLookup  Operation = "cache_lookup"
	OpPatternMatch Operation = "pattern_match"
	OpCrossEnv     Operation = "cross_env"
	OpDefault      Operation = "default"
)

// Thresholds is the inclusive lower bound for "accept" per operation.
var Thresholds = map[Operation]float64{
	OpTestSearch:   0.35,
	OpCacheLookup:  0.15,
	OpPatternMatch: 0.25,
	OpCrossEnv:     0.40,
	OpDefault:      0.20,
}

// Threshold returns the acceptance threshold for an operation, falling
// back to the default if the operation is unrecognized.
func Threshold(op Operation) float64 {
	if t, ok := Thresholds[op]; ok {
		return t
	}
	return Thresholds[OpDefault]
}

// Context carries the caller's situational fields into the scoring
// function.
type Context struct {
	CurrentURL  string
	Profile     string
	DomainMatch bool
	Operation   Operation
}

// Conflict is the sentinel similarity value meaning "never match" — two
// inputs draw from mutually exclusive action groups.
const Conflict = -1.0

const (
	actionMatchBonus   = 0.10
	environmentPenalty = 0.85
)

// actionGroups is the closed table of action-verb synonym groups.
var actionGroups = []struct {
	name  string
	verbs []string
}{
	{"click", []string{"click", "press", "tap", "hit", "select"}},
	{"type", []string{"type", "enter", "input", "fill"}},
	{"open", []string{"open"}},
	{"close", []string{"close"}},
	{"create", []string{"create", "add", "new"}},
	{"delete", []string{"delete", "remove"}},
	{"login", []string{"login", "sign-in"}},
	{"logout", []string{"logout", "sign-out"}},
}

// mutuallyExclusive lists action group name pairs that can never describe
// the same element — a conflict here always returns the sentinel.
var mutuallyExclusive = map[string]string{
	"login":  "logout",
	"logout": "login",
	"create": "delete",
	"delete": "create",
	"open":   "close",
	"close":  "open",
}

func groupOf(verb string) string {
	for _, g := range actionGroups {
		for _, v := range g.verbs {
			if v == verb {
				return g.name
			}
		}
	}
	return ""
}

// synonymsOf returns every verb in verb's group (including itself), used
// to enrich Jaccard token equality so "press" and "click" count as the
// same token.
func synonymsOf(verb string) []string {
	for _, g := range actionGroups {
		for _, v := range g.verbs {
			if v == verb {
				return g.verbs
			}
		}
	}
	return nil
}

// Synonyms returns every verb in verb's action group (including itself),
// or nil if verb names no known action — exposed so other layers (the
// tiered cache's input-variation generator) can reuse the same closed
// table instead of duplicating it.
func Synonyms(verb string) []string {
	return synonymsOf(verb)
}

// firstAction returns the first token in tokens that appears in the
// action table, or "" if none do.
func firstAction(tokens []string) string {
	for _, tok := range tokens {
		if groupOf(tok) != "" {
			return tok
		}
	}
	return ""
}

// Similarity scores how well a and b describe the same action, in
// [0,1], or Conflict (-1) when the two inputs name mutually exclusive
// actions.
func Similarity(a, b string, ctx Context) float64 {
	ra := normalize.Normalize(a)
	rb := normalize.Normalize(b)

	actionA := firstAction(ra.Tokens)
	actionB := firstAction(rb.Tokens)
	groupA := groupOf(actionA)
	groupB := groupOf(actionB)

	if groupA != "" && groupB != "" {
		if mutuallyExclusive[groupA] == groupB {
			return Conflict
		}
	}

	score := jaccardWithSynonyms(ra.Tokens, rb.Tokens)

	if groupA != "" && groupA == groupB {
		score += actionMatchBonus
		if score > 1.0 {
			score = 1.0
		}
	}

	if !ctx.DomainMatch && ctx.Operation == OpCrossEnv {
		score *= environmentPenalty
	}

	return score
}

// jaccardWithSynonyms computes Jaccard similarity over two token sets,
// treating tokens as equal if either is a synonym of the other.
func jaccardWithSynonyms(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	setA := dedupe(a)
	setB := dedupe(b)

	matchedB := make(map[string]bool, len(setB))
	intersection := 0
	for _, ta := range setA {
		if matched := matchInSet(ta, setB, matchedB); matched != "" {
			intersection++
			matchedB[matched] = true
		}
	}

	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

func matchInSet(token string, set []string, already map[string]bool) string {
	syn := synonymsOf(token)
	for _, tb := range set {
		if already[tb] {
			continue
		}
		if tb == token || containsStr(syn, tb) || containsStr(synonymsOf(tb), token) {
			return tb
		}
	}
	return ""
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func dedupe(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
