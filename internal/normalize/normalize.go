// Package normalize provides the pure text-normalization and edit-distance
// primitives every similarity and key-matching layer builds on.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Result is the output of Normalize: the canonical string plus its ordered
// token list, so callers doing Jaccard/bag-of-words work don't re-tokenize.
type Result struct {
	Normalized string
	Tokens     []string
}

// stopwords is the closed list of articles and auxiliary verbs dropped
// during tokenization. Deliberately small and fixed — growing it is a
// behavior change, not a bug fix.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true,
	"is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true,
	"do": true, "does": true, "did": true,
	"have": true, "has": true, "had": true,
	"to": true, "of": true, "on": true, "in": true, "at": true, "for": true,
}

// Normalize lowercases, applies Unicode NFKC, strips punctuation (keeping
// internal dashes), collapses whitespace, drops stopwords, and stems
// trailing "s"/"ing" from each surviving token.
func Normalize(text string) Result {
	folded := norm.NFKC.String(strings.ToLower(text))

	var b strings.Builder
	runes := []rune(folded)
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '-' && i > 0 && i < len(runes)-1 && isWordRune(runes[i-1]) && isWordRune(runes[i+1]):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if stopwords[f] {
			continue
		}
		tokens = append(tokens, stem(f))
	}

	return Result{Normalized: strings.Join(tokens, " "), Tokens: tokens}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// stem trims a trailing "ing" or, failing that, a trailing "s" (at most
// one suffix per token), the trivial stemming the
// cache's matching layer needs — not a real morphological stemmer.
func stem(token string) string {
	if strings.HasSuffix(token, "ing") && len(token) > 4 {
		return token[:len(token)-3]
	}
	if strings.HasSuffix(token, "s") && !strings.HasSuffix(token, "ss") && len(token) > 3 {
		return token[:len(token)-1]
	}
	return token
}

// DamerauLevenshtein computes the Damerau-Levenshtein edit distance
// (insertions, deletions, substitutions, and adjacent transpositions)
// between two strings, operating on runes.
func DamerauLevenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)

	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	d := make([][]int, la+1)
	for i := range d {
		d[i] = make([]int, lb+1)
		d[i][0] = i
	}
	for j := 0; j <= lb; j++ {
		d[0][j] = j
	}

	for i := 1; i <= la; i++ {
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			d[i][j] = min3(
				d[i-1][j]+1,
				d[i][j-1]+1,
				d[i-1][j-1]+cost,
			)
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				if t := d[i-2][j-2] + 1; t < d[i][j] {
					d[i][j] = t
				}
			}
		}
	}

	return d[la][lb]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
