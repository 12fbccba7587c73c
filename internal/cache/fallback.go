package cache

import (
	"fmt"
	"regexp"
	"strings"

	"selectorcache/internal/normalize"
	"selectorcache/internal/similarity"
)

// generateVariations produces cheap lexical rewrites of input: the
// stopword-stripped normalized form, and one substitution per synonym of
// the leading action verb, one action-synonym substitution at a time.
// The result is deduplicated here; the 8-item cap is the caller's.
func generateVariations(input string) []string {
	norm := normalize.Normalize(input)
	if len(norm.Tokens) == 0 {
		return nil
	}

	variants := []string{strings.Join(norm.Tokens, " ")}

	for _, verb := range similarity.Synonyms(norm.Tokens[0]) {
		if verb == norm.Tokens[0] {
			continue
		}
		rewritten := append([]string{verb}, norm.Tokens[1:]...)
		variants = append(variants, strings.Join(rewritten, " "))
	}

	return dedupeStrings(variants)
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// textExtractors is the closed set of patterns tried, in order, to pull
// the pure display text out of a description that may itself already
// carry selector syntax. The first pattern to match wins.
var textExtractors = []*regexp.Regexp{
	regexp.MustCompile(`:has-text\(["']([^"']+)["']\)`),
	regexp.MustCompile(`text=["']?([^"']+)["']?$`),
	regexp.MustCompile(`["']([^"']+)["']`),
}

// extractText pulls the pure display text a fallback selector should
// target out of description, trying has-text(...), text=..., and a
// quoted substring before giving up and using the trimmed description
// itself.
func extractText(description string) string {
	for _, re := range textExtractors {
		if m := re.FindStringSubmatch(description); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return strings.TrimSpace(description)
}

// fixSyntax repairs the common selector typos a caller-supplied fallback
// selector carries over from other tooling: a bare jQuery-style
// `:text(` instead of Playwright's `:has-text(`, and `:first` instead of
// the CSS-standard `:first-of-type`.
func fixSyntax(selector string) string {
	fixed := strings.ReplaceAll(selector, ":text(", ":has-text(")
	fixed = strings.ReplaceAll(fixed, ":first", ":first-of-type")
	return fixed
}

// roleValues are the ARIA roles a role-qualified fallback tries, in
// order.
var roleValues = []string{"button", "link", "menuitem"}

// clickHandlerAttrs are the framework click-binding attributes checked
// when no role or accessible name is available.
var clickHandlerAttrs = []string{"onclick", "ng-click", `v-on\:click`}

// textAttrs are the element attributes commonly holding the visible or
// accessible text of a control.
var textAttrs = []string{"aria-label", "title", "alt", "data-testid"}

// universalFallbacks builds the ordered list of selector shapes
// WrapSelectorOperation tries when the cached selector (if any) fails to
// resolve an element: the caller-supplied fallback verbatim, a
// syntax-repaired version of it, then text-extraction patterns,
// role/click-handler/attribute qualifiers, common tag qualifiers, a
// nested text match, and finally a visible-only qualifier. No hardcoded
// framework assumptions beyond the attribute names above.
func universalFallbacks(description, fallback string) []string {
	text := extractText(description)
	if text == "" && fallback == "" {
		return nil
	}
	quoted := fmt.Sprintf("%q", text)

	var candidates []string

	if fallback != "" {
		candidates = append(candidates, fallback, fixSyntax(fallback))
	}

	if text != "" {
		candidates = append(candidates,
			fmt.Sprintf("text=%q", text),
			fmt.Sprintf("text=%s", text),
			fmt.Sprintf("*:has-text(%s)", quoted),
		)

		for _, role := range roleValues {
			candidates = append(candidates, fmt.Sprintf("[role=%q]:has-text(%s)", role, quoted))
		}
		for _, attr := range clickHandlerAttrs {
			candidates = append(candidates, fmt.Sprintf("[%s]:has-text(%s)", attr, quoted))
		}
		for _, attr := range textAttrs {
			candidates = append(candidates, fmt.Sprintf("[%s*=%s]", attr, quoted))
		}

		candidates = append(candidates,
			fmt.Sprintf("button:has-text(%s)", quoted),
			fmt.Sprintf("a:has-text(%s)", quoted),
			fmt.Sprintf("input[value*=%s]", quoted),
			fmt.Sprintf("span:has-text(%s)", quoted),
			fmt.Sprintf("div:has-text(%s)", quoted),
			fmt.Sprintf("* >> text=%s", text),
			fmt.Sprintf(":visible:has-text(%s)", quoted),
		)
	}

	return dedupeStrings(candidates)
}
