// Package browser adapts a live page to the structural snapshot the
// DOM-signature manager needs, without the cache ever driving navigation,
// clicks, or any other browser action itself.
package browser

import (
	"fmt"

	"github.com/go-rod/rod"
)

// ElementInfo is the structural shape of one DOM element: enough to hash
// for a signature stratum, deliberately excluding anything positional or
// dynamically generated (no coordinates, no framework-assigned IDs).
type ElementInfo struct {
	Tag        string
	Role       string
	Attributes map[string]string
	Text       string
}

// Snapshot is the structural read of a page that the DOM-signature manager
// strata over. It is produced once per signature computation; the cache
// never retains a reference to the live page beyond that call.
type Snapshot struct {
	URL      string
	Elements []ElementInfo
}

// PageAccessor is the only way the selector cache touches a browser. It
// reads structure; it never navigates, clicks, or types. Callers outside
// this module own the actual driving.
type PageAccessor interface {
	// Snapshot extracts the current DOM structure for signature generation.
	Snapshot() (*Snapshot, error)
	// URL returns the page's current address.
	URL() string
}

// RodPageAccessor adapts a *rod.Page to PageAccessor.
type RodPageAccessor struct {
	page *rod.Page
}

// NewRodPageAccessor wraps an already-navigated rod page. The cache never
// calls page.Navigate or any interaction method on it.
func NewRodPageAccessor(page *rod.Page) *RodPageAccessor {
	return &RodPageAccessor{page: page}
}

// interestingSelector covers every element stratum §4.3 needs in one DOM
// query: structural landmarks, labelled interactive elements, and
// prominent text nodes.
const interestingSelector = `form, main, nav, [role='button'], [role='link'], ` +
	`[id], [name], [aria-label], [data-testid], ` +
	`h1, h2, h3, h4, h5, h6`

func (r *RodPageAccessor) URL() string {
	info, err := r.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Snapshot reads the structural shape of every candidate stratum element.
// A failure to read one element is skipped, not fatal — the signature
// degrades gracefully rather than aborting the whole extraction.
func (r *RodPageAccessor) Snapshot() (*Snapshot, error) {
	elements, err := r.page.Elements(interestingSelector)
	if err != nil {
		return nil, fmt.Errorf("querying candidate elements: %w", err)
	}

	snap := &Snapshot{URL: r.URL(), Elements: make([]ElementInfo, 0, len(elements))}
	for _, el := range elements {
		info, ok := extractElement(el)
		if !ok {
			continue
		}
		snap.Elements = append(snap.Elements, info)
	}
	return snap, nil
}

func extractElement(el *rod.Element) (ElementInfo, bool) {
	tagRes, err := el.Eval(`() => this.tagName.toLowerCase()`)
	if err != nil {
		return ElementInfo{}, false
	}

	attrs := make(map[string]string)
	for _, name := range []string{"id", "name", "aria-label", "data-testid", "role"} {
		if v, err := el.Attribute(name); err == nil && v != nil && *v != "" {
			attrs[name] = *v
		}
	}

	text, _ := el.Text()

	return ElementInfo{
		Tag:        tagRes.Value.String(),
		Role:       attrs["role"],
		Attributes: attrs,
		Text:       text,
	}, true
}
