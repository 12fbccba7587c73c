package domsig

import (
	"testing"

	"selectorcache/internal/browser"
)

func sampleSnapshot() *browser.Snapshot {
	return &browser.Snapshot{
		URL: "https://example.com/login",
		Elements: []browser.ElementInfo{
			{Tag: "form", Attributes: map[string]string{"id": "login-form"}},
			{Tag: "button", Role: "button", Attributes: map[string]string{"data-testid": "submit"}},
			{Tag: "h1", Text: "Sign in"},
			{Tag: "input", Attributes: map[string]string{"name": "email"}},
		},
	}
}

func TestComputeProducesParsableSignature(t *testing.T) {
	sig := Compute(sampleSnapshot())
	full := sig.String()
	parsed, ok := Parse(full)
	if !ok {
		t.Fatalf("expected signature %q to parse", full)
	}
	if parsed.Critical != sig.Critical || parsed.Important != sig.Important || parsed.Context != sig.Context {
		t.Fatalf("round-trip mismatch: %+v vs %+v", parsed, sig)
	}
}

func TestComputeIsStableAcrossElementOrder(t *testing.T) {
	snap := sampleSnapshot()
	reversed := &browser.Snapshot{URL: snap.URL}
	for i := len(snap.Elements) - 1; i >= 0; i-- {
		reversed.Elements = append(reversed.Elements, snap.Elements[i])
	}

	a := Compute(snap).String()
	b := Compute(reversed).String()
	if a != b {
		t.Fatalf("expected order-independent signature, got %q vs %q", a, b)
	}
}

func TestComputeIgnoresPositionalNoise(t *testing.T) {
	snap := sampleSnapshot()
	mutated := sampleSnapshot()
	// Dynamic-ish noise: same structural facts, different text content on a
	// non-context element should not move the signature.
	mutated.Elements[1].Text = "different label text entirely"

	if Compute(snap).String() != Compute(mutated).String() {
		t.Fatalf("expected signature invariant to non-context text changes")
	}
}

func TestSimilarityIdenticalSignatures(t *testing.T) {
	sig := Compute(sampleSnapshot()).String()
	if s := Similarity(sig, sig); s != 1.0 {
		t.Fatalf("expected 1.0 for identical signatures, got %v", s)
	}
}

func TestSimilarityWeightsPartialMatch(t *testing.T) {
	base := Compute(sampleSnapshot())
	other := base
	other.Important = "different"
	s := Similarity(base.String(), other.String())
	if s != criticalWeight+contextWeight {
		t.Fatalf("expected %v, got %v", criticalWeight+contextWeight, s)
	}
}

func TestSimilarityInvalidSignatureReturnsZero(t *testing.T) {
	if s := Similarity("not-a-signature", "C:a|I:b|K:c"); s != 0 {
		t.Fatalf("expected 0 for unparsable signature, got %v", s)
	}
}

func TestCacheEvictsOldestOnOverflow(t *testing.T) {
	c := NewCache(2)
	c.Remember("url1", "sig1")
	c.Remember("url2", "sig2")
	c.Remember("url3", "sig3")

	recent := c.Recent()
	if len(recent) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(recent))
	}
	if _, ok := recent["url1"]; ok {
		t.Fatalf("expected oldest entry evicted")
	}
	if c.Len() != 2 {
		t.Fatalf("expected Len()==2, got %d", c.Len())
	}
}
