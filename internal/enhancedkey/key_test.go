package enhancedkey

import "testing"

func TestURLPatternCollapsesEnvironmentTokens(t *testing.T) {
	staging := URLPattern("https://staging.myapp.com/users/42")
	prod := URLPattern("https://www.myapp.com/users/99")
	if staging != "STAGING/users/{id}" {
		t.Fatalf("got %q", staging)
	}
	if prod != "PROD/users/{id}" {
		t.Fatalf("got %q", prod)
	}
}

func TestURLPatternCollapsesLocalhost(t *testing.T) {
	if p := URLPattern("http://localhost:3000/a/1"); p != "LOCAL/a/{id}" {
		t.Fatalf("got %q", p)
	}
	if p := URLPattern("http://127.0.0.1:3000/a/1"); p != "LOCAL/a/{id}" {
		t.Fatalf("got %q", p)
	}
}

func TestURLPatternDropsDefaultPort(t *testing.T) {
	p := URLPattern("https://example.com:443/path")
	if p != "example.com/path" {
		t.Fatalf("got %q", p)
	}
}

func TestURLPatternKeepsNonDefaultPort(t *testing.T) {
	p := URLPattern("https://example.com:8443/path")
	if p != "example.com:8443/path" {
		t.Fatalf("got %q", p)
	}
}

func TestStepsHashDropsConcreteValues(t *testing.T) {
	a := []Step{{Action: "click", SelectorShape: "button", HasValue: false}}
	b := []Step{{Action: "click", SelectorShape: "button", HasValue: false}}
	if StepsHash(a) != StepsHash(b) {
		t.Fatalf("expected identical steps hash")
	}
}

func TestStepsHashDiffersOnShape(t *testing.T) {
	a := []Step{{Action: "click", SelectorShape: "button", HasValue: false}}
	b := []Step{{Action: "click", SelectorShape: "input", HasValue: true}}
	if StepsHash(a) == StepsHash(b) {
		t.Fatalf("expected different hashes for different step shapes")
	}
}

func TestSerializeIsDeterministic(t *testing.T) {
	k := Key{SchemaVersion: SchemaVersion, TestName: "Login Flow", URL: "https://staging.x.com/u/1", Profile: "default"}
	if k.Serialize() != k.Serialize() {
		t.Fatalf("expected serialize to be deterministic")
	}
}

func TestBaseKeyHashUniquePerField(t *testing.T) {
	k1 := Key{SchemaVersion: SchemaVersion, TestName: "login flow", URL: "https://x.com/a", Profile: "default"}
	k2 := Key{SchemaVersion: SchemaVersion, TestName: "logout flow", URL: "https://x.com/a", Profile: "default"}
	if k1.BaseKeyHash() == k2.BaseKeyHash() {
		t.Fatalf("expected different hashes for different test names")
	}
}

func TestSimilarityExactMatchShortCircuits(t *testing.T) {
	k := Key{SchemaVersion: SchemaVersion, TestName: "login flow", URL: "https://x.com/a", Profile: "default"}
	if s := Similarity(k, k); s != 1.0 {
		t.Fatalf("expected 1.0 for identical key, got %v", s)
	}
}

func TestSimilarityCrossEnvironmentReuse(t *testing.T) {
	staging := Key{
		SchemaVersion: SchemaVersion,
		TestName:      "login flow",
		URL:           "https://staging.x.com/path/42",
		DOMSignature:  "C:aaa|I:bbb|K:xxx",
		Profile:       "default",
		Steps:         []Step{{Action: "click", SelectorShape: "button", HasValue: false}},
	}
	prod := Key{
		SchemaVersion: SchemaVersion,
		TestName:      "login flow",
		URL:           "https://prod.x.com/path/99",
		DOMSignature:  "C:aaa|I:bbb|K:yyy",
		Profile:       "default",
		Steps:         []Step{{Action: "click", SelectorShape: "button", HasValue: false}},
	}

	s := Similarity(staging, prod)
	if s < MatchThreshold {
		t.Fatalf("expected similarity above match threshold, got %v", s)
	}
}

func TestSimilarityDivergesOnDifferentProfile(t *testing.T) {
	a := Key{SchemaVersion: SchemaVersion, TestName: "login flow", URL: "https://x.com/a", Profile: "default"}
	b := Key{SchemaVersion: SchemaVersion, TestName: "login flow", URL: "https://x.com/a", Profile: "admin"}
	if Similarity(a, b) >= 1.0 {
		t.Fatalf("expected similarity below 1.0 for differing profile")
	}
}
