package normalize

import (
	"reflect"
	"testing"
)

func TestNormalizeLowercasesAndStrips(t *testing.T) {
	r := Normalize("Click the Submit Button!")
	want := []string{"click", "submit", "button"}
	if !reflect.DeepEqual(r.Tokens, want) {
		t.Fatalf("got %v, want %v", r.Tokens, want)
	}
}

func TestNormalizeKeepsInternalDash(t *testing.T) {
	r := Normalize("sign-in link")
	found := false
	for _, tok := range r.Tokens {
		if tok == "sign-in" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected sign-in token preserved, got %v", r.Tokens)
	}
}

func TestNormalizeStemsTrailingIngAndS(t *testing.T) {
	r := Normalize("clicking buttons")
	want := []string{"click", "button"}
	if !reflect.DeepEqual(r.Tokens, want) {
		t.Fatalf("got %v, want %v", r.Tokens, want)
	}
}

func TestNormalizeDropsStopwords(t *testing.T) {
	r := Normalize("click the button")
	for _, tok := range r.Tokens {
		if tok == "the" {
			t.Fatalf("expected stopword dropped, got %v", r.Tokens)
		}
	}
}

func TestDamerauLevenshteinIdentical(t *testing.T) {
	if d := DamerauLevenshtein("submit", "submit"); d != 0 {
		t.Fatalf("expected 0, got %d", d)
	}
}

func TestDamerauLevenshteinTransposition(t *testing.T) {
	// "ab" -> "ba" is one transposition under Damerau-Levenshtein,
	// two under plain Levenshtein.
	if d := DamerauLevenshtein("ab", "ba"); d != 1 {
		t.Fatalf("expected 1, got %d", d)
	}
}

func TestDamerauLevenshteinEmptyStrings(t *testing.T) {
	if d := DamerauLevenshtein("", "abc"); d != 3 {
		t.Fatalf("expected 3, got %d", d)
	}
	if d := DamerauLevenshtein("abc", ""); d != 3 {
		t.Fatalf("expected 3, got %d", d)
	}
}
