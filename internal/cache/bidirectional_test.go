package cache_test

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"selectorcache/internal/cache"
	"selectorcache/internal/config"
	"selectorcache/internal/similarity"
	"selectorcache/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func mustCache(t *testing.T) (*cache.Cache, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	c := cache.New(st, config.DefaultTunables(), 16)
	t.Cleanup(c.Close)
	return c, st
}

func TestGetOnEmptyCacheIsMiss(t *testing.T) {
	c, _ := mustCache(t)
	res, err := c.Get("click login button", "https://app.example.com/login", similarity.OpCacheLookup)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res != nil {
		t.Fatalf("expected miss, got %+v", res)
	}
}

func TestSetThenGetExactMatch(t *testing.T) {
	c, _ := mustCache(t)
	url := "https://app.example.com/login"

	if err := c.Set("click login button", url, "#login-btn"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	res, err := c.Get("click login button", url, similarity.OpCacheLookup)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res == nil {
		t.Fatalf("expected a hit")
	}
	if res.Selector != "#login-btn" {
		t.Fatalf("expected #login-btn, got %s", res.Selector)
	}
	if res.Source != cache.SourceExact {
		t.Fatalf("expected exact source, got %s", res.Source)
	}
}

func TestGetNormalizedMatchIgnoresCaseAndPunctuation(t *testing.T) {
	c, _ := mustCache(t)
	url := "https://app.example.com/login"

	if err := c.Set("Click the Login Button!", url, "#login-btn"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	res, err := c.Get("click login button", url, similarity.OpCacheLookup)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res == nil {
		t.Fatalf("expected a hit")
	}
	if res.Source != cache.SourceNormalized && res.Source != cache.SourceExact {
		t.Fatalf("expected normalized (or exact) source, got %s", res.Source)
	}
}

func TestGetReverseMatchViaActionSynonym(t *testing.T) {
	c, _ := mustCache(t)
	url := "https://app.example.com/login"

	if err := c.Set("click login button", url, "#login-btn"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	res, err := c.Get("press login button", url, similarity.OpCacheLookup)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res == nil {
		t.Fatalf("expected a reverse hit for a synonym phrasing")
	}
	if res.Source != cache.SourceReverse {
		t.Fatalf("expected reverse source, got %s", res.Source)
	}
}

func TestGetRejectsMutuallyExclusiveAction(t *testing.T) {
	c, _ := mustCache(t)
	url := "https://app.example.com/account"

	if err := c.Set("login to account", url, "#login-btn"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	res, err := c.Get("logout of account", url, similarity.OpCacheLookup)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res != nil {
		t.Fatalf("expected no match across a login/logout conflict, got %+v", res)
	}
}

func TestGetFuzzyMatchViaTypo(t *testing.T) {
	c, _ := mustCache(t)
	url := "https://app.example.com/signup"

	if err := c.Set("submit registration form", url, "#signup-submit"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	res, err := c.Get("submit registraton form", url, similarity.OpCacheLookup)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res == nil {
		t.Fatalf("expected a fuzzy hit for a one-character typo")
	}
}

func TestInvalidateSelectorRemovesMapping(t *testing.T) {
	c, _ := mustCache(t)
	url := "https://app.example.com/login"

	if err := c.Set("click login button", url, "#login-btn"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.InvalidateSelector("#login-btn", url); err != nil {
		t.Fatalf("InvalidateSelector: %v", err)
	}

	res, err := c.Get("click login button", url, similarity.OpCacheLookup)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res != nil {
		t.Fatalf("expected miss after invalidation, got %+v", res)
	}
}

func TestStatsCountExactHitsAndMisses(t *testing.T) {
	c, _ := mustCache(t)
	url := "https://app.example.com/login"

	_, _ = c.Get("click login button", url, similarity.OpCacheLookup) // miss
	_ = c.Set("click login button", url, "#login-btn")
	_, _ = c.Get("click login button", url, similarity.OpCacheLookup) // exact hit

	stats := c.Stats()
	if stats.Misses < 1 {
		t.Fatalf("expected at least one recorded miss, got %d", stats.Misses)
	}
	if stats.HitExact < 1 {
		t.Fatalf("expected at least one recorded exact hit, got %d", stats.HitExact)
	}
	if stats.Sets != 1 {
		t.Fatalf("expected exactly one recorded set, got %d", stats.Sets)
	}
}

func TestAsyncLearningRecordsPatternMapping(t *testing.T) {
	c, _ := mustCache(t)
	url := "https://app.example.com/login"

	if err := c.Set("click the login submit button", url, "#login-btn"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Set("press the login submit control", url, "#login-btn"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Stats().Learnings > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected the background worker to record at least one learned mapping")
}

func TestHealthReportsOK(t *testing.T) {
	c, _ := mustCache(t)
	h := c.Health()
	if !h.OK {
		t.Fatalf("expected a healthy fresh store, issues: %v", h.Issues)
	}
}
