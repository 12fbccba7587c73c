package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitializeDisabledIsNoop(t *testing.T) {
	Reset()
	defer Reset()

	dir := t.TempDir()
	if err := Initialize(dir, false, nil, "info", false); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	logsDir := filepath.Join(dir, ".claude-playwright", "cache", "logs")
	if _, err := os.Stat(logsDir); !os.IsNotExist(err) {
		t.Fatalf("expected no logs directory in production mode, got err=%v", err)
	}

	Cache("should not panic even though disabled")
}

func TestInitializeDebugModeCreatesLogFile(t *testing.T) {
	Reset()
	defer Reset()

	dir := t.TempDir()
	if err := Initialize(dir, true, nil, "debug", false); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	CacheDebug("hit ratio check: %d/%d", 4, 5)
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(dir, ".claude-playwright", "cache", "logs"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	found := false
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".log" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected at least one .log file, entries=%v", entries)
	}
}

func TestCategoryDisabledSuppressesOutput(t *testing.T) {
	Reset()
	defer Reset()

	dir := t.TempDir()
	categories := map[string]bool{string(CategoryCache): false}
	if err := Initialize(dir, true, categories, "debug", false); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if IsCategoryEnabled(CategoryCache) {
		t.Fatalf("expected cache category to be disabled")
	}
	if !IsCategoryEnabled(CategoryStore) {
		t.Fatalf("expected store category to default to enabled")
	}
}

func TestTimerStopWithThreshold(t *testing.T) {
	Reset()
	defer Reset()
	dir := t.TempDir()
	_ = Initialize(dir, true, nil, "debug", false)

	timer := StartTimer(CategorySweep, "test-op")
	elapsed := timer.StopWithThreshold(0)
	if elapsed < 0 {
		t.Fatalf("expected non-negative elapsed duration")
	}
}
