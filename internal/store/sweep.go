package store

import (
	"time"

	"selectorcache/internal/logging"
)

// SweepConfig carries the tunables the periodic sweep needs without the
// store package importing the config package directly.
type SweepConfig struct {
	Interval      time.Duration
	SelectorTTLMs int64
	VariationCap  int
}

// sweepHandle tracks the background worker's stop/done channels, mirroring
// the start/stop lifecycle used elsewhere in this codebase for ticker-
// driven maintenance loops.
type sweepHandle struct {
	stop chan struct{}
	done chan struct{}
}

// StartSweep launches the single background worker the cache runs: on
// every tick it deletes expired mappings, expired snapshots, applies the
// variation cap, deletes orphaned mappings, and garbage-collects orphaned
// selectors. Calling
// StartSweep twice without StopSweep is a no-op.
func (s *Store) StartSweep(cfg SweepConfig) {
	s.mu.Lock()
	if s.sweep != nil {
		s.mu.Unlock()
		return
	}
	h := &sweepHandle{stop: make(chan struct{}), done: make(chan struct{})}
	s.sweep = h
	s.mu.Unlock()

	go s.runSweep(cfg, h)
}

// StopSweep cancels the background worker and waits (briefly) for it to
// exit before returning. Must be called before the DB handle is
// released.
func (s *Store) StopSweep() {
	s.mu.Lock()
	h := s.sweep
	s.sweep = nil
	s.mu.Unlock()

	if h == nil {
		return
	}
	close(h.stop)
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
	}
}

func (s *Store) runSweep(cfg SweepConfig, h *sweepHandle) {
	defer close(h.done)

	interval := cfg.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			s.runSweepOnce(cfg)
		}
	}
}

func (s *Store) runSweepOnce(cfg SweepConfig) {
	db := s.DB()
	if db == nil {
		return
	}
	timer := logging.StartTimer(logging.CategorySweep, "sweep")
	defer timer.Stop()

	now := time.Now().UnixMilli()

	expiredMappings, err := DeleteExpiredMappings(db, cfg.SelectorTTLMs, now)
	if err != nil {
		logging.SweepWarn("delete expired mappings failed: %v", err)
	}

	expiredSnapshots, err := DeleteExpiredSnapshots(db, now)
	if err != nil {
		logging.SweepWarn("delete expired snapshots failed: %v", err)
	}

	cap := cfg.VariationCap
	if cap <= 0 {
		cap = 20
	}
	pruned, err := PruneVariations(db, cap)
	if err != nil {
		logging.SweepWarn("prune variations failed: %v", err)
	}

	var orphanMappings int64
	if res, err := db.Exec(`DELETE FROM input_mappings WHERE selector_hash NOT IN (SELECT selector_hash FROM selector_cache)`); err != nil {
		logging.SweepWarn("delete orphaned mappings failed: %v", err)
	} else {
		orphanMappings, _ = res.RowsAffected()
	}

	orphans, err := DeleteOrphanedSelectors(db)
	if err != nil {
		logging.SweepWarn("delete orphaned selectors failed: %v", err)
	}

	logging.SweepDebug("sweep complete: expired_mappings=%d expired_snapshots=%d pruned_variations=%d orphaned_mappings=%d orphaned_selectors=%d",
		expiredMappings, expiredSnapshots, pruned, orphanMappings, orphans)
}
