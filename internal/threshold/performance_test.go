package threshold

import (
	"testing"
	"time"
)

func TestPerformanceWindowCounters(t *testing.T) {
	pw := NewPerformanceWindow(24 * time.Hour)
	now := time.Date(2026, 8, 14, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		pw.RecordEmitted("EURUSD", now.Add(-time.Duration(i)*time.Hour))
	}
	pw.RecordExecuted("EURUSD", now.Add(-time.Hour))
	pw.RecordOutcome("EURUSD", true, now.Add(-30*time.Minute))
	pw.RecordOutcome("EURUSD", true, now.Add(-20*time.Minute))
	pw.RecordOutcome("EURUSD", false, now.Add(-10*time.Minute))

	stats := pw.Stats("EURUSD", now)
	if stats.SignalsEmitted != 5 {
		t.Errorf("emitted = %d, want 5", stats.SignalsEmitted)
	}
	if stats.SignalsExecuted != 1 {
		t.Errorf("executed = %d, want 1", stats.SignalsExecuted)
	}
	if stats.Wins != 2 || stats.Losses != 1 {
		t.Errorf("wins/losses = %d/%d, want 2/1", stats.Wins, stats.Losses)
	}
	if got := stats.WinRatePct(); got < 66.6 || got > 66.7 {
		t.Errorf("win rate = %.2f, want ~66.67", got)
	}

	// Other pairs are untouched.
	if !pw.Stats("GBPUSD", now).Empty() {
		t.Error("expected empty stats for unrecorded pair")
	}
}

func TestPerformanceWindowEviction(t *testing.T) {
	pw := NewPerformanceWindow(24 * time.Hour)
	now := time.Date(2026, 8, 14, 12, 0, 0, 0, time.UTC)

	pw.RecordEmitted("EURUSD", now.Add(-25*time.Hour))
	pw.RecordOutcome("EURUSD", false, now.Add(-24*time.Hour-time.Second))
	pw.RecordEmitted("EURUSD", now.Add(-23*time.Hour))
	pw.RecordOutcome("EURUSD", true, now.Add(-time.Hour))

	stats := pw.Stats("EURUSD", now)
	if stats.SignalsEmitted != 1 {
		t.Errorf("emitted = %d after eviction, want 1", stats.SignalsEmitted)
	}
	if stats.Losses != 0 {
		t.Errorf("losses = %d after eviction, want 0", stats.Losses)
	}
	if stats.Wins != 1 {
		t.Errorf("wins = %d, want 1", stats.Wins)
	}

	// The whole window ages out.
	later := now.Add(26 * time.Hour)
	if !pw.Stats("EURUSD", later).Empty() {
		t.Error("expected empty stats once every entry aged out")
	}
}

func TestWinRatePctNoOutcomes(t *testing.T) {
	var s Stats
	if s.WinRatePct() != 0 {
		t.Errorf("win rate with no outcomes = %.2f, want 0", s.WinRatePct())
	}
	if !s.Empty() {
		t.Error("zero stats should report empty")
	}
}
