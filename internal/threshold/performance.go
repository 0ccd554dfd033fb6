package threshold

import (
	"sync"
	"time"
)

// Stats is a point-in-time aggregate of a pair's trailing window.
type Stats struct {
	SignalsEmitted  int `json:"signals_emitted"`
	SignalsExecuted int `json:"signals_executed"`
	Wins            int `json:"wins"`
	Losses          int `json:"losses"`
}

// Outcomes returns the number of resolved trades in the window.
func (s Stats) Outcomes() int {
	return s.Wins + s.Losses
}

// WinRatePct returns the win rate over resolved trades as a percentage.
// Zero when no trades have resolved.
func (s Stats) WinRatePct() float64 {
	if s.Outcomes() == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Outcomes()) * 100
}

// Empty reports whether the window has recorded nothing at all.
func (s Stats) Empty() bool {
	return s.SignalsEmitted == 0 && s.SignalsExecuted == 0 && s.Outcomes() == 0
}

type eventKind int

const (
	kindEmitted eventKind = iota
	kindExecuted
	kindWin
	kindLoss
)

type perfEvent struct {
	kind eventKind
	at   time.Time
}

// PerformanceWindow keeps trailing per-pair counters of signal and trade
// activity. Entries older than the span are evicted lazily on access.
// Safe for concurrent use.
type PerformanceWindow struct {
	mu     sync.Mutex
	span   time.Duration
	events map[string][]perfEvent
}

// NewPerformanceWindow creates a window with the given trailing span,
// typically 24 hours.
func NewPerformanceWindow(span time.Duration) *PerformanceWindow {
	if span <= 0 {
		span = 24 * time.Hour
	}
	return &PerformanceWindow{
		span:   span,
		events: make(map[string][]perfEvent),
	}
}

// RecordEmitted counts one accepted signal for the pair.
func (pw *PerformanceWindow) RecordEmitted(pair string, at time.Time) {
	pw.record(pair, kindEmitted, at)
}

// RecordExecuted counts one signal a user actually acted on.
func (pw *PerformanceWindow) RecordExecuted(pair string, at time.Time) {
	pw.record(pair, kindExecuted, at)
}

// RecordOutcome counts one resolved trade for the pair.
func (pw *PerformanceWindow) RecordOutcome(pair string, win bool, at time.Time) {
	kind := kindLoss
	if win {
		kind = kindWin
	}
	pw.record(pair, kind, at)
}

func (pw *PerformanceWindow) record(pair string, kind eventKind, at time.Time) {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	pw.events[pair] = append(pw.evictLocked(pair, at), perfEvent{kind: kind, at: at})
}

// Stats returns the pair's aggregate over the trailing window ending at now.
func (pw *PerformanceWindow) Stats(pair string, now time.Time) Stats {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	kept := pw.evictLocked(pair, now)
	pw.events[pair] = kept

	var s Stats
	for _, ev := range kept {
		switch ev.kind {
		case kindEmitted:
			s.SignalsEmitted++
		case kindExecuted:
			s.SignalsExecuted++
		case kindWin:
			s.Wins++
		case kindLoss:
			s.Losses++
		}
	}
	return s
}

// evictLocked drops events older than the span. Events arrive roughly in
// order, so scanning from the front is enough.
func (pw *PerformanceWindow) evictLocked(pair string, now time.Time) []perfEvent {
	events := pw.events[pair]
	cutoff := now.Add(-pw.span)

	i := 0
	for i < len(events) && !events[i].at.After(cutoff) {
		i++
	}
	if i == 0 {
		return events
	}
	return append(events[:0:0], events[i:]...)
}
