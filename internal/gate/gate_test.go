package gate

import (
	"testing"
	"time"

	"forex-signal-engine/config"
	"forex-signal-engine/internal/threshold"
)

func newTestGate() (*Gate, *threshold.PerformanceWindow) {
	pairs := map[string]config.PairConfig{
		"EURUSD": {BaseConfidence: 81.0, Floor: 70.0, Ceiling: 85.0, Model: "momentum"},
	}
	cfg := config.OptimizerConfig{
		CadenceHours:       4,
		TargetDailySignals: 12,
	}
	pw := threshold.NewPerformanceWindow(24 * time.Hour)
	o := threshold.NewOptimizer(cfg, pairs, pw, nil, nil)
	return New(o, pw, nil, nil), pw
}

func TestEvaluateAccept(t *testing.T) {
	g, pw := newTestGate()
	now := time.Date(2026, 8, 14, 12, 0, 0, 0, time.UTC)

	signal := NewCandidate("EURUSD", DirectionBuy, 84.0, now)
	if signal.ID == "" {
		t.Fatal("candidate must carry an ID")
	}

	verdict := g.Evaluate(signal, now)
	if !verdict.Accepted {
		t.Fatalf("expected accept, got reject(%s)", verdict.Reason)
	}
	if verdict.Threshold != 81.0 {
		t.Errorf("verdict threshold = %.1f, want 81.0", verdict.Threshold)
	}
	if got := pw.Stats("EURUSD", now).SignalsEmitted; got != 1 {
		t.Errorf("emitted = %d after accept, want 1", got)
	}
}

func TestEvaluateRejectBelowThreshold(t *testing.T) {
	g, pw := newTestGate()
	now := time.Date(2026, 8, 14, 12, 0, 0, 0, time.UTC)

	// Confidence 80 against threshold 81.
	verdict := g.Evaluate(NewCandidate("EURUSD", DirectionSell, 80.0, now), now)
	if verdict.Accepted {
		t.Fatal("expected reject")
	}
	if verdict.Reason != RejectBelowThreshold {
		t.Errorf("reason = %s, want %s", verdict.Reason, RejectBelowThreshold)
	}
	if got := pw.Stats("EURUSD", now).SignalsEmitted; got != 0 {
		t.Errorf("emitted = %d after reject, want 0", got)
	}
}

func TestEvaluateExactThresholdPasses(t *testing.T) {
	g, _ := newTestGate()
	now := time.Date(2026, 8, 14, 12, 0, 0, 0, time.UTC)

	verdict := g.Evaluate(NewCandidate("EURUSD", DirectionBuy, 81.0, now), now)
	if !verdict.Accepted {
		t.Errorf("confidence equal to threshold must pass, got reject(%s)", verdict.Reason)
	}
}

// TestEvaluateFailClosedUnknownPair verifies a pair with no threshold state
// is always rejected, for every confidence value.
func TestEvaluateFailClosedUnknownPair(t *testing.T) {
	g, pw := newTestGate()
	now := time.Date(2026, 8, 14, 12, 0, 0, 0, time.UTC)

	for confidence := 0.0; confidence <= 100.0; confidence++ {
		verdict := g.Evaluate(NewCandidate("XAUUSD", DirectionBuy, confidence, now), now)
		if verdict.Accepted {
			t.Fatalf("unknown pair accepted at confidence %.0f", confidence)
		}
		if verdict.Reason != RejectUnknownPair {
			t.Fatalf("reason = %s at confidence %.0f, want %s", verdict.Reason, confidence, RejectUnknownPair)
		}
	}
	if got := pw.Stats("XAUUSD", now).SignalsEmitted; got != 0 {
		t.Errorf("emitted = %d for unknown pair, want 0", got)
	}
}

func TestEvaluateConcurrent(t *testing.T) {
	g, pw := newTestGate()
	now := time.Date(2026, 8, 14, 12, 0, 0, 0, time.UTC)

	const workers = 8
	const perWorker = 50
	done := make(chan struct{})
	for w := 0; w < workers; w++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for i := 0; i < perWorker; i++ {
				g.Evaluate(NewCandidate("EURUSD", DirectionBuy, 90.0, now), now)
			}
		}()
	}
	for w := 0; w < workers; w++ {
		<-done
	}

	if got := pw.Stats("EURUSD", now).SignalsEmitted; got != workers*perWorker {
		t.Errorf("emitted = %d, want %d", got, workers*perWorker)
	}
}
