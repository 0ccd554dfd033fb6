package engine

import (
	"testing"
	"time"

	"forex-signal-engine/config"
	"forex-signal-engine/internal/gate"
	"forex-signal-engine/internal/risk"
	"forex-signal-engine/internal/threshold"
)

func testSignal(pair string, confidence float64, at time.Time) gate.CandidateSignal {
	return gate.CandidateSignal{
		ID:          "sig-1",
		Pair:        pair,
		Direction:   gate.DirectionBuy,
		Confidence:  confidence,
		GeneratedAt: at,
	}
}

func pairState(min float64) threshold.State {
	return threshold.State{Pair: "EURUSD", MinConfidence: min, Floor: 70, Ceiling: 85}
}

// TestDecideCooldownDeniesAllConfidences verifies an active cooldown wins
// over every other input, for the full confidence range.
func TestDecideCooldownDeniesAllConfidences(t *testing.T) {
	now := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)
	until := now.Add(10 * time.Minute)
	userState := risk.UserState{UserID: "u1", State: risk.StateRestricted, CooldownUntil: &until}

	for confidence := 0.0; confidence <= 100.0; confidence++ {
		auth := Decide(userState, pairState(75), true, "u1", testSignal("EURUSD", confidence, now), now)
		if auth.Allowed {
			t.Fatalf("cooldown breached at confidence %.0f", confidence)
		}
		if auth.Reason != DenyInCooldown {
			t.Fatalf("reason = %s at confidence %.0f, want in_cooldown", auth.Reason, confidence)
		}
		if auth.CooldownUntil == nil || !auth.CooldownUntil.Equal(until) {
			t.Fatal("denial must carry the cooldown deadline")
		}
	}
}

func TestDecideLockedDenies(t *testing.T) {
	now := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)
	userState := risk.UserState{UserID: "u1", State: risk.StateLocked}

	auth := Decide(userState, pairState(75), true, "u1", testSignal("EURUSD", 99.0, now), now)
	if auth.Allowed || auth.Reason != DenyDailyLimitReached {
		t.Fatalf("locked user got %v/%s, want deny daily_limit_reached", auth.Allowed, auth.Reason)
	}
}

func TestDecideEscalatedThresholdApplies(t *testing.T) {
	now := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)
	escalated := 83.0
	userState := risk.UserState{
		UserID:                 "u1",
		State:                  risk.StateCautious,
		ConsecutiveLosses:      1,
		EscalatedMinConfidence: &escalated,
	}

	// Pair threshold 75 but escalation raises the bar to 83.
	auth := Decide(userState, pairState(75), true, "u1", testSignal("EURUSD", 80.0, now), now)
	if auth.Allowed || auth.Reason != DenyBelowEscalatedThreshold {
		t.Fatalf("got %v/%s, want deny below_escalated_threshold", auth.Allowed, auth.Reason)
	}
	if auth.RequiredConfidence != 83.0 {
		t.Errorf("required = %.1f, want 83.0", auth.RequiredConfidence)
	}

	auth = Decide(userState, pairState(75), true, "u1", testSignal("EURUSD", 84.0, now), now)
	if !auth.Allowed {
		t.Fatalf("confidence above escalation denied: %s", auth.Reason)
	}
}

func TestDecidePairThresholdDominatesWeakEscalation(t *testing.T) {
	now := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)
	escalated := 72.0
	userState := risk.UserState{UserID: "u1", State: risk.StateCautious, EscalatedMinConfidence: &escalated}

	auth := Decide(userState, pairState(81), true, "u1", testSignal("EURUSD", 78.0, now), now)
	if auth.Allowed {
		t.Fatal("pair threshold must still apply when escalation is lower")
	}
	if auth.RequiredConfidence != 81.0 {
		t.Errorf("required = %.1f, want pair threshold 81.0", auth.RequiredConfidence)
	}
}

func TestDecideUnknownPairDenies(t *testing.T) {
	now := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)
	userState := risk.UserState{UserID: "u1", State: risk.StateNormal}

	auth := Decide(userState, threshold.State{}, false, "u1", testSignal("XAUUSD", 99.0, now), now)
	if auth.Allowed || auth.Reason != DenyUnknownPair {
		t.Fatalf("got %v/%s, want deny unknown_pair", auth.Allowed, auth.Reason)
	}
}

func TestDecideNormalUserAllowed(t *testing.T) {
	now := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)
	userState := risk.UserState{UserID: "u1", State: risk.StateNormal}

	auth := Decide(userState, pairState(75), true, "u1", testSignal("EURUSD", 75.0, now), now)
	if !auth.Allowed {
		t.Fatalf("normal user at threshold denied: %s", auth.Reason)
	}
	if auth.Reason != "" {
		t.Errorf("allow must not carry a deny reason, got %s", auth.Reason)
	}
}

// TestAuthorizerExpiredCooldownReEvaluates exercises the wired authorizer:
// once a Restricted user's cooldown lapses they are evaluated against the
// cautious-tier escalation instead of being blocked outright.
func TestAuthorizerExpiredCooldownReEvaluates(t *testing.T) {
	pairs := map[string]config.PairConfig{
		"EURUSD": {BaseConfidence: 75.0, Floor: 70.0, Ceiling: 85.0, Model: "momentum"},
	}
	optimizer := threshold.NewOptimizer(config.OptimizerConfig{CadenceHours: 4, TargetDailySignals: 12}, pairs, threshold.NewPerformanceWindow(24*time.Hour), nil, nil)
	riskCtl := risk.NewController(config.RiskConfig{
		Ladder: []config.EscalationTier{
			{Losses: 1, MinConfidence: 83.0, CooldownMinutes: 0},
			{Losses: 2, MinConfidence: 88.0, CooldownMinutes: 30},
		},
		LockoutLosses:   3,
		DailyLossCapPct: 6.0,
	}, nil, nil)
	a := NewAuthorizer(optimizer, riskCtl)

	now := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)
	riskCtl.RecordOutcome("u1", risk.ResultLoss, -1.0, now)
	riskCtl.RecordOutcome("u1", risk.ResultLoss, -1.0, now.Add(time.Minute))

	// Inside the cooldown: denied no matter the confidence.
	auth := a.Authorize("u1", testSignal("EURUSD", 95.0, now), now.Add(5*time.Minute))
	if auth.Reason != DenyInCooldown {
		t.Fatalf("reason = %s during cooldown, want in_cooldown", auth.Reason)
	}

	// After expiry the user is Cautious at 83: 84 passes, 80 does not.
	later := now.Add(45 * time.Minute)
	if auth = a.Authorize("u1", testSignal("EURUSD", 84.0, later), later); !auth.Allowed {
		t.Fatalf("expected allow after cooldown expiry, got %s", auth.Reason)
	}
	if auth = a.Authorize("u1", testSignal("EURUSD", 80.0, later), later); auth.Reason != DenyBelowEscalatedThreshold {
		t.Fatalf("reason = %s, want below_escalated_threshold", auth.Reason)
	}
}
