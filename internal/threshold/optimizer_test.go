package threshold

import (
	"sync"
	"testing"
	"time"

	"forex-signal-engine/config"
	"forex-signal-engine/internal/market"
)

func testOptimizerConfig() config.OptimizerConfig {
	return config.OptimizerConfig{
		CadenceHours:         4,
		TargetDailySignals:   12,
		VolumeTolerancePct:   15.0,
		VolumeStep:           2.0,
		TargetWinRatePct:     65.0,
		WinRateTolerancePct:  5.0,
		WinRateStep:          1.5,
		MinOutcomesForAdjust: 10,
		VolatilityAdjustments: map[string]float64{
			"low": -2.0, "normal": 0.0, "high": 4.0, "extreme": 6.0,
		},
		RegimeFavoredAdjustment:    -2.0,
		RegimeDisfavoredAdjustment: 2.0,
	}
}

func testPairs() map[string]config.PairConfig {
	return map[string]config.PairConfig{
		"EURUSD": {BaseConfidence: 75.0, Floor: 70.0, Ceiling: 85.0, Model: "momentum"},
	}
}

func regimeWith(vol market.VolatilityTier, trend market.TrendTier) *market.RegimeState {
	return &market.RegimeState{Pair: "EURUSD", Volatility: vol, Trend: trend}
}

// emitWithinTolerance records exactly the target signal volume so the
// volume term stays zero.
func emitWithinTolerance(pw *PerformanceWindow, pair string, target int, now time.Time) {
	for i := 0; i < target; i++ {
		pw.RecordEmitted(pair, now.Add(-time.Duration(i+1)*time.Minute))
	}
}

func TestAdjustAdditiveModel(t *testing.T) {
	// Base 75, high volatility +4, ranging regime disfavors a momentum
	// pair +2, volume inside the tolerance band contributes nothing: 81.
	pw := NewPerformanceWindow(24 * time.Hour)
	now := time.Date(2026, 8, 14, 12, 0, 0, 0, time.UTC)
	emitWithinTolerance(pw, "EURUSD", 12, now)

	o := NewOptimizer(testOptimizerConfig(), testPairs(), pw, nil, nil)
	state, adjusted, err := o.Adjust("EURUSD", regimeWith(market.VolatilityHigh, market.TrendRanging), now, false)
	if err != nil {
		t.Fatal(err)
	}
	if !adjusted {
		t.Fatal("expected an adjustment cycle to run")
	}
	if state.MinConfidence != 81.0 {
		t.Errorf("min confidence = %.1f, want 81.0", state.MinConfidence)
	}
	if len(state.Reasons) != 1 || state.Reasons[0] != ReasonRegimeShift {
		t.Errorf("reasons = %v, want [regime_shift]", state.Reasons)
	}
}

func TestAdjustClampsToCeiling(t *testing.T) {
	// Extreme volatility +6, disfavored regime +2, volume above band +2,
	// win rate below target +1.5: 86.5 clamps to the 85 ceiling.
	pw := NewPerformanceWindow(24 * time.Hour)
	now := time.Date(2026, 8, 14, 12, 0, 0, 0, time.UTC)
	emitWithinTolerance(pw, "EURUSD", 20, now)
	for i := 0; i < 3; i++ {
		pw.RecordOutcome("EURUSD", true, now.Add(-time.Duration(i+1)*time.Minute))
	}
	for i := 0; i < 7; i++ {
		pw.RecordOutcome("EURUSD", false, now.Add(-time.Duration(i+4)*time.Minute))
	}

	o := NewOptimizer(testOptimizerConfig(), testPairs(), pw, nil, nil)
	state, _, err := o.Adjust("EURUSD", regimeWith(market.VolatilityExtreme, market.TrendRanging), now, false)
	if err != nil {
		t.Fatal(err)
	}
	if state.MinConfidence != 85.0 {
		t.Errorf("min confidence = %.1f, want ceiling 85.0", state.MinConfidence)
	}
	want := []AdjustReason{ReasonRegimeShift, ReasonVolumeTooHigh}
	if len(state.Reasons) != 2 || state.Reasons[0] != want[0] || state.Reasons[1] != want[1] {
		t.Errorf("reasons = %v, want %v", state.Reasons, want)
	}
}

func TestAdjustClampsToFloor(t *testing.T) {
	// Low volatility -2, trending regime favors momentum -2, volume below
	// band -2, win rate above target -1.5: 67.5 clamps to the 70 floor.
	pw := NewPerformanceWindow(24 * time.Hour)
	now := time.Date(2026, 8, 14, 12, 0, 0, 0, time.UTC)
	pw.RecordEmitted("EURUSD", now.Add(-time.Hour))
	for i := 0; i < 9; i++ {
		pw.RecordOutcome("EURUSD", true, now.Add(-time.Duration(i+1)*time.Minute))
	}
	pw.RecordOutcome("EURUSD", false, now.Add(-15*time.Minute))

	o := NewOptimizer(testOptimizerConfig(), testPairs(), pw, nil, nil)
	state, _, err := o.Adjust("EURUSD", regimeWith(market.VolatilityLow, market.TrendUp), now, false)
	if err != nil {
		t.Fatal(err)
	}
	if state.MinConfidence != 70.0 {
		t.Errorf("min confidence = %.1f, want floor 70.0", state.MinConfidence)
	}
}

func TestAdjustColdStart(t *testing.T) {
	pw := NewPerformanceWindow(24 * time.Hour)
	now := time.Date(2026, 8, 14, 12, 0, 0, 0, time.UTC)

	o := NewOptimizer(testOptimizerConfig(), testPairs(), pw, nil, nil)
	state, adjusted, err := o.Adjust("EURUSD", regimeWith(market.VolatilityExtreme, market.TrendStrongUp), now, false)
	if err != nil {
		t.Fatal(err)
	}
	if !adjusted {
		t.Fatal("cold start still counts as an adjustment cycle")
	}
	if state.MinConfidence != 75.0 {
		t.Errorf("cold start min confidence = %.1f, want base 75.0", state.MinConfidence)
	}
	if len(state.Reasons) != 1 || state.Reasons[0] != ReasonInsufficientHistory {
		t.Errorf("reasons = %v, want [insufficient_history]", state.Reasons)
	}
}

func TestAdjustCadenceGuard(t *testing.T) {
	pw := NewPerformanceWindow(24 * time.Hour)
	now := time.Date(2026, 8, 14, 12, 0, 0, 0, time.UTC)
	emitWithinTolerance(pw, "EURUSD", 12, now)

	o := NewOptimizer(testOptimizerConfig(), testPairs(), pw, nil, nil)
	first, _, err := o.Adjust("EURUSD", regimeWith(market.VolatilityHigh, market.TrendRanging), now, false)
	if err != nil {
		t.Fatal(err)
	}

	// Within the cadence window nothing changes even if the inputs moved.
	second, adjusted, err := o.Adjust("EURUSD", regimeWith(market.VolatilityLow, market.TrendUp), now.Add(time.Hour), false)
	if err != nil {
		t.Fatal(err)
	}
	if adjusted {
		t.Error("expected cadence guard to skip the cycle")
	}
	if second.MinConfidence != first.MinConfidence {
		t.Errorf("threshold moved inside cadence window: %.1f -> %.1f", first.MinConfidence, second.MinConfidence)
	}

	// A regime shift overrides the guard.
	third, adjusted, err := o.Adjust("EURUSD", regimeWith(market.VolatilityLow, market.TrendUp), now.Add(time.Hour), true)
	if err != nil {
		t.Fatal(err)
	}
	if !adjusted {
		t.Error("expected regime shift to force an adjustment")
	}
	if third.MinConfidence != 71.0 {
		// Base 75, low volatility -2, favored regime -2: 71.
		t.Errorf("min confidence after shift = %.1f, want 71.0", third.MinConfidence)
	}
}

func TestAdjustBoundsAlwaysHold(t *testing.T) {
	pw := NewPerformanceWindow(24 * time.Hour)
	o := NewOptimizer(testOptimizerConfig(), testPairs(), pw, nil, nil)
	now := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)

	vols := []market.VolatilityTier{market.VolatilityLow, market.VolatilityNormal, market.VolatilityHigh, market.VolatilityExtreme}
	trends := []market.TrendTier{market.TrendStrongDown, market.TrendDown, market.TrendRanging, market.TrendUp, market.TrendStrongUp}

	for _, vol := range vols {
		for _, trend := range trends {
			now = now.Add(5 * time.Hour)
			pw.RecordEmitted("EURUSD", now.Add(-time.Minute))
			state, _, err := o.Adjust("EURUSD", regimeWith(vol, trend), now, false)
			if err != nil {
				t.Fatal(err)
			}
			if state.MinConfidence < 70.0 || state.MinConfidence > 85.0 {
				t.Errorf("threshold %.1f out of [70,85] for %s/%s", state.MinConfidence, vol, trend)
			}
		}
	}
}

func TestAdjustUnknownPair(t *testing.T) {
	o := NewOptimizer(testOptimizerConfig(), testPairs(), NewPerformanceWindow(24*time.Hour), nil, nil)
	if _, _, err := o.Adjust("XAUUSD", nil, time.Now().UTC(), false); err == nil {
		t.Fatal("expected error for unconfigured pair")
	}
}

func TestRestoreClampsStoredValue(t *testing.T) {
	o := NewOptimizer(testOptimizerConfig(), testPairs(), NewPerformanceWindow(24*time.Hour), nil, nil)

	o.Restore(State{Pair: "EURUSD", MinConfidence: 95.0})
	state, ok := o.Snapshot("EURUSD")
	if !ok {
		t.Fatal("missing state for configured pair")
	}
	if state.MinConfidence != 85.0 {
		t.Errorf("restored min confidence = %.1f, want clamped 85.0", state.MinConfidence)
	}

	// Unknown pairs in storage are ignored rather than materialized.
	o.Restore(State{Pair: "XAUUSD", MinConfidence: 80.0})
	if _, ok := o.Snapshot("XAUUSD"); ok {
		t.Error("restore must not create state for unconfigured pairs")
	}
}

func TestRestoreSerializesWithAdjust(t *testing.T) {
	pw := NewPerformanceWindow(24 * time.Hour)
	o := NewOptimizer(testOptimizerConfig(), testPairs(), pw, nil, nil)
	base := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)
	pw.RecordEmitted("EURUSD", base)

	// Hammer Restore and Adjust on the same pair from separate
	// goroutines. Restore rewrites LastAdjustedAt while Adjust's cadence
	// guard reads it; both must go through the per-pair lock, and the
	// bounds must hold whichever write lands last.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			o.Restore(State{Pair: "EURUSD", MinConfidence: 72.0, LastAdjustedAt: base.Add(time.Duration(i) * time.Minute)})
		}
	}()
	go func() {
		defer wg.Done()
		now := base
		for i := 0; i < 200; i++ {
			now = now.Add(5 * time.Hour)
			if _, _, err := o.Adjust("EURUSD", regimeWith(market.VolatilityNormal, market.TrendUp), now, false); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	wg.Wait()

	state, ok := o.Snapshot("EURUSD")
	if !ok {
		t.Fatal("missing state for configured pair")
	}
	if state.MinConfidence < 70.0 || state.MinConfidence > 85.0 {
		t.Errorf("threshold %.1f out of [70,85] after concurrent restore", state.MinConfidence)
	}
}
