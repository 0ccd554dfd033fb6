package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"forex-signal-engine/config"
	"forex-signal-engine/internal/gate"
	"forex-signal-engine/internal/logging"
	"forex-signal-engine/internal/risk"
	"forex-signal-engine/internal/threshold"
)

// fakeRepo records every persistence call so tests can assert on what the
// engine wrote and when.
type fakeRepo struct {
	mu sync.Mutex

	riskStates []risk.UserState

	savedDecisions int
	savedAuths     int
	savedOutcomes  int
	savedRisk      int
	savedThreshold int
	clearCalls     int

	decisionDelay time.Duration
}

func (f *fakeRepo) SaveThresholdState(ctx context.Context, state threshold.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedThreshold++
	return nil
}

func (f *fakeRepo) ListThresholdStates(ctx context.Context) ([]threshold.State, error) {
	return nil, nil
}

func (f *fakeRepo) SaveSignalDecision(ctx context.Context, verdict gate.Verdict) error {
	time.Sleep(f.decisionDelay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedDecisions++
	return nil
}

func (f *fakeRepo) SaveAuthorization(ctx context.Context, auth Authorization) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedAuths++
	return nil
}

func (f *fakeRepo) SaveTradeOutcome(ctx context.Context, outcome OutcomeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedOutcomes++
	return nil
}

func (f *fakeRepo) SaveUserRiskState(ctx context.Context, state risk.UserState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedRisk++
	return nil
}

func (f *fakeRepo) ListUserRiskStates(ctx context.Context) ([]risk.UserState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.riskStates, nil
}

func (f *fakeRepo) ClearUserRiskStates(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearCalls++
	return nil
}

func (f *fakeRepo) counts() (decisions, clears int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.savedDecisions, f.clearCalls
}

func newTestEngine(t *testing.T, repo Repository) *Engine {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	if err := config.GenerateSampleConfig(path); err != nil {
		t.Fatalf("GenerateSampleConfig: %v", err)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	logger := logging.New(&logging.Config{Level: "ERROR"})
	return New(cfg, nil, logger, Options{Repo: repo})
}

func TestLoadStateSkipsRowsFromBeforeDailyBoundary(t *testing.T) {
	now := time.Now().UTC()
	stale := now.Add(-26 * time.Hour)
	escalated := 83.0

	repo := &fakeRepo{riskStates: []risk.UserState{
		{UserID: "u1", State: risk.StateLocked, ConsecutiveLosses: 5, DailyLossPct: 7.5, UpdatedAt: stale},
		{UserID: "u2", State: risk.StateCautious, ConsecutiveLosses: 2, EscalatedMinConfidence: &escalated, UpdatedAt: now.Add(-time.Minute)},
	}}
	eng := newTestEngine(t, repo)

	if err := eng.LoadState(context.Background()); err != nil {
		t.Fatalf("LoadState: %v", err)
	}

	// The lock predates today's 00:00 UTC reset, so the restart must not
	// bring it back.
	got := eng.UserRisk("u1")
	if got.State != risk.StateNormal {
		t.Errorf("u1 state = %s, want normal after a restart across the daily boundary", got.State)
	}
	if got.DailyLossPct != 0 || got.ConsecutiveLosses != 0 {
		t.Errorf("u1 counters = %d losses / %.1f%%, want zeroed", got.ConsecutiveLosses, got.DailyLossPct)
	}

	// Same-day rows survive the restart untouched.
	got = eng.UserRisk("u2")
	if got.State != risk.StateCautious || got.ConsecutiveLosses != 2 {
		t.Errorf("u2 = %s with %d losses, want cautious with 2", got.State, got.ConsecutiveLosses)
	}
}

func TestResetDailyClearsPersistedRiskStates(t *testing.T) {
	repo := &fakeRepo{}
	eng := newTestEngine(t, repo)

	if _, err := eng.RecordOutcome("u1", "EURUSD", risk.ResultLoss, -1.0); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if cleared := eng.ResetDaily(); cleared != 1 {
		t.Fatalf("cleared = %d, want 1", cleared)
	}
	eng.Stop()

	if _, clears := repo.counts(); clears != 1 {
		t.Errorf("ClearUserRiskStates called %d times, want 1", clears)
	}
}

func TestStopWaitsForInFlightPersists(t *testing.T) {
	repo := &fakeRepo{decisionDelay: 50 * time.Millisecond}
	eng := newTestEngine(t, repo)

	eng.EvaluateSignal(gate.NewCandidate("EURUSD", gate.DirectionBuy, 90.0, time.Now().UTC()))
	eng.Stop()

	// Stop returned, so the slow decision write must already be on disk.
	if decisions, _ := repo.counts(); decisions != 1 {
		t.Errorf("decisions persisted = %d, want 1 before Stop returns", decisions)
	}
}
