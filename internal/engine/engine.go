package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"forex-signal-engine/config"
	"forex-signal-engine/internal/cache"
	"forex-signal-engine/internal/events"
	"forex-signal-engine/internal/gate"
	"forex-signal-engine/internal/logging"
	"forex-signal-engine/internal/market"
	"forex-signal-engine/internal/risk"
	"forex-signal-engine/internal/threshold"
)

// OutcomeRecord is one confirmed trade outcome as reported by the
// execution collaborator.
type OutcomeRecord struct {
	UserID     string      `json:"user_id"`
	Pair       string      `json:"pair"`
	Result     risk.Result `json:"result"`
	PnlPct     float64     `json:"pnl_pct"`
	RecordedAt time.Time   `json:"recorded_at"`
}

// Repository persists engine state and decisions. A nil Repository keeps
// everything in memory.
type Repository interface {
	SaveThresholdState(ctx context.Context, state threshold.State) error
	ListThresholdStates(ctx context.Context) ([]threshold.State, error)
	SaveSignalDecision(ctx context.Context, verdict gate.Verdict) error
	SaveAuthorization(ctx context.Context, auth Authorization) error
	SaveTradeOutcome(ctx context.Context, outcome OutcomeRecord) error
	SaveUserRiskState(ctx context.Context, state risk.UserState) error
	ListUserRiskStates(ctx context.Context) ([]risk.UserState, error)
	ClearUserRiskStates(ctx context.Context) error
}

// Options carries the engine's optional collaborators.
type Options struct {
	Repo    Repository
	Cache   *cache.Service
	Journal *Journal
}

// Engine wires the classifier, optimizer, gate, risk controller, and
// authorizer together and runs the background cadence and daily-reset
// loops.
type Engine struct {
	cfg    *config.Config
	bus    *events.EventBus
	logger *logging.Logger

	windows    *market.WindowStore
	classifier *market.Classifier
	perf       *threshold.PerformanceWindow
	optimizer  *threshold.Optimizer
	gate       *gate.Gate
	riskCtl    *risk.Controller
	authorizer *Authorizer

	repo    Repository
	cache   *cache.Service
	journal *Journal

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds an engine from validated configuration.
func New(cfg *config.Config, bus *events.EventBus, logger *logging.Logger, opts Options) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	if bus == nil {
		bus = events.NewEventBus()
	}

	windows := market.NewWindowStore(cfg.Regime.LookbackSamples)
	classifier := market.NewClassifier(cfg.Regime, windows, logger)
	perf := threshold.NewPerformanceWindow(24 * time.Hour)
	optimizer := threshold.NewOptimizer(cfg.Optimizer, cfg.Pairs, perf, bus, logger)
	riskCtl := risk.NewController(cfg.Risk, bus, logger)

	return &Engine{
		cfg:        cfg,
		bus:        bus,
		logger:     logger.WithComponent("engine"),
		windows:    windows,
		classifier: classifier,
		perf:       perf,
		optimizer:  optimizer,
		gate:       gate.New(optimizer, perf, bus, logger),
		riskCtl:    riskCtl,
		authorizer: NewAuthorizer(optimizer, riskCtl),
		repo:       opts.Repo,
		cache:      opts.Cache,
		journal:    opts.Journal,
		stopCh:     make(chan struct{}),
	}
}

// LoadState restores threshold and risk state from the repository. Risk
// rows last touched before today's 00:00 UTC boundary are skipped: the
// daily reset they missed while the process was down still applies, so a
// restart never resurrects yesterday's locks or cooldowns.
func (e *Engine) LoadState(ctx context.Context) error {
	if e.repo == nil {
		return nil
	}

	states, err := e.repo.ListThresholdStates(ctx)
	if err != nil {
		return err
	}
	for _, s := range states {
		e.optimizer.Restore(s)
	}

	userStates, err := e.repo.ListUserRiskStates(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	restored, stale := 0, 0
	for _, s := range userStates {
		if s.UpdatedAt.Before(dayStart) {
			stale++
			continue
		}
		e.riskCtl.Restore(s)
		restored++
	}
	if stale > 0 {
		// Stale rows stay on disk until the next reset wipes the table;
		// filtering here is what keeps them out of the live machine.
		e.logger.Info("discarding risk states from before the daily boundary", "stale", stale)
	}

	e.logger.Info("state restored", "thresholds", len(states), "users", restored)
	return nil
}

// Ingest appends one price sample to its pair's rolling window.
func (e *Engine) Ingest(sample market.PriceSample) {
	e.windows.Append(sample)
}

// EvaluateSignal runs a candidate signal through the gate.
func (e *Engine) EvaluateSignal(signal gate.CandidateSignal) gate.Verdict {
	now := time.Now().UTC()
	verdict := e.gate.Evaluate(signal, now)

	e.journal.Verdict(verdict)
	if e.repo != nil {
		e.persistAsync(func(ctx context.Context) error {
			return e.repo.SaveSignalDecision(ctx, verdict)
		}, "signal decision")
	}
	return verdict
}

// Authorize produces the final execution decision for a user and signal.
// An allow counts toward the pair's executed-signal volume.
func (e *Engine) Authorize(userID string, signal gate.CandidateSignal) Authorization {
	now := time.Now().UTC()
	auth := e.authorizer.Authorize(userID, signal, now)

	if auth.Allowed {
		e.perf.RecordExecuted(signal.Pair, now)
	} else {
		e.logger.Info("execution denied",
			"user_id", userID,
			"pair", signal.Pair,
			"reason", string(auth.Reason),
			"confidence", signal.Confidence,
			"required", auth.RequiredConfidence)
		e.bus.PublishExecutionDenied(userID, signal.Pair, string(auth.Reason), signal.Confidence, auth.RequiredConfidence)
	}

	e.journal.Authorization(auth)
	if e.repo != nil {
		e.persistAsync(func(ctx context.Context) error {
			return e.repo.SaveAuthorization(ctx, auth)
		}, "authorization")
	}
	return auth
}

// RecordOutcome feeds one confirmed trade outcome into the risk machine
// and the pair's performance window. Ambiguous outcomes change nothing
// and are reported back for a later retry.
func (e *Engine) RecordOutcome(userID, pair string, result risk.Result, pnlPct float64) (risk.UserState, error) {
	now := time.Now().UTC()
	state, err := e.riskCtl.RecordOutcome(userID, result, pnlPct, now)
	if err != nil {
		return risk.UserState{}, err
	}

	e.perf.RecordOutcome(pair, result == risk.ResultWin, now)
	e.journal.Outcome(userID, pair, result, pnlPct, state)

	if e.cache != nil {
		e.cache.SetUserRiskState(context.Background(), state)
	}
	if e.repo != nil {
		record := OutcomeRecord{UserID: userID, Pair: pair, Result: result, PnlPct: pnlPct, RecordedAt: now}
		e.persistAsync(func(ctx context.Context) error {
			if err := e.repo.SaveTradeOutcome(ctx, record); err != nil {
				return err
			}
			return e.repo.SaveUserRiskState(ctx, state)
		}, "trade outcome")
	}
	return state, nil
}

// ThresholdSnapshots returns the live threshold state for every pair.
func (e *Engine) ThresholdSnapshots() map[string]threshold.State {
	return e.optimizer.Snapshots()
}

// ThresholdSnapshot returns one pair's threshold state.
func (e *Engine) ThresholdSnapshot(pair string) (threshold.State, bool) {
	return e.optimizer.Snapshot(pair)
}

// Regime returns the last completed regime evaluation for a pair.
func (e *Engine) Regime(pair string) *market.RegimeState {
	return e.classifier.LastKnown(pair)
}

// PairStats returns the pair's trailing performance aggregate.
func (e *Engine) PairStats(pair string) threshold.Stats {
	return e.perf.Stats(pair, time.Now().UTC())
}

// UserRisk returns a user's current risk state.
func (e *Engine) UserRisk(userID string) risk.UserState {
	return e.riskCtl.Snapshot(userID, time.Now().UTC())
}

// UserRiskStates returns every tracked user's risk state.
func (e *Engine) UserRiskStates() []risk.UserState {
	return e.riskCtl.Snapshots(time.Now().UTC())
}

// ResetDaily clears every user's risk state. Normally invoked by the
// internal scheduler at 00:00 UTC; exposed for the admin endpoint.
func (e *Engine) ResetDaily() int {
	cleared := e.riskCtl.ResetDaily(time.Now().UTC())
	e.journal.DailyReset(cleared)
	if e.cache != nil {
		e.cache.InvalidateRiskStates(context.Background())
	}
	if e.repo != nil {
		e.persistAsync(func(ctx context.Context) error {
			return e.repo.ClearUserRiskStates(ctx)
		}, "risk state clear")
	}
	return cleared
}

// Start launches the background loops.
func (e *Engine) Start() {
	e.wg.Add(2)
	go e.optimizeLoop()
	go e.dailyResetLoop()
	e.logger.Info("engine started", "pairs", len(e.cfg.Pairs))
}

// Stop shuts the background loops down and waits for them.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
	e.journal.Close()
	e.logger.Info("engine stopped")
}

// optimizeLoop re-evaluates regimes every minute and runs the optimizer.
// The optimizer's own cadence guard keeps thresholds from thrashing; a
// regime tier change forces an immediate adjustment.
func (e *Engine) optimizeLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.runOptimizerCycle(time.Now().UTC())
		}
	}
}

func (e *Engine) runOptimizerCycle(now time.Time) {
	for pair := range e.cfg.Pairs {
		regime, changed, err := e.classifier.Classify(pair, now)
		if err != nil && regime == nil {
			if errors.Is(err, market.ErrInsufficientData) {
				e.logger.Debug("skipping optimizer cycle", "pair", pair, "error", err)
				continue
			}
			e.logger.Error("regime classification failed", "pair", pair, "error", err)
			continue
		}

		if changed {
			e.bus.PublishRegimeChanged(pair, string(regime.Volatility), string(regime.Trend))
		}

		previous, _ := e.optimizer.Snapshot(pair)
		state, adjusted, err := e.optimizer.Adjust(pair, regime, now, changed)
		if err != nil {
			e.logger.Error("threshold adjustment failed", "pair", pair, "error", err)
			continue
		}
		if !adjusted {
			continue
		}

		e.journal.ThresholdAdjusted(state, previous.MinConfidence)
		if e.cache != nil {
			e.cache.SetThresholdState(context.Background(), state)
		}
		if e.repo != nil {
			saved := state
			e.persistAsync(func(ctx context.Context) error {
				return e.repo.SaveThresholdState(ctx, saved)
			}, "threshold state")
		}
	}
}

// dailyResetLoop fires the atomic risk reset at each 00:00 UTC boundary.
func (e *Engine) dailyResetLoop() {
	defer e.wg.Done()

	for {
		now := time.Now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-e.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			e.ResetDaily()
		}
	}
}

// persistAsync runs a persist on its own goroutine, tracked by the engine
// wait group so Stop does not return while writes are still in flight.
func (e *Engine) persistAsync(fn func(context.Context) error, what string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.persist(fn, what)
	}()
}

func (e *Engine) persist(fn func(context.Context) error, what string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := fn(ctx); err != nil {
		e.logger.Error("failed to persist "+what, "error", err)
	}
}
