package threshold

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"forex-signal-engine/config"
	"forex-signal-engine/internal/events"
	"forex-signal-engine/internal/logging"
	"forex-signal-engine/internal/market"
)

// Optimizer maintains the live minimum confidence per pair, converging
// toward the configured signal volume and win rate. It is the only writer
// of threshold state; adjustments for different pairs run concurrently,
// adjustments for the same pair are serialized.
type Optimizer struct {
	cfg    config.OptimizerConfig
	pairs  map[string]config.PairConfig
	perf   *PerformanceWindow
	bus    *events.EventBus
	logger *logging.Logger

	mu     sync.RWMutex
	states map[string]*State
	locks  map[string]*sync.Mutex
}

// NewOptimizer creates an optimizer seeded with each configured pair's
// base confidence.
func NewOptimizer(cfg config.OptimizerConfig, pairs map[string]config.PairConfig, perf *PerformanceWindow, bus *events.EventBus, logger *logging.Logger) *Optimizer {
	if logger == nil {
		logger = logging.Default()
	}

	o := &Optimizer{
		cfg:    cfg,
		pairs:  pairs,
		perf:   perf,
		bus:    bus,
		logger: logger.WithComponent("optimizer"),
		states: make(map[string]*State, len(pairs)),
		locks:  make(map[string]*sync.Mutex, len(pairs)),
	}
	for pair, pc := range pairs {
		o.states[pair] = &State{
			Pair:          pair,
			MinConfidence: pc.BaseConfidence,
			Floor:         pc.Floor,
			Ceiling:       pc.Ceiling,
		}
		o.locks[pair] = &sync.Mutex{}
	}
	return o
}

// Snapshot returns a value copy of the pair's current threshold state.
func (o *Optimizer) Snapshot(pair string) (State, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	s, ok := o.states[pair]
	if !ok {
		return State{}, false
	}
	return copyState(s), true
}

// Snapshots returns value copies of every pair's threshold state.
func (o *Optimizer) Snapshots() map[string]State {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make(map[string]State, len(o.states))
	for pair, s := range o.states {
		out[pair] = copyState(s)
	}
	return out
}

// Restore overwrites a pair's state from persistence. Values outside the
// configured bounds are clamped; unknown pairs are ignored. Takes the
// per-pair lock so a restore never interleaves with a running Adjust.
func (o *Optimizer) Restore(stored State) {
	o.mu.RLock()
	s, ok := o.states[stored.Pair]
	lock := o.locks[stored.Pair]
	o.mu.RUnlock()
	if !ok {
		return
	}

	lock.Lock()
	defer lock.Unlock()

	o.mu.Lock()
	defer o.mu.Unlock()
	s.MinConfidence = s.Clamped(stored.MinConfidence)
	s.LastAdjustedAt = stored.LastAdjustedAt
	s.Reasons = append([]AdjustReason(nil), stored.Reasons...)
}

// Adjust recomputes the pair's threshold. It is a no-op inside the cadence
// window unless regimeShift forces an immediate run. The returned bool
// reports whether an adjustment cycle actually ran.
func (o *Optimizer) Adjust(pair string, regime *market.RegimeState, now time.Time, regimeShift bool) (State, bool, error) {
	o.mu.RLock()
	state, ok := o.states[pair]
	lock := o.locks[pair]
	o.mu.RUnlock()
	if !ok {
		return State{}, false, fmt.Errorf("no threshold state for pair %s", pair)
	}

	lock.Lock()
	defer lock.Unlock()

	cadence := time.Duration(o.cfg.CadenceHours) * time.Hour
	if !regimeShift && !state.LastAdjustedAt.IsZero() && now.Before(state.LastAdjustedAt.Add(cadence)) {
		return o.readState(pair), false, nil
	}

	pc := o.pairs[pair]
	stats := o.perf.Stats(pair, now)

	var next float64
	var reasons []AdjustReason
	if stats.Empty() {
		next = pc.BaseConfidence
		reasons = []AdjustReason{ReasonInsufficientHistory}
	} else {
		factors := o.computeFactors(pc, regime, stats)
		next = pc.BaseConfidence
		for _, f := range factors {
			next += f.delta
		}
		reasons = dominantReasons(factors)
	}

	o.mu.Lock()
	previous := state.MinConfidence
	state.MinConfidence = state.Clamped(next)
	state.LastAdjustedAt = now
	state.Reasons = reasons
	current := state.MinConfidence
	o.mu.Unlock()

	if current != previous {
		o.logger.Info("threshold adjusted",
			"pair", pair,
			"previous", previous,
			"current", current,
			"reasons", reasonStrings(reasons))
		if o.bus != nil {
			o.bus.PublishThresholdAdjusted(pair, previous, current, reasonStrings(reasons))
		}
	}
	return o.readState(pair), true, nil
}

func (o *Optimizer) readState(pair string) State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return copyState(o.states[pair])
}

type factor struct {
	delta  float64
	reason AdjustReason
}

// computeFactors evaluates the additive terms layered on the pair's base:
// volatility tier, regime favorability, trailing signal volume, and
// trailing win rate.
func (o *Optimizer) computeFactors(pc config.PairConfig, regime *market.RegimeState, stats Stats) []factor {
	factors := make([]factor, 0, 4)

	if regime != nil {
		if adj, ok := o.cfg.VolatilityAdjustments[string(regime.Volatility)]; ok && adj != 0 {
			factors = append(factors, factor{delta: adj, reason: ReasonRegimeShift})
		}

		adj := o.cfg.RegimeDisfavoredAdjustment
		if regimeFavorsModel(pc.Model, regime) {
			adj = o.cfg.RegimeFavoredAdjustment
		}
		if adj != 0 {
			factors = append(factors, factor{delta: adj, reason: ReasonRegimeShift})
		}
	}

	target := float64(o.cfg.TargetDailySignals)
	if target > 0 {
		deviationPct := (float64(stats.SignalsEmitted) - target) / target * 100
		switch {
		case deviationPct < -o.cfg.VolumeTolerancePct:
			factors = append(factors, factor{delta: -o.cfg.VolumeStep, reason: ReasonVolumeTooLow})
		case deviationPct > o.cfg.VolumeTolerancePct:
			factors = append(factors, factor{delta: o.cfg.VolumeStep, reason: ReasonVolumeTooHigh})
		}
	}

	if stats.Outcomes() >= o.cfg.MinOutcomesForAdjust {
		winRate := stats.WinRatePct()
		switch {
		case winRate < o.cfg.TargetWinRatePct-o.cfg.WinRateTolerancePct:
			factors = append(factors, factor{delta: o.cfg.WinRateStep, reason: ReasonWinRateBelowTarget})
		case winRate > o.cfg.TargetWinRatePct+o.cfg.WinRateTolerancePct:
			factors = append(factors, factor{delta: -o.cfg.WinRateStep, reason: ReasonWinRateAboveTarget})
		}
	}

	return factors
}

// regimeFavorsModel reports whether the classified regime suits the pair's
// signal model: trending markets favor momentum, ranging markets favor
// mean reversion.
func regimeFavorsModel(model string, regime *market.RegimeState) bool {
	if model == "mean_reversion" {
		return !regime.Trending()
	}
	return regime.Trending()
}

// dominantReasons returns the reasons of the two largest-magnitude factors.
// Two factors can cancel arithmetically yet both still be reported; the
// reason list describes pressure, not net direction.
func dominantReasons(factors []factor) []AdjustReason {
	nonzero := make([]factor, 0, len(factors))
	for _, f := range factors {
		if f.delta != 0 {
			nonzero = append(nonzero, f)
		}
	}
	sort.SliceStable(nonzero, func(i, j int) bool {
		return math.Abs(nonzero[i].delta) > math.Abs(nonzero[j].delta)
	})

	reasons := make([]AdjustReason, 0, 2)
	for _, f := range nonzero {
		if len(reasons) == 2 {
			break
		}
		if len(reasons) == 1 && reasons[0] == f.reason {
			continue
		}
		reasons = append(reasons, f.reason)
	}
	return reasons
}

func reasonStrings(reasons []AdjustReason) []string {
	out := make([]string, len(reasons))
	for i, r := range reasons {
		out[i] = string(r)
	}
	return out
}

func copyState(s *State) State {
	out := *s
	out.Reasons = append([]AdjustReason(nil), s.Reasons...)
	return out
}
