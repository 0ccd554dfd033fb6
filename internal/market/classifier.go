package market

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"forex-signal-engine/config"
	"forex-signal-engine/internal/logging"
)

// ErrInsufficientData is returned when a pair's window holds fewer samples
// than the configured minimum. Callers fall back to the last known regime
// or skip the optimizer cycle.
var ErrInsufficientData = errors.New("insufficient price samples for classification")

// Classifier converts rolling price windows into regime states. Evaluation
// runs on a cadence; between evaluations Classify serves the last completed
// result rather than recomputing on every tick.
type Classifier struct {
	cfg    config.RegimeConfig
	store  *WindowStore
	logger *logging.Logger

	mu     sync.Mutex
	last   map[string]*RegimeState
	nextAt map[string]time.Time
}

// NewClassifier creates a classifier reading from the given window store.
func NewClassifier(cfg config.RegimeConfig, store *WindowStore, logger *logging.Logger) *Classifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Classifier{
		cfg:    cfg,
		store:  store,
		logger: logger.WithComponent("regime"),
		last:   make(map[string]*RegimeState),
		nextAt: make(map[string]time.Time),
	}
}

// Classify returns the pair's regime state, recomputing only when the
// cadence window has elapsed. The second return reports whether either
// tier changed versus the previous completed evaluation.
func (c *Classifier) Classify(pair string, now time.Time) (*RegimeState, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.last[pair]; ok && now.Before(c.nextAt[pair]) {
		return cached, false, nil
	}

	state, err := ClassifyWindow(pair, c.store.Snapshot(pair), c.cfg, now)
	if err != nil {
		// Keep serving the last completed evaluation; retry next call.
		if cached, ok := c.last[pair]; ok {
			return cached, false, err
		}
		return nil, false, err
	}

	prev := c.last[pair]
	changed := prev != nil && !state.SameTiers(prev)
	c.last[pair] = state
	c.nextAt[pair] = now.Add(time.Duration(c.cfg.CadenceMinutes) * time.Minute)

	if changed {
		c.logger.Info("regime changed",
			"pair", pair,
			"volatility", string(state.Volatility),
			"trend", string(state.Trend),
			"prev_volatility", string(prev.Volatility),
			"prev_trend", string(prev.Trend))
	}
	return state, changed, nil
}

// LastKnown returns the most recent completed evaluation for a pair, or
// nil if the pair has never been classified.
func (c *Classifier) LastKnown(pair string) *RegimeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last[pair]
}

// ClassifyWindow computes a regime state from an ordered sample window.
// Pure: the same window and config always produce the same tiers.
func ClassifyWindow(pair string, samples []PriceSample, cfg config.RegimeConfig, now time.Time) (*RegimeState, error) {
	if len(samples) < cfg.MinSamples {
		return nil, fmt.Errorf("%w: %s has %d of %d samples", ErrInsufficientData, pair, len(samples), cfg.MinSamples)
	}

	meanMid := 0.0
	for _, s := range samples {
		meanMid += s.Mid()
	}
	meanMid /= float64(len(samples))
	if meanMid <= 0 {
		return nil, fmt.Errorf("%w: %s window has non-positive prices", ErrInsufficientData, pair)
	}

	volBps := dispersionBps(samples, meanMid)
	trendBps := displacementBps(samples, meanMid)

	state := &RegimeState{
		Pair:          pair,
		Volatility:    bucketVolatility(volBps, cfg.VolatilityBreakpoints),
		Trend:         bucketTrend(trendBps, cfg.TrendBreakpoints),
		VolatilityBps: volBps,
		TrendBps:      trendBps,
		SampleCount:   len(samples),
		ComputedAt:    now,
	}
	return state, nil
}

// dispersionBps is the average absolute mid-to-mid move, normalized to the
// window's mean price and expressed in basis points. A range-like measure
// that ignores direction.
func dispersionBps(samples []PriceSample, meanMid float64) float64 {
	sum := 0.0
	for i := 1; i < len(samples); i++ {
		sum += math.Abs(samples[i].Mid() - samples[i-1].Mid())
	}
	avg := sum / float64(len(samples)-1)
	return avg / meanMid * 10000
}

// displacementBps is the fitted net move across the window: least-squares
// slope over the sample index, scaled to the full window span, normalized
// to the mean price, in basis points. Signed.
func displacementBps(samples []PriceSample, meanMid float64) float64 {
	n := float64(len(samples))
	meanX := (n - 1) / 2

	var num, den float64
	for i, s := range samples {
		dx := float64(i) - meanX
		num += dx * (s.Mid() - meanMid)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	slope := num / den
	return slope * (n - 1) / meanMid * 10000
}

func bucketVolatility(bps float64, breakpoints [3]float64) VolatilityTier {
	switch {
	case bps < breakpoints[0]:
		return VolatilityLow
	case bps < breakpoints[1]:
		return VolatilityNormal
	case bps < breakpoints[2]:
		return VolatilityHigh
	default:
		return VolatilityExtreme
	}
}

func bucketTrend(bps float64, breakpoints [2]float64) TrendTier {
	inner, outer := breakpoints[0], breakpoints[1]
	switch {
	case bps <= -outer:
		return TrendStrongDown
	case bps <= -inner:
		return TrendDown
	case bps < inner:
		return TrendRanging
	case bps < outer:
		return TrendUp
	default:
		return TrendStrongUp
	}
}
