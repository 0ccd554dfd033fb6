package gate

import (
	"time"

	"github.com/google/uuid"

	"forex-signal-engine/internal/events"
	"forex-signal-engine/internal/logging"
	"forex-signal-engine/internal/threshold"
)

// Direction is the side of a candidate signal.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// CandidateSignal is one externally generated signal awaiting a gate
// verdict. Confidence is an opaque 0-100 score from the upstream model.
type CandidateSignal struct {
	ID          string    `json:"id"`
	Pair        string    `json:"pair"`
	Direction   Direction `json:"direction"`
	Confidence  float64   `json:"confidence"`
	GeneratedAt time.Time `json:"generated_at"`
}

// NewCandidate builds a candidate signal with a fresh ID.
func NewCandidate(pair string, direction Direction, confidence float64, generatedAt time.Time) CandidateSignal {
	return CandidateSignal{
		ID:          uuid.New().String(),
		Pair:        pair,
		Direction:   direction,
		Confidence:  confidence,
		GeneratedAt: generatedAt,
	}
}

// RejectReason explains a gate rejection.
type RejectReason string

const (
	RejectBelowThreshold RejectReason = "below_threshold"
	RejectUnknownPair    RejectReason = "unknown_pair"
)

// Verdict is the gate's decision on one candidate signal.
type Verdict struct {
	SignalID    string       `json:"signal_id"`
	Pair        string       `json:"pair"`
	Accepted    bool         `json:"accepted"`
	Reason      RejectReason `json:"reason,omitempty"`
	Confidence  float64      `json:"confidence"`
	Threshold   float64      `json:"threshold"`
	EvaluatedAt time.Time    `json:"evaluated_at"`
}

// Gate checks candidate signals against the live per-pair threshold. It
// reads threshold snapshots and never mutates them; the only state it
// touches is the emitted counter on accepts. Safe for concurrent use.
type Gate struct {
	thresholds *threshold.Optimizer
	perf       *threshold.PerformanceWindow
	bus        *events.EventBus
	logger     *logging.Logger
}

// New creates a gate backed by the given threshold store.
func New(thresholds *threshold.Optimizer, perf *threshold.PerformanceWindow, bus *events.EventBus, logger *logging.Logger) *Gate {
	if logger == nil {
		logger = logging.Default()
	}
	return &Gate{
		thresholds: thresholds,
		perf:       perf,
		bus:        bus,
		logger:     logger.WithComponent("gate"),
	}
}

// Evaluate accepts or rejects a candidate signal. A pair with no threshold
// state fails closed: the gate never substitutes a permissive default.
func (g *Gate) Evaluate(signal CandidateSignal, now time.Time) Verdict {
	verdict := Verdict{
		SignalID:    signal.ID,
		Pair:        signal.Pair,
		Confidence:  signal.Confidence,
		EvaluatedAt: now,
	}

	state, ok := g.thresholds.Snapshot(signal.Pair)
	if !ok {
		verdict.Reason = RejectUnknownPair
		g.logger.Warn("signal rejected for unconfigured pair", "pair", signal.Pair, "signal_id", signal.ID)
		g.publish(verdict)
		return verdict
	}

	verdict.Threshold = state.MinConfidence
	if signal.Confidence < state.MinConfidence {
		verdict.Reason = RejectBelowThreshold
		g.logger.Debug("signal rejected below threshold",
			"pair", signal.Pair,
			"confidence", signal.Confidence,
			"threshold", state.MinConfidence)
		g.publish(verdict)
		return verdict
	}

	verdict.Accepted = true
	g.perf.RecordEmitted(signal.Pair, now)
	g.logger.Info("signal accepted",
		"pair", signal.Pair,
		"signal_id", signal.ID,
		"confidence", signal.Confidence,
		"threshold", state.MinConfidence)
	g.publish(verdict)
	return verdict
}

func (g *Gate) publish(v Verdict) {
	if g.bus != nil {
		g.bus.PublishSignalVerdict(v.Accepted, v.SignalID, v.Pair, v.Confidence, v.Threshold, string(v.Reason))
	}
	events.BroadcastVerdict(v)
}
