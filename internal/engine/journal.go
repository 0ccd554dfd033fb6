package engine

import (
	"os"

	"github.com/rs/zerolog"

	"forex-signal-engine/internal/gate"
	"forex-signal-engine/internal/risk"
	"forex-signal-engine/internal/threshold"
)

// Journal is an append-only audit trail of gate verdicts, authorization
// decisions, threshold moves, and trade outcomes, written as one JSON
// line per event. A nil Journal is a no-op.
type Journal struct {
	log    zerolog.Logger
	closer *os.File
}

// NewJournal opens (or creates) the journal file at path.
func NewJournal(path string) (*Journal, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &Journal{
		log:    zerolog.New(file).With().Timestamp().Logger(),
		closer: file,
	}, nil
}

// Verdict records a gate decision.
func (j *Journal) Verdict(v gate.Verdict) {
	if j == nil {
		return
	}
	j.log.Info().
		Str("event", "gate_verdict").
		Str("signal_id", v.SignalID).
		Str("pair", v.Pair).
		Bool("accepted", v.Accepted).
		Str("reason", string(v.Reason)).
		Float64("confidence", v.Confidence).
		Float64("threshold", v.Threshold).
		Send()
}

// Authorization records an execution decision.
func (j *Journal) Authorization(a Authorization) {
	if j == nil {
		return
	}
	ev := j.log.Info().
		Str("event", "authorization").
		Str("user_id", a.UserID).
		Str("signal_id", a.SignalID).
		Str("pair", a.Pair).
		Bool("allowed", a.Allowed).
		Str("reason", string(a.Reason)).
		Float64("confidence", a.Confidence).
		Float64("required", a.RequiredConfidence)
	if a.CooldownUntil != nil {
		ev = ev.Time("cooldown_until", *a.CooldownUntil)
	}
	ev.Send()
}

// Outcome records a confirmed trade outcome and the resulting risk state.
func (j *Journal) Outcome(userID, pair string, result risk.Result, pnlPct float64, state risk.UserState) {
	if j == nil {
		return
	}
	j.log.Info().
		Str("event", "trade_outcome").
		Str("user_id", userID).
		Str("pair", pair).
		Str("result", string(result)).
		Float64("pnl_pct", pnlPct).
		Str("risk_state", string(state.State)).
		Int("consecutive_losses", state.ConsecutiveLosses).
		Float64("daily_loss_pct", state.DailyLossPct).
		Send()
}

// ThresholdAdjusted records a threshold move for a pair.
func (j *Journal) ThresholdAdjusted(state threshold.State, previous float64) {
	if j == nil {
		return
	}
	reasons := make([]string, len(state.Reasons))
	for i, r := range state.Reasons {
		reasons[i] = string(r)
	}
	j.log.Info().
		Str("event", "threshold_adjusted").
		Str("pair", state.Pair).
		Float64("previous", previous).
		Float64("current", state.MinConfidence).
		Strs("reasons", reasons).
		Send()
}

// DailyReset records the daily reset sweep.
func (j *Journal) DailyReset(usersCleared int) {
	if j == nil {
		return
	}
	j.log.Info().
		Str("event", "daily_reset").
		Int("users_cleared", usersCleared).
		Send()
}

// Close flushes and closes the journal file.
func (j *Journal) Close() error {
	if j == nil || j.closer == nil {
		return nil
	}
	return j.closer.Close()
}
