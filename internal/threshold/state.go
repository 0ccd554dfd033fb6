package threshold

import "time"

// AdjustReason explains which factor drove a threshold adjustment.
type AdjustReason string

const (
	ReasonVolumeTooLow        AdjustReason = "volume_too_low"
	ReasonVolumeTooHigh       AdjustReason = "volume_too_high"
	ReasonWinRateBelowTarget  AdjustReason = "win_rate_below_target"
	ReasonWinRateAboveTarget  AdjustReason = "win_rate_above_target"
	ReasonRegimeShift         AdjustReason = "regime_shift"
	ReasonInsufficientHistory AdjustReason = "insufficient_history"
)

// State is the live minimum confidence requirement for one pair. Mutated
// only by the Optimizer; everything else reads value snapshots.
type State struct {
	Pair           string         `json:"pair"`
	MinConfidence  float64        `json:"min_confidence"`
	Floor          float64        `json:"floor"`
	Ceiling        float64        `json:"ceiling"`
	LastAdjustedAt time.Time      `json:"last_adjusted_at"`
	Reasons        []AdjustReason `json:"reasons,omitempty"`
}

// Clamped returns v bounded to the state's floor and ceiling.
func (s State) Clamped(v float64) float64 {
	if v < s.Floor {
		return s.Floor
	}
	if v > s.Ceiling {
		return s.Ceiling
	}
	return v
}
