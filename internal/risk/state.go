package risk

import "time"

// State is a user's position on the loss-escalation ladder.
type State string

const (
	StateNormal     State = "normal"
	StateCautious   State = "cautious"
	StateRestricted State = "restricted"
	StateLocked     State = "locked"
)

// Result is a confirmed trade outcome. Anything else is ambiguous and
// must not move the state machine.
type Result string

const (
	ResultWin  Result = "win"
	ResultLoss Result = "loss"
)

// UserState is one user's risk posture. DailyLossPct only grows within a
// day; the whole struct is replaced at the daily boundary.
type UserState struct {
	UserID                 string     `json:"user_id"`
	State                  State      `json:"state"`
	ConsecutiveLosses      int        `json:"consecutive_losses"`
	DailyLossPct           float64    `json:"daily_loss_pct"`
	CooldownUntil          *time.Time `json:"cooldown_until,omitempty"`
	EscalatedMinConfidence *float64   `json:"escalated_min_confidence,omitempty"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// InCooldown reports whether the user is inside a mandatory wait period.
func (s UserState) InCooldown(now time.Time) bool {
	return s.CooldownUntil != nil && now.Before(*s.CooldownUntil)
}

// EscalatedOrZero returns the escalated confidence requirement, or 0 when
// no escalation is active.
func (s UserState) EscalatedOrZero() float64 {
	if s.EscalatedMinConfidence == nil {
		return 0
	}
	return *s.EscalatedMinConfidence
}
