package engine

import (
	"time"

	"forex-signal-engine/internal/gate"
	"forex-signal-engine/internal/risk"
	"forex-signal-engine/internal/threshold"
)

// DenyReason is the machine-readable cause of a denied authorization.
type DenyReason string

const (
	DenyInCooldown              DenyReason = "in_cooldown"
	DenyDailyLimitReached       DenyReason = "daily_limit_reached"
	DenyBelowEscalatedThreshold DenyReason = "below_escalated_threshold"
	DenyUnknownPair             DenyReason = "unknown_pair"
)

// Authorization is the final allow/deny decision for a user acting on a
// signal. A deny always carries a reason; the calling layer renders it.
type Authorization struct {
	UserID             string     `json:"user_id"`
	SignalID           string     `json:"signal_id"`
	Pair               string     `json:"pair"`
	Allowed            bool       `json:"allowed"`
	Reason             DenyReason `json:"reason,omitempty"`
	Confidence         float64    `json:"confidence"`
	RequiredConfidence float64    `json:"required_confidence"`
	CooldownUntil      *time.Time `json:"cooldown_until,omitempty"`
	DecidedAt          time.Time  `json:"decided_at"`
}

// Authorizer combines the pair threshold and the user's risk posture into
// the final execution decision. Decide is pure given its inputs; all state
// mutation happens when the trade's outcome is reported, never here.
type Authorizer struct {
	thresholds *threshold.Optimizer
	riskCtl    *risk.Controller
}

// NewAuthorizer creates an authorizer reading the given stores.
func NewAuthorizer(thresholds *threshold.Optimizer, riskCtl *risk.Controller) *Authorizer {
	return &Authorizer{thresholds: thresholds, riskCtl: riskCtl}
}

// Authorize decides whether userID may act on the signal right now.
// Check order: active cooldown, daily lock, then the effective confidence
// requirement, which is the pair threshold raised to any active per-user
// escalation.
func (a *Authorizer) Authorize(userID string, signal gate.CandidateSignal, now time.Time) Authorization {
	userState := a.riskCtl.Snapshot(userID, now)
	pairState, known := a.thresholds.Snapshot(signal.Pair)
	return Decide(userState, pairState, known, userID, signal, now)
}

// Decide is the pure decision function behind Authorize.
func Decide(userState risk.UserState, pairState threshold.State, pairKnown bool, userID string, signal gate.CandidateSignal, now time.Time) Authorization {
	auth := Authorization{
		UserID:     userID,
		SignalID:   signal.ID,
		Pair:       signal.Pair,
		Confidence: signal.Confidence,
		DecidedAt:  now,
	}

	if userState.InCooldown(now) {
		auth.Reason = DenyInCooldown
		auth.CooldownUntil = userState.CooldownUntil
		return auth
	}
	if userState.State == risk.StateLocked {
		auth.Reason = DenyDailyLimitReached
		return auth
	}
	if !pairKnown {
		auth.Reason = DenyUnknownPair
		return auth
	}

	required := pairState.MinConfidence
	if escalated := userState.EscalatedOrZero(); escalated > required {
		required = escalated
	}
	auth.RequiredConfidence = required

	if signal.Confidence < required {
		auth.Reason = DenyBelowEscalatedThreshold
		return auth
	}

	auth.Allowed = true
	return auth
}
