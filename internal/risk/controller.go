package risk

import (
	"errors"
	"math"
	"sync"
	"time"

	"forex-signal-engine/config"
	"forex-signal-engine/internal/events"
	"forex-signal-engine/internal/logging"
)

// ErrAmbiguousOutcome is returned when a trade outcome is not a confirmed
// win or loss. The state machine does not move; the caller retries once
// the outcome is confirmed.
var ErrAmbiguousOutcome = errors.New("ambiguous trade outcome, state unchanged")

// Controller runs the per-user loss-streak state machine. Updates for the
// same user are serialized; different users proceed concurrently. The
// daily reset swaps the entire user map in one step so no authorization
// check ever observes a half-reset state.
type Controller struct {
	cfg    config.RiskConfig
	bus    *events.EventBus
	logger *logging.Logger

	mu    sync.RWMutex
	users map[string]*userEntry
}

type userEntry struct {
	mu    sync.Mutex
	state UserState
}

// NewController creates a controller with the configured escalation ladder.
func NewController(cfg config.RiskConfig, bus *events.EventBus, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.Default()
	}
	return &Controller{
		cfg:    cfg,
		bus:    bus,
		logger: logger.WithComponent("risk"),
		users:  make(map[string]*userEntry),
	}
}

// entry returns the user's entry, creating a fresh Normal state on first
// contact.
func (c *Controller) entry(userID string, now time.Time) *userEntry {
	c.mu.RLock()
	e, ok := c.users[userID]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok = c.users[userID]; ok {
		return e
	}
	e = &userEntry{state: UserState{
		UserID:    userID,
		State:     StateNormal,
		UpdatedAt: now,
	}}
	c.users[userID] = e
	return e
}

// Snapshot returns the user's current state, applying the cooldown-expiry
// downgrade first. A user whose Restricted cooldown has elapsed drops to
// Cautious with the first tier's confidence requirement; the loss count is
// kept, so the next loss re-escalates rather than starting over. Only a
// win or the daily reset returns the user to Normal.
func (c *Controller) Snapshot(userID string, now time.Time) UserState {
	e := c.entry(userID, now)
	e.mu.Lock()
	defer e.mu.Unlock()

	c.applyCooldownExpiryLocked(e, now)
	return copyUserState(e.state)
}

// RecordOutcome applies one confirmed trade outcome to the user's state
// machine. Losses climb the escalation ladder; any win restores Normal in
// full. pnlPct is the realized P&L of the trade in percent.
func (c *Controller) RecordOutcome(userID string, result Result, pnlPct float64, now time.Time) (UserState, error) {
	if result != ResultWin && result != ResultLoss {
		c.logger.Warn("dropping ambiguous trade outcome", "user_id", userID, "result", string(result))
		return UserState{}, ErrAmbiguousOutcome
	}
	if math.IsNaN(pnlPct) || math.IsInf(pnlPct, 0) {
		c.logger.Warn("dropping outcome with invalid pnl", "user_id", userID, "pnl_pct", pnlPct)
		return UserState{}, ErrAmbiguousOutcome
	}

	e := c.entry(userID, now)
	e.mu.Lock()
	defer e.mu.Unlock()

	c.applyCooldownExpiryLocked(e, now)
	before := e.state.State

	if result == ResultWin {
		c.applyWinLocked(e, now)
	} else {
		c.applyLossLocked(e, pnlPct, now)
	}

	after := e.state
	if after.State != before {
		c.logger.Info("risk state changed",
			"user_id", userID,
			"from", string(before),
			"to", string(after.State),
			"consecutive_losses", after.ConsecutiveLosses,
			"daily_loss_pct", after.DailyLossPct)
		if c.bus != nil {
			c.bus.PublishRiskStateChanged(userID, string(before), string(after.State), after.ConsecutiveLosses)
		}
		events.BroadcastRiskState(copyUserState(after))
	}
	return copyUserState(after), nil
}

// applyWinLocked restores full trust: streak cleared, escalation cleared,
// cooldown cleared. A Locked user stays Locked until the daily reset even
// if an in-flight trade resolves as a win.
func (c *Controller) applyWinLocked(e *userEntry, now time.Time) {
	e.state.ConsecutiveLosses = 0
	e.state.EscalatedMinConfidence = nil
	e.state.CooldownUntil = nil
	e.state.UpdatedAt = now
	if e.state.State != StateLocked {
		e.state.State = StateNormal
	}
}

func (c *Controller) applyLossLocked(e *userEntry, pnlPct float64, now time.Time) {
	e.state.ConsecutiveLosses++
	if pnlPct < 0 {
		e.state.DailyLossPct += -pnlPct
	}
	e.state.UpdatedAt = now

	if e.state.ConsecutiveLosses >= c.cfg.LockoutLosses || e.state.DailyLossPct >= c.cfg.DailyLossCapPct {
		e.state.State = StateLocked
		e.state.CooldownUntil = nil
		return
	}

	tierIdx := c.activeTier(e.state.ConsecutiveLosses)
	if tierIdx < 0 {
		return
	}
	tier := c.cfg.Ladder[tierIdx]

	if tierIdx == 0 {
		e.state.State = StateCautious
	} else {
		e.state.State = StateRestricted
	}
	escalated := tier.MinConfidence
	e.state.EscalatedMinConfidence = &escalated

	if tier.CooldownMinutes > 0 {
		until := now.Add(tier.CooldownDuration())
		e.state.CooldownUntil = &until
		if c.bus != nil {
			c.bus.PublishCooldownStarted(e.state.UserID, until)
		}
	}
}

// activeTier returns the index of the deepest ladder tier the loss count
// has reached, or -1 when no tier applies.
func (c *Controller) activeTier(losses int) int {
	idx := -1
	for i, tier := range c.cfg.Ladder {
		if losses >= tier.Losses {
			idx = i
		}
	}
	return idx
}

func (c *Controller) applyCooldownExpiryLocked(e *userEntry, now time.Time) {
	s := &e.state
	if s.State != StateRestricted || s.CooldownUntil == nil || now.Before(*s.CooldownUntil) {
		return
	}

	s.State = StateCautious
	s.CooldownUntil = nil
	if len(c.cfg.Ladder) > 0 {
		escalated := c.cfg.Ladder[0].MinConfidence
		s.EscalatedMinConfidence = &escalated
	}
	s.UpdatedAt = now
}

// ResetDaily clears every user's state at the daily boundary. The user map
// is swapped in a single step; states are rebuilt lazily on next contact.
func (c *Controller) ResetDaily(now time.Time) int {
	c.mu.Lock()
	cleared := len(c.users)
	c.users = make(map[string]*userEntry)
	c.mu.Unlock()

	c.logger.Info("daily risk reset", "users_cleared", cleared)
	if c.bus != nil {
		c.bus.PublishDailyReset(cleared)
	}
	return cleared
}

// Restore seeds a user's state from persistence, typically at startup.
func (c *Controller) Restore(state UserState) {
	if state.UserID == "" {
		return
	}
	e := c.entry(state.UserID, state.UpdatedAt)
	e.mu.Lock()
	e.state = copyUserState(state)
	e.mu.Unlock()
}

// Snapshots returns the current state of every tracked user.
func (c *Controller) Snapshots(now time.Time) []UserState {
	c.mu.RLock()
	entries := make([]*userEntry, 0, len(c.users))
	for _, e := range c.users {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	out := make([]UserState, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		c.applyCooldownExpiryLocked(e, now)
		out = append(out, copyUserState(e.state))
		e.mu.Unlock()
	}
	return out
}

func copyUserState(s UserState) UserState {
	out := s
	if s.CooldownUntil != nil {
		t := *s.CooldownUntil
		out.CooldownUntil = &t
	}
	if s.EscalatedMinConfidence != nil {
		v := *s.EscalatedMinConfidence
		out.EscalatedMinConfidence = &v
	}
	return out
}
