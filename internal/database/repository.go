package database

import (
	"context"
	"fmt"

	"forex-signal-engine/internal/engine"
	"forex-signal-engine/internal/gate"
	"forex-signal-engine/internal/risk"
	"forex-signal-engine/internal/threshold"
)

// Repository persists engine state and decision history. It satisfies
// engine.Repository.
type Repository struct {
	db *DB
}

// NewRepository creates a repository over the given connection pool.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// SaveThresholdState upserts a pair's live threshold.
func (r *Repository) SaveThresholdState(ctx context.Context, state threshold.State) error {
	reasons := make([]string, len(state.Reasons))
	for i, reason := range state.Reasons {
		reasons[i] = string(reason)
	}

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO threshold_states (pair, min_confidence, floor_confidence, ceiling_confidence, reasons, last_adjusted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP)
		ON CONFLICT (pair) DO UPDATE SET
			min_confidence = EXCLUDED.min_confidence,
			floor_confidence = EXCLUDED.floor_confidence,
			ceiling_confidence = EXCLUDED.ceiling_confidence,
			reasons = EXCLUDED.reasons,
			last_adjusted_at = EXCLUDED.last_adjusted_at,
			updated_at = CURRENT_TIMESTAMP`,
		state.Pair, state.MinConfidence, state.Floor, state.Ceiling, reasons, state.LastAdjustedAt)
	if err != nil {
		return fmt.Errorf("failed to save threshold state: %w", err)
	}
	return nil
}

// ListThresholdStates loads every persisted pair threshold.
func (r *Repository) ListThresholdStates(ctx context.Context) ([]threshold.State, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT pair, min_confidence, floor_confidence, ceiling_confidence, reasons, last_adjusted_at
		FROM threshold_states`)
	if err != nil {
		return nil, fmt.Errorf("failed to list threshold states: %w", err)
	}
	defer rows.Close()

	var states []threshold.State
	for rows.Next() {
		var s threshold.State
		var reasons []string
		if err := rows.Scan(&s.Pair, &s.MinConfidence, &s.Floor, &s.Ceiling, &reasons, &s.LastAdjustedAt); err != nil {
			return nil, fmt.Errorf("failed to scan threshold state: %w", err)
		}
		for _, reason := range reasons {
			s.Reasons = append(s.Reasons, threshold.AdjustReason(reason))
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

// SaveSignalDecision appends one gate verdict.
func (r *Repository) SaveSignalDecision(ctx context.Context, verdict gate.Verdict) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO signal_decisions (signal_id, pair, accepted, reason, confidence, threshold, evaluated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)`,
		verdict.SignalID, verdict.Pair, verdict.Accepted, string(verdict.Reason),
		verdict.Confidence, verdict.Threshold, verdict.EvaluatedAt)
	if err != nil {
		return fmt.Errorf("failed to save signal decision: %w", err)
	}
	return nil
}

// SaveAuthorization appends one execution decision.
func (r *Repository) SaveAuthorization(ctx context.Context, auth engine.Authorization) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO authorizations (user_id, signal_id, pair, allowed, reason, confidence, required_confidence, cooldown_until, decided_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)`,
		auth.UserID, auth.SignalID, auth.Pair, auth.Allowed, string(auth.Reason),
		auth.Confidence, auth.RequiredConfidence, auth.CooldownUntil, auth.DecidedAt)
	if err != nil {
		return fmt.Errorf("failed to save authorization: %w", err)
	}
	return nil
}

// SaveTradeOutcome appends one confirmed trade outcome.
func (r *Repository) SaveTradeOutcome(ctx context.Context, outcome engine.OutcomeRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO trade_outcomes (user_id, pair, result, pnl_pct, recorded_at)
		VALUES ($1, $2, $3, $4, $5)`,
		outcome.UserID, outcome.Pair, string(outcome.Result), outcome.PnlPct, outcome.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to save trade outcome: %w", err)
	}
	return nil
}

// SaveUserRiskState upserts a user's risk posture.
func (r *Repository) SaveUserRiskState(ctx context.Context, state risk.UserState) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO user_risk_states (user_id, state, consecutive_losses, daily_loss_pct, cooldown_until, escalated_min_confidence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			state = EXCLUDED.state,
			consecutive_losses = EXCLUDED.consecutive_losses,
			daily_loss_pct = EXCLUDED.daily_loss_pct,
			cooldown_until = EXCLUDED.cooldown_until,
			escalated_min_confidence = EXCLUDED.escalated_min_confidence,
			updated_at = EXCLUDED.updated_at`,
		state.UserID, string(state.State), state.ConsecutiveLosses, state.DailyLossPct,
		state.CooldownUntil, state.EscalatedMinConfidence, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save user risk state: %w", err)
	}
	return nil
}

// ListUserRiskStates loads every persisted user risk state.
func (r *Repository) ListUserRiskStates(ctx context.Context) ([]risk.UserState, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT user_id, state, consecutive_losses, daily_loss_pct, cooldown_until, escalated_min_confidence, updated_at
		FROM user_risk_states`)
	if err != nil {
		return nil, fmt.Errorf("failed to list user risk states: %w", err)
	}
	defer rows.Close()

	var states []risk.UserState
	for rows.Next() {
		var s risk.UserState
		var stateName string
		if err := rows.Scan(&s.UserID, &stateName, &s.ConsecutiveLosses, &s.DailyLossPct,
			&s.CooldownUntil, &s.EscalatedMinConfidence, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user risk state: %w", err)
		}
		s.State = risk.State(stateName)
		states = append(states, s)
	}
	return states, rows.Err()
}

// ClearUserRiskStates deletes every persisted user risk state. Invoked at
// the daily reset so a later restart starts from a clean slate.
func (r *Repository) ClearUserRiskStates(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM user_risk_states`)
	if err != nil {
		return fmt.Errorf("failed to clear user risk states: %w", err)
	}
	return nil
}

// OutcomeBucket aggregates outcomes by confidence band, used by the
// threshold analysis tool.
type OutcomeBucket struct {
	Pair     string  `json:"pair"`
	BucketLo float64 `json:"bucket_lo"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
}

// OutcomesByConfidence joins authorizations with trade outcomes and
// buckets win/loss counts by the authorized confidence, in steps of
// bucketSize percent.
func (r *Repository) OutcomesByConfidence(ctx context.Context, bucketSize float64) ([]OutcomeBucket, error) {
	if bucketSize <= 0 {
		bucketSize = 5
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT a.pair,
		       FLOOR(a.confidence / $1) * $1 AS bucket_lo,
		       COUNT(*) FILTER (WHERE o.result = 'win') AS wins,
		       COUNT(*) FILTER (WHERE o.result = 'loss') AS losses
		FROM authorizations a
		JOIN trade_outcomes o
		  ON o.user_id = a.user_id
		 AND o.pair = a.pair
		 AND o.recorded_at >= a.decided_at
		 AND o.recorded_at < a.decided_at + INTERVAL '24 hours'
		WHERE a.allowed
		GROUP BY a.pair, bucket_lo
		ORDER BY a.pair, bucket_lo`, bucketSize)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcome buckets: %w", err)
	}
	defer rows.Close()

	var buckets []OutcomeBucket
	for rows.Next() {
		var b OutcomeBucket
		if err := rows.Scan(&b.Pair, &b.BucketLo, &b.Wins, &b.Losses); err != nil {
			return nil, fmt.Errorf("failed to scan outcome bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}
