package api

import (
	"net/http"
	"strings"
	"time"

	"forex-signal-engine/internal/gate"
	"forex-signal-engine/internal/market"
	"forex-signal-engine/internal/risk"

	"github.com/gin-gonic/gin"
)

// handleGetThresholds returns the current threshold state for every pair.
func (s *Server) handleGetThresholds(c *gin.Context) {
	successResponse(c, s.engine.ThresholdSnapshots())
}

// handleGetThreshold returns the current threshold state for one pair.
func (s *Server) handleGetThreshold(c *gin.Context) {
	pair := strings.ToUpper(c.Param("pair"))

	state, ok := s.engine.ThresholdSnapshot(pair)
	if !ok {
		errorResponse(c, http.StatusNotFound, "unknown pair: "+pair)
		return
	}

	successResponse(c, state)
}

// handleGetRegime returns the last computed market regime for a pair.
func (s *Server) handleGetRegime(c *gin.Context) {
	pair := strings.ToUpper(c.Param("pair"))

	regime := s.engine.Regime(pair)
	if regime == nil {
		errorResponse(c, http.StatusNotFound, "no regime computed yet for pair: "+pair)
		return
	}

	successResponse(c, regime)
}

type ingestSampleRequest struct {
	Pair      string    `json:"pair" binding:"required"`
	Bid       float64   `json:"bid" binding:"required"`
	Ask       float64   `json:"ask" binding:"required"`
	Timestamp time.Time `json:"timestamp"`
}

// handleIngestSample appends one price sample to the pair's rolling window.
func (s *Server) handleIngestSample(c *gin.Context) {
	var req ingestSampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	if req.Bid <= 0 || req.Ask <= 0 || req.Ask < req.Bid {
		errorResponse(c, http.StatusBadRequest, "bid/ask must be positive with ask >= bid")
		return
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	s.engine.Ingest(market.PriceSample{
		Pair:      strings.ToUpper(req.Pair),
		Bid:       req.Bid,
		Ask:       req.Ask,
		Timestamp: ts,
	})

	c.JSON(http.StatusAccepted, gin.H{"success": true})
}

type evaluateSignalRequest struct {
	Pair       string  `json:"pair" binding:"required"`
	Direction  string  `json:"direction" binding:"required"`
	Confidence float64 `json:"confidence"`
}

// handleEvaluateSignal runs a candidate signal through the gate.
func (s *Server) handleEvaluateSignal(c *gin.Context) {
	var req evaluateSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	direction := gate.Direction(strings.ToLower(req.Direction))
	if direction != gate.DirectionBuy && direction != gate.DirectionSell {
		errorResponse(c, http.StatusBadRequest, "direction must be buy or sell")
		return
	}
	if req.Confidence < 0 || req.Confidence > 100 {
		errorResponse(c, http.StatusBadRequest, "confidence must be between 0 and 100")
		return
	}

	signal := gate.NewCandidate(strings.ToUpper(req.Pair), direction, req.Confidence, time.Now().UTC())
	verdict := s.engine.EvaluateSignal(signal)

	successResponse(c, verdict)
}

type authorizeRequest struct {
	UserID     string  `json:"user_id" binding:"required"`
	SignalID   string  `json:"signal_id"`
	Pair       string  `json:"pair" binding:"required"`
	Direction  string  `json:"direction" binding:"required"`
	Confidence float64 `json:"confidence"`
}

// handleAuthorize decides whether a gated signal may be executed for a user.
func (s *Server) handleAuthorize(c *gin.Context) {
	var req authorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	direction := gate.Direction(strings.ToLower(req.Direction))
	if direction != gate.DirectionBuy && direction != gate.DirectionSell {
		errorResponse(c, http.StatusBadRequest, "direction must be buy or sell")
		return
	}
	if req.Confidence < 0 || req.Confidence > 100 {
		errorResponse(c, http.StatusBadRequest, "confidence must be between 0 and 100")
		return
	}

	signal := gate.CandidateSignal{
		ID:          req.SignalID,
		Pair:        strings.ToUpper(req.Pair),
		Direction:   direction,
		Confidence:  req.Confidence,
		GeneratedAt: time.Now().UTC(),
	}
	if signal.ID == "" {
		signal = gate.NewCandidate(signal.Pair, direction, req.Confidence, signal.GeneratedAt)
	}

	authorization := s.engine.Authorize(req.UserID, signal)

	successResponse(c, authorization)
}

type recordOutcomeRequest struct {
	UserID string  `json:"user_id" binding:"required"`
	Pair   string  `json:"pair" binding:"required"`
	Result string  `json:"result" binding:"required"`
	PnlPct float64 `json:"pnl_pct"`
}

// handleRecordOutcome records a confirmed trade outcome. Ambiguous
// outcomes are rejected without touching the user's risk state.
func (s *Server) handleRecordOutcome(c *gin.Context) {
	var req recordOutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	state, err := s.engine.RecordOutcome(req.UserID, strings.ToUpper(req.Pair), risk.Result(strings.ToLower(req.Result)), req.PnlPct)
	if err != nil {
		errorResponse(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	successResponse(c, state)
}

// handleGetUserRisk returns the risk posture for one user.
func (s *Server) handleGetUserRisk(c *gin.Context) {
	successResponse(c, s.engine.UserRisk(c.Param("id")))
}

// handleListUserRisk returns risk state for every tracked user.
func (s *Server) handleListUserRisk(c *gin.Context) {
	successResponse(c, s.engine.UserRiskStates())
}

// handleGetPairStats returns the 24h performance counters for a pair.
func (s *Server) handleGetPairStats(c *gin.Context) {
	pair := strings.ToUpper(c.Param("pair"))

	if _, ok := s.engine.ThresholdSnapshot(pair); !ok {
		errorResponse(c, http.StatusNotFound, "unknown pair: "+pair)
		return
	}

	successResponse(c, s.engine.PairStats(pair))
}

// handleResetDaily clears all per-user daily counters, including any
// locked states.
func (s *Server) handleResetDaily(c *gin.Context) {
	cleared := s.engine.ResetDaily()

	successResponse(c, gin.H{"users_cleared": cleared})
}
