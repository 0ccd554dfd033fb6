package market

import "time"

// PriceSample is one bid/ask observation for a pair. Samples are immutable
// once appended to a window.
type PriceSample struct {
	Pair      string    `json:"pair"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Timestamp time.Time `json:"timestamp"`
}

// Mid returns the bid/ask midpoint.
func (s PriceSample) Mid() float64 {
	return (s.Bid + s.Ask) / 2
}

// VolatilityTier buckets a pair's recent price dispersion.
type VolatilityTier string

const (
	VolatilityLow     VolatilityTier = "low"
	VolatilityNormal  VolatilityTier = "normal"
	VolatilityHigh    VolatilityTier = "high"
	VolatilityExtreme VolatilityTier = "extreme"
)

// TrendTier buckets a pair's recent directional strength.
type TrendTier string

const (
	TrendStrongDown TrendTier = "strong_down"
	TrendDown       TrendTier = "down"
	TrendRanging    TrendTier = "ranging"
	TrendUp         TrendTier = "up"
	TrendStrongUp   TrendTier = "strong_up"
)

// RegimeState is the classified market condition for a pair over the most
// recent completed evaluation window. Never built from partial data.
type RegimeState struct {
	Pair          string         `json:"pair"`
	Volatility    VolatilityTier `json:"volatility"`
	Trend         TrendTier      `json:"trend"`
	VolatilityBps float64        `json:"volatility_bps"`
	TrendBps      float64        `json:"trend_bps"`
	SampleCount   int            `json:"sample_count"`
	ComputedAt    time.Time      `json:"computed_at"`
}

// Trending reports whether the trend tier is directional (not ranging).
func (r *RegimeState) Trending() bool {
	return r.Trend != TrendRanging
}

// SameTiers reports whether two regime states share both tiers.
func (r *RegimeState) SameTiers(other *RegimeState) bool {
	if other == nil {
		return false
	}
	return r.Volatility == other.Volatility && r.Trend == other.Trend
}
