package models

import "time"

// ConditionKind classifies per-symbol market behavior.
type ConditionKind string

const (
	ConditionNormal         ConditionKind = "NORMAL"
	ConditionHighVolatility ConditionKind = "HIGH_VOLATILITY"
	ConditionLowVolatility  ConditionKind = "LOW_VOLATILITY"
	ConditionGapUp          ConditionKind = "GAP_UP"
	ConditionGapDown        ConditionKind = "GAP_DOWN"
	ConditionTrendingUp     ConditionKind = "TRENDING_UP"
	ConditionTrendingDown   ConditionKind = "TRENDING_DOWN"
	ConditionSideways       ConditionKind = "SIDEWAYS"
	ConditionCircuitBreaker ConditionKind = "CIRCUIT_BREAKER"
)

// VolatilityLevel is the ordinal bucket for a volatility score.
type VolatilityLevel int

const (
	VolatilityVeryLow VolatilityLevel = iota
	VolatilityLow
	VolatilityNormal
	VolatilityHigh
	VolatilityVeryHigh
	VolatilityExtreme
)

func (l VolatilityLevel) String() string {
	switch l {
	case VolatilityExtreme:
		return "EXTREME"
	case VolatilityVeryHigh:
		return "VERY_HIGH"
	case VolatilityHigh:
		return "HIGH"
	case VolatilityNormal:
		return "NORMAL"
	case VolatilityLow:
		return "LOW"
	default:
		return "VERY_LOW"
	}
}

// MarketSession is a named phase of the trading day.
type MarketSession string

const (
	SessionPreMarket  MarketSession = "PRE_MARKET"
	SessionRegular    MarketSession = "REGULAR"
	SessionAfterHours MarketSession = "AFTER_HOURS"
	SessionClosed     MarketSession = "CLOSED"
)

// PriceRange is an observed support/resistance band.
type PriceRange struct {
	Support    float64 `json:"support"`
	Resistance float64 `json:"resistance"`
}

// ConditionSnapshot is the per-symbol classification at a point in time.
// Snapshots are append-only; the latest one is the symbol's current condition.
type ConditionSnapshot struct {
	Symbol          string          `json:"symbol"`
	Condition       ConditionKind   `json:"condition"`
	Volatility      float64         `json:"volatility"`
	VolatilityLevel VolatilityLevel `json:"volatilityLevel"`
	PriceChangePct  float64         `json:"priceChangePct"`
	VolumeRatio     float64         `json:"volumeRatio"`
	GapPercent      float64         `json:"gapPercent"`
	TrendStrength   float64         `json:"trendStrength"` // [-1,1]
	Range           *PriceRange     `json:"range,omitempty"`
	Confidence      float64         `json:"confidence"` // [0,1]
	Timestamp       time.Time       `json:"timestamp"`
}

// GlobalCondition is the market-wide rollup over all current snapshots.
type GlobalCondition struct {
	Condition   ConditionKind `json:"condition"`
	Symbols     int           `json:"symbols"`
	HighVol     int           `json:"highVol"`
	GapUp       int           `json:"gapUp"`
	GapDown     int           `json:"gapDown"`
	Circuit     int           `json:"circuit"`
	ComputedAt  time.Time     `json:"computedAt"`
}
