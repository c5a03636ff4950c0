package domain

import (
	"fmt"
	"time"
)

type SessionName string

const (
	SessionAsian    SessionName = "ASIAN"
	SessionLondon   SessionName = "LONDON"
	SessionNY       SessionName = "NY"
	SessionRollover SessionName = "ROLLOVER"
)

// Session is a fixed UTC hour band with characteristic volatility used to
// scale stop distances.
type Session struct {
	Name             SessionName `json:"name"`
	StartHour        int         `json:"start_hour"`
	EndHour          int         `json:"end_hour"`
	AvgVolatilityPct float64     `json:"avg_volatility_pct"`
	StopMultiplier   float64     `json:"stop_multiplier"`
	VolumeMultiplier float64     `json:"volume_multiplier"`
}

// Active reports whether the session covers the given UTC time.
func (s Session) Active(t time.Time) bool {
	h := t.UTC().Hour()
	if s.StartHour < s.EndHour {
		return h >= s.StartHour && h < s.EndHour
	}
	return h >= s.StartHour || h < s.EndHour
}

type LiquidityKind string

const (
	LiquidityEqualHigh    LiquidityKind = "EQUAL_HIGH"
	LiquidityEqualLow     LiquidityKind = "EQUAL_LOW"
	LiquidityOrderBlock   LiquidityKind = "ORDER_BLOCK"
	LiquidityFairValueGap LiquidityKind = "FAIR_VALUE_GAP"
	LiquidityRoundNumber  LiquidityKind = "ROUND_NUMBER"
	LiquiditySessionOpen  LiquidityKind = "SESSION_OPEN"
)

// LiquidityLevel is a price zone statistically likely to contain resting
// orders. Recomputed per request from the lookback window; no long-lived
// identity.
type LiquidityLevel struct {
	Price    float64       `json:"price"`
	Kind     LiquidityKind `json:"kind"`
	Strength float64       `json:"strength"` // 0..1
	Touches  int           `json:"touches"`
	AgeBars  int           `json:"age_bars"`
}

// LiquidityMap splits detected levels by side of the current price.
// BuySide is sorted ascending (nearest above first), SellSide descending
// (nearest below first).
type LiquidityMap struct {
	CurrentPrice float64          `json:"current_price"`
	BuySide      []LiquidityLevel `json:"buy_side"`  // above price
	SellSide     []LiquidityLevel `json:"sell_side"` // below price
}

// NearestAbove returns the closest level above price whose strength meets
// the floor.
func (m LiquidityMap) NearestAbove(price, minStrength float64) (LiquidityLevel, bool) {
	for _, lvl := range m.BuySide {
		if lvl.Price > price && lvl.Strength >= minStrength {
			return lvl, true
		}
	}
	return LiquidityLevel{}, false
}

// NearestBelow returns the closest level below price whose strength meets
// the floor.
func (m LiquidityMap) NearestBelow(price, minStrength float64) (LiquidityLevel, bool) {
	for _, lvl := range m.SellSide {
		if lvl.Price < price && lvl.Strength >= minStrength {
			return lvl, true
		}
	}
	return LiquidityLevel{}, false
}

type MarketRegime string

const (
	RegimeStrongUp   MarketRegime = "STRONG_UP"
	RegimeUp         MarketRegime = "UP"
	RegimeSideways   MarketRegime = "SIDEWAYS"
	RegimeDown       MarketRegime = "DOWN"
	RegimeStrongDown MarketRegime = "STRONG_DOWN"
)

type VolatilityRegime string

const (
	VolLow     VolatilityRegime = "LOW"
	VolNormal  VolatilityRegime = "NORMAL"
	VolHigh    VolatilityRegime = "HIGH"
	VolExtreme VolatilityRegime = "EXTREME"
)

// RiskParams is the regime-derived parameter set for a proposed trade.
type RiskParams struct {
	MarketRegime       MarketRegime     `json:"market_regime"`
	VolatilityRegime   VolatilityRegime `json:"volatility_regime"`
	StopATRMultiplier  float64          `json:"stop_atr_multiplier"`
	RiskRewardRatio    float64          `json:"risk_reward_ratio"`
	PositionSizeScalar float64          `json:"position_size_scalar"`
	Confidence         float64          `json:"confidence"` // 0..1, never NaN
}

// MarketContext is an immutable snapshot of session, liquidity and regime
// state for one (symbol, bar, direction) tuple. Callers never mutate it;
// they derive stop/target prices through the pure methods below.
type MarketContext struct {
	Symbol       string       `json:"symbol"`
	Timestamp    time.Time    `json:"timestamp"`
	CurrentPrice float64      `json:"current_price"`
	Session      Session      `json:"session"`
	Liquidity    LiquidityMap `json:"liquidity"`
	RiskParams   RiskParams   `json:"risk_params"`
	Degraded     bool         `json:"degraded"` // computation failed, conservative defaults in effect

	// Policy knobs stamped by the engine so the methods stay pure.
	MinConfidence    float64 `json:"min_confidence"`
	MinLevelStrength float64 `json:"min_level_strength"`
	LiquidityRRFloor float64 `json:"liquidity_rr_floor"` // fraction of RiskRewardRatio a level must clear
	Blackout         bool    `json:"blackout"`
	BlackoutReason   string  `json:"blackout_reason,omitempty"`
}

// StopPrice places the stop one session-adjusted ATR multiple away from
// entry on the losing side.
func (c MarketContext) StopPrice(entry, atr float64, side Side) float64 {
	dist := atr * c.RiskParams.StopATRMultiplier
	if side == SideBuy {
		return entry - dist
	}
	return entry + dist
}

// TargetPrice prefers the nearest qualifying liquidity level beyond the
// minimum R:R; otherwise it falls back to the ATR-multiple target.
func (c MarketContext) TargetPrice(entry, atr float64, side Side) float64 {
	stopDist := atr * c.RiskParams.StopATRMultiplier
	minRR := c.RiskParams.RiskRewardRatio * c.LiquidityRRFloor

	if stopDist > 0 && !c.Degraded {
		if side == SideBuy {
			if lvl, ok := c.Liquidity.NearestAbove(entry, c.MinLevelStrength); ok {
				if (lvl.Price-entry)/stopDist >= minRR {
					return lvl.Price
				}
			}
		} else {
			if lvl, ok := c.Liquidity.NearestBelow(entry, c.MinLevelStrength); ok {
				if (entry-lvl.Price)/stopDist >= minRR {
					return lvl.Price
				}
			}
		}
	}

	if side == SideBuy {
		return entry + stopDist*c.RiskParams.RiskRewardRatio
	}
	return entry - stopDist*c.RiskParams.RiskRewardRatio
}

// ShouldTrade reports whether the context permits opening a position,
// with a machine-readable reason on rejection.
func (c MarketContext) ShouldTrade() (bool, string) {
	if c.Blackout {
		reason := c.BlackoutReason
		if reason == "" {
			reason = ReasonSessionBlackout
		}
		return false, reason
	}
	if c.RiskParams.Confidence < c.MinConfidence {
		return false, fmt.Sprintf("%s: confidence %.2f < %.2f", ReasonLowConfidence, c.RiskParams.Confidence, c.MinConfidence)
	}
	return true, ""
}
