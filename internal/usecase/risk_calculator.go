package usecase

import (
	"fmt"
	"math"

	"github.com/vitos/crypto_trend_engine/internal/domain"
)

// RiskCalculator classifies trend and volatility regimes from raw price
// history and derives risk/reward and sizing parameters. No side effects;
// unit-testable purely from an input series.
type RiskCalculator struct {
	TrendPeriod int
	VolPeriod   int
	MinRR       float64
	MaxRR       float64
}

func NewRiskCalculator() *RiskCalculator {
	return &RiskCalculator{
		TrendPeriod: 50,
		VolPeriod:   20,
		MinRR:       1.2,
		MaxRR:       5.0,
	}
}

// Classify derives RiskParams for the proposed direction. It returns an
// error only for history it cannot interpret at all (too short, bad
// closes); callers degrade to conservative defaults in that case.
func (c *RiskCalculator) Classify(candles []domain.Candle, direction domain.Side) (domain.RiskParams, error) {
	if len(candles) < 2 {
		return domain.RiskParams{}, fmt.Errorf("insufficient history: %d bars", len(candles))
	}
	for _, b := range candles {
		if b.Close <= 0 || math.IsNaN(b.Close) {
			return domain.RiskParams{}, fmt.Errorf("malformed history: non-positive close")
		}
	}

	regime, r2 := c.detectRegime(candles)
	volRegime, volPct := c.classifyVolatility(candles)

	rr := baseRiskReward(regime)
	aligned := (isUptrend(regime) && direction == domain.SideBuy) ||
		(isDowntrend(regime) && direction == domain.SideSell)
	if isUptrend(regime) || isDowntrend(regime) {
		if aligned {
			rr *= 1 + 0.5*r2
		} else {
			rr *= 0.7
		}
	}
	rr = clamp(rr, c.MinRR, c.MaxRR)

	confidence := c.confidence(r2, volRegime)

	scalar := 1.0
	switch volRegime {
	case domain.VolLow:
		scalar = 1.2
	case domain.VolHigh:
		scalar = 0.8
	case domain.VolExtreme:
		scalar = 0.5
	}
	scalar *= confidence
	// annualized vol above 100% cuts exposure further
	if volPct > 100 {
		scalar *= 0.8
	}
	scalar = clamp(scalar, 0.1, 1.5)

	return domain.RiskParams{
		MarketRegime:       regime,
		VolatilityRegime:   volRegime,
		StopATRMultiplier:  1.0, // session-adjusted by the context engine
		RiskRewardRatio:    rr,
		PositionSizeScalar: scalar,
		Confidence:         confidence,
	}, nil
}

// detectRegime runs a linear regression of closes over the trend window.
// Slope as percent-per-bar and R-squared jointly determine the regime.
func (c *RiskCalculator) detectRegime(candles []domain.Candle) (domain.MarketRegime, float64) {
	window := c.TrendPeriod
	if len(candles) < window {
		window = len(candles)
	}
	closes := make([]float64, window)
	for i := 0; i < window; i++ {
		closes[i] = candles[len(candles)-window+i].Close
	}

	slope, r2 := linearRegression(closes)
	last := closes[len(closes)-1]
	slopePct := slope / last * 100

	absSlope := math.Abs(slopePct)
	switch {
	case absSlope < 0.05 || r2 < 0.5:
		return domain.RegimeSideways, r2
	case absSlope > 0.15 && r2 > 0.7:
		if slopePct > 0 {
			return domain.RegimeStrongUp, r2
		}
		return domain.RegimeStrongDown, r2
	default:
		if slopePct > 0 {
			return domain.RegimeUp, r2
		}
		return domain.RegimeDown, r2
	}
}

// classifyVolatility buckets the rolling stddev of returns against its own
// history when enough bars exist, otherwise against absolute annualized
// thresholds calibrated for majors.
func (c *RiskCalculator) classifyVolatility(candles []domain.Candle) (domain.VolatilityRegime, float64) {
	returns := closeReturns(candles)
	if len(returns) < 2 {
		return domain.VolNormal, 0
	}

	window := c.VolPeriod
	if len(returns) < window {
		window = len(returns)
	}
	current := stddev(returns[len(returns)-window:])
	annualizedPct := current * math.Sqrt(252*24) * 100

	if len(returns) >= 100 {
		// percentile of the current window vs all rolling windows
		var below, total int
		for i := window; i <= len(returns); i++ {
			total++
			if stddev(returns[i-window:i]) <= current {
				below++
			}
		}
		pct := float64(below) / float64(total) * 100
		switch {
		case pct > 90:
			return domain.VolExtreme, annualizedPct
		case pct > 70:
			return domain.VolHigh, annualizedPct
		case pct < 30:
			return domain.VolLow, annualizedPct
		default:
			return domain.VolNormal, annualizedPct
		}
	}

	switch {
	case annualizedPct > 80:
		return domain.VolExtreme, annualizedPct
	case annualizedPct > 50:
		return domain.VolHigh, annualizedPct
	case annualizedPct < 20:
		return domain.VolLow, annualizedPct
	default:
		return domain.VolNormal, annualizedPct
	}
}

// confidence combines trend clarity (R-squared) with a volatility
// abnormality penalty. Always clamped to [0,1], never NaN.
func (c *RiskCalculator) confidence(r2 float64, vol domain.VolatilityRegime) float64 {
	if math.IsNaN(r2) {
		r2 = 0
	}
	volConf := map[domain.VolatilityRegime]float64{
		domain.VolLow:     0.7,
		domain.VolNormal:  1.0,
		domain.VolHigh:    0.6,
		domain.VolExtreme: 0.3,
	}[vol]
	return clamp(r2*0.6+volConf*0.4, 0, 1)
}

func baseRiskReward(regime domain.MarketRegime) float64 {
	switch regime {
	case domain.RegimeStrongUp, domain.RegimeStrongDown:
		return 4.0
	case domain.RegimeUp, domain.RegimeDown:
		return 2.5
	default:
		return 1.5
	}
}

func isUptrend(r domain.MarketRegime) bool {
	return r == domain.RegimeUp || r == domain.RegimeStrongUp
}

func isDowntrend(r domain.MarketRegime) bool {
	return r == domain.RegimeDown || r == domain.RegimeStrongDown
}

// linearRegression fits y = a + b*x over x = 0..n-1 and returns the slope
// and R-squared.
func linearRegression(values []float64) (slope, r2 float64) {
	n := float64(len(values))
	if n < 2 {
		return 0, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, 0
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssTot, ssRes float64
	for i, y := range values {
		fit := intercept + slope*float64(i)
		ssRes += (y - fit) * (y - fit)
		ssTot += (y - meanY) * (y - meanY)
	}
	if ssTot == 0 {
		return slope, 0
	}
	return slope, 1 - ssRes/ssTot
}

func closeReturns(candles []domain.Candle) []float64 {
	var out []float64
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		if prev <= 0 {
			continue
		}
		out = append(out, (candles[i].Close-prev)/prev)
	}
	return out
}
