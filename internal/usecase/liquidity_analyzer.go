package usecase

import (
	"math"
	"sort"
	"time"

	"github.com/vitos/crypto_trend_engine/internal/domain"
)

// LiquidityAnalyzer detects price zones likely to hold resting orders:
// clustered swing points, order blocks, fair value gaps, round numbers and
// recent session opens. Pure function of the input bars; identical input
// yields identical output.
type LiquidityAnalyzer struct {
	EqualTolerance   float64 // relative tolerance for "equal" highs/lows
	MinTouches       int     // swing points needed to confirm a cluster
	FVGThreshold     float64 // minimum gap as fraction of price
	SwingWindow      int     // bars each side a swing must dominate
	DisplacementPct  float64 // single-candle move that marks a displacement
	RoundNumberRange float64 // search range around current price
}

func NewLiquidityAnalyzer() *LiquidityAnalyzer {
	return &LiquidityAnalyzer{
		EqualTolerance:   0.0015,
		MinTouches:       2,
		FVGThreshold:     0.002,
		SwingWindow:      3,
		DisplacementPct:  0.01,
		RoundNumberRange: 0.05,
	}
}

func (a *LiquidityAnalyzer) Analyze(candles []domain.Candle, currentPrice float64) domain.LiquidityMap {
	m := domain.LiquidityMap{CurrentPrice: currentPrice}
	if currentPrice <= 0 {
		return m
	}

	var levels []domain.LiquidityLevel
	if len(candles) >= 20 {
		levels = append(levels, a.equalExtremes(candles, true)...)
		levels = append(levels, a.equalExtremes(candles, false)...)
		levels = append(levels, a.orderBlocks(candles)...)
		levels = append(levels, a.fairValueGaps(candles)...)
		levels = append(levels, a.sessionOpens(candles)...)
	}
	levels = append(levels, a.roundNumbers(currentPrice)...)

	for _, lvl := range levels {
		if lvl.Price >= currentPrice {
			m.BuySide = append(m.BuySide, lvl)
		} else {
			m.SellSide = append(m.SellSide, lvl)
		}
	}
	sort.Slice(m.BuySide, func(i, j int) bool { return m.BuySide[i].Price < m.BuySide[j].Price })
	sort.Slice(m.SellSide, func(i, j int) bool { return m.SellSide[i].Price > m.SellSide[j].Price })
	return m
}

// swingPoints finds strict local extrema within a symmetric window.
func (a *LiquidityAnalyzer) swingPoints(candles []domain.Candle, highs bool) []int {
	var points []int
	w := a.SwingWindow
	for i := w; i < len(candles)-w; i++ {
		extremum := true
		for j := i - w; j <= i+w && extremum; j++ {
			if j == i {
				continue
			}
			if highs {
				if candles[j].High >= candles[i].High {
					extremum = false
				}
			} else {
				if candles[j].Low <= candles[i].Low {
					extremum = false
				}
			}
		}
		if extremum {
			points = append(points, i)
		}
	}
	return points
}

// equalExtremes clusters swing highs (or lows) within EqualTolerance.
// A cluster only qualifies with MinTouches or more members.
func (a *LiquidityAnalyzer) equalExtremes(candles []domain.Candle, highs bool) []domain.LiquidityLevel {
	points := a.swingPoints(candles, highs)
	if len(points) < a.MinTouches {
		return nil
	}

	type cluster struct {
		prices  []float64
		indices []int
	}
	var clusters []*cluster
	for _, idx := range points {
		price := candles[idx].Low
		if highs {
			price = candles[idx].High
		}
		matched := false
		for _, c := range clusters {
			if math.Abs(price-c.prices[0])/c.prices[0] < a.EqualTolerance {
				c.prices = append(c.prices, price)
				c.indices = append(c.indices, idx)
				matched = true
				break
			}
		}
		if !matched {
			clusters = append(clusters, &cluster{prices: []float64{price}, indices: []int{idx}})
		}
	}

	kind := domain.LiquidityEqualLow
	if highs {
		kind = domain.LiquidityEqualHigh
	}

	var out []domain.LiquidityLevel
	for _, c := range clusters {
		if len(c.prices) < a.MinTouches {
			continue
		}
		var sum float64
		youngest := c.indices[0]
		for i, p := range c.prices {
			sum += p
			if c.indices[i] > youngest {
				youngest = c.indices[i]
			}
		}
		avg := sum / float64(len(c.prices))
		age := len(candles) - youngest
		out = append(out, domain.LiquidityLevel{
			Price:    avg,
			Kind:     kind,
			Strength: a.strength(candles, avg, len(c.prices), age),
			Touches:  len(c.prices),
			AgeBars:  age,
		})
	}
	return out
}

// orderBlocks finds the last opposite-direction candle immediately before
// a displacement move.
func (a *LiquidityAnalyzer) orderBlocks(candles []domain.Candle) []domain.LiquidityLevel {
	var out []domain.LiquidityLevel
	for i := 5; i < len(candles); i++ {
		c := candles[i]
		if c.Open <= 0 {
			continue
		}
		ret := (c.Close - c.Open) / c.Open

		if ret > a.DisplacementPct {
			// bullish displacement: block at the last red candle's low
			for j := i - 1; j >= i-5 && j >= 0; j-- {
				if candles[j].Close < candles[j].Open {
					out = append(out, domain.LiquidityLevel{
						Price:    candles[j].Low,
						Kind:     domain.LiquidityOrderBlock,
						Strength: 0.8,
						Touches:  1,
						AgeBars:  len(candles) - j,
					})
					break
				}
			}
		} else if ret < -a.DisplacementPct {
			for j := i - 1; j >= i-5 && j >= 0; j-- {
				if candles[j].Close > candles[j].Open {
					out = append(out, domain.LiquidityLevel{
						Price:    candles[j].High,
						Kind:     domain.LiquidityOrderBlock,
						Strength: 0.8,
						Touches:  1,
						AgeBars:  len(candles) - j,
					})
					break
				}
			}
		}
	}
	// keep the most recent ten
	if len(out) > 10 {
		out = out[len(out)-10:]
	}
	return out
}

// fairValueGaps finds three-candle sequences where candle 1's extreme does
// not overlap candle 3's opposite extreme. The gap midpoint is the level.
func (a *LiquidityAnalyzer) fairValueGaps(candles []domain.Candle) []domain.LiquidityLevel {
	var out []domain.LiquidityLevel
	for i := 1; i < len(candles)-1; i++ {
		prev, curr, next := candles[i-1], candles[i], candles[i+1]
		if curr.Close <= 0 {
			continue
		}
		if prev.High < next.Low {
			if (next.Low-prev.High)/curr.Close > a.FVGThreshold {
				out = append(out, domain.LiquidityLevel{
					Price:    (prev.High + next.Low) / 2,
					Kind:     domain.LiquidityFairValueGap,
					Strength: 0.65,
					Touches:  1,
					AgeBars:  len(candles) - i,
				})
			}
		} else if prev.Low > next.High {
			if (prev.Low-next.High)/curr.Close > a.FVGThreshold {
				out = append(out, domain.LiquidityLevel{
					Price:    (next.High + prev.Low) / 2,
					Kind:     domain.LiquidityFairValueGap,
					Strength: 0.65,
					Touches:  1,
					AgeBars:  len(candles) - i,
				})
			}
		}
	}
	if len(out) > 5 {
		out = out[len(out)-5:]
	}
	return out
}

// sessionOpens returns the opening price of the last few UTC days.
func (a *LiquidityAnalyzer) sessionOpens(candles []domain.Candle) []domain.LiquidityLevel {
	var out []domain.LiquidityLevel
	lastDay := ""
	for i, c := range candles {
		day := time.UnixMilli(c.Time).UTC().Format("2006-01-02")
		if day != lastDay {
			out = append(out, domain.LiquidityLevel{
				Price:    c.Open,
				Kind:     domain.LiquiditySessionOpen,
				Strength: 0.7,
				Touches:  1,
				AgeBars:  len(candles) - i,
			})
			lastDay = day
		}
	}
	if len(out) > 5 {
		out = out[len(out)-5:]
	}
	return out
}

// roundNumbers returns psychological levels within RoundNumberRange of the
// current price at a magnitude-scaled step.
func (a *LiquidityAnalyzer) roundNumbers(currentPrice float64) []domain.LiquidityLevel {
	magnitude := math.Pow(10, math.Floor(math.Log10(currentPrice)))
	var step float64
	switch {
	case magnitude >= 10000:
		step = 1000
	case magnitude >= 1000:
		step = 500
	case magnitude >= 100:
		step = 50
	case magnitude >= 10:
		step = 10
	default:
		step = 1
	}

	lower := currentPrice * (1 - a.RoundNumberRange)
	upper := currentPrice * (1 + a.RoundNumberRange)

	var out []domain.LiquidityLevel
	for p := math.Floor(lower/step) * step; p <= upper; p += step {
		if p < lower || p == currentPrice {
			continue
		}
		out = append(out, domain.LiquidityLevel{
			Price:    p,
			Kind:     domain.LiquidityRoundNumber,
			Strength: 0.6,
			Touches:  1,
		})
	}
	return out
}

// strength scores a level from touch count, recency decay and relative
// volume at formation; always within [0,1].
func (a *LiquidityAnalyzer) strength(candles []domain.Candle, price float64, touches, ageBars int) float64 {
	touchScore := math.Min(float64(touches)/5.0, 1.0)
	ageScore := math.Exp(-float64(ageBars) / 100.0)

	volScore := 0.5
	if avg := avgVolume(candles); avg > 0 {
		volScore = math.Min(volumeAtPrice(candles, price)/avg, 1.0)
	}

	return clamp(touchScore*0.4+ageScore*0.3+volScore*0.3, 0, 1)
}

func avgVolume(candles []domain.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	var sum float64
	for _, c := range candles {
		sum += c.Volume
	}
	return sum / float64(len(candles))
}

// volumeAtPrice estimates the average volume of bars whose range touched
// the level.
func volumeAtPrice(candles []domain.Candle, price float64) float64 {
	var sum float64
	var n int
	for _, c := range candles {
		if c.Low <= price && c.High >= price {
			sum += c.Volume
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
