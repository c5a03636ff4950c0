package usecase

import (
	"github.com/vitos/crypto_trend_engine/internal/domain"
)

// TrendStrategy is the built-in signal producer: a moving-average
// crossover filtered by ATR. It fires when the fast average crosses the
// slow one on the latest bar, suggesting entry at the current price.
type TrendStrategy struct {
	FastPeriod int
	SlowPeriod int
	ATRPeriod  int
}

func NewTrendStrategy() *TrendStrategy {
	return &TrendStrategy{
		FastPeriod: 9,
		SlowPeriod: 21,
		ATRPeriod:  14,
	}
}

func (s *TrendStrategy) Name() string { return "trend_cross" }

func (s *TrendStrategy) Produce(history []domain.Candle, currentPrice float64) (*domain.Signal, bool) {
	if len(history) < s.SlowPeriod+1 || currentPrice <= 0 {
		return nil, false
	}

	fastNow := ema(history, s.FastPeriod, 0)
	slowNow := ema(history, s.SlowPeriod, 0)
	fastPrev := ema(history, s.FastPeriod, 1)
	slowPrev := ema(history, s.SlowPeriod, 1)

	var direction domain.Side
	switch {
	case fastPrev <= slowPrev && fastNow > slowNow:
		direction = domain.SideBuy
	case fastPrev >= slowPrev && fastNow < slowNow:
		direction = domain.SideSell
	default:
		return nil, false
	}

	atr := domain.ATR(history, s.ATRPeriod)
	if atr <= 0 {
		return nil, false
	}

	// Spread between the averages relative to ATR gauges how decisive
	// the cross is.
	strength := clamp(abs(fastNow-slowNow)/atr, 0, 1)

	return &domain.Signal{
		Strategy:       s.Name(),
		Direction:      direction,
		Strength:       strength,
		SuggestedEntry: currentPrice,
		ATR:            atr,
	}, true
}

// ema computes the exponential moving average of closes ending `back`
// bars before the latest.
func ema(candles []domain.Candle, period, back int) float64 {
	end := len(candles) - back
	if end < period {
		return 0
	}
	k := 2.0 / float64(period+1)
	avg := candles[end-period].Close
	for i := end - period + 1; i < end; i++ {
		avg = candles[i].Close*k + avg*(1-k)
	}
	return avg
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
