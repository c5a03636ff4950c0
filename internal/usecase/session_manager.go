package usecase

import (
	"math"
	"time"

	"github.com/vitos/crypto_trend_engine/internal/domain"
)

// Crypto session bands (UTC) with empirical volatility profiles. The four
// bands cover the full day, so Classify always matches; Rollover is the
// conservative fallback if they ever don't.
var cryptoSessions = []domain.Session{
	{Name: domain.SessionAsian, StartHour: 0, EndHour: 7, AvgVolatilityPct: 0.35, StopMultiplier: 1.0, VolumeMultiplier: 0.6},
	{Name: domain.SessionLondon, StartHour: 7, EndHour: 13, AvgVolatilityPct: 0.65, StopMultiplier: 1.3, VolumeMultiplier: 1.0},
	{Name: domain.SessionNY, StartHour: 13, EndHour: 22, AvgVolatilityPct: 1.15, StopMultiplier: 1.8, VolumeMultiplier: 1.3},
	{Name: domain.SessionRollover, StartHour: 22, EndHour: 24, AvgVolatilityPct: 1.45, StopMultiplier: 2.5, VolumeMultiplier: 0.7},
}

type SessionManager struct {
	sessions      []domain.Session
	volLookback   int
	blackoutHours map[int]bool // extra configured UTC blackout hours
}

func NewSessionManager(volLookback int, blackoutHours []int) *SessionManager {
	if volLookback <= 0 {
		volLookback = 20
	}
	blackout := make(map[int]bool, len(blackoutHours))
	for _, h := range blackoutHours {
		blackout[h] = true
	}
	return &SessionManager{
		sessions:      cryptoSessions,
		volLookback:   volLookback,
		blackoutHours: blackout,
	}
}

// Classify returns the session covering the given time (UTC).
func (m *SessionManager) Classify(t time.Time) domain.Session {
	for _, s := range m.sessions {
		if s.Active(t) {
			return s
		}
	}
	// Unreachable with full-day coverage; default to the widest stops.
	return m.sessions[len(m.sessions)-1]
}

// AdaptiveStopMultiplier scales the session's base multiplier by realized
// intraday volatility: base * (1 + 0.5*(realized/expected - 1)), clamped
// to [0.5*base, 3*base].
func (m *SessionManager) AdaptiveStopMultiplier(t time.Time, candles []domain.Candle) float64 {
	session := m.Classify(t)
	base := session.StopMultiplier

	realized := realizedVolatilityPct(candles, m.volLookback)
	if realized <= 0 || session.AvgVolatilityPct <= 0 {
		return base
	}

	adaptive := base * (1 + 0.5*(realized/session.AvgVolatilityPct-1))
	return clamp(adaptive, 0.5*base, 3*base)
}

// ShouldAvoidTrading flags known low-liquidity windows: Saturdays, Sunday
// mornings, and any explicitly configured blackout hours.
func (m *SessionManager) ShouldAvoidTrading(t time.Time) (bool, string) {
	t = t.UTC()
	switch t.Weekday() {
	case time.Saturday:
		return true, "weekend_low_liquidity"
	case time.Sunday:
		if t.Hour() < 12 {
			return true, "weekend_morning"
		}
	}
	if m.blackoutHours[t.Hour()] {
		return true, domain.ReasonSessionBlackout
	}
	return false, ""
}

// realizedVolatilityPct is the standard deviation of per-bar close returns
// over the last lookback bars, in percent.
func realizedVolatilityPct(candles []domain.Candle, lookback int) float64 {
	if len(candles) < 2 {
		return 0
	}
	start := len(candles) - lookback - 1
	if start < 0 {
		start = 0
	}
	var returns []float64
	for i := start + 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		if prev <= 0 {
			continue
		}
		returns = append(returns, (candles[i].Close-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}
	return stddev(returns) * 100
}

func stddev(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
