package usecase

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trend_engine/internal/domain"
)

func newTestContextEngine(now time.Time) *ContextEngine {
	e := NewContextEngine(
		NewSessionManager(0, nil),
		NewLiquidityAnalyzer(),
		NewRiskCalculator(),
		DefaultContextPolicy(),
		zap.NewNop())
	e.now = func() time.Time { return now }
	return e
}

func TestSnapshotStampsSessionMultiplier(t *testing.T) {
	ny := time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC)
	e := newTestContextEngine(ny)

	candles := flatCandles(60, 50000, ny.Add(-60*time.Minute).UnixMilli(), 60_000)
	ctx := e.Snapshot("BTCUSDT", candles, 50000, domain.SideBuy)

	if ctx.Degraded {
		t.Fatal("healthy inputs must not degrade")
	}
	if ctx.Session.Name != domain.SessionNY {
		t.Fatalf("session = %s, want NY", ctx.Session.Name)
	}
	// Flat history keeps realized vol at zero, so the NY base applies.
	if ctx.RiskParams.StopATRMultiplier != 1.8 {
		t.Errorf("stop multiplier = %v, want 1.8", ctx.RiskParams.StopATRMultiplier)
	}

	stop := ctx.StopPrice(50000, 300, domain.SideBuy)
	if stop != 50000-300*1.8 {
		t.Errorf("stop = %v, want 49460", stop)
	}
	// The 51000 round number clears the R:R floor over the 540 stop
	// distance, so it wins over the ATR fallback.
	if got := ctx.TargetPrice(50000, 300, domain.SideBuy); got != 51000 {
		t.Errorf("target = %v, want round-number level 51000", got)
	}
}

func TestTrendStopTargetScenario(t *testing.T) {
	// Trending NY-session trade: 2.5 R:R over a session-widened stop.
	ctx := domain.MarketContext{
		RiskParams: domain.RiskParams{
			StopATRMultiplier: 1.8,
			RiskRewardRatio:   2.5,
		},
		LiquidityRRFloor: 0.8,
	}

	if stop := ctx.StopPrice(50000, 300, domain.SideBuy); stop != 49460 {
		t.Errorf("stop = %v, want 49460", stop)
	}
	if target := ctx.TargetPrice(50000, 300, domain.SideBuy); target != 51350 {
		t.Errorf("target = %v, want 51350", target)
	}
}

func TestSnapshotCachesPerBarAndDirection(t *testing.T) {
	now := time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC)
	e := newTestContextEngine(now)

	candles := flatCandles(60, 50000, 0, 60_000)
	first := e.Snapshot("BTCUSDT", candles, 50000, domain.SideBuy)
	second := e.Snapshot("BTCUSDT", candles, 50001, domain.SideBuy)

	// Same bar, same direction: the cached snapshot is returned even
	// though the tick price moved.
	if second.CurrentPrice != first.CurrentPrice {
		t.Error("expected cached snapshot for same (symbol, bar, direction)")
	}

	if e.CacheSize() != 1 {
		t.Errorf("cache size = %d, want 1", e.CacheSize())
	}

	e.Snapshot("BTCUSDT", candles, 50000, domain.SideSell)
	if e.CacheSize() != 2 {
		t.Errorf("direction must be part of the key, cache size = %d", e.CacheSize())
	}
}

func TestSnapshotExpiresWithTTL(t *testing.T) {
	now := time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC)
	e := newTestContextEngine(now)

	candles := flatCandles(60, 50000, 0, 60_000)
	e.Snapshot("BTCUSDT", candles, 50000, domain.SideBuy)

	e.now = func() time.Time { return now.Add(2 * time.Minute) }
	e.evictExpired()
	if e.CacheSize() != 0 {
		t.Errorf("expired snapshot not evicted, cache size = %d", e.CacheSize())
	}
}

func TestSnapshotDegradesOnBadHistory(t *testing.T) {
	now := time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC)
	e := newTestContextEngine(now)

	ctx := e.Snapshot("BTCUSDT", nil, 50000, domain.SideBuy)

	if !ctx.Degraded {
		t.Fatal("empty history must degrade")
	}
	if ctx.RiskParams.Confidence >= ctx.MinConfidence {
		t.Error("degraded context must carry sub-threshold confidence")
	}
	if ctx.RiskParams.PositionSizeScalar > 0.25 {
		t.Errorf("degraded scalar = %v, want conservative", ctx.RiskParams.PositionSizeScalar)
	}

	// ATR fallback still produces usable prices.
	stop := ctx.StopPrice(50000, 300, domain.SideBuy)
	target := ctx.TargetPrice(50000, 300, domain.SideBuy)
	if !(stop < 50000 && target > 50000) {
		t.Errorf("degraded prices unusable: stop=%v target=%v", stop, target)
	}
}

func TestSnapshotBlackoutOnWeekend(t *testing.T) {
	saturday := time.Date(2024, 1, 13, 15, 0, 0, 0, time.UTC)
	e := newTestContextEngine(saturday)

	ctx := e.Snapshot("BTCUSDT", flatCandles(60, 50000, 0, 60_000), 50000, domain.SideBuy)
	if !ctx.Blackout {
		t.Fatal("saturday snapshot must be blacked out")
	}
	if ok, reason := ctx.ShouldTrade(); ok || reason == "" {
		t.Errorf("ShouldTrade = %v %q, want rejection with reason", ok, reason)
	}
}
