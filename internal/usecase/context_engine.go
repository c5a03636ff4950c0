package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trend_engine/internal/domain"
)

// ContextPolicy holds the knobs the engine stamps onto every snapshot so
// the MarketContext methods stay pure.
type ContextPolicy struct {
	MinConfidence    float64
	MinLevelStrength float64
	LiquidityRRFloor float64
	CacheTTL         time.Duration
}

func DefaultContextPolicy() ContextPolicy {
	return ContextPolicy{
		MinConfidence:    0.3,
		MinLevelStrength: 0.6,
		LiquidityRRFloor: 0.8,
		CacheTTL:         60 * time.Second,
	}
}

type contextKey struct {
	symbol    string
	barTime   int64
	direction domain.Side
}

type cachedContext struct {
	ctx       domain.MarketContext
	expiresAt time.Time
}

// ContextEngine assembles session, liquidity and regime analysis into one
// immutable MarketContext per (symbol, bar, direction). Snapshots are
// cached until the TTL or the next bar, whichever comes first.
type ContextEngine struct {
	sessions  *SessionManager
	liquidity *LiquidityAnalyzer
	risk      *RiskCalculator
	policy    ContextPolicy
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[contextKey]cachedContext

	now func() time.Time
}

func NewContextEngine(sessions *SessionManager, liquidity *LiquidityAnalyzer, risk *RiskCalculator, policy ContextPolicy, logger *zap.Logger) *ContextEngine {
	if policy.CacheTTL <= 0 {
		policy.CacheTTL = 60 * time.Second
	}
	return &ContextEngine{
		sessions:  sessions,
		liquidity: liquidity,
		risk:      risk,
		policy:    policy,
		logger:    logger,
		cache:     make(map[contextKey]cachedContext),
		now:       time.Now,
	}
}

// Snapshot returns the market context for the given bar series and trade
// direction. Analysis failures never propagate: the result degrades to
// conservative defaults with Degraded set, and the error is reported via
// the returned DegradedContextError for logging by the caller.
func (e *ContextEngine) Snapshot(symbol string, candles []domain.Candle, currentPrice float64, direction domain.Side) domain.MarketContext {
	var barTime int64
	if len(candles) > 0 {
		barTime = candles[len(candles)-1].Time
	}
	key := contextKey{symbol: symbol, barTime: barTime, direction: direction}

	e.mu.Lock()
	if entry, ok := e.cache[key]; ok && e.now().Before(entry.expiresAt) {
		e.mu.Unlock()
		return entry.ctx
	}
	e.mu.Unlock()

	ctx := e.build(symbol, candles, currentPrice, direction)

	e.mu.Lock()
	e.cache[key] = cachedContext{ctx: ctx, expiresAt: e.now().Add(e.policy.CacheTTL)}
	e.mu.Unlock()

	return ctx
}

func (e *ContextEngine) build(symbol string, candles []domain.Candle, currentPrice float64, direction domain.Side) (out domain.MarketContext) {
	now := e.now().UTC()

	out = domain.MarketContext{
		Symbol:           symbol,
		Timestamp:        now,
		CurrentPrice:     currentPrice,
		MinConfidence:    e.policy.MinConfidence,
		MinLevelStrength: e.policy.MinLevelStrength,
		LiquidityRRFloor: e.policy.LiquidityRRFloor,
	}

	// Analyzer bugs must never take down the trading loop. A panic here
	// degrades the snapshot instead.
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("context computation panicked, degrading",
				zap.String("symbol", symbol),
				zap.Any("panic", r))
			out = e.degraded(out, now, fmt.Errorf("panic: %v", r))
		}
	}()

	out.Session = e.sessions.Classify(now)
	if avoid, reason := e.sessions.ShouldAvoidTrading(now); avoid {
		out.Blackout = true
		out.BlackoutReason = reason
	}

	params, err := e.risk.Classify(candles, direction)
	if err != nil {
		return e.degraded(out, now, err)
	}
	params.StopATRMultiplier = e.sessions.AdaptiveStopMultiplier(now, candles)
	out.RiskParams = params

	out.Liquidity = e.liquidity.Analyze(candles, currentPrice)
	return out
}

// degraded fills conservative defaults: sideways regime, extreme-vol
// confidence floor, wide stops, minimum size. Liquidity targeting is
// disabled via the Degraded flag.
func (e *ContextEngine) degraded(base domain.MarketContext, now time.Time, cause error) domain.MarketContext {
	e.logger.Warn("market context degraded",
		zap.String("symbol", base.Symbol),
		zap.Error(&domain.DegradedContextError{Symbol: base.Symbol, Err: cause}))

	base.Degraded = true
	base.Session = e.sessions.Classify(now)
	base.RiskParams = domain.RiskParams{
		MarketRegime:       domain.RegimeSideways,
		VolatilityRegime:   domain.VolExtreme,
		StopATRMultiplier:  2.0,
		RiskRewardRatio:    1.5,
		PositionSizeScalar: 0.25,
		Confidence:         0.1,
	}
	base.Liquidity = domain.LiquidityMap{CurrentPrice: base.CurrentPrice}
	return base
}

// EvictLoop drops expired snapshots periodically until the context is
// cancelled. Run as a background task by the engine.
func (e *ContextEngine) EvictLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.evictExpired()
		}
	}
}

func (e *ContextEngine) evictExpired() {
	now := e.now()
	e.mu.Lock()
	for key, entry := range e.cache {
		if !now.Before(entry.expiresAt) {
			delete(e.cache, key)
		}
	}
	e.mu.Unlock()
}

// CacheSize is exported for the status endpoint.
func (e *ContextEngine) CacheSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cache)
}
