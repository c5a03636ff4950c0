package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trend_engine/internal/domain"
	"github.com/vitos/crypto_trend_engine/internal/infrastructure/metrics"
)

// EngineConfig drives the per-symbol scheduling loops. Intervals are in
// milliseconds to keep the yaml flat.
type EngineConfig struct {
	Symbols         []string `yaml:"symbols"`
	Interval        string   `yaml:"interval"` // kline interval, e.g. "15"
	PollIntervalMs  int      `yaml:"poll_interval_ms"`
	HistoryBars     int      `yaml:"history_bars"`
	RiskPerTradePct float64  `yaml:"risk_per_trade_pct"`
	HeartbeatMs     int      `yaml:"heartbeat_ms"`
}

func (c *EngineConfig) applyDefaults() {
	if c.Interval == "" {
		c.Interval = "15"
	}
	if c.PollIntervalMs <= 0 {
		c.PollIntervalMs = 60_000
	}
	if c.HistoryBars <= 0 {
		c.HistoryBars = 100
	}
	if c.RiskPerTradePct <= 0 {
		c.RiskPerTradePct = 1.0
	}
	if c.HeartbeatMs <= 0 {
		c.HeartbeatMs = 30_000
	}
}

func (c *EngineConfig) pollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c *EngineConfig) heartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatMs) * time.Millisecond
}

// Engine runs one scheduling loop per configured symbol: poll history,
// ask the strategy collaborators for signals, build orders through the
// market context, and push them through risk admission into dispatch.
type Engine struct {
	cfg EngineConfig

	exchange  domain.Exchange
	limiter   *RateLimiter
	breaker   *CircuitBreaker
	contexts  *ContextEngine
	risk      *RiskManager
	orders    *OrderManager
	repo      domain.TradeRepository
	producers []domain.SignalProducer
	metrics   *metrics.Metrics
	logger    *zap.Logger

	wg sync.WaitGroup
}

func NewEngine(
	cfg EngineConfig,
	exchange domain.Exchange,
	limiter *RateLimiter,
	breaker *CircuitBreaker,
	contexts *ContextEngine,
	risk *RiskManager,
	orders *OrderManager,
	repo domain.TradeRepository,
	producers []domain.SignalProducer,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:       cfg,
		exchange:  exchange,
		limiter:   limiter,
		breaker:   breaker,
		contexts:  contexts,
		risk:      risk,
		orders:    orders,
		repo:      repo,
		producers: producers,
		metrics:   m,
		logger:    logger,
	}
}

// Start launches the symbol loops and background tasks. It returns
// immediately; Wait blocks until everything has shut down after the
// context is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("starting trend engine",
		zap.Strings("symbols", e.cfg.Symbols),
		zap.String("interval", e.cfg.Interval),
		zap.Duration("poll_interval", e.cfg.pollInterval()))

	e.orders.Start(ctx)

	e.wg.Add(3)
	go func() {
		defer e.wg.Done()
		e.breaker.HeartbeatLoop(ctx, e.cfg.heartbeatInterval())
	}()
	go func() {
		defer e.wg.Done()
		e.contexts.EvictLoop(ctx, time.Minute)
	}()
	go func() {
		defer e.wg.Done()
		e.consumeOutcomes(ctx)
	}()

	for _, symbol := range e.cfg.Symbols {
		e.wg.Add(1)
		go func(symbol string) {
			defer e.wg.Done()
			e.symbolLoop(ctx, symbol)
		}(symbol)
	}
}

func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) symbolLoop(ctx context.Context, symbol string) {
	ticker := time.NewTicker(e.cfg.pollInterval())
	defer ticker.Stop()

	e.evaluateSymbol(ctx, symbol)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.evaluateSymbol(ctx, symbol)
		}
	}
}

func (e *Engine) evaluateSymbol(ctx context.Context, symbol string) {
	candles, ok := e.fetchHistory(ctx, symbol)
	if !ok || len(candles) == 0 {
		return
	}
	currentPrice := candles[len(candles)-1].Close

	for _, producer := range e.producers {
		signal, fired := producer.Produce(candles, currentPrice)
		if !fired {
			continue
		}
		if signal.Symbol == "" {
			signal.Symbol = symbol
		}
		if signal.Strategy == "" {
			signal.Strategy = producer.Name()
		}
		if err := signal.Validate(); err != nil {
			e.logger.Warn("invalid signal dropped",
				zap.String("strategy", producer.Name()),
				zap.String("symbol", symbol),
				zap.Error(err))
			continue
		}
		e.handleSignal(ctx, signal, candles, currentPrice)
	}
}

// fetchHistory pulls fresh OHLCV, feeding the breaker with the observed
// latency. When the breaker is open it falls back to the last-known-good
// cache so context stays computable for the status surface.
func (e *Engine) fetchHistory(ctx context.Context, symbol string) ([]domain.Candle, bool) {
	if rej := e.limiter.TryAcquire(ClassMarketData); rej != nil {
		return e.breaker.CachedCandles(symbol)
	}
	if rej := e.breaker.Allow(); rej != nil {
		return e.breaker.CachedCandles(symbol)
	}

	start := time.Now()
	candles, err := e.exchange.GetOHLCV(ctx, symbol, e.cfg.Interval, e.cfg.HistoryBars)
	latency := time.Since(start)
	if e.metrics != nil {
		e.metrics.ExchangeLatency.Observe(latency.Seconds())
	}
	if err != nil {
		e.breaker.RecordFailure(err)
		e.observeBreaker()
		e.logger.Warn("history fetch failed",
			zap.String("symbol", symbol),
			zap.Error(err))
		return e.breaker.CachedCandles(symbol)
	}
	e.breaker.RecordSuccess(latency)
	e.observeBreaker()
	e.breaker.CacheCandles(symbol, candles)
	return candles, true
}

func (e *Engine) observeBreaker() {
	if e.metrics == nil {
		return
	}
	var v float64
	switch e.breaker.State() {
	case BreakerHalfOpen:
		v = 1
	case BreakerOpen:
		v = 2
	}
	e.metrics.BreakerState.Set(v)
}

func (e *Engine) handleSignal(ctx context.Context, signal *domain.Signal, candles []domain.Candle, currentPrice float64) {
	mctx := e.contexts.Snapshot(signal.Symbol, candles, currentPrice, signal.Direction)
	if e.metrics != nil && mctx.Degraded {
		e.metrics.ContextDegraded.Inc()
	}

	if trade, reason := mctx.ShouldTrade(); !trade {
		e.logger.Info("signal skipped by market context",
			zap.String("symbol", signal.Symbol),
			zap.String("strategy", signal.Strategy),
			zap.String("reason", reason))
		return
	}

	order := e.buildOrder(ctx, signal, mctx)
	if order == nil {
		return
	}

	if rej := e.risk.Authorize(ctx, order, mctx); rej != nil {
		if e.metrics != nil {
			e.metrics.OrdersRejected.WithLabelValues(rej.Reason).Inc()
		}
		return
	}

	if _, err := e.orders.Submit(ctx, order); err != nil {
		if rej, ok := domain.IsPolicyRejection(err); ok {
			if e.metrics != nil {
				e.metrics.OrdersRejected.WithLabelValues(rej.Reason).Inc()
			}
			return
		}
		e.logger.Error("order submit failed",
			zap.String("symbol", order.Symbol),
			zap.Error(err))
		return
	}
	if e.metrics != nil {
		e.metrics.OrdersSubmitted.Inc()
	}
}

// buildOrder prices the stop and target through the context and sizes the
// position so one stop-out risks RiskPerTradePct of the account, scaled
// down by the regime's position scalar.
func (e *Engine) buildOrder(ctx context.Context, signal *domain.Signal, mctx domain.MarketContext) *domain.Order {
	entry := signal.SuggestedEntry
	stop := mctx.StopPrice(entry, signal.ATR, signal.Direction)
	target := mctx.TargetPrice(entry, signal.ATR, signal.Direction)

	stopDist := entry - stop
	if signal.Direction == domain.SideSell {
		stopDist = stop - entry
	}
	if stopDist <= 0 {
		e.logger.Warn("degenerate stop distance, dropping signal",
			zap.String("symbol", signal.Symbol),
			zap.Float64("entry", entry),
			zap.Float64("stop", stop))
		return nil
	}

	balance, err := e.risk.currentBalance(ctx)
	if err != nil || balance <= 0 {
		e.logger.Warn("cannot size position without balance",
			zap.String("symbol", signal.Symbol),
			zap.Error(err))
		return nil
	}

	riskAmount := balance * e.cfg.RiskPerTradePct / 100
	size := riskAmount / stopDist * mctx.RiskParams.PositionSizeScalar
	if size <= 0 {
		return nil
	}

	return &domain.Order{
		ID:          NewOrderID(),
		Strategy:    signal.Strategy,
		Symbol:      signal.Symbol,
		Side:        signal.Direction,
		Size:        size,
		EntryPrice:  entry,
		StopPrice:   stop,
		TargetPrice: target,
		State:       domain.OrderCreated,
	}
}

// consumeOutcomes journals every terminal order and keeps the risk budget
// current. Runs until the outcome stream's producer context ends.
func (e *Engine) consumeOutcomes(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case outcome := <-e.orders.Outcomes():
			e.recordOutcome(ctx, outcome)
		}
	}
}

func (e *Engine) recordOutcome(ctx context.Context, outcome domain.OrderOutcome) {
	if e.metrics != nil {
		e.metrics.OrderOutcomes.WithLabelValues(string(outcome.State)).Inc()
	}

	if outcome.State == domain.OrderFilled {
		e.risk.RecordFill(&domain.Order{
			Symbol:     outcome.Symbol,
			Side:       outcome.Side,
			Size:       outcome.Size,
			EntryPrice: outcome.Price,
		})
	}

	rec := &domain.TradeRecord{
		OrderID:   outcome.OrderID,
		Symbol:    outcome.Symbol,
		Side:      outcome.Side,
		Size:      outcome.Size,
		Price:     outcome.Price,
		State:     outcome.State,
		Reason:    outcome.Reason,
		CreatedAt: outcome.At,
	}
	if err := e.repo.SaveTrade(ctx, rec); err != nil {
		e.logger.Error("failed to journal trade outcome",
			zap.String("order_id", outcome.OrderID),
			zap.Error(err))
	}
}

// EmergencyStop halts admission everywhere and drains the dispatch queues.
func (e *Engine) EmergencyStop() {
	e.risk.SetEmergencyStop(true)
	e.orders.EmergencyStop()
}

// Resume lifts an emergency stop across all components.
func (e *Engine) Resume() {
	e.orders.Resume()
	e.risk.SetEmergencyStop(false)
}
