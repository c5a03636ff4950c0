package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trend_engine/internal/domain"
)

// RiskConfig is the account-level guardrail set. Zero values fall back to
// the defaults below.
type RiskConfig struct {
	MaxDailyTrades      int     `yaml:"max_daily_trades"`
	MaxDailyLossPct     float64 `yaml:"max_daily_loss_pct"` // percent of balance
	MaxOpenPositions    int     `yaml:"max_open_positions"`
	MaxPositionNotional float64 `yaml:"max_position_notional"`
	MinRiskReward       float64 `yaml:"min_risk_reward"`
	MaxGroupExposure    float64 `yaml:"max_group_exposure"` // net notional per correlation group
	CriticalConfidence  float64 `yaml:"critical_confidence"`

	// CorrelationGroups maps symbol -> group label. Symbols missing from
	// the map share the "default" group.
	CorrelationGroups map[string]string `yaml:"correlation_groups"`
}

func (c *RiskConfig) applyDefaults() {
	if c.MaxDailyTrades <= 0 {
		c.MaxDailyTrades = 10
	}
	if c.MaxDailyLossPct <= 0 {
		c.MaxDailyLossPct = 3.0
	}
	if c.MaxOpenPositions <= 0 {
		c.MaxOpenPositions = 3
	}
	if c.MaxPositionNotional <= 0 {
		c.MaxPositionNotional = 10000
	}
	if c.MinRiskReward <= 0 {
		c.MinRiskReward = 1.5
	}
	if c.MaxGroupExposure <= 0 {
		c.MaxGroupExposure = 20000
	}
	if c.CriticalConfidence <= 0 {
		c.CriticalConfidence = 0.15
	}
}

// RiskManager is the final veto before an order reaches the dispatch
// queue. It owns the daily risk budget (single writer) and re-derives it
// from the trade journal on startup, so a restart cannot reset the caps.
type RiskManager struct {
	cfg      RiskConfig
	repo     domain.TradeRepository
	exchange domain.Exchange
	limiter  *RateLimiter
	notifier domain.Notifier
	logger   *zap.Logger

	mu     sync.Mutex
	budget domain.RiskBudget

	// blocklist is a copy-on-write map so Authorize reads it without
	// taking the budget lock.
	blocklist atomic.Value // map[string]bool

	emergency atomic.Bool

	balanceMu    sync.Mutex
	balance      float64
	balanceAt    time.Time
	balanceTTL   time.Duration

	now func() time.Time
}

func NewRiskManager(cfg RiskConfig, repo domain.TradeRepository, exchange domain.Exchange, limiter *RateLimiter, notifier domain.Notifier, logger *zap.Logger) *RiskManager {
	cfg.applyDefaults()
	m := &RiskManager{
		cfg:        cfg,
		repo:       repo,
		exchange:   exchange,
		limiter:    limiter,
		notifier:   notifier,
		logger:     logger,
		balanceTTL: time.Minute,
		now:        time.Now,
	}
	m.budget = domain.RiskBudget{
		Day:               utcDay(m.now()),
		PerSymbolExposure: make(map[string]float64),
	}
	m.blocklist.Store(map[string]bool{})
	return m
}

// Recover rebuilds today's trade count and realized loss from the journal.
// Called once at startup before the trading loops start.
func (m *RiskManager) Recover(ctx context.Context) error {
	day := utcDay(m.now())
	trades, loss, err := m.repo.DailyStats(ctx, day)
	if err != nil {
		return fmt.Errorf("recover risk budget: %w", err)
	}
	m.mu.Lock()
	m.budget.Day = day
	m.budget.DailyTradeCount = trades
	m.budget.DailyRealizedLoss = loss
	m.mu.Unlock()
	m.logger.Info("risk budget recovered",
		zap.Int("daily_trades", trades),
		zap.Float64("daily_realized_loss", loss))
	return nil
}

// Authorize runs the guardrail checks in severity order and returns the
// first rejection. The checks short-circuit: a blocked strategy never
// consumes a balance lookup.
func (m *RiskManager) Authorize(ctx context.Context, order *domain.Order, mctx domain.MarketContext) *domain.PolicyRejection {
	if m.emergency.Load() {
		return m.reject(order.Symbol, domain.ReasonEmergencyStop, "all trading halted")
	}

	if m.blocked(order.Strategy) {
		return m.reject(order.Symbol, domain.ReasonStrategyBlocked, fmt.Sprintf("strategy %q is blocked", order.Strategy))
	}

	m.mu.Lock()
	m.rolloverLocked()
	budget := m.snapshotLocked()
	m.mu.Unlock()

	if budget.DailyTradeCount >= m.cfg.MaxDailyTrades {
		return m.reject(order.Symbol, domain.ReasonDailyTradeCap,
			fmt.Sprintf("%d trades today (limit %d)", budget.DailyTradeCount, m.cfg.MaxDailyTrades))
	}

	if balance, err := m.currentBalance(ctx); err == nil && balance > 0 {
		lossCap := balance * m.cfg.MaxDailyLossPct / 100
		if budget.DailyRealizedLoss >= lossCap {
			return m.reject(order.Symbol, domain.ReasonDailyLossCap,
				fmt.Sprintf("realized loss %.2f >= cap %.2f (%.1f%% of %.2f)",
					budget.DailyRealizedLoss, lossCap, m.cfg.MaxDailyLossPct, balance))
		}
	} else if err != nil {
		// Without a balance the loss cap cannot be evaluated; fail closed
		// only if losses already exceed the cap against the last known
		// balance, otherwise log and continue.
		m.logger.Warn("balance unavailable for loss cap check", zap.Error(err))
	}

	if budget.OpenPositionCount >= m.cfg.MaxOpenPositions {
		return m.reject(order.Symbol, domain.ReasonOpenPositionCap,
			fmt.Sprintf("%d open positions (limit %d)", budget.OpenPositionCount, m.cfg.MaxOpenPositions))
	}

	if notional := order.Notional(); notional > m.cfg.MaxPositionNotional {
		return m.reject(order.Symbol, domain.ReasonNotionalCap,
			fmt.Sprintf("notional %.2f > cap %.2f", notional, m.cfg.MaxPositionNotional))
	}

	if rr := order.RiskReward(); rr < m.cfg.MinRiskReward {
		return m.reject(order.Symbol, domain.ReasonRiskRewardFloor,
			fmt.Sprintf("R:R %.2f < floor %.2f", rr, m.cfg.MinRiskReward))
	}

	if rej := m.correlationCheck(order, budget); rej != nil {
		return rej
	}

	if mctx.RiskParams.Confidence < m.cfg.CriticalConfidence {
		return m.reject(order.Symbol, domain.ReasonCriticalConfidence,
			fmt.Sprintf("confidence %.2f < critical %.2f", mctx.RiskParams.Confidence, m.cfg.CriticalConfidence))
	}

	if mctx.Blackout {
		return m.reject(order.Symbol, domain.ReasonUnsafeTradingTime, mctx.BlackoutReason)
	}

	return nil
}

// correlationCheck caps the net exposure of the order's correlation group,
// so three positively correlated longs cannot triple the intended risk.
func (m *RiskManager) correlationCheck(order *domain.Order, budget domain.RiskBudget) *domain.PolicyRejection {
	group := m.groupOf(order.Symbol)
	var net float64
	for symbol, exposure := range budget.PerSymbolExposure {
		if m.groupOf(symbol) == group {
			net += exposure
		}
	}
	delta := order.Notional()
	if order.Side == domain.SideSell {
		delta = -delta
	}
	if projected := net + delta; projected > m.cfg.MaxGroupExposure || projected < -m.cfg.MaxGroupExposure {
		return m.reject(order.Symbol, domain.ReasonCorrelationCap,
			fmt.Sprintf("group %q net exposure %.2f would exceed %.2f", group, projected, m.cfg.MaxGroupExposure))
	}
	return nil
}

func (m *RiskManager) groupOf(symbol string) string {
	if g, ok := m.cfg.CorrelationGroups[symbol]; ok {
		return g
	}
	return "default"
}

// RecordFill charges a filled order against the daily budget.
func (m *RiskManager) RecordFill(order *domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	m.budget.DailyTradeCount++
	m.budget.OpenPositionCount++
	delta := order.Notional()
	if order.Side == domain.SideSell {
		delta = -delta
	}
	m.budget.PerSymbolExposure[order.Symbol] += delta
}

// RecordClose settles a closed position: exposure is released and losses
// accumulate toward the daily loss cap.
func (m *RiskManager) RecordClose(symbol string, realizedPnL float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	if m.budget.OpenPositionCount > 0 {
		m.budget.OpenPositionCount--
	}
	delete(m.budget.PerSymbolExposure, symbol)
	if realizedPnL < 0 {
		m.budget.DailyRealizedLoss += -realizedPnL
	}
}

// BlockStrategy adds a strategy to the blocklist. Copy-on-write so the hot
// path in Authorize stays lock-free.
func (m *RiskManager) BlockStrategy(name string) {
	m.mutateBlocklist(func(bl map[string]bool) { bl[name] = true })
	m.logger.Warn("strategy blocked", zap.String("strategy", name))
}

func (m *RiskManager) UnblockStrategy(name string) {
	m.mutateBlocklist(func(bl map[string]bool) { delete(bl, name) })
	m.logger.Info("strategy unblocked", zap.String("strategy", name))
}

func (m *RiskManager) mutateBlocklist(mutate func(map[string]bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.blocklist.Load().(map[string]bool)
	next := make(map[string]bool, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	mutate(next)
	m.blocklist.Store(next)
}

func (m *RiskManager) blocked(strategy string) bool {
	return m.blocklist.Load().(map[string]bool)[strategy]
}

func (m *RiskManager) SetEmergencyStop(on bool) { m.emergency.Store(on) }
func (m *RiskManager) EmergencyStopped() bool   { return m.emergency.Load() }

// Budget returns a snapshot copy for the status endpoint.
func (m *RiskManager) Budget() domain.RiskBudget {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()
	return m.snapshotLocked()
}

// rolloverLocked resets the daily counters on the UTC day boundary. Open
// positions and their exposure survive the rollover.
func (m *RiskManager) rolloverLocked() {
	day := utcDay(m.now())
	if day.Equal(m.budget.Day) {
		return
	}
	m.logger.Info("risk budget rollover",
		zap.Time("from", m.budget.Day),
		zap.Time("to", day))
	m.budget.Day = day
	m.budget.DailyTradeCount = 0
	m.budget.DailyRealizedLoss = 0
}

func (m *RiskManager) snapshotLocked() domain.RiskBudget {
	out := m.budget
	out.PerSymbolExposure = make(map[string]float64, len(m.budget.PerSymbolExposure))
	for k, v := range m.budget.PerSymbolExposure {
		out.PerSymbolExposure[k] = v
	}
	return out
}

// reject logs the veto and emits it as an event, so an operator-facing
// notifier sees why the system stopped trading.
func (m *RiskManager) reject(symbol, reason, detail string) *domain.PolicyRejection {
	m.logger.Info("risk rejection",
		zap.String("symbol", symbol),
		zap.String("reason", reason),
		zap.String("detail", detail))
	if m.notifier != nil {
		m.notifier.Notify(domain.Event{
			Level:    "warn",
			Category: "risk",
			Symbol:   symbol,
			Message:  "order rejected: " + reason,
			Context:  map[string]any{"reason": reason, "detail": detail},
		})
	}
	return &domain.PolicyRejection{Source: "risk_manager", Reason: reason, Detail: detail}
}

// currentBalance caches the exchange balance for a minute so the loss-cap
// check does not burn the balance_query budget on every signal.
func (m *RiskManager) currentBalance(ctx context.Context) (float64, error) {
	m.balanceMu.Lock()
	defer m.balanceMu.Unlock()

	if !m.balanceAt.IsZero() && m.now().Sub(m.balanceAt) < m.balanceTTL {
		return m.balance, nil
	}
	if rej := m.limiter.TryAcquire(ClassBalanceQuery); rej != nil {
		if m.balance > 0 {
			return m.balance, nil
		}
		return 0, rej
	}
	balance, err := m.exchange.GetBalance(ctx)
	if err != nil {
		if m.balance > 0 {
			return m.balance, nil
		}
		return 0, err
	}
	m.balance = balance
	m.balanceAt = m.now()
	return balance, nil
}

func utcDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
