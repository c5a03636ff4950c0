package usecase

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trend_engine/internal/domain"
)

type mockTradeRepo struct {
	saved     []*domain.TradeRecord
	dayTrades int
	dayLoss   float64
	statsErr  error
}

func (m *mockTradeRepo) SaveTrade(ctx context.Context, rec *domain.TradeRecord) error {
	m.saved = append(m.saved, rec)
	return nil
}

func (m *mockTradeRepo) ListTrades(ctx context.Context, limit int) ([]*domain.TradeRecord, error) {
	return m.saved, nil
}

func (m *mockTradeRepo) DailyStats(ctx context.Context, day time.Time) (int, float64, error) {
	return m.dayTrades, m.dayLoss, m.statsErr
}

func newTestRiskManager(cfg RiskConfig, repo *mockTradeRepo, ex *mockExchange) (*RiskManager, *testClock) {
	clock := &testClock{now: time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC)}
	m := NewRiskManager(cfg, repo, ex, NewRateLimiter(), nil, zap.NewNop())
	m.now = clock.Now
	m.budget.Day = utcDay(clock.Now())
	return m, clock
}

func healthyContext() domain.MarketContext {
	return domain.MarketContext{
		RiskParams: domain.RiskParams{Confidence: 0.8},
	}
}

func TestAuthorizeAcceptsCleanOrder(t *testing.T) {
	m, _ := newTestRiskManager(RiskConfig{}, &mockTradeRepo{}, &mockExchange{Balance: 10000})

	if rej := m.Authorize(context.Background(), testOrder("ok-1"), healthyContext()); rej != nil {
		t.Fatalf("clean order rejected: %v", rej)
	}
}

func TestAuthorizeDailyLossCap(t *testing.T) {
	// 5.1% realized loss against a 5% cap on a 10k account.
	repo := &mockTradeRepo{dayTrades: 2, dayLoss: 510}
	m, _ := newTestRiskManager(RiskConfig{MaxDailyLossPct: 5}, repo, &mockExchange{Balance: 10000})

	if err := m.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}

	rej := m.Authorize(context.Background(), testOrder("loss-1"), healthyContext())
	if rej == nil || rej.Reason != domain.ReasonDailyLossCap {
		t.Fatalf("want daily loss cap rejection, got %v", rej)
	}
}

func TestAuthorizeDailyTradeCap(t *testing.T) {
	m, _ := newTestRiskManager(RiskConfig{MaxDailyTrades: 2}, &mockTradeRepo{}, &mockExchange{Balance: 10000})

	m.RecordFill(testOrder("f-1"))
	m.RecordFill(testOrder("f-2"))

	rej := m.Authorize(context.Background(), testOrder("cap-1"), healthyContext())
	if rej == nil || rej.Reason != domain.ReasonDailyTradeCap {
		t.Fatalf("want trade cap rejection, got %v", rej)
	}
}

func TestAuthorizeCheckOrderShortCircuits(t *testing.T) {
	m, _ := newTestRiskManager(RiskConfig{}, &mockTradeRepo{}, &mockExchange{Balance: 10000})
	m.BlockStrategy("trend_cross")
	m.SetEmergencyStop(true)

	// Emergency outranks the blocked strategy.
	rej := m.Authorize(context.Background(), testOrder("sc-1"), healthyContext())
	if rej == nil || rej.Reason != domain.ReasonEmergencyStop {
		t.Fatalf("want emergency first, got %v", rej)
	}

	m.SetEmergencyStop(false)
	rej = m.Authorize(context.Background(), testOrder("sc-2"), healthyContext())
	if rej == nil || rej.Reason != domain.ReasonStrategyBlocked {
		t.Fatalf("want strategy block next, got %v", rej)
	}

	m.UnblockStrategy("trend_cross")
	if rej := m.Authorize(context.Background(), testOrder("sc-3"), healthyContext()); rej != nil {
		t.Fatalf("unblocked strategy rejected: %v", rej)
	}
}

func TestAuthorizeRiskRewardFloor(t *testing.T) {
	m, _ := newTestRiskManager(RiskConfig{MinRiskReward: 2.0}, &mockTradeRepo{}, &mockExchange{Balance: 10000})

	order := testOrder("rr-1")
	order.TargetPrice = 50500 // R:R ≈ 0.93 over the 540 stop distance

	rej := m.Authorize(context.Background(), order, healthyContext())
	if rej == nil || rej.Reason != domain.ReasonRiskRewardFloor {
		t.Fatalf("want R:R floor rejection, got %v", rej)
	}
}

func TestAuthorizeNotionalCap(t *testing.T) {
	m, _ := newTestRiskManager(RiskConfig{MaxPositionNotional: 1000}, &mockTradeRepo{}, &mockExchange{Balance: 10000})

	order := testOrder("nc-1") // 0.1 * 50000 = 5000 notional
	rej := m.Authorize(context.Background(), order, healthyContext())
	if rej == nil || rej.Reason != domain.ReasonNotionalCap {
		t.Fatalf("want notional cap rejection, got %v", rej)
	}
}

func TestAuthorizeCorrelationExposure(t *testing.T) {
	cfg := RiskConfig{
		MaxGroupExposure:  8000,
		CorrelationGroups: map[string]string{"BTCUSDT": "majors", "ETHUSDT": "majors"},
	}
	m, _ := newTestRiskManager(cfg, &mockTradeRepo{}, &mockExchange{Balance: 100000})

	eth := testOrder("corr-0")
	eth.Symbol = "ETHUSDT"
	m.RecordFill(eth) // +5000 majors exposure

	rej := m.Authorize(context.Background(), testOrder("corr-1"), healthyContext())
	if rej == nil || rej.Reason != domain.ReasonCorrelationCap {
		t.Fatalf("want correlation cap rejection, got %v", rej)
	}

	// An offsetting short reduces net exposure and passes.
	short := testOrder("corr-2")
	short.Side = domain.SideSell
	short.StopPrice = 50540
	short.TargetPrice = 48650
	if rej := m.Authorize(context.Background(), short, healthyContext()); rej != nil {
		t.Fatalf("offsetting short rejected: %v", rej)
	}
}

func TestAuthorizeCriticalConfidenceAndBlackout(t *testing.T) {
	m, _ := newTestRiskManager(RiskConfig{}, &mockTradeRepo{}, &mockExchange{Balance: 10000})

	low := healthyContext()
	low.RiskParams.Confidence = 0.05
	rej := m.Authorize(context.Background(), testOrder("cc-1"), low)
	if rej == nil || rej.Reason != domain.ReasonCriticalConfidence {
		t.Fatalf("want critical confidence rejection, got %v", rej)
	}

	blackout := healthyContext()
	blackout.Blackout = true
	blackout.BlackoutReason = "weekend_low_liquidity"
	rej = m.Authorize(context.Background(), testOrder("cc-2"), blackout)
	if rej == nil || rej.Reason != domain.ReasonUnsafeTradingTime {
		t.Fatalf("want unsafe time rejection, got %v", rej)
	}
}

func TestBudgetRollsOverAtUTCMidnight(t *testing.T) {
	m, clock := newTestRiskManager(RiskConfig{MaxDailyTrades: 2}, &mockTradeRepo{}, &mockExchange{Balance: 10000})

	m.RecordFill(testOrder("d1-1"))
	m.RecordFill(testOrder("d1-2"))
	m.RecordClose("BTCUSDT", -100)

	budget := m.Budget()
	if budget.DailyTradeCount != 2 || budget.DailyRealizedLoss != 100 {
		t.Fatalf("day one budget: %+v", budget)
	}

	clock.Advance(24 * time.Hour)
	budget = m.Budget()
	if budget.DailyTradeCount != 0 || budget.DailyRealizedLoss != 0 {
		t.Errorf("counters must reset at rollover: %+v", budget)
	}
	// Open positions survive the day boundary.
	if budget.OpenPositionCount != 1 {
		t.Errorf("open positions = %d, want 1 surviving rollover", budget.OpenPositionCount)
	}
}

func TestAuthorizeRejectionNotifiesOperator(t *testing.T) {
	m, _ := newTestRiskManager(RiskConfig{MaxDailyTrades: 1}, &mockTradeRepo{}, &mockExchange{Balance: 10000})
	notifier := &captureNotifier{}
	m.notifier = notifier

	m.RecordFill(testOrder("nf-0"))
	rej := m.Authorize(context.Background(), testOrder("nf-1"), healthyContext())
	if rej == nil || rej.Reason != domain.ReasonDailyTradeCap {
		t.Fatalf("want trade cap rejection, got %v", rej)
	}

	events := notifier.byCategory("risk")
	if len(events) != 1 {
		t.Fatalf("risk events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Level != "warn" {
		t.Errorf("event level = %q, want warn", ev.Level)
	}
	if ev.Symbol != "BTCUSDT" {
		t.Errorf("event symbol = %q, want BTCUSDT", ev.Symbol)
	}
	if got, _ := ev.Context["reason"].(string); got != domain.ReasonDailyTradeCap {
		t.Errorf("event reason = %q, want %q", got, domain.ReasonDailyTradeCap)
	}
}

func TestRecordCloseReleasesExposure(t *testing.T) {
	m, _ := newTestRiskManager(RiskConfig{}, &mockTradeRepo{}, &mockExchange{Balance: 10000})

	m.RecordFill(testOrder("x-1"))
	if exp := m.Budget().PerSymbolExposure["BTCUSDT"]; exp != 5000 {
		t.Fatalf("exposure = %v, want 5000", exp)
	}

	m.RecordClose("BTCUSDT", 250)
	budget := m.Budget()
	if _, ok := budget.PerSymbolExposure["BTCUSDT"]; ok {
		t.Error("closed symbol exposure must be released")
	}
	if budget.DailyRealizedLoss != 0 {
		t.Errorf("profit must not count toward losses, got %v", budget.DailyRealizedLoss)
	}
}
