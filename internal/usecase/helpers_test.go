package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/vitos/crypto_trend_engine/internal/domain"
)

// mockExchange is a configurable in-package stub of domain.Exchange.
type mockExchange struct {
	mu sync.Mutex

	CreateErrs  []error // consumed per call; nil entry means success
	CreateCalls int
	Latency     time.Duration

	CancelCalls int
	CancelErr   error

	Pos    *domain.Position
	PosErr error

	Balance    float64
	BalanceErr error

	Candles  []domain.Candle
	OHLCVErr error

	PingLatency time.Duration
	PingErr     error
}

func (m *mockExchange) CreateOrder(ctx context.Context, order *domain.Order) (*domain.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := m.CreateCalls
	m.CreateCalls++
	if call < len(m.CreateErrs) && m.CreateErrs[call] != nil {
		return nil, m.CreateErrs[call]
	}
	return &domain.OrderResult{OrderID: "ex-" + order.ID, Latency: m.Latency}, nil
}

func (m *mockExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CancelCalls++
	return m.CancelErr
}

func (m *mockExchange) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PosErr != nil {
		return nil, m.PosErr
	}
	if m.Pos != nil {
		return m.Pos, nil
	}
	return &domain.Position{Symbol: symbol}, nil
}

func (m *mockExchange) GetBalance(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Balance, m.BalanceErr
}

func (m *mockExchange) GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Candles, m.OHLCVErr
}

func (m *mockExchange) Ping(ctx context.Context) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PingLatency, m.PingErr
}

func (m *mockExchange) createCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CreateCalls
}

// captureNotifier records events for assertions.
type captureNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *captureNotifier) Notify(ev domain.Event) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

func (n *captureNotifier) byCategory(category string) []domain.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.Event
	for _, ev := range n.events {
		if ev.Category == category {
			out = append(out, ev)
		}
	}
	return out
}

// flatCandles builds n identical bars so regression and volatility inputs
// stay neutral.
func flatCandles(n int, price float64, startMs, stepMs int64) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		out[i] = domain.Candle{
			Time:   startMs + int64(i)*stepMs,
			Open:   price,
			High:   price,
			Low:    price,
			Close:  price,
			Volume: 100,
		}
	}
	return out
}

// trendCandles builds n bars climbing (or falling) by delta per bar.
func trendCandles(n int, start, delta float64, startMs, stepMs int64) []domain.Candle {
	out := make([]domain.Candle, n)
	price := start
	for i := range out {
		out[i] = domain.Candle{
			Time:   startMs + int64(i)*stepMs,
			Open:   price,
			High:   price + abs(delta),
			Low:    price - abs(delta),
			Close:  price + delta,
			Volume: 100,
		}
		price += delta
	}
	return out
}
