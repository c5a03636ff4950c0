package tests

import (
	"context"
	"sync"
	"time"

	"github.com/vitos/crypto_trend_engine/internal/domain"
)

// MockExchange is a thread-safe in-memory exchange double. Setting
// CreateGate makes CreateOrder block until the gate is closed, which lets
// a test hold a dispatch worker in flight while more orders queue up
// behind it.
type MockExchange struct {
	mu          sync.Mutex
	Balance     float64
	Position    *domain.Position
	Candles     []domain.Candle
	CreateErr   error
	CreateGate  chan struct{}
	createCalls []string
}

func (m *MockExchange) CreateOrder(ctx context.Context, order *domain.Order) (*domain.OrderResult, error) {
	m.mu.Lock()
	gate := m.CreateGate
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls = append(m.createCalls, order.ID)
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	return &domain.OrderResult{OrderID: "ex-" + order.ID, Latency: 50 * time.Millisecond}, nil
}

func (m *MockExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return nil
}

func (m *MockExchange) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Position != nil && m.Position.Symbol == symbol {
		return m.Position, nil
	}
	return &domain.Position{Symbol: symbol}, nil
}

func (m *MockExchange) GetBalance(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Balance, nil
}

func (m *MockExchange) GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Candles, nil
}

func (m *MockExchange) Ping(ctx context.Context) (time.Duration, error) {
	return 20 * time.Millisecond, nil
}

// CreateCalls returns the order IDs that reached the exchange.
func (m *MockExchange) CreateCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.createCalls))
	copy(out, m.createCalls)
	return out
}

func newOrder(id, symbol string, side domain.Side) *domain.Order {
	entry := 50000.0
	stop := 49460.0
	target := 51350.0
	if side == domain.SideSell {
		stop = 50540
		target = 48650
	}
	return &domain.Order{
		ID:          id,
		Strategy:    "trend_cross",
		Symbol:      symbol,
		Side:        side,
		Size:        0.1,
		EntryPrice:  entry,
		StopPrice:   stop,
		TargetPrice: target,
	}
}
