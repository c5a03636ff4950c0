package domain

import (
	"context"
	"time"
)

// OrderResult is what the exchange collaborator reports for an accepted
// order: the exchange-side ID plus the round-trip latency used for health
// sampling. Retry/backoff policy lives in the core, not here.
type OrderResult struct {
	OrderID string
	Latency time.Duration
}

// Exchange defines the boundary with the exchange wire-protocol client.
type Exchange interface {
	CreateOrder(ctx context.Context, order *Order) (*OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetPosition(ctx context.Context, symbol string) (*Position, error)
	GetBalance(ctx context.Context) (float64, error)
	GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	// Ping measures round-trip latency to the exchange for heartbeat
	// sampling without touching any trading endpoint.
	Ping(ctx context.Context) (time.Duration, error)
}

// Event is a structured notification for order outcomes, risk rejections
// and health-state transitions. Delivery mechanism is out of scope.
type Event struct {
	Level    string         `json:"level"` // "info", "warn", "error"
	Category string         `json:"category"`
	Symbol   string         `json:"symbol,omitempty"`
	Message  string         `json:"message"`
	Context  map[string]any `json:"context,omitempty"`
}

type Notifier interface {
	Notify(ev Event)
}

// TradeRecord is one journal row per terminal order outcome. The daily
// risk budget is re-derivable from these rows after a restart.
type TradeRecord struct {
	OrderID     string
	Strategy    string
	Symbol      string
	Side        Side
	Size        float64
	Price       float64
	RealizedPnL float64
	State       OrderState
	Reason      string
	CreatedAt   time.Time
}

type TradeRepository interface {
	SaveTrade(ctx context.Context, rec *TradeRecord) error
	ListTrades(ctx context.Context, limit int) ([]*TradeRecord, error)

	// DailyStats returns the trade count and summed realized loss
	// (positive number) for the given UTC day.
	DailyStats(ctx context.Context, day time.Time) (trades int, realizedLoss float64, err error)
}

// SignalProducer is the closed interface strategy collaborators implement.
// The core depends only on this, never on strategy internals.
type SignalProducer interface {
	Name() string
	Produce(history []Candle, currentPrice float64) (*Signal, bool)
}
