package domain

import "time"

type OrderState string

const (
	OrderCreated        OrderState = "CREATED"
	OrderQueued         OrderState = "QUEUED"
	OrderSubmitting     OrderState = "SUBMITTING"
	OrderFilled         OrderState = "FILLED"
	OrderRejected       OrderState = "REJECTED"
	OrderFailedRetry    OrderState = "FAILED_RETRYABLE"
	OrderFailedTerminal OrderState = "FAILED_TERMINAL"
	OrderCancelled      OrderState = "CANCELLED"
)

// Terminal reports whether the state is final. Terminal states are never
// left once entered.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderFilled, OrderRejected, OrderFailedTerminal, OrderCancelled:
		return true
	}
	return false
}

// Order is owned exclusively by the OrderManager while in flight: only the
// per-symbol dispatch worker mutates State and Attempts.
type Order struct {
	ID          string // client-generated idempotency key
	Strategy    string
	Symbol      string
	Side        Side
	Size        float64
	EntryPrice  float64
	StopPrice   float64
	TargetPrice float64
	State       OrderState
	Attempts    int
	CreatedAt   time.Time
}

// RiskReward returns the reward/risk ratio implied by the order's prices,
// or 0 when the stop distance is degenerate.
func (o *Order) RiskReward() float64 {
	var risk, reward float64
	if o.Side == SideBuy {
		risk = o.EntryPrice - o.StopPrice
		reward = o.TargetPrice - o.EntryPrice
	} else {
		risk = o.StopPrice - o.EntryPrice
		reward = o.EntryPrice - o.TargetPrice
	}
	if risk <= 0 {
		return 0
	}
	return reward / risk
}

// Notional returns the order's gross value at entry.
func (o *Order) Notional() float64 {
	return o.Size * o.EntryPrice
}

// OrderOutcome is emitted exactly once per terminal state transition.
type OrderOutcome struct {
	OrderID  string
	Symbol   string
	Side     Side
	Size     float64
	Price    float64
	State    OrderState
	Reason   string
	Attempts int
	At       time.Time
}

// Position represents an open position on the exchange.
type Position struct {
	Symbol        string
	Side          Side
	Size          float64
	EntryPrice    float64
	CurrentPrice  float64
	UnrealizedPnL float64
	Leverage      int
}
