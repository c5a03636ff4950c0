package domain

import "time"

type ConnectionState string

const (
	ConnHealthy  ConnectionState = "HEALTHY"
	ConnDegraded ConnectionState = "DEGRADED"
	ConnUnstable ConnectionState = "UNSTABLE"
	ConnFailed   ConnectionState = "FAILED"
)

// ConnectionHealth is a snapshot of the exchange link. Written only by the
// circuit breaker's heartbeat task; everyone else reads copies.
type ConnectionHealth struct {
	State               ConnectionState `json:"state"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	LastLatency         time.Duration   `json:"last_latency"`
	LastSuccessAt       time.Time       `json:"last_success_at"`
}

// RiskBudget tracks the account-level counters enforced by the RiskManager.
// Single writer (the RiskManager); reset on the UTC day boundary.
type RiskBudget struct {
	Day               time.Time          `json:"day"`
	DailyTradeCount   int                `json:"daily_trade_count"`
	DailyRealizedLoss float64            `json:"daily_realized_loss"`
	OpenPositionCount int                `json:"open_position_count"`
	PerSymbolExposure map[string]float64 `json:"per_symbol_exposure"` // signed notional, + long / - short
}
