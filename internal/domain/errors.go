package domain

import (
	"errors"
	"fmt"
)

// Rejection reason codes. Every rejection surfaced by the core maps to
// exactly one of these, so callers can reconstruct why an order was blocked
// without reading debug logs.
const (
	ReasonEmergencyStop      = "emergency_stop"
	ReasonStrategyBlocked    = "strategy_blocked"
	ReasonDailyTradeCap      = "daily_trade_cap_exceeded"
	ReasonDailyLossCap       = "daily_loss_cap_exceeded"
	ReasonOpenPositionCap    = "open_position_cap_exceeded"
	ReasonNotionalCap        = "position_notional_cap_exceeded"
	ReasonRiskRewardFloor    = "risk_reward_below_floor"
	ReasonCorrelationCap     = "correlation_exposure_exceeded"
	ReasonCriticalConfidence = "critical_market_confidence"
	ReasonUnsafeTradingTime  = "unsafe_trading_time"
	ReasonRateLimited        = "rate_limited"
	ReasonBreakerOpen        = "circuit_breaker_open"
	ReasonConnectionFailed   = "connection_failed"
	ReasonPositionConflict   = "position_conflict"
	ReasonLowConfidence      = "low_confidence_regime"
	ReasonSessionBlackout    = "session_blackout"
)

// ValidationError marks malformed input. Never retried; the order never
// leaves CREATED.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// TransientError marks a timeout or network-level failure. Retried with
// backoff up to the configured budget; exhaustion converts it to a
// TerminalExchangeError.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// TerminalExchangeError marks a rejection by exchange business logic
// (insufficient balance, bad parameters). Never retried.
type TerminalExchangeError struct {
	Code string
	Msg  string
}

func (e *TerminalExchangeError) Error() string {
	return fmt.Sprintf("exchange rejected request (code %s): %s", e.Code, e.Msg)
}

// PolicyRejection is a veto by the RiskManager, RateLimiter or
// CircuitBreaker. Surfaced distinctly from exchange errors and never
// retried automatically.
type PolicyRejection struct {
	Source string // "risk_manager", "rate_limiter", "circuit_breaker", "order_manager"
	Reason string // one of the Reason* codes
	Detail string // actual values vs thresholds
}

func (e *PolicyRejection) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s rejected: %s", e.Source, e.Reason)
	}
	return fmt.Sprintf("%s rejected: %s (%s)", e.Source, e.Reason, e.Detail)
}

// DegradedContextError reports that market context computation failed and a
// conservative default was substituted. It is resolved at the engine
// boundary and must never propagate into order dispatch.
type DegradedContextError struct {
	Symbol string
	Err    error
}

func (e *DegradedContextError) Error() string {
	return fmt.Sprintf("market context degraded for %s: %v", e.Symbol, e.Err)
}

func (e *DegradedContextError) Unwrap() error { return e.Err }

// IsRetryable reports whether the error is a transient failure that the
// dispatch loop may retry.
func IsRetryable(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPolicyRejection extracts a policy veto from an error chain.
func IsPolicyRejection(err error) (*PolicyRejection, bool) {
	var pr *PolicyRejection
	if errors.As(err, &pr) {
		return pr, true
	}
	return nil, false
}
