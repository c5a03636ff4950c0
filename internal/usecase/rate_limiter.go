package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/crypto_trend_engine/internal/domain"
)

// RequestClass buckets exchange calls so each endpoint family gets its own
// budget in addition to the shared global one.
type RequestClass string

const (
	ClassOrderCreate   RequestClass = "order_create"
	ClassOrderCancel   RequestClass = "order_cancel"
	ClassPositionQuery RequestClass = "position_query"
	ClassBalanceQuery  RequestClass = "balance_query"
	ClassMarketData    RequestClass = "market_data"
)

type limitRule struct {
	PerMinute int
	PerSecond int
	Burst     int // extra headroom within one second; 0 means none
}

var defaultLimits = map[RequestClass]limitRule{
	ClassOrderCreate:   {PerMinute: 20, PerSecond: 1, Burst: 3},
	ClassOrderCancel:   {PerMinute: 30, PerSecond: 2, Burst: 5},
	ClassPositionQuery: {PerMinute: 60, PerSecond: 5},
	ClassBalanceQuery:  {PerMinute: 30, PerSecond: 3},
	ClassMarketData:    {PerMinute: 120, PerSecond: 10},
}

var globalLimit = limitRule{PerMinute: 200, PerSecond: 20}

// RateLimiter enforces per-class and global sliding-window budgets on
// outbound exchange calls. The inter-request delay adapts to connection
// health so a struggling exchange sees less pressure, not more.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[RequestClass]limitRule
	history map[RequestClass][]time.Time
	global  []time.Time

	delayMultiplier float64
	emergencyStop   bool

	now func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		limits:          defaultLimits,
		history:         make(map[RequestClass][]time.Time),
		delayMultiplier: 1.0,
		now:             time.Now,
	}
}

// TryAcquire admits one request of the given class, or returns the policy
// rejection explaining which budget is exhausted. During an emergency stop
// only cancels are admitted, so open positions can still be flattened.
func (l *RateLimiter) TryAcquire(class RequestClass) *domain.PolicyRejection {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.emergencyStop && class != ClassOrderCancel {
		return &domain.PolicyRejection{
			Source: "rate_limiter",
			Reason: domain.ReasonEmergencyStop,
			Detail: fmt.Sprintf("class %s blocked during emergency stop", class),
		}
	}

	rule, ok := l.limits[class]
	if !ok {
		rule = globalLimit
	}
	now := l.now()

	l.history[class] = prune(l.history[class], now)
	l.global = prune(l.global, now)

	if rej := checkWindow(l.history[class], now, rule, string(class)); rej != nil {
		return rej
	}
	if rej := checkWindow(l.global, now, globalLimit, "global"); rej != nil {
		return rej
	}

	l.history[class] = append(l.history[class], now)
	l.global = append(l.global, now)
	return nil
}

// Acquire blocks until a slot for the class opens up, sleeping the adaptive
// delay between attempts. Returns the context error if cancelled first.
func (l *RateLimiter) Acquire(ctx context.Context, class RequestClass) error {
	for {
		if rej := l.TryAcquire(class); rej == nil {
			return nil
		} else if rej.Reason == domain.ReasonEmergencyStop {
			return rej
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.Delay(class)):
		}
	}
}

// Delay is the recommended spacing between requests of the class, scaled
// by the current health multiplier.
func (l *RateLimiter) Delay(class RequestClass) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	rule, ok := l.limits[class]
	if !ok {
		rule = globalLimit
	}
	base := time.Second
	if rule.PerSecond > 0 {
		base = time.Second / time.Duration(rule.PerSecond)
	}
	return time.Duration(float64(base) * l.delayMultiplier)
}

// ObserveHealth widens the inter-request delay when the connection is
// struggling. Recovery is gradual: each healthy observation relaxes the
// multiplier by 10% back toward 1.
func (l *RateLimiter) ObserveHealth(state domain.ConnectionState) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch state {
	case domain.ConnDegraded:
		if l.delayMultiplier < 2.0 {
			l.delayMultiplier = 2.0
		}
	case domain.ConnUnstable, domain.ConnFailed:
		if l.delayMultiplier < 3.0 {
			l.delayMultiplier = 3.0
		}
	case domain.ConnHealthy:
		l.delayMultiplier *= 0.9
		if l.delayMultiplier < 1.0 {
			l.delayMultiplier = 1.0
		}
	}
}

func (l *RateLimiter) SetEmergencyStop(on bool) {
	l.mu.Lock()
	l.emergencyStop = on
	l.mu.Unlock()
}

func (l *RateLimiter) EmergencyStop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.emergencyStop
}

// Usage reports per-class counts over the last minute for the status
// endpoint.
func (l *RateLimiter) Usage() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	out := make(map[string]int, len(l.history)+1)
	for class, stamps := range l.history {
		out[string(class)] = len(prune(stamps, now))
	}
	out["global"] = len(prune(l.global, now))
	return out
}

func checkWindow(stamps []time.Time, now time.Time, rule limitRule, label string) *domain.PolicyRejection {
	if len(stamps) >= rule.PerMinute {
		return &domain.PolicyRejection{
			Source: "rate_limiter",
			Reason: domain.ReasonRateLimited,
			Detail: fmt.Sprintf("%s: %d requests in last minute (limit %d)", label, len(stamps), rule.PerMinute),
		}
	}
	secondCap := rule.PerSecond
	if rule.Burst > secondCap {
		secondCap = rule.Burst
	}
	var lastSecond int
	cutoff := now.Add(-time.Second)
	for i := len(stamps) - 1; i >= 0; i-- {
		if stamps[i].Before(cutoff) {
			break
		}
		lastSecond++
	}
	if lastSecond >= secondCap {
		return &domain.PolicyRejection{
			Source: "rate_limiter",
			Reason: domain.ReasonRateLimited,
			Detail: fmt.Sprintf("%s: %d requests in last second (cap %d)", label, lastSecond, secondCap),
		}
	}
	return nil
}

// prune drops timestamps older than the one-minute window.
func prune(stamps []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-time.Minute)
	idx := 0
	for idx < len(stamps) && stamps[idx].Before(cutoff) {
		idx++
	}
	return stamps[idx:]
}
