package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trend_engine/internal/domain"
)

type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

type cachedCandles struct {
	candles  []domain.Candle
	storedAt time.Time
}

// CircuitBreaker guards the exchange connection. Five consecutive failures
// trip it OPEN; after the cooldown a single trial request decides between
// re-closing and another full cooldown. It also maintains the connection
// health snapshot from observed latencies and a last-known-good candle
// cache for read paths while the link is down.
type CircuitBreaker struct {
	exchange domain.Exchange
	limiter  *RateLimiter
	logger   *zap.Logger
	notifier domain.Notifier

	failureThreshold int
	cooldown         time.Duration
	candleTTL        time.Duration

	mu               sync.Mutex
	state            BreakerState
	openedAt         time.Time
	halfOpenInFlight bool
	health           domain.ConnectionHealth
	candles          map[string]cachedCandles

	now func() time.Time
}

func NewCircuitBreaker(exchange domain.Exchange, limiter *RateLimiter, notifier domain.Notifier, logger *zap.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		exchange:         exchange,
		limiter:          limiter,
		logger:           logger,
		notifier:         notifier,
		failureThreshold: 5,
		cooldown:         300 * time.Second,
		candleTTL:        5 * time.Minute,
		state:            BreakerClosed,
		health:           domain.ConnectionHealth{State: domain.ConnHealthy},
		candles:          make(map[string]cachedCandles),
		now:              time.Now,
	}
}

// Allow admits one exchange call, or rejects it while the breaker is open.
// In HALF_OPEN exactly one trial is admitted at a time.
func (b *CircuitBreaker) Allow() *domain.PolicyRejection {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return &domain.PolicyRejection{
				Source: "circuit_breaker",
				Reason: domain.ReasonBreakerOpen,
				Detail: fmt.Sprintf("cooling down, %s remaining", (b.cooldown - b.now().Sub(b.openedAt)).Round(time.Second)),
			}
		}
		b.transition(BreakerHalfOpen)
		b.halfOpenInFlight = true
		return nil
	default: // HALF_OPEN
		if b.halfOpenInFlight {
			return &domain.PolicyRejection{
				Source: "circuit_breaker",
				Reason: domain.ReasonBreakerOpen,
				Detail: "trial request in flight",
			}
		}
		b.halfOpenInFlight = true
		return nil
	}
}

// RecordSuccess resets the failure streak and folds the observed latency
// into the health snapshot. A HALF_OPEN trial success re-closes the breaker.
func (b *CircuitBreaker) RecordSuccess(latency time.Duration) {
	b.mu.Lock()

	b.health.ConsecutiveFailures = 0
	b.health.LastLatency = latency
	b.health.LastSuccessAt = b.now()
	b.health.State = latencyState(latency)

	if b.state == BreakerHalfOpen {
		b.halfOpenInFlight = false
		b.transition(BreakerClosed)
	}
	state := b.health.State
	b.mu.Unlock()

	b.limiter.ObserveHealth(state)
}

// RecordFailure counts a failed exchange call. The streak trips the breaker
// at the threshold; any HALF_OPEN failure restarts a full cooldown.
func (b *CircuitBreaker) RecordFailure(err error) {
	b.mu.Lock()

	b.health.ConsecutiveFailures++

	switch {
	case b.state == BreakerHalfOpen:
		b.halfOpenInFlight = false
		b.openedAt = b.now()
		b.transition(BreakerOpen)
	case b.state == BreakerClosed && b.health.ConsecutiveFailures >= b.failureThreshold:
		b.openedAt = b.now()
		b.transition(BreakerOpen)
	}

	if b.state == BreakerOpen {
		b.health.State = domain.ConnFailed
	} else if b.health.State == domain.ConnHealthy {
		b.health.State = domain.ConnDegraded
	}
	state := b.health.State
	failures := b.health.ConsecutiveFailures
	b.mu.Unlock()

	b.limiter.ObserveHealth(state)
	b.logger.Warn("exchange call failed",
		zap.Error(err),
		zap.Int("consecutive_failures", failures),
		zap.String("connection_state", string(state)))
}

// transition is called with b.mu held.
func (b *CircuitBreaker) transition(next BreakerState) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next

	// Notifier must not block; it is invoked with b.mu held.
	if b.notifier != nil {
		level := "info"
		if next == BreakerOpen {
			level = "error"
		}
		b.notifier.Notify(domain.Event{
			Level:    level,
			Category: "circuit_breaker",
			Message:  fmt.Sprintf("breaker %s -> %s", prev, next),
			Context:  map[string]any{"failures": b.health.ConsecutiveFailures},
		})
	}
	b.logger.Info("circuit breaker transition",
		zap.String("from", string(prev)),
		zap.String("to", string(next)))
}

// SubmitBlocked reports whether new order submissions should fail fast:
// the breaker is open and its cooldown has not elapsed. Once the cooldown
// passes, orders may queue again and the dispatch-side Allow performs the
// half-open trial.
func (b *CircuitBreaker) SubmitBlocked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BreakerOpen {
		return false
	}
	return b.now().Sub(b.openedAt) < b.cooldown
}

func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Health returns a copy of the current connection snapshot.
func (b *CircuitBreaker) Health() domain.ConnectionHealth {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.health
}

// HeartbeatLoop pings the exchange on the interval and feeds results into
// the breaker, so the connection state stays current even when the trading
// loop is idle.
func (b *CircuitBreaker) HeartbeatLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rej := b.Allow(); rej != nil {
				continue
			}
			latency, err := b.exchange.Ping(ctx)
			if err != nil {
				b.RecordFailure(err)
				continue
			}
			b.RecordSuccess(latency)
		}
	}
}

// CacheCandles stores the last successfully fetched history for a symbol.
func (b *CircuitBreaker) CacheCandles(symbol string, candles []domain.Candle) {
	if len(candles) == 0 {
		return
	}
	b.mu.Lock()
	b.candles[symbol] = cachedCandles{candles: candles, storedAt: b.now()}
	b.mu.Unlock()
}

// CachedCandles returns the last-known-good history if it is still within
// the TTL. Used by read paths while the breaker is open.
func (b *CircuitBreaker) CachedCandles(symbol string) ([]domain.Candle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.candles[symbol]
	if !ok || b.now().Sub(entry.storedAt) > b.candleTTL {
		return nil, false
	}
	return entry.candles, true
}

// latencyState maps a round-trip latency to a connection state.
func latencyState(latency time.Duration) domain.ConnectionState {
	switch {
	case latency < time.Second:
		return domain.ConnHealthy
	case latency <= 3*time.Second:
		return domain.ConnDegraded
	default:
		return domain.ConnUnstable
	}
}
