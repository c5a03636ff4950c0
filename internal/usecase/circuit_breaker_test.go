package usecase

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trend_engine/internal/domain"
)

func newTestBreaker() (*CircuitBreaker, *mockExchange, *captureNotifier, *testClock) {
	ex := &mockExchange{}
	notifier := &captureNotifier{}
	clock := &testClock{now: time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC)}
	b := NewCircuitBreaker(ex, NewRateLimiter(), notifier, zap.NewNop())
	b.now = clock.Now
	return b, ex, notifier, clock
}

func TestBreakerTripsAfterFiveConsecutiveFailures(t *testing.T) {
	b, _, notifier, _ := newTestBreaker()

	failure := errors.New("connection reset")
	for i := 0; i < 4; i++ {
		b.RecordFailure(failure)
		if b.State() != BreakerClosed {
			t.Fatalf("breaker opened after %d failures", i+1)
		}
	}

	b.RecordFailure(failure)
	if b.State() != BreakerOpen {
		t.Fatal("breaker must open on the fifth consecutive failure")
	}
	if b.Health().State != domain.ConnFailed {
		t.Errorf("health = %s, want FAILED while open", b.Health().State)
	}
	if rej := b.Allow(); rej == nil || rej.Reason != domain.ReasonBreakerOpen {
		t.Errorf("open breaker must reject, got %v", rej)
	}
	if events := notifier.byCategory("circuit_breaker"); len(events) == 0 {
		t.Error("expected a breaker transition event")
	}
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	b, _, _, _ := newTestBreaker()

	failure := errors.New("timeout")
	for i := 0; i < 4; i++ {
		b.RecordFailure(failure)
	}
	b.RecordSuccess(100 * time.Millisecond)
	// The streak restarted; four more failures stay closed.
	for i := 0; i < 4; i++ {
		b.RecordFailure(failure)
	}
	if b.State() != BreakerClosed {
		t.Error("non-consecutive failures must not trip the breaker")
	}
}

func TestBreakerHalfOpenSingleTrial(t *testing.T) {
	b, _, _, clock := newTestBreaker()

	failure := errors.New("connection reset")
	for i := 0; i < 5; i++ {
		b.RecordFailure(failure)
	}

	// Still cooling down.
	clock.Advance(299 * time.Second)
	if rej := b.Allow(); rej == nil {
		t.Fatal("breaker must stay open through the cooldown")
	}

	// Cooldown elapsed: exactly one trial is admitted.
	clock.Advance(2 * time.Second)
	if rej := b.Allow(); rej != nil {
		t.Fatalf("trial after cooldown rejected: %v", rej)
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %s, want HALF_OPEN", b.State())
	}
	if rej := b.Allow(); rej == nil {
		t.Fatal("second concurrent trial must be rejected")
	}

	// Trial success closes the breaker.
	b.RecordSuccess(200 * time.Millisecond)
	if b.State() != BreakerClosed {
		t.Errorf("state after trial success = %s, want CLOSED", b.State())
	}
}

func TestBreakerHalfOpenFailureRestartsCooldown(t *testing.T) {
	b, _, _, clock := newTestBreaker()

	failure := errors.New("connection reset")
	for i := 0; i < 5; i++ {
		b.RecordFailure(failure)
	}
	clock.Advance(301 * time.Second)
	if rej := b.Allow(); rej != nil {
		t.Fatalf("trial rejected: %v", rej)
	}

	b.RecordFailure(failure)
	if b.State() != BreakerOpen {
		t.Fatal("HALF_OPEN failure must reopen")
	}
	// A fresh full cooldown applies.
	clock.Advance(200 * time.Second)
	if rej := b.Allow(); rej == nil {
		t.Error("reopened breaker must honor a fresh cooldown")
	}
}

func TestLatencyMapsToConnectionState(t *testing.T) {
	cases := []struct {
		latency time.Duration
		want    domain.ConnectionState
	}{
		{200 * time.Millisecond, domain.ConnHealthy},
		{999 * time.Millisecond, domain.ConnHealthy},
		{2 * time.Second, domain.ConnDegraded},
		{3 * time.Second, domain.ConnDegraded},
		{4 * time.Second, domain.ConnUnstable},
	}
	for _, tc := range cases {
		b, _, _, _ := newTestBreaker()
		b.RecordSuccess(tc.latency)
		if got := b.Health().State; got != tc.want {
			t.Errorf("latency %v: state = %s, want %s", tc.latency, got, tc.want)
		}
	}
}

func TestCandleCacheHonorsTTL(t *testing.T) {
	b, _, _, clock := newTestBreaker()

	candles := flatCandles(10, 50000, 0, 60_000)
	b.CacheCandles("BTCUSDT", candles)

	if got, ok := b.CachedCandles("BTCUSDT"); !ok || len(got) != 10 {
		t.Fatalf("fresh cache miss: ok=%v len=%d", ok, len(got))
	}

	clock.Advance(6 * time.Minute)
	if _, ok := b.CachedCandles("BTCUSDT"); ok {
		t.Error("stale cache entry must not be served")
	}

	if _, ok := b.CachedCandles("ETHUSDT"); ok {
		t.Error("unknown symbol must miss")
	}
}
