package usecase

import (
	"testing"
	"time"

	"github.com/vitos/crypto_trend_engine/internal/domain"
)

// testClock lets limiter tests advance time manually.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLimiter() (*RateLimiter, *testClock) {
	clock := &testClock{now: time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC)}
	l := NewRateLimiter()
	l.now = clock.Now
	return l, clock
}

func TestOrderCreateBurstThenPerSecondCap(t *testing.T) {
	l, clock := newTestLimiter()

	// Burst of 3 creates within one second is allowed.
	for i := 0; i < 3; i++ {
		if rej := l.TryAcquire(ClassOrderCreate); rej != nil {
			t.Fatalf("burst request %d rejected: %v", i, rej)
		}
	}
	// The fourth within the same second hits the cap.
	if rej := l.TryAcquire(ClassOrderCreate); rej == nil {
		t.Fatal("fourth create within one second must be rejected")
	} else if rej.Reason != domain.ReasonRateLimited {
		t.Errorf("reason = %s, want %s", rej.Reason, domain.ReasonRateLimited)
	}

	// A second later the per-second window has rolled.
	clock.Advance(1100 * time.Millisecond)
	if rej := l.TryAcquire(ClassOrderCreate); rej != nil {
		t.Errorf("create after window roll rejected: %v", rej)
	}
}

func TestOrderCreatePerMinuteBudget(t *testing.T) {
	l, clock := newTestLimiter()

	granted := 0
	for i := 0; i < 30; i++ {
		if rej := l.TryAcquire(ClassOrderCreate); rej == nil {
			granted++
		}
		clock.Advance(1200 * time.Millisecond) // stay under the 1/s cap
	}
	// 30 attempts over 36s, budget is 20/min.
	if granted != 20 {
		t.Errorf("granted = %d, want 20 per minute", granted)
	}
}

func TestGlobalBudgetCoversAllClasses(t *testing.T) {
	l, clock := newTestLimiter()

	granted := 0
	classes := []RequestClass{ClassMarketData, ClassPositionQuery, ClassBalanceQuery, ClassOrderCancel}
	for i := 0; i < 300; i++ {
		if rej := l.TryAcquire(classes[i%len(classes)]); rej == nil {
			granted++
		}
		clock.Advance(150 * time.Millisecond) // 45s total, under per-class caps
	}
	if granted > 200 {
		t.Errorf("granted = %d, global budget is 200/min", granted)
	}
}

func TestEmergencyStopBlocksAllButCancels(t *testing.T) {
	l, _ := newTestLimiter()
	l.SetEmergencyStop(true)

	rej := l.TryAcquire(ClassOrderCreate)
	if rej == nil || rej.Reason != domain.ReasonEmergencyStop {
		t.Fatalf("create during emergency: %v", rej)
	}
	if rej := l.TryAcquire(ClassMarketData); rej == nil {
		t.Error("market data must be blocked during emergency")
	}
	// Cancels stay admitted so positions can be flattened.
	if rej := l.TryAcquire(ClassOrderCancel); rej != nil {
		t.Errorf("cancel during emergency rejected: %v", rej)
	}

	l.SetEmergencyStop(false)
	if rej := l.TryAcquire(ClassOrderCreate); rej != nil {
		t.Errorf("create after emergency cleared rejected: %v", rej)
	}
}

func TestAdaptiveDelayFollowsHealth(t *testing.T) {
	l, _ := newTestLimiter()

	base := l.Delay(ClassOrderCreate)

	l.ObserveHealth(domain.ConnDegraded)
	if got := l.Delay(ClassOrderCreate); got != 2*base {
		t.Errorf("degraded delay = %v, want %v", got, 2*base)
	}

	l.ObserveHealth(domain.ConnUnstable)
	if got := l.Delay(ClassOrderCreate); got != 3*base {
		t.Errorf("unstable delay = %v, want %v", got, 3*base)
	}

	// Healthy observations relax the multiplier by 10% per step, with a
	// floor at the base delay.
	l.ObserveHealth(domain.ConnHealthy)
	relaxed := l.Delay(ClassOrderCreate)
	if relaxed >= 3*base || relaxed <= base {
		t.Errorf("relaxed delay = %v, want between base and 3x base", relaxed)
	}
	for i := 0; i < 50; i++ {
		l.ObserveHealth(domain.ConnHealthy)
	}
	if got := l.Delay(ClassOrderCreate); got != base {
		t.Errorf("fully relaxed delay = %v, want base %v", got, base)
	}
}
