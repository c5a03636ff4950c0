package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trend_engine/internal/domain"
)

// OrderHandle lets a caller wait for the terminal outcome of a submitted
// order without sharing the mutable Order, which stays owned by the
// dispatch worker.
type OrderHandle struct {
	ID string

	once    sync.Once
	done    chan struct{}
	outcome domain.OrderOutcome
}

func newOrderHandle(id string) *OrderHandle {
	return &OrderHandle{ID: id, done: make(chan struct{})}
}

// Done is closed exactly once, when the order reaches a terminal state.
func (h *OrderHandle) Done() <-chan struct{} { return h.done }

// Outcome is valid after Done is closed.
func (h *OrderHandle) Outcome() domain.OrderOutcome {
	<-h.done
	return h.outcome
}

func (h *OrderHandle) finalize(outcome domain.OrderOutcome) bool {
	fired := false
	h.once.Do(func() {
		h.outcome = outcome
		close(h.done)
		fired = true
	})
	return fired
}

type orderTask struct {
	order  *domain.Order
	handle *OrderHandle
}

// OrderManager serializes order dispatch per symbol and owns the full
// order lifecycle: admission, queueing, submission with retry, and the
// single terminal outcome per order.
type OrderManager struct {
	exchange domain.Exchange
	limiter  *RateLimiter
	breaker  *CircuitBreaker
	logger   *zap.Logger
	notifier domain.Notifier

	maxAttempts int
	baseBackoff time.Duration
	retention   time.Duration

	mu        sync.Mutex
	byID      map[string]*OrderHandle
	queues    map[string]chan orderTask
	emergency bool
	runCtx    context.Context
	wg        sync.WaitGroup

	outcomes chan domain.OrderOutcome

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewOrderManager(exchange domain.Exchange, limiter *RateLimiter, breaker *CircuitBreaker, notifier domain.Notifier, logger *zap.Logger) *OrderManager {
	return &OrderManager{
		exchange:    exchange,
		limiter:     limiter,
		breaker:     breaker,
		logger:      logger,
		notifier:    notifier,
		maxAttempts: 3,
		baseBackoff: 500 * time.Millisecond,
		retention:   time.Hour,
		byID:        make(map[string]*OrderHandle),
		queues:      make(map[string]chan orderTask),
		outcomes:    make(chan domain.OrderOutcome, 64),
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// Start binds the manager to its run context. Workers spawned afterwards
// stop when the context is cancelled.
func (m *OrderManager) Start(ctx context.Context) {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()
}

// Outcomes streams one event per terminal order. The engine consumes this
// for journaling and risk accounting.
func (m *OrderManager) Outcomes() <-chan domain.OrderOutcome { return m.outcomes }

// NewOrderID returns a fresh client-side idempotency key.
func NewOrderID() string { return uuid.NewString() }

// Submit admits an order into the per-symbol dispatch queue. Resubmitting
// the same order ID returns the original handle without a second dispatch.
// Admission rejections (emergency stop, open breaker, position conflict)
// finalize the order immediately with a REJECTED outcome.
func (m *OrderManager) Submit(ctx context.Context, order *domain.Order) (*OrderHandle, error) {
	if order.ID == "" {
		order.ID = NewOrderID()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = m.now()
	}
	order.State = domain.OrderCreated

	m.mu.Lock()
	m.pruneLocked()
	if existing, ok := m.byID[order.ID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	handle := newOrderHandle(order.ID)
	m.byID[order.ID] = handle
	emergency := m.emergency
	m.mu.Unlock()

	if emergency {
		rej := &domain.PolicyRejection{Source: "order_manager", Reason: domain.ReasonEmergencyStop}
		m.finalize(order, handle, domain.OrderRejected, rej.Reason)
		return handle, rej
	}
	if rej := m.breakerGate(); rej != nil {
		m.finalize(order, handle, domain.OrderRejected, rej.Reason)
		return handle, rej
	}
	if rej := m.positionConflict(ctx, order); rej != nil {
		m.finalize(order, handle, domain.OrderRejected, rej.Reason)
		return handle, rej
	}

	order.State = domain.OrderQueued
	m.enqueue(orderTask{order: order, handle: handle})
	return handle, nil
}

// breakerGate fails fast before queueing so a dead connection does not
// accumulate a backlog of stale orders. An open breaker past its cooldown
// admits orders again; dispatch runs the half-open trial.
func (m *OrderManager) breakerGate() *domain.PolicyRejection {
	if m.breaker.SubmitBlocked() {
		return &domain.PolicyRejection{Source: "order_manager", Reason: domain.ReasonBreakerOpen}
	}
	return nil
}

// positionConflict rejects an order that would oppose an existing position
// on the same symbol. A failed lookup is treated as no conflict; the
// exchange enforces the real constraint either way.
func (m *OrderManager) positionConflict(ctx context.Context, order *domain.Order) *domain.PolicyRejection {
	if rej := m.limiter.TryAcquire(ClassPositionQuery); rej != nil {
		return nil
	}
	pos, err := m.exchange.GetPosition(ctx, order.Symbol)
	if err != nil {
		m.logger.Warn("position conflict check failed", zap.String("symbol", order.Symbol), zap.Error(err))
		return nil
	}
	if pos != nil && pos.Size > 0 && pos.Side == order.Side.Opposite() {
		return &domain.PolicyRejection{
			Source: "order_manager",
			Reason: domain.ReasonPositionConflict,
			Detail: fmt.Sprintf("open %s position of %.6f on %s", pos.Side, pos.Size, pos.Symbol),
		}
	}
	return nil
}

// pruneLocked drops handles whose orders reached a terminal state longer
// than the retention window ago. Duplicate-ID detection only needs to
// cover in-flight and recently completed orders; without pruning byID
// grows for the life of the process.
func (m *OrderManager) pruneLocked() {
	cutoff := m.now().Add(-m.retention)
	for id, h := range m.byID {
		select {
		case <-h.done:
			if h.outcome.At.Before(cutoff) {
				delete(m.byID, id)
			}
		default:
		}
	}
}

func (m *OrderManager) enqueue(task orderTask) {
	m.mu.Lock()
	queue, ok := m.queues[task.order.Symbol]
	if !ok {
		queue = make(chan orderTask, 32)
		m.queues[task.order.Symbol] = queue
		ctx := m.runCtx
		if ctx == nil {
			ctx = context.Background()
		}
		m.wg.Add(1)
		go m.worker(ctx, task.order.Symbol, queue)
	}
	m.mu.Unlock()
	queue <- task
}

// worker serializes all dispatches for one symbol.
func (m *OrderManager) worker(ctx context.Context, symbol string, queue chan orderTask) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			m.drainQueue(queue, domain.ReasonEmergencyStop)
			return
		case task := <-queue:
			m.dispatch(ctx, task)
		}
	}
}

func (m *OrderManager) dispatch(ctx context.Context, task orderTask) {
	order, handle := task.order, task.handle

	m.mu.Lock()
	emergency := m.emergency
	m.mu.Unlock()
	if emergency {
		m.finalize(order, handle, domain.OrderCancelled, domain.ReasonEmergencyStop)
		return
	}

	if err := m.limiter.Acquire(ctx, ClassOrderCreate); err != nil {
		if rej, ok := domain.IsPolicyRejection(err); ok {
			m.finalize(order, handle, domain.OrderCancelled, rej.Reason)
		} else {
			m.finalize(order, handle, domain.OrderFailedTerminal, domain.ReasonConnectionFailed)
		}
		return
	}

	for {
		if rej := m.breaker.Allow(); rej != nil {
			m.finalize(order, handle, domain.OrderRejected, rej.Reason)
			return
		}

		order.State = domain.OrderSubmitting
		order.Attempts++

		res, err := m.exchange.CreateOrder(ctx, order)
		if err == nil {
			m.breaker.RecordSuccess(res.Latency)
			m.logger.Info("order filled",
				zap.String("order_id", order.ID),
				zap.String("symbol", order.Symbol),
				zap.String("side", string(order.Side)),
				zap.Float64("size", order.Size),
				zap.Int("attempts", order.Attempts))
			m.finalize(order, handle, domain.OrderFilled, "")
			return
		}

		m.breaker.RecordFailure(err)

		var terminal *domain.TerminalExchangeError
		if errors.As(err, &terminal) {
			m.finalize(order, handle, domain.OrderRejected, terminal.Code)
			return
		}
		if !domain.IsRetryable(err) || order.Attempts >= m.maxAttempts {
			m.finalize(order, handle, domain.OrderFailedTerminal, domain.ReasonConnectionFailed)
			return
		}

		order.State = domain.OrderFailedRetry
		backoff := m.baseBackoff << (order.Attempts - 1)
		m.logger.Warn("order dispatch failed, retrying",
			zap.String("order_id", order.ID),
			zap.Int("attempt", order.Attempts),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		if err := m.sleep(ctx, backoff); err != nil {
			m.finalize(order, handle, domain.OrderCancelled, domain.ReasonEmergencyStop)
			return
		}
	}
}

// finalize moves the order to its terminal state and emits the outcome
// exactly once.
func (m *OrderManager) finalize(order *domain.Order, handle *OrderHandle, state domain.OrderState, reason string) {
	order.State = state
	outcome := domain.OrderOutcome{
		OrderID:  order.ID,
		Symbol:   order.Symbol,
		Side:     order.Side,
		Size:     order.Size,
		Price:    order.EntryPrice,
		State:    state,
		Reason:   reason,
		Attempts: order.Attempts,
		At:       m.now(),
	}
	if !handle.finalize(outcome) {
		return
	}

	select {
	case m.outcomes <- outcome:
	default:
		m.logger.Warn("outcome channel full, dropping", zap.String("order_id", order.ID))
	}

	if m.notifier != nil {
		level := "info"
		if state != domain.OrderFilled {
			level = "warn"
		}
		m.notifier.Notify(domain.Event{
			Level:    level,
			Category: "order",
			Symbol:   order.Symbol,
			Message:  fmt.Sprintf("order %s %s", order.ID, state),
			Context:  map[string]any{"reason": reason, "attempts": order.Attempts},
		})
	}
}

// EmergencyStop blocks new admissions and cancels everything still queued.
// In-flight submissions finish their current attempt; retries are aborted
// by the emergency check in dispatch.
func (m *OrderManager) EmergencyStop() {
	m.mu.Lock()
	m.emergency = true
	queues := make([]chan orderTask, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	m.mu.Unlock()

	m.limiter.SetEmergencyStop(true)
	for _, q := range queues {
		m.drainQueue(q, domain.ReasonEmergencyStop)
	}
	m.logger.Error("emergency stop engaged, queued orders cancelled")
	if m.notifier != nil {
		m.notifier.Notify(domain.Event{
			Level:    "error",
			Category: "emergency",
			Message:  "emergency stop engaged",
		})
	}
}

// Resume lifts an emergency stop. Cancelled orders stay cancelled.
func (m *OrderManager) Resume() {
	m.mu.Lock()
	m.emergency = false
	m.mu.Unlock()
	m.limiter.SetEmergencyStop(false)
	m.logger.Info("emergency stop lifted")
}

func (m *OrderManager) EmergencyStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emergency
}

func (m *OrderManager) drainQueue(queue chan orderTask, reason string) {
	for {
		select {
		case task := <-queue:
			m.finalize(task.order, task.handle, domain.OrderCancelled, reason)
		default:
			return
		}
	}
}

// QueueDepth reports pending dispatches per symbol for the status endpoint.
func (m *OrderManager) QueueDepth() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.queues))
	for symbol, q := range m.queues {
		out[symbol] = len(q)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
