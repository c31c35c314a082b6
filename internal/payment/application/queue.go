package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	orderapp "github.com/dmehra2102/order-saga/internal/order/application"
)

var ErrQueueClosed = errors.New("callback queue closed")

type CallbackHandler interface {
	HandleCallback(ctx context.Context, cb orderapp.PaymentCallback) (orderapp.Outcome, error)
}

type job struct {
	ctx context.Context
	cb  orderapp.PaymentCallback
}

// InlineQueue is the in-process CallbackQueue used when no broker is
// configured. Failed callbacks are retried with backoff, then dropped.
type InlineQueue struct {
	log      *slog.Logger
	handler  CallbackHandler
	jobs     chan job
	attempts int
	backoff  time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

var _ CallbackQueue = (*InlineQueue)(nil)

func NewInlineQueue(log *slog.Logger, handler CallbackHandler, workers, buffer int) *InlineQueue {
	if workers <= 0 {
		workers = 4
	}
	q := &InlineQueue{
		log:      log,
		handler:  handler,
		jobs:     make(chan job, buffer),
		attempts: 5,
		backoff:  200 * time.Millisecond,
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.work()
	}
	return q
}

func (q *InlineQueue) WithRetry(attempts int, backoff time.Duration) *InlineQueue {
	q.attempts = attempts
	q.backoff = backoff
	return q
}

func (q *InlineQueue) Enqueue(ctx context.Context, cb orderapp.PaymentCallback) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job{ctx: context.WithoutCancel(ctx), cb: cb}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting callbacks and drains the ones already queued.
func (q *InlineQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *InlineQueue) work() {
	defer q.wg.Done()
	for j := range q.jobs {
		q.process(j)
	}
}

func (q *InlineQueue) process(j job) {
	delay := q.backoff
	for attempt := 1; attempt <= q.attempts; attempt++ {
		outcome, err := q.handler.HandleCallback(j.ctx, j.cb)
		if err == nil {
			q.log.DebugContext(j.ctx, "callback processed", "order_code", j.cb.ProviderOrderCode, "outcome", outcome)
			return
		}
		q.log.WarnContext(j.ctx, "callback processing failed",
			"order_code", j.cb.ProviderOrderCode, "attempt", attempt, "err", err)
		if attempt < q.attempts {
			time.Sleep(delay)
			delay *= 2
		}
	}
	q.log.ErrorContext(j.ctx, "callback dropped after retries", "order_code", j.cb.ProviderOrderCode)
}
