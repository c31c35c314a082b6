package application

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CartClearRetrier retries failed cart clears in the background with
// exponential backoff.
type CartClearRetrier struct {
	log      *slog.Logger
	cart     CartClient
	attempts int
	base     time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	stop   chan struct{}
}

func NewCartClearRetrier(log *slog.Logger, cart CartClient) *CartClearRetrier {
	return &CartClearRetrier{
		log:      log,
		cart:     cart,
		attempts: 5,
		base:     500 * time.Millisecond,
		stop:     make(chan struct{}),
	}
}

// WithBackoff overrides attempts and the first delay.
func (r *CartClearRetrier) WithBackoff(attempts int, base time.Duration) *CartClearRetrier {
	r.attempts = attempts
	r.base = base
	return r
}

// Schedule is a no-op once Close has been called.
func (r *CartClearRetrier) Schedule(ctx context.Context, token, orderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.log.WarnContext(ctx, "cart clear retry dropped after shutdown", "order_id", orderID)
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		delay := r.base
		for attempt := 1; attempt <= r.attempts; attempt++ {
			select {
			case <-r.stop:
				r.log.WarnContext(ctx, "cart clear retry abandoned on shutdown", "order_id", orderID)
				return
			case <-time.After(delay):
			}
			err := r.cart.ClearCart(ctx, token)
			if err == nil {
				r.log.InfoContext(ctx, "cart cleared on retry", "order_id", orderID, "attempt", attempt)
				return
			}
			r.log.WarnContext(ctx, "cart clear retry failed", "order_id", orderID, "attempt", attempt, "err", err)
			delay *= 2
		}
		r.log.ErrorContext(ctx, "cart clear gave up", "order_id", orderID, "attempts", r.attempts)
	}()
}

// Close stops pending retries and waits for running ones.
func (r *CartClearRetrier) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.stop)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Wait blocks until every scheduled retry finished.
func (r *CartClearRetrier) Wait() { r.wg.Wait() }
