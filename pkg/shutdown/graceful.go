package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

func WithSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// Closer releases resources in reverse registration order.
type Closer struct {
	log *slog.Logger

	mu    sync.Mutex
	steps []step
}

type step struct {
	name string
	fn   func(ctx context.Context) error
}

func NewCloser(log *slog.Logger) *Closer {
	return &Closer{log: log}
}

func (c *Closer) Add(name string, fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, step{name: name, fn: fn})
}

// AddFunc registers a cleanup that cannot fail.
func (c *Closer) AddFunc(name string, fn func()) {
	c.Add(name, func(context.Context) error {
		fn()
		return nil
	})
}

// Close runs every step even when earlier ones fail and joins their errors.
func (c *Closer) Close(ctx context.Context) error {
	c.mu.Lock()
	steps := c.steps
	c.steps = nil
	c.mu.Unlock()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if err := s.fn(ctx); err != nil {
			c.log.ErrorContext(ctx, "shutdown step failed", "step", s.name, "err", err)
			errs = append(errs, err)
			continue
		}
		c.log.DebugContext(ctx, "shutdown step done", "step", s.name)
	}
	return errors.Join(errs...)
}
