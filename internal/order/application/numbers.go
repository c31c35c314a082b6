package application

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
)

const (
	minOrderNumber        = 100000
	maxOrderNumber        = 999999
	defaultNumberAttempts = 10
)

var ErrOrderNumberExhausted = errors.New("order number generation exhausted")

type NumberChecker interface {
	ExistsByNumber(ctx context.Context, number string) (bool, error)
}

// NumberGenerator draws random 6-digit order numbers and checks them against the store.
type NumberGenerator struct {
	store       NumberChecker
	draw        func() int
	maxAttempts int
}

func NewNumberGenerator(store NumberChecker) *NumberGenerator {
	return &NumberGenerator{
		store:       store,
		draw:        func() int { return minOrderNumber + rand.IntN(maxOrderNumber-minOrderNumber+1) },
		maxAttempts: defaultNumberAttempts,
	}
}

func (g *NumberGenerator) Generate(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		number := strconv.Itoa(g.draw())
		taken, err := g.store.ExistsByNumber(ctx, number)
		if err != nil {
			return "", fmt.Errorf("check order number %s: %w", number, err)
		}
		if !taken {
			return number, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrOrderNumberExhausted, g.maxAttempts)
}

// MaxAttempts also bounds the insert retries on a duplicate number.
func (g *NumberGenerator) MaxAttempts() int { return g.maxAttempts }
