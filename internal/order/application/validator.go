package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmehra2102/order-saga/internal/order/domain"
)

// Validator cross-checks cart lines against the live catalog. It never mutates anything.
type Validator struct {
	catalog CatalogClient
}

func NewValidator(catalog CatalogClient) *Validator {
	return &Validator{catalog: catalog}
}

// Validate returns the authoritative product per line, in cart order.
// The first failing line aborts.
func (v *Validator) Validate(ctx context.Context, items []CartItem) ([]Product, error) {
	products := make([]Product, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, domain.Errorf(domain.KindInvalidRequest, "quantity for product %s must be positive", item.ProductID)
		}

		p, err := v.catalog.GetProduct(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("fetch product %s: %w", item.ProductID, err)
		}

		if !p.Price.Equal(p.Price.Truncate(domain.MoneyScale)) {
			return nil, domain.Errorf(domain.KindInvalidRequest,
				"price %s for product %s has more than %d decimal places", p.Price, item.ProductID, domain.MoneyScale)
		}
		if !item.Price.Equal(p.Price) {
			return nil, domain.Errorf(domain.KindPriceMismatch,
				"price for product %s changed: cart has %s, catalog has %s", item.ProductID, item.Price, p.Price)
		}
		if item.Quantity > p.StockQuantity {
			return nil, domain.Errorf(domain.KindInsufficientStock,
				"product %s: requested %d, available %d", item.ProductID, item.Quantity, p.StockQuantity)
		}
		products = append(products, p)
	}
	return products, nil
}
