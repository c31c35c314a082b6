package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmehra2102/order-saga/internal/order/domain"
)

// creation is the state shared by the steps of one CreateOrder call.
type creation struct {
	identity domain.Identity
	req      CreateOrderRequest

	snapshot *Cart
	products []Product
	order    domain.Order
	link     *PaymentLink
}

// --- fetch_cart ---

type fetchCartStep struct {
	svc *Service
	c   *creation
}

func (s *fetchCartStep) Name() string { return "fetch_cart" }

func (s *fetchCartStep) Execute(ctx context.Context) error {
	cart, err := s.svc.cart.GetCart(ctx, s.c.identity.Token)
	if err != nil {
		return fmt.Errorf("fetch cart: %w", err)
	}
	if cart.Empty() {
		return domain.Errorf(domain.KindEmptyCart, "cart is empty")
	}
	s.c.snapshot = &cart
	return nil
}

// Compensate puts the snapshot back when the live cart no longer matches it,
// e.g. a concurrent or retried call already cleared it.
func (s *fetchCartStep) Compensate(ctx context.Context) error {
	if s.c.snapshot == nil {
		return nil
	}
	live, err := s.svc.cart.GetCart(ctx, s.c.identity.Token)
	if err != nil {
		return fmt.Errorf("re-read cart: %w", err)
	}
	if live.Equal(*s.c.snapshot) {
		return nil
	}
	if err := s.svc.cart.RestoreCart(ctx, s.c.identity.Token, *s.c.snapshot); err != nil {
		return fmt.Errorf("restore cart: %w", err)
	}
	s.svc.log.InfoContext(ctx, "cart restored from snapshot", "user_id", s.c.identity.UserID, "items", len(s.c.snapshot.Items))
	return nil
}

// --- validate_cart ---

type validateCartStep struct {
	svc *Service
	c   *creation
}

func (s *validateCartStep) Name() string { return "validate_cart" }

func (s *validateCartStep) Execute(ctx context.Context) error {
	products, err := s.svc.validator.Validate(ctx, s.c.snapshot.Items)
	if err != nil {
		return err
	}
	s.c.products = products
	return nil
}

func (s *validateCartStep) Compensate(context.Context) error { return nil }

// --- persist_order ---

type persistOrderStep struct {
	svc *Service
	c   *creation
}

func (s *persistOrderStep) Name() string { return "persist_order" }

// Execute retries with a fresh number when the insert loses a race on the
// unique order number.
func (s *persistOrderStep) Execute(ctx context.Context) error {
	items := make([]domain.OrderItem, 0, len(s.c.snapshot.Items))
	for i, line := range s.c.snapshot.Items {
		p := s.c.products[i]
		image := line.ProductImage
		if image == "" {
			image = p.Image
		}
		items = append(items, domain.NewOrderItem(line.ProductID, p.Name, image, p.Price, line.Quantity))
	}

	attempts := s.svc.numbers.MaxAttempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		number, err := s.svc.numbers.Generate(ctx)
		if err != nil {
			return err
		}
		o := domain.NewOrder(s.c.identity.UserID, number, items, s.c.req.ShippingAddress, s.c.req.PaymentMethod, s.c.req.Notes)
		created, err := s.svc.repo.Create(ctx, o)
		if errors.Is(err, ErrDuplicateOrderNumber) {
			s.svc.log.DebugContext(ctx, "order number taken on insert, redrawing", "order_number", number, "attempt", attempt)
			continue
		}
		if err != nil {
			return fmt.Errorf("persist order: %w", err)
		}
		s.c.order = created
		return nil
	}
	return fmt.Errorf("%w: insert retries exhausted", ErrOrderNumberExhausted)
}

func (s *persistOrderStep) Compensate(ctx context.Context) error {
	if s.c.order.ID == "" {
		return nil
	}
	if err := s.svc.repo.Discard(ctx, s.c.order.ID); err != nil {
		return fmt.Errorf("discard order %s: %w", s.c.order.ID, err)
	}
	return nil
}

// --- select_payment_path ---

type paymentPathStep struct {
	svc *Service
	c   *creation
}

func (s *paymentPathStep) Name() string { return "select_payment_path" }

// Execute cancels a link it created but could not attach; the coordinator
// only compensates steps that completed.
func (s *paymentPathStep) Execute(ctx context.Context) error {
	link, err := s.svc.selectPaymentPath(ctx, &s.c.order)
	if err != nil {
		if link != nil {
			s.cancel(ctx, link.LinkID)
		}
		return fmt.Errorf("payment path for order %s: %w", s.c.order.OrderNumber, err)
	}
	s.c.link = link
	return nil
}

func (s *paymentPathStep) Compensate(ctx context.Context) error {
	if s.c.link == nil {
		return nil
	}
	s.cancel(ctx, s.c.link.LinkID)
	return nil
}

func (s *paymentPathStep) cancel(ctx context.Context, linkID string) {
	if err := s.svc.gateway.CancelLink(ctx, linkID, "order creation failed"); err != nil {
		s.svc.log.WarnContext(ctx, "payment link cancel failed", "link_id", linkID, "err", err)
	}
}

// --- finalize_order ---

type finalizeOrderStep struct {
	svc *Service
	c   *creation
}

func (s *finalizeOrderStep) Name() string { return "finalize_order" }

func (s *finalizeOrderStep) Execute(ctx context.Context) error {
	o, err := s.svc.repo.Finalize(ctx, s.c.order)
	if err != nil {
		return fmt.Errorf("finalize order %s: %w", s.c.order.ID, err)
	}
	s.c.order = o
	return nil
}

func (s *finalizeOrderStep) Compensate(context.Context) error { return nil }
