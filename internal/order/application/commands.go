package application

import (
	"context"

	"github.com/dmehra2102/order-saga/internal/order/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CancelOrder cancels one of the caller's orders. Cancelling a terminal order
// succeeds without changes; cancelling an order whose payment was captured is
// rejected with InvalidStateTransition.
func (s *Service) CancelOrder(ctx context.Context, id domain.Identity, orderID string) (domain.Order, error) {
	if id.Anonymous() {
		return domain.Order{}, domain.Errorf(domain.KindInvalidRequest, "user identity is required")
	}
	return s.cancel(ctx, orderID, id.UserID, "cancelled by customer")
}

// CancelCheckout handles the customer abandoning the hosted payment page.
func (s *Service) CancelCheckout(ctx context.Context, orderID string) (domain.Order, error) {
	return s.cancel(ctx, orderID, "", "checkout abandoned")
}

func (s *Service) cancel(ctx context.Context, orderID, owner, reason string) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "CancelOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	var changed bool
	o, err := s.repo.Mutate(ctx, orderID, func(o *domain.Order) (bool, error) {
		if owner != "" && o.UserID != owner {
			return false, domain.Errorf(domain.KindOrderNotFound, "order %s not found", orderID)
		}
		var err error
		changed, err = o.Cancel(s.now())
		return changed, err
	})
	if err != nil {
		span.RecordError(err)
		return domain.Order{}, err
	}

	if changed {
		s.log.InfoContext(ctx, "order cancelled", "order_id", o.ID, "order_number", o.OrderNumber, "reason", reason)
		s.cancelLink(ctx, o, reason)
	}
	return o, nil
}

// UpdateStatus is the administrative transition entry point; only state
// machine edges are accepted.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, target domain.OrderStatus) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "UpdateOrderStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status", string(target)),
	))
	defer span.End()

	var changed bool
	o, err := s.repo.Mutate(ctx, orderID, func(o *domain.Order) (bool, error) {
		var err error
		changed, err = o.TransitionTo(target, s.now())
		return changed, err
	})
	if err != nil {
		span.RecordError(err)
		return domain.Order{}, err
	}

	if changed {
		s.log.InfoContext(ctx, "order status updated", "order_id", o.ID, "status", o.Status, "payment_status", o.Payment.Status)
		if o.Status == domain.StatusCancelled {
			s.cancelLink(ctx, o, "cancelled by operator")
		}
	}
	return o, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return s.repo.Get(ctx, orderID)
}

func (s *Service) GetOrderByNumber(ctx context.Context, number string) (domain.Order, error) {
	return s.repo.GetByNumber(ctx, number)
}

func (s *Service) ListUserOrders(ctx context.Context, userID string, q ListQuery) (Page, error) {
	if userID == "" {
		return Page{}, domain.Errorf(domain.KindInvalidRequest, "user id is required")
	}
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return Page{}, domain.Errorf(domain.KindInvalidRequest, "range end is before range start")
	}
	return s.repo.ListByUser(ctx, userID, q.Normalize())
}

func (s *Service) ListOrdersByStatus(ctx context.Context, status domain.OrderStatus, q ListQuery) (Page, error) {
	if !status.Valid() {
		return Page{}, domain.Errorf(domain.KindInvalidRequest, "unknown order status %q", status)
	}
	return s.repo.ListByStatus(ctx, status, q.Normalize())
}
