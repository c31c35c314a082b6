package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced    = "OrderPlaced"
	EventOrderPaid      = "OrderPaid"
	EventOrderCancelled = "OrderCancelled"
	EventOrderCompleted = "OrderCompleted"
)

type OrderEvent struct {
	OrderID       string          `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	UserID        string          `json:"user_id"`
	Status        OrderStatus     `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

func NewOrderEvent(o Order, at time.Time) OrderEvent {
	return OrderEvent{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		Status:        o.Status,
		PaymentStatus: o.Payment.Status,
		PaymentMethod: o.Payment.Method,
		TotalAmount:   o.TotalAmount,
		OccurredAt:    at,
	}
}

// EventTypeFor names the lifecycle event emitted after a state change.
func EventTypeFor(o Order) string {
	switch {
	case o.Status == StatusCancelled:
		return EventOrderCancelled
	case o.Status == StatusCompleted:
		return EventOrderCompleted
	case o.Payment.Status == PaymentComplete:
		return EventOrderPaid
	}
	return EventOrderPlaced
}
