package http

import (
	"time"

	"github.com/dmehra2102/order-saga/internal/order/application"
	"github.com/dmehra2102/order-saga/internal/order/domain"
	"github.com/shopspring/decimal"
)

type CreateOrderRequest struct {
	ShippingAddress string `json:"shipping_address"`
	PaymentMethod   string `json:"payment_method"`
	Notes           string `json:"notes"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type OrderItemResponse struct {
	ProductID    string          `json:"product_id"`
	ProductName  string          `json:"product_name"`
	ProductImage string          `json:"product_image,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int             `json:"quantity"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

type PaymentResponse struct {
	Method        domain.PaymentMethod `json:"method"`
	Status        domain.PaymentStatus `json:"status"`
	TransactionID string               `json:"transaction_id,omitempty"`
	PaymentLinkID string               `json:"payment_link_id,omitempty"`
	CheckoutURL   string               `json:"checkout_url,omitempty"`
	PaymentDate   *time.Time           `json:"payment_date,omitempty"`
}

type OrderResponse struct {
	ID              string              `json:"id"`
	OrderNumber     string              `json:"order_number"`
	UserID          string              `json:"user_id"`
	Status          domain.OrderStatus  `json:"status"`
	TotalAmount     decimal.Decimal     `json:"total_amount"`
	Notes           string              `json:"notes,omitempty"`
	ShippingAddress string              `json:"shipping_address"`
	Items           []OrderItemResponse `json:"items"`
	Payment         PaymentResponse     `json:"payment"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
}

type PageResponse struct {
	Orders []OrderResponse `json:"orders"`
	Total  int             `json:"total"`
	Page   int             `json:"page"`
	Size   int             `json:"size"`
}

func toOrderResponse(o domain.Order) OrderResponse {
	items := make([]OrderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemResponse{
			ProductID:    it.ProductID,
			ProductName:  it.ProductName,
			ProductImage: it.ProductImage,
			Price:        it.Price,
			Quantity:     it.Quantity,
			Subtotal:     it.Subtotal,
		})
	}
	return OrderResponse{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		UserID:          o.UserID,
		Status:          o.Status,
		TotalAmount:     o.TotalAmount,
		Notes:           o.Notes,
		ShippingAddress: o.Shipping.Address,
		Items:           items,
		Payment: PaymentResponse{
			Method:        o.Payment.Method,
			Status:        o.Payment.Status,
			TransactionID: o.Payment.TransactionID,
			PaymentLinkID: o.Payment.PaymentLinkID,
			CheckoutURL:   o.Payment.CheckoutURL,
			PaymentDate:   o.Payment.PaymentDate,
		},
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
		CompletedAt: o.CompletedAt,
	}
}

func toPageResponse(p application.Page) PageResponse {
	orders := make([]OrderResponse, 0, len(p.Orders))
	for _, o := range p.Orders {
		orders = append(orders, toOrderResponse(o))
	}
	return PageResponse{Orders: orders, Total: p.Total, Page: p.Page, Size: p.Size}
}
