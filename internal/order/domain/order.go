package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusProcessing OrderStatus = "PROCESSING"
	StatusCompleted  OrderStatus = "COMPLETED"
	StatusCancelled  OrderStatus = "CANCELLED"
)

func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentComplete  PaymentStatus = "COMPLETE"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

func (s PaymentStatus) Terminal() bool {
	return s == PaymentComplete || s == PaymentCancelled
}

type PaymentMethod string

const (
	MethodCOD          PaymentMethod = "COD"
	MethodCard         PaymentMethod = "CARD"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodWallet       PaymentMethod = "WALLET"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(s); m {
	case MethodCOD, MethodCard, MethodBankTransfer, MethodWallet:
		return m, nil
	}
	return "", Errorf(KindInvalidRequest, "unsupported payment method %q", s)
}

type Order struct {
	ID          string
	OrderNumber string
	UserID      string
	Status      OrderStatus
	TotalAmount decimal.Decimal
	Notes       string
	Items       []OrderItem
	Shipping    ShippingAddress
	Payment     PaymentInfo
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// OrderItem holds the catalog snapshot taken when the order was placed.
type OrderItem struct {
	ProductID    string
	ProductName  string
	ProductImage string
	Price        decimal.Decimal
	Quantity     int
	Subtotal     decimal.Decimal
}

type ShippingAddress struct {
	ID      int64
	Address string
}

type PaymentInfo struct {
	ID                int64
	Method            PaymentMethod
	Status            PaymentStatus
	TransactionID     string
	PaymentLinkID     string
	CheckoutURL       string
	ProviderOrderCode string
	PaymentDate       *time.Time
}

func NewOrderItem(productID, name, image string, price decimal.Decimal, quantity int) OrderItem {
	return OrderItem{
		ProductID:    productID,
		ProductName:  name,
		ProductImage: image,
		Price:        price,
		Quantity:     quantity,
		Subtotal:     price.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

func NewOrder(userID, orderNumber string, items []OrderItem, address string, method PaymentMethod, notes string) Order {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal)
	}
	now := time.Now().UTC()
	return Order{
		OrderNumber: orderNumber,
		UserID:      userID,
		Status:      StatusPending,
		TotalAmount: total,
		Notes:       notes,
		Items:       items,
		Shipping:    ShippingAddress{Address: address},
		Payment: PaymentInfo{
			Method: method,
			Status: PaymentPending,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MoneyScale is the number of decimal places every stored amount keeps.
const MoneyScale = 2

// ChargeAmount is what the payment provider is asked to collect. Providers
// settle in whole currency units, so the total is rounded half away from zero.
func (o Order) ChargeAmount() decimal.Decimal {
	return o.TotalAmount.Round(0)
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (o Order) Clone() Order {
	c := o
	c.Items = append([]OrderItem(nil), o.Items...)
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		c.CompletedAt = &t
	}
	if o.Payment.PaymentDate != nil {
		t := *o.Payment.PaymentDate
		c.Payment.PaymentDate = &t
	}
	return c
}
