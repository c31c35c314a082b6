package application

import (
	"context"
	"errors"
	"time"

	"github.com/dmehra2102/order-saga/internal/order/domain"
	"github.com/shopspring/decimal"
)

var ErrDuplicateOrderNumber = errors.New("order number already taken")

// MutateFunc runs under the store's per-order lock. It must not perform network calls.
// Returning changed=false leaves the stored order untouched.
type MutateFunc func(o *domain.Order) (changed bool, err error)

type OrderRepository interface {
	ExistsByNumber(ctx context.Context, number string) (bool, error)
	// Create writes the order with items, shipping address and payment info atomically
	// and returns it with the store-assigned id.
	Create(ctx context.Context, o domain.Order) (domain.Order, error)
	// Finalize persists the outcome of payment path selection and records the
	// OrderPlaced event. Only finalized orders are visible to queries and mutations.
	Finalize(ctx context.Context, o domain.Order) (domain.Order, error)
	// Discard removes an order that was never finalized.
	Discard(ctx context.Context, id string) error
	Mutate(ctx context.Context, id string, fn MutateFunc) (domain.Order, error)
	MutateByProviderCode(ctx context.Context, code string, fn MutateFunc) (domain.Order, error)
	Get(ctx context.Context, id string) (domain.Order, error)
	GetByNumber(ctx context.Context, number string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, q ListQuery) (Page, error)
	ListByStatus(ctx context.Context, status domain.OrderStatus, q ListQuery) (Page, error)
}

type ListQuery struct {
	Page int
	Size int
	From *time.Time
	To   *time.Time
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Normalize clamps paging values to sane bounds.
func (q ListQuery) Normalize() ListQuery {
	if q.Page < 0 {
		q.Page = 0
	}
	if q.Size <= 0 {
		q.Size = defaultPageSize
	}
	if q.Size > maxPageSize {
		q.Size = maxPageSize
	}
	return q
}

func (q ListQuery) Offset() int { return q.Page * q.Size }

type Page struct {
	Orders []domain.Order
	Total  int
	Page   int
	Size   int
}

type CartItem struct {
	ProductID    string          `json:"productId"`
	ProductName  string          `json:"productName"`
	ProductImage string          `json:"productImage"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int             `json:"quantity"`
}

type Cart struct {
	Items []CartItem `json:"items"`
}

func (c Cart) Empty() bool { return len(c.Items) == 0 }

// Equal compares line items in order.
func (c Cart) Equal(other Cart) bool {
	if len(c.Items) != len(other.Items) {
		return false
	}
	for i, it := range c.Items {
		o := other.Items[i]
		if it.ProductID != o.ProductID || it.Quantity != o.Quantity || !it.Price.Equal(o.Price) {
			return false
		}
	}
	return true
}

type CartClient interface {
	GetCart(ctx context.Context, token string) (Cart, error)
	ClearCart(ctx context.Context, token string) error
	RestoreCart(ctx context.Context, token string, cart Cart) error
}

type Product struct {
	ID            string
	Name          string
	Image         string
	Price         decimal.Decimal
	StockQuantity int
}

// CatalogClient returns an error matching domain.ErrProductNotFound for unknown ids.
type CatalogClient interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
}

type PaymentLink struct {
	LinkID            string
	CheckoutURL       string
	ProviderOrderCode string
}

type PaymentGateway interface {
	CreateLink(ctx context.Context, o domain.Order) (PaymentLink, error)
	CancelLink(ctx context.Context, linkID, reason string) error
}

// PaymentCallback is a provider callback reduced to the fields reconciliation needs.
type PaymentCallback struct {
	ProviderOrderCode string          `json:"provider_order_code"`
	ResultCode        string          `json:"result_code"`
	Reference         string          `json:"reference"`
	Amount            decimal.Decimal `json:"amount"`
	LinkID            string          `json:"link_id,omitempty"`
}

// Metrics is satisfied by *metrics.Saga; a nil value disables recording.
type Metrics interface {
	OrderCreated(method string)
	OrderCreationFailed(kind string)
	CallbackProcessed(outcome string)
	CartClearFailed()
}

type nopMetrics struct{}

func (nopMetrics) OrderCreated(string)        {}
func (nopMetrics) OrderCreationFailed(string) {}
func (nopMetrics) CallbackProcessed(string)   {}
func (nopMetrics) CartClearFailed()           {}
