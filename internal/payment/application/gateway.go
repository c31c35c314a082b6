package application

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	orderapp "github.com/dmehra2102/order-saga/internal/order/application"
	orderdomain "github.com/dmehra2102/order-saga/internal/order/domain"
	"github.com/dmehra2102/order-saga/internal/payment/domain"
)

type LinkProvider interface {
	CreatePaymentLink(ctx context.Context, req domain.LinkRequest) (domain.Link, error)
	CancelPaymentLink(ctx context.Context, linkID, reason string) error
}

type GatewayConfig struct {
	ReturnURL string
	CancelURL string
	Timeout   time.Duration
	Expiry    time.Duration
}

const (
	defaultGatewayTimeout = 10 * time.Second
	defaultLinkExpiry     = 5 * time.Minute
)

// Gateway adapts the hosted payment provider to the order service.
type Gateway struct {
	log      *slog.Logger
	provider LinkProvider
	cfg      GatewayConfig
	now      func() time.Time
}

var _ orderapp.PaymentGateway = (*Gateway)(nil)

func NewGateway(log *slog.Logger, provider LinkProvider, cfg GatewayConfig) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGatewayTimeout
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = defaultLinkExpiry
	}
	return &Gateway{log: log, provider: provider, cfg: cfg, now: time.Now}
}

// CreateLink uses the order number as the provider order code, so the same
// order always maps to the same code.
func (g *Gateway) CreateLink(ctx context.Context, o orderdomain.Order) (orderapp.PaymentLink, error) {
	code, err := strconv.ParseInt(o.OrderNumber, 10, 64)
	if err != nil {
		return orderapp.PaymentLink{}, fmt.Errorf("gateway: order number %q is not numeric: %w", o.OrderNumber, err)
	}

	items := make([]domain.LinkItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, domain.LinkItem{
			Name:     it.ProductName,
			Quantity: it.Quantity,
			Price:    it.Price.Round(0).IntPart(),
		})
	}
	req := domain.LinkRequest{
		OrderCode:   code,
		Amount:      o.ChargeAmount().IntPart(),
		Description: "Order #" + o.OrderNumber,
		Items:       items,
		ReturnURL:   withOrderID(g.cfg.ReturnURL, o.ID),
		CancelURL:   withOrderID(g.cfg.CancelURL, o.ID),
		ExpiredAt:   g.now().Add(g.cfg.Expiry).Unix(),
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	link, err := g.provider.CreatePaymentLink(ctx, req)
	if err != nil {
		return orderapp.PaymentLink{}, err
	}
	g.log.InfoContext(ctx, "payment link created",
		"order_id", o.ID, "order_number", o.OrderNumber, "payment_link_id", link.PaymentLinkID)
	return orderapp.PaymentLink{
		LinkID:            link.PaymentLinkID,
		CheckoutURL:       link.CheckoutURL,
		ProviderOrderCode: strconv.FormatInt(code, 10),
	}, nil
}

func (g *Gateway) CancelLink(ctx context.Context, linkID, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	return g.provider.CancelPaymentLink(ctx, linkID, reason)
}

func withOrderID(base, orderID string) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("orderId", orderID)
	u.RawQuery = q.Encode()
	return u.String()
}
