package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/dmehra2102/order-saga/internal/order/application"
	"github.com/dmehra2102/order-saga/internal/order/domain"
	"github.com/shopspring/decimal"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCart struct {
	mu         sync.Mutex
	carts      map[string]application.Cart
	clearFails int
	clearCalls int
	restored   []application.Cart
	getErr     error
}

func newFakeCart() *fakeCart {
	return &fakeCart{carts: make(map[string]application.Cart)}
}

func (c *fakeCart) put(token string, items ...application.CartItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.carts[token] = application.Cart{Items: items}
}

func (c *fakeCart) items(token string) []application.CartItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.carts[token].Items
}

func (c *fakeCart) GetCart(_ context.Context, token string) (application.Cart, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return application.Cart{}, c.getErr
	}
	cart := c.carts[token]
	return application.Cart{Items: append([]application.CartItem(nil), cart.Items...)}, nil
}

func (c *fakeCart) ClearCart(_ context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearCalls++
	if c.clearFails > 0 {
		c.clearFails--
		return errors.New("cart service unavailable")
	}
	delete(c.carts, token)
	return nil
}

func (c *fakeCart) RestoreCart(_ context.Context, token string, cart application.Cart) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restored = append(c.restored, cart)
	c.carts[token] = cart
	return nil
}

func (c *fakeCart) stats() (clears int, restored int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clearCalls, len(c.restored)
}

type fakeCatalog struct {
	products map[string]application.Product
	err      error
}

func (c *fakeCatalog) GetProduct(_ context.Context, id string) (application.Product, error) {
	if c.err != nil {
		return application.Product{}, c.err
	}
	p, ok := c.products[id]
	if !ok {
		return application.Product{}, domain.Errorf(domain.KindProductNotFound, "product %s not found", id)
	}
	return p, nil
}

type fakeGateway struct {
	mu        sync.Mutex
	link      application.PaymentLink
	createErr error
	cancelErr error
	onCreate  func()
	noCode    bool
	created   int
	cancelled []string
}

func (g *fakeGateway) CreateLink(_ context.Context, o domain.Order) (application.PaymentLink, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.onCreate != nil {
		g.onCreate()
	}
	if g.createErr != nil {
		return application.PaymentLink{}, g.createErr
	}
	g.created++
	link := g.link
	if link.ProviderOrderCode == "" && !g.noCode {
		link.ProviderOrderCode = o.OrderNumber
	}
	if link.LinkID == "" {
		link.LinkID = "link-" + o.OrderNumber
	}
	return link, nil
}

func (g *fakeGateway) CancelLink(_ context.Context, linkID, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, linkID)
	return g.cancelErr
}

func (g *fakeGateway) cancelledLinks() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancelled...)
}

type countingMetrics struct {
	mu        sync.Mutex
	created   map[string]int
	failures  map[string]int
	callbacks map[string]int
	cartFails int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{created: map[string]int{}, failures: map[string]int{}, callbacks: map[string]int{}}
}

func (m *countingMetrics) OrderCreated(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created[method]++
}

func (m *countingMetrics) OrderCreationFailed(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[kind]++
}

func (m *countingMetrics) CallbackProcessed(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[outcome]++
}

func (m *countingMetrics) CartClearFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cartFails++
}

func keyboard(price int64, qty int) application.CartItem {
	return application.CartItem{ProductID: "42", ProductName: "Keyboard", Price: decimal.NewFromInt(price), Quantity: qty}
}

func catalogWith(price int64, stock int) *fakeCatalog {
	return &fakeCatalog{products: map[string]application.Product{
		"42": {ID: "42", Name: "Mechanical Keyboard", Price: decimal.NewFromInt(price), StockQuantity: stock},
	}}
}
