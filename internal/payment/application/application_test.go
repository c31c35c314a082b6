package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	orderapp "github.com/dmehra2102/order-saga/internal/order/application"
	orderdomain "github.com/dmehra2102/order-saga/internal/order/domain"
	"github.com/dmehra2102/order-saga/internal/payment/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeProvider struct {
	req      domain.LinkRequest
	deadline bool
	err      error
	cancels  []string
}

func (p *fakeProvider) CreatePaymentLink(ctx context.Context, req domain.LinkRequest) (domain.Link, error) {
	p.req = req
	_, p.deadline = ctx.Deadline()
	if p.err != nil {
		return domain.Link{}, p.err
	}
	return domain.Link{PaymentLinkID: "L1", CheckoutURL: "https://pay.example/L1", OrderCode: req.OrderCode}, nil
}

func (p *fakeProvider) CancelPaymentLink(_ context.Context, linkID, _ string) error {
	p.cancels = append(p.cancels, linkID)
	return p.err
}

func sampleOrder() orderdomain.Order {
	items := []orderdomain.OrderItem{orderdomain.NewOrderItem("P1", "Keyboard", "", decimal.NewFromInt(100000), 2)}
	o := orderdomain.NewOrder("alice", "778899", items, "1 Main St", orderdomain.MethodCard, "")
	o.ID = "order-1"
	return o
}

func TestGatewayCreateLink(t *testing.T) {
	p := &fakeProvider{}
	g := NewGateway(discard(), p, GatewayConfig{ReturnURL: "https://shop.example/checkout/orders/success", CancelURL: "https://shop.example/checkout/orders/cancel?src=payos"})
	fixed := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return fixed }

	link, err := g.CreateLink(context.Background(), sampleOrder())
	require.NoError(t, err)

	assert.Equal(t, orderapp.PaymentLink{LinkID: "L1", CheckoutURL: "https://pay.example/L1", ProviderOrderCode: "778899"}, link)
	assert.True(t, p.deadline)
	assert.Equal(t, int64(778899), p.req.OrderCode)
	assert.Equal(t, int64(200000), p.req.Amount)
	assert.Equal(t, "Order #778899", p.req.Description)
	assert.Equal(t, fixed.Add(5*time.Minute).Unix(), p.req.ExpiredAt)
	require.Len(t, p.req.Items, 1)
	assert.Equal(t, domain.LinkItem{Name: "Keyboard", Quantity: 2, Price: 100000}, p.req.Items[0])

	ret, err := url.Parse(p.req.ReturnURL)
	require.NoError(t, err)
	assert.Equal(t, "order-1", ret.Query().Get("orderId"))
	cancel, err := url.Parse(p.req.CancelURL)
	require.NoError(t, err)
	assert.Equal(t, "order-1", cancel.Query().Get("orderId"))
	assert.Equal(t, "payos", cancel.Query().Get("src"))
}

func TestGatewayChargesRoundedTotal(t *testing.T) {
	p := &fakeProvider{}
	g := NewGateway(discard(), p, GatewayConfig{})
	items := []orderdomain.OrderItem{orderdomain.NewOrderItem("P1", "Keyboard", "", decimal.RequireFromString("100.50"), 1)}
	o := orderdomain.NewOrder("alice", "778899", items, "1 Main St", orderdomain.MethodCard, "")

	_, err := g.CreateLink(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, int64(101), p.req.Amount)
	assert.Equal(t, o.ChargeAmount().IntPart(), p.req.Amount)
}

func TestGatewayRejectsNonNumericOrderNumber(t *testing.T) {
	g := NewGateway(discard(), &fakeProvider{}, GatewayConfig{})
	o := sampleOrder()
	o.OrderNumber = "ABC"
	_, err := g.CreateLink(context.Background(), o)
	assert.Error(t, err)
}

func TestGatewayPropagatesProviderError(t *testing.T) {
	boom := errors.New("provider down")
	p := &fakeProvider{err: boom}
	g := NewGateway(discard(), p, GatewayConfig{})

	_, err := g.CreateLink(context.Background(), sampleOrder())
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, g.CancelLink(context.Background(), "L1", "x"), boom)
	assert.Equal(t, []string{"L1"}, p.cancels)
}

type stubVerifier struct {
	w   domain.Webhook
	err error
}

func (v stubVerifier) VerifyWebhook([]byte) (domain.Webhook, error) { return v.w, v.err }

type recordingQueue struct {
	mu  sync.Mutex
	cbs []orderapp.PaymentCallback
	err error
}

func (q *recordingQueue) Enqueue(_ context.Context, cb orderapp.PaymentCallback) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.cbs = append(q.cbs, cb)
	return nil
}

func TestIntakeQueuesVerifiedCallback(t *testing.T) {
	w := domain.Webhook{Code: "00", Data: domain.WebhookData{OrderCode: 778899, Amount: 200000, Reference: "FT1", Code: "00", PaymentLinkID: "L1"}}
	q := &recordingQueue{}
	in := NewIntake(discard(), stubVerifier{w: w}, q)

	require.NoError(t, in.Receive(context.Background(), []byte("{}")))
	require.Len(t, q.cbs, 1)
	cb := q.cbs[0]
	assert.Equal(t, "778899", cb.ProviderOrderCode)
	assert.Equal(t, "00", cb.ResultCode)
	assert.Equal(t, "FT1", cb.Reference)
	assert.Equal(t, "L1", cb.LinkID)
	assert.True(t, cb.Amount.Equal(decimal.NewFromInt(200000)))
}

func TestIntakeRejectsBadSignature(t *testing.T) {
	q := &recordingQueue{}
	in := NewIntake(discard(), stubVerifier{err: domain.ErrInvalidSignature}, q)

	err := in.Receive(context.Background(), []byte("{}"))
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	assert.Empty(t, q.cbs)
}

func TestIntakeReportsQueueFailure(t *testing.T) {
	q := &recordingQueue{err: errors.New("broker down")}
	in := NewIntake(discard(), stubVerifier{w: domain.Webhook{Data: domain.WebhookData{OrderCode: 1}}}, q)

	err := in.Receive(context.Background(), []byte("{}"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInvalidSignature)
}

type flakyHandler struct {
	mu       sync.Mutex
	failures int
	calls    int
	done     chan struct{}
}

func (h *flakyHandler) HandleCallback(context.Context, orderapp.PaymentCallback) (orderapp.Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.calls <= h.failures {
		return "", errors.New("db unavailable")
	}
	close(h.done)
	return orderapp.OutcomeApplied, nil
}

func TestInlineQueueRetriesUntilSuccess(t *testing.T) {
	h := &flakyHandler{failures: 2, done: make(chan struct{})}
	q := NewInlineQueue(discard(), h, 1, 1).WithRetry(5, time.Millisecond)

	require.NoError(t, q.Enqueue(context.Background(), orderapp.PaymentCallback{ProviderOrderCode: "1"}))
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never succeeded")
	}
	q.Close()
	assert.Equal(t, 3, h.calls)
}

type countingHandler struct {
	mu    sync.Mutex
	calls int
}

func (h *countingHandler) HandleCallback(context.Context, orderapp.PaymentCallback) (orderapp.Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	return "", errors.New("always failing")
}

func TestInlineQueueGivesUpAndRejectsAfterClose(t *testing.T) {
	h := &countingHandler{}
	q := NewInlineQueue(discard(), h, 2, 4).WithRetry(3, time.Millisecond)

	require.NoError(t, q.Enqueue(context.Background(), orderapp.PaymentCallback{ProviderOrderCode: "1"}))
	q.Close()

	assert.Equal(t, 3, h.calls)
	assert.ErrorIs(t, q.Enqueue(context.Background(), orderapp.PaymentCallback{}), ErrQueueClosed)
}
