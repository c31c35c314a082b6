package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	orchapp "github.com/dmehra2102/order-saga/internal/orchestrator/application"
	orchdomain "github.com/dmehra2102/order-saga/internal/orchestrator/domain"
	"github.com/dmehra2102/order-saga/internal/order/domain"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const createOrderSaga = "create_order"

type CreateOrderRequest struct {
	ShippingAddress string
	PaymentMethod   domain.PaymentMethod
	Notes           string
}

func (r CreateOrderRequest) validate() error {
	if r.ShippingAddress == "" {
		return domain.Errorf(domain.KindInvalidRequest, "shipping address is required")
	}
	if _, err := domain.ParsePaymentMethod(string(r.PaymentMethod)); err != nil {
		return err
	}
	return nil
}

type Deps struct {
	Repo    OrderRepository
	Cart    CartClient
	Catalog CatalogClient
	Gateway PaymentGateway
	Saga    *orchapp.Coordinator
	Metrics Metrics
	// CartRetry takes over cart clears that failed after the order was placed.
	CartRetry *CartClearRetrier
}

type Service struct {
	log       *slog.Logger
	repo      OrderRepository
	cart      CartClient
	gateway   PaymentGateway
	validator *Validator
	numbers   *NumberGenerator
	saga      *orchapp.Coordinator
	cartRetry *CartClearRetrier
	metrics   Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

func NewService(log *slog.Logger, deps Deps) *Service {
	s := &Service{
		log:       log,
		repo:      deps.Repo,
		cart:      deps.Cart,
		gateway:   deps.Gateway,
		validator: NewValidator(deps.Catalog),
		numbers:   NewNumberGenerator(deps.Repo),
		saga:      deps.Saga,
		cartRetry: deps.CartRetry,
		metrics:   deps.Metrics,
		tracer:    otel.Tracer("order-service"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	if s.saga == nil {
		s.saga = orchapp.NewCoordinator(log, nil)
	}
	if s.cartRetry == nil {
		s.cartRetry = NewCartClearRetrier(log, deps.Cart)
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	return s
}

// CreateOrder turns the caller's cart into a placed order. On failure nothing
// stays persisted and the error has kind OrderCreationFailed wrapping the cause.
func (s *Service) CreateOrder(ctx context.Context, id domain.Identity, req CreateOrderRequest) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "CreateOrder", trace.WithAttributes(
		attribute.String("user.id", id.UserID),
		attribute.String("payment.method", string(req.PaymentMethod)),
	))
	defer span.End()

	if id.Anonymous() {
		return domain.Order{}, s.creationFailed(ctx, span, domain.Errorf(domain.KindInvalidRequest, "user identity is required"))
	}
	if err := req.validate(); err != nil {
		return domain.Order{}, s.creationFailed(ctx, span, err)
	}

	c := &creation{identity: id, req: req}
	steps := []orchdomain.Step{
		&fetchCartStep{svc: s, c: c},
		&validateCartStep{svc: s, c: c},
		&persistOrderStep{svc: s, c: c},
		&paymentPathStep{svc: s, c: c},
		&finalizeOrderStep{svc: s, c: c},
	}
	if err := s.saga.Run(ctx, uuid.NewString(), createOrderSaga, sagaPayload(id, req), steps); err != nil {
		return domain.Order{}, s.creationFailed(ctx, span, err)
	}

	o := c.order
	span.SetAttributes(attribute.String("order.id", o.ID), attribute.String("order.number", o.OrderNumber))
	s.metrics.OrderCreated(string(o.Payment.Method))
	s.log.InfoContext(ctx, "order placed",
		"order_id", o.ID, "order_number", o.OrderNumber, "status", o.Status, "payment_method", o.Payment.Method)

	s.clearCart(ctx, id.Token, o)
	return o, nil
}

func (s *Service) creationFailed(ctx context.Context, span trace.Span, err error) error {
	err = domain.CreationFailed(err)
	kind := domain.KindOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, kind.String())
	s.metrics.OrderCreationFailed(kind.String())
	if kind.Validation() {
		s.log.InfoContext(ctx, "order rejected", "kind", kind.String(), "err", err)
	} else {
		s.log.ErrorContext(ctx, "order creation failed", "kind", kind.String(), "err", err)
	}
	return err
}

// clearCart never fails the order; the order is the source of truth once placed.
func (s *Service) clearCart(ctx context.Context, token string, o domain.Order) {
	if err := s.cart.ClearCart(ctx, token); err != nil {
		s.metrics.CartClearFailed()
		s.log.WarnContext(ctx, "cart clear failed, retrying in background", "order_id", o.ID, "err", err)
		s.cartRetry.Schedule(context.WithoutCancel(ctx), token, o.ID)
	}
}

// selectPaymentPath moves COD orders straight to PROCESSING and opens a hosted
// payment link for every other method. The returned link is non-nil whenever
// the gateway created one, even if attaching it failed.
func (s *Service) selectPaymentPath(ctx context.Context, o *domain.Order) (*PaymentLink, error) {
	if o.Payment.Method == domain.MethodCOD {
		return nil, o.MarkProcessing(s.now())
	}

	link, err := s.gateway.CreateLink(ctx, *o)
	if err != nil {
		return nil, err
	}
	if err := o.AttachPaymentLink(link.LinkID, link.CheckoutURL, link.ProviderOrderCode, s.now()); err != nil {
		return &link, err
	}
	return &link, nil
}

// cancelLink is best effort: the gateway owns its link state and the local
// cancellation has already been committed.
func (s *Service) cancelLink(ctx context.Context, o domain.Order, reason string) {
	if o.Payment.Method == domain.MethodCOD || o.Payment.PaymentLinkID == "" {
		return
	}
	if err := s.gateway.CancelLink(ctx, o.Payment.PaymentLinkID, reason); err != nil {
		s.log.WarnContext(ctx, "payment link cancel failed",
			"order_id", o.ID, "link_id", o.Payment.PaymentLinkID, "err", err)
	}
}

func sagaPayload(id domain.Identity, req CreateOrderRequest) string {
	b, err := json.Marshal(map[string]string{
		"user_id":        id.UserID,
		"payment_method": string(req.PaymentMethod),
	})
	if err != nil {
		return ""
	}
	return string(b)
}
