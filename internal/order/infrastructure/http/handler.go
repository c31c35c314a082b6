package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dmehra2102/order-saga/internal/order/application"
	"github.com/dmehra2102/order-saga/internal/order/domain"
	"github.com/dmehra2102/order-saga/pkg/idempotency"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type OrderService interface {
	CreateOrder(ctx context.Context, id domain.Identity, req application.CreateOrderRequest) (domain.Order, error)
	CancelOrder(ctx context.Context, id domain.Identity, orderID string) (domain.Order, error)
	CancelCheckout(ctx context.Context, orderID string) (domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, target domain.OrderStatus) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (domain.Order, error)
	ListUserOrders(ctx context.Context, userID string, q application.ListQuery) (application.Page, error)
	ListOrdersByStatus(ctx context.Context, status domain.OrderStatus, q application.ListQuery) (application.Page, error)
}

type Handler struct {
	log       *slog.Logger
	service   OrderService
	idem      idempotency.Cache
	resultURL string
	tracer    trace.Tracer
}

// NewHandler wires the order API. idem may be nil, which disables
// Idempotency-Key replay.
func NewHandler(log *slog.Logger, service OrderService, idem idempotency.Cache, resultURL string) *Handler {
	return &Handler{
		log:       log,
		service:   service,
		idem:      idem,
		resultURL: resultURL,
		tracer:    otel.Tracer("order-http"),
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(Identity)

	r.Route("/api/orders", func(r chi.Router) {
		r.Use(requireIdentity)
		create := r.With()
		if h.idem != nil {
			create = r.With(idempotency.Middleware(h.log, h.idem, func(r *http.Request) string {
				return IdentityFrom(r.Context()).UserID
			}))
		}
		create.Post("/", h.createOrder)
		r.Get("/", h.listUserOrders)
		r.Get("/number/{number}", h.getOrderByNumber)
		r.Get("/status/{status}", h.listOrdersByStatus)
		r.Get("/{id}", h.getOrder)
		r.Post("/{id}/cancel", h.cancelOrder)
		r.Patch("/{id}/status", h.updateStatus)
	})

	r.Get("/checkout/orders/cancel", h.checkoutCancelled)
	r.Get("/checkout/orders/success", h.checkoutSucceeded)
	return r
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}

	o, err := h.service.CreateOrder(ctx, IdentityFrom(ctx), application.CreateOrderRequest{
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   domain.PaymentMethod(req.PaymentMethod),
		Notes:           req.Notes,
	})
	if err != nil {
		h.writeDomainError(ctx, w, err)
		return
	}
	span.SetAttributes(attribute.String("order.id", o.ID), attribute.String("order.number", o.OrderNumber))
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetOrder")
	defer span.End()

	o, err := h.service.GetOrder(ctx, chi.URLParam(r, "id"))
	h.writeOwnedOrder(ctx, w, o, err)
}

func (h *Handler) getOrderByNumber(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetOrderByNumber")
	defer span.End()

	o, err := h.service.GetOrderByNumber(ctx, chi.URLParam(r, "number"))
	h.writeOwnedOrder(ctx, w, o, err)
}

// writeOwnedOrder hides other users' orders behind a 404.
func (h *Handler) writeOwnedOrder(ctx context.Context, w http.ResponseWriter, o domain.Order, err error) {
	if err == nil && o.UserID != IdentityFrom(ctx).UserID {
		err = domain.Errorf(domain.KindOrderNotFound, "order not found")
	}
	if err != nil {
		h.writeDomainError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) listUserOrders(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListUserOrders")
	defer span.End()

	q, err := parseListQuery(r.URL.Query(), true)
	if err != nil {
		h.writeDomainError(ctx, w, err)
		return
	}
	page, err := h.service.ListUserOrders(ctx, IdentityFrom(ctx).UserID, q)
	if err != nil {
		h.writeDomainError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page))
}

func (h *Handler) listOrdersByStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListOrdersByStatus")
	defer span.End()

	q, err := parseListQuery(r.URL.Query(), false)
	if err != nil {
		h.writeDomainError(ctx, w, err)
		return
	}
	page, err := h.service.ListOrdersByStatus(ctx, domain.OrderStatus(chi.URLParam(r, "status")), q)
	if err != nil {
		h.writeDomainError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CancelOrder")
	defer span.End()

	o, err := h.service.CancelOrder(ctx, IdentityFrom(ctx), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateOrderStatus")
	defer span.End()

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}
	o, err := h.service.UpdateStatus(ctx, chi.URLParam(r, "id"), domain.OrderStatus(req.Status))
	if err != nil {
		h.writeDomainError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// checkoutCancelled is the provider's cancel redirect. The order is cancelled
// here; the webhook may arrive later and is then a no-op.
func (h *Handler) checkoutCancelled(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CheckoutCancelled")
	defer span.End()

	orderID := r.URL.Query().Get("orderId")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "orderId is required")
		return
	}
	status := "cancelled"
	if _, err := h.service.CancelCheckout(ctx, orderID); err != nil {
		h.log.WarnContext(ctx, "checkout cancel failed", "order_id", orderID, "err", err)
		status = "error"
	}
	h.redirect(w, r, status, orderID)
}

// checkoutSucceeded only redirects; payment state is set by the webhook.
func (h *Handler) checkoutSucceeded(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("orderId")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "orderId is required")
		return
	}
	h.redirect(w, r, "success", orderID)
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, status, orderID string) {
	target := h.resultURL
	if target == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": status, "order_id": orderID})
		return
	}
	u, err := url.Parse(target)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "invalid result url")
		return
	}
	q := u.Query()
	q.Set("status", status)
	q.Set("orderId", orderID)
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

func parseListQuery(v url.Values, withRange bool) (application.ListQuery, error) {
	var q application.ListQuery
	var err error
	if s := v.Get("page"); s != "" {
		if q.Page, err = strconv.Atoi(s); err != nil {
			return q, domain.Errorf(domain.KindInvalidRequest, "page must be an integer")
		}
	}
	if s := v.Get("size"); s != "" {
		if q.Size, err = strconv.Atoi(s); err != nil {
			return q, domain.Errorf(domain.KindInvalidRequest, "size must be an integer")
		}
	}
	if !withRange {
		return q, nil
	}
	if q.From, err = parseTime(v.Get("from"), false); err != nil {
		return q, err
	}
	if q.To, err = parseTime(v.Get("to"), true); err != nil {
		return q, err
	}
	return q, nil
}

// parseTime accepts RFC 3339 or a plain date. A plain upper bound covers the
// whole day.
func parseTime(s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, domain.Errorf(domain.KindInvalidRequest, "invalid time %q", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func (h *Handler) writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	switch {
	case kind.Validation():
		writeError(w, http.StatusUnprocessableEntity, kind.String(), messageOf(err, kind))
	case kind == domain.KindOrderNotFound:
		writeError(w, http.StatusNotFound, kind.String(), messageOf(err, kind))
	case kind == domain.KindInvalidStateTransition:
		writeError(w, http.StatusConflict, kind.String(), messageOf(err, kind))
	case errors.Is(err, domain.ErrOrderCreationFailed):
		h.log.ErrorContext(ctx, "order creation failed", "err", err)
		writeError(w, http.StatusBadGateway, domain.KindOrderCreationFailed.String(), "order could not be created, please retry")
	default:
		h.log.ErrorContext(ctx, "request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

// messageOf returns the message of the innermost error of the given kind.
func messageOf(err error, kind domain.Kind) string {
	msg := kind.String()
	for err != nil {
		var de *domain.Error
		if !errors.As(err, &de) {
			break
		}
		if de.Kind == kind && de.Msg != "" {
			msg = de.Msg
		}
		err = de.Err
	}
	return msg
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
