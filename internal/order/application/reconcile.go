package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmehra2102/order-saga/internal/order/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Provider result codes.
const (
	ResultCodeSuccess   = "00"
	ResultCodeExpired   = "98"
	ResultCodeCancelled = "99"
)

var resultCodes = map[string]domain.PaymentResult{
	ResultCodeSuccess:   domain.ResultPaid,
	ResultCodeExpired:   domain.ResultCancelled,
	ResultCodeCancelled: domain.ResultCancelled,
}

type Outcome string

const (
	OutcomeApplied      Outcome = "applied"
	OutcomeNoop         Outcome = "noop"
	OutcomeIgnored      Outcome = "ignored"
	OutcomeUnknownOrder Outcome = "unknown_order"
)

// Reconciler applies payment provider callbacks to orders. Delivery is
// at-least-once and may race user cancellation, so every callback is applied
// under the store's per-order lock and only along state machine edges.
type Reconciler struct {
	log     *slog.Logger
	repo    OrderRepository
	metrics Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

func NewReconciler(log *slog.Logger, repo OrderRepository, metrics Metrics) *Reconciler {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Reconciler{
		log:     log,
		repo:    repo,
		metrics: metrics,
		tracer:  otel.Tracer("payment-reconciler"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// HandleCallback only returns persistence errors, so the caller knows when to redeliver.
func (r *Reconciler) HandleCallback(ctx context.Context, cb PaymentCallback) (Outcome, error) {
	ctx, span := r.tracer.Start(ctx, "HandleCallback", trace.WithAttributes(
		attribute.String("payment.provider_order_code", cb.ProviderOrderCode),
		attribute.String("payment.result_code", cb.ResultCode),
	))
	defer span.End()

	outcome, err := r.handle(ctx, cb)
	if err != nil {
		span.RecordError(err)
		r.log.ErrorContext(ctx, "payment callback failed", "order_code", cb.ProviderOrderCode, "err", err)
		return outcome, err
	}
	span.SetAttributes(attribute.String("payment.outcome", string(outcome)))
	r.metrics.CallbackProcessed(string(outcome))
	return outcome, nil
}

func (r *Reconciler) handle(ctx context.Context, cb PaymentCallback) (Outcome, error) {
	if cb.ProviderOrderCode == "" {
		r.log.WarnContext(ctx, "payment callback without order code discarded")
		return OutcomeUnknownOrder, nil
	}

	outcome := OutcomeNoop
	mismatch := false
	o, err := r.repo.MutateByProviderCode(ctx, cb.ProviderOrderCode, func(o *domain.Order) (bool, error) {
		result, ok := resultCodes[cb.ResultCode]
		if !ok {
			outcome = OutcomeIgnored
			return false, nil
		}
		mismatch = result == domain.ResultPaid && !cb.Amount.IsZero() && !cb.Amount.Equal(o.ChargeAmount())
		if o.ApplyPaymentResult(result, cb.Reference, r.now()) {
			outcome = OutcomeApplied
			return true, nil
		}
		return false, nil
	})
	if errors.Is(err, domain.ErrOrderNotFound) {
		r.log.InfoContext(ctx, "payment callback for unknown order discarded", "order_code", cb.ProviderOrderCode)
		return OutcomeUnknownOrder, nil
	}
	if err != nil {
		return OutcomeNoop, err
	}

	if mismatch {
		r.log.WarnContext(ctx, "paid amount differs from charged amount",
			"order_id", o.ID, "amount", cb.Amount.String(), "charged", o.ChargeAmount().String())
	}
	switch outcome {
	case OutcomeIgnored:
		r.log.WarnContext(ctx, "payment callback ignored",
			"order_id", o.ID, "result_code", cb.ResultCode, "amount", cb.Amount.String(), "order_total", o.TotalAmount.String())
	case OutcomeApplied:
		r.log.InfoContext(ctx, "payment callback applied",
			"order_id", o.ID, "status", o.Status, "payment_status", o.Payment.Status, "reference", o.Payment.TransactionID)
	default:
		r.log.DebugContext(ctx, "payment callback had no effect", "order_id", o.ID, "status", o.Status)
	}
	return outcome, nil
}
