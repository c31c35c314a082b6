package application

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	orderapp "github.com/dmehra2102/order-saga/internal/order/application"
	"github.com/dmehra2102/order-saga/internal/payment/domain"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type WebhookVerifier interface {
	VerifyWebhook(body []byte) (domain.Webhook, error)
}

// CallbackQueue hands verified callbacks to the reconciler asynchronously.
type CallbackQueue interface {
	Enqueue(ctx context.Context, cb orderapp.PaymentCallback) error
}

// Intake accepts provider webhooks. It never reconciles inline, so the
// provider's response does not depend on processing.
type Intake struct {
	log      *slog.Logger
	verifier WebhookVerifier
	queue    CallbackQueue
	tracer   trace.Tracer
}

func NewIntake(log *slog.Logger, verifier WebhookVerifier, queue CallbackQueue) *Intake {
	return &Intake{log: log, verifier: verifier, queue: queue, tracer: otel.Tracer("payment-intake")}
}

// Receive returns domain.ErrMalformedWebhook or domain.ErrInvalidSignature for
// requests the provider should not retry; any other error means the callback
// was not queued.
func (i *Intake) Receive(ctx context.Context, body []byte) error {
	ctx, span := i.tracer.Start(ctx, "ReceiveWebhook")
	defer span.End()

	w, err := i.verifier.VerifyWebhook(body)
	if err != nil {
		i.log.WarnContext(ctx, "webhook rejected", "err", err)
		return err
	}
	cb := ToCallback(w)
	span.SetAttributes(
		attribute.String("payment.order_code", cb.ProviderOrderCode),
		attribute.String("payment.result_code", cb.ResultCode),
	)
	i.log.InfoContext(ctx, "webhook received",
		"order_code", cb.ProviderOrderCode, "result_code", cb.ResultCode, "reference", cb.Reference)

	if err := i.queue.Enqueue(ctx, cb); err != nil {
		i.log.ErrorContext(ctx, "webhook enqueue failed", "order_code", cb.ProviderOrderCode, "err", err)
		return fmt.Errorf("enqueue callback %s: %w", cb.ProviderOrderCode, err)
	}
	return nil
}

func ToCallback(w domain.Webhook) orderapp.PaymentCallback {
	cb := orderapp.PaymentCallback{
		ResultCode: w.ResultCode(),
		Reference:  w.Data.Reference,
		Amount:     decimal.NewFromInt(w.Data.Amount),
		LinkID:     w.Data.PaymentLinkID,
	}
	if w.Data.OrderCode != 0 {
		cb.ProviderOrderCode = strconv.FormatInt(w.Data.OrderCode, 10)
	}
	return cb
}
