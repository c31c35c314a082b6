package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	orderapp "github.com/dmehra2102/order-saga/internal/order/application"
	"github.com/dmehra2102/order-saga/pkg/tracing"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const retryDelay = time.Second

type CallbackHandler interface {
	HandleCallback(ctx context.Context, cb orderapp.PaymentCallback) (orderapp.Outcome, error)
}

// Deduper remembers handled messages across redeliveries. A key is marked
// only after its message was handled, so a crash before the commit leads to
// reprocessing, never to a lost callback.
type Deduper interface {
	Key(topic string, partition int, offset int64) string
	Processed(ctx context.Context, key string) (bool, error)
	MarkProcessed(ctx context.Context, key string) error
}

// Consumer reconciles payment callbacks from the callback topic. A message is
// committed only after the reconciler succeeded or reported a non-retryable
// outcome.
type Consumer struct {
	log     *slog.Logger
	reader  *kafka.Reader
	handler CallbackHandler
	idem    Deduper
	tracer  trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string, handler CallbackHandler, idem Deduper) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{
		log:     log,
		reader:  r,
		handler: handler,
		idem:    idem,
		tracer:  otel.Tracer("payment-callback-consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer func() {
		_ = c.reader.Close()
	}()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if err := c.handle(ctx, msg); err != nil {
			// Leave the offset uncommitted; the reader is reset so the
			// message is fetched again.
			c.log.ErrorContext(ctx, "callback processing failed, will retry", "offset", msg.Offset, "err", err)
			if err := c.rewind(ctx, msg); err != nil {
				return err
			}
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.ErrorContext(ctx, "commit failed", "offset", msg.Offset, "err", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	key := c.idem.Key(msg.Topic, msg.Partition, msg.Offset)
	done, err := c.idem.Processed(ctx, key)
	if err != nil {
		return err
	}
	if done {
		c.log.InfoContext(ctx, "duplicate message skipped", "key", key)
		return nil
	}

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "ConsumePaymentCallback")
	defer span.End()

	var cb orderapp.PaymentCallback
	if err := json.Unmarshal(msg.Value, &cb); err != nil {
		c.log.ErrorContext(msgCtx, "unmarshal failed, message dropped", "err", err)
		return nil
	}
	span.SetAttributes(attribute.String("payment.order_code", cb.ProviderOrderCode))

	outcome, err := c.handler.HandleCallback(msgCtx, cb)
	if err != nil {
		span.RecordError(err)
		return err
	}
	c.log.InfoContext(msgCtx, "payment callback reconciled", "order_code", cb.ProviderOrderCode, "outcome", outcome)

	// The reconciler is idempotent, so a failed mark only costs a replay.
	if err := c.idem.MarkProcessed(context.WithoutCancel(ctx), key); err != nil {
		c.log.WarnContext(msgCtx, "idempotency mark failed", "key", key, "err", err)
	}
	return nil
}

// rewind reopens the partition at the failed offset. With a consumer group
// the reader cannot seek, so the uncommitted message is redelivered after
// the reader rejoins.
func (c *Consumer) rewind(ctx context.Context, msg kafka.Message) error {
	cfg := c.reader.Config()
	if err := c.reader.Close(); err != nil {
		c.log.WarnContext(ctx, "reader close failed", "err", err)
	}
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(retryDelay):
	}
	c.reader = kafka.NewReader(cfg)
	c.log.InfoContext(ctx, "reader restarted for redelivery", "partition", msg.Partition, "offset", msg.Offset)
	return nil
}
