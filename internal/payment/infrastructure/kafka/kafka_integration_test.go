//go:build integration

package kafka_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	orderapp "github.com/dmehra2102/order-saga/internal/order/application"
	orderkafka "github.com/dmehra2102/order-saga/internal/order/infrastructure/kafka"
	paymentkafka "github.com/dmehra2102/order-saga/internal/payment/infrastructure/kafka"
	"github.com/dmehra2102/order-saga/test/integration"
	"github.com/stretchr/testify/require"
)

type memDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memDeduper) Key(topic string, partition int, offset int64) string {
	return fmt.Sprintf("%s:%d:%d", topic, partition, offset)
}

func (d *memDeduper) Processed(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[key], nil
}

func (d *memDeduper) MarkProcessed(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[key] = true
	return nil
}

type collectingHandler struct {
	got chan orderapp.PaymentCallback
}

func (h collectingHandler) HandleCallback(_ context.Context, cb orderapp.PaymentCallback) (orderapp.Outcome, error) {
	h.got <- cb
	return orderapp.OutcomeApplied, nil
}

func TestCallbackRoundTrip(t *testing.T) {
	brokers := integration.Kafka(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	writer := orderkafka.NewWriter(log, brokers)
	defer writer.Close()
	pub := paymentkafka.NewPublisher(writer, "payment.callbacks")
	require.NoError(t, pub.Enqueue(ctx, orderapp.PaymentCallback{ProviderOrderCode: "778899", ResultCode: "00", Reference: "FT1"}))

	h := collectingHandler{got: make(chan orderapp.PaymentCallback, 1)}
	consumer := paymentkafka.NewConsumer(log, brokers, "payment.callbacks", "test-group", h, &memDeduper{seen: map[string]bool{}})
	go func() { _ = consumer.Run(ctx) }()

	select {
	case cb := <-h.got:
		require.Equal(t, "778899", cb.ProviderOrderCode)
		require.Equal(t, "FT1", cb.Reference)
	case <-ctx.Done():
		t.Fatal("callback was not consumed")
	}
}
