package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	orderapp "github.com/dmehra2102/order-saga/internal/order/application"
	"github.com/dmehra2102/order-saga/pkg/tracing"
	"github.com/segmentio/kafka-go"
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher is the broker-backed CallbackQueue. Messages are keyed by order
// code so callbacks for one order stay on one partition.
type Publisher struct {
	writer MessageWriter
	topic  string
}

func NewPublisher(writer MessageWriter, topic string) *Publisher {
	return &Publisher{writer: writer, topic: topic}
}

func (p *Publisher) Enqueue(ctx context.Context, cb orderapp.PaymentCallback) error {
	value, err := json.Marshal(cb)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Topic:   p.topic,
		Key:     []byte(cb.ProviderOrderCode),
		Value:   value,
		Headers: tracing.InjectKafkaHeaders(ctx, nil),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: publish callback: %w", err)
	}
	return nil
}
