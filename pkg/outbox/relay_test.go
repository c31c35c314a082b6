package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	pending []Event
	sent    []int64
	failed  map[int64]string
}

func (s *memStore) LockBatch(_ context.Context, _ string, batchSize int, _ time.Duration) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := min(batchSize, len(s.pending))
	batch := s.pending[:n]
	s.pending = s.pending[n:]
	return batch, nil
}

func (s *memStore) MarkSent(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, ids...)
	return nil
}

func (s *memStore) MarkFailed(_ context.Context, id int64, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed == nil {
		s.failed = map[int64]string{}
	}
	s.failed[id] = errMsg
	return nil
}

func (s *memStore) ExtendLease(context.Context, string, []int64, time.Duration) error { return nil }

type memProducer struct {
	msgs   []kafka.Message
	failOn string
}

func (p *memProducer) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		if string(m.Key) == p.failOn {
			return errors.New("broker unavailable")
		}
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestTickDispatchesAndMarks(t *testing.T) {
	store := &memStore{pending: []Event{
		{ID: 1, AggregateID: "order-a", Type: "OrderPlaced", Payload: []byte(`{}`), Traceparent: "00-abc-def-01",
			Headers: map[string]string{"order_number": "123456"}},
		{ID: 2, AggregateID: "order-b", Type: "OrderPaid", Payload: []byte(`{}`)},
		{ID: 3, AggregateID: "order-c", Type: "OrderCancelled", Payload: []byte(`{}`)},
	}}
	producer := &memProducer{failOn: "order-b"}
	relay := NewRelay(discardLogger(), store, NewDispatcher(discardLogger(), producer, "order.events"), "relay-1")

	sent, err := relay.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []int64{1, 3}, store.sent)
	assert.Contains(t, store.failed, int64(2))

	require.Len(t, producer.msgs, 2)
	first := producer.msgs[0]
	assert.Equal(t, "order.events", first.Topic)
	assert.Equal(t, "order-a", string(first.Key))
	assert.Equal(t, "OrderPlaced", header(first, "event_type"))
	assert.Equal(t, "00-abc-def-01", header(first, "traceparent"))
	assert.Equal(t, "123456", header(first, "order_number"))
}

func TestTickWithEmptyBatch(t *testing.T) {
	relay := NewRelay(discardLogger(), &memStore{}, NewDispatcher(discardLogger(), &memProducer{}, "t"), "relay-1")
	sent, err := relay.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestRunStopsOnCancel(t *testing.T) {
	store := &memStore{pending: []Event{{ID: 7, AggregateID: "x", Type: "OrderPlaced"}}}
	relay := NewRelay(discardLogger(), store, NewDispatcher(discardLogger(), &memProducer{}, "t"), "relay-1").
		WithInterval(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.sent) == 1
	}, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
