package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) Key(topic string, partition int, offset int64) string {
	return fmt.Sprintf("idem:%s:%d:%d", topic, partition, offset)
}

// Processed reports whether MarkProcessed was called for key.
func (s *Store) Processed(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkProcessed records key once its message has been handled.
func (s *Store) MarkProcessed(ctx context.Context, key string) error {
	return s.rdb.Set(ctx, key, "1", s.ttl).Err()
}

// Response is a stored HTTP reply replayed for a repeated Idempotency-Key.
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// Lookup returns the stored response; pending is true while the first
// request with this key is still running.
func (s *Store) Lookup(ctx context.Context, key string) (resp Response, found, pending bool, err error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Response{}, false, false, nil
	}
	if err != nil {
		return Response{}, false, false, err
	}
	if string(raw) == pendingMarker {
		return Response{}, true, true, nil
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, false, false, fmt.Errorf("idempotency: decode %s: %w", key, err)
	}
	return resp, true, false, nil
}

// Begin claims key for the current request.
func (s *Store) Begin(ctx context.Context, key string) (bool, error) {
	return s.rdb.SetNX(ctx, key, pendingMarker, s.ttl).Result()
}

func (s *Store) Complete(ctx context.Context, key string, resp Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, b, s.ttl).Err()
}

func (s *Store) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
