package idempotency

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCache struct {
	mu      sync.Mutex
	pending map[string]bool
	done    map[string]Response
}

func newMemCache() *memCache {
	return &memCache{pending: map[string]bool{}, done: map[string]Response{}}
}

func (c *memCache) Lookup(_ context.Context, key string) (Response, bool, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[key] {
		return Response{}, true, true, nil
	}
	resp, ok := c.done[key]
	return resp, ok, false, nil
}

func (c *memCache) Begin(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[key] {
		return false, nil
	}
	c.pending[key] = true
	return true, nil
}

func (c *memCache) Complete(_ context.Context, key string, resp Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, key)
	c.done[key] = resp
	return nil
}

func (c *memCache) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, key)
	return nil
}

func serve(h http.Handler, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	if key != "" {
		req.Header.Set(HeaderKey, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareReplaysResponse(t *testing.T) {
	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"1"}`))
	})
	h := Middleware(slog.New(slog.NewTextHandler(io.Discard, nil)), newMemCache(), func(*http.Request) string { return "alice" })(next)

	first := serve(h, "k1")
	second := serve(h, "k1")
	other := serve(h, "k2")
	none := serve(h, "")

	assert.Equal(t, 3, calls)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Empty(t, other.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, http.StatusCreated, none.Code)
}

func TestMiddlewareReleasesOnServerError(t *testing.T) {
	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})
	cache := newMemCache()
	h := Middleware(slog.New(slog.NewTextHandler(io.Discard, nil)), cache, func(*http.Request) string { return "alice" })(next)

	serve(h, "k1")
	serve(h, "k1")
	require.Equal(t, 2, calls)
	assert.Empty(t, cache.done)
}

func TestMiddlewareRejectsConcurrentDuplicate(t *testing.T) {
	cache := newMemCache()
	cache.pending["idem:http:alice:POST:/api/orders:k1"] = true
	h := Middleware(slog.New(slog.NewTextHandler(io.Discard, nil)), cache, func(*http.Request) string { return "alice" })(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) { t.Fatal("handler must not run") }))

	rec := serve(h, "k1")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
