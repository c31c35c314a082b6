package idempotency

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
)

const HeaderKey = "Idempotency-Key"

// Cache is the part of Store the HTTP middleware needs.
type Cache interface {
	Lookup(ctx context.Context, key string) (resp Response, found, pending bool, err error)
	Begin(ctx context.Context, key string) (bool, error)
	Complete(ctx context.Context, key string, resp Response) error
	Release(ctx context.Context, key string) error
}

// Middleware replays the stored response for a repeated Idempotency-Key.
// scope namespaces keys, typically by caller. Requests without the header
// pass through untouched; cache failures degrade to no deduplication.
func Middleware(log *slog.Logger, cache Cache, scope func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(HeaderKey)
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			key := "idem:http:" + scope(r) + ":" + r.Method + ":" + r.URL.Path + ":" + id

			resp, found, pending, err := cache.Lookup(ctx, key)
			if err != nil {
				log.WarnContext(ctx, "idempotency lookup failed", "err", err)
				next.ServeHTTP(w, r)
				return
			}
			if pending {
				http.Error(w, `{"error":"conflict","message":"request with this idempotency key is in progress"}`, http.StatusConflict)
				return
			}
			if found {
				replay(w, resp)
				return
			}

			claimed, err := cache.Begin(ctx, key)
			if err != nil {
				log.WarnContext(ctx, "idempotency claim failed", "err", err)
				next.ServeHTTP(w, r)
				return
			}
			if !claimed {
				http.Error(w, `{"error":"conflict","message":"request with this idempotency key is in progress"}`, http.StatusConflict)
				return
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= 500 {
				if err := cache.Release(context.WithoutCancel(ctx), key); err != nil {
					log.WarnContext(ctx, "idempotency release failed", "err", err)
				}
				return
			}
			stored := Response{Status: rec.status, ContentType: rec.Header().Get("Content-Type"), Body: rec.body.Bytes()}
			if err := cache.Complete(context.WithoutCancel(ctx), key, stored); err != nil {
				log.WarnContext(ctx, "idempotency store failed", "err", err)
			}
		})
	}
}

func replay(w http.ResponseWriter, resp Response) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
