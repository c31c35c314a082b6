package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dmehra2102/order-saga/internal/order/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const HeaderUserID = "X-User-Id"

type identityKey struct{}

func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFrom(ctx context.Context) domain.Identity {
	id, _ := ctx.Value(identityKey{}).(domain.Identity)
	return id
}

// Identity trusts the user id resolved by the gateway and keeps the raw
// Authorization value for calls to the cart service.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := domain.Identity{
			UserID: r.Header.Get(HeaderUserID),
			Token:  r.Header.Get("Authorization"),
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IdentityFrom(r.Context()).Anonymous() {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing user identity")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type RequestObserver interface {
	ObserveRequest(route string, status int, elapsed time.Duration)
}

// Instrument records status and latency per chi route pattern. It must be
// installed with Use on a chi router so the pattern is resolved.
func Instrument(obs RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			obs.ObserveRequest(route, status, time.Since(start))
		})
	}
}
