package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dmehra2102/order-saga/internal/payment/domain"
	"github.com/stretchr/testify/assert"
)

type stubReceiver struct {
	err  error
	body string
}

func (s *stubReceiver) Receive(_ context.Context, body []byte) error {
	s.body = string(body)
	return s.err
}

func TestWebhookResponses(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{name: "accepted", wantCode: http.StatusOK, wantBody: `"status":"received"`},
		{name: "bad json", err: fmt.Errorf("%w: eof", domain.ErrMalformedWebhook), wantCode: http.StatusBadRequest, wantBody: "invalid webhook"},
		{name: "bad signature", err: domain.ErrInvalidSignature, wantCode: http.StatusBadRequest, wantBody: "invalid webhook"},
		{name: "queue down", err: errors.New("broker down"), wantCode: http.StatusServiceUnavailable, wantBody: "retry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recv := &stubReceiver{err: tt.err}
			h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), recv)

			req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"code":"00"}`))
			rec := httptest.NewRecorder()
			h.Routes().ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
			assert.Equal(t, `{"code":"00"}`, recv.body)
		})
	}
}
