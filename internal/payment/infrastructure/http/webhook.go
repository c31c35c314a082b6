package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dmehra2102/order-saga/internal/payment/domain"
	"github.com/go-chi/chi/v5"
)

const maxWebhookBody = 64 << 10

type Receiver interface {
	Receive(ctx context.Context, body []byte) error
}

type Handler struct {
	log      *slog.Logger
	receiver Receiver
}

func NewHandler(log *slog.Logger, receiver Receiver) *Handler {
	return &Handler{log: log, receiver: receiver}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/webhook", h.webhook)
	return r
}

// webhook acknowledges every verified callback whatever its processing
// outcome; only unparsable or unsigned bodies are rejected.
func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "rejected", "message": "unreadable body"})
		return
	}

	err = h.receiver.Receive(ctx, body)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
	case errors.Is(err, domain.ErrMalformedWebhook), errors.Is(err, domain.ErrInvalidSignature):
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "rejected", "message": "invalid webhook"})
	default:
		h.log.ErrorContext(ctx, "webhook not queued", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "retry"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
