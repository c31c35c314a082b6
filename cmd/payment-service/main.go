// Command payment-service is the standalone webhook edge: it verifies
// provider callbacks and publishes them to the callback topic consumed by
// order-service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	orderkafka "github.com/dmehra2102/order-saga/internal/order/infrastructure/kafka"
	paymentapp "github.com/dmehra2102/order-saga/internal/payment/application"
	paymenthttp "github.com/dmehra2102/order-saga/internal/payment/infrastructure/http"
	paymentkafka "github.com/dmehra2102/order-saga/internal/payment/infrastructure/kafka"
	"github.com/dmehra2102/order-saga/internal/payment/infrastructure/payos"
	"github.com/dmehra2102/order-saga/pkg/logging"
	"github.com/dmehra2102/order-saga/pkg/shutdown"
	"github.com/dmehra2102/order-saga/pkg/tracing"
)

func main() {
	log := logging.NewWithLevel(logging.ParseLevel(env("LOG_LEVEL", "info")))
	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	kafkaAddr := env("KAFKA_ADDR", "localhost:9092")
	otlp := env("OTLP_ENDPOINT", "")
	httpAddr := env("HTTP_ADDR", ":8081")
	callbackTopic := env("CALLBACK_TOPIC", "payment.callbacks")
	checksumKey := env("PAYOS_CHECKSUM_KEY", "")
	if checksumKey == "" {
		log.Error("PAYOS_CHECKSUM_KEY is required")
		os.Exit(1)
	}

	tp, err := tracing.Init(ctx, "payment-service", otlp, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	writer := orderkafka.NewWriter(log, strings.Split(kafkaAddr, ","))
	defer writer.Close()

	verifier := payos.NewClient(log, payos.Config{ChecksumKey: checksumKey}, nil)
	intake := paymentapp.NewIntake(log, verifier, paymentkafka.NewPublisher(writer, callbackTopic))

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	r.Mount("/api/payments", paymenthttp.NewHandler(log, intake).Routes())
	srv := &http.Server{
		Addr:         httpAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("http listening", "addr", httpAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("payment-service shutdown")
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
