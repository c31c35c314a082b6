package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/dmehra2102/order-saga/internal/cart"
	"github.com/dmehra2102/order-saga/internal/catalog"
	orchapp "github.com/dmehra2102/order-saga/internal/orchestrator/application"
	"github.com/dmehra2102/order-saga/internal/orchestrator/infrastructure/sqlite"
	orderapp "github.com/dmehra2102/order-saga/internal/order/application"
	ordergrpc "github.com/dmehra2102/order-saga/internal/order/infrastructure/grpc"
	orderhttp "github.com/dmehra2102/order-saga/internal/order/infrastructure/http"
	orderkafka "github.com/dmehra2102/order-saga/internal/order/infrastructure/kafka"
	orderpg "github.com/dmehra2102/order-saga/internal/order/infrastructure/postgres"
	paymentapp "github.com/dmehra2102/order-saga/internal/payment/application"
	paymenthttp "github.com/dmehra2102/order-saga/internal/payment/infrastructure/http"
	paymentkafka "github.com/dmehra2102/order-saga/internal/payment/infrastructure/kafka"
	"github.com/dmehra2102/order-saga/internal/payment/infrastructure/payos"
	"github.com/dmehra2102/order-saga/pkg/idempotency"
	"github.com/dmehra2102/order-saga/pkg/logging"
	"github.com/dmehra2102/order-saga/pkg/metrics"
	"github.com/dmehra2102/order-saga/pkg/outbox"
	"github.com/dmehra2102/order-saga/pkg/shutdown"
	"github.com/dmehra2102/order-saga/pkg/tracing"
)

func main() {
	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		logging.New().Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logging.NewWithLevel(logging.ParseLevel(cfg.LogLevel))

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	closer := shutdown.NewCloser(log)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		_ = closer.Close(shutdownCtx)
		log.Info("order-service shutdown complete")
	}()

	tp, err := tracing.Init(ctx, "order-service", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		return
	}
	closer.Add("tracer", tp.Shutdown)

	// Postgres
	pool, err := pgxpool.New(ctx, cfg.PGURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		return
	}
	closer.AddFunc("postgres", pool.Close)
	if err := orderpg.Migrate(ctx, pool); err != nil {
		log.Error("pg migrate failed", "err", err)
		return
	}

	// Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	closer.Add("redis", func(context.Context) error { return rdb.Close() })
	idem := idempotency.NewStore(rdb, 24*time.Hour)

	// Saga log
	sagaLog, err := sqlite.Open(cfg.SagaLogPath)
	if err != nil {
		log.Error("saga log open failed", "err", err)
		return
	}
	closer.Add("saga log", func(context.Context) error { return sagaLog.Close() })

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewSaga(reg)

	// Collaborators
	repo := orderpg.NewRepository(log, pool)
	cartClient := cart.NewClient(cfg.CartURL, cfg.ClientTimeout)
	catalogClient := catalog.NewClient(cfg.CatalogURL, cfg.ClientTimeout)
	payosClient := payos.NewClient(log, payos.Config{
		BaseURL:     cfg.PayOS.URL,
		ClientID:    cfg.PayOS.ClientID,
		APIKey:      cfg.PayOS.APIKey,
		ChecksumKey: cfg.PayOS.ChecksumKey,
	}, &http.Client{Timeout: cfg.GatewayTimeout})
	gateway := paymentapp.NewGateway(log, payosClient, paymentapp.GatewayConfig{
		ReturnURL: cfg.ReturnURL,
		CancelURL: cfg.CancelURL,
		Timeout:   cfg.GatewayTimeout,
	})

	retrier := orderapp.NewCartClearRetrier(log, cartClient)
	closer.AddFunc("cart clear retrier", retrier.Close)

	svc := orderapp.NewService(log, orderapp.Deps{
		Repo:      repo,
		Cart:      cartClient,
		Catalog:   catalogClient,
		Gateway:   gateway,
		Saga:      orchapp.NewCoordinator(log, sagaLog),
		Metrics:   m,
		CartRetry: retrier,
	})
	reconciler := orderapp.NewReconciler(log, repo, m)

	// Callback delivery and outbox relay
	var queue paymentapp.CallbackQueue
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		writer := orderkafka.NewWriter(log, brokers)
		closer.Add("kafka writer", func(context.Context) error { return writer.Close() })

		queue = paymentkafka.NewPublisher(writer, cfg.CallbackTopic)
		consumer := paymentkafka.NewConsumer(log, brokers, cfg.CallbackTopic, cfg.CallbackGroup, reconciler, idem)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				log.Error("callback consumer stopped with error", "err", err)
				cancel()
			}
		}()

		dispatch := outbox.NewDispatcher(log, writer, cfg.OrderTopic)
		relay := outbox.NewRelay(log, orderpg.NewOutboxStore(log, pool), dispatch, relayID())
		go func() {
			if err := relay.Run(ctx); err != nil {
				log.Error("relay stopped with error", "err", err)
			}
		}()
	} else {
		log.Warn("kafka disabled, callbacks reconciled in-process and outbox events stay pending")
		inline := paymentapp.NewInlineQueue(log, reconciler, 4, 256)
		closer.AddFunc("inline callback queue", inline.Close)
		queue = inline
	}
	intake := paymentapp.NewIntake(log, payosClient, queue)

	// gRPC health
	health := ordergrpc.NewHealthServer(log, map[string]ordergrpc.Pinger{
		"postgres": pool,
		"redis":    ordergrpc.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
	}, 10*time.Second)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error("grpc listen failed", "addr", cfg.GRPCAddr, "err", err)
		return
	}
	go health.Watch(ctx)
	go func() {
		if err := health.Serve(lis); err != nil {
			log.Error("grpc server error", "err", err)
		}
	}()
	closer.AddFunc("grpc health", health.Stop)

	// HTTP
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, orderhttp.Instrument(m))
	r.Handle("/metrics", metrics.Handler(reg))
	r.Mount("/api/payments", paymenthttp.NewHandler(log, intake).Routes())
	r.Mount("/", orderhttp.NewHandler(log, svc, idem, cfg.ResultURL).Routes())

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.GatewayTimeout + 10*time.Second,
	}
	closer.Add("http server", srv.Shutdown)

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
}

func relayID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return "order-service-relay-" + host
}
