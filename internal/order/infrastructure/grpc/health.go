package grpc

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health-checked service besides the overall "" entry.
const ServiceName = "order.v1.OrderService"

// Pinger is a dependency whose reachability decides readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthServer exposes the standard gRPC health protocol and keeps it in
// sync with the service's dependencies.
type HealthServer struct {
	log      *slog.Logger
	srv      *grpc.Server
	health   *health.Server
	checks   map[string]Pinger
	interval time.Duration

	mu     sync.Mutex
	status healthpb.HealthCheckResponse_ServingStatus
}

func NewHealthServer(log *slog.Logger, checks map[string]Pinger, interval time.Duration) *HealthServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	srv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	h := &HealthServer{
		log:      log,
		srv:      srv,
		health:   hs,
		checks:   checks,
		interval: interval,
		status:   healthpb.HealthCheckResponse_UNKNOWN,
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *HealthServer) Serve(lis net.Listener) error {
	h.log.Info("grpc health listening", "addr", lis.Addr().String())
	return h.srv.Serve(lis)
}

// Watch re-evaluates the checks every interval until ctx is done.
func (h *HealthServer) Watch(ctx context.Context) {
	h.Refresh(ctx)
	t := time.NewTicker(h.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.Refresh(ctx)
		}
	}
}

// Refresh runs every check once and publishes the combined status.
func (h *HealthServer) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for name, check := range h.checks {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := check.Ping(cctx)
		cancel()
		if err != nil {
			h.log.WarnContext(ctx, "health check failed", "check", name, "err", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	h.set(status)
	return status
}

func (h *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if status == h.status {
		return
	}
	h.status = status
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
	h.log.Info("health status changed", "status", status.String())
}

// Stop flips every service to NOT_SERVING and drains in-flight calls.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.srv.GracefulStop()
}
