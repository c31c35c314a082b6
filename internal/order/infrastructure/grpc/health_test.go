package grpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func TestHealthReflectsDependencies(t *testing.T) {
	var down atomic.Bool
	checks := map[string]Pinger{
		"postgres": PingFunc(func(context.Context) error {
			if down.Load() {
				return errors.New("connection refused")
			}
			return nil
		}),
	}
	h := NewHealthServer(slog.New(slog.NewTextHandler(io.Discard, nil)), checks, 0)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = h.Serve(lis) }()
	defer h.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)
	ctx := context.Background()

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, h.Refresh(ctx))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())

	down.Store(true)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, h.Refresh(ctx))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
}
