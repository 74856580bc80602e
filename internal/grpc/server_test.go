package grpc

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Dhoini/runsheet-api/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func startServer(t *testing.T, checks []Check) (*Server, healthpb.HealthClient) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(false, checks, logger.NewNop())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return srv, healthpb.NewHealthClient(conn)
}

func status(t *testing.T, client healthpb.HealthClient) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	return resp.Status
}

func TestHealth_ReflectsChecks(t *testing.T) {
	var (
		failing atomic.Bool
		pings   atomic.Int32
	)
	srv, client := startServer(t, []Check{{
		Name: "database",
		Ping: func(context.Context) error {
			pings.Add(1)
			if failing.Load() {
				return errors.New("connection refused")
			}
			return nil
		},
	}})
	// Первая проверка при старте идет в фоне.
	require.Eventually(t, func() bool { return pings.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)

	assert.True(t, srv.Refresh(context.Background()))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, client))

	failing.Store(true)
	assert.False(t, srv.Refresh(context.Background()))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, client))

	failing.Store(false)
	assert.True(t, srv.Refresh(context.Background()))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, client))
}

func TestHealth_NoChecksIsServing(t *testing.T) {
	srv, client := startServer(t, nil)

	srv.Refresh(context.Background())
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, client))
}
