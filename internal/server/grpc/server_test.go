package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	cfgpkg "github.com/rzbill/conduit/internal/config"
	"github.com/rzbill/conduit/internal/runtime"
	"github.com/rzbill/conduit/pkg/log"
)

const bufSize = 1 << 20

func openRuntime(t *testing.T, leader bool) *runtime.Runtime {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Fsync = "never"
	cfg.Leader.Enabled = leader
	cfg.Leader.TTL = time.Second
	rt, err := runtime.Open(context.Background(), runtime.Options{Config: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func healthClient(t *testing.T, s *Server) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	go func() { _ = s.grpc.Serve(lis) }()
	t.Cleanup(s.Close)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return res.GetStatus()
}

func TestHealthOverGRPC(t *testing.T) {
	rt := openRuntime(t, false)
	c := healthClient(t, New(rt, log.NewNop()))

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ServiceAggregation))
	// without leader election every node runs recovery
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ServiceLeader))
}

func TestLeaderStatusFollowsElection(t *testing.T) {
	rt := openRuntime(t, true)
	s := New(rt, log.NewNop())
	c := healthClient(t, s)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, ServiceLeader))

	require.NoError(t, rt.Start(context.Background()))
	require.Eventually(t, rt.IsLeader, 2*time.Second, 10*time.Millisecond)
	s.Refresh(context.Background())
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ServiceLeader))
}

func TestNotServingAfterRuntimeClose(t *testing.T) {
	rt := openRuntime(t, false)
	s := New(rt, log.NewNop())
	c := healthClient(t, s)

	require.NoError(t, rt.Close())
	s.Refresh(context.Background())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, ServiceLeader))
}
