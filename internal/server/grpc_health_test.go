package server

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/cozmo/vocal-input/internal/observability"
)

func TestHealthServer_FollowsChecks(t *testing.T) {
	var healthy atomic.Bool
	checks := observability.NewChecks()
	checks.Register("mqtt", func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("not connected")
	})

	hs := NewHealthServer(observability.ServiceName, checks, 20*time.Millisecond, zerolog.Nop())

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	served := make(chan error, 1)
	go func() { served <- hs.ServeListener(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	status := func() healthpb.HealthCheckResponse_ServingStatus {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: observability.ServiceName})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.GetStatus()
	}

	assert.Eventually(t, func() bool {
		return status() == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	healthy.Store(true)
	assert.Eventually(t, func() bool {
		return status() == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	hs.Stop()
	require.NoError(t, <-served)
}

func TestHealthServer_Refresh(t *testing.T) {
	checks := observability.NewChecks()
	hs := NewHealthServer("svc", checks, time.Second, zerolog.Nop())

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hs.Refresh(context.Background()))

	checks.Register("transcription", func(context.Context) error { return errors.New("circuit open") })
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, hs.Refresh(context.Background()))
}
