package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cozmo/vocal-input/internal/observability"
)

// HealthServer exposes the standard gRPC health protocol backed by the
// same readiness checks as /ready
type HealthServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	checks     *observability.Checks
	interval   time.Duration
	logger     zerolog.Logger
	service    string
}

// NewHealthServer creates a gRPC health server for service
func NewHealthServer(service string, checks *observability.Checks, interval time.Duration, logger zerolog.Logger) *HealthServer {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)

	return &HealthServer{
		grpcServer: gs,
		health:     hs,
		checks:     checks,
		interval:   interval,
		logger:     logger.With().Str("component", "grpc_health").Logger(),
		service:    service,
	}
}

// Refresh runs the checks once and publishes the result
func (s *HealthServer) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if _, ok := s.checks.Run(ctx); !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(s.service, status)
	return status
}

// Serve listens on addr and refreshes status until ctx is cancelled
func (s *HealthServer) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc health listen: %w", err)
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener is Serve on an existing listener
func (s *HealthServer) ServeListener(ctx context.Context, lis net.Listener) error {
	go s.watch(ctx)

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server listening")
	if err := s.grpcServer.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

func (s *HealthServer) watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	last := s.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if status := s.Refresh(ctx); status != last {
				s.logger.Info().Stringer("status", status).Msg("Serving status changed")
				last = status
			}
		}
	}
}

// Stop marks the service as not serving and stops the server
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
