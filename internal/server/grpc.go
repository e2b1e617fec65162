// Package server hosts the gRPC side of the paper aggregator, which carries
// the standard health service used by orchestrators and load balancers.
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
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service key reported for the aggregator.
const ServiceName = "paperaggregator.v1.PaperAggregatorService"

// HealthServer is a gRPC server exposing grpc.health.v1.
type HealthServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	logger     zerolog.Logger
}

// NewHealthServer creates the gRPC server with the health service registered
// as SERVING.
func NewHealthServer(logger zerolog.Logger) *HealthServer {
	grpcServer := grpc.NewServer(
		grpc.MaxConcurrentStreams(100),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     15 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 5 * time.Minute,
			Time:                  5 * time.Minute,
			Timeout:               1 * time.Minute,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Minute,
			PermitWithoutStream: true,
		}),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	reflection.Register(grpcServer)

	return &HealthServer{
		grpcServer: grpcServer,
		health:     hs,
		logger:     logger.With().Str("component", "grpc-server").Logger(),
	}
}

// Serve accepts connections on lis until Stop.
func (s *HealthServer) Serve(lis net.Listener) error {
	s.logger.Info().Str("address", lis.Addr().String()).Msg("gRPC server starting")
	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("gRPC server error: %w", err)
	}
	return nil
}

// SetServing flips the reported status of the aggregator service.
func (s *HealthServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, st)
}

// Shutdown marks the service NOT_SERVING and stops gracefully, forcing a
// stop when ctx expires first.
func (s *HealthServer) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info().Msg("gRPC server stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn().Msg("gRPC server forced shutdown due to timeout")
		s.grpcServer.Stop()
	}
}
