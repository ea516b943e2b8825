// Package grpc runs the internal gRPC listener. Every call except the
// standard health service must carry a valid access token for an active
// user.
package grpc

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Anthony-Michael/replyrocket-auth/internal/logging"
)

type GRPCServer struct {
	address string
	guard   Authenticator
	logger  logging.Logger
	health  *health.Server
	srv     *grpc.Server
}

func NewGRPCServer(address string, guard Authenticator, l logging.Logger) *GRPCServer {
	s := &GRPCServer{
		address: address,
		guard:   guard,
		logger:  l.With("module", "grpc_server"),
		health:  health.NewServer(),
	}

	s.srv = grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.unaryGuard),
		grpc.ChainStreamInterceptor(s.streamGuard),
	)
	healthpb.RegisterHealthServer(s.srv, s.health)
	return s
}

// Server exposes the underlying server so other services can be registered
// before Run.
func (s *GRPCServer) Server() *grpc.Server { return s.srv }

// SetServing reports the overall health state to health checks.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_SERVING
	if !serving {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
}

// Run serves until ctx is cancelled, then stops gracefully.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

func (s *GRPCServer) Serve(ctx context.Context, listen net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		s.srv.GracefulStop()
	}()

	s.SetServing(true)
	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	return s.srv.Serve(listen)
}
