// Package health exposes the standard gRPC health service. The overall
// status follows upstream reachability: SERVING while online, NOT_SERVING
// while offline.
package health

import (
	"context"
	"net"

	"github.com/dmitrijs2005/offlinegate/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is reported alongside the overall ("") status.
const ServiceName = "offlinegate.Gateway"

type Server struct {
	address string
	health  *health.Server
	logger  logging.Logger
}

func NewServer(address string, l logging.Logger) *Server {
	if l == nil {
		l = logging.Nop()
	}
	s := &Server{
		address: address,
		health:  health.NewServer(),
		logger:  l.With("module", "grpc_health"),
	}
	s.SetServing(false)
	return s
}

// SetServing flips the reported status.
func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve serves on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor))
	healthpb.RegisterHealthServer(srv, s.health)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC health server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC health server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	return nil
}
