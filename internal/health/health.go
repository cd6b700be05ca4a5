// ABOUTME: gRPC health endpoint for the long-running fluxmind processes.
// ABOUTME: Reports SERVING per component and NOT_SERVING once shutdown begins.

// Package health exposes the standard gRPC health service so orchestrators
// can check the responder and archiver.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server is a gRPC server carrying only the health service.
type Server struct {
	grpc     *grpc.Server
	health   *grpchealth.Server
	listener net.Listener
	logger   *slog.Logger
}

// Listen binds addr. Components start NOT_SERVING until marked ready.
func Listen(addr string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &Server{
		grpc:     srv,
		health:   hs,
		listener: lis,
		logger:   logger.With("component", "health"),
	}, nil
}

// Addr is the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// SetServing marks a component (and the overall "" service) as serving.
func (s *Server) SetServing(component string) {
	s.health.SetServingStatus(component, healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
}

// SetNotServing marks a component as not serving.
func (s *Server) SetNotServing(component string) {
	s.health.SetServingStatus(component, healthpb.HealthCheckResponse_NOT_SERVING)
}

// Run serves until ctx is cancelled, then drains and stops.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("health server listening", "addr", s.Addr())
		errCh <- s.grpc.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		s.logger.Info("health server stopped")
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	}
}
