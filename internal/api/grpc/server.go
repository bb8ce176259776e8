// Package grpc hosts the process-manager's admin control plane: an
// instrumented gRPC server carrying the standard health service, with
// room for operator RPCs to be registered by the hosting binary.
package grpc

import (
	"fmt"
	"net"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_zap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/corebus/platform/pkg/metrics"
)

// Server is the admin gRPC endpoint.
type Server struct {
	server  *grpc.Server
	health  *health.Server
	logger  *zap.Logger
	metrics *metrics.Metrics
	port    int
}

// NewServer creates the admin server with the Prometheus, zap-logging,
// and panic-recovery interceptor chain, and registers the gRPC health
// service so orchestrators can probe it.
func NewServer(logger *zap.Logger, m *metrics.Metrics, port int) *Server {
	srv := grpc.NewServer(
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
			grpc_prometheus.UnaryServerInterceptor,
			grpc_zap.UnaryServerInterceptor(logger),
			grpc_recovery.UnaryServerInterceptor(),
		)),
		grpc.StreamInterceptor(grpc_middleware.ChainStreamServer(
			grpc_prometheus.StreamServerInterceptor,
			grpc_zap.StreamServerInterceptor(logger),
			grpc_recovery.StreamServerInterceptor(),
		)),
	)

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)

	grpc_prometheus.Register(srv)

	return &Server{
		server:  srv,
		health:  healthSrv,
		logger:  logger,
		metrics: m,
		port:    port,
	}
}

// Start begins listening for gRPC requests and marks the health service
// serving.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	s.logger.Info("starting admin gRPC server", zap.String("addr", addr))
	go func() {
		if err := s.server.Serve(listener); err != nil {
			s.logger.Error("admin gRPC server stopped", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the gRPC server.
func (s *Server) Stop() {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.logger.Info("stopping admin gRPC server")
	s.server.GracefulStop()
}

// GetServer exposes the underlying server so the hosting binary can
// register its operator RPC services before Start.
func (s *Server) GetServer() *grpc.Server {
	return s.server
}
