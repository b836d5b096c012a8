package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the overall status
const ServiceName = "conduit.Coordinator"

// ReadinessChecker reports whether the coordinator accepts work
type ReadinessChecker interface {
	Ready() bool
}

// Server represents the gRPC API server
type Server struct {
	server    *grpc.Server
	listener  net.Listener
	health    *health.Server
	readiness ReadinessChecker
	interval  time.Duration
	logger    *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Config holds gRPC server configuration
type Config struct {
	Port      int
	Readiness ReadinessChecker
	// CheckInterval is how often readiness is re-read
	CheckInterval time.Duration
	Logger        *zap.Logger
}

// NewServer creates a new gRPC server exposing the standard health service
func NewServer(cfg *Config) (*Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}
	return newServer(listener, cfg), nil
}

func newServer(listener net.Listener, cfg *Config) *Server {
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	s := &Server{
		server:    grpcServer,
		listener:  listener,
		health:    healthServer,
		readiness: cfg.Readiness,
		interval:  interval,
		logger:    cfg.Logger,
		stopCh:    make(chan struct{}),
	}
	s.refresh()
	return s
}

// refresh copies coordinator readiness into the health service
func (s *Server) refresh() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.readiness != nil && s.readiness.Ready() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

func (s *Server) watchReadiness() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.refresh()
		}
	}
}

// Start starts the gRPC server
func (s *Server) Start() error {
	s.logger.Info("starting gRPC server", zap.String("addr", s.listener.Addr().String()))

	go s.watchReadiness()

	if err := s.server.Serve(s.listener); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	return nil
}

// Shutdown reports NOT_SERVING and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gRPC server")

	s.stopOnce.Do(func() { close(s.stopCh) })
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.server.Stop()
	}

	s.logger.Info("gRPC server shut down complete")
	return nil
}
