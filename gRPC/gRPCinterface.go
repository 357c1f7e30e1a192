package rpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"ComicDetServer/logger"
	"ComicDetServer/monitor"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service key for the comic processing workers.
const ServiceName = "comicdet.Worker"

// Acceptor is satisfied by *task.Pool.
type Acceptor interface {
	Accepting() bool
}

type Server struct {
	GRPC   *grpc.Server
	health *health.Server
	pool   Acceptor
}

func countRequests(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	monitor.GRPCTotal.Inc()
	return handler(ctx, req)
}

func NewServer(pool Acceptor) *Server {
	s := &Server{
		GRPC:   grpc.NewServer(grpc.UnaryInterceptor(countRequests)),
		health: health.NewServer(),
		pool:   pool,
	}
	healthpb.RegisterHealthServer(s.GRPC, s.health)
	reflection.Register(s.GRPC)
	s.Sync()
	return s
}

// Sync publishes SERVING while the pool accepts work.
func (s *Server) Sync() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.pool.Accepting() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Watch re-syncs the health status every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sync()
		}
	}
}

func (s *Server) Serve(lis net.Listener) error {
	return s.GRPC.Serve(lis)
}

// Stop reports NOT_SERVING to watchers and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.GRPC.GracefulStop()
}

func StartGRPCServer(port int, pool Acceptor) (*Server, error) {
	addr := fmt.Sprintf(":%d", port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	s := NewServer(pool)
	go func() {
		logger.Log().Info("gRPC server listening", zap.String("addr", addr))
		if err := s.Serve(lis); err != nil {
			logger.Log().Error("gRPC server stopped", zap.Error(err))
		}
	}()
	return s, nil
}
