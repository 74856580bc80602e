// Package grpc gRPC сервер со стандартным health-сервисом.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Dhoini/runsheet-api/internal/interceptors"
	"github.com/Dhoini/runsheet-api/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

// ServiceName имя сервиса в health-проверках
const ServiceName = "runsheet.api"

const (
	defaultCheckInterval = 15 * time.Second
	checkTimeout         = 5 * time.Second
)

// Check проверка зависимости (база, Redis) для readiness.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Server gRPC сервер
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	checks     []Check
	interval   time.Duration
	log        *logger.Logger

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewServer создает gRPC сервер. Reflection включается только вне production.
func NewServer(production bool, checks []Check, log *logger.Logger) *Server {
	kaParams := keepalive.ServerParameters{
		MaxConnectionIdle:     5 * time.Minute,
		MaxConnectionAge:      time.Hour,
		MaxConnectionAgeGrace: 5 * time.Minute,
		Time:                  2 * time.Minute,
		Timeout:               20 * time.Second,
	}

	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(kaParams),
		grpc.ChainUnaryInterceptor(interceptors.Recovery(log), interceptors.Logging(log)),
	)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	if !production {
		reflection.Register(grpcServer)
	}

	return &Server{
		grpcServer: grpcServer,
		health:     healthServer,
		checks:     checks,
		interval:   defaultCheckInterval,
		log:        log,
	}
}

// Listen открывает TCP-порт и запускает Serve.
func (s *Server) Listen(port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve обслуживает соединения на lis до Stop. Проверки зависимостей идут в фоне.
func (s *Server) Serve(lis net.Listener) error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.listener = lis
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.watch(ctx, done)

	s.log.Infow("gRPC server started", "address", lis.Addr().String())
	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Refresh выполняет все проверки и выставляет статус SERVING или NOT_SERVING.
func (s *Server) Refresh(ctx context.Context) bool {
	serving := true
	for _, check := range s.checks {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := check.Ping(checkCtx)
		cancel()
		if err != nil {
			serving = false
			s.log.Warnw("Readiness check failed", "check", check.Name, "error", err)
		}
	}

	status := healthpb.HealthCheckResponse_SERVING
	if !serving {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return serving
}

func (s *Server) watch(ctx context.Context, done chan struct{}) {
	defer close(done)
	s.Refresh(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// Stop переводит health в NOT_SERVING и дожидается завершения активных вызовов.
func (s *Server) Stop() {
	s.log.Infow("Stopping gRPC server")
	s.health.Shutdown()

	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	s.grpcServer.GracefulStop()
}
