// Package server реализует gRPC health-сервис paywall.
//
// Статус SERVING выставляется, пока хранилище прав отвечает на Ping; при
// сбое хранилища статус переходит в NOT_SERVING, и балансировщик перестаёт
// направлять трафик на экземпляр, который всё равно ответил бы store_unavailable.
package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/magabrotheeeer/poc-paywall/internal/lib/sl"
)

// ServiceName - имя сервиса в health-протоколе.
const ServiceName = "paywall.Gate"

// Pinger проверяет доступность хранилища.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer следит за хранилищем и публикует статус по gRPC.
type HealthServer struct {
	health   *health.Server
	store    Pinger
	log      *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

// NewHealthServer создаёт HealthServer. interval - период опроса хранилища,
// timeout - ограничение одного Ping.
func NewHealthServer(store Pinger, logger *slog.Logger, interval, timeout time.Duration) *HealthServer {
	return &HealthServer{
		health:   health.NewServer(),
		store:    store,
		log:      logger,
		interval: interval,
		timeout:  timeout,
	}
}

// Register регистрирует health-сервис на gRPC-сервере.
func (s *HealthServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
}

// Check опрашивает хранилище один раз и обновляет статус.
func (s *HealthServer) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn("entitlement store ping failed", sl.Err(err))
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Watch опрашивает хранилище до отмены ctx, после чего переводит все
// сервисы в NOT_SERVING.
func (s *HealthServer) Watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}
