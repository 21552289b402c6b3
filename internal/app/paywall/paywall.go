// Package paywall собирает HTTP-сервис шлюза доступа: приём уведомлений
// провайдера, проверку доступа и gRPC health.
package paywall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/magabrotheeeer/poc-paywall/internal/app/core"
	"github.com/magabrotheeeer/poc-paywall/internal/config"
	grpcserver "github.com/magabrotheeeer/poc-paywall/internal/grpc/server"
	"github.com/magabrotheeeer/poc-paywall/internal/http/handlers/health"
	"github.com/magabrotheeeer/poc-paywall/internal/lib/jwt"
	"github.com/magabrotheeeer/poc-paywall/internal/services/gate"
)

// App - HTTP-сервер и, если задан адрес, gRPC health-сервер.
type App struct {
	server     *http.Server
	grpcServer *grpc.Server
	listener   net.Listener
	health     *grpcserver.HealthServer
	core       *core.Core
	logger     *slog.Logger
}

// New собирает приложение.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.paywall.New"

	keys, err := jwt.NewKeyring(
		cfg.AccessToken.CurrentKeyID, cfg.AccessToken.CurrentKey,
		cfg.AccessToken.PreviousKeyID, cfg.AccessToken.PreviousKey,
		cfg.AccessToken.PreviousValidUntil,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c, err := core.New(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, Deps{
		Entitlements: c.Entitlements,
		Processor:    c.Processor,
		Gate:         gate.New(logger, c.Entitlements, jwt.NewIssuer(keys, cfg.AccessToken.TTL), cfg.Entitlement.StoreTimeout, c.Metrics),
		Checks:       checks(c),
		Gatherer:     prometheus.DefaultGatherer,
	})

	a := &App{
		server: &http.Server{
			Addr:         cfg.AddressHTTP,
			Handler:      router,
			ReadTimeout:  cfg.TimeoutHTTP,
			WriteTimeout: cfg.TimeoutHTTP,
			IdleTimeout:  cfg.IdleTimeout,
		},
		core:   c,
		logger: logger,
	}

	if cfg.GRPCAddress != "" {
		a.listener, err = net.Listen("tcp", cfg.GRPCAddress)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.grpcServer = grpc.NewServer()
		a.health = grpcserver.NewHealthServer(c.Store, logger, 5*time.Second, cfg.Entitlement.StoreTimeout)
		a.health.Register(a.grpcServer)
	}
	return a, nil
}

func checks(c *core.Core) map[string]health.Check {
	m := map[string]health.Check{"storage": c.Store.Ping}
	if c.Cache != nil {
		m["cache"] = c.Cache.Ping
	}
	if c.Conn != nil {
		m["broker"] = c.BrokerAlive
	}
	return m
}

// Run обслуживает запросы до отмены ctx, затем плавно останавливается.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if a.grpcServer != nil {
		go a.health.Watch(watchCtx)
		go func() {
			a.logger.Info("gRPC health service listening on", slog.String("address", a.listener.Addr().String()))
			if err := a.grpcServer.Serve(a.listener); err != nil {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
	}

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	a.logger.Info("shutting down HTTP server gracefully")
	if err := a.server.Shutdown(timeoutCtx); err != nil && runErr == nil {
		runErr = err
	}
	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
	}
	a.core.Close()
	return runErr
}
