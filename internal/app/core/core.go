// Package core собирает общие для HTTP-сервиса и воркера приёма зависимости:
// хранилище, кеш, брокер, сервис прав доступа и обработчик уведомлений.
package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/poc-paywall/internal/cache"
	"github.com/magabrotheeeer/poc-paywall/internal/config"
	"github.com/magabrotheeeer/poc-paywall/internal/entitlement"
	"github.com/magabrotheeeer/poc-paywall/internal/lib/sl"
	"github.com/magabrotheeeer/poc-paywall/internal/metrics"
	"github.com/magabrotheeeer/poc-paywall/internal/migrations"
	"github.com/magabrotheeeer/poc-paywall/internal/rabbitmq"
	entitlementservice "github.com/magabrotheeeer/poc-paywall/internal/services/entitlement"
	"github.com/magabrotheeeer/poc-paywall/internal/services/payment"
	"github.com/magabrotheeeer/poc-paywall/internal/storage/memory"
	"github.com/magabrotheeeer/poc-paywall/internal/storage/repository"
)

// Store - хранилище прав доступа вместе с проверкой соединения.
type Store interface {
	entitlementservice.Store
	Ping(ctx context.Context) error
	Close() error
}

// Core - собранные зависимости. Cache, Conn и Channel равны nil,
// если Redis или RabbitMQ не настроены.
type Core struct {
	Store        Store
	Cache        *cache.Cache
	Conn         *amqp.Connection
	Channel      *amqp.Channel
	Metrics      *metrics.Metrics
	Entitlements *entitlementservice.EntitlementService
	Processor    *payment.Processor

	log *slog.Logger
}

// New подключает хранилище и опциональные Redis и RabbitMQ. Метрики
// регистрируются в reg.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, reg prometheus.Registerer) (*Core, error) {
	const op = "app.core.New"

	c := &Core{
		Metrics: metrics.New(reg),
		log:     log,
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.Store = store

	opts := []entitlementservice.Option{entitlementservice.WithMetrics(c.Metrics)}

	if cfg.AddressRedis != "" {
		c.Cache, err = cache.InitServer(ctx, cfg.RedisConnection)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		opts = append(opts, entitlementservice.WithCache(c.Cache, cfg.CacheTTL))
	}

	if cfg.RabbitMQ.URL != "" {
		c.Conn, err = rabbitmq.Connect(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.MaxRetries, cfg.RabbitMQ.RetryDelay)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		topo := rabbitmq.PaywallTopology(cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey, cfg.RabbitMQ.IngestQueue, cfg.RabbitMQ.Prefetch)
		c.Channel, err = rabbitmq.SetupChannel(c.Conn, topo)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		opts = append(opts, entitlementservice.WithPublisher(
			rabbitmq.NewPublisher(c.Channel, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey),
		))
	}

	policy := entitlement.Policy{
		BillingMonths: cfg.Entitlement.BillingMonths,
		GracePeriod:   cfg.Entitlement.GracePeriod,
		TrialPeriod:   cfg.Entitlement.TrialPeriod,
	}
	c.Entitlements = entitlementservice.NewEntitlementService(log, c.Store, policy, opts...)
	c.Processor = payment.New(log, c.Entitlements, cfg.Webhook.Secret, cfg.Webhook.PreviousSecret, c.Metrics)

	log.Info("core initialized",
		slog.String("storage_driver", cfg.StorageDriver),
		slog.Bool("cache", c.Cache != nil),
		slog.Bool("broker", c.Conn != nil),
	)
	return c, nil
}

func openStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		return memory.New(), nil
	case config.StorageDriverPostgres:
		db, err := repository.New(cfg.StorageConnectionString)
		if err != nil {
			return nil, err
		}
		if err := migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
			_ = db.Close()
			return nil, err
		}
		if err := repository.CheckDatabaseReady(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}

// BrokerAlive сообщает, открыто ли соединение с брокером.
func (c *Core) BrokerAlive(_ context.Context) error {
	if c.Conn == nil || c.Conn.IsClosed() {
		return amqp.ErrClosed
	}
	return nil
}

// Close освобождает соединения. Ошибки только логируются.
func (c *Core) Close() {
	if c.Channel != nil {
		if err := c.Channel.Close(); err != nil {
			c.log.Error("failed to close channel", sl.Err(err))
		}
	}
	if c.Conn != nil {
		if err := c.Conn.Close(); err != nil {
			c.log.Error("failed to close connection", sl.Err(err))
		}
	}
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			c.log.Error("failed to close cache", sl.Err(err))
		}
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			c.log.Error("failed to close storage", sl.Err(err))
		}
	}
}
