// Package ingester собирает воркер, который читает уведомления провайдера
// из очереди RabbitMQ и применяет их так же, как HTTP webhook.
package ingester

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/poc-paywall/internal/app/core"
	"github.com/magabrotheeeer/poc-paywall/internal/config"
	"github.com/magabrotheeeer/poc-paywall/internal/http/handlers/payment/paymentwebhook"
	"github.com/magabrotheeeer/poc-paywall/internal/lib/sl"
	"github.com/magabrotheeeer/poc-paywall/internal/rabbitmq"
	"github.com/magabrotheeeer/poc-paywall/internal/services/payment"
)

// Ingester обрабатывает одно уведомление.
type Ingester interface {
	Ingest(ctx context.Context, n payment.Notification) (payment.Outcome, error)
}

// App - воркер очереди уведомлений.
type App struct {
	core    *core.Core
	queue   string
	workers int
	logger  *slog.Logger
}

// New собирает воркер. Без RabbitMQ воркеру нечего читать.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.ingester.New"
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("%s: rabbitmq url is required", op)
	}

	c, err := core.New(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &App{
		core:    c,
		queue:   cfg.RabbitMQ.IngestQueue,
		workers: cfg.RabbitMQ.Prefetch,
		logger:  logger,
	}, nil
}

// DeliveryHandler переводит сообщение очереди в уведомление. Отклонённое
// уведомление подтверждается, чтобы не крутиться в очереди вечно; сбой
// хранилища возвращает сообщение в очередь.
func DeliveryHandler(logger *slog.Logger, svc Ingester) rabbitmq.Handler {
	return func(ctx context.Context, d amqp.Delivery) error {
		const op = "app.ingester.DeliveryHandler"
		log := logger.With(slog.String("op", op), slog.String("message_id", d.MessageId))

		signature, _ := d.Headers[paymentwebhook.SignatureHeader].(string)
		out, err := svc.Ingest(ctx, payment.Notification{Body: d.Body, Signature: signature})
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if out.Status == payment.StatusReject {
			log.Warn("notification rejected, dropping message",
				slog.String("reason", string(out.Reason)),
				slog.String("detail", out.Detail),
				sl.Err(out.Err()),
			)
		}
		return nil
	}
}

// Run читает очередь до отмены ctx и ждёт завершения начатых обработок.
func (a *App) Run(ctx context.Context) error {
	defer a.core.Close()

	done, err := rabbitmq.ConsumerMessage(ctx, a.logger, a.core.Channel, a.queue, a.workers,
		DeliveryHandler(a.logger, a.core.Processor))
	if err != nil {
		a.logger.Error("failed to start consumer", slog.String("queue", a.queue), sl.Err(err))
		return err
	}

	select {
	case <-done:
		if ctx.Err() == nil {
			return errors.New("app.ingester.Run: delivery channel closed")
		}
	case <-ctx.Done():
		<-done
	}
	a.logger.Info("ingester shutting down gracefully")
	return nil
}
