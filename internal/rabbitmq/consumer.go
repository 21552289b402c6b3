package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/poc-paywall/internal/lib/sl"
)

// Handler обрабатывает тело сообщения. Ошибка возвращает сообщение в очередь.
type Handler func(ctx context.Context, delivery amqp.Delivery) error

// ConsumerMessage читает очередь и обрабатывает до workers сообщений параллельно.
// Успешно обработанное сообщение подтверждается, при ошибке возвращается
// в очередь. Возвращаемый канал закрывается, когда чтение остановлено
// и все начатые обработки завершены.
func ConsumerMessage(ctx context.Context, log *slog.Logger, ch *amqp.Channel, queueName string, workers int, handler Handler) (<-chan struct{}, error) {
	const op = "rabbitmq.ConsumerMessage"
	log = log.With(slog.String("op", op), slog.String("queue", queueName))

	deliveries, err := ch.Consume(
		queueName,
		"",
		false, // auto-ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if workers < 1 {
		workers = 1
	}

	done := make(chan struct{})
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	go func() {
		defer close(done)
		defer wg.Wait()
		for {
			select {
			case d, ok := <-deliveries:
				if !ok {
					log.Info("delivery channel closed")
					return
				}
				sem <- struct{}{}
				wg.Add(1)
				go func(d amqp.Delivery) {
					defer wg.Done()
					defer func() { <-sem }()
					if err := handler(ctx, d); err != nil {
						log.Warn("message handling failed, requeueing", sl.Err(err))
						if nackErr := d.Nack(false, true); nackErr != nil {
							log.Error("failed to nack message", sl.Err(nackErr))
						}
						return
					}
					if ackErr := d.Ack(false); ackErr != nil {
						log.Error("failed to ack message", sl.Err(ackErr))
					}
				}(d)
			case <-ctx.Done():
				return
			}
		}
	}()
	return done, nil
}
