package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/poc-paywall/internal/models"
)

// PublishMessage публикует сообщение в JSON.
func PublishMessage(ch *amqp.Channel, exchange string, routingKey string, message any) error {
	const op = "rabbitmq.PublishMessage"
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = ch.Publish(
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Publisher отправляет EntitlementChanged в обменник. Канал AMQP
// не рассчитан на параллельную публикацию, поэтому вызовы сериализуются.
type Publisher struct {
	mu         sync.Mutex
	ch         *amqp.Channel
	exchange   string
	routingKey string
}

// NewPublisher создаёт Publisher поверх открытого канала.
func NewPublisher(ch *amqp.Channel, exchange, routingKey string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange, routingKey: routingKey}
}

// PublishEntitlementChanged публикует изменение прав доступа подписчика.
func (p *Publisher) PublishEntitlementChanged(ctx context.Context, msg models.EntitlementChanged) error {
	const op = "rabbitmq.PublishEntitlementChanged"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := PublishMessage(p.ch, p.exchange, p.routingKey, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
