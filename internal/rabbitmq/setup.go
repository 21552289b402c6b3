package rabbitmq

import (
	"fmt"

	"github.com/streadway/amqp"
)

// QueueConfig - очередь и ключ, с которым она привязана к обменнику.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// Topology описывает обменник и очереди сервиса.
type Topology struct {
	Exchange string
	Queues   []QueueConfig
	Prefetch int
}

// PaywallTopology возвращает топологию: обменник изменений прав доступа
// и очередь уведомлений провайдера, которую читает воркер приёма.
func PaywallTopology(exchange, changedKey, ingestQueue string, prefetch int) Topology {
	return Topology{
		Exchange: exchange,
		Queues: []QueueConfig{
			{QueueName: ingestQueue, RoutingKey: ingestQueue},
			{QueueName: exchange + "." + changedKey, RoutingKey: changedKey},
		},
		Prefetch: prefetch,
	}
}

// SetupChannel открывает канал и объявляет топологию. Объявления идемпотентны.
func SetupChannel(conn *amqp.Connection, topo Topology) (*amqp.Channel, error) {
	const op = "rabbitmq.SetupChannel"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if topo.Prefetch > 0 {
		if err := ch.Qos(topo.Prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("%s: failed to set QoS: %w", op, err)
		}
	}

	err = ch.ExchangeDeclare(
		topo.Exchange,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, q := range topo.Queues {
		if _, err := ch.QueueDeclare(q.QueueName, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("%s: failed to declare queue %s: %w", op, q.QueueName, err)
		}
		if err := ch.QueueBind(q.QueueName, q.RoutingKey, topo.Exchange, false, nil); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("%s: failed to bind queue %s with routing key %s: %w", op, q.QueueName, q.RoutingKey, err)
		}
	}

	return ch, nil
}
