package rabbitmq

import (
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/internal/nilcheck"
)

const (
	defaultExchangeType = "topic"
	dlxSuffix           = ".dlx"
	dlqSuffix           = ".dlq"
)

// TopologyChannel is the part of *amqp.Channel used to declare topology.
type TopologyChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// Topology names the durable exchange a service publishes to and the queue
// it consumes from. Each queue gets a dead-letter exchange and queue named
// after it; rejected deliveries land there.
type Topology struct {
	Exchange string
	Queue    string
	// RoutingKeys bind Queue to Exchange. Event names are the routing keys.
	RoutingKeys []string
}

// DeadLetterExchange is the exchange rejected deliveries of t.Queue go to.
func (t Topology) DeadLetterExchange() string {
	return t.Queue + dlxSuffix
}

// DeadLetterQueue holds rejected deliveries of t.Queue.
func (t Topology) DeadLetterQueue() string {
	return t.Queue + dlqSuffix
}

// Declare creates the exchange and, when Queue is set, the queue with its
// dead-letter pair and bindings. Declaring an existing topology is a no-op.
func (t Topology) Declare(ch TopologyChannel) error {
	if nilcheck.Interface(ch) {
		return fmt.Errorf("declare topology: %w", ErrChannelRequired)
	}

	exchange := strings.TrimSpace(t.Exchange)
	if exchange == "" {
		return fmt.Errorf("declare topology: %w", ErrExchangeRequired)
	}

	if err := ch.ExchangeDeclare(exchange, defaultExchangeType, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	if strings.TrimSpace(t.Queue) == "" {
		return nil
	}

	if err := ch.ExchangeDeclare(t.DeadLetterExchange(), "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlx exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(t.DeadLetterQueue(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlq queue: %w", err)
	}

	if err := ch.QueueBind(t.DeadLetterQueue(), "", t.DeadLetterExchange(), false, nil); err != nil {
		return fmt.Errorf("bind dlq to dlx: %w", err)
	}

	args := amqp.Table{"x-dead-letter-exchange": t.DeadLetterExchange()}

	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.Queue, err)
	}

	for _, key := range t.RoutingKeys {
		if key = strings.TrimSpace(key); key == "" {
			continue
		}

		if err := ch.QueueBind(t.Queue, key, exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, t.Queue, err)
		}
	}

	return nil
}
