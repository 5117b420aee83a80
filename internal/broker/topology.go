// Package broker declares and drives the RabbitMQ topology: the main
// exchange/queue, the TTL-holding retry queue, and the dead-letter
// exchange/queue. There is no retry-scheduler code in this repo — it is
// the broker itself executing the dead-letter rules declared on
// deliveries.retry.q.
package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	MainExchange  = "webhookhub"
	MainQueue     = "webhookhub.deliveries"
	RetryQueue    = "deliveries.retry.q"
	DLX           = "deliveries.dlx"
	DLQ           = "deliveries.dlq"
	RoutingKey    = "delivery"
	mainQueueTTLMS = 1_800_000
)

// Dial opens a connection and a channel, and declares the full topology
// idempotently. Redeclaring with identical arguments is a no-op; mismatched
// arguments make the channel return a PRECONDITION_FAILED error, which Dial
// returns wrapped with the failing declaration (cmd/webhookhub exits on
// it) — the broker topology fails loudly on mismatch rather than silently
// diverging.
func Dial(amqpURL string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, nil, fmt.Errorf("broker: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("broker: open channel: %w", err)
	}
	if err := DeclareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// DeclareTopology declares the exchanges, queues, and bindings that make
// up the full delivery topology.
func DeclareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(MainExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("broker: declare exchange %s: %w", MainExchange, err)
	}
	if err := ch.ExchangeDeclare(DLX, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("broker: declare exchange %s: %w", DLX, err)
	}
	if _, err := ch.QueueDeclare(MainQueue, true, false, false, false, amqp.Table{
		"x-message-ttl":          int32(mainQueueTTLMS),
		"x-dead-letter-exchange": DLX,
	}); err != nil {
		return fmt.Errorf("broker: declare queue %s: %w", MainQueue, err)
	}
	if _, err := ch.QueueDeclare(RetryQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    MainExchange,
		"x-dead-letter-routing-key": RoutingKey,
	}); err != nil {
		return fmt.Errorf("broker: declare queue %s: %w", RetryQueue, err)
	}
	if _, err := ch.QueueDeclare(DLQ, true, false, false, false, nil); err != nil {
		return fmt.Errorf("broker: declare queue %s: %w", DLQ, err)
	}
	if err := ch.QueueBind(MainQueue, RoutingKey, MainExchange, false, nil); err != nil {
		return fmt.Errorf("broker: bind %s: %w", MainQueue, err)
	}
	if err := ch.QueueBind(DLQ, "", DLX, false, nil); err != nil {
		return fmt.Errorf("broker: bind %s: %w", DLQ, err)
	}
	return nil
}
