package rabbitmq

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rabbitmq/amqp091-go"
)

// MessageHandler processes a single message. It returns true to ack the
// message, or false to nack and requeue it.
type MessageHandler func(body []byte) bool

// Consumer handles the connection and consumption of messages from RabbitMQ.
type Consumer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	logger  *slog.Logger
}

// NewConsumer creates a new RabbitMQ consumer.
func NewConsumer(amqpURL string, logger *slog.Logger) (*Consumer, error) {
	conn, channel, err := dial(amqpURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		conn:    conn,
		channel: channel,
		logger:  logger.With("component", "event_consumer"),
	}, nil
}

// Consume binds a durable queue to exchange with routingKey and dispatches
// deliveries to handler until ctx is done or the channel closes.
func (c *Consumer) Consume(ctx context.Context, exchange, queueName, routingKey string, handler MessageHandler) error {
	if err := declareExchange(c.channel, exchange); err != nil {
		return err
	}

	q, err := c.channel.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return err
	}

	if err := c.channel.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		return err
	}

	msgs, err := c.channel.Consume(
		q.Name, // queue
		"",     // consumer
		false,  // auto-ack (we want manual acknowledgment)
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return err
	}

	c.logger.Info("consuming", "queue", q.Name, "routing_key", routingKey)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			c.logger.Debug("received message", "routing_key", d.RoutingKey)
			if handler(d.Body) {
				d.Ack(false)
			} else {
				d.Nack(false, true)
			}
		}
	}
}

// Close gracefully closes the channel and connection.
func (c *Consumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
