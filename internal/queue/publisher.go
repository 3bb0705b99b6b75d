// Package queue publishes messages to RabbitMQ.
//
// CONNECTION LIFECYCLE:
// AMQP connections are expensive (TCP + protocol handshake), so we dial ONCE
// at process start and reuse the connection and channel for every publish.
// The server owns the Publisher and calls Close() during graceful shutdown.
package queue

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends user-creation messages to a named durable queue.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	logger  *slog.Logger
}

// New dials the broker and declares the target queue.
//
// DECLARE ON STARTUP:
// QueueDeclare is idempotent — if the queue already exists with the same
// properties it's a no-op. Declaring it here (durable=true) means a message
// published before any consumer ever ran still survives a broker restart.
func New(url, queueName string, logger *slog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("queue: connecting to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue: opening channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queueName,
		true,  // durable — survives broker restarts
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("queue: declaring queue %s: %w", queueName, err)
	}

	return &Publisher{
		conn:    conn,
		channel: ch,
		queue:   queueName,
		logger:  logger,
	}, nil
}

// Publish sends one message to the queue via the default exchange
// (empty exchange name + routing key == queue name delivers directly).
func (p *Publisher) Publish(ctx context.Context, body []byte) error {
	err := p.channel.PublishWithContext(ctx,
		"",      // exchange — default (direct to queue)
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent, // message survives broker restart too
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("queue: publishing to %s: %w", p.queue, err)
	}

	p.logger.Info("message published",
		slog.String("queue", p.queue),
		slog.Int("bytes", len(body)),
	)
	return nil
}

// Close releases the channel and the connection. Errors are logged only —
// there's nothing useful a caller can do about a failed close at shutdown.
func (p *Publisher) Close() {
	if err := p.channel.Close(); err != nil {
		p.logger.Warn("closing amqp channel", slog.String("error", err.Error()))
	}
	if err := p.conn.Close(); err != nil {
		p.logger.Warn("closing amqp connection", slog.String("error", err.Error()))
	}
}
