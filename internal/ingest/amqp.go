package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/veritas-ed/docproc/internal/common"
	"github.com/veritas-ed/docproc/internal/webhook"
)

// Consumer feeds queue-delivered completion envelopes into the same
// handler the HTTP webhook uses. The message body is the identical push
// envelope JSON, so both ingress paths share one decode/idempotency
// pipeline.
type Consumer struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
	handler   *webhook.Handler
	log       *slog.Logger
}

// NewConsumer connects to the broker and declares the completion queue.
func NewConsumer(amqpURL, queueName string, handler *webhook.Handler, log *slog.Logger) (*Consumer, error) {
	conn, err := connectWithRetry(amqpURL, 10, 5*time.Second, log)
	if err != nil {
		return nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	_, err = channel.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := channel.Qos(1, 0, false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	log.Info("connected to AMQP broker", "queue", queueName)
	return &Consumer{
		conn:      conn,
		channel:   channel,
		queueName: queueName,
		handler:   handler,
		log:       log,
	}, nil
}

func connectWithRetry(url string, maxRetries int, delay time.Duration, log *slog.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error

	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		log.Warn("AMQP connect failed", "attempt", i+1, "max", maxRetries, "err", err)
		if i < maxRetries-1 {
			time.Sleep(delay)
		}
	}
	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxRetries, err)
}

// Start consumes until the context is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}
	c.log.Info("waiting for completion messages", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("amqp delivery channel closed")
			}
			c.handleDelivery(ctx, msg)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, msg amqp.Delivery) {
	res, err := c.handler.Process(ctx, msg.Body)
	switch {
	case err == nil:
		if res.Duplicate {
			c.log.Info("queued completion was a duplicate", "job_id", res.JobID)
		}
		if ackErr := msg.Ack(false); ackErr != nil {
			c.log.Error("ack failed", "err", ackErr)
		}
	case errors.Is(err, common.ErrInvalidInput):
		// A malformed envelope can never succeed on redelivery; drop it.
		c.log.Error("discarding malformed completion message", "err", err)
		if nackErr := msg.Nack(false, false); nackErr != nil {
			c.log.Error("nack failed", "err", nackErr)
		}
	default:
		// Everything else may be transient under at-least-once delivery:
		// a missing record or result artifact can appear once an
		// out-of-order write lands. Requeue, the handler is idempotent
		// under redelivery.
		c.log.Warn("requeueing completion message", "err", err)
		if nackErr := msg.Nack(false, true); nackErr != nil {
			c.log.Error("nack failed", "err", nackErr)
		}
	}
}

// Close closes the consumer connection.
func (c *Consumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
