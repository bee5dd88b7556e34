package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

type settlement int

const (
	settleAck settlement = iota
	settleRequeue
	settleDeadLetter
)

// handleDelivery runs the handler for one delivery and settles it. Deliveries
// that cannot name a job go to the dead-letter queue; handler failures are
// requeued.
func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	msg, err := decodeDelivery(d)
	if err != nil {
		c.logger.Warn("dead-lettering undecodable generate message",
			zap.Error(err),
			zap.String("routingKey", d.RoutingKey),
			zap.String("messageId", d.MessageId),
		)
		return settle(d, settleDeadLetter)
	}

	action := settleAck
	if err := handler(ctx, msg); err != nil {
		action = settleRequeue
		if ctx.Err() == nil {
			c.logger.Warn("requeueing generate job after handler failure",
				zap.Error(err),
				zap.String("jobId", msg.JobID),
				zap.Bool("redelivered", d.Redelivered),
			)
		}
	}
	return settle(d, action)
}

// decodeDelivery reads the job reference from the body, falling back to the
// envelope ids the publisher stamps.
func decodeDelivery(d amqp.Delivery) (GenerateMessage, error) {
	var msg GenerateMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return GenerateMessage{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if msg.JobID == "" {
		msg.JobID = d.MessageId
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = d.CorrelationId
	}
	if err := msg.Validate(); err != nil {
		return GenerateMessage{}, err
	}
	return msg, nil
}

func settle(d amqp.Delivery, action settlement) error {
	switch action {
	case settleDeadLetter:
		if err := d.Reject(false); err != nil {
			return fmt.Errorf("failed to dead-letter delivery: %w", err)
		}
	case settleRequeue:
		if err := d.Nack(false, true); err != nil {
			return fmt.Errorf("failed to requeue delivery: %w", err)
		}
	default:
		if err := d.Ack(false); err != nil {
			return fmt.Errorf("failed to ack delivery: %w", err)
		}
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
