package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	generateMessageType = "promo.generate.v1"
	publisherAppID      = "promo-engine"
	jobIDHeader         = "x-job-id"
)

// RabbitMQPublisher publishes with publisher confirms: Publish returns only
// once the broker has taken responsibility for the job.
type RabbitMQPublisher struct {
	client *RabbitMQ
	now    func() time.Time
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client, now: time.Now}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, queue string, msg GenerateMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}

	publishing, err := generatePublishing(msg, p.now())
	if err != nil {
		return err
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, publishing)
	if err != nil {
		return fmt.Errorf("failed to publish job %s to queue %q: %w", msg.JobID, queue, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("no publish confirm for job %s: %w", msg.JobID, err)
	}
	if !acked {
		return fmt.Errorf("broker refused job %s on queue %q", msg.JobID, queue)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

// generatePublishing builds the persistent delivery for one generation job.
// The job id doubles as message id so consumers can recover it from the
// envelope alone.
func generatePublishing(msg GenerateMessage, now time.Time) (amqp.Publishing, error) {
	if err := msg.Validate(); err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid generate message: %w", err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal generate message: %w", err)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Type:          generateMessageType,
		AppId:         publisherAppID,
		Timestamp:     now.UTC(),
		MessageId:     msg.JobID,
		CorrelationId: msg.CorrelationID,
		Headers:       amqp.Table{jobIDHeader: msg.JobID},
		Body:          body,
	}, nil
}
