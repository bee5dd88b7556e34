package queue

import (
	"context"
	"fmt"
)

// Publisher publishes generation messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg GenerateMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message. A non-nil error requeues
// the delivery.
type MessageHandler func(ctx context.Context, msg GenerateMessage) error

// Consumer consumes generation messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// GenerateQueueName is the work queue for code generation jobs.
	GenerateQueueName = "promo.generate"
	generateRouting   = "promo.generate"
)

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.promo.generate.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// WorkQueueNames returns every work queue the worker consumes.
func WorkQueueNames() []string {
	return []string{GenerateQueueName}
}
