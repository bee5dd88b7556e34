package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/promo-engine/internal/domain"
	"go.uber.org/zap"
)

const defaultPublishTimeout = 5 * time.Second

// GenerateQueue pairs the Redis job store with the broker: the store holds
// state and progress, the broker carries the work.
type GenerateQueue struct {
	store          *RedisJobStore
	publisher      Publisher
	queueName      string
	publishTimeout time.Duration
	logger         *zap.Logger
}

func NewGenerateQueue(store *RedisJobStore, publisher Publisher, logger *zap.Logger) (*GenerateQueue, error) {
	if store == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GenerateQueue{
		store:          store,
		publisher:      publisher,
		queueName:      GenerateQueueName,
		publishTimeout: defaultPublishTimeout,
		logger:         logger,
	}, nil
}

// Enqueue records a waiting job and publishes it. Store or broker failures
// are reported as domain.ErrUnavailable.
func (q *GenerateQueue) Enqueue(ctx context.Context, payload domain.GeneratePayload) (string, error) {
	job, err := q.store.Create(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, q.publishTimeout)
	defer cancel()

	if err := q.publisher.Publish(publishCtx, q.queueName, GenerateMessage{JobID: job.ID, CorrelationID: job.ID}); err != nil {
		if failErr := q.store.Fail(context.WithoutCancel(ctx), job.ID, "enqueue failed: "+err.Error()); failErr != nil {
			q.logger.Error("failed to mark unpublished job failed", zap.String("jobId", job.ID), zap.Error(failErr))
		}
		return "", fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}

	return job.ID, nil
}

func (q *GenerateQueue) Status(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := q.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	return job, nil
}
