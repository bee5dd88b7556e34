package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/promo-engine/internal/domain"
	"github.com/kursadbilgin/promo-engine/internal/repository"
	"go.uber.org/zap"
)

// JobQueue is the durable job transport: enqueue work, poll its state.
type JobQueue interface {
	Enqueue(ctx context.Context, payload domain.GeneratePayload) (string, error)
	Status(ctx context.Context, jobID string) (*domain.Job, error)
}

// JobStatus is what a poller sees for one job.
type JobStatus struct {
	State        domain.JobState
	Progress     *int
	ReturnValue  *domain.GenerateResult
	FailedReason string
}

type GenerationService struct {
	batches repository.BatchRepository
	queue   JobQueue
	logger  *zap.Logger
}

// NewGenerationService builds the submission gateway. A nil queue leaves the
// service running with generation disabled.
func NewGenerationService(batches repository.BatchRepository, queue JobQueue, logger *zap.Logger) (*GenerationService, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GenerationService{
		batches: batches,
		queue:   queue,
		logger:  logger,
	}, nil
}

// Submit validates req, rejects duplicate batch names and enqueues the job.
// The name check races with concurrent submissions; the unique index on
// batch.name is the final arbiter.
func (s *GenerationService) Submit(ctx context.Context, req domain.GenerateRequest) (string, error) {
	if s.queue == nil {
		return "", fmt.Errorf("%w: generation queue is not configured", domain.ErrUnavailable)
	}

	payload, err := req.Normalize()
	if err != nil {
		return "", err
	}

	if payload.Name != "" {
		exists, err := s.batches.ExistsByName(ctx, payload.Name)
		if err != nil {
			return "", fmt.Errorf("failed to check batch name: %w", err)
		}
		if exists {
			return "", fmt.Errorf("%w: batch %q already exists", domain.ErrConflict, payload.Name)
		}
	}

	jobID, err := s.queue.Enqueue(ctx, payload)
	if err != nil {
		s.logger.Error("failed to enqueue generation job",
			zap.String("batchName", payload.Name),
			zap.Error(err),
		)
		return "", err
	}

	s.logger.Info("generation job enqueued",
		zap.String("jobId", jobID),
		zap.String("batchName", payload.Name),
		zap.Int("count", payload.Count),
	)
	return jobID, nil
}

func (s *GenerationService) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, fmt.Errorf("%w: jobId required", domain.ErrValidation)
	}
	if s.queue == nil {
		return nil, fmt.Errorf("%w: generation queue is not configured", domain.ErrUnavailable)
	}

	job, err := s.queue.Status(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &JobStatus{
		State:        job.State,
		Progress:     job.Progress,
		ReturnValue:  job.Result,
		FailedReason: job.FailedReason,
	}, nil
}
