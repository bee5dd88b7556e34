package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/kursadbilgin/promo-engine/internal/domain"
	"github.com/kursadbilgin/promo-engine/internal/lock"
	"github.com/kursadbilgin/promo-engine/internal/notifier"
	"github.com/kursadbilgin/promo-engine/internal/observability"
	"github.com/kursadbilgin/promo-engine/internal/queue"
	"github.com/kursadbilgin/promo-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency = 1
	defaultMaxAttempts   = 3
	maxRetryDelay        = 30 * time.Second
	baseRetryDelay       = time.Second
	lockBusyDelay        = 2 * time.Second
	maxRetryJitterMillis = 250
)

// JobStore is the worker's view of generation job records.
type JobStore interface {
	Get(ctx context.Context, id string) (*domain.Job, error)
	MarkActive(ctx context.Context, id string) (*domain.Job, error)
	SetBatchID(ctx context.Context, id, batchID string) error
	SetProgress(ctx context.Context, id string, progress int) error
	Complete(ctx context.Context, id string, result domain.GenerateResult) error
	Retry(ctx context.Context, id, reason string) error
	Fail(ctx context.Context, id, reason string) error
}

// GenerationRunner executes one attempt of a generation job.
type GenerationRunner interface {
	Run(ctx context.Context, payload domain.GeneratePayload, resumeBatchID string, tracker JobTracker) (domain.GenerateResult, error)
}

type WorkerService struct {
	jobs        JobStore
	runner      GenerationRunner
	batches     repository.BatchRepository
	consumer    queue.Consumer
	locker      lock.Locker
	notifier    notifier.Notifier
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	maxAttempts int
	now         func() time.Time
	randIntn    func(n int) int
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewWorkerService(
	jobs JobStore,
	runner GenerationRunner,
	batches repository.BatchRepository,
	consumer queue.Consumer,
	locker lock.Locker,
	concurrency int,
	maxAttempts int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("generation runner is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		jobs:        jobs,
		runner:      runner,
		batches:     batches,
		consumer:    consumer,
		locker:      locker,
		notifier:    notifier.Nop{},
		logger:      logger,
		concurrency: concurrency,
		maxAttempts: maxAttempts,
		now:         time.Now,
		randIntn:    rand.Intn,
		sleep:       sleepWithContext,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *WorkerService) SetNotifier(n notifier.Notifier) {
	if s == nil || n == nil {
		return
	}
	s.notifier = n
}

// Start runs concurrency consumers of the generation queue until ctx is canceled.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := s.consumer.Consume(groupCtx, queueName, s.processMessage)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

// processMessage runs one delivery. Returning nil acks it; returning an error
// hands it back to the broker for another attempt.
func (s *WorkerService) processMessage(ctx context.Context, msg queue.GenerateMessage) error {
	logger, ctx := observability.JobLogger(s.logger, ctx, msg.JobID)

	held, err := s.obtainLock(ctx, msg.JobID)
	if errors.Is(err, lock.ErrNotObtained) {
		// A busy job is never acked here; its holder may still fail.
		logger.Info("job is held by another worker, requeueing delivery")
		if sleepErr := s.sleep(ctx, lockBusyDelay); sleepErr != nil {
			return sleepErr
		}
		return fmt.Errorf("job %s is locked by another worker: %w", msg.JobID, err)
	}
	if err != nil {
		return err
	}
	if held != nil {
		defer func() {
			if releaseErr := held.Release(context.WithoutCancel(ctx)); releaseErr != nil {
				logger.Warn("failed to release job lock", zap.Error(releaseErr))
			}
		}()
	}

	current, err := s.jobs.Get(ctx, msg.JobID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn("job record not found, dropping delivery")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	// Terminal jobs can be redelivered after a broker reconnect; ack and skip.
	if current.State.IsTerminal() {
		return nil
	}

	job, err := s.jobs.MarkActive(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("failed to mark job active: %w", err)
	}

	s.metrics.IncWorkerInFlight()
	defer s.metrics.DecWorkerInFlight()

	tracker := &storeTracker{jobs: s.jobs, jobID: job.ID, lock: held}
	start := s.now()
	result, runErr := s.runner.Run(ctx, job.Payload, job.BatchID, tracker)
	s.metrics.ObserveGenerationDuration(s.now().Sub(start))

	if runErr == nil {
		if err := s.jobs.Complete(ctx, job.ID, result); err != nil {
			return fmt.Errorf("failed to complete job: %w", err)
		}
		s.metrics.IncGenerationJob("completed")
		logger.Info("generation job completed",
			zap.String("batchId", result.BatchID),
			zap.Int("attempt", job.AttemptsMade),
		)
		s.notifyCompleted(ctx, logger, job, result)
		return nil
	}

	storeCtx := context.WithoutCancel(ctx)
	if job.AttemptsMade < s.maxAttempts && !errors.Is(runErr, domain.ErrValidation) {
		logger.Warn("generation attempt failed, retrying",
			zap.Int("attempt", job.AttemptsMade),
			zap.Int("maxAttempts", s.maxAttempts),
			zap.Error(runErr),
		)
		if err := s.jobs.Retry(storeCtx, job.ID, runErr.Error()); err != nil {
			logger.Error("failed to record retry", zap.Error(err))
		}
		s.metrics.IncGenerationRetry()

		// Hold the delivery for a backoff before it goes back to the queue.
		if err := s.sleep(ctx, s.computeRetryDelay(job.AttemptsMade)); err != nil {
			return err
		}
		return fmt.Errorf("generation attempt %d failed: %w", job.AttemptsMade, runErr)
	}

	logger.Error("generation job failed",
		zap.Int("attempt", job.AttemptsMade),
		zap.String("batchId", tracker.batchID(job.BatchID)),
		zap.Error(runErr),
	)
	if err := s.jobs.Fail(storeCtx, job.ID, runErr.Error()); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	s.metrics.IncGenerationJob("failed")
	return nil
}

func (s *WorkerService) obtainLock(ctx context.Context, jobID string) (lock.Lock, error) {
	if s.locker == nil {
		return nil, nil
	}
	held, err := s.locker.Obtain(ctx, jobID)
	if err != nil {
		if errors.Is(err, lock.ErrNotObtained) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to obtain job lock: %w", err)
	}
	return held, nil
}

func (s *WorkerService) notifyCompleted(ctx context.Context, logger *zap.Logger, job *domain.Job, result domain.GenerateResult) {
	if _, ok := s.notifier.(notifier.Nop); ok || s.batches == nil {
		return
	}

	batch, err := s.batches.GetByID(ctx, result.BatchID)
	if err != nil {
		logger.Warn("failed to load batch for webhook", zap.Error(err))
		s.metrics.IncWebhook("failed")
		return
	}

	event := notifier.BatchCompleted{
		BatchID:     batch.ID,
		Name:        batch.Name,
		Quantity:    batch.Quantity,
		Status:      domain.BatchStatusCompleted.String(),
		JobID:       job.ID,
		CompletedAt: s.now().UTC(),
	}
	if err := s.notifier.BatchCompleted(ctx, event); err != nil {
		logger.Warn("batch webhook delivery failed",
			zap.String("batchId", batch.ID),
			zap.Bool("transient", notifier.IsTransient(err)),
			zap.Error(err),
		)
		s.metrics.IncWebhook("failed")
		return
	}
	s.metrics.IncWebhook("delivered")
}

func (s *WorkerService) computeRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}

	jitterMillis := 0
	if s.randIntn != nil && maxRetryJitterMillis > 0 {
		jitterMillis = s.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

// storeTracker writes job progress to the job store and keeps the job lock
// alive between chunks.
type storeTracker struct {
	jobs     JobStore
	jobID    string
	lock     lock.Lock
	reserved string
}

func (t *storeTracker) SetBatchID(ctx context.Context, batchID string) error {
	t.reserved = batchID
	return t.jobs.SetBatchID(ctx, t.jobID, batchID)
}

func (t *storeTracker) SetProgress(ctx context.Context, progress int) error {
	if err := t.jobs.SetProgress(ctx, t.jobID, progress); err != nil {
		return err
	}
	if t.lock == nil {
		return nil
	}
	if err := t.lock.Refresh(ctx); err != nil {
		return fmt.Errorf("lost job lock: %w", err)
	}
	return nil
}

func (t *storeTracker) batchID(fallback string) string {
	if t.reserved != "" {
		return t.reserved
	}
	return fallback
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
