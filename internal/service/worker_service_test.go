package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/promo-engine/internal/domain"
	"github.com/kursadbilgin/promo-engine/internal/lock"
	"github.com/kursadbilgin/promo-engine/internal/notifier"
	"github.com/kursadbilgin/promo-engine/internal/queue"
	"go.uber.org/zap"
)

func newTestWorker(t *testing.T, jobs JobStore, runner GenerationRunner, locker lock.Locker) *WorkerService {
	t.Helper()

	worker, err := NewWorkerService(jobs, runner, &fakeBatchRepo{}, &fakeConsumer{}, locker, 2, 3, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}
	worker.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	worker.randIntn = func(n int) int { return 0 }
	worker.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return worker
}

func TestWorkerServiceProcessMessageSuccess(t *testing.T) {
	t.Parallel()

	var (
		completed *domain.GenerateResult
		batchID   string
		progress  []int
	)
	held := &fakeLock{}
	jobs := &fakeJobStore{
		markActiveFn: func(ctx context.Context, id string) (*domain.Job, error) {
			return &domain.Job{
				ID:           id,
				State:        domain.JobStateActive,
				Payload:      domain.GeneratePayload{Name: "BATCH_A", Count: 2000},
				AttemptsMade: 1,
			}, nil
		},
		setBatchIDFn: func(ctx context.Context, id, b string) error {
			batchID = b
			return nil
		},
		setProgress: func(ctx context.Context, id string, p int) error {
			progress = append(progress, p)
			return nil
		},
		completeFn: func(ctx context.Context, id string, result domain.GenerateResult) error {
			completed = &result
			return nil
		},
		failFn: func(ctx context.Context, id, reason string) error {
			t.Fatal("Fail should not be called on success")
			return nil
		},
	}
	runner := &fakeRunner{
		runFn: func(ctx context.Context, payload domain.GeneratePayload, resumeBatchID string, tracker JobTracker) (domain.GenerateResult, error) {
			if payload.Name != "BATCH_A" {
				t.Fatalf("payload name = %q, want BATCH_A", payload.Name)
			}
			if resumeBatchID != "" {
				t.Fatalf("first attempt should not resume, got %q", resumeBatchID)
			}
			if err := tracker.SetBatchID(ctx, "b1"); err != nil {
				return domain.GenerateResult{}, err
			}
			for _, p := range []int{50, 100} {
				if err := tracker.SetProgress(ctx, p); err != nil {
					return domain.GenerateResult{}, err
				}
			}
			return domain.GenerateResult{BatchID: "b1"}, nil
		},
	}
	locker := &fakeLocker{
		obtainFn: func(ctx context.Context, key string) (lock.Lock, error) {
			if key != "job-1" {
				t.Fatalf("lock key = %q, want job-1", key)
			}
			return held, nil
		},
	}

	worker := newTestWorker(t, jobs, runner, locker)
	if err := worker.processMessage(context.Background(), queue.GenerateMessage{JobID: "job-1"}); err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}

	if completed == nil || completed.BatchID != "b1" {
		t.Fatalf("completed = %+v, want batch b1", completed)
	}
	if batchID != "b1" {
		t.Fatalf("batch id = %q, want b1", batchID)
	}
	if !equalInts(progress, []int{50, 100}) {
		t.Fatalf("progress = %v, want [50 100]", progress)
	}
	if held.refreshes != 2 || !held.released {
		t.Fatalf("lock refreshes = %d released = %v, want 2 true", held.refreshes, held.released)
	}
}

func TestWorkerServiceProcessMessageRetriesThenResumes(t *testing.T) {
	t.Parallel()

	var retried bool
	jobs := &fakeJobStore{
		markActiveFn: func(ctx context.Context, id string) (*domain.Job, error) {
			return &domain.Job{ID: id, State: domain.JobStateActive, BatchID: "b1", AttemptsMade: 2}, nil
		},
		retryFn: func(ctx context.Context, id, reason string) error {
			retried = true
			if reason != "chunk failed" {
				t.Fatalf("reason = %q, want chunk failed", reason)
			}
			return nil
		},
		failFn: func(ctx context.Context, id, reason string) error {
			t.Fatal("Fail should not be called before the last attempt")
			return nil
		},
	}
	runner := &fakeRunner{
		runFn: func(ctx context.Context, payload domain.GeneratePayload, resumeBatchID string, tracker JobTracker) (domain.GenerateResult, error) {
			if resumeBatchID != "b1" {
				t.Fatalf("resume batch = %q, want b1", resumeBatchID)
			}
			return domain.GenerateResult{}, errors.New("chunk failed")
		},
	}

	var slept time.Duration
	worker := newTestWorker(t, jobs, runner, nil)
	worker.sleep = func(ctx context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	err := worker.processMessage(context.Background(), queue.GenerateMessage{JobID: "job-2"})
	if err == nil {
		t.Fatal("processMessage() should return an error so the delivery is requeued")
	}
	if !retried {
		t.Fatal("Retry should be recorded")
	}
	if slept != 2*time.Second {
		t.Fatalf("backoff = %v, want 2s", slept)
	}
}

func TestWorkerServiceProcessMessageFailsOnLastAttempt(t *testing.T) {
	t.Parallel()

	var failedReason string
	jobs := &fakeJobStore{
		markActiveFn: func(ctx context.Context, id string) (*domain.Job, error) {
			return &domain.Job{ID: id, State: domain.JobStateActive, AttemptsMade: 3}, nil
		},
		retryFn: func(ctx context.Context, id, reason string) error {
			t.Fatal("Retry should not be called on the last attempt")
			return nil
		},
		failFn: func(ctx context.Context, id, reason string) error {
			failedReason = reason
			return nil
		},
	}
	runner := &fakeRunner{
		runFn: func(ctx context.Context, payload domain.GeneratePayload, resumeBatchID string, tracker JobTracker) (domain.GenerateResult, error) {
			return domain.GenerateResult{}, errors.New("duplicate key")
		},
	}

	worker := newTestWorker(t, jobs, runner, nil)
	if err := worker.processMessage(context.Background(), queue.GenerateMessage{JobID: "job-3"}); err != nil {
		t.Fatalf("processMessage() error = %v, want ack", err)
	}
	if failedReason != "duplicate key" {
		t.Fatalf("failed reason = %q, want duplicate key", failedReason)
	}
}

func TestWorkerServiceProcessMessageValidationFailsImmediately(t *testing.T) {
	t.Parallel()

	failed := false
	jobs := &fakeJobStore{
		retryFn: func(ctx context.Context, id, reason string) error {
			t.Fatal("validation errors must not be retried")
			return nil
		},
		failFn: func(ctx context.Context, id, reason string) error {
			failed = true
			return nil
		},
	}
	runner := &fakeRunner{
		runFn: func(ctx context.Context, payload domain.GeneratePayload, resumeBatchID string, tracker JobTracker) (domain.GenerateResult, error) {
			return domain.GenerateResult{}, domain.ErrValidation
		},
	}

	worker := newTestWorker(t, jobs, runner, nil)
	if err := worker.processMessage(context.Background(), queue.GenerateMessage{JobID: "job-4"}); err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
	if !failed {
		t.Fatal("job should be marked failed")
	}
}

func TestWorkerServiceProcessMessageSkips(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		locker lock.Locker
		getFn  func(ctx context.Context, id string) (*domain.Job, error)
	}{
		{
			name: "unknown job",
			getFn: func(ctx context.Context, id string) (*domain.Job, error) {
				return nil, domain.ErrNotFound
			},
		},
		{
			name: "terminal job",
			getFn: func(ctx context.Context, id string) (*domain.Job, error) {
				return &domain.Job{ID: id, State: domain.JobStateCompleted}, nil
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			jobs := &fakeJobStore{
				getFn: tt.getFn,
				markActiveFn: func(ctx context.Context, id string) (*domain.Job, error) {
					t.Fatal("MarkActive should not be called")
					return nil, nil
				},
			}
			runner := &fakeRunner{
				runFn: func(ctx context.Context, payload domain.GeneratePayload, resumeBatchID string, tracker JobTracker) (domain.GenerateResult, error) {
					t.Fatal("Run should not be called")
					return domain.GenerateResult{}, nil
				},
			}

			worker := newTestWorker(t, jobs, runner, tt.locker)
			if err := worker.processMessage(context.Background(), queue.GenerateMessage{JobID: "job-5"}); err != nil {
				t.Fatalf("processMessage() error = %v, want ack", err)
			}
		})
	}
}

func TestWorkerServiceRequeuesWhileLockHeld(t *testing.T) {
	t.Parallel()

	var (
		state    = domain.JobStateActive
		attempts = 1
		busy     = true
		slept    []time.Duration
		resumed  string
	)
	jobs := &fakeJobStore{
		getFn: func(ctx context.Context, id string) (*domain.Job, error) {
			return &domain.Job{ID: id, State: state, AttemptsMade: attempts, BatchID: "b1"}, nil
		},
		markActiveFn: func(ctx context.Context, id string) (*domain.Job, error) {
			attempts++
			state = domain.JobStateActive
			return &domain.Job{ID: id, State: state, AttemptsMade: attempts, BatchID: "b1"}, nil
		},
		completeFn: func(ctx context.Context, id string, result domain.GenerateResult) error {
			state = domain.JobStateCompleted
			return nil
		},
	}
	runner := &fakeRunner{
		runFn: func(ctx context.Context, payload domain.GeneratePayload, resumeBatchID string, tracker JobTracker) (domain.GenerateResult, error) {
			resumed = resumeBatchID
			return domain.GenerateResult{BatchID: resumeBatchID}, nil
		},
	}
	locker := &fakeLocker{obtainFn: func(ctx context.Context, key string) (lock.Lock, error) {
		if busy {
			return nil, lock.ErrNotObtained
		}
		return &fakeLock{}, nil
	}}

	worker := newTestWorker(t, jobs, runner, locker)
	worker.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	err := worker.processMessage(context.Background(), queue.GenerateMessage{JobID: "job-9"})
	if !errors.Is(err, lock.ErrNotObtained) {
		t.Fatalf("processMessage() error = %v, want requeue on busy lock", err)
	}
	if len(slept) != 1 || slept[0] != lockBusyDelay {
		t.Fatalf("slept = %v, want [%v]", slept, lockBusyDelay)
	}

	// The holder failed and recorded a retry without its nack reaching the
	// broker; the requeued delivery must finish the job.
	busy = false
	state = domain.JobStateWaiting
	if err := worker.processMessage(context.Background(), queue.GenerateMessage{JobID: "job-9"}); err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
	if state != domain.JobStateCompleted || resumed != "b1" || attempts != 2 {
		t.Fatalf("state = %s, resumed = %q, attempts = %d", state, resumed, attempts)
	}
}

func TestWorkerServiceNotifiesOnCompletion(t *testing.T) {
	t.Parallel()

	var event notifier.BatchCompleted
	worker := newTestWorker(t, &fakeJobStore{}, &fakeRunner{}, nil)
	worker.batches = &fakeBatchRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Batch, error) {
			return &domain.Batch{ID: id, Name: "BATCH_N", Quantity: 5}, nil
		},
	}
	worker.SetNotifier(&fakeNotifier{
		batchCompletedFn: func(ctx context.Context, e notifier.BatchCompleted) error {
			event = e
			return errors.New("webhook down")
		},
	})

	if err := worker.processMessage(context.Background(), queue.GenerateMessage{JobID: "job-6"}); err != nil {
		t.Fatalf("processMessage() error = %v, webhook failures must not fail the job", err)
	}
	if event.BatchID != "batch-1" || event.Name != "BATCH_N" || event.Quantity != 5 || event.JobID != "job-6" {
		t.Fatalf("event = %+v", event)
	}
	if event.Status != "completed" {
		t.Fatalf("event status = %q, want completed", event.Status)
	}
}

func TestWorkerServiceStartPropagatesConsumerError(t *testing.T) {
	t.Parallel()

	consumeErr := errors.New("consume failed")
	consumer := &fakeConsumer{
		consumeFn: func(ctx context.Context, queueName string, handler queue.MessageHandler) error {
			if queueName != queue.GenerateQueueName {
				t.Fatalf("queue = %q, want %q", queueName, queue.GenerateQueueName)
			}
			return consumeErr
		},
	}

	worker, err := NewWorkerService(&fakeJobStore{}, &fakeRunner{}, nil, consumer, nil, 2, 3, nil)
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}

	if err := worker.Start(context.Background()); !errors.Is(err, consumeErr) {
		t.Fatalf("Start() error = %v, want %v", err, consumeErr)
	}
}

func TestNewWorkerServiceValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewWorkerService(nil, &fakeRunner{}, nil, &fakeConsumer{}, nil, 1, 1, nil); err == nil {
		t.Fatal("expected error for missing job store")
	}
	if _, err := NewWorkerService(&fakeJobStore{}, nil, nil, &fakeConsumer{}, nil, 1, 1, nil); err == nil {
		t.Fatal("expected error for missing runner")
	}
	if _, err := NewWorkerService(&fakeJobStore{}, &fakeRunner{}, nil, nil, nil, 1, 1, nil); err == nil {
		t.Fatal("expected error for missing consumer")
	}

	worker, err := NewWorkerService(&fakeJobStore{}, &fakeRunner{}, nil, &fakeConsumer{}, nil, 0, 0, nil)
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}
	if worker.concurrency != 1 || worker.maxAttempts != defaultMaxAttempts {
		t.Fatalf("concurrency/maxAttempts = %d/%d, want 1/%d", worker.concurrency, worker.maxAttempts, defaultMaxAttempts)
	}
}

func TestWorkerServiceComputeRetryDelay(t *testing.T) {
	t.Parallel()

	worker := newTestWorker(t, &fakeJobStore{}, &fakeRunner{}, nil)

	if got := worker.computeRetryDelay(1); got != time.Second {
		t.Fatalf("computeRetryDelay(1) = %v, want %v", got, time.Second)
	}
	if got := worker.computeRetryDelay(10); got != maxRetryDelay {
		t.Fatalf("computeRetryDelay(10) = %v, want %v", got, maxRetryDelay)
	}

	worker.randIntn = func(n int) int {
		if n != maxRetryJitterMillis+1 {
			t.Fatalf("randIntn arg = %d, want %d", n, maxRetryJitterMillis+1)
		}
		return 125
	}
	want := 2*time.Second + 125*time.Millisecond
	if got := worker.computeRetryDelay(2); got != want {
		t.Fatalf("computeRetryDelay(2) = %v, want %v", got, want)
	}
}
