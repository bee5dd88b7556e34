package service

import (
	"context"
	"sync"
	"time"

	"github.com/kursadbilgin/promo-engine/internal/domain"
	"github.com/kursadbilgin/promo-engine/internal/lock"
	"github.com/kursadbilgin/promo-engine/internal/notifier"
	"github.com/kursadbilgin/promo-engine/internal/queue"
	"github.com/kursadbilgin/promo-engine/internal/repository"
)

type fakeBatchRepo struct {
	createFn       func(ctx context.Context, b *domain.Batch) error
	getByIDFn      func(ctx context.Context, id string) (*domain.Batch, error)
	existsByNameFn func(ctx context.Context, name string) (bool, error)
	updateStatusFn func(ctx context.Context, id string, status domain.BatchStatus) error
}

var _ repository.BatchRepository = (*fakeBatchRepo)(nil)

func (f *fakeBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	if f.createFn != nil {
		return f.createFn(ctx, b)
	}
	return nil
}

func (f *fakeBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeBatchRepo) ExistsByName(ctx context.Context, name string) (bool, error) {
	if f.existsByNameFn != nil {
		return f.existsByNameFn(ctx, name)
	}
	return false, nil
}

func (f *fakeBatchRepo) UpdateStatus(ctx context.Context, id string, status domain.BatchStatus) error {
	if f.updateStatusFn != nil {
		return f.updateStatusFn(ctx, id, status)
	}
	return nil
}

type fakePromoCodeRepo struct {
	createChunkFn    func(ctx context.Context, codes []*domain.PromoCode) error
	countByBatchFn   func(ctx context.Context, batchID string) (int64, error)
	getByCodeFn      func(ctx context.Context, code string) (*domain.PromoCode, error)
	redeemIfStatusFn func(ctx context.Context, code string, from string, at time.Time) (bool, error)
	forEachInBatchFn func(ctx context.Context, batchID string, pageSize int, fn func([]domain.PromoCode) error) error
}

var _ repository.PromoCodeRepository = (*fakePromoCodeRepo)(nil)

func (f *fakePromoCodeRepo) CreateChunk(ctx context.Context, codes []*domain.PromoCode) error {
	if f.createChunkFn != nil {
		return f.createChunkFn(ctx, codes)
	}
	return nil
}

func (f *fakePromoCodeRepo) CountByBatch(ctx context.Context, batchID string) (int64, error) {
	if f.countByBatchFn != nil {
		return f.countByBatchFn(ctx, batchID)
	}
	return 0, nil
}

func (f *fakePromoCodeRepo) GetByCode(ctx context.Context, code string) (*domain.PromoCode, error) {
	if f.getByCodeFn != nil {
		return f.getByCodeFn(ctx, code)
	}
	return nil, domain.ErrNotFound
}

func (f *fakePromoCodeRepo) RedeemIfStatus(ctx context.Context, code string, from string, at time.Time) (bool, error) {
	if f.redeemIfStatusFn != nil {
		return f.redeemIfStatusFn(ctx, code, from, at)
	}
	return false, nil
}

func (f *fakePromoCodeRepo) ForEachInBatch(ctx context.Context, batchID string, pageSize int, fn func([]domain.PromoCode) error) error {
	if f.forEachInBatchFn != nil {
		return f.forEachInBatchFn(ctx, batchID, pageSize, fn)
	}
	return nil
}

// memoryStore is an in-memory batch and promo code store with the same
// uniqueness rules as the database.
type memoryStore struct {
	mu      sync.Mutex
	batches map[string]*domain.Batch
	codes   map[string]*domain.PromoCode
	// failChunk, when set, is consulted before each chunk insert.
	failChunk func(n int) error
	chunks    int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		batches: make(map[string]*domain.Batch),
		codes:   make(map[string]*domain.PromoCode),
	}
}

func (m *memoryStore) batchRepo() *fakeBatchRepo {
	return &fakeBatchRepo{
		createFn: func(ctx context.Context, b *domain.Batch) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			for _, existing := range m.batches {
				if existing.Name == b.Name {
					return domain.ErrConflict
				}
			}
			stored := *b
			m.batches[b.ID] = &stored
			return nil
		},
		getByIDFn: func(ctx context.Context, id string) (*domain.Batch, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			b, ok := m.batches[id]
			if !ok {
				return nil, domain.ErrNotFound
			}
			out := *b
			return &out, nil
		},
		existsByNameFn: func(ctx context.Context, name string) (bool, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			for _, existing := range m.batches {
				if existing.Name == name {
					return true, nil
				}
			}
			return false, nil
		},
		updateStatusFn: func(ctx context.Context, id string, status domain.BatchStatus) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			b, ok := m.batches[id]
			if !ok {
				return domain.ErrNotFound
			}
			b.Status = status
			return nil
		},
	}
}

func (m *memoryStore) codeRepo() *fakePromoCodeRepo {
	return &fakePromoCodeRepo{
		createChunkFn: func(ctx context.Context, codes []*domain.PromoCode) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.chunks++
			if m.failChunk != nil {
				if err := m.failChunk(m.chunks); err != nil {
					return err
				}
			}
			for _, c := range codes {
				if _, dup := m.codes[c.Code]; dup {
					return domain.ErrConflict
				}
			}
			for _, c := range codes {
				stored := *c
				m.codes[c.Code] = &stored
			}
			return nil
		},
		countByBatchFn: func(ctx context.Context, batchID string) (int64, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			var n int64
			for _, c := range m.codes {
				if c.BatchID == batchID {
					n++
				}
			}
			return n, nil
		},
	}
}

func (m *memoryStore) batchStatus(id string) domain.BatchStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.batches[id]; ok {
		return b.Status
	}
	return ""
}

func (m *memoryStore) codeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.codes)
}

type recordingTracker struct {
	batchID  string
	progress []int
}

func (r *recordingTracker) SetBatchID(ctx context.Context, batchID string) error {
	r.batchID = batchID
	return nil
}

func (r *recordingTracker) SetProgress(ctx context.Context, progress int) error {
	r.progress = append(r.progress, progress)
	return nil
}

type fakeJobQueue struct {
	enqueueFn func(ctx context.Context, payload domain.GeneratePayload) (string, error)
	statusFn  func(ctx context.Context, jobID string) (*domain.Job, error)
}

func (f *fakeJobQueue) Enqueue(ctx context.Context, payload domain.GeneratePayload) (string, error) {
	if f.enqueueFn != nil {
		return f.enqueueFn(ctx, payload)
	}
	return "job-1", nil
}

func (f *fakeJobQueue) Status(ctx context.Context, jobID string) (*domain.Job, error) {
	if f.statusFn != nil {
		return f.statusFn(ctx, jobID)
	}
	return nil, domain.ErrNotFound
}

type fakeJobStore struct {
	getFn        func(ctx context.Context, id string) (*domain.Job, error)
	markActiveFn func(ctx context.Context, id string) (*domain.Job, error)
	setBatchIDFn func(ctx context.Context, id, batchID string) error
	setProgress  func(ctx context.Context, id string, progress int) error
	completeFn   func(ctx context.Context, id string, result domain.GenerateResult) error
	retryFn      func(ctx context.Context, id, reason string) error
	failFn       func(ctx context.Context, id, reason string) error
}

var _ JobStore = (*fakeJobStore)(nil)

func (f *fakeJobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}
	return &domain.Job{ID: id, State: domain.JobStateWaiting}, nil
}

func (f *fakeJobStore) MarkActive(ctx context.Context, id string) (*domain.Job, error) {
	if f.markActiveFn != nil {
		return f.markActiveFn(ctx, id)
	}
	return &domain.Job{ID: id, State: domain.JobStateActive, AttemptsMade: 1}, nil
}

func (f *fakeJobStore) SetBatchID(ctx context.Context, id, batchID string) error {
	if f.setBatchIDFn != nil {
		return f.setBatchIDFn(ctx, id, batchID)
	}
	return nil
}

func (f *fakeJobStore) SetProgress(ctx context.Context, id string, progress int) error {
	if f.setProgress != nil {
		return f.setProgress(ctx, id, progress)
	}
	return nil
}

func (f *fakeJobStore) Complete(ctx context.Context, id string, result domain.GenerateResult) error {
	if f.completeFn != nil {
		return f.completeFn(ctx, id, result)
	}
	return nil
}

func (f *fakeJobStore) Retry(ctx context.Context, id, reason string) error {
	if f.retryFn != nil {
		return f.retryFn(ctx, id, reason)
	}
	return nil
}

func (f *fakeJobStore) Fail(ctx context.Context, id, reason string) error {
	if f.failFn != nil {
		return f.failFn(ctx, id, reason)
	}
	return nil
}

type fakeRunner struct {
	runFn func(ctx context.Context, payload domain.GeneratePayload, resumeBatchID string, tracker JobTracker) (domain.GenerateResult, error)
}

func (f *fakeRunner) Run(ctx context.Context, payload domain.GeneratePayload, resumeBatchID string, tracker JobTracker) (domain.GenerateResult, error) {
	if f.runFn != nil {
		return f.runFn(ctx, payload, resumeBatchID, tracker)
	}
	return domain.GenerateResult{BatchID: "batch-1"}, nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queue string, handler queue.MessageHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakeLocker struct {
	obtainFn func(ctx context.Context, key string) (lock.Lock, error)
}

func (f *fakeLocker) Obtain(ctx context.Context, key string) (lock.Lock, error) {
	if f.obtainFn != nil {
		return f.obtainFn(ctx, key)
	}
	return &fakeLock{}, nil
}

type fakeLock struct {
	refreshes int
	released  bool
}

func (l *fakeLock) Refresh(ctx context.Context) error {
	l.refreshes++
	return nil
}

func (l *fakeLock) Release(ctx context.Context) error {
	l.released = true
	return nil
}

type fakeNotifier struct {
	batchCompletedFn func(ctx context.Context, event notifier.BatchCompleted) error
}

func (f *fakeNotifier) BatchCompleted(ctx context.Context, event notifier.BatchCompleted) error {
	if f.batchCompletedFn != nil {
		return f.batchCompletedFn(ctx, event)
	}
	return nil
}
