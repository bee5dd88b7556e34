package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/promo-engine/internal/codegen"
	"github.com/kursadbilgin/promo-engine/internal/domain"
	"github.com/kursadbilgin/promo-engine/internal/observability"
	"github.com/kursadbilgin/promo-engine/internal/repository"
	"go.uber.org/zap"
)

// JobTracker receives the externally visible side effects of a running job.
type JobTracker interface {
	SetBatchID(ctx context.Context, batchID string) error
	SetProgress(ctx context.Context, progress int) error
}

// CodeGenerator draws random promo codes.
type CodeGenerator interface {
	Generate(prefix string, length int) (string, error)
	GenerateLegacy(createdAt time.Time) (string, error)
}

// GenerationJob reserves a batch and fills it with codes chunk by chunk.
// It knows nothing about the queue that drives it.
type GenerationJob struct {
	batches   repository.BatchRepository
	codes     repository.PromoCodeRepository
	generator CodeGenerator
	logger    *zap.Logger
	metrics   *observability.Metrics
	chunkSize int
	now       func() time.Time
	newID     func() string
}

func NewGenerationJob(
	batches repository.BatchRepository,
	codes repository.PromoCodeRepository,
	generator CodeGenerator,
	logger *zap.Logger,
) (*GenerationJob, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if codes == nil {
		return nil, fmt.Errorf("promo code repository is required")
	}
	if generator == nil {
		generator = codegen.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GenerationJob{
		batches:   batches,
		codes:     codes,
		generator: generator,
		logger:    logger,
		chunkSize: domain.GenerateChunkSize,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

func (j *GenerationJob) SetMetrics(metrics *observability.Metrics) {
	if j == nil {
		return
	}
	j.metrics = metrics
}

// Run executes one attempt. When resumeBatchID names a batch reserved by an
// earlier attempt, codes already persisted under it are kept and only the
// remainder is emitted.
func (j *GenerationJob) Run(
	ctx context.Context,
	payload domain.GeneratePayload,
	resumeBatchID string,
	tracker JobTracker,
) (domain.GenerateResult, error) {
	if tracker == nil {
		tracker = nopTracker{}
	}

	startedAt := j.now().UTC()
	prefix := codegen.NormalizePrefix(payload.Prefix)
	length := domain.ClampLength(payload.Length)
	count := domain.ClampCount(payload.Count)

	batch, emitted, err := j.resume(ctx, resumeBatchID)
	if err != nil {
		return domain.GenerateResult{}, err
	}
	if batch == nil {
		batch, err = j.reserveBatch(ctx, payload, prefix, length, count, startedAt)
		if err != nil {
			return domain.GenerateResult{}, err
		}
		if err := tracker.SetBatchID(ctx, batch.ID); err != nil {
			return domain.GenerateResult{}, err
		}
	}

	logger := j.logger.With(zap.String("batchId", batch.ID))
	if emitted > 0 {
		logger.Info("resuming generation", zap.Int("persisted", emitted), zap.Int("count", count))
	}

	// Legacy codes embed the batch date, so a resumed job keeps the original day.
	legacyDate := batch.CreatedAt
	if legacyDate.IsZero() {
		legacyDate = startedAt
	}
	useLegacy := codegen.UseLegacyFormat(string(payload.Format), prefix, length)
	formatLabel := string(domain.CodeFormatDefault)
	if useLegacy {
		formatLabel = string(domain.CodeFormatLegacy)
	}

	for emitted < count {
		size := min(j.chunkSize, count-emitted)
		chunk, err := j.buildChunk(batch.ID, size, prefix, length, useLegacy, legacyDate, payload.Metadata)
		if err != nil {
			return domain.GenerateResult{}, err
		}
		if err := j.codes.CreateChunk(ctx, chunk); err != nil {
			return domain.GenerateResult{}, fmt.Errorf("failed to persist chunk at offset %d: %w", emitted, err)
		}

		emitted += size
		j.metrics.AddCodesGenerated(formatLabel, size)
		if err := tracker.SetProgress(ctx, Progress(emitted, count)); err != nil {
			return domain.GenerateResult{}, err
		}
	}

	if batch.Status != domain.BatchStatusCompleted {
		if err := j.batches.UpdateStatus(ctx, batch.ID, domain.BatchStatusCompleted); err != nil {
			return domain.GenerateResult{}, fmt.Errorf("failed to finalize batch: %w", err)
		}
	}

	logger.Info("batch generated", zap.Int("count", count), zap.String("format", formatLabel))
	return domain.GenerateResult{BatchID: batch.ID}, nil
}

func (j *GenerationJob) resume(ctx context.Context, batchID string) (*domain.Batch, int, error) {
	if strings.TrimSpace(batchID) == "" {
		return nil, 0, nil
	}

	batch, err := j.batches.GetByID(ctx, batchID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load batch %s for resume: %w", batchID, err)
	}

	persisted, err := j.codes.CountByBatch(ctx, batch.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count persisted codes: %w", err)
	}
	return batch, int(persisted), nil
}

func (j *GenerationJob) reserveBatch(
	ctx context.Context,
	payload domain.GeneratePayload,
	prefix string,
	length int,
	count int,
	now time.Time,
) (*domain.Batch, error) {
	name := domain.NormalizeBatchName(payload.Name)
	if name == "" {
		name = domain.DefaultBatchName(now)
	}

	batch := &domain.Batch{
		ID:         j.newID(),
		Name:       name,
		CreatedBy:  creatorFromMetadata(payload.Metadata),
		Status:     domain.BatchStatusPending,
		CodeLength: length,
		Quantity:   count,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if payload.ExpiresAt != nil {
		description := "Expires at: " + *payload.ExpiresAt
		batch.Description = &description
	}
	if prefix != "" {
		batch.Prefix = &prefix
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}

	if err := j.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to reserve batch: %w", err)
	}
	return batch, nil
}

func (j *GenerationJob) buildChunk(
	batchID string,
	size int,
	prefix string,
	length int,
	useLegacy bool,
	legacyDate time.Time,
	metadata *string,
) ([]*domain.PromoCode, error) {
	now := j.now().UTC()
	chunk := make([]*domain.PromoCode, 0, size)
	for i := 0; i < size; i++ {
		var (
			code string
			err  error
		)
		if useLegacy {
			code, err = j.generator.GenerateLegacy(legacyDate)
		} else {
			code, err = j.generator.Generate(prefix, length)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to generate code: %w", err)
		}

		chunk = append(chunk, &domain.PromoCode{
			ID:        j.newID(),
			Code:      code,
			BatchID:   batchID,
			Status:    domain.CodeStatusNew,
			Metadata:  metadata,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return chunk, nil
}

// Progress is the rounded percentage of done over total, clamped to [0, 100].
func Progress(done, total int) int {
	if total <= 0 {
		return 0
	}
	pct := int(math.Round(float64(done) / float64(total) * 100))
	return min(max(pct, 0), 100)
}

// creatorFromMetadata reads assignToUser from the job metadata. Anything
// unparseable falls back to the system identity.
func creatorFromMetadata(metadata *string) string {
	if metadata == nil {
		return domain.SystemCreator
	}

	var meta map[string]any
	if err := json.Unmarshal([]byte(*metadata), &meta); err != nil {
		return domain.SystemCreator
	}

	switch v := meta["assignToUser"].(type) {
	case string:
		if strings.TrimSpace(v) != "" {
			return v
		}
	case float64:
		if v != 0 {
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	case bool:
		if v {
			return "true"
		}
	}
	return domain.SystemCreator
}

type nopTracker struct{}

func (nopTracker) SetBatchID(context.Context, string) error { return nil }
func (nopTracker) SetProgress(context.Context, int) error   { return nil }
