package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/promo-engine/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix = "promo:generate:job:"
	// Terminal job records stay pollable for this long.
	DefaultJobRetention = 7 * 24 * time.Hour

	fieldState        = "state"
	fieldPayload      = "payload"
	fieldProgress     = "progress"
	fieldResult       = "result"
	fieldBatchID      = "batchId"
	fieldAttemptsMade = "attemptsMade"
	fieldFailedReason = "failedReason"
	fieldCreatedAt    = "createdAt"
	fieldFinishedAt   = "finishedAt"
)

// RedisJobStore keeps generation job records as Redis hashes.
type RedisJobStore struct {
	client    *redis.Client
	retention time.Duration
	now       func() time.Time
	newID     func() string
}

func NewRedisJobStore(client *redis.Client, retention time.Duration) (*RedisJobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if retention <= 0 {
		retention = DefaultJobRetention
	}

	return &RedisJobStore{
		client:    client,
		retention: retention,
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}, nil
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

// Create stores a new waiting job for payload and returns it.
func (s *RedisJobStore) Create(ctx context.Context, payload domain.GeneratePayload) (*domain.Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	job := &domain.Job{
		ID:        s.newID(),
		State:     domain.JobStateWaiting,
		Payload:   payload,
		CreatedAt: s.now().UTC(),
	}

	err = s.client.HSet(ctx, jobKey(job.ID),
		fieldState, string(job.State),
		fieldPayload, string(raw),
		fieldAttemptsMade, 0,
		fieldCreatedAt, job.CreatedAt.Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to create job record: %w", err)
	}
	return job, nil
}

func (s *RedisJobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	values, err := s.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	return decodeJob(id, values)
}

// MarkActive records the start of a new attempt and returns the updated job.
func (s *RedisJobStore) MarkActive(ctx context.Context, id string) (*domain.Job, error) {
	if err := s.ensureExists(ctx, id); err != nil {
		return nil, err
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, jobKey(id), fieldAttemptsMade, 1)
		pipe.HSet(ctx, jobKey(id), fieldState, string(domain.JobStateActive))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mark job %s active: %w", id, err)
	}
	return s.Get(ctx, id)
}

func (s *RedisJobStore) SetBatchID(ctx context.Context, id, batchID string) error {
	if err := s.client.HSet(ctx, jobKey(id), fieldBatchID, batchID).Err(); err != nil {
		return fmt.Errorf("failed to store batch id for job %s: %w", id, err)
	}
	return nil
}

func (s *RedisJobStore) SetProgress(ctx context.Context, id string, progress int) error {
	if err := s.client.HSet(ctx, jobKey(id), fieldProgress, progress).Err(); err != nil {
		return fmt.Errorf("failed to store progress for job %s: %w", id, err)
	}
	return nil
}

func (s *RedisJobStore) Complete(ctx context.Context, id string, result domain.GenerateResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal job result: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, jobKey(id),
			fieldState, string(domain.JobStateCompleted),
			fieldProgress, 100,
			fieldResult, string(raw),
			fieldFinishedAt, s.now().UTC().Format(time.RFC3339Nano),
		)
		pipe.HDel(ctx, jobKey(id), fieldFailedReason)
		pipe.Expire(ctx, jobKey(id), s.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", id, err)
	}
	return nil
}

// Retry puts the job back to waiting after a failed attempt.
func (s *RedisJobStore) Retry(ctx context.Context, id, reason string) error {
	err := s.client.HSet(ctx, jobKey(id),
		fieldState, string(domain.JobStateWaiting),
		fieldFailedReason, reason,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", id, err)
	}
	return nil
}

func (s *RedisJobStore) Fail(ctx context.Context, id, reason string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, jobKey(id),
			fieldState, string(domain.JobStateFailed),
			fieldFailedReason, reason,
			fieldFinishedAt, s.now().UTC().Format(time.RFC3339Nano),
		)
		pipe.Expire(ctx, jobKey(id), s.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark job %s failed: %w", id, err)
	}
	return nil
}

func (s *RedisJobStore) ensureExists(ctx context.Context, id string) error {
	n, err := s.client.Exists(ctx, jobKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to check job %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	return nil
}

func decodeJob(id string, values map[string]string) (*domain.Job, error) {
	job := &domain.Job{
		ID:           id,
		State:        domain.JobState(values[fieldState]),
		BatchID:      values[fieldBatchID],
		FailedReason: values[fieldFailedReason],
	}

	if raw := values[fieldPayload]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &job.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload of job %s: %w", id, err)
		}
	}
	if raw := values[fieldResult]; raw != "" {
		var result domain.GenerateResult
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return nil, fmt.Errorf("failed to decode result of job %s: %w", id, err)
		}
		job.Result = &result
	}
	if raw := values[fieldProgress]; raw != "" {
		progress, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid progress %q on job %s", raw, id)
		}
		job.Progress = &progress
	}
	if raw := values[fieldAttemptsMade]; raw != "" {
		attempts, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid attempt count %q on job %s", raw, id)
		}
		job.AttemptsMade = attempts
	}

	var err error
	if job.CreatedAt, err = parseTime(values[fieldCreatedAt]); err != nil {
		return nil, err
	}
	if raw := values[fieldFinishedAt]; strings.TrimSpace(raw) != "" {
		finished, err := parseTime(raw)
		if err != nil {
			return nil, err
		}
		job.FinishedAt = &finished
	}

	return job, nil
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, errors.Join(fmt.Errorf("invalid timestamp %q", raw), err)
	}
	return t, nil
}
