package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/promo-engine/internal/codegen"
)

// JobState is the lifecycle state of a generation job as exposed to pollers.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

func (s JobState) String() string { return string(s) }

func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// CodeFormat selects the code alphabet and shape.
type CodeFormat string

const (
	CodeFormatDefault CodeFormat = "default"
	CodeFormatLegacy  CodeFormat = "legacy"
)

const (
	MinCodeLength     = 4
	MaxCodeLength     = 24
	DefaultCodeLength = 8
	MaxCodeCount      = 100_000
	// Codes inserted per chunk; one progress update per chunk.
	GenerateChunkSize = 1000
)

// GenerateRequest is the caller-facing generation request.
type GenerateRequest struct {
	Name      string
	Prefix    string
	Length    int
	Count     int
	ExpiresAt *string
	Metadata  *string
	Format    CodeFormat
}

// GeneratePayload is the normalized request carried on the queue.
type GeneratePayload struct {
	Name      string     `json:"name,omitempty"`
	Prefix    string     `json:"prefix"`
	Length    int        `json:"length"`
	Count     int        `json:"count"`
	ExpiresAt *string    `json:"expiresAt,omitempty"`
	Metadata  *string    `json:"metadata,omitempty"`
	Format    CodeFormat `json:"format,omitempty"`
}

// Normalize validates req and clamps it into a payload. Name uniqueness is
// not checked here.
func (req GenerateRequest) Normalize() (GeneratePayload, error) {
	if req.Count <= 0 {
		return GeneratePayload{}, fmt.Errorf("%w: count must be positive", ErrValidation)
	}
	format := CodeFormat(strings.ToLower(strings.TrimSpace(string(req.Format))))
	if format != "" && format != CodeFormatDefault && format != CodeFormatLegacy {
		return GeneratePayload{}, fmt.Errorf("%w: invalid format %q", ErrValidation, req.Format)
	}

	return GeneratePayload{
		Name:      NormalizeBatchName(req.Name),
		Prefix:    codegen.NormalizePrefix(req.Prefix),
		Length:    ClampLength(req.Length),
		Count:     ClampCount(req.Count),
		ExpiresAt: nonEmpty(req.ExpiresAt),
		Metadata:  nonEmpty(req.Metadata),
		Format:    format,
	}, nil
}

// ClampLength applies the default and clamps to [MinCodeLength, MaxCodeLength].
func ClampLength(length int) int {
	if length == 0 {
		length = DefaultCodeLength
	}
	return min(max(length, MinCodeLength), MaxCodeLength)
}

// ClampCount clamps to [1, MaxCodeCount].
func ClampCount(count int) int {
	return min(max(count, 1), MaxCodeCount)
}

func nonEmpty(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// GenerateResult is the return value of a successful job.
type GenerateResult struct {
	BatchID string `json:"batchId"`
}

// Job is the queue-side record of one generation job.
type Job struct {
	ID           string
	State        JobState
	Payload      GeneratePayload
	Progress     *int
	Result       *GenerateResult
	BatchID      string
	AttemptsMade int
	FailedReason string
	CreatedAt    time.Time
	FinishedAt   *time.Time
}
