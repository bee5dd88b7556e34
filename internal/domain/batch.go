package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BatchStatus represents the lifecycle state of a modern batch.
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusFailed    BatchStatus = "failed"
	BatchStatusArchived  BatchStatus = "archived"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusPending, BatchStatusCompleted, BatchStatusFailed, BatchStatusArchived:
		return true
	}
	return false
}

// BatchNamePrefix is mandatory on every caller-supplied batch name.
const BatchNamePrefix = "BATCH_"

// Fallback creator when the job metadata carries no assignee.
const SystemCreator = "system"

// NormalizeBatchName trims and uppercases name and ensures the BATCH_ prefix.
// An empty input stays empty.
func NormalizeBatchName(name string) string {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	if normalized == "" {
		return ""
	}
	if !strings.HasPrefix(normalized, BatchNamePrefix) {
		normalized = BatchNamePrefix + normalized
	}
	return normalized
}

// DefaultBatchName is used by the worker when the request carried no name.
func DefaultBatchName(now time.Time) string {
	return BatchNamePrefix + now.UTC().Format("20060102T150405.000Z")
}

// Batch is a named group of promo codes created by one generation job.
type Batch struct {
	ID          string
	Name        string
	Description *string
	CreatedBy   string
	Status      BatchStatus
	CodeLength  int
	Quantity    int
	Prefix      *string
	Suffix      *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (b *Batch) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("%w: batch name is required", ErrValidation)
	}
	if !b.Status.IsValid() {
		return fmt.Errorf("%w: invalid batch status %q", ErrValidation, b.Status)
	}
	if b.Quantity < 1 {
		return fmt.Errorf("%w: batch quantity must be positive", ErrValidation)
	}
	return nil
}

// Source identifies which physical table family serves a read.
type Source string

const (
	SourceModern Source = "modern"
	SourceLegacy Source = "legacy"
)

// BatchRow is one listing row, projected from either the modern or the
// legacy batch table into the same logical shape.
type BatchRow struct {
	ID             string
	Name           string
	Status         string
	Quantity       int
	Prefix         string
	Suffix         string
	CreatedBy      string
	CreatedAt      *time.Time
	UpdatedAt      *time.Time
	RedeemedCount  *int
	AmountPerCode  decimal.NullDecimal
	ExpirationDate *time.Time
}
