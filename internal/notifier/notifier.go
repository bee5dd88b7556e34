package notifier

import (
	"context"
	"time"
)

// BatchCompleted describes a batch whose generation job has finalized.
type BatchCompleted struct {
	BatchID     string    `json:"batchId"`
	Name        string    `json:"name"`
	Quantity    int       `json:"quantity"`
	Status      string    `json:"status"`
	JobID       string    `json:"jobId"`
	CompletedAt time.Time `json:"completedAt"`
}

// Notifier is the outbound batch lifecycle notification port.
type Notifier interface {
	BatchCompleted(ctx context.Context, event BatchCompleted) error
}

// Nop discards every event. It is used when no webhook is configured.
type Nop struct{}

func (Nop) BatchCompleted(context.Context, BatchCompleted) error { return nil }
