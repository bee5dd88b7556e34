package queue

import (
	"fmt"
	"strings"
)

// GenerateMessage is the broker payload for a generation job. The job record
// itself, payload included, lives in the job store.
type GenerateMessage struct {
	JobID         string `json:"jobId"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (m GenerateMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return fmt.Errorf("jobId is required")
	}
	return nil
}
