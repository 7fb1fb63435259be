// Package model holds the persisted records of the feasibility job service.
package model

import (
	"time"

	"github.com/sells-group/parcel-feasibility/internal/feasibility"
)

// JobStatus represents the lifecycle state of a feasibility job.
type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusRunning  JobStatus = "running"
	JobStatusComplete JobStatus = "complete"
	JobStatusFailed   JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusComplete, JobStatusFailed:
		return true
	}
	return false
}

// Job is one asynchronous feasibility run for a parcel.
type Job struct {
	ID       string    `json:"id"`
	ParcelID string    `json:"parcel_id"`
	Status   JobStatus `json:"status"`
	// Phase is the last pipeline phase reported while running.
	Phase     feasibility.Phase    `json:"phase,omitempty"`
	Error     string               `json:"error,omitempty"`
	Result    *feasibility.Summary `json:"result,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}
