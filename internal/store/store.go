// Package store persists feasibility jobs in SQLite or Postgres.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/parcel-feasibility/internal/feasibility"
	"github.com/sells-group/parcel-feasibility/internal/model"
)

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = eris.New("job not found")

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status   model.JobStatus `json:"status,omitempty"`
	ParcelID string          `json:"parcel_id,omitempty"`
	// CreatedAfter keeps jobs created strictly after the given time.
	CreatedAfter time.Time `json:"created_after,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// Store defines the persistence interface for feasibility jobs.
type Store interface {
	CreateJob(ctx context.Context, parcelID string) (*model.Job, error)
	// UpdateJobStatus moves a job to status, recording the current phase and,
	// for failures, the error message.
	UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, phase feasibility.Phase, errMsg string) error
	// CompleteJob stores the run summary and marks the job complete.
	CompleteJob(ctx context.Context, jobID string, result *feasibility.Summary) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100
