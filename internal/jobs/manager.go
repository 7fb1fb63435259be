// Package jobs runs feasibility pipelines in the background and tracks them
// through a job store.
package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-feasibility/internal/config"
	"github.com/sells-group/parcel-feasibility/internal/feasibility"
	"github.com/sells-group/parcel-feasibility/internal/model"
	"github.com/sells-group/parcel-feasibility/internal/resilience"
	"github.com/sells-group/parcel-feasibility/internal/store"
)

var (
	// ErrJobNotFound is returned for an unknown job handle.
	ErrJobNotFound = eris.New("jobs: job not found")
	// ErrNotComplete is returned by Result while a job has no summary.
	ErrNotComplete = eris.New("jobs: job not complete")
	// ErrClosed is returned by Start after Close.
	ErrClosed = eris.New("jobs: manager closed")
)

// JobID is the handle returned by Start.
type JobID = string

// Status is the lifecycle state reported by Status.
type Status = model.JobStatus

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, parcelID string) (feasibility.State, error)
}

// RunnerFactory builds a Runner that reports each new snapshot to progress.
type RunnerFactory func(progress func(feasibility.State)) Runner

// Manager starts runs and answers status and result queries.
type Manager struct {
	store     store.Store
	newRunner RunnerFactory
	sem       chan struct{}
	// retry governs writes of the final result.
	retry resilience.RetryConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewManager creates a Manager. At most cfg.MaxConcurrent runs execute at
// once; further jobs stay pending until a slot frees up.
func NewManager(st store.Store, newRunner RunnerFactory, cfg config.JobsConfig) *Manager {
	limit := cfg.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:     st,
		newRunner: newRunner,
		sem:       make(chan struct{}, limit),
		retry:     resultRetry(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start records a pending job for the parcel and schedules its run. The run
// outlives ctx; only Close cancels it.
func (m *Manager) Start(ctx context.Context, parcelID string) (JobID, error) {
	parcelID = strings.TrimSpace(parcelID)
	if parcelID == "" {
		return "", eris.New("jobs: parcel id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}

	job, err := m.store.CreateJob(ctx, parcelID)
	if err != nil {
		return "", eris.Wrap(err, "jobs: create job")
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.execute(job.ID, parcelID)
	}()

	zap.L().Info("jobs: job started",
		zap.String("job_id", job.ID),
		zap.String("parcel_id", parcelID),
	)
	return job.ID, nil
}

// Job returns the full job record.
func (m *Manager) Job(ctx context.Context, id JobID) (*model.Job, error) {
	job, err := m.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrapf(ErrJobNotFound, "job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "jobs: get job %s", id)
	}
	return job, nil
}

// Status reports the lifecycle state of a job.
func (m *Manager) Status(ctx context.Context, id JobID) (Status, error) {
	job, err := m.Job(ctx, id)
	if err != nil {
		return "", err
	}
	return job.Status, nil
}

// Result returns the summary of a completed job.
func (m *Manager) Result(ctx context.Context, id JobID) (*feasibility.Summary, error) {
	job, err := m.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusComplete || job.Result == nil {
		return nil, eris.Wrapf(ErrNotComplete, "job %s is %s", id, job.Status)
	}
	return job.Result, nil
}

// List returns recent jobs matching the filter.
func (m *Manager) List(ctx context.Context, filter store.JobFilter) ([]model.Job, error) {
	jobs, err := m.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: list")
	}
	return jobs, nil
}

// Wait blocks until every started run has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close stops accepting jobs, cancels in-flight runs and waits for them.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

func (m *Manager) execute(jobID, parcelID string) {
	log := zap.L().With(
		zap.String("component", "jobs"),
		zap.String("job_id", jobID),
		zap.String("parcel_id", parcelID),
	)
	// Status writes must land even when the run was canceled.
	writeCtx := context.WithoutCancel(m.ctx)

	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-m.ctx.Done():
		m.markFailed(writeCtx, log, jobID, "", m.ctx.Err())
		return
	}

	if err := m.store.UpdateJobStatus(writeCtx, jobID, model.JobStatusRunning, feasibility.PhaseResolvingParcel, ""); err != nil {
		log.Warn("jobs: mark running failed", zap.Error(err))
	}

	var last feasibility.Phase
	progress := func(s feasibility.State) {
		if s.Phase == last || s.Phase == feasibility.PhaseFailed || s.Phase == feasibility.PhaseDone {
			return
		}
		last = s.Phase
		if err := m.store.UpdateJobStatus(writeCtx, jobID, model.JobStatusRunning, s.Phase, ""); err != nil {
			log.Warn("jobs: progress update failed", zap.String("phase", string(s.Phase)), zap.Error(err))
		}
	}

	state, err := m.newRunner(progress).Run(m.ctx, parcelID)
	if err != nil {
		m.markFailed(writeCtx, log, jobID, state.FailedPhase(), err)
		return
	}

	sum := state.Summary()
	retry := m.retry
	retry.OnRetry = func(attempt int, err error) {
		log.Warn("jobs: retrying result write", zap.Int("attempt", attempt), zap.Error(err))
	}
	err = resilience.Do(writeCtx, retry, func(ctx context.Context) error {
		return m.store.CompleteJob(ctx, jobID, &sum)
	})
	if err != nil {
		m.markFailed(writeCtx, log, jobID, state.Phase, eris.Wrap(err, "jobs: store result"))
		return
	}
	log.Info("jobs: job complete",
		zap.Bool("stopped", sum.Stopped),
		zap.String("best_layout", sum.BestLayoutID),
		zap.Strings("risk_tags", sum.RiskTags),
	)
}

func (m *Manager) markFailed(ctx context.Context, log *zap.Logger, jobID string, phase feasibility.Phase, runErr error) {
	if phase == "" {
		phase = feasibility.PhaseFailed
	}
	log.Error("jobs: job failed", zap.Error(runErr))
	if err := m.store.UpdateJobStatus(ctx, jobID, model.JobStatusFailed, phase, runErr.Error()); err != nil {
		log.Warn("jobs: record failure failed", zap.Error(err))
	}
}

// resultRetry retries every store error except a missing job row.
func resultRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		ShouldRetry: func(err error) bool {
			return !errors.Is(err, store.ErrNotFound)
		},
	}
}
