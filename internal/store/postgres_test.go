package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/parcel-feasibility/internal/feasibility"
	"github.com/sells-group/parcel-feasibility/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var jobColumns = []string{"id", "parcel_id", "status", "phase", "error", "result", "created_at", "updated_at"}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS feasibility_jobs`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO feasibility_jobs \(id, parcel_id, status, created_at, updated_at\)`).
		WithArgs(pgxmock.AnyArg(), "3526049045", "pending", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job, err := s.CreateJob(context.Background(), "3526049045")
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO feasibility_jobs`).
		WillReturnError(errors.New("connection refused"))

	_, err := s.CreateJob(context.Background(), "p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert job")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJobStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE feasibility_jobs SET status = \$1, phase = \$2, error = \$3, updated_at = \$4 WHERE id = \$5`).
		WithArgs("running", "scoring", "", pgxmock.AnyArg(), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateJobStatus(context.Background(), "job-1", model.JobStatusRunning, feasibility.PhaseScoring, "")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJobStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE feasibility_jobs SET status`).
		WithArgs("failed", "failed", "boom", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateJobStatus(context.Background(), "missing", model.JobStatusFailed, feasibility.PhaseFailed, "boom")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE feasibility_jobs SET result = \$1, status = \$2, phase = \$3, updated_at = \$4 WHERE id = \$5`).
		WithArgs(pgxmock.AnyArg(), "complete", "done", pgxmock.AnyArg(), "job-2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.CompleteJob(context.Background(), "job-2", &feasibility.Summary{ParcelID: "p2", Phase: feasibility.PhaseDone})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	rows := pgxmock.NewRows(jobColumns).
		AddRow("job-3", "p3", "complete", "done", "", []byte(`{"parcel_id":"p3","phase":"done","best_layout_id":"equal_split_1"}`), now, now)
	mock.ExpectQuery(`SELECT id, parcel_id, status, phase, error, result, created_at, updated_at FROM feasibility_jobs WHERE id = \$1`).
		WithArgs("job-3").
		WillReturnRows(rows)

	job, err := s.GetJob(context.Background(), "job-3")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusComplete, job.Status)
	assert.Equal(t, feasibility.PhaseDone, job.Phase)
	require.NotNil(t, job.Result)
	assert.Equal(t, "equal_split_1", job.Result.BestLayoutID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, parcel_id, status, phase, error, result, created_at, updated_at FROM feasibility_jobs WHERE id = \$1`).
		WithArgs("nonexistent-job").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "nonexistent-job")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "get job")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListJobs_WithFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	rows := pgxmock.NewRows(jobColumns).
		AddRow("job-4", "p4", "running", "scoring", "", []byte(nil), now, now)
	mock.ExpectQuery(`FROM feasibility_jobs WHERE true AND status = \$1 AND parcel_id = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("running", "p4", 5, 10).
		WillReturnRows(rows)

	jobs, err := s.ListJobs(context.Background(), JobFilter{
		Status:   model.JobStatusRunning,
		ParcelID: "p4",
		Limit:    5,
		Offset:   10,
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-4", jobs[0].ID)
	assert.Nil(t, jobs[0].Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListJobs_DefaultLimit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM feasibility_jobs WHERE true ORDER BY created_at DESC LIMIT \$1`).
		WithArgs(defaultListLimit).
		WillReturnRows(pgxmock.NewRows(jobColumns))

	jobs, err := s.ListJobs(context.Background(), JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.NoError(t, mock.ExpectationsWereMet())
}
