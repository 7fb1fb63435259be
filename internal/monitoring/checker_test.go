package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-feasibility/internal/config"
	"github.com/sells-group/parcel-feasibility/internal/model"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{
		CheckIntervalSecs:    1,
		LookbackWindowHours:  24,
		FailureRateThreshold: 0.10,
	}
	checker := NewChecker(NewCollector(&fakeLister{}, 0), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	checker := NewChecker(NewCollector(&fakeLister{}, 0), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.NotNil(t, checker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}

func TestChecker_CheckSendsAlerts(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	cfg := config.MonitoringConfig{
		WebhookURL:           ts.URL,
		LookbackWindowHours:  24,
		FailureRateThreshold: 0.10,
		StuckAfterMins:       30,
	}
	l := &fakeLister{jobs: []model.Job{
		{ID: "stuck", Status: model.JobStatusRunning, UpdatedAt: time.Now().Add(-time.Hour)},
	}}
	checker := NewChecker(NewCollector(l, 30*time.Minute), NewAlerter(cfg), cfg)

	assert.Nil(t, checker.Last())

	fresh := checker.check(context.Background(), zap.NewNop())
	require.Len(t, fresh, 1)
	assert.Equal(t, AlertStuckJobs, fresh[0].Type)
	assert.Equal(t, int32(1), received.Load())
	require.NotNil(t, checker.Last())
	assert.Equal(t, []string{"stuck"}, checker.Last().StuckJobs)

	// Still firing: not re-sent.
	assert.Empty(t, checker.check(context.Background(), zap.NewNop()))
	assert.Equal(t, int32(1), received.Load())

	// Cleared, then firing again: sent once more.
	l.jobs = nil
	assert.Empty(t, checker.check(context.Background(), zap.NewNop()))
	l.jobs = []model.Job{{ID: "stuck-2", Status: model.JobStatusRunning, UpdatedAt: time.Now().Add(-time.Hour)}}
	assert.Len(t, checker.check(context.Background(), zap.NewNop()), 1)
	assert.Equal(t, int32(2), received.Load())
}

func TestChecker_CollectErrorKeepsState(t *testing.T) {
	cfg := config.MonitoringConfig{LookbackWindowHours: 24}
	l := &fakeLister{err: errors.New("db down")}
	checker := NewChecker(NewCollector(l, 0), NewAlerter(cfg), cfg)

	assert.Nil(t, checker.check(context.Background(), zap.NewNop()))
	assert.Nil(t, checker.Last())
}
