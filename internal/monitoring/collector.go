package monitoring

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/parcel-feasibility/internal/constraint"
	"github.com/sells-group/parcel-feasibility/internal/model"
	"github.com/sells-group/parcel-feasibility/internal/store"
)

// MetricsSnapshot holds a point-in-time view of job health.
type MetricsSnapshot struct {
	JobsTotal    int     `json:"jobs_total"`
	JobsComplete int     `json:"jobs_complete"`
	JobsFailed   int     `json:"jobs_failed"`
	JobsPending  int     `json:"jobs_pending"`
	JobsRunning  int     `json:"jobs_running"`
	FailRate     float64 `json:"fail_rate"`

	// Stopped counts complete jobs that ended at a gate.
	Stopped int `json:"stopped"`

	// Degraded counts complete jobs where at least one constraint layer
	// could not be fully read.
	Degraded       int            `json:"degraded"`
	DegradedRate   float64        `json:"degraded_rate"`
	DegradedLayers map[string]int `json:"degraded_layers,omitempty"`

	StuckJobs    []string `json:"stuck_jobs,omitempty"`
	AvgBestScore float64  `json:"avg_best_score"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// JobLister is the subset of store.Store the collector reads from.
type JobLister interface {
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error)
}

// Collector gathers job metrics from the store.
type Collector struct {
	store      JobLister
	stuckAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a new metrics collector. Running jobs whose last
// update is older than stuckAfter are reported as stuck; zero disables
// the check.
func NewCollector(st JobLister, stuckAfter time.Duration) *Collector {
	return &Collector{store: st, stuckAfter: stuckAfter, now: time.Now}
}

// Collect gathers a snapshot of job metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	jobs, err := c.store.ListJobs(ctx, store.JobFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list jobs")
	}

	snap.JobsTotal = len(jobs)
	var totalScore float64
	var scored int

	for _, j := range jobs {
		switch j.Status {
		case model.JobStatusComplete:
			snap.JobsComplete++
		case model.JobStatusFailed:
			snap.JobsFailed++
		case model.JobStatusPending:
			snap.JobsPending++
		case model.JobStatusRunning:
			snap.JobsRunning++
			if c.stuckAfter > 0 && now.Sub(j.UpdatedAt) > c.stuckAfter {
				snap.StuckJobs = append(snap.StuckJobs, j.ID)
			}
		}

		if j.Status != model.JobStatusComplete || j.Result == nil {
			continue
		}
		sum := j.Result
		if sum.Stopped {
			snap.Stopped++
		}
		if sum.BestLayoutID != "" {
			totalScore += sum.BestScore
			scored++
		}
		if layers := degradedLayers(sum.Constraints, sum.RiskTags); len(layers) > 0 {
			snap.Degraded++
			if snap.DegradedLayers == nil {
				snap.DegradedLayers = make(map[string]int)
			}
			for _, l := range layers {
				snap.DegradedLayers[l]++
			}
		}
	}

	if finished := snap.JobsComplete + snap.JobsFailed; finished > 0 {
		snap.FailRate = float64(snap.JobsFailed) / float64(finished)
	}
	if snap.JobsComplete > 0 {
		snap.DegradedRate = float64(snap.Degraded) / float64(snap.JobsComplete)
	}
	if scored > 0 {
		snap.AvgBestScore = totalScore / float64(scored)
	}

	return snap, nil
}

// degradedLayers names the layers that were not fully available. Jobs
// stopped before constraint evaluation carry no results, so their
// *_DATA_INCOMPLETE risk tags are used instead.
func degradedLayers(results []constraint.Result, riskTags []string) []string {
	var out []string
	for _, r := range results {
		if r.Availability != constraint.Available {
			out = append(out, r.Layer)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, tag := range riskTags {
		if layer, ok := strings.CutSuffix(tag, "_DATA_INCOMPLETE"); ok {
			out = append(out, strings.ToLower(layer))
		}
	}
	return out
}
