package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/parcel-feasibility/internal/model"
	"github.com/sells-group/parcel-feasibility/internal/monitoring"
	"github.com/sells-group/parcel-feasibility/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect feasibility jobs",
	Long:  "Commands for listing jobs and viewing their status and results.",
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List feasibility jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		parcel, _ := cmd.Flags().GetString("parcel")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.JobFilter{
			Status:   model.JobStatus(status),
			ParcelID: parcel,
			Limit:    limit,
		}
		if filter.Status != "" && !filter.Status.Valid() {
			return eris.Errorf("unknown status %q", status)
		}

		list, err := st.ListJobs(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}

		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, list)
		return nil
	},
}

// -- jobs show --

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a job with its result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

// -- jobs stats --

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job health over the monitoring lookback window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		hours, _ := cmd.Flags().GetInt("hours")
		if hours <= 0 {
			hours = cfg.Monitoring.LookbackWindowHours
		}

		snap, err := newCollector(st).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "jobs stats")
		}

		if err := formatJobStats(os.Stdout, snap); err != nil {
			return err
		}
		for _, a := range monitoring.NewAlerter(cfg.Monitoring).Evaluate(snap) {
			fmt.Fprintf(os.Stderr, "ALERT [%s] %s\n", a.Severity, a.Message)
		}
		return nil
	},
}

func init() {
	jobsStatsCmd.Flags().Int("hours", 0, "lookback window in hours (default from config)")
	jobsCmd.AddCommand(jobsStatsCmd)

	jobsListCmd.Flags().String("status", "", "filter by job status (pending, running, complete, failed)")
	jobsListCmd.Flags().String("parcel", "", "filter by parcel id")
	jobsListCmd.Flags().Int("limit", 50, "max number of jobs to display")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	rootCmd.AddCommand(jobsCmd)
}

// formatJobsList writes a tabular list of jobs to out.
func formatJobsList(out io.Writer, list []model.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPARCEL\tSTATUS\tPHASE\tBEST\tCREATED\tDURATION")
	for _, j := range list {
		best := "-"
		if j.Result != nil && j.Result.BestLayoutID != "" {
			best = fmt.Sprintf("%s (%.2f)", j.Result.BestLayoutID, j.Result.BestScore)
		}
		dur := "-"
		if j.Status.Terminal() {
			dur = j.UpdatedAt.Sub(j.CreatedAt).Round(time.Second).String()
		}
		phase := string(j.Phase)
		if phase == "" {
			phase = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.ParcelID, j.Status, phase, best,
			j.CreatedAt.Local().Format("2006-01-02 15:04"), dur)
	}
	_ = w.Flush()
}

func formatJobStats(out io.Writer, snap *monitoring.MetricsSnapshot) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"window", fmt.Sprintf("%dh", snap.LookbackHours)},
		{"jobs", fmt.Sprint(snap.JobsTotal)},
		{"complete", fmt.Sprint(snap.JobsComplete)},
		{"stopped at gate", fmt.Sprint(snap.Stopped)},
		{"failed", fmt.Sprint(snap.JobsFailed)},
		{"pending", fmt.Sprint(snap.JobsPending)},
		{"running", fmt.Sprint(snap.JobsRunning)},
		{"failure rate", fmt.Sprintf("%.1f%%", snap.FailRate*100)},
		{"degraded", fmt.Sprintf("%d (%.1f%%)", snap.Degraded, snap.DegradedRate*100)},
		{"avg best score", fmt.Sprintf("%.3f", snap.AvgBestScore)},
		{"stuck", fmt.Sprint(len(snap.StuckJobs))},
	}
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s:\t%s\n", r[0], r[1])
	}
	return w.Flush()
}
