package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-feasibility/internal/feasibility"
)

var (
	runParcel   string
	runNoExport bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the feasibility pipeline for a single parcel",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline("run", !runNoExport)
		if err != nil {
			return err
		}
		defer env.Close()

		state, err := env.Orchestrator().Run(ctx, runParcel)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		sum := state.Summary()
		zap.L().Info("feasibility complete",
			zap.String("parcel_id", sum.ParcelID),
			zap.Bool("stopped", sum.Stopped),
			zap.String("best_layout", sum.BestLayoutID),
			zap.Float64("best_score", sum.BestScore),
			zap.Int("layouts", len(sum.Layouts)),
		)

		return writeSummary(os.Stdout, sum)
	},
}

func init() {
	runCmd.Flags().StringVar(&runParcel, "parcel", "", "parcel identifier (required)")
	runCmd.Flags().BoolVar(&runNoExport, "no-export", false, "skip writing artifacts")
	_ = runCmd.MarkFlagRequired("parcel")
	rootCmd.AddCommand(runCmd)
}

// writeSummary prints the run summary as indented JSON.
func writeSummary(w io.Writer, sum feasibility.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}
