package main

import (
	"context"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/parcel-feasibility/internal/export"
	"github.com/sells-group/parcel-feasibility/internal/feasibility"
	"github.com/sells-group/parcel-feasibility/internal/parcellist"
)

var (
	batchInput       string
	batchColumn      string
	batchSheet       string
	batchLimit       int
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run the feasibility pipeline for every parcel in a list",
	Long:  "Reads parcel identifiers from a text, CSV, TSV or XLSX file and runs the pipeline for each. Failed parcels are logged and do not stop the batch.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ids, err := parcellist.Read(ctx, batchInput, parcellist.Options{Column: batchColumn, SheetName: batchSheet})
		if err != nil {
			return eris.Wrap(err, "read parcel list")
		}

		env, err := initPipeline("batch", true)
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Jobs.MaxConcurrent
		}

		orch := env.Orchestrator()
		_, err = processBatch(ctx, ids, batchLimit, concurrency, orch.Run)
		return err
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchInput, "input", "", "parcel list file or http/ftp URL (.txt, .csv, .tsv or .xlsx)")
	batchCmd.Flags().StringVar(&batchColumn, "column", "", "header of the parcel id column (default: parcel_id, apn, pin)")
	batchCmd.Flags().StringVar(&batchSheet, "sheet", "", "xlsx sheet name (default: first sheet)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 100, "max number of parcels to process")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "parallel runs (default from jobs.max_concurrent)")
	_ = batchCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(batchCmd)
}

// runFunc is the callback signature for running the pipeline on a parcel.
type runFunc func(ctx context.Context, parcelID string) (feasibility.State, error)

// batchResult counts the outcomes of a batch.
type batchResult struct {
	Succeeded int64
	Stopped   int64
	Failed    int64
}

// processBatch applies limit, then runs parcels concurrently. Individual
// failures are logged and counted; only cancellation aborts the batch.
func processBatch(ctx context.Context, ids []string, limit, concurrency int, run runFunc) (batchResult, error) {
	if len(ids) == 0 {
		zap.L().Info("no parcels found")
		return batchResult{}, nil
	}

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("parcels", len(ids)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, stopped, failed atomic.Int64

	for _, id := range ids {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			log := zap.L().With(zap.String("parcel_id", id))

			state, err := run(gctx, id)
			if err != nil {
				failed.Add(1)
				log.Error("feasibility failed", zap.Error(err))
				return nil
			}

			if state.Stopped {
				stopped.Add(1)
			} else {
				succeeded.Add(1)
			}
			log.Info("feasibility complete",
				zap.Bool("stopped", state.Stopped),
				zap.String("best_layout", state.BestLayoutID),
				zap.Float64("best_score", state.BestScore),
				zap.String("output_dir", state.Artifacts[export.ArtifactDir]),
			)
			return nil
		})
	}

	res := func() batchResult {
		return batchResult{Succeeded: succeeded.Load(), Stopped: stopped.Load(), Failed: failed.Load()}
	}
	if err := g.Wait(); err != nil {
		return res(), eris.Wrap(err, "batch processing")
	}

	out := res()
	zap.L().Info("batch complete",
		zap.Int64("succeeded", out.Succeeded),
		zap.Int64("stopped", out.Stopped),
		zap.Int64("failed", out.Failed),
	)
	return out, nil
}
