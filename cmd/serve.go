package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-feasibility/internal/api"
	"github.com/sells-group/parcel-feasibility/internal/jobs"
	"github.com/sells-group/parcel-feasibility/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP job API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initPipeline("serve", true)
		if err != nil {
			return err
		}
		defer env.Close()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		mgr := jobs.NewManager(st, env.RunnerFactory(), cfg.Jobs)
		defer mgr.Close()

		if cfg.Monitoring.Enabled {
			go newChecker(st).Run(ctx)
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           newAPIHandler(mgr, env, st).Routes(cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server",
			zap.Int("port", cfg.Server.Port),
			zap.Int("max_concurrent", cfg.Jobs.MaxConcurrent),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func newCollector(st monitoring.JobLister) *monitoring.Collector {
	return monitoring.NewCollector(st, time.Duration(cfg.Monitoring.StuckAfterMins)*time.Minute)
}

func newChecker(st monitoring.JobLister) *monitoring.Checker {
	return monitoring.NewChecker(newCollector(st), monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
}

func newAPIHandler(mgr api.Jobs, env *pipelineEnv, st monitoring.JobLister) *api.Handler {
	return api.NewHandler(mgr,
		api.WithBreakerStates(env.Client.BreakerStates),
		api.WithStats(newCollector(st).Collect, cfg.Monitoring.LookbackWindowHours),
	)
}
