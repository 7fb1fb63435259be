package main

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-feasibility/internal/arcgis"
	"github.com/sells-group/parcel-feasibility/internal/cache"
	"github.com/sells-group/parcel-feasibility/internal/export"
	"github.com/sells-group/parcel-feasibility/internal/feasibility"
	"github.com/sells-group/parcel-feasibility/internal/geometry"
	"github.com/sells-group/parcel-feasibility/internal/jobs"
	"github.com/sells-group/parcel-feasibility/internal/resilience"
	"github.com/sells-group/parcel-feasibility/internal/store"
)

// pipelineEnv holds the shared collaborators needed by the run, batch and
// serve commands.
type pipelineEnv struct {
	Cache    cache.Cache
	Client   *arcgis.Client
	Services arcgis.Services
	Reproj   *geometry.Reprojector
	Exporter *export.Exporter // nil disables artifact export
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if c, ok := pe.Cache.(io.Closer); ok {
		_ = c.Close()
	}
}

// Orchestrator builds a pipeline orchestrator wired to the environment.
func (pe *pipelineEnv) Orchestrator(opts ...feasibility.Option) *feasibility.Orchestrator {
	base := []feasibility.Option{feasibility.WithReprojector(pe.Reproj)}
	if pe.Exporter != nil {
		base = append(base, feasibility.WithExporter(pe.Exporter))
	}
	return feasibility.NewOrchestrator(pe.Client, pe.Services, cfg, append(base, opts...)...)
}

// RunnerFactory adapts Orchestrator for the job manager.
func (pe *pipelineEnv) RunnerFactory() jobs.RunnerFactory {
	return func(progress func(feasibility.State)) jobs.Runner {
		return pe.Orchestrator(feasibility.WithProgress(progress))
	}
}

// initPipeline validates config for mode and builds the cache, the GIS
// client and the exporter. Callers should defer env.Close().
func initPipeline(mode string, withExport bool) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	c, err := cache.New(cfg.Cache.Driver, cfg.Cache.Dir, cfg.Cache.RedisURL, cfg.Cache.Prefix)
	if err != nil {
		return nil, eris.Wrap(err, "init cache")
	}

	reproj := geometry.NewReprojector()
	opts := []arcgis.Option{
		arcgis.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.ArcGIS.TimeoutSecs) * time.Second}),
		arcgis.WithCache(c),
		arcgis.WithPolicy(resilience.NewPolicy(
			cfg.ArcGIS.MaxAttempts,
			cfg.ArcGIS.InitialBackoffMs,
			cfg.ArcGIS.MaxBackoffMs,
			cfg.ArcGIS.BreakerThreshold,
			cfg.ArcGIS.BreakerResetSecs,
		)),
		arcgis.WithMinDelay(time.Duration(cfg.ArcGIS.MinDelayMs) * time.Millisecond),
		arcgis.WithReprojector(reproj),
		arcgis.WithSimplifyTolerance(cfg.ArcGIS.SimplifyToleranceFt),
	}
	if cfg.ArcGIS.UserAgent != "" {
		opts = append(opts, arcgis.WithUserAgent(cfg.ArcGIS.UserAgent))
	}
	if cfg.ArcGIS.OfflineDir != "" {
		zap.L().Info("arcgis offline mode", zap.String("dir", cfg.ArcGIS.OfflineDir))
		opts = append(opts, arcgis.WithOfflineDir(cfg.ArcGIS.OfflineDir))
	}

	env := &pipelineEnv{
		Cache:    c,
		Client:   arcgis.NewClient(opts...),
		Services: arcgis.ServicesFromConfig(cfg.Sources),
		Reproj:   reproj,
	}
	if withExport {
		env.Exporter = export.New(cfg.Export)
	}
	return env, nil
}

// initStore opens and migrates the configured job store.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite", "":
		dsn := cfg.Store.SQLitePath
		if dsn == "" {
			dsn = "feasibility.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}
