package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the configuration for the given command mode
// ("run", "batch" or "serve").
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run", "batch":
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server.port must be within 1-65535, got %d", c.Server.Port))
		}
		if c.Jobs.MaxConcurrent < 1 {
			errs = append(errs, "jobs.max_concurrent must be >= 1")
		}
		if c.Monitoring.Enabled && c.Monitoring.LookbackWindowHours < 1 {
			errs = append(errs, "monitoring.lookback_window_hours must be >= 1")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite":
		if mode == "serve" && c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for sqlite")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}

	switch c.Cache.Driver {
	case "file":
		if c.Cache.Dir == "" {
			errs = append(errs, "cache.dir is required for the file cache")
		}
	case "redis":
		if c.Cache.RedisURL == "" {
			errs = append(errs, "cache.redis_url is required for the redis cache")
		}
	case "none":
	default:
		errs = append(errs, fmt.Sprintf("cache.driver must be file, redis or none, got %q", c.Cache.Driver))
	}

	if c.ArcGIS.MinDelayMs < 0 {
		errs = append(errs, "arcgis.min_delay_ms must be >= 0")
	}
	if c.Pipeline.LayerConcurrency < 1 || c.Pipeline.LayerConcurrency > 10 {
		errs = append(errs, "pipeline.layer_concurrency must be within 1-10")
	}
	if c.Pipeline.OverlapImpact <= 0 || c.Pipeline.OverlapImpact > 1 {
		errs = append(errs, "pipeline.overlap_impact must be within (0, 1]")
	}
	if c.Pipeline.StormwaterReservePct < 0 || c.Pipeline.StormwaterReservePct >= 1 {
		errs = append(errs, "pipeline.stormwater_reserve_pct must be within [0, 1)")
	}
	if c.Pipeline.MaxLots < 1 {
		errs = append(errs, "pipeline.max_lots must be >= 1")
	}
	if c.Driveway.MinWidthFt <= 0 {
		errs = append(errs, "driveway.min_width_ft must be > 0")
	}
	if c.Envelope.DefaultCoverage <= 0 || c.Envelope.DefaultCoverage > 1 {
		errs = append(errs, "envelope.default_coverage must be within (0, 1]")
	}
	if c.Export.OutputRoot == "" {
		errs = append(errs, "export.output_root is required")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
