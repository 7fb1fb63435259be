package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig              `yaml:"store" mapstructure:"store"`
	Cache      CacheConfig              `yaml:"cache" mapstructure:"cache"`
	ArcGIS     ArcGISConfig             `yaml:"arcgis" mapstructure:"arcgis"`
	Sources    map[string]ServiceConfig `yaml:"sources" mapstructure:"sources"`
	Tables     TablesConfig             `yaml:"tables" mapstructure:"tables"`
	Pipeline   PipelineConfig           `yaml:"pipeline" mapstructure:"pipeline"`
	Driveway   DrivewayConfig           `yaml:"driveway" mapstructure:"driveway"`
	Envelope   EnvelopeConfig           `yaml:"envelope" mapstructure:"envelope"`
	Export     ExportConfig             `yaml:"export" mapstructure:"export"`
	Jobs       JobsConfig               `yaml:"jobs" mapstructure:"jobs"`
	Server     ServerConfig             `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig         `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig                `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the job store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// CacheConfig configures the response cache shared by all GIS calls.
type CacheConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"`
	Dir      string `yaml:"dir" mapstructure:"dir"`
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
}

// ArcGISConfig configures transport behavior for the public GIS services.
type ArcGISConfig struct {
	TimeoutSecs         int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MinDelayMs          int     `yaml:"min_delay_ms" mapstructure:"min_delay_ms"`
	MaxAttempts         int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs    int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs        int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BreakerThreshold    int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs    int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	OfflineDir          string  `yaml:"offline_dir" mapstructure:"offline_dir"`
	UserAgent           string  `yaml:"user_agent" mapstructure:"user_agent"`
	SimplifyToleranceFt float64 `yaml:"simplify_tolerance_ft" mapstructure:"simplify_tolerance_ft"`
}

// ServiceConfig describes one external data source.
type ServiceConfig struct {
	URL    string `yaml:"url" mapstructure:"url"`
	OutSR  int    `yaml:"out_sr" mapstructure:"out_sr"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TablesConfig points at the reference tables re-read on every run.
type TablesConfig struct {
	Zoning  string `yaml:"zoning" mapstructure:"zoning"`
	Buffers string `yaml:"buffers" mapstructure:"buffers"`
	Scoring string `yaml:"scoring" mapstructure:"scoring"`
}

// PipelineConfig configures the feasibility stages.
type PipelineConfig struct {
	Layers               []string `yaml:"layers" mapstructure:"layers"`
	LayerConcurrency     int      `yaml:"layer_concurrency" mapstructure:"layer_concurrency"`
	OverlapImpact        float64  `yaml:"overlap_impact" mapstructure:"overlap_impact"`
	StormwaterReservePct float64  `yaml:"stormwater_reserve_pct" mapstructure:"stormwater_reserve_pct"`
	MaxLots              int      `yaml:"max_lots" mapstructure:"max_lots"`
	HybridLambda         float64  `yaml:"hybrid_lambda" mapstructure:"hybrid_lambda"`
	SlopeGridCells       int      `yaml:"slope_grid_cells" mapstructure:"slope_grid_cells"`
}

// DrivewayConfig holds the driveway access policy.
type DrivewayConfig struct {
	MinWidthFt         float64 `yaml:"min_width_ft" mapstructure:"min_width_ft"`
	MaxGradePct        float64 `yaml:"max_grade_pct" mapstructure:"max_grade_pct"`
	TurnaroundLengthFt float64 `yaml:"turnaround_length_ft" mapstructure:"turnaround_length_ft"`
	MaxLengthFt        float64 `yaml:"max_length_ft" mapstructure:"max_length_ft"`
	SampleIntervalFt   float64 `yaml:"sample_interval_ft" mapstructure:"sample_interval_ft"`
	ElevationUnits     string  `yaml:"elevation_units" mapstructure:"elevation_units"`
}

// EnvelopeConfig holds building envelope thresholds.
type EnvelopeConfig struct {
	MinAreaSqFt     float64 `yaml:"min_area_sqft" mapstructure:"min_area_sqft"`
	DefaultCoverage float64 `yaml:"default_coverage" mapstructure:"default_coverage"`
}

// ExportConfig configures artifact output.
type ExportConfig struct {
	OutputRoot string `yaml:"output_root" mapstructure:"output_root"`
	MapWidth   int    `yaml:"map_width" mapstructure:"map_width"`
	Shapefiles bool   `yaml:"shapefiles" mapstructure:"shapefiles"`
	Workbook   bool   `yaml:"workbook" mapstructure:"workbook"`
}

// JobsConfig configures the asynchronous job manager.
type JobsConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// ServerConfig configures the HTTP job API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures job health alerts for the serve command.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	DegradedThreshold    float64 `yaml:"degraded_threshold" mapstructure:"degraded_threshold"`
	StuckAfterMins       int     `yaml:"stuck_after_mins" mapstructure:"stuck_after_mins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Source names used as keys in Config.Sources.
const (
	SourceTaxParcels     = "tax_parcels"
	SourceParcelLabels   = "parcel_labels"
	SourceAddressLabels  = "address_labels"
	SourceZoning         = "zoning"
	SourceWatercourses   = "watercourses"
	SourceNHDFlowlines   = "nhd_flowlines"
	SourceWetlands       = "wetlands"
	SourceFloodHazard    = "flood_hazard"
	SourceElevation      = "elevation"
	SourceLandslides     = "landslides"
	SourceGroundResponse = "ground_response"
	SourceVolcanic       = "volcanic"
	SourceSoils          = "soils"
	SourceSeptic         = "septic"
	SourceWaterDistricts = "water_districts"
	SourceSewerDistricts = "sewer_districts"
	SourceRoads          = "roads"
	SourceFutureLandUse  = "future_land_use"
	SourceShoreline      = "shoreline"
)

var defaultSources = map[string]ServiceConfig{
	SourceTaxParcels:     {URL: "https://gismaps.snoco.org/snocogis2/rest/services/cadastral/tax_parcels/MapServer/0", OutSR: 2285},
	SourceParcelLabels:   {URL: "https://gismaps.snoco.org/snocogis2/rest/services/planning/mp_ParcelLabels/MapServer/0", OutSR: 2285},
	SourceAddressLabels:  {URL: "https://gis.snoco.org/sas/rest/services/SCOPI/SCOPI_Labels_House_Number/MapServer/0", OutSR: 2285},
	SourceZoning:         {URL: "https://gismaps.snoco.org/snocogis2/rest/services/planning/mp_Zoning_OZ/MapServer/0", OutSR: 2285},
	SourceWatercourses:   {URL: "https://gismaps.snoco.org/snocogis/rest/services/hydrography/Watercourse/MapServer/0", OutSR: 2285},
	SourceNHDFlowlines:   {URL: "https://hydro.nationalmap.gov/arcgis/rest/services/nhd/MapServer/6", OutSR: 4326},
	SourceWetlands:       {URL: "https://fwspublicservices.wim.usgs.gov/wetlandsmapservice/rest/services/Wetlands/MapServer/0", OutSR: 3857},
	SourceFloodHazard:    {URL: "https://hazards.fema.gov/gis/nfhl/rest/services/public/NFHL/MapServer/28", OutSR: 4326},
	SourceElevation:      {URL: "https://elevation.nationalmap.gov/arcgis/rest/services/3DEPElevation/ImageServer"},
	SourceLandslides:     {URL: "https://gis.dnr.wa.gov/site1/rest/services/Public_Geology/Landslide_Inventory_Database/MapServer/0"},
	SourceGroundResponse: {URL: "https://gis.dnr.wa.gov/site1/rest/services/Public_Geology/Ground_Response/MapServer/0"},
	SourceVolcanic:       {URL: "https://gis.dnr.wa.gov/site1/rest/services/Public_Geology/Volcanic_Hazards/MapServer/0"},
	SourceSoils:          {URL: "https://SDMDataAccess.sc.egov.usda.gov/Tabular/post.rest"},
	SourceSeptic:         {URL: "https://gis.snoco.org/host/rest/services/Hosted/Septic_Parcels/FeatureServer/0", OutSR: 2285},
	SourceWaterDistricts: {URL: "https://gis.snoco.org/scd/rest/services/MapService/pds_utility_districts/MapServer/0", OutSR: 2285},
	SourceSewerDistricts: {URL: "https://gis.snoco.org/scd/rest/services/MapService/pds_utility_districts/MapServer/1", OutSR: 2285},
	SourceRoads:          {URL: "https://gismaps.snoco.org/snocogis2/rest/services/planning/mp_Transportation/MapServer/0", OutSR: 2285},
	SourceFutureLandUse:  {URL: "https://gismaps.snoco.org/snocogis/rest/services/planning/mp_Future_Land_Use/MapServer/0", OutSR: 2285},
	SourceShoreline:      {URL: "https://gismaps.snoco.org/snocogis/rest/services/planning/mp_ShorelineManagementProgram/MapServer/0", OutSR: 2285},
}

// Load reads configuration from ./config.yaml (optional) and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path and environment. An empty path
// searches the working directory for config.yaml; an explicit path must
// exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("FEASIBILITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "feasibility.db")
	v.SetDefault("cache.driver", "file")
	v.SetDefault("cache.dir", ".cache/gis")
	v.SetDefault("cache.prefix", "feasibility:gis:")
	v.SetDefault("arcgis.timeout_secs", 30)
	v.SetDefault("arcgis.min_delay_ms", 500)
	v.SetDefault("arcgis.max_attempts", 3)
	v.SetDefault("arcgis.initial_backoff_ms", 1000)
	v.SetDefault("arcgis.max_backoff_ms", 8000)
	v.SetDefault("arcgis.breaker_threshold", 5)
	v.SetDefault("arcgis.breaker_reset_secs", 60)
	v.SetDefault("arcgis.user_agent", "parcel-feasibility/1.0")
	v.SetDefault("arcgis.simplify_tolerance_ft", 2.0)
	for name, svc := range defaultSources {
		v.SetDefault("sources."+name+".url", svc.URL)
		v.SetDefault("sources."+name+".out_sr", svc.OutSR)
		v.SetDefault("sources."+name+".format", "json")
	}
	v.SetDefault("tables.zoning", "config/zoning_standards.yaml")
	v.SetDefault("tables.buffers", "config/buffers.yaml")
	v.SetDefault("tables.scoring", "config/scoring.yaml")
	v.SetDefault("pipeline.layer_concurrency", 4)
	v.SetDefault("pipeline.overlap_impact", 0.20)
	v.SetDefault("pipeline.stormwater_reserve_pct", 0.075)
	v.SetDefault("pipeline.max_lots", 40)
	v.SetDefault("pipeline.hybrid_lambda", 1.0)
	v.SetDefault("pipeline.slope_grid_cells", 64)
	v.SetDefault("driveway.min_width_ft", 12.0)
	v.SetDefault("driveway.max_grade_pct", 12.0)
	v.SetDefault("driveway.turnaround_length_ft", 150.0)
	v.SetDefault("driveway.max_length_ft", 200.0)
	v.SetDefault("driveway.sample_interval_ft", 25.0)
	v.SetDefault("driveway.elevation_units", "meters")
	v.SetDefault("envelope.min_area_sqft", 1500.0)
	v.SetDefault("envelope.default_coverage", 0.35)
	v.SetDefault("export.output_root", "/tmp/feasibility_outputs")
	v.SetDefault("export.map_width", 1600)
	v.SetDefault("export.shapefiles", true)
	v.SetDefault("export.workbook", true)
	v.SetDefault("jobs.max_concurrent", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.degraded_threshold", 0.5)
	v.SetDefault("monitoring.stuck_after_mins", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Source returns the named service descriptor. Missing names yield a zero
// value whose empty URL makes every query report the source unavailable.
func (c *Config) Source(name string) ServiceConfig {
	if c == nil || c.Sources == nil {
		return ServiceConfig{}
	}
	return c.Sources[name]
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
