package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Platform   PlatformConfig   `yaml:"platform" mapstructure:"platform"`
	Region     RegionConfig     `yaml:"region" mapstructure:"region"`
	Imagery    ImageryConfig    `yaml:"imagery" mapstructure:"imagery"`
	Landcover  LandcoverConfig  `yaml:"landcover" mapstructure:"landcover"`
	Labels     LabelsConfig     `yaml:"labels" mapstructure:"labels"`
	Sample     SampleConfig     `yaml:"sample" mapstructure:"sample"`
	Classifier ClassifierConfig `yaml:"classifier" mapstructure:"classifier"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Report     ReportConfig     `yaml:"report" mapstructure:"report"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// PlatformConfig configures access to the STAC archive and the retry policy
// applied to every external call.
type PlatformConfig struct {
	STACURL          string  `yaml:"stac_url" mapstructure:"stac_url"`
	TokenURL         string  `yaml:"token_url" mapstructure:"token_url"`
	ClientID         string  `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret     string  `yaml:"client_secret" mapstructure:"client_secret"`
	CallTimeoutSecs  int     `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	RequestsPerSec   float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	PageLimit        int     `yaml:"page_limit" mapstructure:"page_limit"`
}

// CallTimeout returns the per-call timeout.
func (p PlatformConfig) CallTimeout() time.Duration {
	return time.Duration(p.CallTimeoutSecs) * time.Second
}

// RegionConfig configures boundary resolution.
type RegionConfig struct {
	Name     string `yaml:"name" mapstructure:"name"`
	Source   string `yaml:"source" mapstructure:"source"` // tiger, shapefile, geojson
	Path     string `yaml:"path" mapstructure:"path"`
	Property string `yaml:"property" mapstructure:"property"`
	Match    string `yaml:"match" mapstructure:"match"` // exact, fold
	Layer    string `yaml:"tiger_layer" mapstructure:"tiger_layer"` // STATE, COUNTY
	Year     int    `yaml:"tiger_year" mapstructure:"tiger_year"`
	TigerURL string `yaml:"tiger_url" mapstructure:"tiger_url"`
	CacheDir string `yaml:"cache_dir" mapstructure:"cache_dir"`
}

// ImageryConfig configures the satellite mosaic.
type ImageryConfig struct {
	Collection string            `yaml:"collection" mapstructure:"collection"`
	Start      string            `yaml:"start" mapstructure:"start"`
	End        string            `yaml:"end" mapstructure:"end"`
	Bands      []string          `yaml:"bands" mapstructure:"bands"`
	Assets     map[string]string `yaml:"assets" mapstructure:"assets"`
	Scale      float64           `yaml:"scale" mapstructure:"scale"`
	Mosaic     string            `yaml:"mosaic" mapstructure:"mosaic"`
	NoData     float64           `yaml:"nodata" mapstructure:"nodata"`
}

// AssetFor returns the STAC asset key for a band name. Viper lower-cases map
// keys, so lookups fall back to the lower-case band name.
func (c ImageryConfig) AssetFor(band string) (string, bool) {
	if a, ok := c.Assets[band]; ok {
		return a, true
	}
	a, ok := c.Assets[strings.ToLower(band)]
	return a, ok
}

// LandcoverConfig configures the optional land-cover reference raster.
type LandcoverConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Collection string  `yaml:"collection" mapstructure:"collection"`
	Asset      string  `yaml:"asset" mapstructure:"asset"`
	Start      string  `yaml:"start" mapstructure:"start"`
	End        string  `yaml:"end" mapstructure:"end"`
	Scale      float64 `yaml:"scale" mapstructure:"scale"`
}

// LabelsConfig points at the two labeled sample sets.
type LabelsConfig struct {
	Positive      string `yaml:"positive" mapstructure:"positive"`
	Negative      string `yaml:"negative" mapstructure:"negative"`
	ClassProperty string `yaml:"class_property" mapstructure:"class_property"`
	PositiveClass int    `yaml:"positive_class" mapstructure:"positive_class"`
	NegativeClass int    `yaml:"negative_class" mapstructure:"negative_class"`
}

// SampleConfig configures extraction and the train/validation split.
type SampleConfig struct {
	Scale       float64 `yaml:"scale" mapstructure:"scale"`
	Split       float64 `yaml:"split" mapstructure:"split"`
	Seed        uint64  `yaml:"seed" mapstructure:"seed"`
	OutOfBounds string  `yaml:"out_of_bounds" mapstructure:"out_of_bounds"` // error, drop
	TablePath   string  `yaml:"table_path" mapstructure:"table_path"`
}

// ClassifierConfig configures the random forest.
type ClassifierConfig struct {
	Trees    int      `yaml:"trees" mapstructure:"trees"`
	Features []string `yaml:"features" mapstructure:"features"`
}

// ExportConfig configures the optional raster/vector exports.
type ExportConfig struct {
	Enabled         bool     `yaml:"enabled" mapstructure:"enabled"`
	Destination     string   `yaml:"destination" mapstructure:"destination"`
	CRS             string   `yaml:"crs" mapstructure:"crs"`
	ClassifiedScale float64  `yaml:"classified_scale" mapstructure:"classified_scale"`
	MosaicScale     float64  `yaml:"mosaic_scale" mapstructure:"mosaic_scale"`
	LandcoverScale  float64  `yaml:"landcover_scale" mapstructure:"landcover_scale"`
	S3              S3Config `yaml:"s3" mapstructure:"s3"`
}

// S3Config holds credentials for an S3-compatible export destination.
type S3Config struct {
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	Secure    bool   `yaml:"secure" mapstructure:"secure"`
	Region    string `yaml:"region" mapstructure:"region"`
}

// ReportConfig configures report output.
type ReportConfig struct {
	Dir     string   `yaml:"dir" mapstructure:"dir"`
	Formats []string `yaml:"formats" mapstructure:"formats"` // text, json, yaml, xlsx
	Chart   bool     `yaml:"chart" mapstructure:"chart"`
}

// PipelineConfig configures the overall run.
type PipelineConfig struct {
	TimeoutMins int `yaml:"timeout_mins" mapstructure:"timeout_mins"`
}

// StoreConfig configures the run ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from an optional .env file, config.yaml and the
// environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LANDCOVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes are
// "classify", "scenes", "region" and "runs".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "classify":
		if c.Labels.Positive == "" {
			errs = append(errs, "labels.positive is required")
		}
		if c.Labels.Negative == "" {
			errs = append(errs, "labels.negative is required")
		}
		if c.Labels.PositiveClass == c.Labels.NegativeClass {
			errs = append(errs, "labels.positive_class and labels.negative_class must differ")
		}
		if c.Sample.Split <= 0 || c.Sample.Split >= 1 {
			errs = append(errs, "sample.split must be between 0 and 1 (exclusive)")
		}
		if c.Sample.Scale <= 0 {
			errs = append(errs, "sample.scale must be > 0")
		}
		if c.Sample.OutOfBounds != "error" && c.Sample.OutOfBounds != "drop" {
			errs = append(errs, "sample.out_of_bounds must be error or drop")
		}
		if c.Classifier.Trees < 1 {
			errs = append(errs, "classifier.trees must be >= 1")
		}
		if len(c.Classifier.Features) == 0 {
			errs = append(errs, "classifier.features must not be empty")
		}
		for _, f := range c.Classifier.Features {
			if !contains(c.Imagery.Bands, f) {
				errs = append(errs, fmt.Sprintf("classifier feature %q is not in imagery.bands", f))
			}
		}
		errs = append(errs, c.validateImagery()...)
		errs = append(errs, c.validateRegion()...)
	case "scenes":
		errs = append(errs, c.validateImagery()...)
		errs = append(errs, c.validateRegion()...)
	case "region":
		errs = append(errs, c.validateRegion()...)
	case "runs":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateImagery() []string {
	var errs []string
	if c.Platform.STACURL == "" {
		errs = append(errs, "platform.stac_url is required")
	}
	if c.Imagery.Collection == "" {
		errs = append(errs, "imagery.collection is required")
	}
	if len(c.Imagery.Bands) == 0 {
		errs = append(errs, "imagery.bands must not be empty")
	}
	for _, b := range c.Imagery.Bands {
		if _, ok := c.Imagery.AssetFor(b); !ok {
			errs = append(errs, fmt.Sprintf("imagery band %q has no asset mapping", b))
		}
	}
	if c.Imagery.Scale <= 0 {
		errs = append(errs, "imagery.scale must be > 0")
	}
	switch c.Imagery.Mosaic {
	case "most_recent", "least_recent", "least_cloudy":
	default:
		errs = append(errs, "imagery.mosaic must be most_recent, least_recent or least_cloudy")
	}
	start, err1 := time.Parse(time.DateOnly, c.Imagery.Start)
	end, err2 := time.Parse(time.DateOnly, c.Imagery.End)
	switch {
	case err1 != nil:
		errs = append(errs, "imagery.start must be YYYY-MM-DD")
	case err2 != nil:
		errs = append(errs, "imagery.end must be YYYY-MM-DD")
	case !start.Before(end):
		errs = append(errs, "imagery.start must be before imagery.end")
	}
	return errs
}

func (c *Config) validateRegion() []string {
	var errs []string
	if c.Region.Name == "" {
		errs = append(errs, "region.name is required")
	}
	switch c.Region.Source {
	case "tiger":
		if c.Region.Layer != "STATE" && c.Region.Layer != "COUNTY" {
			errs = append(errs, "region.tiger_layer must be STATE or COUNTY")
		}
	case "shapefile", "geojson":
		if c.Region.Path == "" {
			errs = append(errs, "region.path is required for "+c.Region.Source+" sources")
		}
	default:
		errs = append(errs, "region.source must be tiger, shapefile or geojson")
	}
	if c.Region.Match != "exact" && c.Region.Match != "fold" {
		errs = append(errs, "region.match must be exact or fold")
	}
	return errs
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("platform.stac_url", "https://earth-search.aws.element84.com/v1")
	v.SetDefault("platform.call_timeout_secs", 120)
	v.SetDefault("platform.max_attempts", 2)
	v.SetDefault("platform.initial_backoff_ms", 1000)
	v.SetDefault("platform.requests_per_sec", 5)
	v.SetDefault("platform.page_limit", 100)

	v.SetDefault("region.name", "Rhode Island")
	v.SetDefault("region.source", "tiger")
	v.SetDefault("region.property", "NAME")
	v.SetDefault("region.match", "exact")
	v.SetDefault("region.tiger_layer", "STATE")
	v.SetDefault("region.tiger_year", 2018)
	v.SetDefault("region.tiger_url", "https://www2.census.gov/geo/tiger")
	v.SetDefault("region.cache_dir", "/tmp/landcover/tiger")

	v.SetDefault("imagery.collection", "sentinel-2-l2a")
	v.SetDefault("imagery.start", "2020-05-23")
	v.SetDefault("imagery.end", "2020-05-25")
	v.SetDefault("imagery.bands", []string{"B2", "B3", "B4", "B8", "B11", "B12"})
	v.SetDefault("imagery.assets", map[string]string{
		"B2":  "blue",
		"B3":  "green",
		"B4":  "red",
		"B8":  "nir",
		"B11": "swir16",
		"B12": "swir22",
	})
	v.SetDefault("imagery.scale", 10.0)
	v.SetDefault("imagery.mosaic", "most_recent")
	v.SetDefault("imagery.nodata", 0.0)

	v.SetDefault("landcover.enabled", false)
	v.SetDefault("landcover.collection", "usgs-nlcd")
	v.SetDefault("landcover.asset", "landcover")
	v.SetDefault("landcover.start", "2016-01-01")
	v.SetDefault("landcover.end", "2017-01-01")
	v.SetDefault("landcover.scale", 30.0)

	v.SetDefault("labels.class_property", "landuse")
	v.SetDefault("labels.positive_class", 1)
	v.SetDefault("labels.negative_class", 2)

	v.SetDefault("sample.scale", 10.0)
	v.SetDefault("sample.split", 0.8)
	v.SetDefault("sample.out_of_bounds", "error")

	v.SetDefault("classifier.trees", 1000)
	v.SetDefault("classifier.features", []string{"B2", "B8", "B11", "B12"})

	v.SetDefault("export.enabled", false)
	v.SetDefault("export.destination", "./exports")
	v.SetDefault("export.crs", "EPSG:4326")
	v.SetDefault("export.classified_scale", 10.0)
	v.SetDefault("export.mosaic_scale", 10.0)
	v.SetDefault("export.landcover_scale", 30.0)
	v.SetDefault("export.s3.secure", true)

	v.SetDefault("report.dir", "./reports")
	v.SetDefault("report.formats", []string{"text"})
	v.SetDefault("report.chart", true)

	v.SetDefault("pipeline.timeout_mins", 60)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "landcover.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
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
