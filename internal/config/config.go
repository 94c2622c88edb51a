package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Input      InputConfig      `yaml:"input" mapstructure:"input"`
	Layers     []LayerConfig    `yaml:"layers" mapstructure:"layers"`
	Thresholds ThresholdConfig  `yaml:"thresholds" mapstructure:"thresholds"`
	Align      AlignConfig      `yaml:"align" mapstructure:"align"`
	Risk       RiskConfig       `yaml:"risk" mapstructure:"risk"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// InputConfig selects the area of interest and the reference layer.
type InputConfig struct {
	AOI       string `yaml:"aoi" mapstructure:"aoi"`
	Reference string `yaml:"reference" mapstructure:"reference"`
}

// LayerConfig describes one input raster.
type LayerConfig struct {
	Name     string `yaml:"name" mapstructure:"name"`
	Kind     string `yaml:"kind" mapstructure:"kind"`
	Path     string `yaml:"path" mapstructure:"path"`
	Variable string `yaml:"variable" mapstructure:"variable"`
	Group    string `yaml:"group" mapstructure:"group"`
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
}

// ThresholdConfig selects where classification thresholds come from.
type ThresholdConfig struct {
	// File is an optional YAML threshold file; built-in tables apply otherwise.
	File string `yaml:"file" mapstructure:"file"`
	// Estimate derives level intervals from quantiles of the aligned layers
	// named in EstimateLayers; every other layer keeps its table. An empty
	// EstimateLayers estimates every enabled layer.
	Estimate       bool      `yaml:"estimate" mapstructure:"estimate"`
	EstimateLayers []string  `yaml:"estimate_layers" mapstructure:"estimate_layers"`
	Quantiles      []float64 `yaml:"quantiles" mapstructure:"quantiles"`
	// Ignore lists values left out of the estimated layers' quantiles.
	Ignore []float64 `yaml:"ignore" mapstructure:"ignore"`
}

// Estimated reports whether the layer's levels are derived from quantiles.
func (t ThresholdConfig) Estimated(layer string) bool {
	if !t.Estimate {
		return false
	}
	if len(t.EstimateLayers) == 0 {
		return true
	}
	for _, n := range t.EstimateLayers {
		if strings.EqualFold(n, layer) {
			return true
		}
	}
	return false
}

// AlignConfig configures cropping and reprojection.
type AlignConfig struct {
	Resampling string  `yaml:"resampling" mapstructure:"resampling"`
	Buffer     float64 `yaml:"buffer" mapstructure:"buffer"`
	Scale      float64 `yaml:"scale" mapstructure:"scale"`
}

// RiskConfig configures classification and aggregation.
type RiskConfig struct {
	Average    bool `yaml:"average" mapstructure:"average"`
	Discrete   bool `yaml:"discrete" mapstructure:"discrete"`
	FirstMatch bool `yaml:"first_match" mapstructure:"first_match"`
	// LeaveOut lists layers for which a composite without that layer is
	// also computed.
	LeaveOut []string `yaml:"leave_out" mapstructure:"leave_out"`
}

// OutputConfig configures exported artefacts.
type OutputConfig struct {
	Dir     string `yaml:"dir" mapstructure:"dir"`
	GeoTIFF bool   `yaml:"geotiff" mapstructure:"geotiff"`
	PNG     bool   `yaml:"png" mapstructure:"png"`
	XLSX    bool   `yaml:"xlsx" mapstructure:"xlsx"`
	// MetricsFile, when set, receives the run's Prometheus metrics in text
	// exposition format (node_exporter textfile collector).
	MetricsFile string `yaml:"metrics_file" mapstructure:"metrics_file"`
}

// PipelineConfig configures concurrency.
type PipelineConfig struct {
	MaxConcurrentLayers int `yaml:"max_concurrent_layers" mapstructure:"max_concurrent_layers"`
}

// StoreConfig configures the run ledger.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the lookup server.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	CORSOrigins         []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// MonitoringConfig configures ledger-based alerting.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	RiskThreshold        float64 `yaml:"risk_threshold" mapstructure:"risk_threshold"`
	MinValidRatio        float64 `yaml:"min_valid_ratio" mapstructure:"min_valid_ratio"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml and RISKMAP_* environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RISKMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key needs one so AutomaticEnv reaches Unmarshal.
	v.SetDefault("input.aoi", "")
	v.SetDefault("input.reference", "NDVI")
	v.SetDefault("thresholds.file", "")
	v.SetDefault("thresholds.estimate", false)
	v.SetDefault("thresholds.estimate_layers", []string{"POP"})
	v.SetDefault("thresholds.quantiles", []float64{0.1, 0.5, 0.8, 0.95})
	v.SetDefault("thresholds.ignore", []float64{})
	v.SetDefault("align.resampling", "bilinear")
	v.SetDefault("align.buffer", 0.0)
	v.SetDefault("align.scale", 1.0)
	v.SetDefault("risk.average", true)
	v.SetDefault("risk.discrete", false)
	v.SetDefault("risk.first_match", false)
	v.SetDefault("risk.leave_out", []string{})
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.geotiff", true)
	v.SetDefault("output.png", true)
	v.SetDefault("output.xlsx", true)
	v.SetDefault("output.metrics_file", "")
	v.SetDefault("pipeline.max_concurrent_layers", 4)
	v.SetDefault("store.path", "riskmap.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout_secs", 10)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.risk_threshold", 0.0)
	v.SetDefault("monitoring.min_valid_ratio", 0.0)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// EnabledLayers returns the enabled layers in configuration order.
func (c *Config) EnabledLayers() []LayerConfig {
	var out []LayerConfig
	for _, l := range c.Layers {
		if l.Enabled {
			out = append(out, l)
		}
	}
	return out
}

var validKinds = map[string]bool{"pop": true, "lst": true, "ndvi": true, "smap": true, "smos": true, "geotiff": true}

// Validate checks the configuration for the given command mode: "run",
// "classify" or "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run", "classify":
		errs = append(errs, c.validateLayers()...)
		errs = append(errs, c.validateThresholds()...)
		if mode == "run" && c.Output.Dir == "" {
			errs = append(errs, "output.dir is required")
		}
		if c.Pipeline.MaxConcurrentLayers < 1 || c.Pipeline.MaxConcurrentLayers > 16 {
			errs = append(errs, fmt.Sprintf("pipeline.max_concurrent_layers must be between 1 and 16 (got %d)", c.Pipeline.MaxConcurrentLayers))
		}
		if c.Align.Scale < 0 {
			errs = append(errs, fmt.Sprintf("align.scale must be >= 0 (got %g)", c.Align.Scale))
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
			errs = append(errs, fmt.Sprintf("monitoring.failure_rate_threshold must be between 0 and 1 (got %g)", c.Monitoring.FailureRateThreshold))
		}
		if c.Monitoring.Enabled && c.Store.Path == "" {
			errs = append(errs, "store.path is required when monitoring is enabled")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateLayers() []string {
	var errs []string
	enabled := c.EnabledLayers()
	if len(enabled) == 0 {
		errs = append(errs, "at least one enabled layer is required")
	}
	seen := make(map[string]bool)
	reference := false
	for i, l := range enabled {
		if l.Name == "" {
			errs = append(errs, fmt.Sprintf("layers[%d].name is required", i))
		}
		key := strings.ToUpper(l.Name)
		if seen[key] {
			errs = append(errs, fmt.Sprintf("layer %s is listed twice", l.Name))
		}
		seen[key] = true
		if !validKinds[strings.ToLower(l.Kind)] {
			errs = append(errs, fmt.Sprintf("layer %s has unknown kind %q", l.Name, l.Kind))
		}
		if l.Path == "" {
			errs = append(errs, fmt.Sprintf("layer %s path is required", l.Name))
		}
		if strings.EqualFold(l.Name, c.Input.Reference) {
			reference = true
		}
	}
	if len(enabled) > 0 && !reference {
		errs = append(errs, fmt.Sprintf("input.reference %q is not an enabled layer", c.Input.Reference))
	}
	for _, name := range c.Risk.LeaveOut {
		if !seen[strings.ToUpper(name)] {
			errs = append(errs, fmt.Sprintf("risk.leave_out layer %q is not enabled", name))
		}
	}
	return errs
}

func (c *Config) validateThresholds() []string {
	if !c.Thresholds.Estimate {
		return nil
	}
	var errs []string
	if len(c.Thresholds.Quantiles) == 0 {
		errs = append(errs, "thresholds.quantiles is required when estimating")
	}
	prev := 0.0
	for _, q := range c.Thresholds.Quantiles {
		if q <= prev || q >= 1 {
			errs = append(errs, "thresholds.quantiles must be ascending within (0, 1)")
			break
		}
		prev = q
	}
	enabled := make(map[string]bool)
	for _, l := range c.EnabledLayers() {
		enabled[strings.ToUpper(l.Name)] = true
	}
	for _, n := range c.Thresholds.EstimateLayers {
		if !enabled[strings.ToUpper(n)] {
			errs = append(errs, fmt.Sprintf("thresholds.estimate_layers %q is not an enabled layer", n))
		}
	}
	return errs
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
