// Package config loads consolidator configuration and bootstraps logging.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // timezone validation in minimal images

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the top-level configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Paths      PathsConfig      `yaml:"paths" mapstructure:"paths"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects the consolidated table backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=postgres sqlite memory"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url" validate:"required_unless=Driver memory"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=0"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns" validate:"gte=0"`
}

// SourcesConfig configures the three upstream feeds.
type SourcesConfig struct {
	Production ProductionConfig `yaml:"production" mapstructure:"production"`
	Sensor     SensorConfig     `yaml:"sensor" mapstructure:"sensor"`
	Weather    WeatherConfig    `yaml:"weather" mapstructure:"weather"`
}

// ProductionConfig locates the production ledger drop.
type ProductionConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Dir         string `yaml:"dir" mapstructure:"dir" validate:"required_without=FTPURL"`
	FTPURL      string `yaml:"ftp_url" mapstructure:"ftp_url" validate:"omitempty,url"`
	Prefix      string `yaml:"prefix" mapstructure:"prefix" validate:"required"`
	Delimiter   string `yaml:"delimiter" mapstructure:"delimiter" validate:"len=1"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gte=0"`
}

// SensorConfig configures the telemetry query.
type SensorConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// DatabaseURL defaults to store.database_url when empty.
	DatabaseURL      string `yaml:"database_url" mapstructure:"database_url"`
	LookbackMinutes  int    `yaml:"lookback_minutes" mapstructure:"lookback_minutes" validate:"gte=1"`
	MaxAttempts      int    `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=0"`
	InitialBackoffMs int    `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms" validate:"gte=0"`
	MaxBackoffMs     int    `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms" validate:"gte=0"`
}

// WeatherConfig configures the weather API.
type WeatherConfig struct {
	Enabled           bool    `yaml:"enabled" mapstructure:"enabled"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`
	Latitude          float64 `yaml:"latitude" mapstructure:"latitude" validate:"latitude"`
	Longitude         float64 `yaml:"longitude" mapstructure:"longitude" validate:"longitude"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gte=0"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries" validate:"gte=0"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"gte=0"`
	BreakerFailures   int     `yaml:"breaker_failures" mapstructure:"breaker_failures" validate:"gte=0"`
	BreakerResetSecs  int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs" validate:"gte=0"`
}

// PipelineConfig configures one consolidation run.
type PipelineConfig struct {
	BatchSize      int      `yaml:"batch_size" mapstructure:"batch_size" validate:"gte=1"`
	Timezone       string   `yaml:"timezone" mapstructure:"timezone" validate:"required,timezone"`
	FallbackAssets []string `yaml:"fallback_assets" mapstructure:"fallback_assets" validate:"dive,required"`
	Table          string   `yaml:"table" mapstructure:"table" validate:"required"`
}

// Location returns the zone naive timestamps are read in.
func (p PipelineConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load timezone %q", p.Timezone)
	}
	return loc, nil
}

// PathsConfig holds filesystem locations.
type PathsConfig struct {
	TmpDir    string `yaml:"tmp_dir" mapstructure:"tmp_dir" validate:"required"`
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port" validate:"gte=1,lte=65535"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// ScheduleConfig configures periodic runs inside `serve`.
type ScheduleConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval" validate:"gte=0"`
}

// MonitoringConfig configures run log alerting.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold" validate:"gte=0,lte=1"`
	AnomalyThreshold     int     `yaml:"anomaly_threshold" mapstructure:"anomaly_threshold" validate:"gte=0"`
	StaleAfterHours      int     `yaml:"stale_after_hours" mapstructure:"stale_after_hours" validate:"gte=0"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours" validate:"gte=1"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs" validate:"gte=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
	// File, when set, receives a copy of every log line.
	File string `yaml:"file" mapstructure:"file"`
}

var validate = validator.New()

// Load reads configuration from .env, the config file and environment.
// An empty path searches for config.yaml in the working directory.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

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
	v.SetEnvPrefix("CONSOLIDATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional unless named explicitly)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if cfg.Sources.Sensor.DatabaseURL == "" && cfg.Store.Driver == "postgres" {
		cfg.Sources.Sensor.DatabaseURL = cfg.Store.DatabaseURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "postgres://postgres@localhost:5432/windfarm?sslmode=disable")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 0)

	v.SetDefault("sources.production.enabled", true)
	v.SetDefault("sources.production.dir", "data")
	v.SetDefault("sources.production.prefix", "production_")
	v.SetDefault("sources.production.delimiter", ";")
	v.SetDefault("sources.production.timeout_secs", 30)

	v.SetDefault("sources.sensor.enabled", true)
	v.SetDefault("sources.sensor.lookback_minutes", 1440)
	v.SetDefault("sources.sensor.max_attempts", 3)
	v.SetDefault("sources.sensor.initial_backoff_ms", 500)
	v.SetDefault("sources.sensor.max_backoff_ms", 5000)

	v.SetDefault("sources.weather.enabled", true)
	v.SetDefault("sources.weather.base_url", "https://api.open-meteo.com/v1/forecast")
	v.SetDefault("sources.weather.latitude", 48.8566)
	v.SetDefault("sources.weather.longitude", 2.3522)
	v.SetDefault("sources.weather.timeout_secs", 30)
	v.SetDefault("sources.weather.max_retries", 3)
	v.SetDefault("sources.weather.requests_per_second", 2)
	v.SetDefault("sources.weather.breaker_failures", 5)
	v.SetDefault("sources.weather.breaker_reset_secs", 60)

	v.SetDefault("pipeline.batch_size", 500)
	v.SetDefault("pipeline.timezone", "Europe/Paris")
	v.SetDefault("pipeline.fallback_assets", []string{"T001", "T002"})
	v.SetDefault("pipeline.table", "consolidated_measurements")

	v.SetDefault("paths.tmp_dir", "tmp")
	v.SetDefault("paths.output_dir", "data")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.interval", "1h")

	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.anomaly_threshold", 0)
	v.SetDefault("monitoring.stale_after_hours", 0)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks field constraints on a loaded configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return eris.Wrap(err, "config: invalid")
	}
	return nil
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

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return eris.Wrap(err, "config: open log file")
		}
		_ = f.Close()
		zapCfg.OutputPaths = append(zapCfg.OutputPaths, cfg.File)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
