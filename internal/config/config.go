// Package config loads settings from defaults, an optional YAML file and
// TENDERRISK_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/streamwatch/tender-risk/internal/anomaly"
	"github.com/streamwatch/tender-risk/internal/batch"
	"github.com/streamwatch/tender-risk/internal/middleware"
	"github.com/streamwatch/tender-risk/internal/ml"
	"github.com/streamwatch/tender-risk/internal/pipeline"
	"github.com/streamwatch/tender-risk/internal/ratelimit"
	"github.com/streamwatch/tender-risk/internal/rules"
	"github.com/streamwatch/tender-risk/internal/security"
)

const (
	// EnvPrefix prefixes every environment override, e.g.
	// TENDERRISK_DATA_INPUT_DIR.
	EnvPrefix = "TENDERRISK"
	// DefaultFile is read when present and no file is given explicitly.
	DefaultFile = "tenderrisk.yaml"
)

type DataConfig struct {
	InputDir  string `mapstructure:"input_dir"`
	InputGlob string `mapstructure:"input_glob"`
	OutputDir string `mapstructure:"output_dir"`
}

type ModelConfig struct {
	Dir string `mapstructure:"dir"`
}

type RegistryConfig struct {
	Path string `mapstructure:"path"`
}

type ScoringConfig struct {
	MinCategorySamples int     `mapstructure:"min_category_samples"`
	LabelThreshold     float64 `mapstructure:"label_threshold"`
}

type BatchConfig struct {
	Workers int `mapstructure:"workers"`
}

type ServerConfig struct {
	Port                 int                          `mapstructure:"port"`
	RateLimitPerMin      int                          `mapstructure:"rate_limit_per_min"`
	BatchRateLimitPerMin int                          `mapstructure:"batch_rate_limit_per_min"`
	AllowedOrigins       []string                     `mapstructure:"allowed_origins"`
	RequestTimeout       time.Duration                `mapstructure:"request_timeout"`
	MaxBodyBytes         int64                        `mapstructure:"max_body_bytes"`
	ShutdownTimeout      time.Duration                `mapstructure:"shutdown_timeout"`
	StatsCacheTTL        time.Duration                `mapstructure:"stats_cache_ttl"`
	Compression          middleware.CompressionConfig `mapstructure:"compression"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Config is the full application configuration.
type Config struct {
	Data     DataConfig     `mapstructure:"data"`
	Model    ModelConfig    `mapstructure:"model"`
	Registry RegistryConfig `mapstructure:"registry"`
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	Anomaly  anomaly.Config `mapstructure:"anomaly"`
	Train    ml.Config      `mapstructure:"train"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
}

// SetDefaults registers every key with its default on v. Keys must be
// registered for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	b := batch.DefaultConfig()
	an := anomaly.DefaultConfig()
	tr := ml.DefaultConfig()
	rl := ratelimit.DefaultConfig()
	sec := security.DefaultConfig()

	v.SetDefault("data.input_dir", b.InputDir)
	v.SetDefault("data.input_glob", b.InputGlob)
	v.SetDefault("data.output_dir", b.OutputDir)
	v.SetDefault("model.dir", "./trained_model")
	v.SetDefault("registry.path", "./data/registry.db")

	v.SetDefault("scoring.min_category_samples", b.MinCategorySamples)
	v.SetDefault("scoring.label_threshold", rules.DefaultLabelThreshold)

	v.SetDefault("anomaly.trees", an.Trees)
	v.SetDefault("anomaly.sample_size", an.SampleSize)
	v.SetDefault("anomaly.contamination", an.Contamination)
	v.SetDefault("anomaly.seed", an.Seed)

	v.SetDefault("train.test_fraction", tr.TestFraction)
	v.SetDefault("train.seed", tr.Seed)
	v.SetDefault("train.min_samples", tr.MinSamples)
	v.SetDefault("train.cv_folds", tr.CVFolds)
	v.SetDefault("train.smote_neighbors", tr.SMOTENeighbors)

	v.SetDefault("batch.workers", runtime.NumCPU())

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_per_min", rl.IPLimitPerMin)
	v.SetDefault("server.batch_rate_limit_per_min", rl.BatchLimitPerMin)
	v.SetDefault("server.allowed_origins", sec.AllowedOrigins)
	v.SetDefault("server.request_timeout", sec.RequestTimeout)
	v.SetDefault("server.max_body_bytes", sec.MaxBodyBytes)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.stats_cache_ttl", time.Minute)

	gz := middleware.DefaultCompressionConfig()
	v.SetDefault("server.compression.min_size", gz.MinSize)
	v.SetDefault("server.compression.level", gz.CompressionLevel)
	v.SetDefault("server.compression.content_types", gz.ContentTypes)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
}

// Load reads configuration into a Config. An explicit file must exist;
// without one, DefaultFile in the working directory is read if present.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	} else if _, err := os.Stat(DefaultFile); err == nil {
		v.SetConfigFile(DefaultFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", DefaultFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no stage can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Data.InputGlob == "" {
		errs = append(errs, errors.New("data.input_glob must not be empty"))
	}
	if c.Model.Dir == "" {
		errs = append(errs, errors.New("model.dir must not be empty"))
	}
	if c.Scoring.MinCategorySamples < 1 {
		errs = append(errs, errors.New("scoring.min_category_samples must be at least 1"))
	}
	if c.Anomaly.Contamination <= 0 || c.Anomaly.Contamination >= 0.5 {
		errs = append(errs, errors.New("anomaly.contamination must be in (0, 0.5)"))
	}
	if c.Train.TestFraction <= 0 || c.Train.TestFraction >= 1 {
		errs = append(errs, errors.New("train.test_fraction must be in (0, 1)"))
	}
	if c.Train.CVFolds < 2 {
		errs = append(errs, errors.New("train.cv_folds must be at least 2"))
	}
	if c.Batch.Workers < 1 {
		errs = append(errs, errors.New("batch.workers must be at least 1"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Pipeline returns the settings of the offline jobs.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		Batch: batch.Config{
			InputDir:           c.Data.InputDir,
			InputGlob:          c.Data.InputGlob,
			OutputDir:          c.Data.OutputDir,
			Workers:            c.Batch.Workers,
			MinCategorySamples: c.Scoring.MinCategorySamples,
			Anomaly:            c.Anomaly,
		},
		Train:          c.Train,
		LabelThreshold: c.Scoring.LabelThreshold,
	}
}

// RateLimit returns the limiter settings for the API.
func (c *Config) RateLimit() ratelimit.Config {
	cfg := ratelimit.DefaultConfig()
	cfg.IPLimitPerMin = c.Server.RateLimitPerMin
	cfg.BatchLimitPerMin = c.Server.BatchRateLimitPerMin
	return cfg
}

// Security returns the HTTP hardening settings for the API.
func (c *Config) Security() security.Config {
	return security.Config{
		AllowedOrigins: c.Server.AllowedOrigins,
		RequestTimeout: c.Server.RequestTimeout,
		MaxBodyBytes:   c.Server.MaxBodyBytes,
	}
}
