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
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Assistant  AssistantConfig  `yaml:"assistant" mapstructure:"assistant"`
	AddressRef AddressRefConfig `yaml:"addressref" mapstructure:"addressref"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Rules      RulesConfig      `yaml:"rules" mapstructure:"rules"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the golden record store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "postgres" or "sqlite"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CacheConfig configures the cross-batch assistant result cache.
type CacheConfig struct {
	// Driver is "redis" or "memory". Memory is per-process and intended for
	// tests and one-off local runs.
	Driver   string `yaml:"driver" mapstructure:"driver"`
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
	TTLHours int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// AssistantConfig configures the bounded correction assistant.
type AssistantConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`

	// MaxInvocationsPerBatch caps assistant calls per batch; unresolved
	// fields beyond the ceiling stay unresolved.
	MaxInvocationsPerBatch int `yaml:"max_invocations_per_batch" mapstructure:"max_invocations_per_batch"`

	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	AcceptThreshold float64 `yaml:"accept_threshold" mapstructure:"accept_threshold"`
	// ConfidenceCeiling caps the confidence of assistant-resolved fields.
	ConfidenceCeiling float64 `yaml:"confidence_ceiling" mapstructure:"confidence_ceiling"`
	RatePerSec        float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// AddressRefConfig configures the read-only address reference lookup.
type AddressRefConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
}

// PipelineConfig configures batch processing behavior.
type PipelineConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
	// ReferenceDate anchors remaining-years computation, "YYYY-MM-DD".
	// Empty means today.
	ReferenceDate string `yaml:"reference_date" mapstructure:"reference_date"`
	MergeRetries  int    `yaml:"merge_retries" mapstructure:"merge_retries"`
}

// RulesConfig points at the rule-set file; empty uses built-in defaults.
type RulesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the read-only HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GOLDENREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("cache.driver", "redis")
	v.SetDefault("cache.redis_url", "redis://localhost:6379/0")
	v.SetDefault("cache.ttl_hours", 24*30)
	v.SetDefault("assistant.model", "claude-haiku-4-5-20251001")
	v.SetDefault("assistant.max_invocations_per_batch", 100)
	v.SetDefault("assistant.timeout_secs", 30)
	v.SetDefault("assistant.accept_threshold", 0.5)
	v.SetDefault("assistant.confidence_ceiling", 0.8)
	v.SetDefault("assistant.rate_per_sec", 2)
	v.SetDefault("addressref.base_url", "https://api.postcodes.io")
	v.SetDefault("addressref.timeout_secs", 15)
	v.SetDefault("addressref.rate_per_sec", 10)
	v.SetDefault("addressref.enabled", true)
	v.SetDefault("pipeline.workers", 8)
	v.SetDefault("pipeline.merge_retries", 3)
	v.SetDefault("server.port", 8080)
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
