package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// DatabaseConfig describes the Postgres backend shared by the
// clickstream store (C1) and the experiment registry (C8).
type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// TemporalConfig describes the Temporal cluster the fine-tuning
// workflows (C6, C7) run against.
type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// HTTPConfig describes the task and clickstream API listeners (spec §6).
type HTTPConfig struct {
	TaskAPIAddr     string `mapstructure:"task_api_addr"`
	ClickstreamAddr string `mapstructure:"clickstream_addr"`
	MetricsAddr     string `mapstructure:"metrics_addr"`
}

// RetryConfig describes the exponential backoff envelope shared by the
// registry and driver retry wrappers (spec §7).
type RetryConfig struct {
	MaxAttempts  int     `mapstructure:"max_attempts"`
	InitialDelay float64 `mapstructure:"initial_delay_seconds"`
	Multiplier   float64 `mapstructure:"multiplier"`
}

// LoggingConfig mirrors the teacher's observability.logging block.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// InferenceConfig addresses the online embedding/ranking model host (spec
// §6 env vars: inference host and port).
type InferenceConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// ArtifactStoreConfig addresses the model-artifact collaborator (spec §6:
// artifact store URL).
type ArtifactStoreConfig struct {
	URL string `mapstructure:"url"`
}

// Config is the root configuration document, loaded from config.yaml
// (or CONFIG_PATH) with environment overrides, the same two-layer shape
// internal/config used for features.yaml in the teacher.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Temporal      TemporalConfig      `mapstructure:"temporal"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Inference     InferenceConfig     `mapstructure:"inference"`
	ArtifactStore ArtifactStoreConfig `mapstructure:"artifact_store"`
}

// ResolvePath returns the config file path: CONFIG_PATH if set, else
// /app/config/config.yaml if present, else ./config/config.yaml. A
// directory path resolves to config.yaml inside it.
func ResolvePath() string {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		if _, err := os.Stat("/app/config/config.yaml"); err == nil {
			cfgPath = "/app/config/config.yaml"
		} else {
			cfgPath = "config/config.yaml"
		}
	}
	if info, err := os.Stat(cfgPath); err == nil && info.IsDir() {
		cfgPath = filepath.Join(cfgPath, "config.yaml")
	}
	return cfgPath
}

// Load reads the config file at ResolvePath, then applies env overrides
// and fills in defaults for anything still unset.
func Load() (*Config, error) {
	cfgPath := ResolvePath()

	var c Config
	if _, err := os.Stat(cfgPath); err == nil {
		v := viper.New()
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
		}
		if err := v.Unmarshal(&c); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	applyDefaults(&c)
	applyEnvOverrides(&c)
	return &c, nil
}

func applyDefaults(c *Config) {
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Temporal.HostPort == "" {
		c.Temporal.HostPort = "localhost:7233"
	}
	if c.Temporal.Namespace == "" {
		c.Temporal.Namespace = "default"
	}
	if c.Temporal.TaskQueue == "" {
		c.Temporal.TaskQueue = "finetune-engine"
	}
	if c.HTTP.TaskAPIAddr == "" {
		c.HTTP.TaskAPIAddr = ":8081"
	}
	if c.HTTP.ClickstreamAddr == "" {
		c.HTTP.ClickstreamAddr = ":8082"
	}
	if c.HTTP.MetricsAddr == "" {
		c.HTTP.MetricsAddr = ":9090"
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.InitialDelay <= 0 {
		c.Retry.InitialDelay = 0.5
	}
	if c.Retry.Multiplier <= 0 {
		c.Retry.Multiplier = 2.0
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("TEMPORAL_HOST_PORT"); v != "" {
		c.Temporal.HostPort = v
	}
	if v := os.Getenv("TEMPORAL_NAMESPACE"); v != "" {
		c.Temporal.Namespace = v
	}
	if v := os.Getenv("TEMPORAL_TASK_QUEUE"); v != "" {
		c.Temporal.TaskQueue = v
	}
	if v := os.Getenv("TASK_API_ADDR"); v != "" {
		c.HTTP.TaskAPIAddr = v
	}
	if v := os.Getenv("CLICKSTREAM_API_ADDR"); v != "" {
		c.HTTP.ClickstreamAddr = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.HTTP.MetricsAddr = v
	}
	if v := os.Getenv("RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			c.Retry.MaxAttempts = n
		}
	}
	if v := os.Getenv("DEFAULT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			c.Retry.MaxAttempts = n
		}
	}
	if v := os.Getenv("DEFAULT_WAIT_TIME_SECONDS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f > 0 {
			c.Retry.InitialDelay = f
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("INFERENCE_HOST"); v != "" {
		c.Inference.Host = v
	}
	if v := os.Getenv("INFERENCE_PORT"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			c.Inference.Port = n
		}
	}
	if v := os.Getenv("ARTIFACT_STORE_URL"); v != "" {
		c.ArtifactStore.URL = v
	}
}

// ParseBool converts common string representations to bool.
func ParseBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n != 0
		}
	}
	return false
}
