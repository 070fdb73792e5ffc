// Package config loads caseflow settings from defaults, an optional YAML
// file and the environment, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PathEnv names the YAML file when --config is not given.
const PathEnv = "CASEFLOW_CONFIG"

const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type Config struct {
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	APIToken  string `yaml:"api_token"`

	StoreDriver string `yaml:"store_driver"`
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`

	NatsURL   string `yaml:"nats_url"`
	NatsToken string `yaml:"nats_token"`

	SlackBotToken string `yaml:"slack_bot_token"`
	SlackChannel  string `yaml:"slack_channel"`

	TranscriptDir         string        `yaml:"transcript_dir"`
	DataDir               string        `yaml:"data_dir"`
	PollInterval          time.Duration `yaml:"poll_interval"`
	StabilityDelay        time.Duration `yaml:"stability_delay"`
	MaxFileBytes          int64         `yaml:"max_file_bytes"`
	MinMatchConfidence    float64       `yaml:"min_match_confidence"`
	MaxUnresolvedAttempts int           `yaml:"max_unresolved_attempts"`
	DispatchInterval      time.Duration `yaml:"dispatch_interval"`
}

func defaults() Config {
	return Config{
		Port:                  8760,
		LogLevel:              "info",
		LogFormat:             "json",
		DataDir:               "./data",
		TranscriptDir:         "./transcripts",
		PollInterval:          30 * time.Second,
		StabilityDelay:        200 * time.Millisecond,
		MaxFileBytes:          768000,
		MinMatchConfidence:    0.6,
		MaxUnresolvedAttempts: 20,
		DispatchInterval:      15 * time.Second,
	}
}

// Load builds the configuration. path may be empty, in which case
// CASEFLOW_CONFIG is consulted; with neither set only defaults and the
// environment apply.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(PathEnv)
	}
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = envInt("CASEFLOW_PORT", c.Port)
	c.LogLevel = envStr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envStr("LOG_FORMAT", c.LogFormat)
	c.APIToken = envStr("CASEFLOW_API_TOKEN", c.APIToken)
	c.StoreDriver = envStr("CASEFLOW_STORE", c.StoreDriver)
	c.DatabaseURL = envStr("DATABASE_URL", c.DatabaseURL)
	c.SQLitePath = envStr("CASEFLOW_SQLITE_PATH", c.SQLitePath)
	c.NatsURL = envStr("NATS_URL", c.NatsURL)
	c.NatsToken = envStr("NATS_TOKEN", c.NatsToken)
	c.SlackBotToken = envStr("SLACK_BOT_TOKEN", c.SlackBotToken)
	c.SlackChannel = envStr("SLACK_ALERT_CHANNEL", c.SlackChannel)
	c.TranscriptDir = envStr("CASEFLOW_TRANSCRIPT_DIR", c.TranscriptDir)
	c.DataDir = envStr("CASEFLOW_DATA_DIR", c.DataDir)
	c.PollInterval = envDuration("CASEFLOW_POLL_INTERVAL", c.PollInterval)
	c.StabilityDelay = envDuration("CASEFLOW_STABILITY_DELAY", c.StabilityDelay)
	c.MaxFileBytes = int64(envInt("CASEFLOW_MAX_FILE_BYTES", int(c.MaxFileBytes)))
	c.MinMatchConfidence = envFloat("CASEFLOW_MIN_MATCH_CONFIDENCE", c.MinMatchConfidence)
	c.MaxUnresolvedAttempts = envInt("CASEFLOW_MAX_UNRESOLVED_ATTEMPTS", c.MaxUnresolvedAttempts)
	c.DispatchInterval = envDuration("CASEFLOW_DISPATCH_INTERVAL", c.DispatchInterval)
}

func (c *Config) applyDefaults() {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	if c.StoreDriver == "" {
		if c.DatabaseURL != "" {
			c.StoreDriver = StorePostgres
		} else {
			c.StoreDriver = StoreSQLite
		}
	}
	if c.SQLitePath == "" {
		c.SQLitePath = filepath.Join(c.DataDir, "caseflow.db")
	}
}

func (c *Config) validate() error {
	var errs []string
	switch c.StoreDriver {
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, "database_url is required for the postgres store")
		}
	case StoreSQLite:
	default:
		errs = append(errs, fmt.Sprintf("store_driver %q is not one of postgres, sqlite", c.StoreDriver))
	}
	if c.DataDir == "" {
		errs = append(errs, "data_dir is required")
	}
	if c.TranscriptDir == "" {
		errs = append(errs, "transcript_dir is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("port %d is out of range", c.Port))
	}
	if c.MinMatchConfidence <= 0 || c.MinMatchConfidence > 1 {
		errs = append(errs, "min_match_confidence must be in (0, 1]")
	}
	if c.MaxFileBytes <= 0 {
		errs = append(errs, "max_file_bytes must be positive")
	}
	if c.SlackBotToken != "" && c.SlackChannel == "" {
		errs = append(errs, "slack_channel is required when slack_bot_token is set")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("log_format %q is not one of json, text", c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
