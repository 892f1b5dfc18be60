// Package config loads application configuration from a JSON file with
// environment-variable overrides, in priority order: environment variables,
// then the config file, then defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the complete application configuration.
type Config struct {
	// Exchange is the exchange name used in the storage layout.
	Exchange string `json:"exchange" env:"EXCHANGE"`

	Store   StoreConfig   `json:"store"`
	Fetch   FetchConfig   `json:"fetch"`
	Backup  BackupConfig  `json:"backup"`
	Logging LoggingConfig `json:"logging"`
}

// BackupConfig configures the optional series mirror.
type BackupConfig struct {
	// Dir is the mirror root; empty disables backups.
	Dir string `json:"dir" env:"BACKUP_DIR"`
}

// StoreConfig configures the local series store.
type StoreConfig struct {
	// DataDir is the root directory series files are written under.
	DataDir string `json:"data_dir" env:"DATA_DIR"`
}

// FetchConfig configures the fetch surface.
type FetchConfig struct {
	// ExchangeBaseURL and AdvancedBaseURL override the API endpoints;
	// empty keeps the production hosts.
	ExchangeBaseURL string `json:"exchange_base_url" env:"EXCHANGE_BASE_URL"`
	AdvancedBaseURL string `json:"advanced_base_url" env:"ADVANCED_BASE_URL"`

	// CredentialsPath points at the Advanced Trade API key file. Empty
	// disables the authenticated fetcher; timeframes requiring it fail.
	CredentialsPath string `json:"credentials_path" env:"CREDENTIALS_PATH"`

	// WeekStart is the weekday weekly buckets begin on (e.g. "Monday").
	WeekStart string `json:"week_start" env:"WEEK_START"`

	RetryMaxAttempts  int    `json:"retry_max_attempts" env:"RETRY_MAX_ATTEMPTS"`
	RetryInitialDelay string `json:"retry_initial_delay" env:"RETRY_INITIAL_DELAY"`
	RetryMaxDelay     string `json:"retry_max_delay" env:"RETRY_MAX_DELAY"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`         // debug, info, warn, error
	Format     string `json:"format" env:"LOG_FORMAT"`       // json, text
	Output     string `json:"output" env:"LOG_OUTPUT"`       // stdout, stderr, file
	FilePath   string `json:"file_path" env:"LOG_FILE_PATH"` // required when output is file
	MaxSizeMB  int    `json:"max_size_mb" env:"LOG_MAX_SIZE"`
	MaxBackups int    `json:"max_backups" env:"LOG_MAX_BACKUPS"`
	MaxAgeDays int    `json:"max_age_days" env:"LOG_MAX_AGE"`
	Compress   bool   `json:"compress" env:"LOG_COMPRESS"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Exchange: "coinbase",
		Store: StoreConfig{
			DataDir: "data",
		},
		Fetch: FetchConfig{
			CredentialsPath:   "coinbase_cloud_api_key.json",
			WeekStart:         "Monday",
			RetryMaxAttempts:  4,
			RetryInitialDelay: "500ms",
			RetryMaxDelay:     "30s",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// Load builds the configuration from defaults, the JSON file at path (if it
// exists), and environment-variable overrides, then validates the result.
// An empty path skips the file step.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	loadEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func loadEnv(cfg *Config) {
	if val := os.Getenv("EXCHANGE"); val != "" {
		cfg.Exchange = val
	}
	if val := os.Getenv("DATA_DIR"); val != "" {
		cfg.Store.DataDir = val
	}
	if val := os.Getenv("EXCHANGE_BASE_URL"); val != "" {
		cfg.Fetch.ExchangeBaseURL = val
	}
	if val := os.Getenv("ADVANCED_BASE_URL"); val != "" {
		cfg.Fetch.AdvancedBaseURL = val
	}
	if val := os.Getenv("BACKUP_DIR"); val != "" {
		cfg.Backup.Dir = val
	}
	if val := os.Getenv("CREDENTIALS_PATH"); val != "" {
		cfg.Fetch.CredentialsPath = val
	}
	if val := os.Getenv("WEEK_START"); val != "" {
		cfg.Fetch.WeekStart = val
	}
	if val := os.Getenv("RETRY_MAX_ATTEMPTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Fetch.RetryMaxAttempts = n
		}
	}
	if val := os.Getenv("RETRY_INITIAL_DELAY"); val != "" {
		cfg.Fetch.RetryInitialDelay = val
	}
	if val := os.Getenv("RETRY_MAX_DELAY"); val != "" {
		cfg.Fetch.RetryMaxDelay = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		cfg.Logging.Output = val
	}
	if val := os.Getenv("LOG_FILE_PATH"); val != "" {
		cfg.Logging.FilePath = val
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var problems []string

	if c.Exchange == "" {
		problems = append(problems, "exchange is required")
	}
	if c.Store.DataDir == "" {
		problems = append(problems, "store.data_dir is required")
	}
	if _, err := c.WeekStart(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Fetch.RetryMaxAttempts <= 0 {
		problems = append(problems, "fetch.retry_max_attempts must be greater than 0")
	}
	if _, err := time.ParseDuration(c.Fetch.RetryInitialDelay); err != nil {
		problems = append(problems, fmt.Sprintf("fetch.retry_initial_delay is not a valid duration: %v", err))
	}
	if _, err := time.ParseDuration(c.Fetch.RetryMaxDelay); err != nil {
		problems = append(problems, fmt.Sprintf("fetch.retry_max_delay is not a valid duration: %v", err))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		problems = append(problems, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		problems = append(problems, "logging.format must be one of: json, text")
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		problems = append(problems, "logging.file_path is required when logging.output is file")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// WeekStart parses Fetch.WeekStart into a time.Weekday.
func (c *Config) WeekStart() (time.Weekday, error) {
	d, ok := weekdays[strings.ToLower(c.Fetch.WeekStart)]
	if !ok {
		return 0, fmt.Errorf("fetch.week_start %q is not a weekday name", c.Fetch.WeekStart)
	}
	return d, nil
}

// RetryInitialDelay parses the configured initial retry delay.
func (c *Config) RetryInitialDelay() time.Duration {
	d, _ := time.ParseDuration(c.Fetch.RetryInitialDelay)
	return d
}

// RetryMaxDelay parses the configured maximum retry delay.
func (c *Config) RetryMaxDelay() time.Duration {
	d, _ := time.ParseDuration(c.Fetch.RetryMaxDelay)
	return d
}
