package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/vibetracker/pkg/log"
	"github.com/robfig/cron/v3"
)

// Config holds all application configuration.
// Values come from environment variables with sensible defaults; a JSON
// settings file (see FileSettings) can override the credentials and batch size.
//
// Environment Variables:
// Hume Configuration:
// - HUME_API_KEY: API key (required)
// - HUME_API_SECRET: secret key (optional, unused by the batch API)
// - HUME_API_URL: API base URL (default: https://api.hume.ai/v0)
// - HUME_TIMEOUT: request timeout in seconds (default: 30)
// - HUME_RPS: outbound requests per second (default: 2)
// - HUME_BURST: limiter burst (default: 4)
//
// Tracker Configuration:
// - BATCH_SIZE: captures per batch (default: 10)
// - WORKERS: concurrent batch workers (default: 1)
// - POLL_INTERVAL: wait between polls, Go duration (default: 1s)
// - POLL_MAX_ATTEMPTS: polls before giving up (default: 120)
// - SUBMIT_RETRIES: resubmissions of a rejected batch (default: 0)
// - SUBMIT_BACKOFF: first retry delay, Go duration (default: 2s)
// - REQUEUE_ON_TIMEOUT: re-buffer captures of timed out batches (default: false)
// - FLUSH_ON_SHUTDOWN: hand off a partial batch on shutdown (default: false)
// - SUMMARY_TOP_N: emotions per application in summaries (default: 3)
//
// Foreground Configuration:
// - FOREGROUND_COMMAND: command printing the active application (optional)
// - FOREGROUND_APP: fixed application id when no command is set (default: unknown)
// - FOREGROUND_TIMEOUT: command timeout, Go duration (default: 2s)
//
// System Configuration:
// - HTTP_ADDR: listen address (default: 127.0.0.1:8787)
// - UI_STATIC_DIR: capture page served at / (optional)
// - DATA_DIR: ledger database and summaries (default: ./data)
// - ROLLOVER_CRON: when to export the summary and clear records, "off" disables (default: 0 0 * * *)
// - SETTINGS_FILE: JSON settings file (default: vibetracker.json)
type Config struct {
	Hume       HumeConfig       `json:"hume"`
	Tracker    TrackerConfig    `json:"tracker"`
	Foreground ForegroundConfig `json:"foreground"`
	HTTP       HTTPConfig       `json:"http"`
	System     SystemConfig     `json:"system"`
}

type HumeConfig struct {
	APIKey            string  `json:"api_key"`
	SecretKey         string  `json:"secret_key"`
	APIURL            string  `json:"api_url"`
	Timeout           int     `json:"timeout"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

// String keeps credentials out of logs.
func (c HumeConfig) String() string {
	return fmt.Sprintf("{APIURL:%s Timeout:%d RPS:%g Burst:%d APIKey:%s}",
		c.APIURL, c.Timeout, c.RequestsPerSecond, c.Burst, mask(c.APIKey))
}

type TrackerConfig struct {
	BatchSize        int           `json:"batch_size"`
	Workers          int           `json:"workers"`
	PollInterval     time.Duration `json:"poll_interval"`
	PollMaxAttempts  int           `json:"poll_max_attempts"`
	SubmitRetries    int           `json:"submit_retries"`
	SubmitBackoff    time.Duration `json:"submit_backoff"`
	RequeueOnTimeout bool          `json:"requeue_on_timeout"`
	FlushOnShutdown  bool          `json:"flush_on_shutdown"`
	SummaryTopN      int           `json:"summary_top_n"`
}

type ForegroundConfig struct {
	Command string        `json:"command"`
	App     string        `json:"app"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Addr        string `json:"addr"`
	UIStaticDir string `json:"ui_static_dir"`
}

type SystemConfig struct {
	DataDir      string `json:"data_dir"`
	RolloverCron string `json:"rollover_cron"`
	SettingsFile string `json:"settings_file"`
}

const dbFileName = "vibetracker.db"

// DBPath is the ledger database inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.System.DataDir, dbFileName)
}

// SummaryPath is the rolling summary rewritten after every batch.
func (c *Config) SummaryPath() string {
	return filepath.Join(c.System.DataDir, "summary.json")
}

// RolloverPath is the archived summary for the given day.
func (c *Config) RolloverPath(day time.Time) string {
	return filepath.Join(c.System.DataDir, "summary-"+day.Format("2006-01-02")+".json")
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Hume: HumeConfig{
			APIKey:            getEnvString("HUME_API_KEY", ""),
			SecretKey:         getEnvString("HUME_API_SECRET", ""),
			APIURL:            getEnvString("HUME_API_URL", "https://api.hume.ai/v0"),
			Timeout:           getEnvInt("HUME_TIMEOUT", 30),
			RequestsPerSecond: getEnvFloat("HUME_RPS", 2),
			Burst:             getEnvInt("HUME_BURST", 4),
		},
		Tracker: TrackerConfig{
			BatchSize:        getEnvInt("BATCH_SIZE", 10),
			Workers:          getEnvInt("WORKERS", 1),
			PollInterval:     getEnvDuration("POLL_INTERVAL", time.Second),
			PollMaxAttempts:  getEnvInt("POLL_MAX_ATTEMPTS", 120),
			SubmitRetries:    getEnvInt("SUBMIT_RETRIES", 0),
			SubmitBackoff:    getEnvDuration("SUBMIT_BACKOFF", 2*time.Second),
			RequeueOnTimeout: getEnvBool("REQUEUE_ON_TIMEOUT", false),
			FlushOnShutdown:  getEnvBool("FLUSH_ON_SHUTDOWN", false),
			SummaryTopN:      getEnvInt("SUMMARY_TOP_N", 3),
		},
		Foreground: ForegroundConfig{
			Command: getEnvString("FOREGROUND_COMMAND", ""),
			App:     getEnvString("FOREGROUND_APP", "unknown"),
			Timeout: getEnvDuration("FOREGROUND_TIMEOUT", 2*time.Second),
		},
		HTTP: HTTPConfig{
			Addr:        getEnvString("HTTP_ADDR", "127.0.0.1:8787"),
			UIStaticDir: getEnvString("UI_STATIC_DIR", ""),
		},
		System: SystemConfig{
			DataDir:      getEnvString("DATA_DIR", "./data"),
			RolloverCron: rolloverCron(),
			SettingsFile: SettingsFilePath(),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	log.Info("Config: hume=%v tracker=%+v http=%+v system=%+v", config.Hume, config.Tracker, config.HTTP, config.System)

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if strings.TrimSpace(c.Hume.APIKey) == "" {
		return fmt.Errorf("HUME_API_KEY is required (or humeApiKey in %s)", c.System.SettingsFile)
	}
	if c.Tracker.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.Tracker.BatchSize)
	}
	if c.Tracker.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive, got %d", c.Tracker.Workers)
	}
	if c.Tracker.PollMaxAttempts <= 0 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must be positive, got %d", c.Tracker.PollMaxAttempts)
	}
	if c.Tracker.SubmitRetries < 0 {
		return fmt.Errorf("SUBMIT_RETRIES must not be negative, got %d", c.Tracker.SubmitRetries)
	}
	if c.System.RolloverCron != "" {
		if _, err := cron.ParseStandard(c.System.RolloverCron); err != nil {
			return fmt.Errorf("invalid ROLLOVER_CRON: %w", err)
		}
	}
	return nil
}

func rolloverCron() string {
	expr := getEnvString("ROLLOVER_CRON", "0 0 * * *")
	if strings.EqualFold(expr, "off") {
		return ""
	}
	return expr
}

func mask(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:2] + strings.Repeat("*", len(secret)-4) + secret[len(secret)-2:]
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
