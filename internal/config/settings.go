package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

const DefaultSettingsFile = "vibetracker.json"

// FileSettings is the JSON settings file shared with the capture front end.
type FileSettings struct {
	HumeAPIKey    string `json:"humeApiKey"`
	HumeAPISecret string `json:"humeApiSecret"`
	HumeAPIURL    string `json:"humeApiUrl,omitempty"`
	BatchSize     int    `json:"batchSize,omitempty"`
}

func SettingsFilePath() string {
	return getEnvString("SETTINGS_FILE", DefaultSettingsFile)
}

func (s FileSettings) Validate() error {
	if strings.TrimSpace(s.HumeAPIKey) == "" {
		return fmt.Errorf("humeApiKey is required")
	}
	if s.BatchSize < 0 {
		return fmt.Errorf("batchSize must not be negative")
	}
	return nil
}

// WithFileSettings overrides environment values with the non-empty fields of s.
func WithFileSettings(s FileSettings) Option {
	return func(c *Config) {
		if strings.TrimSpace(s.HumeAPIKey) != "" {
			c.Hume.APIKey = s.HumeAPIKey
		}
		if strings.TrimSpace(s.HumeAPISecret) != "" {
			c.Hume.SecretKey = s.HumeAPISecret
		}
		if strings.TrimSpace(s.HumeAPIURL) != "" {
			c.Hume.APIURL = s.HumeAPIURL
		}
		if s.BatchSize > 0 {
			c.Tracker.BatchSize = s.BatchSize
		}
	}
}

func LoadSettingsFile(path string) (FileSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileSettings{}, err
	}
	var settings FileSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return FileSettings{}, fmt.Errorf("invalid settings file %s: %w", path, err)
	}
	return settings, nil
}

// Load reads the settings file if present and builds the Config from the
// environment with the file on top. A missing file is not an error.
func Load(opts ...Option) (*Config, error) {
	path := SettingsFilePath()
	settings, err := LoadSettingsFile(path)
	switch {
	case err == nil:
		if err := settings.Validate(); err != nil {
			return nil, fmt.Errorf("settings file %s: %w", path, err)
		}
		opts = append([]Option{WithFileSettings(settings)}, opts...)
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}
	return NewFromEnv(opts...)
}
