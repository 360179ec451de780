package hume

import (
	"fmt"
	"strings"
)

const DefaultAPIURL = "https://api.hume.ai/v0"

// Config holds the configuration for the batch API client.
//
// APIURL: base URL, jobs are created at {APIURL}/batch/jobs
// Timeout: per-request timeout in seconds
// RequestsPerSecond: outbound request budget, <= 0 disables limiting
// Burst: limiter burst size
type Config struct {
	APIURL            string  `json:"api_url"`
	Timeout           int     `json:"timeout"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIURL) == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	return nil
}

// Credentials authenticate requests against the analysis service.
type Credentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
}

func (c Credentials) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("API key is required")
	}
	return nil
}

// Headers returns the headers every request carries.
func (c Credentials) Headers() map[string]string {
	return map[string]string{
		"X-Hume-Api-Key": c.APIKey,
		"Accept":         "application/json; charset=utf-8",
	}
}
