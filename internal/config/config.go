package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tidwall/jsonc"
)

// Config holds client configuration for the Codeloom backend.
type Config struct {
	// BaseURL is the http(s) base of the backend.
	BaseURL string `json:"baseURL"`

	// Endpoint path overrides.
	TokenPath  string `json:"tokenPath,omitempty"`
	SocketPath string `json:"socketPath,omitempty"`
	StreamPath string `json:"streamPath,omitempty"`

	// Durations accept Go duration strings, e.g. "8s".
	ConnectTimeout           Duration `json:"connectTimeout,omitempty"`
	PingInterval             Duration `json:"pingInterval,omitempty"`
	ReconnectInitialInterval Duration `json:"reconnectInitialInterval,omitempty"`

	MaxReconnectAttempts int `json:"maxReconnectAttempts,omitempty"`

	// Defaults for generation requests.
	Model string `json:"model,omitempty"`
	Mode  string `json:"mode,omitempty"`

	LogLevel  string `json:"logLevel,omitempty"`
	LogPretty bool   `json:"logPretty,omitempty"`
}

// Duration is a time.Duration that unmarshals from a Go duration string.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BaseURL:  "http://localhost:8080",
		LogLevel: "info",
	}
}

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/codeloom/)
// 2. Project config (.codeloom/)
// 3. CODELOOM_CONFIG file
// 4. Environment variables
func Load(directory string) (*Config, error) {
	config := Default()

	loaded := make(map[string]bool)
	loadOnce := func(path string) {
		absPath, err := filepath.Abs(path)
		if err != nil || loaded[absPath] {
			return
		}
		if loadConfigFile(path, config) == nil {
			loaded[absPath] = true
		}
	}

	// 1. Global config
	globalDir := GetPaths().Config
	loadOnce(filepath.Join(globalDir, "codeloom.json"))
	loadOnce(filepath.Join(globalDir, "codeloom.jsonc"))

	// 2. Project config
	if directory != "" {
		loadOnce(filepath.Join(directory, "codeloom.json"))
		loadOnce(filepath.Join(directory, "codeloom.jsonc"))
		loadOnce(filepath.Join(directory, ".codeloom", "codeloom.json"))
		loadOnce(filepath.Join(directory, ".codeloom", "codeloom.jsonc"))
	}

	// 3. CODELOOM_CONFIG file override
	if configPath := os.Getenv("CODELOOM_CONFIG"); configPath != "" {
		loadOnce(configPath)
	}

	// 4. Environment variables (highest priority)
	applyEnvOverrides(config)

	return config, nil
}

// loadConfigFile merges a single jsonc config file into config.
func loadConfigFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	data = jsonc.ToJSON(data)
	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies CODELOOM_* environment variables.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("CODELOOM_BASE_URL"); v != "" {
		config.BaseURL = v
	}
	if v := os.Getenv("CODELOOM_MODEL"); v != "" {
		config.Model = v
	}
	if v := os.Getenv("CODELOOM_MODE"); v != "" {
		config.Mode = v
	}
	if v := os.Getenv("CODELOOM_LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("CODELOOM_CONNECT_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			config.ConnectTimeout = Duration(parsed)
		}
	}
	if v := os.Getenv("CODELOOM_MAX_RECONNECT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxReconnectAttempts = n
		}
	}
}
