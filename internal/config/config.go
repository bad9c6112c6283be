// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-tpmengine.
//
// go-tpmengine is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jeremyhahn/go-tpmengine/pkg/logging"
	"github.com/jeremyhahn/go-tpmengine/pkg/ratelimit"
	"github.com/jeremyhahn/go-tpmengine/pkg/storage"
	"github.com/jeremyhahn/go-tpmengine/pkg/storage/file"
	"github.com/jeremyhahn/go-tpmengine/pkg/storage/memory"
	"github.com/jeremyhahn/go-tpmengine/pkg/tpm2"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the configuration file
const (
	EnvHost     = "TPMENGINE_HOST"
	EnvPort     = "TPMENGINE_PORT"
	EnvDevice   = "TPMENGINE_DEVICE"
	EnvLogLevel = "TPMENGINE_LOG_LEVEL"
	EnvKeyDir   = "TPMENGINE_KEY_DIR"
)

// Config represents the complete tpmengine configuration
type Config struct {
	TPM     TPMConfig     `yaml:"tpm"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
}

// TPMConfig controls how the TPM is reached
type TPMConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	PlatformPort   int           `yaml:"platform_port"`
	DevicePath     string        `yaml:"device_path"`
	Simulator      bool          `yaml:"simulator"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRandomChunk int           `yaml:"max_random_chunk"`
	DebugSecrets   bool          `yaml:"debug_secrets"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the metrics endpoint of the serve command
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// StorageConfig controls where key artifacts are kept
type StorageConfig struct {
	KeyDir string `yaml:"key_dir"`

	// ReadOnly keeps the key directory untouched: artifacts are read from
	// it and the names written back after a load are held in memory
	ReadOnly bool `yaml:"read_only"`
}

// ServerConfig controls the serve command
type ServerConfig struct {
	Listen     string `yaml:"listen"`
	HealthPath string `yaml:"health_path"`
	// MaxRandom caps the byte count a single /random request may ask for
	MaxRandom int `yaml:"max_random"`

	// RateLimit throttles the TPM backed endpoints per client
	RateLimit ratelimit.Config `yaml:"rate_limit"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		TPM: TPMConfig{
			Host:           tpm2.DefaultHost,
			Port:           tpm2.DefaultPort,
			Timeout:        tpm2.DefaultTimeout,
			MaxRandomChunk: tpm2.DefaultMaxRandomChunk,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: logging.FormatText,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Server: ServerConfig{
			Listen:     "127.0.0.1:8080",
			HealthPath: "/healthz",
			MaxRandom:  4096,
			RateLimit: ratelimit.Config{
				RequestsPerSecond: 10,
				Burst:             20,
			},
		},
	}
}

// Load reads configuration from a YAML file on top of the defaults and
// applies environment variable overrides. An empty path loads the
// defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - Config file path is provided by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv(EnvHost); host != "" {
		cfg.TPM.Host = host
	}
	if value := os.Getenv(EnvPort); value != "" {
		port, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("Warning: invalid %s value %q, using %d: %v",
				EnvPort, value, cfg.TPM.Port, err)
		} else if port < 1 || port > 65535 {
			log.Printf("Warning: invalid %s value %q (out of range 1-65535), using %d",
				EnvPort, value, cfg.TPM.Port)
		} else {
			cfg.TPM.Port = port
		}
	}
	if device := os.Getenv(EnvDevice); device != "" {
		cfg.TPM.DevicePath = device
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		cfg.Logging.Level = level
	}
	if keyDir := os.Getenv(EnvKeyDir); keyDir != "" {
		cfg.Storage.KeyDir = keyDir
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		logging.FormatText: true, logging.FormatJSON: true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("invalid metrics path: %q", c.Metrics.Path)
	}
	if !strings.HasPrefix(c.Server.HealthPath, "/") {
		return fmt.Errorf("invalid health path: %q", c.Server.HealthPath)
	}
	if c.Server.MaxRandom < 0 {
		return fmt.Errorf("invalid server max_random: %d", c.Server.MaxRandom)
	}

	if rl := c.Server.RateLimit; rl.Enabled && rl.RequestsPerSecond <= 0 {
		return fmt.Errorf("invalid rate limit: %v requests per second", rl.RequestsPerSecond)
	}

	return c.TPM2Config().Validate()
}

// TPM2Config converts the configuration into the core TPM configuration
func (c *Config) TPM2Config() *tpm2.Config {
	debug := 0
	if logging.ParseLevel(c.Logging.Level) <= logging.ParseLevel("debug") {
		debug = 1
	}
	return &tpm2.Config{
		Host:           c.TPM.Host,
		Port:           c.TPM.Port,
		PlatformPort:   c.TPM.PlatformPort,
		DevicePath:     c.TPM.DevicePath,
		UseSimulator:   c.TPM.Simulator,
		Timeout:        c.TPM.Timeout,
		MaxRandomChunk: c.TPM.MaxRandomChunk,
		Debug:          debug,
		DebugSecrets:   c.TPM.DebugSecrets,
		KeyDir:         c.Storage.KeyDir,
	}
}

// Store opens the artifact store rooted at the key directory, layered
// under an in-memory store when the key directory is read-only
func (c *Config) Store() (storage.Backend, error) {
	root := c.Storage.KeyDir
	if root == "" {
		root = "/"
	}
	files, err := file.New(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open key directory: %w", err)
	}
	if !c.Storage.ReadOnly {
		return files, nil
	}
	return storage.NewOverlay(files, memory.New()), nil
}

// Logger returns a logger for the configured level and format
func (c *Config) Logger() *logging.Logger {
	return logging.NewLoggerWithFormat(os.Stderr, c.Logging.Format,
		logging.ParseLevel(c.Logging.Level) <= logging.ParseLevel("debug"))
}
