// Package config loads and validates the vulnscan service configuration.
package config

import (
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/vulnscan/internal/errors"
	"github.com/anstrom/vulnscan/internal/jobs"
	"github.com/anstrom/vulnscan/internal/logging"
	"github.com/anstrom/vulnscan/internal/scanning"
	"github.com/anstrom/vulnscan/internal/store"
)

// Database drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

const (
	configDirPerm  = 0750
	configFilePerm = 0600
)

// Config represents the complete service configuration
type Config struct {
	// API server configuration
	API APIConfig `yaml:"api" json:"api"`

	// Database configuration
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Scanning configuration
	Scanning ScanningConfig `yaml:"scanning" json:"scanning"`

	// Notification configuration
	Notify NotifyConfig `yaml:"notify" json:"notify"`

	// Retention configuration
	Retention RetentionConfig `yaml:"retention" json:"retention"`

	// Logging configuration
	Logging logging.Config `yaml:"logging" json:"logging"`
}

// APIConfig holds API server settings
type APIConfig struct {
	// Listen address
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" validate:"required"`

	// Listen port
	Port int `yaml:"port" json:"port" validate:"min=1,max=65535"`

	// Server timeouts
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Maximum request body size
	MaxRequestSize int64 `yaml:"max_request_size" json:"max_request_size" validate:"min=0"`

	// CORS settings
	CORS CORSConfig `yaml:"cors" json:"cors"`

	// Per-client request rate limiting
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig holds per-client rate limiting settings
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Requests int           `yaml:"requests" json:"requests" validate:"min=0"`
	Window   time.Duration `yaml:"window" json:"window"`
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
}

// DatabaseConfig selects the job store and holds its connection settings.
type DatabaseConfig struct {
	// Driver is "memory" or "postgres"
	Driver string `yaml:"driver" json:"driver" validate:"oneof=memory postgres"`

	// AutoMigrate applies pending migrations on startup
	AutoMigrate bool `yaml:"auto_migrate" json:"auto_migrate"`

	store.Config `yaml:",inline"`
}

// ScanningConfig holds nmap and job execution settings
type ScanningConfig struct {
	// Path to the nmap binary, empty searches PATH
	NmapPath string `yaml:"nmap_path" json:"nmap_path"`

	// Number of most common ports to scan
	TopPorts int `yaml:"top_ports" json:"top_ports" validate:"min=1,max=65535"`

	// Enable service detection
	ServiceDetection bool `yaml:"service_detection" json:"service_detection"`

	// Timing template (0-5)
	Timing int `yaml:"timing" json:"timing" validate:"min=0,max=5"`

	// Minimum packet rate, 0 leaves nmap's default
	MinRate int `yaml:"min_rate" json:"min_rate" validate:"min=0"`

	// Probe retransmissions, -1 leaves nmap's default
	MaxRetries int `yaml:"max_retries" json:"max_retries" validate:"min=-1"`

	// Treat every target as up
	SkipHostDiscovery bool `yaml:"skip_host_discovery" json:"skip_host_discovery"`

	// Concurrently running scans, 0 is unbounded
	MaxConcurrentScans int `yaml:"max_concurrent_scans" json:"max_concurrent_scans" validate:"min=0"`

	// Maximum duration of a single scan
	ScanTimeout time.Duration `yaml:"scan_timeout" json:"scan_timeout"`

	// Pause between the first progress milestones
	CheckpointDelay time.Duration `yaml:"checkpoint_delay" json:"checkpoint_delay"`
}

// NotifyConfig holds websocket subscriber settings
type NotifyConfig struct {
	// Per-subscriber event queue capacity
	QueueSize int `yaml:"queue_size" json:"queue_size" validate:"min=1"`

	// Time allowed to write a message to a subscriber
	WriteWait time.Duration `yaml:"write_wait" json:"write_wait"`

	// Time allowed between pongs from a subscriber
	PongWait time.Duration `yaml:"pong_wait" json:"pong_wait"`

	// Largest inbound message accepted from a subscriber
	MaxMessageSize int64 `yaml:"max_message_size" json:"max_message_size" validate:"min=1"`
}

// RetentionConfig controls deletion of old finished jobs
type RetentionConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Cron expression (standard five fields or a descriptor such as @hourly)
	Schedule string `yaml:"schedule" json:"schedule"`

	// Finished jobs older than this are deleted
	MaxAge time.Duration `yaml:"max_age" json:"max_age"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	scan := scanning.DefaultOptions()
	exec := jobs.DefaultConfig()

	return &Config{
		API: APIConfig{
			ListenAddr:      "127.0.0.1",
			Port:            8000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxRequestSize:  1024 * 1024, // 1MB
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization"},
			},
			RateLimit: RateLimitConfig{
				Enabled:  false,
				Requests: 100,
				Window:   time.Minute,
			},
		},
		Database: DatabaseConfig{
			Driver:      DriverMemory,
			AutoMigrate: true,
			Config:      store.DefaultConfig(),
		},
		Scanning: ScanningConfig{
			TopPorts:           scan.TopPorts,
			ServiceDetection:   scan.ServiceDetection,
			Timing:             scan.Timing,
			MinRate:            scan.MinRate,
			MaxRetries:         scan.MaxRetries,
			MaxConcurrentScans: exec.MaxConcurrent,
			ScanTimeout:        exec.ScanTimeout,
			CheckpointDelay:    exec.CheckpointDelay,
		},
		Notify: NotifyConfig{
			QueueSize:      256,
			WriteWait:      10 * time.Second,
			PongWait:       60 * time.Second,
			MaxMessageSize: 512,
		},
		Retention: RetentionConfig{
			Enabled:  false,
			Schedule: "@hourly",
			MaxAge:   30 * 24 * time.Hour,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if stderrors.Is(err, os.ErrNotExist) {
		return config, nil
	}
	if err != nil {
		return nil, &errors.ConfigError{
			Code:    errors.CodeConfiguration,
			Message: "Failed to read config file",
			Field:   "path",
			Value:   path,
			Cause:   err,
		}
	}

	// YAML is a superset of JSON, so one decoder serves both.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, &errors.ConfigError{
			Code:    errors.CodeConfiguration,
			Message: fmt.Sprintf("Failed to parse config file %s", filepath.Base(path)),
			Cause:   err,
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

var validate = validator.New()

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("Invalid configuration value (rule: %s)", fe.Tag()), fe.Namespace(), fe.Value())
		}
		return &errors.ConfigError{Code: errors.CodeValidation, Message: "Invalid configuration", Cause: err}
	}

	if c.Database.Driver == DriverPostgres {
		if c.Database.Host == "" {
			return errors.NewConfigFieldError(errors.CodeValidation, "Database host is required", "database.host", "")
		}
		if c.Database.Database == "" {
			return errors.NewConfigFieldError(errors.CodeValidation, "Database name is required", "database.database", "")
		}
		if c.Database.Username == "" {
			return errors.NewConfigFieldError(errors.CodeValidation, "Database username is required", "database.username", "")
		}
	}

	if c.API.RateLimit.Enabled {
		if c.API.RateLimit.Requests <= 0 {
			return errors.ErrConfigInvalid("api.rate_limit.requests", c.API.RateLimit.Requests)
		}
		if c.API.RateLimit.Window <= 0 {
			return errors.ErrConfigInvalid("api.rate_limit.window", c.API.RateLimit.Window)
		}
	}

	if c.Scanning.ScanTimeout <= 0 {
		return errors.ErrConfigInvalid("scanning.scan_timeout", c.Scanning.ScanTimeout)
	}
	if c.Scanning.CheckpointDelay < 0 {
		return errors.ErrConfigInvalid("scanning.checkpoint_delay", c.Scanning.CheckpointDelay)
	}
	if c.Notify.WriteWait <= 0 {
		return errors.ErrConfigInvalid("notify.write_wait", c.Notify.WriteWait)
	}
	if c.Notify.PongWait <= 0 {
		return errors.ErrConfigInvalid("notify.pong_wait", c.Notify.PongWait)
	}

	if c.Retention.Enabled {
		if c.Retention.MaxAge <= 0 {
			return errors.ErrConfigInvalid("retention.max_age", c.Retention.MaxAge)
		}
		if _, err := cron.ParseStandard(c.Retention.Schedule); err != nil {
			cfgErr := errors.ErrConfigInvalid("retention.schedule", c.Retention.Schedule)
			cfgErr.Cause = err
			return cfgErr
		}
	}

	switch c.Logging.Level {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		return errors.ErrConfigInvalid("logging.level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case logging.FormatText, logging.FormatJSON:
	default:
		return errors.ErrConfigInvalid("logging.format", c.Logging.Format)
	}

	return nil
}

// Address returns the API listen address in host:port form.
func (c *Config) Address() string {
	return net.JoinHostPort(c.API.ListenAddr, strconv.Itoa(c.API.Port))
}

// ScannerOptions converts the scanning section into nmap options.
func (s ScanningConfig) ScannerOptions() scanning.Options {
	return scanning.Options{
		TopPorts:          s.TopPorts,
		ServiceDetection:  s.ServiceDetection,
		Timing:            s.Timing,
		MinRate:           s.MinRate,
		MaxRetries:        s.MaxRetries,
		SkipHostDiscovery: s.SkipHostDiscovery,
		BinaryPath:        s.NmapPath,
	}
}

// JobConfig converts the scanning section into orchestrator settings.
func (c *Config) JobConfig() jobs.Config {
	return jobs.Config{
		MaxConcurrent:   c.Scanning.MaxConcurrentScans,
		ScanTimeout:     c.Scanning.ScanTimeout,
		CheckpointDelay: c.Scanning.CheckpointDelay,
		ShutdownTimeout: c.API.ShutdownTimeout,
	}
}
