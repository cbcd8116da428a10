package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anstrom/vulnscan/internal/errors"
	"github.com/anstrom/vulnscan/internal/logging"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr bool
		check   func(t *testing.T, c *Config)
	}{
		{
			name: "valid yaml config",
			file: "config.yaml",
			content: `
api:
  listen_addr: 0.0.0.0
  port: 9000
database:
  driver: postgres
  host: db.internal
  port: 5432
  database: vulnscan
  username: scanner
  password: secret
  ssl_mode: require
scanning:
  top_ports: 100
  max_concurrent_scans: 5
  scan_timeout: 2m
retention:
  enabled: true
  schedule: "0 3 * * *"
  max_age: 168h
`,
			check: func(t *testing.T, c *Config) {
				if c.Address() != "0.0.0.0:9000" {
					t.Errorf("Address() = %s", c.Address())
				}
				if c.Database.Driver != DriverPostgres || c.Database.Host != "db.internal" {
					t.Errorf("database = %+v", c.Database)
				}
				if c.Scanning.TopPorts != 100 || c.Scanning.ScanTimeout != 2*time.Minute {
					t.Errorf("scanning = %+v", c.Scanning)
				}
				if c.Retention.MaxAge != 7*24*time.Hour {
					t.Errorf("retention max_age = %s", c.Retention.MaxAge)
				}
				// Unset fields keep their defaults.
				if c.Notify.QueueSize != 256 {
					t.Errorf("notify queue_size = %d, want default 256", c.Notify.QueueSize)
				}
			},
		},
		{
			name: "valid json config",
			file: "config.json",
			content: `{
				"database": {"driver": "memory"},
				"scanning": {"max_concurrent_scans": 0}
			}`,
			check: func(t *testing.T, c *Config) {
				if c.Scanning.MaxConcurrentScans != 0 {
					t.Errorf("max_concurrent_scans = %d, want 0", c.Scanning.MaxConcurrentScans)
				}
			},
		},
		{
			name:    "invalid yaml syntax",
			file:    "config.yaml",
			content: "api:\n  port: [not a port\n",
			wantErr: true,
		},
		{
			name:    "postgres without database name",
			file:    "config.yaml",
			content: "database:\n  driver: postgres\n  username: scanner\n",
			wantErr: true,
		},
		{
			name:    "unknown driver",
			file:    "config.yaml",
			content: "database:\n  driver: sqlite\n",
			wantErr: true,
		},
		{
			name:    "bad retention schedule",
			file:    "config.yaml",
			content: "retention:\n  enabled: true\n  schedule: every tuesday\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Load(writeConfig(t, tt.file, tt.content))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, c)
			}
		})
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.Database.Driver != DriverMemory {
		t.Errorf("driver = %s, want memory", c.Database.Driver)
	}
}

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}

	opts := c.Scanning.ScannerOptions()
	if opts.TopPorts != 50 || opts.Timing != 4 || opts.MinRate != 1000 || opts.MaxRetries != 2 || !opts.ServiceDetection {
		t.Errorf("default scanner options = %+v", opts)
	}

	jc := c.JobConfig()
	if jc.MaxConcurrent != 3 || jc.ScanTimeout != 5*time.Minute {
		t.Errorf("default job config = %+v", jc)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"port out of range", func(c *Config) { c.API.Port = 70000 }, "Config.API.Port"},
		{"timing out of range", func(c *Config) { c.Scanning.Timing = 9 }, "Config.Scanning.Timing"},
		{"negative concurrency", func(c *Config) { c.Scanning.MaxConcurrentScans = -1 }, "Config.Scanning.MaxConcurrentScans"},
		{"zero queue", func(c *Config) { c.Notify.QueueSize = 0 }, "Config.Notify.QueueSize"},
		{"zero scan timeout", func(c *Config) { c.Scanning.ScanTimeout = 0 }, "scanning.scan_timeout"},
		{"negative checkpoint", func(c *Config) { c.Scanning.CheckpointDelay = -time.Second }, "scanning.checkpoint_delay"},
		{"retention without age", func(c *Config) {
			c.Retention.Enabled = true
			c.Retention.MaxAge = 0
		}, "retention.max_age"},
		{"rate limit without requests", func(c *Config) {
			c.API.RateLimit.Enabled = true
			c.API.RateLimit.Requests = 0
		}, "api.rate_limit.requests"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = logging.LogFormat("xml") }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)

			err := c.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if code := errors.GetCode(err); code != errors.CodeValidation {
				t.Errorf("code = %s, want %s", code, errors.CodeValidation)
			}
			var cfgErr *errors.ConfigError
			if !asConfigError(err, &cfgErr) || cfgErr.Field != tt.field {
				t.Errorf("field = %v, want %s", err, tt.field)
			}
		})
	}
}

func asConfigError(err error, target **errors.ConfigError) bool {
	ce, ok := err.(*errors.ConfigError)
	if ok {
		*target = ce
	}
	return ok
}

func TestSaveRoundTrip(t *testing.T) {
	c := Default()
	c.Database.Driver = DriverPostgres
	c.Database.Database = "vulnscan"
	c.Database.Username = "scanner"
	c.Retention.Enabled = true

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := c.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Database.Database != "vulnscan" || !loaded.Retention.Enabled {
		t.Errorf("round trip lost values: %+v", loaded)
	}
	if loaded.Scanning.ScanTimeout != c.Scanning.ScanTimeout {
		t.Errorf("scan_timeout = %s, want %s", loaded.Scanning.ScanTimeout, c.Scanning.ScanTimeout)
	}
}
