package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/vulnscan/internal/config"
	"github.com/anstrom/vulnscan/internal/logging"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestGetConfigFilePath(t *testing.T) {
	tests := []struct {
		name           string
		viperConfigSet string
		expectedResult string
	}{
		{
			name:           "returns default when no config file set",
			expectedResult: "config.yaml",
		},
		{
			name:           "returns viper config file when set",
			viperConfigSet: "/path/to/custom-config.yaml",
			expectedResult: "/path/to/custom-config.yaml",
		},
		{
			name:           "returns relative path when viper has relative path",
			viperConfigSet: "custom-config.yaml",
			expectedResult: "custom-config.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper(t)
			if tt.viperConfigSet != "" {
				viper.SetConfigFile(tt.viperConfigSet)
			}
			assert.Equal(t, tt.expectedResult, getConfigFilePath())
		})
	}
}

func TestLoadConfig_FileAndOverrides(t *testing.T) {
	resetViper(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
api:
  listen_addr: 0.0.0.0
  port: 8100
scanning:
  top_ports: 200
logging:
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	viper.SetConfigFile(path)

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.API.ListenAddr)
	assert.Equal(t, 8100, cfg.API.Port)
	assert.Equal(t, 200, cfg.Scanning.TopPorts)
	assert.Equal(t, logging.LevelWarn, cfg.Logging.Level)

	viper.Set("api.port", 9100)
	viper.Set("logging.level", "debug")
	cfg, err = loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.API.Port)
	assert.Equal(t, logging.LevelDebug, cfg.Logging.Level)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	resetViper(t)
	viper.SetConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	t.Setenv("VULNSCAN_API_PORT", "9200")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.API.Port)
}

func TestLoadConfig_InvalidOverride(t *testing.T) {
	resetViper(t)
	viper.SetConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	viper.Set("database.driver", "mysql")

	_, err := loadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	resetViper(t)
	viper.SetConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, config.Default().API.Port, cfg.API.Port)
	assert.Equal(t, config.DriverMemory, cfg.Database.Driver)
}

func TestRootCommandTree(t *testing.T) {
	want := map[string][]string{
		"server":  nil,
		"scan":    nil,
		"jobs":    {"list", "status", "start", "abort"},
		"migrate": {"up", "status"},
	}

	for name, subs := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
		for _, sub := range subs {
			found, _, err := rootCmd.Find([]string{name, sub})
			require.NoError(t, err, "%s %s", name, sub)
			assert.Equal(t, sub, found.Name())
		}
	}
}

func TestSetVersion(t *testing.T) {
	SetVersion("1.0.0", "abc", "today")
	t.Cleanup(func() { SetVersion("dev", "none", "unknown") })

	assert.Equal(t, "1.0.0 (commit: abc, built: today)", rootCmd.Version)
}
