package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "info", config.LogLevel)
	assert.Equal(t, "console", config.LogFormat)
	assert.Equal(t, 10, config.Runtime.GrowthIncrement)
	assert.Zero(t, config.Runtime.MemoryLimit)
	assert.Zero(t, config.Runtime.MaxDepth)
	assert.Empty(t, config.Runtime.MetricsAddr)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classrt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
runtime:
  memory_limit: 4096
  growth_increment: 4
  metrics_addr: 127.0.0.1:9102
`), 0o600))
	t.Setenv("CLASSRT_RUNTIME_MAX_DEPTH", "32")
	t.Setenv("CLASSRT_LOG_FORMAT", "json")

	config, err := LoadConfig(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "debug", config.LogLevel)
	assert.Equal(t, "json", config.LogFormat)
	assert.Equal(t, uint64(4096), config.Runtime.MemoryLimit)
	assert.Equal(t, 4, config.Runtime.GrowthIncrement)
	assert.Equal(t, 32, config.Runtime.MaxDepth)
	assert.Equal(t, "127.0.0.1:9102", config.Runtime.MetricsAddr)
}

func TestLoadConfigMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	_, err := LoadConfig(viper.New(), path)
	require.Error(t, err, "an explicitly named config file must exist")
	assert.Contains(t, err.Error(), path)
	assert.NotEmpty(t, cerr.FlattenHints(err))
}

func TestLoadConfigWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	config, err := LoadConfig(viper.New(), "")
	require.NoError(t, err, "classrt.yaml is optional")
	assert.Equal(t, "info", config.LogLevel)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "classrt.yaml"), []byte("log_level: warn\n"), 0o600))
	config, err = LoadConfig(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "warn", config.LogLevel)
}

func TestLoadConfigInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("runtime: [unclosed"), 0o600))

	_, err := LoadConfig(viper.New(), path)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level, format string
		want          zapcore.Level
		wantErr       bool
	}{
		{"debug", "console", zapcore.DebugLevel, false},
		{"warn", "json", zapcore.WarnLevel, false},
		{"info", "", zapcore.InfoLevel, false},
		{"loud", "console", 0, true},
		{"info", "xml", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.want))
			assert.False(t, logger.Core().Enabled(tt.want-1))
		})
	}
}

func TestPrintVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintVersion(&buf, "classinfo", false))
	assert.Contains(t, buf.String(), "classinfo v"+Version)
	assert.Contains(t, buf.String(), "Build Date: "+BuildDate)
	assert.NotContains(t, buf.String(), "Commit:")

	buf.Reset()
	require.NoError(t, PrintVersion(&buf, "classinfo", true))
	var payload struct {
		Tool        string      `json:"tool"`
		VersionInfo VersionInfo `json:"version_info"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &payload))
	assert.Equal(t, "classinfo", payload.Tool)
	assert.Equal(t, Version, payload.VersionInfo.Version)
}
