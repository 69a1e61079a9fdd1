package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENUSAGE_APP_DATA_DIR", "/tmp/openusage-test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/openusage-test", cfg.AppDataDir)
	assert.Equal(t, filepath.Join("/tmp/openusage-test", "plugins"), cfg.PluginDir)
	assert.Equal(t, "127.0.0.1:6736", cfg.Listen)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout())
	assert.Equal(t, 5*time.Minute, cfg.RefreshInterval())
	assert.Equal(t, filepath.Join("/tmp/openusage-test", "openusage.db"), cfg.DatabasePath())
	assert.True(t, cfg.Tray)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
app_data_dir: /srv/openusage
plugin_dir: /opt/plugins
listen: "0.0.0.0:9000"
refresh_interval_seconds: 0
tray: false
http:
  timeout_ms: 2500
logging:
  level: debug
  format: json
  file: /var/log/openusage.log
  max_size_mb: 5
cliproxy:
  base_url: "https://proxy.example.com/"
  api_key: " key "
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/opt/plugins", cfg.PluginDir)
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, time.Duration(0), cfg.RefreshInterval())
	assert.False(t, cfg.Tray)
	assert.Equal(t, 2500*time.Millisecond, cfg.HTTPTimeout())
	assert.Equal(t, "https://proxy.example.com", cfg.CLIProxy.BaseURL)
	assert.Equal(t, "key", cfg.CLIProxy.APIKey)

	lc := cfg.LoggerConfig()
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, "json", lc.Format)
	assert.Equal(t, "/var/log/openusage.log", lc.File)
	assert.Equal(t, 5, lc.MaxSizeMB)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "app_data_dir: /srv/openusage\nlisten: \"127.0.0.1:1\"\n")
	t.Setenv("OPENUSAGE_LISTEN", "127.0.0.1:7000")
	t.Setenv("OPENUSAGE_HTTP_TIMEOUT_MS", "500")
	t.Setenv("OPENUSAGE_TRAY", "false")
	t.Setenv("OPENUSAGE_CLIPROXY_API_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.Listen)
	assert.Equal(t, 500*time.Millisecond, cfg.HTTPTimeout())
	assert.False(t, cfg.Tray)
	assert.Equal(t, "from-env", cfg.CLIProxy.APIKey)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
	}{
		{"invalid yaml", "listen: [", nil},
		{"bad listen", "app_data_dir: /x\nlisten: nowhere\n", nil},
		{"bad log level", "app_data_dir: /x\nlogging:\n  level: loud\n", nil},
		{"negative timeout", "app_data_dir: /x\nhttp:\n  timeout_ms: -1\n", nil},
		{"bad cliproxy url", "app_data_dir: /x\ncliproxy:\n  base_url: not-a-url\n", nil},
		{"bad int env", "app_data_dir: /x\n", map[string]string{"OPENUSAGE_HTTP_TIMEOUT_MS": "soon"}},
		{"bad bool env", "app_data_dir: /x\n", map[string]string{"OPENUSAGE_TRAY": "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
