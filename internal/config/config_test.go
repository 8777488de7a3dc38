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
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
data_dir: /srv/craft
channel: snapshot
catalog:
  url: https://index.example
  timeout: 5s
download:
  parallelism: 8
  initial_backoff: 250ms
  max_backoff: 2s
  disable_delta: true
launch:
  executable: /usr/bin/java
  args: ["-Xmx4G", "-jar", "${instance_dir}/client.jar"]
preserve:
  - options.txt
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/craft", cfg.DataDir)
	assert.Equal(t, "snapshot", cfg.Channel)
	assert.Equal(t, "https://index.example", cfg.Catalog.URL)
	assert.Equal(t, 5*time.Second, cfg.Catalog.Timeout)
	assert.Equal(t, 64, cfg.Catalog.CacheSize)
	assert.Equal(t, 8, cfg.Download.Parallelism)
	assert.Equal(t, 3, cfg.Download.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Download.InitialBackoff)
	assert.Equal(t, 2*time.Second, cfg.Download.MaxBackoff)
	assert.True(t, cfg.Download.DisableDelta)
	assert.Equal(t, "/usr/bin/java", cfg.Launch.Executable)
	assert.Equal(t, []string{"-Xmx4G", "-jar", "${instance_dir}/client.jar"}, cfg.Launch.Args)
	assert.Equal(t, []string{"options.txt"}, cfg.Preserve)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.Equal(t, filepath.Join("/srv/craft", "launcher.db"), cfg.DBPath())
	assert.Equal(t, filepath.Join("/srv/craft", "instances"), cfg.InstancesDir())
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "release", cfg.Channel)
	assert.Equal(t, 4, cfg.Download.Parallelism)
	assert.Equal(t, 3, cfg.Download.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Download.InitialBackoff)
	assert.Equal(t, 8*time.Second, cfg.Download.MaxBackoff)
	assert.Contains(t, cfg.Preserve, "saves/")
	assert.NotEmpty(t, cfg.DataDir)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "data_dir: /from/file\n")
	t.Setenv("CRAFTLAUNCHER_DATA_DIR", "/from/env")
	t.Setenv("CRAFTLAUNCHER_DOWNLOAD_PARALLELISM", "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.DataDir)
	assert.Equal(t, 2, cfg.Download.Parallelism)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown channel", content: "channel: nightly\n"},
		{name: "backoff inverted", content: "download:\n  initial_backoff: 10s\n  max_backoff: 1s\n"},
		{name: "malformed yaml", content: "catalog: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
