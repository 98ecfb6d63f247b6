package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bpindex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsWithoutPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoad_OverridesOnlyGivenFields(t *testing.T) {
	path := writeConfig(t, `
logger:
  level: debug
index:
  default_order: 16
  backup_rate_bytes_per_sec: 1048576
telemetry:
  enabled: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format, "unset field keeps its default")
	assert.Equal(t, 16, cfg.Index.DefaultOrder)
	assert.Equal(t, int64(1<<20), cfg.Index.BackupRateBytesPerSec)
	assert.True(t, cfg.Index.CompressSnapshots)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "bpindex", cfg.Telemetry.ServiceName)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]string{
		"unknown key":    "index:\n  fanout: 3\n",
		"order too low":  "index:\n  default_order: 1\n",
		"order too high": "index:\n  default_order: 70000\n",
		"negative rate":  "index:\n  backup_rate_bytes_per_sec: -5\n",
		"bad log level":  "logger:\n  level: loud\n",
		"bad log format": "logger:\n  format: xml\n",
		"bad port":       "telemetry:\n  enabled: true\n  prometheus_port: 70000\n",
		"not yaml":       "index: [unterminated\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}
