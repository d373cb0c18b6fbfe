// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8088", cfg.Listen)
	assert.Equal(t, 10*time.Minute, cfg.Quote.TTL)
	assert.Equal(t, 4, cfg.Workflow.Workers)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quoteflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
quote:
  ttl: 5m
  safety_margin: 0.1
workflow:
  workers: 2
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, 5*time.Minute, cfg.Quote.TTL)
	assert.Equal(t, 0.1, cfg.Quote.SafetyMargin)
	assert.Equal(t, 2, cfg.Workflow.Workers)
	// Untouched sections keep their defaults.
	assert.Equal(t, 30*time.Minute, cfg.SLA.Window)
}

func TestUnknownFileKeysRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quoteflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listne: \":9000\"\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quoteflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \":9000\"\n"), 0o600))
	t.Setenv("QF_LISTEN", ":9100")
	t.Setenv("QF_QUOTE_TTL", "2m")
	t.Setenv("QF_WORKERS", "8")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Listen)
	assert.Equal(t, 2*time.Minute, cfg.Quote.TTL)
	assert.Equal(t, 8, cfg.Workflow.Workers)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Listen = ""
	cfg.Log.Level = "loud"
	cfg.Quote.SafetyMargin = 3
	cfg.Workflow.Workers = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
	assert.Contains(t, err.Error(), "log.level")
	assert.Contains(t, err.Error(), "safety_margin")
	assert.Contains(t, err.Error(), "workers")
}
