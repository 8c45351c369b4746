package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[memgraph]
uri = "bolt://graph:7687"

[database]
driver = "postgres"
dsn = "postgres://crosscheck@db/crosscheck"

[detection]
recency_window_days = 14

[scheduler]
enabled = true
interval = "5m"
engagements = ["6f1c1e0e-2b7a-4c59-9d59-3f0f4b1c2a10"]
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bolt://graph:7687", cfg.Memgraph.URI)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 14, cfg.Detection.RecencyWindowDays)
	assert.Equal(t, 500, cfg.Detection.QueryLimit)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.Interval.Duration)
	assert.Equal(t, 48*time.Hour, cfg.Scheduler.EscalationThreshold.Duration)
	assert.Equal(t, "1.0.0", cfg.Classifier.Version)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"MEMGRAPH_URI":          "bolt://env:7687",
		"DATABASE_DRIVER":       "memory",
		"PORT":                  "9090",
		"RECENCY_WINDOW_DAYS":   "7",
		"SCHEDULER_ENGAGEMENTS": " a , b,,",
	}
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))

	assert.Equal(t, "bolt://env:7687", cfg.Memgraph.URI)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 7, cfg.Detection.RecencyWindowDays)
	assert.Equal(t, []string{"a", "b"}, cfg.Scheduler.Engagements)
	assert.True(t, cfg.Scheduler.Enabled)
}

func TestApplyEnvRejectsBadNumbers(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(func(k string) string {
		if k == "RECENCY_WINDOW_DAYS" {
			return "soon"
		}
		return ""
	})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, false},
		{"memory needs no dsn", func(c *Config) { c.Database.Driver = "memory"; c.Database.DSN = "" }, true},
		{"sqlite needs dsn", func(c *Config) { c.Database.DSN = "" }, false},
		{"zero window", func(c *Config) { c.Detection.RecencyWindowDays = 0 }, false},
		{"negative limit", func(c *Config) { c.Detection.QueryLimit = -1 }, false},
		{"enabled scheduler without interval", func(c *Config) {
			c.Scheduler.Enabled = true
			c.Scheduler.Interval = Duration{}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestShippedConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load("../../config/config.toml")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	def := Default()
	assert.Equal(t, def.Database, cfg.Database)
	assert.Equal(t, def.Detection, cfg.Detection)
	assert.Equal(t, def.Scheduler.Interval, cfg.Scheduler.Interval)
	assert.Equal(t, def.Scheduler.EscalationThreshold, cfg.Scheduler.EscalationThreshold)
	assert.Equal(t, def.Server.Port, cfg.Server.Port)
}
