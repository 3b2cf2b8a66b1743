package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 5250, cfg.Server.Port)
	assert.Equal(t, DefaultPartitions, cfg.Data.Partitions)
	assert.Equal(t, 30*24*time.Hour, cfg.CacheTTL())
	assert.Equal(t, 1000, cfg.BatchProcessing.MaxBatchSize)
	assert.False(t, cfg.Remote.Enabled)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DATA_DIR", "/srv/hdb")
	t.Setenv("DATA_PARTITIONS", "a.csv,b.csv")
	t.Setenv("CACHE_TTL", "60")
	t.Setenv("BATCH_MAX_SIZE", "10")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, []string{"/srv/hdb/a.csv", "/srv/hdb/b.csv"}, cfg.PartitionPaths())
	assert.Equal(t, "/srv/hdb/coordinates.csv", cfg.CoordinatesPath())
	assert.Equal(t, time.Minute, cfg.CacheTTL())
	assert.Equal(t, 10, cfg.BatchProcessing.MaxBatchSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "Zero batch size", mutate: func(c *Config) { c.BatchProcessing.MaxBatchSize = 0 }},
		{name: "Negative retries", mutate: func(c *Config) { c.BatchProcessing.MaxRetries = -1 }},
		{name: "Zero ttl", mutate: func(c *Config) { c.Cache.TTLSeconds = 0 }},
		{name: "Zero pool", mutate: func(c *Config) { c.Loader.PoolSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
