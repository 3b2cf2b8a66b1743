package config

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	Server struct {
		Port        int      `env:"SERVER_PORT" envDefault:"5250"`
		CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	}

	Data struct {
		// Directory holding the historical partitions and reference tables
		Dir string `env:"DATA_DIR" envDefault:"data"`

		// Historical partition file names, relative to Dir
		Partitions []string `env:"DATA_PARTITIONS" envSeparator:","`

		// Parquet snapshot of previously fetched remote extracts
		SnapshotFile string `env:"DATA_SNAPSHOT_FILE" envDefault:"resale-snapshot.parquet"`

		// Address -> coordinate reference table
		CoordinatesFile string `env:"DATA_COORDINATES_FILE" envDefault:"coordinates.csv"`

		// Planning area boundary document (GeoJSON)
		BoundariesFile string `env:"DATA_BOUNDARIES_FILE" envDefault:"planning-areas.geojson"`

		// Directory for the geocode cache
		CacheDir string `env:"DATA_CACHE_DIR" envDefault:""`
	}

	Remote struct {
		Enabled           bool   `env:"REMOTE_ENABLED" envDefault:"false"`
		DatastoreURL      string `env:"REMOTE_DATASTORE_URL" envDefault:"https://data.gov.sg/api/action/datastore_search"`
		ResourceID        string `env:"REMOTE_RESOURCE_ID" envDefault:"d_8b84c4ee58e3cfc0ece0d773c8ca6abc"`
		DownloadURL       string `env:"REMOTE_DOWNLOAD_URL" envDefault:"https://api-open.data.gov.sg/v1/public/api/datasets"`
		BoundaryDatasetID string `env:"REMOTE_BOUNDARY_DATASET_ID" envDefault:"d_4765db0e87b9c86336792efe8a1f7a66"`
		GeocodeURL        string `env:"REMOTE_GEOCODE_URL" envDefault:"https://www.onemap.gov.sg/api/common/elastic/search"`
		GeocodeEnabled    bool   `env:"REMOTE_GEOCODE_ENABLED" envDefault:"false"`
		PageSize          int    `env:"REMOTE_PAGE_SIZE" envDefault:"1000"`
		TimeoutSeconds    int    `env:"REMOTE_TIMEOUT" envDefault:"30"`
		MaxRetries        int    `env:"REMOTE_MAX_RETRIES" envDefault:"3"`
	}

	Cache struct {
		// Time-to-live of memoized loads, in seconds (about a month)
		TTLSeconds int `env:"CACHE_TTL" envDefault:"2592000"`
	}

	Database struct {
		DSN string `env:"DATABASE_DSN" envDefault:"file::memory:?cache=shared"`
	}

	BatchProcessing struct {
		// Maximum number of transactions written per database transaction
		MaxBatchSize int `env:"BATCH_MAX_SIZE" envDefault:"1000"`

		// Maximum number of retries for failed batches
		MaxRetries int `env:"BATCH_MAX_RETRIES" envDefault:"3"`

		// Delay between retries in seconds
		RetryDelay int `env:"BATCH_RETRY_DELAY" envDefault:"1"`
	}

	Loader struct {
		// Number of partitions read concurrently
		PoolSize int `env:"LOADER_POOL_SIZE" envDefault:"4"`
	}

	Refresh struct {
		// Interval between scheduled reloads in seconds, 0 disables
		IntervalSeconds int `env:"REFRESH_INTERVAL" envDefault:"86400"`
	}
}

// LoadConfig reads an optional .env file and then the environment.
func LoadConfig(envFiles ...string) (*Config, error) {
	_ = godotenv.Load(envFiles...)

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if len(cfg.Data.Partitions) == 0 {
		cfg.Data.Partitions = append([]string(nil), DefaultPartitions...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.BatchProcessing.MaxBatchSize <= 0 {
		return errors.New("batch max size must be positive")
	}
	if c.BatchProcessing.MaxRetries < 0 {
		return errors.New("batch max retries must not be negative")
	}
	if c.Cache.TTLSeconds <= 0 {
		return errors.New("cache ttl must be positive")
	}
	if c.Loader.PoolSize <= 0 {
		return errors.New("loader pool size must be positive")
	}
	if c.Remote.Enabled && c.Remote.PageSize <= 0 {
		return errors.New("remote page size must be positive")
	}
	return nil
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Refresh.IntervalSeconds) * time.Second
}

func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutSeconds) * time.Second
}

// PartitionPaths returns the partition files resolved against the data dir.
func (c *Config) PartitionPaths() []string {
	paths := make([]string, len(c.Data.Partitions))
	for i, name := range c.Data.Partitions {
		paths[i] = c.dataPath(name)
	}
	return paths
}

func (c *Config) SnapshotPath() string    { return c.dataPath(c.Data.SnapshotFile) }
func (c *Config) CoordinatesPath() string { return c.dataPath(c.Data.CoordinatesFile) }
func (c *Config) BoundariesPath() string  { return c.dataPath(c.Data.BoundariesFile) }

func (c *Config) dataPath(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Data.Dir, name)
}
