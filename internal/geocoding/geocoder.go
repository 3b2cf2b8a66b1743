package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hdbresale/server/internal/fetch"
	"hdbresale/server/internal/models"
)

var ErrAddressNotFound = errors.New("address not found")

const cacheFileName = "geocode_cache.json"

type Options struct {
	// CacheDir holds geocode_cache.json; empty disables the disk cache.
	CacheDir string

	// SearchURL is the OneMap search endpoint; empty disables remote lookups.
	SearchURL string

	// Delay between remote lookups.
	Delay time.Duration

	// Remote performs the search requests. Defaults to a fetch.Client, which
	// retries rate-limit and server errors.
	Remote Getter
}

type Getter interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

// Geocoder maps addresses to coordinates. The reference table is consulted
// first, then the cache of earlier remote lookups, then the search API.
type Geocoder struct {
	logger    *logrus.Logger
	opts      Options
	reference map[string]models.Coordinate
	cache     map[string][]float64
	cacheLock sync.RWMutex
	remote    Getter
}

func NewGeocoder(logger *logrus.Logger, reference map[string]models.Coordinate, opts Options) *Geocoder {
	if logger == nil {
		logger = logrus.New()
	}
	if reference == nil {
		reference = make(map[string]models.Coordinate)
	}

	g := &Geocoder{
		logger:    logger,
		opts:      opts,
		reference: reference,
		cache:     make(map[string][]float64),
		remote:    opts.Remote,
	}
	if g.remote == nil {
		g.remote = fetch.NewClient(fetch.Config{Timeout: 10 * time.Second, MaxRetries: 3}, logger)
	}

	if opts.CacheDir != "" {
		if err := os.MkdirAll(opts.CacheDir, 0755); err != nil {
			logger.WithError(err).Warn("Could not create geocode cache directory")
		}
		g.loadCache()
	}

	return g
}

func (g *Geocoder) loadCache() {
	cacheFile := filepath.Join(g.opts.CacheDir, cacheFileName)
	data, err := os.ReadFile(cacheFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			g.logger.Warnf("Could not load geocode cache: %v", err)
		}
		return
	}

	if err := json.Unmarshal(data, &g.cache); err != nil {
		g.logger.Errorf("Failed to parse geocode cache: %v", err)
		return
	}

	g.logger.Infof("Loaded %d cached addresses", len(g.cache))
}

// SaveCache writes remote lookups to disk.
func (g *Geocoder) SaveCache() error {
	if g.opts.CacheDir == "" {
		return nil
	}

	g.cacheLock.RLock()
	data, err := json.Marshal(g.cache)
	g.cacheLock.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal geocode cache: %w", err)
	}

	cacheFile := filepath.Join(g.opts.CacheDir, cacheFileName)
	if err := os.WriteFile(cacheFile, data, 0644); err != nil {
		return fmt.Errorf("failed to save geocode cache: %w", err)
	}
	return nil
}

// Lookup resolves an address key without touching the network.
func (g *Geocoder) Lookup(key string) (models.Coordinate, bool) {
	if coord, ok := g.reference[key]; ok {
		return coord, true
	}

	g.cacheLock.RLock()
	defer g.cacheLock.RUnlock()
	if coords, ok := g.cache[key]; ok && len(coords) == 2 {
		return models.Coordinate{Latitude: coords[0], Longitude: coords[1]}, true
	}
	return models.Coordinate{}, false
}

type oneMapResponse struct {
	Found   int `json:"found"`
	Results []struct {
		Latitude  string `json:"LATITUDE"`
		Longitude string `json:"LONGITUDE"`
	} `json:"results"`
}

// Geocode resolves block and street, falling back to the search API when
// the address is neither in the reference table nor cached.
func (g *Geocoder) Geocode(ctx context.Context, block, street string) (models.Coordinate, error) {
	key := models.AddressKey(block, street)
	if coord, ok := g.Lookup(key); ok {
		return coord, nil
	}
	if g.opts.SearchURL == "" {
		return models.Coordinate{}, fmt.Errorf("%w: %s", ErrAddressNotFound, key)
	}

	if g.opts.Delay > 0 {
		select {
		case <-ctx.Done():
			return models.Coordinate{}, ctx.Err()
		case <-time.After(g.opts.Delay):
		}
	}

	params := url.Values{
		"searchVal":      []string{key},
		"returnGeom":     []string{"Y"},
		"getAddrDetails": []string{"N"},
		"pageNum":        []string{"1"},
	}

	body, err := g.remote.Get(ctx, g.opts.SearchURL+"?"+params.Encode())
	if err != nil {
		g.logger.WithError(err).WithField("address", key).Error("Geocoding request failed")
		return models.Coordinate{}, fmt.Errorf("geocoding request failed: %w", err)
	}

	var result oneMapResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return models.Coordinate{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result.Results) == 0 {
		g.logger.WithField("address", key).Warn("No results found")
		return models.Coordinate{}, fmt.Errorf("%w: %s", ErrAddressNotFound, key)
	}

	lat, latErr := strconv.ParseFloat(result.Results[0].Latitude, 64)
	lon, lonErr := strconv.ParseFloat(result.Results[0].Longitude, 64)
	if latErr != nil || lonErr != nil {
		return models.Coordinate{}, fmt.Errorf("failed to parse coordinates for %s", key)
	}

	g.logger.WithFields(logrus.Fields{
		"address":   key,
		"latitude":  lat,
		"longitude": lon,
		"source":    "onemap",
	}).Debug("Geocoded address")

	g.cacheLock.Lock()
	g.cache[key] = []float64{lat, lon}
	g.cacheLock.Unlock()

	return models.Coordinate{Latitude: lat, Longitude: lon}, nil
}

// EnrichRecords fills latitude and longitude on records that lack them,
// geocoding each distinct address once. It returns the number of records
// that gained coordinates.
func (g *Geocoder) EnrichRecords(ctx context.Context, records []models.Transaction) (int, error) {
	type outcome struct {
		coord models.Coordinate
		ok    bool
	}
	seen := make(map[string]outcome)

	enriched := 0
	for i := range records {
		rec := &records[i]
		if rec.Latitude != nil && rec.Longitude != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return enriched, err
		}

		key := models.AddressKey(rec.Block, rec.StreetName)
		res, done := seen[key]
		if !done {
			coord, err := g.Geocode(ctx, rec.Block, rec.StreetName)
			if err != nil && !errors.Is(err, ErrAddressNotFound) {
				g.logger.WithError(err).WithField("address", key).Debug("Failed to geocode address")
			}
			res = outcome{coord: coord, ok: err == nil}
			seen[key] = res
		}
		if !res.ok {
			continue
		}

		lat, lon := res.coord.Latitude, res.coord.Longitude
		rec.Latitude = &lat
		rec.Longitude = &lon
		enriched++
	}

	if err := g.SaveCache(); err != nil {
		g.logger.WithError(err).Error("Failed to save geocode cache")
	}
	return enriched, nil
}
