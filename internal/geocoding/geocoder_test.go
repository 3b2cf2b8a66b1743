package geocoding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdbresale/server/internal/fetch"
	"hdbresale/server/internal/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func oneMapServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		switch r.URL.Query().Get("searchVal") {
		case "101 WOODLANDS ST 11":
			fmt.Fprint(w, `{"found":1,"results":[{"LATITUDE":"1.4331","LONGITUDE":"103.7790"}]}`)
		default:
			fmt.Fprint(w, `{"found":0,"results":[]}`)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestGeocodeReferenceTable(t *testing.T) {
	reference := map[string]models.Coordinate{
		"309 ANG MO KIO AVE 1": {Latitude: 1.3665, Longitude: 103.8441},
	}
	g := NewGeocoder(quietLogger(), reference, Options{})

	coord, err := g.Geocode(context.Background(), "309", "ang mo kio  ave 1")
	require.NoError(t, err)
	assert.Equal(t, reference["309 ANG MO KIO AVE 1"], coord)

	_, err = g.Geocode(context.Background(), "1", "NOWHERE RD")
	assert.True(t, errors.Is(err, ErrAddressNotFound))
}

func TestGeocodeRemoteAndDiskCache(t *testing.T) {
	var hits int32
	server := oneMapServer(t, &hits)
	cacheDir := t.TempDir()

	g := NewGeocoder(quietLogger(), nil, Options{CacheDir: cacheDir, SearchURL: server.URL})
	coord, err := g.Geocode(context.Background(), "101", "WOODLANDS ST 11")
	require.NoError(t, err)
	assert.InDelta(t, 1.4331, coord.Latitude, 1e-9)
	require.NoError(t, g.SaveCache())

	// A fresh geocoder reads the cache from disk and skips the network.
	reloaded := NewGeocoder(quietLogger(), nil, Options{CacheDir: cacheDir, SearchURL: server.URL})
	coord, err = reloaded.Geocode(context.Background(), "101", "WOODLANDS ST 11")
	require.NoError(t, err)
	assert.InDelta(t, 103.7790, coord.Longitude, 1e-9)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	_, err = g.Geocode(context.Background(), "9", "UNKNOWN ST")
	assert.True(t, errors.Is(err, ErrAddressNotFound))
}

func TestEnrichRecordsGeocodesEachAddressOnce(t *testing.T) {
	var hits int32
	server := oneMapServer(t, &hits)
	g := NewGeocoder(quietLogger(), nil, Options{SearchURL: server.URL})

	lat, lon := 1.0, 103.0
	records := []models.Transaction{
		{Block: "101", StreetName: "WOODLANDS ST 11"},
		{Block: "101", StreetName: "WOODLANDS ST 11"},
		{Block: "9", StreetName: "UNKNOWN ST"},
		{Block: "9", StreetName: "UNKNOWN ST"},
		{Block: "5", StreetName: "KNOWN ST", Latitude: &lat, Longitude: &lon},
	}

	enriched, err := g.EnrichRecords(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 2, enriched)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	require.NotNil(t, records[1].Latitude)
	assert.InDelta(t, 1.4331, *records[1].Latitude, 1e-9)
	assert.Nil(t, records[2].Latitude)
	assert.Equal(t, 1.0, *records[4].Latitude)
}

func TestGeocodeRetriesRateLimit(t *testing.T) {
	tests := []struct {
		name       string
		failures   int32
		status     int
		expectErr  bool
		expectHits int32
	}{
		{name: "Rate limited once", failures: 1, status: http.StatusTooManyRequests, expectHits: 2},
		{name: "Server errors", failures: 2, status: http.StatusServiceUnavailable, expectHits: 3},
		{name: "Retries exhausted", failures: 10, status: http.StatusTooManyRequests, expectErr: true, expectHits: 4},
		{name: "Client error not retried", failures: 10, status: http.StatusForbidden, expectErr: true, expectHits: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if atomic.AddInt32(&hits, 1) <= tt.failures {
					w.WriteHeader(tt.status)
					return
				}
				fmt.Fprint(w, `{"found":1,"results":[{"LATITUDE":"1.3691","LONGITUDE":"103.8454"}]}`)
			}))
			defer server.Close()

			remote := fetch.NewClient(fetch.Config{MaxRetries: 3, RetryInterval: time.Millisecond}, quietLogger())
			g := NewGeocoder(quietLogger(), nil, Options{SearchURL: server.URL, Remote: remote})

			coord, err := g.Geocode(context.Background(), "406", "ANG MO KIO AVE 10")
			if tt.expectErr {
				require.Error(t, err)
				_, cached := g.Lookup("406 ANG MO KIO AVE 10")
				assert.False(t, cached)
			} else {
				require.NoError(t, err)
				assert.InDelta(t, 1.3691, coord.Latitude, 1e-9)
				assert.InDelta(t, 103.8454, coord.Longitude, 1e-9)
			}
			assert.Equal(t, tt.expectHits, atomic.LoadInt32(&hits))
		})
	}
}
