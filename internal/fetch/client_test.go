package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(serverURL string, maxRetries int) *Client {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	c := NewClient(Config{
		DatastoreURL:      serverURL + "/datastore_search",
		ResourceID:        "resale",
		DownloadURL:       serverURL + "/datasets",
		BoundaryDatasetID: "planning",
		PageSize:          2,
		MaxRetries:        maxRetries,
	}, logger)
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}

func TestFetchMonthPages(t *testing.T) {
	rows := []map[string]any{
		{"_id": 1, "month": "2024-03", "town": "ANG MO KIO", "resale_price": "330000"},
		{"_id": 2, "month": "2024-03", "town": "BEDOK", "resale_price": 410000.0},
		{"_id": 3, "month": "2024-03", "town": "WOODLANDS", "resale_price": "505000"},
	}

	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		assert.Equal(t, "resale", r.URL.Query().Get("resource_id"))
		assert.JSONEq(t, `{"month":"2024-03"}`, r.URL.Query().Get("filters"))

		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		end := offset + limit
		if end > len(rows) {
			end = len(rows)
		}

		resp := map[string]any{
			"success": true,
			"result":  map[string]any{"records": rows[offset:end], "total": len(rows)},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	records, err := newTestClient(server.URL, 0).FetchMonth(context.Background(), "2024-03")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))

	assert.Equal(t, RemoteSource, records[0].Source)
	assert.Equal(t, "ANG MO KIO", records[0].Get("town"))
	assert.Equal(t, "410000", records[1].Get("resale_price"))
	assert.NotContains(t, records[0].Fields, "_id")
}

func TestFetchMonthRetriesServerErrors(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"success":true,"result":{"records":[],"total":0}}`)
	}))
	defer server.Close()

	records, err := newTestClient(server.URL, 3).FetchMonth(context.Background(), "2024-03")
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, int32(3), atomic.LoadInt32(&requests))
}

func TestFetchMonthClientErrorIsPermanent(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 3).FetchMonth(context.Background(), "2024-03")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnexpectedResponse))
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
}

func TestFetchMonthUnsuccessful(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false}`)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 0).FetchMonth(context.Background(), "2024-03")
	assert.True(t, errors.Is(err, ErrUnexpectedResponse))
}

func TestFetchBoundaries(t *testing.T) {
	const doc = `{"type":"FeatureCollection","features":[]}`

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/datasets/planning/poll-download", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"code":0,"data":{"url":%q}}`, server.URL+"/files/planning.geojson")
	})
	mux.HandleFunc("/files/planning.geojson", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, doc)
	})

	data, err := newTestClient(server.URL, 0).FetchBoundaries(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, doc, string(data))
}

func TestFetchBoundariesPollError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":17,"errorMsg":"dataset not found"}`)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 0).FetchBoundaries(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dataset not found")
}

func TestGetRetryInterval(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `ok`)
	}))
	defer server.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	c := NewClient(Config{MaxRetries: 1, RetryInterval: time.Millisecond}, logger)

	body, err := c.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}
