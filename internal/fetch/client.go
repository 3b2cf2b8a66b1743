package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"hdbresale/server/internal/models"
)

const (
	userAgent = "HDB Resale Dashboard/1.0"

	// RemoteSource labels rows fetched from the datastore API.
	RemoteSource = "remote"
)

var ErrUnexpectedResponse = errors.New("unexpected response")

// Source supplies the current month's transactions and the planning area
// boundary document.
type Source interface {
	FetchMonth(ctx context.Context, month string) ([]models.RawRecord, error)
	FetchBoundaries(ctx context.Context) ([]byte, error)
}

type Config struct {
	DatastoreURL      string
	ResourceID        string
	DownloadURL       string
	BoundaryDatasetID string
	PageSize          int
	Timeout           time.Duration
	MaxRetries        int

	// RetryInterval is the first backoff interval; zero keeps the default.
	RetryInterval time.Duration
}

type Client struct {
	cfg        Config
	logger     *logrus.Logger
	httpClient *http.Client
	newBackOff func() backoff.BackOff
}

func NewClient(cfg Config, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{
		cfg:        cfg,
		logger:     logger,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			if cfg.RetryInterval > 0 {
				b.InitialInterval = cfg.RetryInterval
			}
			return b
		},
	}
}

type datastoreResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Records []map[string]any `json:"records"`
		Total   int              `json:"total"`
	} `json:"result"`
}

// FetchMonth pages through the datastore for every transaction in month
// (YYYY-MM).
func (c *Client) FetchMonth(ctx context.Context, month string) ([]models.RawRecord, error) {
	filters, err := json.Marshal(map[string]string{"month": month})
	if err != nil {
		return nil, fmt.Errorf("failed to encode filters: %w", err)
	}

	var records []models.RawRecord
	for offset := 0; ; {
		params := url.Values{}
		params.Set("resource_id", c.cfg.ResourceID)
		params.Set("filters", string(filters))
		params.Set("limit", strconv.Itoa(c.cfg.PageSize))
		params.Set("offset", strconv.Itoa(offset))

		body, err := c.Get(ctx, c.cfg.DatastoreURL+"?"+params.Encode())
		if err != nil {
			return nil, fmt.Errorf("failed to fetch month %s: %w", month, err)
		}

		var resp datastoreResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to parse datastore response: %w", err)
		}
		if !resp.Success {
			return nil, fmt.Errorf("%w: datastore reported failure", ErrUnexpectedResponse)
		}

		for _, rec := range resp.Result.Records {
			fields := make(map[string]string, len(rec))
			for k, v := range rec {
				if strings.HasPrefix(k, "_") {
					continue
				}
				fields[strings.ToLower(k)] = stringify(v)
			}
			records = append(records, models.RawRecord{Source: RemoteSource, Fields: fields})
		}

		offset += len(resp.Result.Records)
		if len(resp.Result.Records) == 0 || offset >= resp.Result.Total {
			break
		}
	}

	c.logger.WithFields(logrus.Fields{
		"month": month,
		"rows":  len(records),
	}).Info("Fetched current month from datastore")

	return records, nil
}

type pollDownloadResponse struct {
	Code int `json:"code"`
	Data struct {
		URL string `json:"url"`
	} `json:"data"`
	ErrorMsg string `json:"errorMsg"`
}

// FetchBoundaries resolves the download link of the planning area dataset
// and returns the GeoJSON document.
func (c *Client) FetchBoundaries(ctx context.Context) ([]byte, error) {
	pollURL := fmt.Sprintf("%s/%s/poll-download", strings.TrimRight(c.cfg.DownloadURL, "/"), url.PathEscape(c.cfg.BoundaryDatasetID))
	body, err := c.Get(ctx, pollURL)
	if err != nil {
		return nil, fmt.Errorf("failed to poll boundary download: %w", err)
	}

	var poll pollDownloadResponse
	if err := json.Unmarshal(body, &poll); err != nil {
		return nil, fmt.Errorf("failed to parse poll-download response: %w", err)
	}
	if poll.Code != 0 || poll.Data.URL == "" {
		return nil, fmt.Errorf("%w: poll-download code %d: %s", ErrUnexpectedResponse, poll.Code, poll.ErrorMsg)
	}

	data, err := c.Get(ctx, poll.Data.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to download boundaries: %w", err)
	}
	return data, nil
}

// Get fetches rawURL, retrying transport errors and 5xx/429 responses.
// Other 4xx responses fail immediately.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	attempt := 0
	return backoff.Retry(ctx, func() ([]byte, error) {
		if attempt > 0 {
			c.logger.WithFields(logrus.Fields{
				"url":     rawURL,
				"attempt": attempt,
			}).Warn("Remote request failed, retrying")
		}
		attempt++

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("%w: HTTP %d", ErrUnexpectedResponse, resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return body, nil
	}, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(uint(c.cfg.MaxRetries+1)))
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
