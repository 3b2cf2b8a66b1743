package transform

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"hdbresale/server/config"
	"hdbresale/server/internal/metrics"
	"hdbresale/server/internal/models"
)

// LeaseYears is the tenure of every HDB flat.
const LeaseYears = 99

var ErrInvalidRecord = errors.New("invalid record")

// Enricher fills missing coordinates in place.
type Enricher interface {
	EnrichRecords(ctx context.Context, records []models.Transaction) (int, error)
}

// AreaResolver maps an address and its coordinate to a planning area.
type AreaResolver interface {
	ResolveAddress(address string, coord models.Coordinate) (string, bool)
}

type Result struct {
	Transactions []models.Transaction
	Skipped      int
	Geocoded     int
	Resolved     int
	Unresolved   int
}

// Transform turns a raw row into a Transaction, deriving year, storey
// bounds, remaining lease and price per square metre.
func Transform(raw models.RawRecord) (models.Transaction, error) {
	month := strings.TrimSpace(raw.Get("month"))
	year, err := yearOf(month)
	if err != nil {
		return models.Transaction{}, err
	}

	lease, err := parseInt(raw, "lease_commence_date")
	if err != nil {
		return models.Transaction{}, err
	}
	price, err := parseFloat(raw, "resale_price")
	if err != nil {
		return models.Transaction{}, err
	}
	area, err := parseFloat(raw, "floor_area_sqm")
	if err != nil {
		return models.Transaction{}, err
	}

	town := config.NormalizeTown(raw.Get("town"))
	if town == "" {
		return models.Transaction{}, fmt.Errorf("%w: empty town", ErrInvalidRecord)
	}
	flatType := config.NormalizeFlatType(raw.Get("flat_type"))
	if flatType == "" {
		return models.Transaction{}, fmt.Errorf("%w: empty flat_type", ErrInvalidRecord)
	}

	block := strings.TrimSpace(raw.Get("block"))
	street := strings.TrimSpace(raw.Get("street_name"))
	storeyRange := strings.TrimSpace(raw.Get("storey_range"))
	low, high := storeyBounds(storeyRange)

	var perSqm float32
	if area > 0 {
		perSqm = float32(price / area)
	}

	tx := models.Transaction{
		Month:             month,
		Year:              year,
		Town:              town,
		FlatType:          flatType,
		FlatModel:         strings.TrimSpace(raw.Get("flat_model")),
		Block:             block,
		StreetName:        street,
		Address:           models.AddressKey(block, street),
		StoreyRange:       storeyRange,
		StoreyLow:         low,
		StoreyHigh:        high,
		FloorAreaSqm:      float32(area),
		LeaseCommenceDate: lease,
		RemainingLease:    lease + LeaseYears - year,
		ResalePrice:       price,
		PricePerSqm:       perSqm,
		Source:            raw.Source,
	}

	lat, latErr := strconv.ParseFloat(strings.TrimSpace(firstOf(raw, "latitude", "lat")), 64)
	lon, lonErr := strconv.ParseFloat(strings.TrimSpace(firstOf(raw, "longitude", "lon", "lng")), 64)
	if latErr == nil && lonErr == nil {
		tx.Latitude = &lat
		tx.Longitude = &lon
	}

	return tx, nil
}

// TransformAll transforms every record, fills in coordinates and resolves
// planning areas. Rows that fail to parse are skipped and counted. Either
// enricher or resolver may be nil.
func TransformAll(ctx context.Context, records []models.RawRecord, enricher Enricher, resolver AreaResolver, logger *logrus.Logger) (*Result, error) {
	if logger == nil {
		logger = logrus.New()
	}

	result := &Result{Transactions: make([]models.Transaction, 0, len(records))}
	for i, raw := range records {
		tx, err := Transform(raw)
		if err != nil {
			result.Skipped++
			logger.WithError(err).WithFields(logrus.Fields{
				"source": raw.Source,
				"row":    i,
			}).Debug("Skipping row")
			continue
		}
		result.Transactions = append(result.Transactions, tx)
	}
	if result.Skipped > 0 {
		metrics.RowsSkipped.Add(float64(result.Skipped))
		logger.WithField("skipped", result.Skipped).Warn("Some rows could not be transformed")
	}

	if enricher != nil {
		geocoded, err := enricher.EnrichRecords(ctx, result.Transactions)
		if err != nil {
			return nil, fmt.Errorf("failed to enrich coordinates: %w", err)
		}
		result.Geocoded = geocoded
		metrics.Geocoded.Add(float64(geocoded))
	}

	if resolver != nil {
		for i := range result.Transactions {
			tx := &result.Transactions[i]
			if tx.Latitude == nil || tx.Longitude == nil {
				result.Unresolved++
				metrics.Resolutions.WithLabelValues("no_coordinates").Inc()
				continue
			}
			coord := models.Coordinate{Latitude: *tx.Latitude, Longitude: *tx.Longitude}
			if area, ok := resolver.ResolveAddress(tx.Address, coord); ok {
				tx.PlanningArea = area
				result.Resolved++
				metrics.Resolutions.WithLabelValues("resolved").Inc()
			} else {
				result.Unresolved++
				metrics.Resolutions.WithLabelValues("unresolved").Inc()
			}
		}
	}

	logger.WithFields(logrus.Fields{
		"rows":       len(result.Transactions),
		"skipped":    result.Skipped,
		"geocoded":   result.Geocoded,
		"resolved":   result.Resolved,
		"unresolved": result.Unresolved,
	}).Info("Transformed resale records")

	return result, nil
}

func yearOf(month string) (int, error) {
	if len(month) < 4 {
		return 0, fmt.Errorf("%w: month %q", ErrInvalidRecord, month)
	}
	year, err := strconv.Atoi(month[:4])
	if err != nil {
		return 0, fmt.Errorf("%w: month %q", ErrInvalidRecord, month)
	}
	return year, nil
}

func parseInt(raw models.RawRecord, column string) (int, error) {
	v := strings.TrimSpace(raw.Get(column))
	n, err := strconv.Atoi(v)
	if err != nil {
		// Some extracts carry integral columns as "1979.0".
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil {
			return 0, fmt.Errorf("%w: %s %q", ErrInvalidRecord, column, v)
		}
		n = int(f)
	}
	return n, nil
}

func parseFloat(raw models.RawRecord, column string) (float64, error) {
	v := strings.TrimSpace(raw.Get(column))
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrInvalidRecord, column, v)
	}
	if f < 0 {
		return 0, fmt.Errorf("%w: negative %s", ErrInvalidRecord, column)
	}
	return f, nil
}

// storeyBounds parses ranges like "10 TO 12". Unparseable ranges give 0, 0.
func storeyBounds(storeyRange string) (int, int) {
	parts := strings.Split(strings.ToUpper(storeyRange), " TO ")
	if len(parts) != 2 {
		return 0, 0
	}
	low, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0
	}
	high, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0
	}
	return low, high
}

func firstOf(raw models.RawRecord, columns ...string) string {
	for _, c := range columns {
		if v := raw.Get(c); v != "" {
			return v
		}
	}
	return ""
}
