package transform

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"hdbresale/server/internal/models"
)

type MockEnricher struct {
	mock.Mock
}

func (m *MockEnricher) EnrichRecords(ctx context.Context, records []models.Transaction) (int, error) {
	args := m.Called(ctx, records)
	return args.Int(0), args.Error(1)
}

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) ResolveAddress(address string, coord models.Coordinate) (string, bool) {
	args := m.Called(address, coord)
	return args.String(0), args.Bool(1)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func raw(fields map[string]string) models.RawRecord {
	base := map[string]string{
		"month":               "2017-01",
		"town":                "ANG MO KIO",
		"flat_type":           "2 ROOM",
		"block":               "406",
		"street_name":         "ANG MO KIO AVE 10",
		"storey_range":        "10 TO 12",
		"floor_area_sqm":      "44",
		"flat_model":          "Improved",
		"lease_commence_date": "1979",
		"resale_price":        "232000",
	}
	for k, v := range fields {
		base[k] = v
	}
	return models.RawRecord{Source: "test.csv", Fields: base}
}

func TestTransform(t *testing.T) {
	tx, err := Transform(raw(nil))
	require.NoError(t, err)

	assert.Equal(t, 2017, tx.Year)
	assert.Equal(t, "Ang Mo Kio", tx.Town)
	assert.Equal(t, "2 Room", tx.FlatType)
	assert.Equal(t, "406 ANG MO KIO AVE 10", tx.Address)
	assert.Equal(t, 10, tx.StoreyLow)
	assert.Equal(t, 12, tx.StoreyHigh)
	assert.Equal(t, 1979+99-2017, tx.RemainingLease)
	assert.InDelta(t, 232000.0/44.0, float64(tx.PricePerSqm), 0.01)
	assert.Equal(t, "test.csv", tx.Source)
	assert.Nil(t, tx.Latitude)
}

func TestTransformDerivedColumns(t *testing.T) {
	tests := []struct {
		name  string
		month string
		lease string
		price string
		area  string
	}{
		{name: "old partition", month: "1990-01", lease: "1977", price: "9000", area: "31"},
		{name: "approval era", month: "2005-06", lease: "1985", price: "250000", area: "104"},
		{name: "float lease", month: "2012-03", lease: "1996.0", price: "510000", area: "121.5"},
		{name: "recent", month: "2023-12", lease: "2018", price: "1250000", area: "113"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, err := Transform(raw(map[string]string{
				"month":               tt.month,
				"lease_commence_date": tt.lease,
				"resale_price":        tt.price,
				"floor_area_sqm":      tt.area,
			}))
			require.NoError(t, err)

			assert.Equal(t, tx.LeaseCommenceDate+99-tx.Year, tx.RemainingLease)
			expected := tx.ResalePrice / float64(tx.FloorAreaSqm)
			assert.InEpsilon(t, expected, float64(tx.PricePerSqm), 1e-5)
		})
	}
}

func TestTransformZeroArea(t *testing.T) {
	tx, err := Transform(raw(map[string]string{"floor_area_sqm": "0"}))
	require.NoError(t, err)
	assert.Zero(t, tx.PricePerSqm)
}

func TestTransformCarriesCoordinates(t *testing.T) {
	tx, err := Transform(raw(map[string]string{"latitude": "1.3621", "longitude": "103.8545"}))
	require.NoError(t, err)
	require.NotNil(t, tx.Latitude)
	require.NotNil(t, tx.Longitude)
	assert.Equal(t, 1.3621, *tx.Latitude)
	assert.Equal(t, 103.8545, *tx.Longitude)
}

func TestTransformInvalid(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{name: "bad month", fields: map[string]string{"month": "Jan"}},
		{name: "bad price", fields: map[string]string{"resale_price": "n/a"}},
		{name: "negative price", fields: map[string]string{"resale_price": "-1"}},
		{name: "bad lease", fields: map[string]string{"lease_commence_date": ""}},
		{name: "bad area", fields: map[string]string{"floor_area_sqm": "big"}},
		{name: "missing town", fields: map[string]string{"town": "  "}},
		{name: "missing flat type", fields: map[string]string{"flat_type": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Transform(raw(tt.fields))
			assert.True(t, errors.Is(err, ErrInvalidRecord), "got %v", err)
		})
	}
}

func TestStoreyBounds(t *testing.T) {
	tests := []struct {
		in        string
		low, high int
	}{
		{"01 TO 03", 1, 3},
		{"40 to 42", 40, 42},
		{"", 0, 0},
		{"01 TO", 0, 0},
		{"AB TO 03", 0, 0},
	}
	for _, tt := range tests {
		low, high := storeyBounds(tt.in)
		assert.Equal(t, tt.low, low, tt.in)
		assert.Equal(t, tt.high, high, tt.in)
	}
}

func TestTransformAll(t *testing.T) {
	records := []models.RawRecord{
		raw(map[string]string{"latitude": "1.36", "longitude": "103.85"}),
		raw(map[string]string{"resale_price": "oops"}),
		raw(map[string]string{"block": "101", "street_name": "WOODLANDS ST 11", "town": "WOODLANDS"}),
	}

	enricher := new(MockEnricher)
	enricher.On("EnrichRecords", mock.Anything, mock.AnythingOfType("[]models.Transaction")).
		Run(func(args mock.Arguments) {
			txs := args.Get(1).([]models.Transaction)
			lat, lon := 1.43, 103.77
			txs[1].Latitude = &lat
			txs[1].Longitude = &lon
		}).
		Return(1, nil)

	resolver := new(MockResolver)
	resolver.On("ResolveAddress", "406 ANG MO KIO AVE 10", models.Coordinate{Latitude: 1.36, Longitude: 103.85}).
		Return("Ang Mo Kio", true)
	resolver.On("ResolveAddress", "101 WOODLANDS ST 11", models.Coordinate{Latitude: 1.43, Longitude: 103.77}).
		Return("", false)

	result, err := TransformAll(context.Background(), records, enricher, resolver, quietLogger())
	require.NoError(t, err)

	assert.Len(t, result.Transactions, 2)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, result.Geocoded)
	assert.Equal(t, 1, result.Resolved)
	assert.Equal(t, 1, result.Unresolved)
	assert.Equal(t, "Ang Mo Kio", result.Transactions[0].PlanningArea)
	assert.Empty(t, result.Transactions[1].PlanningArea)

	enricher.AssertExpectations(t)
	resolver.AssertExpectations(t)
}

func TestTransformAllEnrichError(t *testing.T) {
	enricher := new(MockEnricher)
	enricher.On("EnrichRecords", mock.Anything, mock.Anything).Return(0, context.Canceled)

	_, err := TransformAll(context.Background(), []models.RawRecord{raw(nil)}, enricher, nil, quietLogger())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTransformAllIsDeterministic(t *testing.T) {
	records := []models.RawRecord{raw(nil), raw(map[string]string{"month": "2018-05"})}

	first, err := TransformAll(context.Background(), records, nil, nil, quietLogger())
	require.NoError(t, err)
	second, err := TransformAll(context.Background(), records, nil, nil, quietLogger())
	require.NoError(t, err)

	assert.Equal(t, first.Transactions, second.Transactions)
}
