package loader

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdbresale/server/internal/models"
)

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap", "resale.parquet")
	records := []models.RawRecord{
		{Source: "remote", Fields: map[string]string{
			"month": "2024-03", "town": "ANG MO KIO", "flat_type": "3 ROOM", "block": "406",
			"street_name": "ANG MO KIO AVE 10", "storey_range": "01 TO 03", "floor_area_sqm": "68",
			"flat_model": "New Generation", "lease_commence_date": "1979", "resale_price": "330000",
			"remaining_lease": "54 years 08 months",
		}},
	}

	require.NoError(t, WriteSnapshot(context.Background(), path, records))

	got, err := ReadSnapshot(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, SnapshotSource, got[0].Source)
	assert.Equal(t, "ANG MO KIO AVE 10", got[0].Get("street_name"))
	assert.Equal(t, "330000", got[0].Get("resale_price"))
	assert.Equal(t, "54 years 08 months", got[0].Get("remaining_lease"))
}

func TestReadSnapshotMissingFile(t *testing.T) {
	records, err := ReadSnapshot(context.Background(), filepath.Join(t.TempDir(), "none.parquet"))
	require.NoError(t, err)
	assert.Empty(t, records)
}
