package loader

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"hdbresale/server/internal/models"
)

// ReadCoordinates reads the address reference table. The address is taken
// from an "address" column or from "block" and "street_name"; latitude and
// longitude accept the lat/lon/lng spellings.
func ReadCoordinates(r io.Reader) (map[string]models.Coordinate, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read coordinates header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}

	latCol, ok := firstColumn(index, "latitude", "lat")
	if !ok {
		return nil, fmt.Errorf("%w: coordinates: missing latitude column", ErrSchemaMismatch)
	}
	lonCol, ok := firstColumn(index, "longitude", "lon", "lng")
	if !ok {
		return nil, fmt.Errorf("%w: coordinates: missing longitude column", ErrSchemaMismatch)
	}
	addrCol, hasAddr := index["address"]
	blockCol, hasBlock := index["block"]
	streetCol, hasStreet := index["street_name"]
	if !hasAddr && !(hasBlock && hasStreet) {
		return nil, fmt.Errorf("%w: coordinates: missing address columns", ErrSchemaMismatch)
	}

	coords := make(map[string]models.Coordinate)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read coordinates: %w", err)
		}

		var key string
		if hasAddr {
			key = models.AddressKey(row[addrCol], "")
		} else {
			key = models.AddressKey(row[blockCol], row[streetCol])
		}
		lat, latErr := strconv.ParseFloat(strings.TrimSpace(row[latCol]), 64)
		lon, lonErr := strconv.ParseFloat(strings.TrimSpace(row[lonCol]), 64)
		if key == "" || latErr != nil || lonErr != nil {
			continue
		}
		coords[key] = models.Coordinate{Latitude: lat, Longitude: lon}
	}

	return coords, nil
}

func ReadCoordinatesFile(path string) (map[string]models.Coordinate, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open coordinates: %w", err)
	}
	defer file.Close()

	return ReadCoordinates(file)
}

func firstColumn(index map[string]int, names ...string) (int, bool) {
	for _, name := range names {
		if i, ok := index[name]; ok {
			return i, true
		}
	}
	return 0, false
}
