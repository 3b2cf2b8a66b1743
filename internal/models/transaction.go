package models

import (
	"strings"
	"time"
)

// Transaction is one resale transaction after transformation. Rows are
// immutable once loaded; the working table is replaced wholesale on refresh.
type Transaction struct {
	ID                int64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Month             string   `json:"month"`
	Year              int      `json:"year" gorm:"index"`
	Town              string   `json:"town" gorm:"index"`
	FlatType          string   `json:"flat_type" gorm:"index"`
	FlatModel         string   `json:"flat_model"`
	Block             string   `json:"block"`
	StreetName        string   `json:"street_name"`
	Address           string   `json:"address"`
	StoreyRange       string   `json:"storey_range"`
	StoreyLow         int      `json:"storey_low"`
	StoreyHigh        int      `json:"storey_high"`
	FloorAreaSqm      float32  `json:"floor_area_sqm"`
	LeaseCommenceDate int      `json:"lease_commence_date"`
	RemainingLease    int      `json:"remaining_lease"`
	ResalePrice       float64  `json:"resale_price"`
	PricePerSqm       float32  `json:"price_per_sqm"`
	Latitude          *float64 `json:"latitude"`
	Longitude         *float64 `json:"longitude"`
	PlanningArea      string   `json:"planning_area" gorm:"index"`
	Source            string   `json:"source"`
}

// RawRecord is an untyped row as read from a partition, snapshot or remote
// extract, keyed by lower-case column name.
type RawRecord struct {
	Source string
	Fields map[string]string
}

// Get returns the value of a column, or "" if absent.
func (r RawRecord) Get(column string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[column]
}

// Coordinate is a WGS84 point.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PartitionCount records how many rows a single source contributed.
type PartitionCount struct {
	Source string `json:"source"`
	Rows   int    `json:"rows"`
}

// LoadReport describes a completed load of the working table.
type LoadReport struct {
	Partitions  []PartitionCount `json:"partitions"`
	TotalRows   int              `json:"total_rows"`
	SkippedRows int              `json:"skipped_rows"`
	Geocoded    int              `json:"geocoded"`
	Resolved    int              `json:"resolved"`
	Unresolved  int              `json:"unresolved"`
	LoadedAt    time.Time        `json:"loaded_at"`
}

// AddressKey is the lookup key shared by the coordinate reference table,
// the geocode cache and the planning area memo.
func AddressKey(block, street string) string {
	return strings.ToUpper(strings.Join(strings.Fields(block+" "+street), " "))
}
