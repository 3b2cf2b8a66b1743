package config

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultPartitions are the historical resale partitions shipped with the
// dashboard, oldest first.
var DefaultPartitions = []string{
	"resale-flat-prices-based-on-approval-date-1990-1999_locationdata.csv",
	"resale-flat-prices-based-on-approval-date-2000-feb-2012_locationdata.csv",
	"resale-flat-prices-based-on-registration-date-from-jan-2015-to-dec-2016_locationdata.csv",
	"resale-flat-prices-based-on-registration-date-from-jan-2017-onwards_locationdata.csv",
	"resale-flat-prices-based-on-registration-date-from-mar-2012-to-dec-2014_locationdata.csv",
}

// Dashboard holds the initial widget selections.
type Dashboard struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Towns       []string `json:"towns"`
	FlatTypes   []string `json:"flat_types"`
	YearFrom    int      `json:"year_from"`
	YearTo      int      `json:"year_to"`
	Map         MapView  `json:"map"`
}

var DefaultDashboard = Dashboard{
	Title: "HDB dataset",
	Description: "Trends in Singapore HDB resale prices from 1990 onwards. " +
		"Filter by town, flat type and year to explore how prices moved over time " +
		"and across property categories, and see where transactions fall across " +
		"planning areas.",
	Towns:     []string{"Ang Mo Kio", "Woodlands"},
	FlatTypes: []string{"1 Room", "2 Room"},
	YearFrom:  2000,
	YearTo:    2016,
	Map:       DefaultMapView,
}

// FlatTypes in ascending size order. Range selections between two flat
// types follow this order.
var FlatTypes = []string{
	"1 Room",
	"2 Room",
	"3 Room",
	"4 Room",
	"5 Room",
	"Executive",
	"Multi-Generation",
}

// A Caser is stateful, so each call gets its own.
func title(s string) string {
	return cases.Title(language.English).String(s)
}

// NormalizeTown turns a source town name such as "KALLANG/WHAMPOA" into its
// display form "Kallang/Whampoa".
func NormalizeTown(town string) string {
	return title(strings.Join(strings.Fields(town), " "))
}

// NormalizeFlatType maps source spellings ("3 ROOM", "MULTI GENERATION") to
// the display names in FlatTypes.
func NormalizeFlatType(flatType string) string {
	s := strings.ToUpper(strings.Join(strings.Fields(flatType), " "))
	s = strings.ReplaceAll(s, "MULTI GENERATION", "MULTI-GENERATION")
	return title(s)
}

// FlatTypeRank returns the position of a flat type in FlatTypes, or -1.
func FlatTypeRank(flatType string) int {
	normalized := NormalizeFlatType(flatType)
	for i, ft := range FlatTypes {
		if ft == normalized {
			return i
		}
	}
	return -1
}

// FlatTypeRange returns every flat type between from and to inclusive. An
// unknown bound or a reversed range selects nothing.
func FlatTypeRange(from, to string) []string {
	lo, hi := FlatTypeRank(from), FlatTypeRank(to)
	if lo < 0 || hi < 0 || lo > hi {
		return []string{}
	}
	return append([]string{}, FlatTypes[lo:hi+1]...)
}
