package models

// Filter narrows the working table. A nil slice means "no constraint"; an
// empty non-nil slice means "nothing selected".
type Filter struct {
	Towns     []string `json:"towns"`
	FlatTypes []string `json:"flat_types"`
	YearFrom  int      `json:"year_from"`
	YearTo    int      `json:"year_to"`
}

// IsEmptySelection reports whether the filter can match no rows at all.
func (f Filter) IsEmptySelection() bool {
	if f.Towns != nil && len(f.Towns) == 0 {
		return true
	}
	if f.FlatTypes != nil && len(f.FlatTypes) == 0 {
		return true
	}
	return f.YearFrom != 0 && f.YearTo != 0 && f.YearFrom > f.YearTo
}

type Summary struct {
	TotalTransactions int     `json:"total_transactions"`
	AveragePrice      float64 `json:"average_price"`
	MedianPrice       float64 `json:"median_price"`
	AvgPricePerSqm    float64 `json:"avg_price_per_sqm"`
	AvgRemainingLease float64 `json:"avg_remaining_lease"`
}

// PivotTable is indexed by flat type (rows) and town (columns).
type PivotTable struct {
	Aggregate string               `json:"aggregate"`
	Index     []string             `json:"index"`
	Columns   []string             `json:"columns"`
	Values    map[string][]float64 `json:"values"`
}

// SeriesPoint is one melted row of the time-series chart.
type SeriesPoint struct {
	Year   int     `json:"year"`
	Series string  `json:"series"`
	Value  float64 `json:"value"`
	Count  int     `json:"count"`
}

type Options struct {
	Towns     []string `json:"towns"`
	FlatTypes []string `json:"flat_types"`
	MinYear   int      `json:"min_year"`
	MaxYear   int      `json:"max_year"`
}

type MapPoint struct {
	Address      string  `json:"address"`
	Town         string  `json:"town"`
	PlanningArea string  `json:"planning_area"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	ResalePrice  float64 `json:"resale_price"`
	Count        int     `json:"count"`
}

// AreaStat summarizes the transactions that fall inside one planning area.
type AreaStat struct {
	PlanningArea   string  `json:"planning_area"`
	Transactions   int     `json:"transactions"`
	AveragePrice   float64 `json:"average_price"`
	AvgPricePerSqm float64 `json:"avg_price_per_sqm"`
}
