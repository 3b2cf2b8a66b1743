package api

import (
	"hdbresale/server/internal/database"
	"hdbresale/server/internal/models"
)

const vegaLiteSchema = "https://vega.github.io/schema/vega-lite/v5.json"

// lineChartSpec renders series points as a Vega-Lite line chart: year on x,
// mean resale price on y, one line per town or flat type.
func lineChartSpec(points []models.SeriesPoint, groupBy string) map[string]any {
	seriesTitle := "Town"
	if groupBy == database.GroupByFlatType {
		seriesTitle = "Flat type"
	}

	values := make([]map[string]any, 0, len(points))
	for _, p := range points {
		values = append(values, map[string]any{
			"year":   p.Year,
			"series": p.Series,
			"price":  p.Value,
			"count":  p.Count,
		})
	}

	return map[string]any{
		"$schema": vegaLiteSchema,
		"height":  320,
		"width":   "container",
		"data":    map[string]any{"values": values},
		"mark":    map[string]any{"type": "line", "point": true},
		"encoding": map[string]any{
			"x": map[string]any{"field": "year", "type": "ordinal", "title": "Year"},
			"y": map[string]any{"field": "price", "type": "quantitative", "title": "Mean resale price (SGD)"},
			"color": map[string]any{
				"field": "series", "type": "nominal", "title": seriesTitle,
			},
			"tooltip": []map[string]any{
				{"field": "year", "type": "ordinal", "title": "Year"},
				{"field": "series", "type": "nominal", "title": seriesTitle},
				{"field": "price", "type": "quantitative", "title": "Mean price", "format": ",.0f"},
				{"field": "count", "type": "quantitative", "title": "Transactions"},
			},
		},
	}
}
