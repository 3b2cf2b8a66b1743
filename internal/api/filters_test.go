package api

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdbresale/server/config"
	"hdbresale/server/internal/models"
)

func contextWithQuery(rawQuery string) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/api/pivot?"+rawQuery, nil)
	return c
}

func TestParseFilter(t *testing.T) {
	defaults := config.DefaultDashboard

	tests := []struct {
		name     string
		query    string
		expected models.Filter
		wantErr  bool
	}{
		{
			name:  "defaults",
			query: "",
			expected: models.Filter{
				Towns: []string{"Ang Mo Kio", "Woodlands"}, FlatTypes: []string{"1 Room", "2 Room"},
				YearFrom: 2000, YearTo: 2016,
			},
		},
		{
			name:  "repeated and comma separated",
			query: "town=BEDOK&town=tampines,%20bedok&flat_type=4%20ROOM",
			expected: models.Filter{
				Towns: []string{"Bedok", "Tampines"}, FlatTypes: []string{"4 Room"},
				YearFrom: 2000, YearTo: 2016,
			},
		},
		{
			name:  "explicitly empty selects nothing",
			query: "town=&flat_type=",
			expected: models.Filter{
				Towns: []string{}, FlatTypes: []string{},
				YearFrom: 2000, YearTo: 2016,
			},
		},
		{
			name:  "all removes the constraint",
			query: "town=all",
			expected: models.Filter{
				FlatTypes: []string{"1 Room", "2 Room"},
				YearFrom:  2000, YearTo: 2016,
			},
		},
		{
			name:  "flat type range",
			query: "flat_type_from=3%20room&flat_type_to=executive",
			expected: models.Filter{
				Towns: []string{"Ang Mo Kio", "Woodlands"}, FlatTypes: []string{"3 Room", "4 Room", "5 Room", "Executive"},
				YearFrom: 2000, YearTo: 2016,
			},
		},
		{
			name:  "open ended flat type range",
			query: "flat_type_from=Executive",
			expected: models.Filter{
				Towns: []string{"Ang Mo Kio", "Woodlands"}, FlatTypes: []string{"Executive", "Multi-Generation"},
				YearFrom: 2000, YearTo: 2016,
			},
		},
		{
			name:  "reversed flat type range selects nothing",
			query: "flat_type_from=5%20Room&flat_type_to=1%20Room",
			expected: models.Filter{
				Towns: []string{"Ang Mo Kio", "Woodlands"}, FlatTypes: []string{},
				YearFrom: 2000, YearTo: 2016,
			},
		},
		{
			name:  "years",
			query: "year_from=1990&year_to=",
			expected: models.Filter{
				Towns: []string{"Ang Mo Kio", "Woodlands"}, FlatTypes: []string{"1 Room", "2 Room"},
				YearFrom: 1990, YearTo: 0,
			},
		},
		{name: "bad year", query: "year_from=nineteen", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := parseFilter(contextWithQuery(tt.query), defaults)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidParam)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, f)
		})
	}
}

func TestParseFilterDoesNotAliasDefaults(t *testing.T) {
	defaults := config.Dashboard{Towns: []string{"Bedok"}}
	f, err := parseFilter(contextWithQuery(""), defaults)
	require.NoError(t, err)

	f.Towns[0] = "Changed"
	assert.Equal(t, "Bedok", defaults.Towns[0])
}

func TestLimitParam(t *testing.T) {
	tests := []struct {
		query    string
		expected int
		wantErr  bool
	}{
		{query: "", expected: 100},
		{query: "limit=", expected: 100},
		{query: "limit=25", expected: 25},
		{query: "limit=999999", expected: maxLimit},
		{query: "limit=0", wantErr: true},
		{query: "limit=-3", wantErr: true},
		{query: "limit=lots", wantErr: true},
	}

	for _, tt := range tests {
		limit, err := limitParam(contextWithQuery(tt.query), 100)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidParam, tt.query)
			continue
		}
		require.NoError(t, err, tt.query)
		assert.Equal(t, tt.expected, limit, tt.query)
	}
}
