package api

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"hdbresale/server/config"
	"hdbresale/server/internal/models"
)

var ErrInvalidParam = errors.New("invalid parameter")

const (
	defaultTransactionLimit = 100
	defaultMapLimit         = 2000
	maxLimit                = 10000
)

// parseFilter reads town, flat_type, flat_type_from, flat_type_to,
// year_from and year_to. Absent parameters fall back to the dashboard
// defaults. A parameter that is present but empty selects nothing, and
// "all" removes the constraint.
func parseFilter(c *gin.Context, defaults config.Dashboard) (models.Filter, error) {
	f := models.Filter{
		Towns:     multiValue(c, "town", defaults.Towns, config.NormalizeTown),
		FlatTypes: multiValue(c, "flat_type", defaults.FlatTypes, config.NormalizeFlatType),
		YearFrom:  defaults.YearFrom,
		YearTo:    defaults.YearTo,
	}

	from, hasFrom := c.GetQuery("flat_type_from")
	to, hasTo := c.GetQuery("flat_type_to")
	if hasFrom || hasTo {
		if !hasFrom || strings.TrimSpace(from) == "" {
			from = config.FlatTypes[0]
		}
		if !hasTo || strings.TrimSpace(to) == "" {
			to = config.FlatTypes[len(config.FlatTypes)-1]
		}
		f.FlatTypes = config.FlatTypeRange(from, to)
	}

	var err error
	if f.YearFrom, err = yearParam(c, "year_from", f.YearFrom); err != nil {
		return models.Filter{}, err
	}
	if f.YearTo, err = yearParam(c, "year_to", f.YearTo); err != nil {
		return models.Filter{}, err
	}
	return f, nil
}

func multiValue(c *gin.Context, name string, defaults []string, normalize func(string) string) []string {
	raw, ok := c.GetQueryArray(name)
	if !ok {
		if defaults == nil {
			return nil
		}
		return append([]string{}, defaults...)
	}

	values := []string{}
	seen := map[string]bool{}
	for _, r := range raw {
		for _, v := range strings.Split(r, ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if strings.EqualFold(v, "all") {
				return nil
			}
			v = normalize(v)
			if !seen[v] {
				seen[v] = true
				values = append(values, v)
			}
		}
	}
	return values
}

// yearParam returns def when name is absent and 0 (no bound) when empty.
func yearParam(c *gin.Context, name string, def int) (int, error) {
	v, ok := c.GetQuery(name)
	if !ok {
		return def, nil
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	year, err := strconv.Atoi(v)
	if err != nil || year < 0 {
		return 0, fmt.Errorf("%w: %s must be a year, got %q", ErrInvalidParam, name, v)
	}
	return year, nil
}

func limitParam(c *gin.Context, def int) (int, error) {
	v, ok := c.GetQuery("limit")
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("%w: limit must be a positive integer, got %q", ErrInvalidParam, v)
	}
	return min(limit, maxLimit), nil
}
