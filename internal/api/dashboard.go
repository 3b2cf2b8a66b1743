package api

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"hdbresale/server/config"
	"hdbresale/server/internal/cache"
	"hdbresale/server/internal/models"
)

//go:embed templates/dashboard.html
var templateFS embed.FS

var dashboardTemplate = template.Must(template.New("dashboard.html").Funcs(template.FuncMap{
	"selected": func(value string, chosen []string) bool {
		return slices.Contains(chosen, value)
	},
}).ParseFS(templateFS, "templates/dashboard.html"))

type dashboardPage struct {
	Dashboard config.Dashboard
	Options   *models.Options
	Years     []int
	Map       config.MapView
}

// GetDashboard renders the page shell; the widgets fetch their data from the
// JSON endpoints.
func (h *Handler) GetDashboard(c *gin.Context) {
	state := h.state(c)
	if state == nil {
		return
	}

	opts, err := cache.Load(c.Request.Context(), h.memo, cache.Key("options", state.Generation), h.store.Options)
	if err != nil {
		h.fail(c, err, "Failed to get options")
		return
	}

	page := dashboardPage{Dashboard: h.dashboard, Options: opts, Map: h.dashboard.Map.ViewOrDefault()}
	lo, hi := opts.MinYear, opts.MaxYear
	if h.dashboard.YearFrom > 0 && (lo == 0 || h.dashboard.YearFrom < lo) {
		lo = h.dashboard.YearFrom
	}
	if h.dashboard.YearTo > hi {
		hi = h.dashboard.YearTo
	}
	for y := lo; y > 0 && y <= hi; y++ {
		page.Years = append(page.Years, y)
	}

	var buf bytes.Buffer
	if err := dashboardTemplate.Execute(&buf, page); err != nil {
		h.logger.WithError(err).Error("Failed to render dashboard")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render dashboard"})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}
