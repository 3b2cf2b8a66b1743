package api

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"hdbresale/server/config"
	"hdbresale/server/internal/cache"
	"hdbresale/server/internal/database"
	"hdbresale/server/internal/geometry"
	"hdbresale/server/internal/models"
	"hdbresale/server/internal/pipeline"
)

// Store answers the dashboard queries.
type Store interface {
	FilterTransactions(ctx context.Context, f models.Filter, limit int) ([]models.Transaction, error)
	PivotAverage(ctx context.Context, f models.Filter, agg string) (*models.PivotTable, error)
	TimeSeries(ctx context.Context, f models.Filter, groupBy string) ([]models.SeriesPoint, error)
	Summary(ctx context.Context, f models.Filter) (*models.Summary, error)
	Options(ctx context.Context) (*models.Options, error)
	MapPoints(ctx context.Context, f models.Filter, limit int) ([]models.MapPoint, error)
	AreaStats(ctx context.Context, f models.Filter) ([]models.AreaStat, error)
}

// Dataset makes sure the working table is loaded.
type Dataset interface {
	Dataset(ctx context.Context) (*pipeline.State, error)
	Resolver() *geometry.Resolver
}

type Refresher interface {
	RunNow(ctx context.Context) (*pipeline.State, error)
}

type Handler struct {
	store     Store
	dataset   Dataset
	refresher Refresher
	memo      *cache.Memo
	dashboard config.Dashboard
	logger    *logrus.Logger
}

type OptionsResponse struct {
	*models.Options
	Defaults config.Dashboard `json:"defaults"`
}

func NewHandler(store Store, dataset Dataset, refresher Refresher, memo *cache.Memo, dashboard config.Dashboard, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	return &Handler{
		store:     store,
		dataset:   dataset,
		refresher: refresher,
		memo:      memo,
		dashboard: dashboard,
		logger:    logger,
	}
}

// state returns the loaded working table, or writes 503 and returns nil.
func (h *Handler) state(c *gin.Context) *pipeline.State {
	state, err := h.dataset.Dataset(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Dataset is not available")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Dataset is not available"})
		return nil
	}
	return state
}

// filter parses the request filter, or writes 400 and returns false.
func (h *Handler) filter(c *gin.Context) (models.Filter, bool) {
	f, err := parseFilter(c, h.dashboard)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return models.Filter{}, false
	}
	return f, true
}

func (h *Handler) limit(c *gin.Context, def int) (int, bool) {
	limit, err := limitParam(c, def)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, false
	}
	return limit, true
}

// fail reports a query error: bad aggregate or grouping is the caller's
// fault, anything else is ours.
func (h *Handler) fail(c *gin.Context, err error, message string) {
	if errors.Is(err, database.ErrInvalidAggregate) || errors.Is(err, database.ErrInvalidGroupBy) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.logger.WithError(err).Error(message)
	c.JSON(http.StatusInternalServerError, gin.H{"error": message})
}

func (h *Handler) GetOptions(c *gin.Context) {
	state := h.state(c)
	if state == nil {
		return
	}

	opts, err := cache.Load(c.Request.Context(), h.memo, cache.Key("options", state.Generation), h.store.Options)
	if err != nil {
		h.fail(c, err, "Failed to get options")
		return
	}

	c.JSON(http.StatusOK, OptionsResponse{Options: opts, Defaults: h.dashboard})
}

func (h *Handler) GetTransactions(c *gin.Context) {
	state := h.state(c)
	if state == nil {
		return
	}
	f, ok := h.filter(c)
	if !ok {
		return
	}
	limit, ok := h.limit(c, defaultTransactionLimit)
	if !ok {
		return
	}

	key := cache.Key("transactions", state.Generation, f, limit)
	rows, err := cache.Load(c.Request.Context(), h.memo, key, func(ctx context.Context) ([]models.Transaction, error) {
		return h.store.FilterTransactions(ctx, f, limit)
	})
	if err != nil {
		h.fail(c, err, "Failed to get transactions")
		return
	}

	c.JSON(http.StatusOK, rows)
}

func (h *Handler) GetPivot(c *gin.Context) {
	state := h.state(c)
	if state == nil {
		return
	}
	f, ok := h.filter(c)
	if !ok {
		return
	}
	agg := c.DefaultQuery("agg", database.AggregateMean)

	key := cache.Key("pivot", state.Generation, f, agg)
	table, err := cache.Load(c.Request.Context(), h.memo, key, func(ctx context.Context) (*models.PivotTable, error) {
		return h.store.PivotAverage(ctx, f, agg)
	})
	if err != nil {
		h.fail(c, err, "Failed to build pivot table")
		return
	}

	c.JSON(http.StatusOK, table)
}

func (h *Handler) timeSeries(c *gin.Context) ([]models.SeriesPoint, string, bool) {
	state := h.state(c)
	if state == nil {
		return nil, "", false
	}
	f, ok := h.filter(c)
	if !ok {
		return nil, "", false
	}
	groupBy := c.DefaultQuery("group_by", database.GroupByTown)

	key := cache.Key("timeseries", state.Generation, f, groupBy)
	points, err := cache.Load(c.Request.Context(), h.memo, key, func(ctx context.Context) ([]models.SeriesPoint, error) {
		return h.store.TimeSeries(ctx, f, groupBy)
	})
	if err != nil {
		h.fail(c, err, "Failed to get time series")
		return nil, "", false
	}
	return points, groupBy, true
}

func (h *Handler) GetTimeSeries(c *gin.Context) {
	points, _, ok := h.timeSeries(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, points)
}

func (h *Handler) GetChart(c *gin.Context) {
	points, groupBy, ok := h.timeSeries(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, lineChartSpec(points, groupBy))
}

func (h *Handler) GetStats(c *gin.Context) {
	state := h.state(c)
	if state == nil {
		return
	}
	f, ok := h.filter(c)
	if !ok {
		return
	}

	key := cache.Key("summary", state.Generation, f)
	summary, err := cache.Load(c.Request.Context(), h.memo, key, func(ctx context.Context) (*models.Summary, error) {
		return h.store.Summary(ctx, f)
	})
	if err != nil {
		h.fail(c, err, "Failed to get stats")
		return
	}

	c.JSON(http.StatusOK, summary)
}

// GetPlanningAreas returns the boundary layer with per-area figures for
// the current filter merged into each feature's properties.
func (h *Handler) GetPlanningAreas(c *gin.Context) {
	state := h.state(c)
	if state == nil {
		return
	}
	f, ok := h.filter(c)
	if !ok {
		return
	}

	key := cache.Key("area_stats", state.Generation, f)
	stats, err := cache.Load(c.Request.Context(), h.memo, key, func(ctx context.Context) ([]models.AreaStat, error) {
		return h.store.AreaStats(ctx, f)
	})
	if err != nil {
		h.fail(c, err, "Failed to get planning area stats")
		return
	}

	byArea := make(map[string]models.AreaStat, len(stats))
	for _, s := range stats {
		byArea[s.PlanningArea] = s
	}

	fc := h.dataset.Resolver().FeatureCollection()
	for _, feature := range fc.Features {
		name, _ := feature.Properties["name"].(string)
		s := byArea[name]
		feature.Properties["transactions"] = s.Transactions
		feature.Properties["average_price"] = s.AveragePrice
		feature.Properties["avg_price_per_sqm"] = s.AvgPricePerSqm
	}

	c.JSON(http.StatusOK, fc)
}

func (h *Handler) GetMapPoints(c *gin.Context) {
	state := h.state(c)
	if state == nil {
		return
	}
	f, ok := h.filter(c)
	if !ok {
		return
	}
	limit, ok := h.limit(c, defaultMapLimit)
	if !ok {
		return
	}

	key := cache.Key("map_points", state.Generation, f, limit)
	points, err := cache.Load(c.Request.Context(), h.memo, key, func(ctx context.Context) ([]models.MapPoint, error) {
		return h.store.MapPoints(ctx, f, limit)
	})
	if err != nil {
		h.fail(c, err, "Failed to get map points")
		return
	}

	c.JSON(http.StatusOK, points)
}

type StatusResponse struct {
	*pipeline.State
	AreaNames []string `json:"area_names"`
}

// GetStatus reports the loaded generation and the planning areas the
// resolver matches against.
func (h *Handler) GetStatus(c *gin.Context) {
	state := h.state(c)
	if state == nil {
		return
	}

	resp := StatusResponse{State: state, AreaNames: []string{}}
	if r := h.dataset.Resolver(); r != nil {
		resp.AreaNames = r.Names()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Refresh(c *gin.Context) {
	state, err := h.refresher.RunNow(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to refresh dataset")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to refresh dataset"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "Dataset reloaded",
		"state":  state,
	})
}
