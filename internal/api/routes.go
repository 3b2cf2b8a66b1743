package api

import (
	"slices"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// NewRouter builds the gin engine with middleware, the dashboard page, the
// JSON API and /metrics.
func NewRouter(handler *Handler, corsOrigins []string, logger *logrus.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(logger))
	router.Use(cors.New(corsConfig(corsOrigins)))

	SetupRoutes(router, handler)
	return router
}

func SetupRoutes(router *gin.Engine, handler *Handler) {
	router.GET("/", handler.GetDashboard)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/options", handler.GetOptions)
		api.GET("/transactions", handler.GetTransactions)
		api.GET("/pivot", handler.GetPivot)
		api.GET("/timeseries", handler.GetTimeSeries)
		api.GET("/chart", handler.GetChart)
		api.GET("/stats", handler.GetStats)
		api.GET("/planning-areas", handler.GetPlanningAreas)
		api.GET("/map", handler.GetMapPoints)
		api.GET("/status", handler.GetStatus)
		api.POST("/refresh", handler.Refresh)
	}
}
