package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"hdbresale/server/config"
	"hdbresale/server/internal/api"
	"hdbresale/server/internal/cache"
	"hdbresale/server/internal/database"
	"hdbresale/server/internal/pipeline"
	"hdbresale/server/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load config")
	}
	gin.SetMode(gin.ReleaseMode)

	// Working table
	db, err := database.NewDatabase(cfg.Database.DSN, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	memo := cache.New(cfg.CacheTTL())
	memo.Start()
	defer memo.Stop()

	p, err := pipeline.FromConfig(cfg, db, memo, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize pipeline")
	}
	defer p.Close()

	// Initial load runs in the background; early requests wait on the same load.
	sched := scheduler.NewScheduler(p, cfg.RefreshInterval(), logger)
	sched.Start()
	defer sched.Stop()

	handler := api.NewHandler(db, p, sched, memo, config.DefaultDashboard, logger)
	router := api.NewRouter(handler, cfg.Server.CORSOrigins, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Infof("Starting server on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
}
