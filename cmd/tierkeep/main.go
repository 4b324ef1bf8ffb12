package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/tierkeep/tierkeep/cache"
	"github.com/tierkeep/tierkeep/config"
	"github.com/tierkeep/tierkeep/monitoring"
	"github.com/tierkeep/tierkeep/utils"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	flag.Parse()

	logger := utils.Must(zap.NewProduction()).Sugar()
	defer logger.Sync()

	cfg, err := config.LoadConfig(*configPath, logger)
	if err != nil {
		logger.Fatalw("Failed to load configuration", "error", err)
	}

	manager, err := cache.NewCacheManager(cfg.ToManagerConfig(), clock.New(), logger)
	if err != nil {
		logger.Fatalw("Failed to build cache manager", "error", err)
	}
	manager.Start()

	registry := prometheus.NewRegistry()
	registry.MustRegister(monitoring.NewCollector(manager, logger))

	router := mux.NewRouter()
	cache.NewAPI(manager, logger).RegisterRoutes(router.PathPrefix("/admin").Subrouter())
	router.Handle("/metrics", monitoring.Handler(registry))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: cors.Default().Handler(router),
	}

	go func() {
		logger.Infow("Admin server listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("Admin server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infow("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorw("Admin server shutdown failed", "error", err)
	}
	manager.Stop()
}
