package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maneesh/scatterstore/internal/app"
	"github.com/maneesh/scatterstore/internal/config"
	"github.com/maneesh/scatterstore/internal/handlers"
	"github.com/maneesh/scatterstore/internal/logging"
	"github.com/maneesh/scatterstore/internal/tracing"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", envOr("CONFIG_PATH", "config.yaml"), "path to the YAML config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		logrus.Fatalf("Failed to set up logging: %v", err)
	}
	log.WithFields(logrus.Fields{"service": cfg.Service.Name, "port": cfg.Service.Port}).Info("Starting scatterstore service...")

	// Initialize OpenTelemetry tracing
	shutdownTracer := tracing.ShutdownFunc(tracing.Noop)
	if cfg.Tracing.Enabled {
		shutdownTracer, err = tracing.InitTracer(context.Background(), cfg.Service.Name, cfg.Tracing.JaegerEndpoint, log)
		if err != nil {
			log.Fatalf("Failed to initialize tracer: %v", err)
		}
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Errorf("Error shutting down tracer: %v", err)
		}
	}()

	// Metadata, cache and storage providers
	a, err := app.Build(context.Background(), cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Errorf("Error closing clients: %v", err)
		}
	}()

	srv := &http.Server{
		Addr:         ":" + cfg.Service.Port,
		Handler:      handlers.NewRouter(a.Engine, log),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("Server listening on port %s", cfg.Service.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exited")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
