package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/andresuchdata/dergi/internal/api"
	"github.com/andresuchdata/dergi/internal/app"
	"github.com/andresuchdata/dergi/internal/config"
	"github.com/andresuchdata/dergi/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		logger.Log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Initialize logger
	logger.SetLevel(cfg.LogLevel)
	if cfg.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
		logger.UseJSON()
	}

	ctx := context.Background()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Log.Error().Err(err).Msg("Failed to close stores")
		}
	}()

	if err := a.Migrate(ctx); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to migrate metadata store")
	}

	services := &api.Services{
		Uploads:        a.Uploads,
		Issues:         a.Issues,
		Metrics:        a.Registry,
		MaxUploadBytes: cfg.Pipeline.MaxUploadBytes(),
	}
	if a.Drive != nil {
		services.Drive = a.Drive
		services.Ingest = a.Ingest
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(services, cfg.Server.AllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// Start server in a goroutine
	go func() {
		logger.Log.Info().Str("port", cfg.Server.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info().Msg("Shutting down server...")

	// Uploads can run for minutes; give in-flight requests time to settle.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Log.Info().Msg("Server exiting")
}
