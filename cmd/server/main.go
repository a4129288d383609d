package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pravoai/pravo-api/internal/config"
	"github.com/pravoai/pravo-api/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

	log.Info("setting gin mode", slog.String("mode", cfg.GinMode))
	gin.SetMode(cfg.GinMode)

	a, err := newApp(context.Background(), cfg, log)
	if err != nil {
		log.Error("failed to initialize server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("pravo api listening", slog.String("addr", srv.Addr), slog.String("storage", cfg.StorageDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", slog.String("error", err.Error()))
	}

	a.shutdown()
	log.Info("server exited")
}
