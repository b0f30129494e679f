package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"quill/internal/cache"
	"quill/internal/config"
	"quill/internal/middleware"
	"quill/internal/server"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		middleware.Logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg)
	if err != nil {
		middleware.Logger.Error("failed to initialize server", "error", err)
		os.Exit(1)
	}

	app := srv.App()

	go func() {
		middleware.Logger.Info("server starting", "port", cfg.Port, "env", cfg.Env)
		if err := app.Listen(":" + cfg.Port); err != nil {
			middleware.Logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	middleware.Logger.Info("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		middleware.Logger.Error("graceful shutdown failed", "error", err)
	}

	if sqlDB, err := srv.DB().DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			middleware.Logger.Error("failed to close database", "error", err)
		}
	}
	if err := cache.Close(); err != nil {
		middleware.Logger.Error("failed to close redis client", "error", err)
	}
}
