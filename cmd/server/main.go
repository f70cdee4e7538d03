package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/talonhq/linkpilot/internal/api"
	"github.com/talonhq/linkpilot/internal/browser"
	"github.com/talonhq/linkpilot/internal/config"
	"github.com/talonhq/linkpilot/internal/ratelimit"
	"github.com/talonhq/linkpilot/internal/session"
	"github.com/talonhq/linkpilot/internal/storage"
	"github.com/talonhq/linkpilot/internal/transport"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using system environment")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	launcher, cleanup, err := buildLauncher(cfg, logger)
	if err != nil {
		logger.Error("launcher setup failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	store := &storage.LogStore{Logger: logger}

	registry := session.NewRegistry(session.Config{
		LoginURL:            cfg.LoginURL,
		NavigationTimeout:   cfg.NavigationTimeout,
		IdleTimeout:         cfg.IdleTimeout,
		ActionTimeout:       cfg.ActionTimeout,
		ManualActionTimeout: cfg.ManualActionTimeout,
		MaxSessions:         cfg.MaxSessions,
		Page: browser.PageConfig{
			Width:     cfg.ViewportWidth,
			Height:    cfg.ViewportHeight,
			UserAgent: cfg.UserAgent,
		},
	}, launcher, store, logger)

	hub := transport.NewHub(registry, logger)
	limiter := ratelimit.NewLimiter(30, 5)
	handler := api.NewHandler(registry, logger)
	router := handler.SetupRoutes(hub, limiter)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.Addr, "backend", cfg.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}

	// Every session owns a Chrome process; leave none behind.
	registry.CloseAll()

	logger.Info("stopped")
}

func buildLauncher(cfg config.Config, logger *slog.Logger) (browser.Launcher, func(), error) {
	switch cfg.Backend {
	case config.BackendDocker:
		dl, err := browser.NewDockerLauncher(browser.DockerConfig{
			Image:          cfg.DockerImage,
			ViewportWidth:  cfg.ViewportWidth,
			ViewportHeight: cfg.ViewportHeight,
			Logger:         logger,
		})
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := dl.EnsureImage(ctx); err != nil {
			dl.Close()
			return nil, nil, err
		}
		return dl, func() { dl.Close() }, nil
	default:
		l := browser.NewLocalLauncher(browser.LocalConfig{
			ChromePath:     cfg.ChromePath,
			Headless:       cfg.Headless,
			ViewportWidth:  cfg.ViewportWidth,
			ViewportHeight: cfg.ViewportHeight,
			Logger:         logger,
		})
		return l, func() {}, nil
	}
}
