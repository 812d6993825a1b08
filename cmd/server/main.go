// Pal - personal assistant server
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/pal/internal/api"
	"github.com/ashureev/pal/internal/app"
	"github.com/ashureev/pal/internal/config"
	"github.com/ashureev/pal/internal/identity"
	"github.com/ashureev/pal/internal/middleware"
	"github.com/ashureev/pal/internal/reminder"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize assistant", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	slog.Info("Database connected")

	limiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer limiter.Close()

	hub := api.NewSessionHub(a.Orchestrator, a.Repo,
		api.WithOriginCheck(cfg.FrontendURL, cfg.IsDevelopment()),
		api.WithChatLimit(limiter.Allow),
	)

	baseHandler := api.NewHandler(a.Orchestrator, a.Repo, hub, limiter)
	healthHandler := api.NewHealthHandler(a.Repo, a.Generator.Providers())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(a.Repo, cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	baseHandler.RegisterRoutes(r)

	// WebSocket sessions need no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Reminder.Enabled {
		worker := reminder.NewWorker(a.Repo, reminder.Config{
			Interval:          cfg.Reminder.Interval,
			NotifiedRetention: cfg.Reminder.NotifiedRetention,
			PendingTaskMaxAge: cfg.Reminder.PendingTaskMaxAge,
		}, hub.NotifyReminder, logger,
			reminder.WithHistoryPruner(a.History, cfg.Assistant.HistoryIdleTTL),
		)
		worker.Start(ctx)
		slog.Info("Reminder worker started", "interval", cfg.Reminder.Interval)
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown does not track hijacked connections.
	if n := hub.CloseAll(); n > 0 {
		slog.Info("Closed WebSocket sessions", "count", n)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
